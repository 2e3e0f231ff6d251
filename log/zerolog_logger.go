// SPDX-License-Identifier: ice License 1.0
//go:build !stdlog

package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"

	"github.com/ice-blockchain/wsgate/config"
)

const (
	stackFramesToSkip = 2
)

// .
var (
	//nolint:gochecknoglobals // we need only one log for the app, hence it is global
	logger *zerolog.Logger
)

//nolint:gochecknoinits // log is global, so it's initialization can be done in init
func init() {
	var appCfg cfg
	config.MustLoadFromKey(configKey, &appCfg)

	zerolog.ErrorStackMarshaler = errorStackMarshaller //nolint:reassign // It is called by an init.
	zerolog.InterfaceMarshalFunc = json.Marshal
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	var err error
	if logger, err = newLogger(output(appCfg.Output), &appCfg); err != nil {
		panic(errors.Wrap(err, "failed to build setup logger"))
	}
	// Packages that use the stdlib logger (viper, net/http) go through an unsampled copy.
	stdLibCfg := appCfg
	stdLibCfg.DebugBurst = 0
	stdLibLogger, err := newLogger(output(appCfg.Output), &stdLibCfg)
	if err != nil {
		panic(errors.Wrap(err, "failed to build setup std lib logger"))
	}
	log.SetFlags(0)
	log.SetOutput(stdLibLogger)
}

func output(name string) io.Writer {
	if strings.EqualFold(name, stdout) {
		return os.Stdout
	}

	return os.Stderr
}

func newLogger(out io.Writer, c *cfg) (*zerolog.Logger, error) {
	if !strings.EqualFold(c.Encoder, jsonEnc) {
		out = &zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339Nano,
			PartsOrder: []string{
				zerolog.LevelFieldName,
				zerolog.TimestampFieldName,
				zerolog.MessageFieldName,
			},
			PartsExclude: []string{
				zerolog.ErrorStackFieldName,
				zerolog.CallerFieldName,
			},
		}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid logger level %q", c.Level)
	}
	lgr := zerolog.New(out).With().Timestamp().Stack().Logger().Level(lvl)
	if c.DebugBurst > 0 {
		lgr = lgr.Sample(zerolog.LevelSampler{DebugSampler: &zerolog.BurstSampler{Burst: c.DebugBurst, Period: time.Second}})
	}

	return &lgr, nil
}

func errorStackMarshaller(err error) any {
	m := pkgerrors.MarshalStack(err)
	if m == nil {
		return nil
	}
	frames, ok := m.([]map[string]string)
	if !ok || len(frames) <= stackFramesToSkip {
		return nil
	}
	stacks := make([]string, 0, len(frames)-stackFramesToSkip)
	for _, frame := range frames[:len(frames)-stackFramesToSkip] {
		stacks = append(stacks, fmt.Sprintf("%s:%s:%s",
			frame[pkgerrors.StackSourceFileName],
			frame[pkgerrors.StackSourceLineName],
			frame[pkgerrors.StackSourceFunctionName]))
	}

	return strings.Join(stacks, "<<")
}

// Fields are key/value pairs, f.i. "remoteAddr", addr.String().
func emit(event *zerolog.Event, fields []any, msg string) {
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(msg)
}

// Fatal and Panic accept an error, a message or anything printable.
func asError(anything any) error {
	switch obj := anything.(type) {
	case error:
		return obj
	case string:
		return errors.New(obj)
	default:
		return errors.Errorf("%#v", obj)
	}
}

func Error(err error, fields ...any) {
	if err == nil {
		return
	}
	emit(logger.Err(err), fields, "")
}

func Debug(msg string, fields ...any) {
	emit(logger.Debug(), fields, msg)
}

func Info(msg string, fields ...any) {
	emit(logger.Info(), fields, msg)
}

func Warn(msg string, fields ...any) {
	emit(logger.Warn(), fields, msg)
}

func Fatal(anything any, fields ...any) {
	if anything == nil {
		return
	}
	emit(logger.Fatal().Err(asError(anything)), fields, "")
}

func Panic(anything any, fields ...any) {
	if anything == nil {
		return
	}
	emit(logger.Panic().Err(asError(anything)), fields, "")
}

func Level() string {
	return logger.GetLevel().String()
}
