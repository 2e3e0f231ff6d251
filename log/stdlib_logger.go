// SPDX-License-Identifier: ice License 1.0
//go:build stdlog

package log

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/wsgate/config"
)

const (
	debug = "debug"
	info  = "info"
	warn  = "warn"
)

// .
var (
	//nolint:gochecknoglobals // Immutable singleton.
	appCfg cfg
)

//nolint:gochecknoinits // log is global, so it's initialization can be done in init
func init() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix | log.LUTC | log.Lshortfile | log.Lmicroseconds)
	config.MustLoadFromKey(configKey, &appCfg)
}

func enabled(levels ...string) bool {
	lvl := strings.ToLower(appCfg.Level)
	for _, l := range levels {
		if l == lvl {
			return true
		}
	}

	return false
}

func printf(prefix, msg string, fields ...any) {
	vars := make([]string, 0, len(fields)+1)
	for range len(fields) + 1 {
		vars = append(vars, "%v")
	}
	vals := make([]any, 0, len(fields)+1)
	vals = append(vals, msg)
	vals = append(vals, fields...)

	_ = log.Output(3, fmt.Sprintf(prefix+":"+strings.Join(vars, " "), vals...)) //nolint:errcheck,mnd // Nowhere to report it.
}

func Error(err error, fields ...any) {
	if err == nil {
		return
	}
	printf("ERROR", err.Error(), fields...)
}

func Debug(msg string, fields ...any) {
	if !enabled(debug) {
		return
	}
	printf("DEBUG", msg, fields...)
}

func Info(msg string, fields ...any) {
	if !enabled(debug, info) {
		return
	}
	printf("INFO", msg, fields...)
}

func Warn(msg string, fields ...any) {
	if !enabled(debug, info, warn) {
		return
	}
	printf("WARN", msg, fields...)
}

func Fatal(anything any, fields ...any) {
	if anything == nil {
		return
	}
	defer os.Exit(1)
	Error(toError(anything), fields...)
}

func Panic(anything any, fields ...any) {
	if anything == nil {
		return
	}
	defer func() {
		panic(anything)
	}()
	Error(toError(anything), fields...)
}

func toError(anything any) error {
	switch obj := anything.(type) {
	case error:
		return obj
	case string:
		return errors.New(obj)
	default:
		return errors.Errorf("%#v", obj)
	}
}

func Level() string {
	return appCfg.Level
}
