// SPDX-License-Identifier: ice License 1.0
//go:build !stdlog

package log

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerFiltersAndRendersFields(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	lgr, err := newLogger(&out, &cfg{Encoder: "JSON", Level: "Info"})
	require.NoError(t, err)
	lgr.Debug().Msg("dropped")
	emit(lgr.Info(), []any{"remoteAddr", "127.0.0.1:5000", "field", "Upgrade"}, "websocket negotiation failed")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "websocket negotiation failed", entry["message"])
	assert.Equal(t, "127.0.0.1:5000", entry["remoteAddr"])
	assert.Equal(t, "Upgrade", entry["field"])

	_, err = newLogger(&out, &cfg{Level: "loud"})
	require.Error(t, err)
}

func TestNewLoggerCapsDebugBursts(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	lgr, err := newLogger(&out, &cfg{Encoder: jsonEnc, Level: "debug", DebugBurst: 3})
	require.NoError(t, err)
	for range 10 {
		lgr.Debug().Msg("rejected")
	}
	lgr.Info().Msg("kept")
	lgr.Warn().Msg("kept")
	assert.Equal(t, 3, strings.Count(out.String(), `"rejected"`))
	assert.Equal(t, 2, strings.Count(out.String(), `"kept"`))
}

func TestAsError(t *testing.T) {
	t.Parallel()
	errSample := errors.New("sample")
	require.ErrorIs(t, asError(errSample), errSample)
	require.EqualError(t, asError("boom"), "boom")
	require.EqualError(t, asError(42), "42")
	assert.Nil(t, errorStackMarshaller(io.EOF))
}
