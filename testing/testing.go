// SPDX-License-Identifier: ice License 1.0

// Package testing holds helpers shared by the test suites of this module.
package testing

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

const (
	SampleKey    = "dGhlIHNhbXBsZSBub25jZQ=="
	SampleAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	// RequestLine is the override key replacing `GET /chat?room=1 HTTP/1.1`.
	RequestLine = "request-line"
)

//nolint:gochecknoglobals // Fixed order of the default headers.
var defaultHeaders = [][2]string{
	{"Host", "server.example.com"},
	{"Upgrade", "websocket"},
	{"Connection", "Upgrade"},
	{"Sec-WebSocket-Key", SampleKey},
	{"Sec-WebSocket-Version", "13"},
}

// UpgradeRequest renders a valid client upgrade request head.
// Overrides replace default headers (an empty value drops the header) or add new ones, in name order.
func UpgradeRequest(overrides map[string]string) string {
	var sb strings.Builder
	requestLine := "GET /chat?room=1 HTTP/1.1"
	if rl, ok := overrides[RequestLine]; ok {
		requestLine = rl
	}
	sb.WriteString(requestLine + "\r\n")
	for _, header := range defaultHeaders {
		value := header[1]
		if v, ok := overrides[header[0]]; ok {
			value = v
		}
		if value != "" {
			sb.WriteString(header[0] + ": " + value + "\r\n")
		}
	}
	extra := make([]string, 0, len(overrides))
	for name := range overrides {
		if name == RequestLine || slices.ContainsFunc(defaultHeaders, func(h [2]string) bool { return h[0] == name }) {
			continue
		}
		extra = append(extra, name)
	}
	slices.Sort(extra)
	for _, name := range extra {
		sb.WriteString(name + ": " + overrides[name] + "\r\n")
	}
	sb.WriteString("\r\n")

	return sb.String()
}

func MustMarshal(tb testing.TB, val any) string {
	tb.Helper()
	valueBytes, err := json.MarshalContext(context.Background(), val)
	require.NoError(tb, err)

	return string(valueBytes)
}

func MustUnmarshal[T any](tb testing.TB, val string) *T {
	tb.Helper()
	tt := new(T)
	require.NoError(tb, json.UnmarshalContext(context.Background(), []byte(val), tt))

	return tt
}
