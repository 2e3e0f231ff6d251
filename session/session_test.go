// SPDX-License-Identifier: ice License 1.0

package session

import (
	"bytes"
	"context"
	"net"
	"testing"
	stdlibtime "time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/wsgate/extensions"
	"github.com/ice-blockchain/wsgate/handshake"
	wstesting "github.com/ice-blockchain/wsgate/testing"
)

const testDeadline = 5 * stdlibtime.Second

func sampleResult() *handshake.Result {
	return &handshake.Result{
		Request: &handshake.Request{
			Method: "GET",
			Path:   "/chat",
			Host:   "localhost",
			Key:    "dGhlIHNhbXBsZSBub25jZQ==",
		},
		Protocol:   "chat",
		Extensions: []extensions.Option{{Name: "x-trace"}},
	}
}

func deflateResult() *handshake.Result {
	result := sampleResult()
	result.Extensions = []extensions.Option{{Name: "permessage-deflate", Params: []extensions.Param{
		{Name: "server_no_context_takeover"},
		{Name: "client_no_context_takeover"},
	}}}

	return result
}

func newPipeSession(t *testing.T, result *handshake.Result, keepAlive stdlibtime.Duration, opts ...Option) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	require.NoError(t, client.SetDeadline(stdlibtime.Now().Add(testDeadline)))
	s := New(server, result, keepAlive, opts...)
	t.Cleanup(func() {
		_ = client.Close() //nolint:errcheck // .
		_ = s.Close()      //nolint:errcheck // .
	})

	return s, client
}

func TestSessionMetadata(t *testing.T) {
	t.Parallel()
	s, _ := newPipeSession(t, sampleResult(), 30*stdlibtime.Second)
	assert.NotEqual(t, uuid.Nil, s.ID())
	assert.Equal(t, "/chat", s.Request().Path)
	assert.Equal(t, "chat", s.Protocol())
	assert.Equal(t, []string{"x-trace"}, s.Extensions())
	assert.Equal(t, 30*stdlibtime.Second, s.KeepAliveInterval())
	assert.Equal(t, "pipe", s.RemoteAddr().String())
	assert.WithinDuration(t, stdlibtime.Now(), *s.ConnectedAt().Time, testDeadline)
	require.NoError(t, s.Context().Err())
	assert.False(t, s.Closed())

	decoded := *wstesting.MustUnmarshal[map[string]any](t, wstesting.MustMarshal(t, s))
	assert.Equal(t, s.ID().String(), decoded["id"])
	assert.Equal(t, "pipe", decoded["remoteAddr"])
	assert.Equal(t, "chat", decoded["handshake"].(map[string]any)["protocol"]) //nolint:forcetypeassert // Test.
	assert.NotEmpty(t, decoded["connectedAt"])
}

func TestSessionNilResult(t *testing.T) {
	t.Parallel()
	s, _ := newPipeSession(t, nil, 0)
	assert.NotNil(t, s.Request())
	assert.Empty(t, s.Protocol())
	assert.Empty(t, s.Extensions())
}

func TestSessionEcho(t *testing.T) {
	t.Parallel()
	s, client := newPipeSession(t, sampleResult(), 0, WithReadTimeout(testDeadline), WithWriteTimeout(testDeadline))
	replies := make(chan []byte, 1)
	go func() {
		if err := wsutil.WriteClientMessage(client, ws.OpText, []byte("hello")); err != nil {
			replies <- nil

			return
		}
		reply, _, _ := wsutil.ReadServerData(client) //nolint:errcheck // Asserted through the payload.
		replies <- reply
	}()
	op, msg, err := s.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, int(ws.OpText), op)
	assert.Equal(t, []byte("hello"), msg)
	require.NoError(t, s.WriteMessage(int(ws.OpText), []byte("server reply:hello")))
	assert.Equal(t, []byte("server reply:hello"), <-replies)
}

func TestSessionDeflate(t *testing.T) {
	t.Parallel()
	s, client := newPipeSession(t, deflateResult(), 0)
	replies := make(chan ws.Frame, 1)
	go func() {
		defer close(replies)
		compressed, err := wsflate.CompressFrame(ws.NewTextFrame([]byte("compressed hello")))
		if err != nil {
			return
		}
		for _, frame := range []ws.Frame{ws.MaskFrameInPlace(compressed), ws.MaskFrameInPlace(ws.NewTextFrame([]byte("plain hello")))} {
			if err = ws.WriteFrame(client, frame); err != nil {
				return
			}
		}
		reply, err := ws.ReadFrame(client)
		if err != nil {
			return
		}
		replies <- reply
	}()
	for _, expected := range []string{"compressed hello", "plain hello"} {
		op, msg, err := s.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, int(ws.OpText), op)
		assert.Equal(t, expected, string(msg))
	}
	require.NoError(t, s.WriteMessage(int(ws.OpText), []byte("server reply")))
	reply, ok := <-replies
	require.True(t, ok)
	compressed, err := wsflate.IsCompressed(reply.Header)
	require.NoError(t, err)
	assert.True(t, compressed)
	inflated, err := wsflate.DecompressFrame(reply)
	require.NoError(t, err)
	assert.Equal(t, "server reply", string(inflated.Payload))
}

func TestSessionDeflateRejectsCompressedControlFrames(t *testing.T) {
	t.Parallel()
	s, client := newPipeSession(t, deflateResult(), 0)
	go func() {
		ping := ws.NewPingFrame([]byte("p"))
		ping.Header.Rsv = ws.Rsv(true, false, false)
		_ = ws.WriteFrame(client, ws.MaskFrameInPlace(ping)) //nolint:errcheck // Asserted on the server side.
	}()
	_, _, err := s.ReadMessage()
	require.ErrorIs(t, err, wsflate.ErrUnexpectedCompressionBit)
}

func TestSessionReplaysBufferedBytes(t *testing.T) {
	t.Parallel()
	var early bytes.Buffer
	require.NoError(t, wsutil.WriteClientMessage(&early, ws.OpBinary, []byte{1, 2, 3}))
	result := sampleResult()
	result.Buffered = early.Bytes()
	s, _ := newPipeSession(t, result, 0)
	op, msg, err := s.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, int(ws.OpBinary), op)
	assert.Equal(t, []byte{1, 2, 3}, msg)
}

func TestSessionAnswersPing(t *testing.T) {
	t.Parallel()
	s, client := newPipeSession(t, sampleResult(), 0)
	pong := make(chan ws.OpCode, 1)
	go func() {
		defer close(pong)
		if err := wsutil.WriteClientMessage(client, ws.OpPing, []byte("p")); err != nil {
			return
		}
		frame, err := ws.ReadFrame(client)
		if err != nil {
			return
		}
		pong <- frame.Header.OpCode
		_ = wsutil.WriteClientMessage(client, ws.OpText, []byte("after ping")) //nolint:errcheck // Asserted on the server side.
	}()
	_, msg, err := s.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("after ping"), msg)
	assert.Equal(t, ws.OpPong, <-pong)
}

func TestSessionKeepAlive(t *testing.T) {
	t.Parallel()
	s, client := newPipeSession(t, sampleResult(), 20*stdlibtime.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.KeepAlive(ctx)
	}()
	frame, err := ws.ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, ws.OpPing, frame.Header.OpCode)
	cancel()
	require.NoError(t, client.Close())
	select {
	case <-done:
	case <-stdlibtime.After(testDeadline):
		t.Fatal("keep-alive did not stop")
	}
}

func TestSessionKeepAliveDisabled(t *testing.T) {
	t.Parallel()
	s, _ := newPipeSession(t, sampleResult(), 0)
	s.KeepAlive(context.Background())
}

func TestSessionClose(t *testing.T) {
	t.Parallel()
	s, client := newPipeSession(t, sampleResult(), 0)
	closeFrame := make(chan ws.Frame, 1)
	go func() {
		frame, err := ws.ReadFrame(client)
		if err == nil {
			closeFrame <- frame
		}
		close(closeFrame)
	}()
	require.NoError(t, s.Close())
	frame := <-closeFrame
	assert.Equal(t, ws.OpClose, frame.Header.OpCode)
	assert.True(t, s.Closed())
	require.ErrorIs(t, s.Context().Err(), context.Canceled)
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.WriteMessage(int(ws.OpText), []byte("late")), ErrClosed)
	_, _, err := s.ReadMessage()
	require.ErrorIs(t, err, ErrClosed)
}

func TestSessionBaseContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := newPipeSession(t, sampleResult(), 0, WithBaseContext(ctx))
	cancel()
	require.ErrorIs(t, s.Context().Err(), context.Canceled)
}
