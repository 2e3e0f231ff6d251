// SPDX-License-Identifier: ice License 1.0

package wsserver_test

import (
	"context"
	"net"
	"sync"
	"testing"
	stdlibtime "time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ice-blockchain/wsgate/wsserver"
	"github.com/ice-blockchain/wsgate/wsserver/fixture"
	"github.com/ice-blockchain/wsgate/wsserver/internal"
)

const (
	connCount    = 20
	msgCount     = 25
	testDeadline = 30 * stdlibtime.Second
)

type (
	idleService struct {
		closed chan struct{}
	}
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

//nolint:funlen // .
func TestSimpleEcho(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()
	var handlersMx sync.Mutex
	handlers := make(map[wsserver.WSWriter]struct{}, connCount)
	echoFunc := func(w wsserver.WSWriter, in string) error {
		handlersMx.Lock()
		handlers[w] = struct{}{}
		handlersMx.Unlock()

		return w.WriteMessage(int(ws.OpText), []byte("server reply:"+in))
	}
	srv := fixture.NewTestServer(ctx, cancel, echoFunc)
	addr, err := srv.WaitForAddr(ctx)
	require.NoError(t, err)
	clients := make([]fixture.Client, 0, connCount)
	for range connCount {
		clientConn, cErr := fixture.NewWebsocketClient(ctx, "ws://"+addr.String()+"/", "echo", "chat")
		require.NoError(t, cErr)
		assert.Equal(t, "chat", clientConn.Protocol())
		clients = append(clients, clientConn)
	}
	var wg sync.WaitGroup
	for _, clientConn := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer clientConn.Close()
			sendMsgsTransformed := make([]string, 0, msgCount)
			for range msgCount {
				msg := uuid.NewString()
				sendMsgsTransformed = append(sendMsgsTransformed, "server reply:"+msg)
				assert.NoError(t, clientConn.WriteMessage(int(ws.OpText), []byte(msg)))
			}
			receivedBackOnClient := make([]string, 0, msgCount)
			for len(receivedBackOnClient) < msgCount {
				select {
				case received, ok := <-clientConn.Received():
					if !ok {
						assert.Fail(t, "connection closed before every reply arrived")

						return
					}
					receivedBackOnClient = append(receivedBackOnClient, string(received))
				case <-ctx.Done():
					assert.Fail(t, "timed out waiting for replies")

					return
				}
			}
			assert.Equal(t, sendMsgsTransformed, receivedBackOnClient)
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool {
		return srv.ReaderExited.Load() == uint64(connCount)
	}, testDeadline, 10*stdlibtime.Millisecond)
	handlersMx.Lock()
	require.Len(t, handlers, connCount)
	for w := range handlers {
		adapter, ok := w.(*internal.WebsocketAdapter)
		require.True(t, ok)
		assert.Equal(t, "chat", adapter.Session().Protocol())
		require.Eventually(t, adapter.Closed, testDeadline, 10*stdlibtime.Millisecond)
	}
	handlersMx.Unlock()
	cancel()
	<-srv.Stopped()
	assert.True(t, srv.Closed())
}

func TestShutdownClosesOpenSessions(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()
	srv := fixture.NewTestServer(ctx, cancel, func(w wsserver.WSWriter, in string) error {
		return w.WriteMessage(int(ws.OpText), []byte(in))
	})
	addr, err := srv.WaitForAddr(ctx)
	require.NoError(t, err)
	clientConn, err := fixture.NewWebsocketClient(ctx, "ws://"+addr.String()+"/")
	require.NoError(t, err)
	defer clientConn.Close()
	require.NoError(t, clientConn.WriteMessage(int(ws.OpText), []byte("ping")))
	assert.Equal(t, []byte("ping"), <-clientConn.Received())
	assert.Empty(t, clientConn.Protocol())

	cancel()
	<-srv.Stopped()
	assert.Equal(t, uint64(1), srv.ReaderExited.Load())
	_, open := <-clientConn.Received()
	assert.False(t, open)
}

func TestListenAndServeGivesUpOnOccupiedEndpoint(t *testing.T) {
	t.Parallel()
	occupying, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupying.Close()
	var cfg wsserver.Config
	cfg.WSServer.Endpoint = occupying.Addr().String()
	cfg.WSServer.BindRetryTimeout = 300 * stdlibtime.Millisecond
	service := &idleService{closed: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()
	started := stdlibtime.Now()
	wsserver.NewWithConfig(service, &cfg).ListenAndServe(ctx, cancel)
	assert.Less(t, stdlibtime.Since(started), testDeadline)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	select {
	case <-service.closed:
	default:
		t.Fatal("service was not closed")
	}
}

func (*idleService) Init(context.Context, context.CancelFunc) {}

func (*idleService) Read(context.Context, wsserver.WS) {}

func (s *idleService) Close(context.Context) error {
	close(s.closed)

	return nil
}
