// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"context"
	"net"
	stdlibtime "time"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/wsgate/wsserver"
)

func NewTestServer(ctx context.Context, cancel context.CancelFunc, processingFunc func(w wsserver.WSWriter, in string) error) *MockService {
	service := newMockService(processingFunc)
	service.server = wsserver.New(service, applicationYamlKey)
	go func() {
		defer close(service.stopped)
		service.server.ListenAndServe(ctx, cancel)
	}()

	return service
}

func newMockService(processingFunc func(w wsserver.WSWriter, in string) error) *MockService {
	return &MockService{processingFunc: processingFunc, stopped: make(chan struct{})}
}

// WaitForAddr blocks until the server is bound.
func (m *MockService) WaitForAddr(ctx context.Context) (net.Addr, error) {
	ticker := stdlibtime.NewTicker(10 * stdlibtime.Millisecond) //nolint:mnd,gomnd // .
	defer ticker.Stop()
	for {
		if addr := m.server.Addr(); addr != nil {
			return addr, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "server did not start listening")
		case <-m.stopped:
			return nil, errors.New("server stopped before listening")
		case <-ticker.C:
		}
	}
}

// Stopped is closed once ListenAndServe has returned.
func (m *MockService) Stopped() <-chan struct{} {
	return m.stopped
}

func (m *MockService) Closed() bool {
	m.closedMx.Lock()
	defer m.closedMx.Unlock()

	return m.closed
}

func (m *MockService) Read(ctx context.Context, w wsserver.WS) {
	defer func() {
		m.ReaderExited.Add(1)
	}()
	for ctx.Err() == nil {
		_, msg, err := w.ReadMessage()
		if err != nil {
			break
		}
		if len(msg) > 0 {
			if pErr := m.processingFunc(w, string(msg)); pErr != nil {
				break
			}
		}
	}
}

func (*MockService) Init(context.Context, context.CancelFunc) {}

func (m *MockService) Close(context.Context) error {
	m.closedMx.Lock()
	defer m.closedMx.Unlock()
	m.closed = true

	return nil
}
