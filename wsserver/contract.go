// SPDX-License-Identifier: ice License 1.0

// Package wsserver runs a listener and hands every negotiated session to a Service until shutdown.
package wsserver

import (
	"context"
	"net"
	"os"
	"sync"
	stdlibtime "time"

	"github.com/ice-blockchain/wsgate/listener"
	"github.com/ice-blockchain/wsgate/wsserver/internal"
)

type (
	Server interface {
		// ListenAndServe starts everything and blocks until ctx is done or the process is signalled.
		ListenAndServe(ctx context.Context, cancel context.CancelFunc)
		// Addr is the bound address, nil until the listener is started.
		Addr() net.Addr
	}

	Service interface {
		internal.WSHandler
		Init(ctx context.Context, cancel context.CancelFunc)
		Close(ctx context.Context) error
	}
	WSReader = internal.WSReader
	WSWriter = internal.WSWriter
	WS       = internal.WS
	Config   = internal.Config
)

type (
	srv struct {
		listener   *listener.Listener
		cfg        *internal.Config
		quit       chan os.Signal
		service    Service
		sockets    sync.Map
		acceptDone chan struct{}
		handlers   sync.WaitGroup
	}
)

const (
	shutdownTimeout         = 30 * stdlibtime.Second
	defaultBindRetryTimeout = 5 * stdlibtime.Second
)
