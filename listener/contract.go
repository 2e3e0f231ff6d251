// SPDX-License-Identifier: ice License 1.0

// Package listener owns a bound TCP endpoint and turns accepted transports into negotiated WebSocket sessions.
package listener

import (
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	stdlibtime "time"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/wsgate/extensions"
	"github.com/ice-blockchain/wsgate/handshake"
	"github.com/ice-blockchain/wsgate/session"
)

// Public API.

type (
	State int32
	// Listener binds its endpoint on Start and yields one Session per AcceptSession call.
	// AcceptSession must not be called concurrently; every other method is safe for concurrent use.
	Listener struct {
		core    *core
		cleanup runtime.Cleanup
	}
	Option func(*core)
	// BindError is returned by Start when the endpoint could not be bound.
	BindError struct {
		Err      error
		Endpoint string
	}
)

const (
	NotStarted State = iota
	Started
	Stopped
	Disposed
)

const (
	DefaultAcceptTimeout = 5 * stdlibtime.Second
)

var (
	ErrBind           = errors.New("failed to bind endpoint")
	ErrNotStarted     = errors.New("listener not started")
	ErrAlreadyStarted = errors.New("listener already started")
	ErrStopped        = errors.New("listener stopped")
	ErrDisposed       = errors.New("listener disposed")
)

// Private API.

type (
	core struct {
		socket         net.Listener
		registry       *extensions.Registry
		negotiator     *handshake.Negotiator
		listen         func(network, address string) (net.Listener, error)
		requests       chan struct{}
		accepted       chan accepted
		done           chan struct{}
		endpoint       string
		sessionOpts    []session.Option
		wg             sync.WaitGroup
		keepAlive      stdlibtime.Duration
		acceptTimeout  stdlibtime.Duration
		maxConnections int
		mx             sync.Mutex
		state          atomic.Int32
		// Owned by the single AcceptSession caller: an accept was requested and its result not yet consumed.
		pending bool
	}
	accepted struct {
		conn net.Conn
		err  error
	}
)

const (
	network             = "tcp"
	minAcceptRetryDelay = 5 * stdlibtime.Millisecond
	maxAcceptRetryDelay = stdlibtime.Second
)
