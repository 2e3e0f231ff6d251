// SPDX-License-Identifier: ice License 1.0

// Package session binds a negotiated WebSocket transport to its handshake metadata and keep-alive interval.
package session

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	stdlibtime "time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ice-blockchain/wsgate/handshake"
	"github.com/ice-blockchain/wsgate/time"
)

// Public API.

type (
	// Session owns a successfully negotiated transport until Close.
	// ReadMessage must be called from a single goroutine; WriteMessage is safe for concurrent use.
	Session struct {
		conn         net.Conn
		reader       io.Reader
		ctx          context.Context //nolint:containedctx // Session scoped, cancelled by Close.
		cancel       context.CancelFunc
		result       *handshake.Result
		connectedAt  *time.Time
		keepAlive    stdlibtime.Duration
		readTimeout  stdlibtime.Duration
		writeTimeout stdlibtime.Duration
		writeMx      sync.Mutex
		id           uuid.UUID
		closed       atomic.Bool
		// permessage-deflate was negotiated.
		deflate bool
	}
	Option func(*Session)
)

var ErrClosed = errors.New("session closed")

// Private API.

type (
	// Frames are read from the replayed stream, control frame replies go through the write lock.
	stream struct {
		io.Reader
		s *Session
	}
	snapshot struct {
		ConnectedAt *time.Time          `json:"connectedAt"`
		Result      *handshake.Result   `json:"handshake"`
		ID          string              `json:"id"`
		RemoteAddr  string              `json:"remoteAddr"`
		KeepAlive   stdlibtime.Duration `json:"keepAlive"`
	}
)
