// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ice-blockchain/wsgate/wsserver"
)

type (
	MockService struct {
		server         wsserver.Server
		processingFunc func(writer wsserver.WSWriter, in string) error
		stopped        chan struct{}
		ReaderExited   atomic.Uint64
		closed         bool
		closedMx       sync.Mutex
	}
	Client interface {
		Received
		wsserver.WSWriter
		Protocol() string
	}
	Received interface {
		Received() <-chan []byte
	}
)

const (
	applicationYamlKey = "self"
)

type (
	wsocketClient struct {
		conn          net.Conn
		reader        io.Reader
		closeChannel  chan struct{}
		inputMessages chan []byte
		protocol      string
		writeMx       sync.Mutex
		closeMx       sync.Mutex
		closed        bool
	}
	clientStream struct {
		io.Reader
		c *wsocketClient
	}
)
