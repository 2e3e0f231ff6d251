// SPDX-License-Identifier: ice License 1.0

package internal

import (
	"context"
	"io"
	"time"

	"github.com/ice-blockchain/wsgate/session"
)

type (
	WSReader interface {
		ReadMessage() (messageType int, p []byte, err error)
		io.Closer
	}
	WSWriter interface {
		WriteMessage(messageType int, data []byte) error
		io.Closer
	}
	WS interface {
		WSWriter
		WSReader
	}
	WSWithWriter interface {
		WS
		Write(ctx context.Context)
	}
	WSHandler interface {
		Read(ctx context.Context, ws WS)
	}

	Config struct {
		WSServer struct {
			Endpoint         string        `yaml:"endpoint"`
			Extensions       []string      `yaml:"extensions"`
			Protocols        []string      `yaml:"protocols"`
			KeepAlive        time.Duration `yaml:"keepAlive"`
			AcceptTimeout    time.Duration `yaml:"acceptTimeout"`
			HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
			WriteTimeout     time.Duration `yaml:"writeTimeout"`
			ReadTimeout      time.Duration `yaml:"readTimeout"`
			BindRetryTimeout time.Duration `yaml:"bindRetryTimeout"`
			MaxConnections   int           `yaml:"maxConnections"`
		} `yaml:"wsServer"`
		Development bool `yaml:"development"`
	}
)

type (
	WebsocketAdapter struct {
		session *session.Session
		out     chan wsWrite
	}
	wsWrite struct {
		data   []byte
		opCode int
	}
)
