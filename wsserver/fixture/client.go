// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"context"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

func NewWebsocketClient(ctx context.Context, url string, protocols ...string) (Client, error) {
	dialer := ws.Dialer{Protocols: protocols}
	conn, br, hs, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to establish websocket conn to %v", url)
	}
	c := &wsocketClient{
		conn:          conn,
		reader:        conn,
		closeChannel:  make(chan struct{}),
		inputMessages: make(chan []byte),
		protocol:      hs.Protocol,
	}
	if br != nil {
		c.reader = io.MultiReader(br, conn)
	}
	go c.read()

	return c, nil
}

func (c *wsocketClient) read() {
	defer close(c.inputMessages)
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		if len(msg) > 0 {
			select {
			case <-c.closeChannel:
				return
			case c.inputMessages <- msg:
			}
		}
	}
}

func (c *wsocketClient) Received() <-chan []byte {
	return c.inputMessages
}

func (c *wsocketClient) Protocol() string {
	return c.protocol
}

func (c *wsocketClient) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closeChannel:
		return nil
	default:
		c.writeMx.Lock()
		wErr := wsutil.WriteClientMessage(c.conn, ws.OpCode(messageType), data)
		c.writeMx.Unlock()
		if isConnClosedErr(wErr) {
			wErr = nil
		}

		return errors.Wrapf(wErr, "client: failed to write data to websocket")
	}
}

func (c *wsocketClient) ReadMessage() (messageType int, p []byte, err error) {
	msgBytes, typ, err := wsutil.ReadServerData(&clientStream{Reader: c.reader, c: c})

	return int(typ), msgBytes, err //nolint:wrapcheck // Proxy.
}

func (c *wsocketClient) Close() error {
	c.closeMx.Lock()
	if c.closed {
		c.closeMx.Unlock()

		return nil
	}
	c.closed = true
	close(c.closeChannel)
	c.closeMx.Unlock()
	c.writeMx.Lock()
	wErr := wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	c.writeMx.Unlock()
	if isConnClosedErr(wErr) {
		wErr = nil
	}
	err := c.conn.Close()

	return multierror.Append(wErr, err).ErrorOrNil()
}

func (s *clientStream) Write(p []byte) (int, error) {
	s.c.writeMx.Lock()
	defer s.c.writeMx.Unlock()

	return s.c.conn.Write(p) //nolint:wrapcheck // Proxy.
}

func isConnClosedErr(err error) bool {
	return err != nil &&
		(errors.Is(err, syscall.EPIPE) ||
			errors.Is(err, syscall.ECONNRESET) ||
			errors.Is(err, io.ErrClosedPipe) ||
			errors.Is(err, net.ErrClosed) ||
			strings.Contains(err.Error(), "use of closed network connection"))
}
