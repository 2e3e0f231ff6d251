// SPDX-License-Identifier: ice License 1.0

package internal

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/wsgate/log"
	"github.com/ice-blockchain/wsgate/session"
)

// NewWebSocketAdapter queues writes for a single writer goroutine (Write) in front of the session.
// The returned context is done once the session is closed.
func NewWebSocketAdapter(sess *session.Session) (WSWithWriter, context.Context) {
	w := &WebsocketAdapter{
		session: sess,
		out:     make(chan wsWrite),
	}

	return w, sess.Context()
}

func (w *WebsocketAdapter) WriteMessage(messageType int, data []byte) error {
	select {
	case <-w.session.Context().Done():
		return session.ErrClosed
	case w.out <- wsWrite{opCode: messageType, data: data}:
		return nil
	}
}

func (w *WebsocketAdapter) Write(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.out:
			if err := w.session.WriteMessage(msg.opCode, msg.data); err != nil && !w.session.Closed() {
				log.Error(errors.Wrapf(err, "failed to send message to websocket %v", w.session.ID()))
			}
		}
	}
}

func (w *WebsocketAdapter) ReadMessage() (messageType int, p []byte, err error) {
	return w.session.ReadMessage() //nolint:wrapcheck // Proxy.
}

func (w *WebsocketAdapter) Session() *session.Session {
	return w.session
}

func (w *WebsocketAdapter) Closed() bool {
	return w.session.Closed()
}

func (w *WebsocketAdapter) Close() error {
	return errors.Wrapf(w.session.Close(), "failed to close websocket %v", w.session.ID())
}
