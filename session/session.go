// SPDX-License-Identifier: ice License 1.0

package session

import (
	"bytes"
	"context"
	"io"
	"net"
	"slices"
	stdlibtime "time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/ice-blockchain/wsgate/extensions"
	"github.com/ice-blockchain/wsgate/handshake"
	"github.com/ice-blockchain/wsgate/log"
	"github.com/ice-blockchain/wsgate/time"
)

// New wraps a negotiated transport. It never fails and takes ownership of conn:
// the only way to release it afterwards is Close.
func New(conn net.Conn, result *handshake.Result, keepAlive stdlibtime.Duration, opts ...Option) *Session {
	if result == nil {
		result = &handshake.Result{Request: new(handshake.Request)}
	}
	s := &Session{
		conn:        conn,
		reader:      conn,
		result:      result,
		connectedAt: time.Now(),
		keepAlive:   keepAlive,
		id:          uuid.New(),
		ctx:         context.Background(),
	}
	s.deflate = slices.ContainsFunc(result.Extensions, func(opt extensions.Option) bool { return extensions.IsDeflate(opt.Name) })
	if len(result.Buffered) > 0 {
		s.reader = io.MultiReader(bytes.NewReader(result.Buffered), conn)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(s.ctx) //nolint:fatcontext // Derived once, here.

	return s
}

func WithReadTimeout(timeout stdlibtime.Duration) Option {
	return func(s *Session) {
		s.readTimeout = timeout
	}
}

func WithWriteTimeout(timeout stdlibtime.Duration) Option {
	return func(s *Session) {
		s.writeTimeout = timeout
	}
}

// WithBaseContext makes Context() a child of ctx instead of context.Background().
func WithBaseContext(ctx context.Context) Option {
	return func(s *Session) {
		if ctx != nil {
			s.ctx = ctx
		}
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

// Request is the handshake request the session was negotiated with.
func (s *Session) Request() *handshake.Request {
	return s.result.Request
}

func (s *Session) Protocol() string {
	return s.result.Protocol
}

func (s *Session) Extensions() []string {
	names := make([]string, 0, len(s.result.Extensions))
	for _, ext := range s.result.Extensions {
		names = append(names, ext.Name)
	}

	return names
}

func (s *Session) KeepAliveInterval() stdlibtime.Duration {
	return s.keepAlive
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Session) ConnectedAt() *time.Time {
	return s.connectedAt
}

// Context is cancelled once the session is closed.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

// ReadMessage returns the next data message. Pings are answered and close frames acknowledged transparently.
func (s *Session) ReadMessage() (messageType int, p []byte, err error) {
	if s.closed.Load() {
		return 0, nil, ErrClosed
	}
	if s.readTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Deadline(s.readTimeout)) //nolint:errcheck // It is not crucial if we ignore it here.
	}
	var msg []byte
	var op ws.OpCode
	if s.deflate {
		msg, op, err = s.readDeflated()
	} else {
		msg, op, err = wsutil.ReadClientData(&stream{Reader: s.reader, s: s})
	}
	if err != nil {
		return int(op), nil, errors.Wrapf(err, "failed to read message from session %v", s.id)
	}

	return int(op), msg, nil
}

func (s *Session) WriteMessage(messageType int, data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return errors.Wrapf(s.write(ws.OpCode(messageType), data), "failed to write message to session %v", s.id)
}

// KeepAlive pings the client every keep-alive interval until ctx is done or the session closes.
// Non-positive intervals disable it.
func (s *Session) KeepAlive(ctx context.Context) {
	if s.keepAlive <= 0 {
		return
	}
	ticker := stdlibtime.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.write(ws.OpPing, nil); err != nil {
				if !s.closed.Load() {
					log.Error(errors.Wrapf(err, "failed to send ping message to session %v", s.id))
				}

				return
			}
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Close sends a normal closure frame and releases the transport. Only the first call does anything.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	return multierror.Append( //nolint:wrapcheck // .
		s.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, "")),
		s.conn.Close(),
	).ErrorOrNil()
}

func (s *Session) MarshalJSON() ([]byte, error) {
	var remoteAddr string
	if addr := s.RemoteAddr(); addr != nil {
		remoteAddr = addr.String()
	}

	//nolint:wrapcheck // Proxy.
	return json.MarshalContext(context.Background(), &snapshot{
		ConnectedAt: s.connectedAt,
		Result:      s.result,
		ID:          s.id.String(),
		RemoteAddr:  remoteAddr,
		KeepAlive:   s.keepAlive,
	})
}

func (s *Session) write(op ws.OpCode, data []byte) error {
	s.writeMx.Lock()
	defer s.writeMx.Unlock()
	var err error
	if s.writeTimeout > 0 {
		err = multierror.Append(nil, s.conn.SetWriteDeadline(time.Deadline(s.writeTimeout))).ErrorOrNil()
	}

	if s.deflate && op.IsData() {
		frame, cErr := wsflate.CompressFrame(ws.NewFrame(op, true, data))
		if cErr != nil {
			return multierror.Append(err, cErr).ErrorOrNil()
		}

		return multierror.Append(err, ws.WriteFrame(s.conn, frame)).ErrorOrNil()
	}

	return multierror.Append(err, wsutil.WriteServerMessage(s.conn, op, data)).ErrorOrNil()
}

// Data frames flagged with RSV1 are inflated; text is checked for UTF-8 once inflated.
func (s *Session) readDeflated() ([]byte, ws.OpCode, error) {
	rw := &stream{Reader: s.reader, s: s}
	var state wsflate.MessageState
	controlHandler := wsutil.ControlFrameHandler(rw, ws.StateServerSide)
	rd := wsutil.Reader{
		Source:         rw,
		State:          ws.StateServerSide | ws.StateExtended,
		Extensions:     []wsutil.RecvExtension{&state},
		OnIntermediate: controlHandler,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, 0, err //nolint:wrapcheck // Wrapped by ReadMessage.
		}
		if hdr.OpCode.IsControl() {
			if err = controlHandler(hdr, &rd); err != nil {
				return nil, 0, err
			}

			continue
		}
		payload, err := io.ReadAll(&rd)
		if err != nil {
			return nil, hdr.OpCode, err //nolint:wrapcheck // Wrapped by ReadMessage.
		}
		if state.IsCompressed() {
			if payload, err = wsflate.DefaultHelper.Decompress(payload); err != nil {
				return nil, hdr.OpCode, err //nolint:wrapcheck // Wrapped by ReadMessage.
			}
		}
		if hdr.OpCode == ws.OpText && !utf8.Valid(payload) {
			return nil, hdr.OpCode, wsutil.ErrInvalidUTF8
		}

		return payload, hdr.OpCode, nil
	}
}

func (st *stream) Write(p []byte) (int, error) {
	st.s.writeMx.Lock()
	defer st.s.writeMx.Unlock()

	return st.s.conn.Write(p) //nolint:wrapcheck // Proxy.
}
