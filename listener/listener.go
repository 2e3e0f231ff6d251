// SPDX-License-Identifier: ice License 1.0

package listener

import (
	"context"
	"fmt"
	"net"
	"runtime"
	stdlibtime "time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/ice-blockchain/wsgate/extensions"
	"github.com/ice-blockchain/wsgate/handshake"
	"github.com/ice-blockchain/wsgate/log"
	"github.com/ice-blockchain/wsgate/session"
	"github.com/ice-blockchain/wsgate/terror"
)

// New builds a Listener for endpoint (`host:port`); nothing is bound until Start.
// Every yielded Session carries keepAlive as its keep-alive interval.
func New(endpoint string, keepAlive stdlibtime.Duration, opts ...Option) *Listener {
	c := &core{
		endpoint:      endpoint,
		keepAlive:     keepAlive,
		acceptTimeout: DefaultAcceptTimeout,
		listen:        net.Listen,
		requests:      make(chan struct{}, 1),
		accepted:      make(chan accepted, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = extensions.NewRegistry()
	}
	if c.negotiator == nil {
		c.negotiator = handshake.New(handshake.Config{})
	}
	l := &Listener{core: c}
	l.cleanup = runtime.AddCleanup(l, func(c *core) {
		if err := c.dispose(); err != nil {
			log.Error(errors.Wrapf(err, "failed to dispose unreachable listener %v", c.endpoint))
		}
	}, c)

	return l
}

// WithAcceptTimeout is how often a blocked AcceptSession re-checks its context and the listener state.
func WithAcceptTimeout(timeout stdlibtime.Duration) Option {
	return func(c *core) {
		if timeout > 0 {
			c.acceptTimeout = timeout
		}
	}
}

// WithRegistry sets the supported extensions and subprotocols. It is frozen by Start.
func WithRegistry(registry *extensions.Registry) Option {
	return func(c *core) {
		c.registry = registry
	}
}

func WithNegotiator(negotiator *handshake.Negotiator) Option {
	return func(c *core) {
		c.negotiator = negotiator
	}
}

// WithMaxConnections caps the transports open at once; accepting blocks until one of them is closed.
func WithMaxConnections(n int) Option {
	return func(c *core) {
		c.maxConnections = n
	}
}

func WithSessionOptions(opts ...session.Option) Option {
	return func(c *core) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// With starts a Listener, runs fn with it and always disposes of it afterwards.
func With(
	ctx context.Context, endpoint string, keepAlive stdlibtime.Duration, fn func(context.Context, *Listener) error, opts ...Option,
) (err error) {
	l := New(endpoint, keepAlive, opts...)
	defer func() {
		if cErr := l.Close(); cErr != nil {
			err = multierror.Append(err, cErr).ErrorOrNil()
		}
	}()
	if err = l.Start(); err != nil {
		return err
	}

	return fn(ctx, l)
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%v %v: %v", ErrBind, e.Endpoint, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

func (*BindError) Is(target error) bool {
	return target == ErrBind //nolint:errorlint // Sentinel identity.
}

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Disposed:
		return "disposed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

func (l *Listener) State() State {
	return State(l.core.state.Load())
}

func (l *Listener) Endpoint() string {
	return l.core.endpoint
}

func (l *Listener) KeepAlive() stdlibtime.Duration {
	return l.core.keepAlive
}

// Registry holds the extensions and subprotocols offered to clients; it is frozen once started.
func (l *Listener) Registry() *extensions.Registry {
	return l.core.registry
}

// Addr is the bound address, nil until the first successful Start.
func (l *Listener) Addr() net.Addr {
	l.core.mx.Lock()
	defer l.core.mx.Unlock()
	if l.core.socket == nil {
		return nil
	}

	return l.core.socket.Addr()
}

// Start binds the endpoint, or resumes accepting on the already bound socket after Stop.
// A failed bind leaves the Listener not started, so Start can be retried.
func (l *Listener) Start() error {
	c := l.core
	c.mx.Lock()
	defer c.mx.Unlock()
	switch State(c.state.Load()) {
	case Started:
		return ErrAlreadyStarted
	case Disposed:
		return ErrDisposed
	case Stopped:
		if !c.state.CompareAndSwap(int32(Stopped), int32(Started)) {
			return c.stateErr()
		}
		log.Info(fmt.Sprintf("listener resumed accepting on %v", c.socket.Addr()))

		return nil
	case NotStarted:
	}
	socket, err := c.listen(network, c.endpoint)
	if err != nil {
		return &BindError{Endpoint: c.endpoint, Err: err}
	}
	if c.maxConnections > 0 {
		socket = netutil.LimitListener(socket, c.maxConnections)
	}
	if !c.state.CompareAndSwap(int32(NotStarted), int32(Started)) {
		return multierror.Append(c.stateErr(), socket.Close()).ErrorOrNil() //nolint:wrapcheck // .
	}
	c.socket = socket
	c.registry.Freeze()
	c.wg.Add(1)
	go c.pump(socket)
	log.Info(fmt.Sprintf("listener started on %v", socket.Addr()))

	return nil
}

// Stop pauses accepting without releasing the socket. Transports accepted while stopped are refused.
func (l *Listener) Stop() error {
	c := l.core
	if c.state.CompareAndSwap(int32(Started), int32(Stopped)) {
		log.Info(fmt.Sprintf("listener stopped accepting on %v", c.endpoint))

		return nil
	}
	if State(c.state.Load()) == Disposed {
		return ErrDisposed
	}

	return nil
}

// AcceptSession blocks until a client completes the opening handshake and returns its Session.
// It returns nil, nil once ctx is done; failed handshakes are logged and never surface here.
func (l *Listener) AcceptSession(ctx context.Context) (*session.Session, error) {
	defer runtime.KeepAlive(l)
	c := l.core
	for {
		if err := c.stateErr(); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, nil //nolint:nilnil // None, the caller gave up.
		}
		c.requestAccept()
		timer := stdlibtime.NewTimer(c.acceptTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, nil //nolint:nilnil // None, the caller gave up.
		case <-c.done:
			timer.Stop()

			return nil, ErrDisposed
		case <-timer.C:
			continue
		case res := <-c.accepted:
			timer.Stop()
			c.pending = false
			if res.err != nil {
				if State(c.state.Load()) == Disposed {
					return nil, ErrDisposed
				}

				return nil, errors.Wrapf(res.err, "failed to accept on %v", c.endpoint)
			}
			if State(c.state.Load()) == Disposed {
				_ = res.conn.Close() //nolint:errcheck // Nobody can own it anymore.

				return nil, ErrDisposed
			}
			if ctx.Err() != nil {
				c.requeue(res)

				return nil, nil //nolint:nilnil // None, the caller gave up.
			}
			if s := c.negotiate(ctx, res.conn); s != nil {
				return s, nil
			}
		}
	}
}

// Close stops accepting, releases the socket and any accepted but unclaimed transport.
// Only the first call does anything.
func (l *Listener) Close() error {
	l.cleanup.Stop()

	return l.core.dispose()
}

func (c *core) stateErr() error {
	switch State(c.state.Load()) {
	case NotStarted:
		return ErrNotStarted
	case Stopped:
		return ErrStopped
	case Disposed:
		return ErrDisposed
	default:
		return nil
	}
}

func (c *core) requestAccept() {
	if c.pending {
		return
	}
	c.pending = true
	c.requests <- struct{}{}
}

// Puts a result back in front of the queue; the pump is idle since the request it answered is still pending.
func (c *core) requeue(res accepted) {
	c.pending = true
	c.accepted <- res
}

//nolint:funlen // Accept, retry and refusal are one loop.
func (c *core) pump(socket net.Listener) {
	defer c.wg.Done()
	retry := &backoff.ExponentialBackOff{
		InitialInterval:     minAcceptRetryDelay,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         maxAcceptRetryDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	retry.Reset()
	for {
		select {
		case <-c.done:
			return
		case <-c.requests:
		}
		for {
			conn, err := socket.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) || State(c.state.Load()) == Disposed {
					select {
					case c.accepted <- accepted{err: err}:
					default:
					}

					return
				}
				delay := retry.NextBackOff()
				log.Warn(fmt.Sprintf("accept on %v failed, retrying in %v", c.endpoint, delay), "error", err.Error())
				select {
				case <-c.done:
					return
				case <-stdlibtime.After(delay):
				}

				continue
			}
			retry.Reset()
			if State(c.state.Load()) == Stopped {
				log.Debug("refused transport, listener is stopped", "remoteAddr", remoteAddr(conn))
				_ = conn.Close() //nolint:errcheck // Refused anyway.

				continue
			}
			log.Debug("accepted transport", "remoteAddr", remoteAddr(conn))
			c.accepted <- accepted{conn: conn}

			break
		}
	}
}

// Returns nil if the handshake failed, ctx got done meanwhile or the listener stopped accepting;
// in every such case conn is already closed.
// A handshake in progress is allowed to finish, it is bounded by the negotiator's own timeouts.
func (c *core) negotiate(ctx context.Context, conn net.Conn) *session.Session {
	if conn.RemoteAddr() == nil {
		_ = conn.Close() //nolint:errcheck // Not a usable transport.

		return nil
	}
	res, err := c.negotiator.Negotiate(conn, c.registry)
	if err != nil {
		fields := []any{"remoteAddr", remoteAddr(conn), "error", err.Error()}
		if tErr := terror.As(err); tErr != nil {
			fields = append(fields, "field", tErr.Value("field"))
		}
		log.Debug("websocket negotiation failed", fields...)
		_ = conn.Close() //nolint:errcheck // Failed transport.

		return nil
	}
	if ctx.Err() != nil {
		_ = conn.Close() //nolint:errcheck // Negotiated, but nobody is waiting for it anymore.

		return nil
	}
	if st := State(c.state.Load()); st != Started {
		log.Debug("dropped negotiated transport, listener is "+st.String(), "remoteAddr", remoteAddr(conn))
		_ = conn.Close() //nolint:errcheck // Stop or Close won the race.

		return nil
	}

	return session.New(conn, res, c.keepAlive, c.sessionOpts...)
}

func (c *core) dispose() error {
	for {
		st := c.state.Load()
		if st == int32(Disposed) {
			return nil
		}
		if c.state.CompareAndSwap(st, int32(Disposed)) {
			break
		}
	}
	close(c.done)
	c.mx.Lock()
	socket := c.socket
	c.mx.Unlock()
	var err error
	if socket != nil {
		if cErr := socket.Close(); cErr != nil && !errors.Is(cErr, net.ErrClosed) {
			err = multierror.Append(err, errors.Wrapf(cErr, "failed to close socket %v", socket.Addr()))
		}
	}
	c.wg.Wait()
	select {
	case res := <-c.accepted:
		if res.conn != nil {
			if cErr := res.conn.Close(); cErr != nil {
				err = multierror.Append(err, errors.Wrap(cErr, "failed to close queued transport"))
			}
		}
	default:
	}
	log.Info(fmt.Sprintf("listener on %v disposed", c.endpoint))

	return err //nolint:wrapcheck // Already wrapped.
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}

	return ""
}
