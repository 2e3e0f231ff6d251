// SPDX-License-Identifier: ice License 1.0

package wsserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	stdlibtime "time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	appcfg "github.com/ice-blockchain/wsgate/config"
	"github.com/ice-blockchain/wsgate/extensions"
	"github.com/ice-blockchain/wsgate/handshake"
	"github.com/ice-blockchain/wsgate/listener"
	"github.com/ice-blockchain/wsgate/log"
	"github.com/ice-blockchain/wsgate/session"
	"github.com/ice-blockchain/wsgate/wsserver/internal"
)

func New(service Service, cfgKey string) Server {
	var cfg internal.Config
	appcfg.MustLoadFromKey(cfgKey, &cfg)

	return NewWithConfig(service, &cfg)
}

func NewWithConfig(service Service, cfg *Config) Server {
	s := &srv{cfg: cfg, service: service, acceptDone: make(chan struct{})}
	s.listener = listener.New(cfg.WSServer.Endpoint, cfg.WSServer.KeepAlive,
		listener.WithRegistry(s.setupRegistry()),
		listener.WithAcceptTimeout(cfg.WSServer.AcceptTimeout),
		listener.WithMaxConnections(cfg.WSServer.MaxConnections),
		listener.WithNegotiator(handshake.New(handshake.Config{
			ReadTimeout:  cfg.WSServer.HandshakeTimeout,
			WriteTimeout: cfg.WSServer.WriteTimeout,
		})),
		listener.WithSessionOptions(
			session.WithReadTimeout(cfg.WSServer.ReadTimeout),
			session.WithWriteTimeout(cfg.WSServer.WriteTimeout),
		),
	)

	return s
}

func (s *srv) setupRegistry() *extensions.Registry {
	registry := extensions.NewRegistry()
	log.Info("registering extensions and subprotocols...")
	for _, name := range s.cfg.WSServer.Extensions {
		log.Panic(errors.Wrapf(registry.Register(extensions.Named(name)), "failed to register extension %v", name))
	}
	for _, name := range s.cfg.WSServer.Protocols {
		log.Panic(errors.Wrapf(registry.RegisterProtocol(name), "failed to register subprotocol %v", name))
	}
	log.Info(fmt.Sprintf("%v extensions and %v subprotocols registered", len(registry.Extensions()), len(registry.Protocols())))

	return registry
}

func (s *srv) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *srv) ListenAndServe(ctx context.Context, cancel context.CancelFunc) {
	s.quit = make(chan os.Signal, 1)
	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	s.service.Init(ctx, cancel)
	if err := s.start(ctx); err != nil {
		log.Error(errors.Wrap(err, "server failed to start listening"))
		close(s.acceptDone)
		cancel()
	} else {
		go s.acceptSessions(ctx)
		s.wait(ctx)
	}
	s.shutDown() //nolint:contextcheck // Nope, we want to gracefully shutdown on a different context.
}

func (s *srv) start(ctx context.Context) error {
	bindRetryTimeout := s.cfg.WSServer.BindRetryTimeout
	if bindRetryTimeout <= 0 {
		bindRetryTimeout = defaultBindRetryTimeout
	}

	//nolint:wrapcheck // No need, its just a proxy.
	return backoff.RetryNotify(
		func() error {
			if err := s.listener.Start(); err != nil {
				if errors.Is(err, listener.ErrBind) {
					return err
				}

				return backoff.Permanent(err)
			}

			return nil
		},
		backoff.WithContext(&backoff.ExponentialBackOff{
			InitialInterval:     100 * stdlibtime.Millisecond, //nolint:mnd,gomnd // .
			RandomizationFactor: 0.5,                          //nolint:mnd,gomnd // .
			Multiplier:          2.5,                          //nolint:mnd,gomnd // .
			MaxInterval:         stdlibtime.Second,
			MaxElapsedTime:      bindRetryTimeout,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		}, ctx),
		func(e error, next stdlibtime.Duration) {
			log.Error(errors.Wrapf(e, "failed to bind %v. retrying in %v... ", s.cfg.WSServer.Endpoint, next))
		})
}

func (s *srv) acceptSessions(ctx context.Context) {
	defer close(s.acceptDone)
	defer log.Info("server stopped listening")
	log.Info(fmt.Sprintf("server started listening on %v...", s.listener.Addr()))
	for ctx.Err() == nil {
		sess, err := s.listener.AcceptSession(ctx)
		if err != nil {
			if !errors.Is(err, listener.ErrDisposed) {
				log.Error(errors.Wrap(err, "failed to accept session"))
				select {
				case s.quit <- syscall.SIGTERM:
				default:
				}
			}

			return
		}
		if sess == nil {
			continue
		}
		wsocket, sessCtx := internal.NewWebSocketAdapter(sess)
		s.sockets.Store(sess.ID(), wsocket)
		s.handlers.Add(1)
		go s.handle(sessCtx, sess, wsocket)
	}
}

func (s *srv) handle(ctx context.Context, sess *session.Session, wsocket internal.WSWithWriter) {
	defer s.handlers.Done()
	defer func() {
		s.sockets.Delete(sess.ID())
		log.Error(wsocket.Close(), "failed to close websocket conn")
	}()
	log.Debug("session accepted", "session", sess.ID().String(), "remoteAddr", sess.RemoteAddr().String(), "protocol", sess.Protocol())
	go wsocket.Write(ctx)
	go sess.KeepAlive(ctx)
	s.service.Read(ctx, wsocket)
}

func (s *srv) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.quit:
	}
}

func (s *srv) shutDown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("shutting down server...")
	if err := s.listener.Close(); err != nil {
		log.Error(errors.Wrap(err, "server shutdown failed"))
	} else {
		log.Info("server shutdown succeeded")
	}
	<-s.acceptDone
	s.sockets.Range(func(_, value any) bool {
		log.Error(value.(io.Closer).Close(), "failed to close websocket conn") //nolint:forcetypeassert // We know what we store.

		return true
	})
	if err := s.service.Close(ctx); err != nil && !errors.Is(err, io.EOF) {
		log.Error(errors.Wrap(err, "state close failed"))
	} else {
		log.Info("state close succeeded")
	}
	handlersDone := make(chan struct{})
	go func() {
		defer close(handlersDone)
		s.handlers.Wait()
	}()
	select {
	case <-handlersDone:
	case <-ctx.Done():
		log.Warn("timed out waiting for websocket handlers")
	}
}
