// Package server assembles the API process: database connection,
// middleware, routes and the HTTP listener, torn down in reverse on
// shutdown.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/harrylevesque/storeapi/internal/api"
	"github.com/harrylevesque/storeapi/internal/auth"
	"github.com/harrylevesque/storeapi/internal/certs"
	"github.com/harrylevesque/storeapi/internal/config"
	"github.com/harrylevesque/storeapi/internal/database"
)

// Options replaces the production dependencies of an App. Zero values
// select the mgo dialer and the wall clock.
type Options struct {
	Dialer database.Dialer
	Clock  clock.Clock
}

// App is one server process.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger
	opts   Options

	conn       *database.Conn
	middleware func(http.Handler) http.Handler
	handler    http.Handler
	listener   net.Listener
	srv        *http.Server
	serveErr   chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

type step struct {
	name string
	run  func() error
}

// New returns an App for cfg. Nothing is opened until Start.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) *App {
	if opts.Dialer == nil {
		opts.Dialer = database.MgoDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &App{
		cfg:      cfg,
		logger:   logger,
		opts:     opts,
		serveErr: make(chan error, 1),
	}
}

func (a *App) steps() []step {
	return []step{
		{"connect database", a.connectDatabase},
		{"install middleware", a.installMiddleware},
		{"install routes", a.installRoutes},
		{"listen", a.listen},
	}
}

// Start runs the bootstrap steps in order. If one fails, everything
// already opened is released and the error is returned.
func (a *App) Start() error {
	for _, s := range a.steps() {
		if err := s.run(); err != nil {
			err = errors.Annotate(err, s.name)
			a.logger.Error().Msgf("[ERROR] SERVER -> %v", err)
			_ = a.Shutdown()
			return err
		}
	}
	return nil
}

// Run starts the App and serves until ctx is done or the listener
// fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	return a.Wait(ctx)
}

// Wait blocks until ctx is done or the HTTP server stops on its own,
// then shuts the App down.
func (a *App) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutting down")
		return a.Shutdown()
	case err := <-a.serveErr:
		a.logger.Error().Msgf("[ERROR] SERVER -> %v", err)
		_ = a.Shutdown()
		return errors.Trace(err)
	}
}

// Shutdown drains the HTTP server and closes the database connection.
// Only the first call does anything; later calls return its result.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		if a.srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := a.srv.Shutdown(ctx); err != nil {
				a.shutdownErr = errors.Annotate(err, "shutting down http server")
			}
			// Serve may not have taken ownership of the listener yet.
			_ = a.listener.Close()
		}
		if a.conn != nil {
			a.conn.Close()
		}
	})
	return a.shutdownErr
}

// Addr returns the bound listener address, or nil before listen.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Conn returns the database handle, or nil before it is established.
func (a *App) Conn() *database.Conn {
	return a.conn
}

func (a *App) connectDatabase() error {
	info := database.DialInfo{
		Addrs:    a.cfg.Hosts(),
		Database: a.cfg.NoSQLTable,
		Username: a.cfg.NoSQLUser,
		Password: a.cfg.NoSQLPassword,
		Timeout:  a.cfg.DialTimeout,
	}
	if a.cfg.NoSQLTLS {
		tlsConfig, expired, err := certs.NewCertManager(a.cfg.NoSQLCADir).TLSConfig()
		if err != nil {
			return errors.Annotate(err, "loading database CA certificates")
		}
		for _, cert := range expired {
			a.logger.Warn().
				Str("subject", cert.Subject.String()).
				Time("not_after", cert.NotAfter).
				Msg("expired CA certificate")
		}
		info.TLS = tlsConfig
	}

	a.logger.Info().Str("url", a.cfg.ConnectionString()).Msg("connecting to mongodb")
	conn, err := database.Establish(database.Config{
		Dialer:       a.opts.Dialer,
		Info:         info,
		Clock:        a.opts.Clock,
		Logger:       a.logger,
		RetryDelay:   a.cfg.ReconnectDelay,
		PingInterval: a.cfg.PingInterval,
	})
	if err != nil {
		return errors.Trace(err)
	}
	a.conn = conn
	return nil
}

func (a *App) installMiddleware() error {
	a.middleware = api.Middleware(a.logger)
	return nil
}

func (a *App) installRoutes() error {
	if a.middleware == nil {
		return errors.New("middleware not installed")
	}
	router := api.NewRouter(a.conn)
	a.handler = a.middleware(auth.Gate(a.cfg.AccessToken, a.logger)(router))
	return nil
}

func (a *App) listen() error {
	l, err := net.Listen("tcp", a.cfg.ListenAddr())
	if err != nil {
		return errors.Trace(err)
	}
	a.listener = l
	a.srv = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := a.srv.Serve(l); err != nil && err != http.ErrServerClosed {
			a.serveErr <- err
		}
	}()
	a.logger.Info().Str("addr", l.Addr().String()).Msgf("listen on %s", a.cfg.BaseURL)
	return nil
}
