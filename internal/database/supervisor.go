// Package database supervises the single logical connection the server
// holds to its document database.
package database

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Conn.Session while no live session exists.
const ErrNotConnected = errors.ConstError("database not connected")

// Session is a live link to the database.
type Session interface {
	Ping() error
	// Copy returns an independent session sharing the same servers. It
	// stays usable after the original is closed.
	Copy() Session
	Close()
}

// DialInfo describes where and how to connect.
type DialInfo struct {
	Addrs    []string
	Database string
	Username string
	Password string
	Timeout  time.Duration
	// TLS, when not nil, wraps every server connection.
	TLS *tls.Config
}

// Dialer opens sessions. Dial may block up to info.Timeout.
type Dialer interface {
	Dial(info DialInfo) (Session, error)
}

// Config defines the operation of a Conn.
type Config struct {
	Dialer Dialer
	Info   DialInfo
	Clock  clock.Clock
	Logger zerolog.Logger

	// RetryDelay is the fixed wait between a failure and the next
	// connection attempt. Retries never stop and never back off.
	RetryDelay time.Duration

	// PingInterval is how often a live session is checked. Zero
	// disables the check.
	PingInterval time.Duration
}

// Validate returns an error if config cannot drive a Conn.
func (config Config) Validate() error {
	if config.Dialer == nil {
		return errors.NotValidf("nil Dialer")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if len(config.Info.Addrs) == 0 {
		return errors.NotValidf("empty Addrs")
	}
	if config.RetryDelay <= 0 {
		return errors.NotValidf("non-positive RetryDelay")
	}
	if config.PingInterval < 0 {
		return errors.NotValidf("negative PingInterval")
	}
	return nil
}

// Conn is the connection handle shared by every controller. Reconnects
// replace the session inside it, so a *Conn stays valid for the life of
// the process.
type Conn struct {
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	lastErr error
	session Session
	// attempt identifies the current dial; results from older attempts
	// are dropped.
	attempt uint64
	retry   clock.Timer
	ping    clock.Timer

	closeOnce sync.Once
}

// Establish starts connecting and returns at once with the handle in the
// Connecting state.
func Establish(config Config) (*Conn, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	c := &Conn{
		config: config,
		logger: config.Logger.With().Str("component", "database").Logger(),
	}
	c.mu.Lock()
	c.dial()
	c.mu.Unlock()
	return c, nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error behind the most recent failure, or nil once
// a connection succeeds.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Session returns a copy of the live session, or ErrNotConnected. The
// caller owns the copy and must Close it.
func (c *Conn) Session() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.session == nil {
		return nil, errors.Annotatef(ErrNotConnected, "connection %s", c.state)
	}
	return c.session.Copy(), nil
}

// Close shuts the connection down. Only the first call does anything.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.handle(EventClose, nil)
		c.mu.Unlock()
		c.logger.Info().Msg("[API END PROCESS] close mongodb connection")
	})
}

// dial starts a new attempt. Called with mu held.
func (c *Conn) dial() {
	c.attempt++
	c.state = Connecting
	id := c.attempt
	c.logger.Debug().Uint64("attempt", id).Strs("addrs", c.config.Info.Addrs).Msg("connecting")
	go c.runDial(id)
}

func (c *Conn) runDial(id uint64) {
	session, err := c.config.Dialer.Dial(c.config.Info)

	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.attempt {
		if session != nil {
			session.Close()
		}
		return
	}
	if err != nil {
		c.handle(EventDialFailed, err)
		return
	}
	c.session = session
	c.handle(EventDialed, nil)
}

// handle applies ev and carries out the resulting action. Called with mu
// held.
func (c *Conn) handle(ev Event, err error) {
	from := c.state
	to, act := transition(from, ev)
	c.state = to
	c.logger.Trace().Stringer("from", from).Stringer("event", ev).Stringer("to", to).Msg("transition")

	switch act {
	case actionMonitor:
		c.lastErr = nil
		c.logger.Info().Msg("connected")
		c.schedulePing()
	case actionScheduleRetry:
		c.lastErr = err
		if ev == EventPingFailed {
			c.logger.Warn().Err(err).Dur("retry_in", c.config.RetryDelay).Msg("[DISCONNECTED] mongodb disconnected")
		} else {
			c.logger.Error().Err(err).Dur("retry_in", c.config.RetryDelay).Msg("[ERROR] mongodb connection failed")
		}
		c.dropSession()
		c.stopTimers()
		c.retry = c.config.Clock.AfterFunc(c.config.RetryDelay, c.onRetry)
	case actionDial:
		c.dial()
	case actionDiscard:
		c.dropSession()
	case actionShutdown:
		c.stopTimers()
		c.dropSession()
		c.attempt++
	}
}

func (c *Conn) onRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = nil
	c.handle(EventRetry, nil)
}

func (c *Conn) schedulePing() {
	if c.config.PingInterval == 0 {
		return
	}
	id := c.attempt
	c.ping = c.config.Clock.AfterFunc(c.config.PingInterval, func() {
		c.checkAlive(id)
	})
}

// checkAlive pings the session dialed by attempt id and reports a
// disconnect if it does not answer.
func (c *Conn) checkAlive(id uint64) {
	c.mu.Lock()
	if id != c.attempt || c.state != Connected {
		c.mu.Unlock()
		return
	}
	// The copy is taken under mu so a concurrent dropSession cannot
	// close the session first.
	session := c.session.Copy()
	c.mu.Unlock()

	err := session.Ping()
	session.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.attempt || c.state != Connected {
		return
	}
	if err != nil {
		c.handle(EventPingFailed, err)
		return
	}
	c.schedulePing()
}

func (c *Conn) dropSession() {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
}

func (c *Conn) stopTimers() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.ping != nil {
		c.ping.Stop()
		c.ping = nil
	}
}
