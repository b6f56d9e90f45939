package database

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDelay   = 50 * time.Millisecond
	testPing    = time.Second
	testTimeout = 5 * time.Second
	// quiet is how long a test waits to be sure something did not happen.
	quiet = 50 * time.Millisecond
)

// fakeSession behaves like an mgo session: copies share the origin's
// servers, and copying a closed session panics.
type fakeSession struct {
	origin  *fakeSession
	pingErr atomic.Value
	closes  atomic.Int32
	// open counts copies of this session not yet closed.
	open atomic.Int32
}

func (s *fakeSession) root() *fakeSession {
	if s.origin != nil {
		return s.origin
	}
	return s
}

func (s *fakeSession) Ping() error {
	if err, ok := s.root().pingErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *fakeSession) Copy() Session {
	if s.closes.Load() > 0 {
		panic("Session already closed")
	}
	s.root().open.Add(1)
	return &fakeSession{origin: s.root()}
}

func (s *fakeSession) Close() {
	if s.origin != nil {
		s.origin.open.Add(-1)
	}
	s.closes.Add(1)
}

func (s *fakeSession) breakWith(err error) {
	s.pingErr.Store(err)
}

// fakeDialer hands out sessions or errors in the order they are queued.
// Once the queue is empty every dial succeeds.
type fakeDialer struct {
	mu       sync.Mutex
	errs     []error
	sessions []*fakeSession
	// release, when not nil, blocks each dial until it is closed.
	release chan struct{}
	dialed  chan DialInfo
}

func newFakeDialer(errs ...error) *fakeDialer {
	return &fakeDialer{
		errs:   errs,
		dialed: make(chan DialInfo, 16),
	}
}

func (d *fakeDialer) Dial(info DialInfo) (Session, error) {
	d.dialed <- info
	if d.release != nil {
		<-d.release
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeSession{}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) session(t *testing.T, i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Greater(t, len(d.sessions), i)
	return d.sessions[i]
}

func (d *fakeDialer) waitDial(t *testing.T) {
	t.Helper()
	select {
	case <-d.dialed:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a dial")
	}
}

func (d *fakeDialer) assertNoDial(t *testing.T) {
	t.Helper()
	select {
	case <-d.dialed:
		t.Fatal("unexpected dial")
	case <-time.After(quiet):
	}
}

func newTestConn(t *testing.T, dialer *fakeDialer, clk *testclock.Clock, ping time.Duration) *Conn {
	t.Helper()
	conn, err := Establish(Config{
		Dialer: dialer,
		Info: DialInfo{
			Addrs:    []string{"db.example.com:27017"},
			Database: "store",
			Username: "api",
			Password: "pw",
			Timeout:  time.Second,
		},
		Clock:        clk,
		Logger:       zerolog.Nop(),
		RetryDelay:   testDelay,
		PingInterval: ping,
	})
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func waitState(t *testing.T, conn *Conn, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conn.State() == want
	}, testTimeout, time.Millisecond, "state never became %s (now %s)", want, conn.State())
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Dialer:     newFakeDialer(),
		Info:       DialInfo{Addrs: []string{"localhost"}},
		Clock:      testclock.NewClock(time.Now()),
		RetryDelay: time.Second,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(*Config)
		match  string
	}{
		{"nil dialer", func(c *Config) { c.Dialer = nil }, "nil Dialer not valid"},
		{"nil clock", func(c *Config) { c.Clock = nil }, "nil Clock not valid"},
		{"no addrs", func(c *Config) { c.Info.Addrs = nil }, "empty Addrs not valid"},
		{"zero delay", func(c *Config) { c.RetryDelay = 0 }, "non-positive RetryDelay not valid"},
		{"negative ping", func(c *Config) { c.PingInterval = -time.Second }, "negative PingInterval not valid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, errors.NotValid))
			assert.EqualError(t, err, tt.match)
		})
	}
}

func TestEstablishReturnsConnecting(t *testing.T) {
	dialer := newFakeDialer()
	dialer.release = make(chan struct{})
	conn := newTestConn(t, dialer, testclock.NewClock(time.Now()), 0)

	assert.Equal(t, Connecting, conn.State())
	_, err := conn.Session()
	assert.True(t, errors.Is(err, ErrNotConnected))

	info := <-dialer.dialed
	assert.Equal(t, []string{"db.example.com:27017"}, info.Addrs)
	assert.Equal(t, "store", info.Database)

	close(dialer.release)
	waitState(t, conn, Connected)
	session, err := conn.Session()
	require.NoError(t, err)
	master := dialer.session(t, 0)
	assert.NotSame(t, master, session)
	assert.Same(t, master, session.(*fakeSession).origin)
	assert.EqualValues(t, 1, master.open.Load())
	session.Close()
	assert.EqualValues(t, 0, master.open.Load())
	assert.NoError(t, conn.LastError())
}

func TestErrorRetriesAfterExactDelay(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	dialErr := errors.New("connection refused")
	dialer := newFakeDialer(dialErr)
	conn := newTestConn(t, dialer, clk, 0)

	dialer.waitDial(t)
	waitState(t, conn, Errored)
	assert.Equal(t, dialErr, conn.LastError())

	// Just short of the delay nothing happens.
	require.NoError(t, clk.WaitAdvance(testDelay-time.Millisecond, testTimeout, 1))
	dialer.assertNoDial(t)
	assert.Equal(t, Errored, conn.State())

	require.NoError(t, clk.WaitAdvance(time.Millisecond, testTimeout, 1))
	dialer.waitDial(t)
	waitState(t, conn, Connected)
	assert.NoError(t, conn.LastError())
}

func TestErrorRetriesForever(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	var errs []error
	for i := 0; i < 5; i++ {
		errs = append(errs, errors.New("unreachable"))
	}
	dialer := newFakeDialer(errs...)
	conn := newTestConn(t, dialer, clk, 0)

	dialer.waitDial(t)
	for i := 0; i < 5; i++ {
		waitState(t, conn, Errored)
		// Exactly one pending retry each time, and always the same delay.
		require.NoError(t, clk.WaitAdvance(testDelay, testTimeout, 1))
		dialer.waitDial(t)
	}
	waitState(t, conn, Connected)
}

func TestDisconnectCyclesScheduleOneReconnectEach(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	dialer := newFakeDialer()
	conn := newTestConn(t, dialer, clk, testPing)

	dialer.waitDial(t)
	waitState(t, conn, Connected)

	for cycle := 0; cycle < 3; cycle++ {
		session := dialer.session(t, cycle)

		// A healthy ping keeps the connection and re-arms the check.
		require.NoError(t, clk.WaitAdvance(testPing, testTimeout, 1))
		require.NoError(t, clk.WaitAdvance(0, testTimeout, 1))
		assert.Equal(t, Connected, conn.State())
		assert.EqualValues(t, 0, session.open.Load(), "ping copy left open")

		session.breakWith(errors.New("socket closed"))
		require.NoError(t, clk.WaitAdvance(testPing, testTimeout, 1))
		waitState(t, conn, Disconnected)
		assert.EqualValues(t, 1, session.closes.Load())
		dialer.assertNoDial(t)

		// Only the reconnect timer is pending.
		require.NoError(t, clk.WaitAdvance(testDelay, testTimeout, 1))
		dialer.waitDial(t)
		waitState(t, conn, Connected)
		dialer.assertNoDial(t)
	}
}

func TestCloseRunsOnce(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConn(t, dialer, testclock.NewClock(time.Now()), testPing)
	dialer.waitDial(t)
	waitState(t, conn, Connected)
	session := dialer.session(t, 0)

	conn.Close()
	conn.Close()

	assert.Equal(t, Closed, conn.State())
	assert.EqualValues(t, 1, session.closes.Load())
	_, err := conn.Session()
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestCloseCancelsPendingRetry(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	dialer := newFakeDialer(errors.New("refused"))
	conn := newTestConn(t, dialer, clk, 0)
	dialer.waitDial(t)
	waitState(t, conn, Errored)
	require.NoError(t, clk.WaitAdvance(0, testTimeout, 1))

	conn.Close()
	clk.Advance(testDelay)
	dialer.assertNoDial(t)
	assert.Equal(t, Closed, conn.State())
}

func TestCloseDuringDialDiscardsSession(t *testing.T) {
	dialer := newFakeDialer()
	dialer.release = make(chan struct{})
	conn := newTestConn(t, dialer, testclock.NewClock(time.Now()), 0)
	dialer.waitDial(t)

	conn.Close()
	close(dialer.release)

	require.Eventually(t, func() bool {
		dialer.mu.Lock()
		defer dialer.mu.Unlock()
		return len(dialer.sessions) == 1 && dialer.sessions[0].closes.Load() == 1
	}, testTimeout, time.Millisecond)
	assert.Equal(t, Closed, conn.State())
}

func TestSessionCopiesOutliveClose(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConn(t, dialer, testclock.NewClock(time.Now()), 0)
	dialer.waitDial(t)
	waitState(t, conn, Connected)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 100; j++ {
				session, err := conn.Session()
				if err != nil {
					assert.True(t, errors.Is(err, ErrNotConnected))
					return
				}
				assert.NoError(t, session.Ping())
				session.Close()
			}
		}()
	}
	close(start)
	conn.Close()
	wg.Wait()

	master := dialer.session(t, 0)
	assert.EqualValues(t, 1, master.closes.Load())
	assert.EqualValues(t, 0, master.open.Load())
}
