package database

// State is the lifecycle state of a Conn.
type State int

const (
	Connecting State = iota
	Connected
	Errored
	Disconnected
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	case Disconnected:
		return "disconnected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Event is something that happened to a Conn.
type Event int

const (
	// EventDialed reports a successful connection attempt.
	EventDialed Event = iota
	// EventDialFailed reports a failed connection attempt.
	EventDialFailed
	// EventPingFailed reports that a live session stopped answering.
	EventPingFailed
	// EventRetry reports that the reconnect delay has elapsed.
	EventRetry
	// EventClose requests shutdown of the connection.
	EventClose
)

func (e Event) String() string {
	switch e {
	case EventDialed:
		return "dialed"
	case EventDialFailed:
		return "dial-failed"
	case EventPingFailed:
		return "ping-failed"
	case EventRetry:
		return "retry"
	case EventClose:
		return "close"
	}
	return "unknown"
}

type action int

const (
	actionNone action = iota
	// actionMonitor starts watching a freshly dialed session.
	actionMonitor
	// actionScheduleRetry arms the reconnect timer.
	actionScheduleRetry
	// actionDial starts a new connection attempt.
	actionDial
	// actionDiscard drops a session nobody is waiting for.
	actionDiscard
	// actionShutdown stops timers and closes the session.
	actionShutdown
)

// transition is the single place where Conn lifecycle rules live. Events
// that make no sense in the current state leave it unchanged.
func transition(from State, ev Event) (State, action) {
	if from == Closed {
		if ev == EventDialed {
			return Closed, actionDiscard
		}
		return Closed, actionNone
	}
	switch ev {
	case EventClose:
		return Closed, actionShutdown
	case EventDialed:
		if from == Connecting {
			return Connected, actionMonitor
		}
		return from, actionDiscard
	case EventDialFailed:
		if from == Connecting {
			return Errored, actionScheduleRetry
		}
	case EventPingFailed:
		if from == Connected {
			return Disconnected, actionScheduleRetry
		}
	case EventRetry:
		if from == Errored || from == Disconnected {
			return Connecting, actionDial
		}
	}
	return from, actionNone
}
