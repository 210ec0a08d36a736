package fanout

// State is the lifecycle of a session as seen by the hub.
type State int

const (
	StateConnected State = iota
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live connection. Its queue is drained by the transport
// writer; the hub closes it exactly once when the session ends. Room and
// state are owned by the hub and read through it.
type Session struct {
	ID       string
	Username string

	send  chan []byte
	room  string
	state State
}

// Send is the outbound queue. It is closed when the session is closed.
func (s *Session) Send() <-chan []byte {
	return s.send
}
