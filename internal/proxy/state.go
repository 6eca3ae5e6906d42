package proxy

// State is a step in the life of a proxied request.
type State int

// Request states in the order they are reached.
const (
	StateReceived State = iota
	StatePathRewritten
	StateHeadersPrepared
	StateBodyRehydrated
	StateDispatched
	StateResponded
	StateTimedOut
	StateConnRefused
	StateCircuitOpen
	StateRejected
	StateCanceled
	StateFailed
)

var stateNames = [...]string{
	StateReceived:        "RECEIVED",
	StatePathRewritten:   "PATH_REWRITTEN",
	StateHeadersPrepared: "HEADERS_PREPARED",
	StateBodyRehydrated:  "BODY_REHYDRATED",
	StateDispatched:      "DISPATCHED",
	StateResponded:       "RESPONDED",
	StateTimedOut:        "TIMED_OUT",
	StateConnRefused:     "CONN_REFUSED",
	StateCircuitOpen:     "CIRCUIT_OPEN",
	StateRejected:        "REJECTED",
	StateCanceled:        "CANCELED",
	StateFailed:          "FAILED",
}

// String returns the upper-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s >= StateResponded
}
