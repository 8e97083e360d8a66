package acquisition

// State is the position of an orchestrator in the acquisition sequence.
type State int

const (
	StateIdle State = iota
	StateSubscribed
	StateTriggered
	StateStartConfirmed
	StateDataReceived
	StateComplete
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:           "idle",
	StateSubscribed:     "subscribed",
	StateTriggered:      "triggered",
	StateStartConfirmed: "start-confirmed",
	StateDataReceived:   "data-received",
	StateComplete:       "complete",
	StateFailed:         "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
