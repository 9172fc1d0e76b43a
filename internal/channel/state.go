package channel

import "github.com/wezm/node-simperium/internal/jsondiff"

// State is a channel's position in the handshake state machine (§4.3).
type State int

const (
	Disconnected State = iota
	Authorizing
	Indexing
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Authorizing:
		return "authorizing"
	case Indexing:
		return "indexing"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// ChangeState is the lifecycle of one in-flight local Change (§3).
type ChangeState int

const (
	Pending ChangeState = iota
	Sent
	Acknowledged
)

func (s ChangeState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Acknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

// Change is one in-flight local mutation against a key (§3).
type Change struct {
	CCID          string
	Key           string
	SourceVersion int
	Ops           jsondiff.ObjectOperationSet
	Remove        bool
	State         ChangeState
}
