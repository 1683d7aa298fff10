package transport

import (
	"context"
	"fmt"
)

// State is the connection lifecycle state. Only Conn mutates it.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a State plus the attempt number while Reconnecting.
type Status struct {
	State   State
	Attempt int
}

func (s Status) String() string {
	if s.State == Reconnecting {
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	}
	return s.State.String()
}

type PublishResult int

const (
	Rejected PublishResult = iota
	Sent
	Queued
)

func (r PublishResult) String() string {
	switch r {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	default:
		return "rejected"
	}
}

// Frame is one inbound message delivered by a Link.
type Frame struct {
	SubscriptionID string
	Destination    string
	Body           []byte
	Header         map[string]string
}

// DialRequest carries the credential and the activity hook to a Driver.
type DialRequest struct {
	UserID int64
	Token  string
	Header map[string]string
	// OnActivity must be called by the link for inbound traffic that is not
	// delivered as a Frame (pongs, server pings). Frames count automatically.
	OnActivity func()
}

// Driver opens physical broker connections. Dial must honour ctx and return
// an error matching errs.ErrAuthRejected when the broker refuses the
// credential.
type Driver interface {
	Dial(ctx context.Context, req DialRequest) (Link, error)
}

// Link is one physical broker connection.
type Link interface {
	Publish(ctx context.Context, destination string, body []byte) error
	Subscribe(id, destination string) error
	Unsubscribe(id string) error
	Ping(ctx context.Context) error
	// Frames is closed when the link dies.
	Frames() <-chan Frame
	Done() <-chan struct{}
	// Err returns why the link died, nil after a local Close.
	Err() error
	Close() error
}

// Notice is a command published right after a wire subscription is made.
type Notice struct {
	Destination string
	Payload     any
}

// WireSubscription is one broker-level subscription wanted by the registry.
type WireSubscription struct {
	ID          string
	Destination string
	Notice      *Notice
}

// Replayer supplies the desired wire subscriptions on every Connected
// transition.
type Replayer interface {
	WireSubscriptions() []WireSubscription
}
