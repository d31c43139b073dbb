package driver

import (
	"time"

	"github.com/google/uuid"

	"github.com/adamancini/keel/internal/appcast"
)

// Choice is the embedding application's answer to an update prompt.
type Choice int

const (
	// Later declines this update for now. It is the zero value.
	Later Choice = iota
	Install
	Skip
)

func (c Choice) String() string {
	switch c {
	case Install:
		return "install"
	case Skip:
		return "skip"
	}
	return "later"
}

// Alert describes the decision prompt shown before downloading an update.
type Alert struct {
	AppName        string
	CurrentVersion string
	NewVersion     string
	ReleaseNotes   string
	Item           appcast.Item
}

// Event is sent on a driver's Events channel.
type Event interface {
	isEvent()
}

// DecisionRequest asks the embedding application to resolve an Alert. The
// session is suspended until Resolve is called or the session is aborted.
type DecisionRequest struct {
	Alert Alert
	reply chan Choice
}

// Resolve answers the request. Only the first call has an effect.
func (r DecisionRequest) Resolve(c Choice) {
	select {
	case r.reply <- c:
	default:
	}
}

// FinishedEvent is the last event of a session.
type FinishedEvent struct {
	Result Result
}

func (DecisionRequest) isEvent() {}
func (FinishedEvent) isEvent()   {}

// Result is the terminal status of a session.
type Result struct {
	ID      uuid.UUID   `json:"id" yaml:"id"`
	Owner   string      `json:"owner,omitempty" yaml:"owner,omitempty"`
	Host    string      `json:"host,omitempty" yaml:"host,omitempty"`
	Reason  AbortReason `json:"outcome" yaml:"outcome"`
	Err     error       `json:"-" yaml:"-"`
	Version string      `json:"version,omitempty" yaml:"version,omitempty"`
	Started time.Time   `json:"started" yaml:"started"`
	Ended   time.Time   `json:"ended" yaml:"ended"`
}

// Installed reports whether the session installed an update.
func (r Result) Installed() bool { return r.Reason == None }

// Duration is the wall time between start and finish.
func (r Result) Duration() time.Duration { return r.Ended.Sub(r.Started) }
