package driver

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/adamancini/keel/internal/verify"
)

// State is a step of the update lifecycle.
type State string

const (
	StateIdle               State = "idle"
	StateChecking           State = "checking"
	StateNoUpdateFound      State = "no_update_found"
	StateUpdateAvailable    State = "update_available"
	StateDownloading        State = "downloading"
	StateVerifying          State = "verifying"
	StateReadyToInstall     State = "ready_to_install"
	StateVerificationFailed State = "verification_failed"
	StateInstalling         State = "installing"
	StateAborting           State = "aborting"
	StateFinished           State = "finished"
)

// Interruptible reports whether cancelling in s leaves no partial effect.
func (s State) Interruptible() bool {
	switch s {
	case StateIdle, StateChecking, StateUpdateAvailable, StateDownloading, StateVerifying, StateReadyToInstall:
		return true
	}
	return false
}

const (
	eventStart    = "start"
	eventFound    = "found"
	eventNone     = "none"
	eventDownload = "download"
	eventVerify   = "verify"
	eventTrust    = "trust"
	eventReject   = "reject"
	eventInstall  = "install"
	eventComplete = "complete"
	eventAbort    = "abort"
	eventFinish   = "finish"
)

// errUntrusted cancels the install transition.
var errUntrusted = errors.New("install requires a trusted verdict")

func newMachine(onTransition func(from, to State)) *fsm.FSM {
	events := fsm.Events{
		{Name: eventStart, Src: []string{string(StateIdle)}, Dst: string(StateChecking)},
		{Name: eventFound, Src: []string{string(StateChecking)}, Dst: string(StateUpdateAvailable)},
		{Name: eventNone, Src: []string{string(StateChecking)}, Dst: string(StateNoUpdateFound)},
		{Name: eventDownload, Src: []string{string(StateUpdateAvailable)}, Dst: string(StateDownloading)},
		{Name: eventVerify, Src: []string{string(StateDownloading)}, Dst: string(StateVerifying)},
		{Name: eventTrust, Src: []string{string(StateVerifying)}, Dst: string(StateReadyToInstall)},
		{Name: eventReject, Src: []string{string(StateVerifying)}, Dst: string(StateVerificationFailed)},
		{Name: eventInstall, Src: []string{string(StateReadyToInstall)}, Dst: string(StateInstalling)},
		{Name: eventComplete, Src: []string{string(StateInstalling)}, Dst: string(StateFinished)},
		{Name: eventAbort, Src: []string{
			string(StateIdle), string(StateChecking), string(StateNoUpdateFound), string(StateUpdateAvailable),
			string(StateDownloading), string(StateVerifying), string(StateReadyToInstall),
			string(StateVerificationFailed), string(StateInstalling),
		}, Dst: string(StateAborting)},
		{Name: eventFinish, Src: []string{string(StateAborting)}, Dst: string(StateFinished)},
	}

	callbacks := fsm.Callbacks{
		// Guard: only a trusted verdict may enter Installing.
		"before_" + eventInstall: wrapEvent(guardTrusted),

		"enter_state": wrapEvent(func(_ context.Context, e *fsm.Event) error {
			if onTransition != nil {
				onTransition(State(e.Src), State(e.Dst))
			}
			return nil
		}),
	}

	return fsm.NewFSM(string(StateIdle), events, callbacks)
}

func guardTrusted(_ context.Context, e *fsm.Event) error {
	if len(e.Args) == 0 {
		e.Cancel(errUntrusted)
		return nil
	}
	if v, ok := e.Args[0].(verify.Verdict); !ok || v != verify.Trusted {
		e.Cancel(errUntrusted)
	}
	return nil
}

// wrapEvent adapts an error-returning callback to fsm.Callback.
func wrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}
