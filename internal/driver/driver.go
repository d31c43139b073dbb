// Package driver runs one update session: check, download, verify, confirm,
// and install or abort.
//
// A Driver is single-use. Its observable state (State, Interruptible,
// Finished, AbortReason, ShouldShowUI) is safe to read from any goroutine;
// transitions are made by the session goroutine and by AbortUpdate under one
// mutex, so no reader sees a half-applied transition.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/looplab/fsm"

	"github.com/adamancini/keel/internal/appcast"
	"github.com/adamancini/keel/internal/download"
	"github.com/adamancini/keel/internal/host"
	"github.com/adamancini/keel/internal/log"
	"github.com/adamancini/keel/internal/platform"
	"github.com/adamancini/keel/internal/verify"
)

var (
	ErrAlreadyStarted   = errors.New("driver already started; create a new driver for a new session")
	ErrFinished         = errors.New("session already finished")
	ErrNotInterruptible = errors.New("session is not interruptible")
	ErrTooLate          = fmt.Errorf("too late to abort: %w", ErrNotInterruptible)
	ErrInvalidReason    = errors.New("invalid abort reason")
	ErrNoHost           = errors.New("no host")
	ErrNoLocation       = errors.New("no update location")
	ErrNoInstaller      = errors.New("no installer configured")
	ErrAlertShown       = errors.New("an alert was already shown for this session")
)

// Fetcher is the transport used for the feed and the artifact.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (<-chan download.Event, error)
	Cancel()
}

// Installer applies a trusted artifact.
type Installer interface {
	Install(ctx context.Context, h *host.Host, item appcast.Item, a *verify.Artifact) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, h *host.Host, item appcast.Item, a *verify.Artifact) error

func (f InstallerFunc) Install(ctx context.Context, h *host.Host, item appcast.Item, a *verify.Artifact) error {
	return f(ctx, h, item, a)
}

// Notifier receives exactly one Result per session, after the last transition.
type Notifier interface {
	Notify(Result)
}

// Recorder observes session activity for metrics.
type Recorder interface {
	Transition(from, to State)
	DownloadBytes(n int)
	SessionFinished(r Result)
}

type nopRecorder struct{}

func (nopRecorder) Transition(State, State) {}
func (nopRecorder) DownloadBytes(int)       {}
func (nopRecorder) SessionFinished(Result)  {}

// Config wires a Driver to its collaborators. Installer is required.
type Config struct {
	// Owner identifies the controller that started the session; the
	// Notifier uses it for routing.
	Owner string

	// NewFetcher creates the session's transport. Defaults to download.New.
	NewFetcher func() Fetcher

	Installer Installer
	Notifier  Notifier
	Metrics   Recorder
	Logger    log.Logger

	// Platform filters feed items. Defaults to platform.Detect().
	Platform platform.Platform

	// Clock stamps session start, finish and last check time.
	Clock clock.Clock

	// AutomaticallyInstallUpdates installs without prompting.
	AutomaticallyInstallUpdates bool
}

// Driver is one update session.
type Driver struct {
	id       uuid.UUID
	owner    string
	newFetch func() Fetcher
	install  Installer
	notifier Notifier
	metrics  Recorder
	log      log.Logger
	platform platform.Platform
	clock    clock.Clock

	mu          sync.Mutex
	machine     *fsm.FSM
	host        *host.Host
	fetcher     Fetcher
	cancel      context.CancelFunc
	autoInstall bool
	started     bool
	alerted     bool
	finished    bool
	reason      AbortReason
	err         error
	item        appcast.Item
	startedAt   time.Time
	result      Result

	events chan Event
	done   chan struct{}
}

// New creates a driver in StateIdle.
func New(cfg Config) (*Driver, error) {
	if cfg.Installer == nil {
		return nil, ErrNoInstaller
	}

	d := &Driver{
		id:          uuid.New(),
		owner:       cfg.Owner,
		newFetch:    cfg.NewFetcher,
		install:     cfg.Installer,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		platform:    cfg.Platform,
		clock:       cfg.Clock,
		autoInstall: cfg.AutomaticallyInstallUpdates,
		// One DecisionRequest and one FinishedEvent at most.
		events: make(chan Event, 2),
		done:   make(chan struct{}),
	}
	if d.metrics == nil {
		d.metrics = nopRecorder{}
	}
	if d.platform == (platform.Platform{}) {
		d.platform = platform.Detect()
	}
	if d.clock == nil {
		d.clock = clock.WallClock
	}
	d.log = log.OrNop(cfg.Logger).WithName("driver").WithValues("session", d.id.String())
	if d.newFetch == nil {
		logger := cfg.Logger
		d.newFetch = func() Fetcher { return download.New(download.WithLogger(logger)) }
	}

	d.machine = newMachine(func(from, to State) {
		d.log.Debug("transition", "from", from, "to", to)
		d.metrics.Transition(from, to)
	})

	return d, nil
}

// ID identifies the session.
func (d *Driver) ID() uuid.UUID { return d.id }

// Owner is the identifier of the controller that created the driver.
func (d *Driver) Owner() string { return d.owner }

// Events yields at most one DecisionRequest and then exactly one
// FinishedEvent, after which it is closed. It never blocks the session.
func (d *Driver) Events() <-chan Event { return d.events }

// Done is closed once the session's notification has been delivered.
func (d *Driver) Done() <-chan struct{} { return d.done }

// State is the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State(d.machine.Current())
}

// Interruptible reports whether AbortUpdate would currently take effect.
func (d *Driver) Interruptible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.finished && State(d.machine.Current()).Interruptible()
}

// Finished reports whether the session reached its terminal state.
func (d *Driver) Finished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finished
}

// AbortReason returns the session outcome. ok is false until finished.
func (d *Driver) AbortReason() (AbortReason, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.finished {
		return None, false
	}
	return d.result.Reason, true
}

// Result returns the terminal status. ok is false until finished.
func (d *Driver) Result() (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result, d.finished
}

// AutomaticallyInstallUpdates reports the install mode.
func (d *Driver) AutomaticallyInstallUpdates() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autoInstall
}

// SetAutomaticallyInstallUpdates changes the install mode. It is read at
// the decision point, so it may be changed while the check is running.
func (d *Driver) SetAutomaticallyInstallUpdates(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoInstall = v
}

// ShouldShowUI reports whether the session will prompt. It is recomputed on
// every call from the install mode and the host's automatic-update
// preference.
func (d *Driver) ShouldShowUI() bool {
	d.mu.Lock()
	auto, h := d.autoInstall, d.host
	d.mu.Unlock()

	if auto {
		return false
	}
	if h != nil && h.Bool(host.KeyAutomaticallyUpdate) {
		return false
	}
	return true
}

// CheckForUpdates starts the session against the feed at location. An empty
// location falls back to the host's feed_url. It returns once the session is
// running; progress is observed through Events, Done and the state getters.
func (d *Driver) CheckForUpdates(ctx context.Context, location string, h *host.Host) error {
	if h == nil {
		return ErrNoHost
	}
	if location == "" {
		if v, ok := h.InfoValue(host.KeyFeedURL); ok {
			location, _ = v.(string)
		}
	}
	if location == "" {
		return ErrNoLocation
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return ErrFinished
	}
	if d.started {
		return ErrAlreadyStarted
	}

	if err := d.machine.Event(context.Background(), eventStart); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	d.started = true
	d.host = h
	d.cancel = cancel
	d.fetcher = d.newFetch()
	d.startedAt = d.clock.Now()
	d.log = d.log.WithValues("host", h.Identifier())

	d.log.Info("checking for updates", "location", location, "version", h.Version())

	go d.run(sctx, location)
	return nil
}

// AbortUpdate stops the session with reason. It takes effect only while the
// session is interruptible; otherwise it returns ErrTooLate (a natural
// completion is already under way), ErrNotInterruptible (already aborting)
// or ErrFinished. A nil return guarantees the session finishes with reason.
func (d *Driver) AbortUpdate(reason AbortReason) error {
	if reason == None || !reason.Valid() {
		return ErrInvalidReason
	}

	d.mu.Lock()

	if d.finished {
		d.mu.Unlock()
		return ErrFinished
	}

	switch state := State(d.machine.Current()); {
	case state == StateAborting:
		d.mu.Unlock()
		return ErrNotInterruptible
	case !state.Interruptible():
		d.mu.Unlock()
		return ErrTooLate
	}

	if err := d.machine.Event(context.Background(), eventAbort); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to abort: %w", err)
	}
	d.reason = reason

	d.log.Info("abort requested", "reason", reason)

	if !d.started {
		// Nothing is running; finish here.
		result := d.finishLocked(None, nil)
		d.mu.Unlock()
		d.deliver(result)
		return nil
	}

	d.cancel()
	fetcher := d.fetcher
	d.mu.Unlock()

	fetcher.Cancel()
	return nil
}

// ShowAlert publishes a DecisionRequest and waits for its resolution. At
// most one alert is shown per session.
func (d *Driver) ShowAlert(ctx context.Context, a Alert) (Choice, error) {
	d.mu.Lock()
	if d.finished {
		d.mu.Unlock()
		return Later, ErrFinished
	}
	if d.alerted {
		d.mu.Unlock()
		return Later, ErrAlertShown
	}
	d.alerted = true

	req := DecisionRequest{Alert: a, reply: make(chan Choice, 1)}
	// Sent under the lock so it cannot race with close(d.events).
	d.events <- req
	d.mu.Unlock()

	select {
	case c := <-req.reply:
		return c, nil
	case <-ctx.Done():
		return Later, ctx.Err()
	}
}

// advance fires a forward transition unless the session is aborting.
func (d *Driver) advance(event string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if State(d.machine.Current()) == StateAborting {
		return errAborted
	}
	return d.machine.Event(context.Background(), event, args...)
}

var errAborted = errors.New("session aborted")

// finishLocked moves the machine to StateFinished and records the result.
// reason and err describe the session's own outcome; an abort already
// requested takes precedence. Callers hold d.mu.
func (d *Driver) finishLocked(reason AbortReason, err error) Result {
	ctx := context.Background()

	switch State(d.machine.Current()) {
	case StateAborting:
		// Abort already requested; its reason wins.
	case StateInstalling:
		if reason == None {
			_ = d.machine.Event(ctx, eventComplete)
			break
		}
		fallthrough
	default:
		if reason == None {
			// Only Installing can complete without a reason.
			reason, err = InstallationFailed, fmt.Errorf("session ended in state %s", d.machine.Current())
		}
		_ = d.machine.Event(ctx, eventAbort)
		d.reason, d.err = reason, err
	}
	if State(d.machine.Current()) == StateAborting {
		_ = d.machine.Event(ctx, eventFinish)
	} else {
		d.reason, d.err = None, nil
	}

	d.finished = true
	d.result = Result{
		ID:      d.id,
		Owner:   d.owner,
		Reason:  d.reason,
		Err:     d.err,
		Version: d.item.Version,
		Started: d.startedAt,
		Ended:   d.clock.Now(),
	}
	if d.host != nil {
		d.result.Host = d.host.Identifier()
	}
	if d.startedAt.IsZero() {
		d.result.Started = d.result.Ended
	}

	d.events <- FinishedEvent{Result: d.result}
	close(d.events)

	return d.result
}

// deliver runs once per session, after the final transition.
func (d *Driver) deliver(r Result) {
	switch {
	case r.Installed():
		d.log.Info("update installed", "version", r.Version)
	case r.Reason.IsError():
		d.log.Error(r.Err, "update session failed", "reason", r.Reason)
	default:
		d.log.Info("update session ended", "reason", r.Reason)
	}

	d.metrics.SessionFinished(r)
	if d.notifier != nil {
		d.notifier.Notify(r)
	}
	close(d.done)
}
