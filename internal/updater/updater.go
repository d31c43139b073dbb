// Package updater owns update sessions for one host: it starts drivers,
// supersedes stale sessions, and schedules periodic checks.
package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/adamancini/keel/internal/driver"
	"github.com/adamancini/keel/internal/host"
	"github.com/adamancini/keel/internal/log"
	"github.com/adamancini/keel/internal/notify"
)

// ErrSessionInProgress is returned when the active session can no longer be
// superseded.
var ErrSessionInProgress = errors.New("an update session is in progress")

// Option configures an Updater.
type Option func(*Updater)

// WithClock sets the scheduler's time source.
func WithClock(c clock.Clock) Option {
	return func(u *Updater) { u.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(u *Updater) { u.log = l }
}

// WithHub routes results through a shared hub.
func WithHub(h *notify.Hub) Option {
	return func(u *Updater) { u.hub = h }
}

// WithOwner sets the owner id used for notification routing.
func WithOwner(owner string) Option {
	return func(u *Updater) { u.owner = owner }
}

// WithFeed sets the feed location used by scheduled checks. Empty means
// the host's feed_url.
func WithFeed(location string) Option {
	return func(u *Updater) { u.feed = location }
}

// WithSessionHook is called with every driver the updater starts, before
// its first event can be missed.
func WithSessionHook(fn func(*driver.Driver)) Option {
	return func(u *Updater) { u.hook = fn }
}

// Updater is the controller that owns sessions against one host.
type Updater struct {
	host  *host.Host
	cfg   driver.Config
	clock clock.Clock
	log   log.Logger
	hub   *notify.Hub
	owner string
	feed  string
	hook  func(*driver.Driver)

	results     <-chan driver.Result
	unsubscribe func()

	mu       sync.Mutex
	current  *driver.Driver
	sessions map[uuid.UUID]*driver.Driver
	wg       sync.WaitGroup
}

// New creates an Updater for h. cfg is the template for every driver; its
// Owner and Notifier are replaced.
func New(h *host.Host, cfg driver.Config, opts ...Option) *Updater {
	u := &Updater{
		host:     h,
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*driver.Driver),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.clock == nil {
		u.clock = clock.WallClock
	}
	if u.owner == "" {
		u.owner = "updater/" + uuid.NewString()
	}
	u.log = log.OrNop(u.log).WithName("updater").WithValues("owner", u.owner)
	if u.hub == nil {
		u.hub = notify.NewHub(u.log)
	}
	if u.cfg.Logger == nil {
		u.cfg.Logger = u.log
	}
	if u.cfg.Clock == nil {
		u.cfg.Clock = u.clock
	}
	u.cfg.Owner = u.owner
	u.cfg.Notifier = u.hub
	u.results, u.unsubscribe = u.hub.Subscribe(u.owner)
	return u
}

// Owner is the id sessions are routed by.
func (u *Updater) Owner() string { return u.owner }

// Results yields the terminal result of every session this updater starts.
// It is closed by Close.
func (u *Updater) Results() <-chan driver.Result { return u.results }

// CheckForUpdates starts a new session. A running session that is still
// interruptible is aborted as Superseded; otherwise ErrSessionInProgress is
// returned and nothing is started.
func (u *Updater) CheckForUpdates(ctx context.Context, location string) (*driver.Driver, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if cur := u.current; cur != nil {
		if err := cur.AbortUpdate(driver.Superseded); err != nil && !errors.Is(err, driver.ErrFinished) {
			return nil, fmt.Errorf("%w: %s (%v)", ErrSessionInProgress, cur.State(), err)
		}
	}

	d, err := driver.New(u.cfg)
	if err != nil {
		return nil, err
	}
	if u.hook != nil {
		u.hook(d)
	}
	if err := d.CheckForUpdates(ctx, location, u.host); err != nil {
		return nil, err
	}

	u.current = d
	u.sessions[d.ID()] = d
	u.wg.Add(1)
	go u.reap(d)

	return d, nil
}

// reap drops a session from the registry once it has finished.
func (u *Updater) reap(d *driver.Driver) {
	defer u.wg.Done()
	<-d.Done()

	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.sessions, d.ID())
	if u.current == d {
		u.current = nil
	}
}

// Session looks up a running session.
func (u *Updater) Session(id uuid.UUID) (*driver.Driver, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	d, ok := u.sessions[id]
	return d, ok
}

// Active returns the running session, if any.
func (u *Updater) Active() *driver.Driver {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current != nil && u.current.Finished() {
		return nil
	}
	return u.current
}

// Run checks for updates every interval until ctx is done. The first delay
// accounts for the host's last check time, so restarts do not check early.
// Ticks that find a session running are skipped.
func (u *Updater) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid check interval %s", interval)
	}

	var lastRun time.Time
	for {
		delay := u.nextDelay(interval, lastRun)
		u.log.Debug("next update check scheduled", "in", delay.String())

		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-u.clock.After(delay):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if d := u.Active(); d != nil {
			u.log.Info("skipping scheduled check; a session is running", "session", d.ID().String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.Done():
			}
			continue
		}

		lastRun = u.clock.Now()
		if _, err := u.CheckForUpdates(ctx, u.feed); err != nil {
			u.log.Warn("scheduled check failed to start", "error", err)
		}
	}
}

// nextDelay measures from the later of the recorded last check and the
// last check this loop started.
func (u *Updater) nextDelay(interval time.Duration, lastRun time.Time) time.Duration {
	last := lastRun
	if v, ok := u.host.PreferenceValue(host.KeyLastCheckTime); ok {
		if t, ok := v.(time.Time); ok && t.After(last) {
			last = t
		}
	}
	if last.IsZero() {
		return 0
	}
	elapsed := u.clock.Now().Sub(last)
	if elapsed < 0 || elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// Close aborts the running session if it is interruptible, waits for every
// session to finish, and closes Results.
func (u *Updater) Close() {
	if d := u.Active(); d != nil {
		if err := d.AbortUpdate(driver.UserCancelled); err != nil && !errors.Is(err, driver.ErrFinished) {
			u.log.Info("waiting for uninterruptible session", "session", d.ID().String(), "state", d.State())
		}
	}
	u.wg.Wait()
	u.unsubscribe()
}
