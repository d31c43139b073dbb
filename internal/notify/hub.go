// Package notify routes finished-session results to the controller that
// started the session.
package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/adamancini/keel/internal/driver"
	"github.com/adamancini/keel/internal/log"
)

// subscriberBuffer bounds results queued for a slow subscriber.
const subscriberBuffer = 16

// Hub implements driver.Notifier. Results are delivered to the subscribers
// registered for the result's owner, at most once per session id.
type Hub struct {
	log log.Logger

	mu        sync.Mutex
	subs      map[string]map[int]chan driver.Result
	nextID    int
	delivered map[uuid.UUID]struct{}
}

var _ driver.Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger log.Logger) *Hub {
	return &Hub{
		log:       log.OrNop(logger).WithName("notify"),
		subs:      make(map[string]map[int]chan driver.Result),
		delivered: make(map[uuid.UUID]struct{}),
	}
}

// Subscribe registers for results owned by owner. The returned function
// unsubscribes and closes the channel.
func (h *Hub) Subscribe(owner string) (<-chan driver.Result, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan driver.Result, subscriberBuffer)
	id := h.nextID
	h.nextID++
	if h.subs[owner] == nil {
		h.subs[owner] = make(map[int]chan driver.Result)
	}
	h.subs[owner][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[owner], id)
			if len(h.subs[owner]) == 0 {
				delete(h.subs, owner)
			}
			close(ch)
		})
	}
}

// Notify delivers r. Duplicate session ids are ignored, results for owners
// with no subscriber are dropped, and a full subscriber misses the result
// rather than blocking the session.
func (h *Hub) Notify(r driver.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, seen := h.delivered[r.ID]; seen {
		h.log.Debug("duplicate notification ignored", "session", r.ID.String())
		return
	}
	h.delivered[r.ID] = struct{}{}

	subs := h.subs[r.Owner]
	if len(subs) == 0 {
		h.log.Debug("no subscriber for session owner", "owner", r.Owner, "session", r.ID.String())
		return
	}
	for _, ch := range subs {
		select {
		case ch <- r:
		default:
			h.log.Warn("subscriber is full; result dropped", "owner", r.Owner, "session", r.ID.String())
		}
	}
}
