// Package alerts holds the live alert feed: admission, a bounded
// newest-first store with per-alert expiry, and change notification.
package alerts

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
	"github.com/mr1hm/nepal-hazard-watch/internal/observability"
)

const (
	DefaultCapacity = 50
	DefaultTTL      = 60 * time.Second
)

type Options struct {
	Capacity int
	TTL      time.Duration
	Clock    clockwork.Clock
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// expiry is the pending TTL removal of one insert. gen tells a timer
// that already fired apart from the one that replaced it.
type expiry struct {
	timer clockwork.Timer
	gen   uint64
}

// Store is the live alert feed shared by every poller and the display
// surface. All mutations, including timer-driven expiry, hold mu.
type Store struct {
	mu       sync.RWMutex
	alerts   []models.Alert // newest first
	timers   map[string]expiry
	nextGen  uint64
	closed   bool
	capacity int
	ttl      time.Duration

	clock       clockwork.Clock
	broadcaster *Broadcaster
	metrics     *observability.Metrics
	logger      *slog.Logger
}

func NewStore(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Store{
		timers:      make(map[string]expiry),
		capacity:    opts.Capacity,
		ttl:         opts.TTL,
		clock:       opts.Clock,
		broadcaster: NewBroadcaster(),
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// Offer runs admission for c against the live alerts and inserts it when
// admitted. Admission and insert happen under one lock so two pollers
// cannot both admit the same identity.
func (s *Store) Offer(c models.AlertCandidate) (models.Alert, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Alert{}, false
	}

	now := s.clock.Now()
	if !Admit(c, s.liveLocked(now)) {
		s.mu.Unlock()
		s.metrics.AlertsRejected.WithLabelValues(string(c.Kind)).Inc()
		return models.Alert{}, false
	}

	a := models.Alert{
		ID:        uuid.NewString(),
		Kind:      c.Kind,
		Payload:   c.Payload,
		CreatedAt: now,
	}
	a, changes := s.insertLocked(a, now)
	s.mu.Unlock()

	s.metrics.AlertsAdmitted.WithLabelValues(string(c.Kind)).Inc()
	s.logger.Info("alert admitted", "id", a.ID, "kind", a.Kind)
	s.publish(changes)
	return a, true
}

// Insert adds a directly without admission. An empty ID is filled in and
// the expiry is always now+TTL. An alert already live under the same ID
// is replaced and its TTL starts over; an expiry scheduled for the
// replaced alert never removes the new one.
func (s *Store) Insert(a models.Alert) models.Alert {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return a
	}
	now := s.clock.Now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.Dismissed = false
	a, changes := s.insertLocked(a, now)
	s.mu.Unlock()

	s.publish(changes)
	return a
}

func (s *Store) insertLocked(a models.Alert, now time.Time) (models.Alert, []models.AlertChange) {
	a.ExpiresAt = now.Add(s.ttl)
	if idx := s.indexLocked(a.ID); idx >= 0 {
		s.removeLocked(idx)
	}

	next := make([]models.Alert, 0, len(s.alerts)+1)
	next = append(next, a)
	next = append(next, s.alerts...)
	s.alerts = next

	id := a.ID
	s.stopTimerLocked(id)
	s.nextGen++
	gen := s.nextGen
	s.timers[id] = expiry{
		timer: s.clock.AfterFunc(s.ttl, func() { s.expire(id, gen) }),
		gen:   gen,
	}

	changes := []models.AlertChange{{Type: models.ChangeInserted, Alert: a, At: now}}
	for len(s.alerts) > s.capacity {
		last := len(s.alerts) - 1
		evicted := s.alerts[last]
		s.alerts = s.alerts[:last]
		s.stopTimerLocked(evicted.ID)
		changes = append(changes, models.AlertChange{Type: models.ChangeEvicted, Alert: evicted, At: now})
	}

	s.metrics.LiveAlerts.Set(float64(len(s.alerts)))
	return a, changes
}

// Dismiss removes the alert with id immediately and cancels its expiry.
// It reports whether anything was removed; unknown ids are a no-op.
func (s *Store) Dismiss(id string) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	a := s.removeLocked(idx)
	s.stopTimerLocked(id)
	now := s.clock.Now()
	s.mu.Unlock()

	a.Dismissed = true
	s.publish([]models.AlertChange{{Type: models.ChangeDismissed, Alert: a, At: now}})
	return true
}

// expire removes id if gen is still its current expiry. A callback that
// fired just before a re-insert or dismissal finds another gen, or none.
func (s *Store) expire(id string, gen uint64) {
	s.mu.Lock()
	if cur, ok := s.timers[id]; !ok || cur.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	a := s.removeLocked(idx)
	now := s.clock.Now()
	s.mu.Unlock()

	s.logger.Debug("alert expired", "id", a.ID, "kind", a.Kind)
	s.publish([]models.AlertChange{{Type: models.ChangeExpired, Alert: a, At: now}})
}

// Snapshot returns the live alerts, newest first. Alerts past their expiry
// are left out even if their timer has not run yet.
func (s *Store) Snapshot() []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked(s.clock.Now())
}

// Len is the number of live alerts.
func (s *Store) Len() int {
	return len(s.Snapshot())
}

// Subscribe registers fn for insert, dismiss, expiry and eviction changes.
func (s *Store) Subscribe(fn Listener) func() {
	return s.broadcaster.Subscribe(fn)
}

// Close cancels every pending expiry and drops all subscribers. Later
// offers are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	for id := range s.timers {
		s.stopTimerLocked(id)
	}
	s.closed = true
	s.mu.Unlock()

	s.broadcaster.Close()
}

func (s *Store) liveLocked(now time.Time) []models.Alert {
	live := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if a.Dismissed || !now.Before(a.ExpiresAt) {
			continue
		}
		live = append(live, a)
	}
	return live
}

func (s *Store) indexLocked(id string) int {
	for i, a := range s.alerts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(idx int) models.Alert {
	a := s.alerts[idx]
	next := make([]models.Alert, 0, len(s.alerts)-1)
	next = append(next, s.alerts[:idx]...)
	next = append(next, s.alerts[idx+1:]...)
	s.alerts = next
	s.metrics.LiveAlerts.Set(float64(len(s.alerts)))
	return a
}

func (s *Store) stopTimerLocked(id string) {
	if e, ok := s.timers[id]; ok {
		e.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Store) publish(changes []models.AlertChange) {
	for _, c := range changes {
		if c.Type != models.ChangeInserted {
			s.metrics.AlertsRemoved.WithLabelValues(string(c.Type)).Inc()
		}
		s.broadcaster.Broadcast(c)
	}
}
