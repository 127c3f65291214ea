// Package location tracks the observer position: debounced place search,
// device-location lookup and committing a new location.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/nepal-hazard-watch/internal/geocode"
	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

const (
	DefaultDebounce = 500 * time.Millisecond
	DefaultLimit    = 8

	// MinQueryLength is the shortest query sent to the geocoder.
	MinQueryLength = 2

	// CurrentLocationName names a device location that could not be
	// reverse geocoded.
	CurrentLocationName = "Current Location"
)

var (
	// ErrSuperseded is returned to a search replaced by a newer one.
	ErrSuperseded = errors.New("search superseded by a newer query")

	// ErrLocationUnavailable means device coordinates could not be obtained.
	ErrLocationUnavailable = errors.New("location unavailable: enable location services")

	ErrInvalidLocation = errors.New("invalid location coordinates")
)

// DeviceLocator yields the device's coordinates.
type DeviceLocator interface {
	Locate(ctx context.Context) (lat, lon float64, err error)
}

// LocatorFunc adapts a function to DeviceLocator.
type LocatorFunc func(ctx context.Context) (float64, float64, error)

func (f LocatorFunc) Locate(ctx context.Context) (float64, float64, error) { return f(ctx) }

// Fixed is a DeviceLocator for coordinates reported by a client.
func Fixed(lat, lon float64) DeviceLocator {
	return LocatorFunc(func(context.Context) (float64, float64, error) { return lat, lon, nil })
}

type Options struct {
	Geocoder geocode.Geocoder
	Clock    clockwork.Clock
	Debounce time.Duration
	Limit    int
	Initial  models.Location
	Logger   *slog.Logger
}

type searchState int

const (
	searchWaiting searchState = iota
	searchFired
	searchSuperseded
)

// search is one Search call. fired closes when its debounce window ends
// without a newer query; superseded closes when a newer query arrives.
type search struct {
	query      string
	state      searchState
	timer      clockwork.Timer
	fired      chan struct{}
	superseded chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

// Resolver owns the current observer Location.
type Resolver struct {
	geocoder geocode.Geocoder
	clock    clockwork.Clock
	debounce time.Duration
	limit    int
	logger   *slog.Logger

	// commitMu serializes Select so listeners see commits in order.
	commitMu sync.Mutex

	mu        sync.Mutex
	current   models.Location
	latest    *search
	listeners map[uint64]func(models.Location)
	nextID    atomic.Uint64
}

func NewResolver(opts Options) *Resolver {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		geocoder:  opts.Geocoder,
		clock:     opts.Clock,
		debounce:  opts.Debounce,
		limit:     opts.Limit,
		logger:    opts.Logger,
		current:   opts.Initial,
		listeners: make(map[uint64]func(models.Location)),
	}
}

// Search looks up text once no newer Search has arrived for the debounce
// window. Earlier calls still waiting, or still in their lookup, return
// ErrSuperseded. Queries shorter than MinQueryLength return no results
// without a lookup.
func (r *Resolver) Search(ctx context.Context, text string) ([]models.PlaceCandidate, error) {
	query := strings.TrimSpace(text)

	r.mu.Lock()
	r.supersedeLocked()
	if utf8.RuneCountInString(query) < MinQueryLength {
		r.mu.Unlock()
		return []models.PlaceCandidate{}, nil
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &search{
		query:      query,
		fired:      make(chan struct{}),
		superseded: make(chan struct{}),
		ctx:        sctx,
		cancel:     cancel,
	}
	s.timer = r.clock.AfterFunc(r.debounce, func() { r.fire(s) })
	r.latest = s
	r.mu.Unlock()

	defer r.finish(s)

	select {
	case <-s.superseded:
		return nil, ErrSuperseded
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.fired:
	}

	r.logger.Debug("searching places", "query", query)
	places, err := r.geocoder.Search(s.ctx, query, r.limit)
	if err != nil {
		if r.wasSuperseded(s) {
			return nil, ErrSuperseded
		}
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if len(places) > r.limit {
		places = places[:r.limit]
	}
	return places, nil
}

func (r *Resolver) fire(s *search) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.state != searchWaiting {
		return
	}
	s.state = searchFired
	close(s.fired)
}

func (r *Resolver) supersedeLocked() {
	s := r.latest
	if s == nil {
		return
	}
	if s.state == searchWaiting {
		s.timer.Stop()
	}
	s.state = searchSuperseded
	close(s.superseded)
	s.cancel()
	r.latest = nil
}

func (r *Resolver) wasSuperseded(s *search) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.state == searchSuperseded
}

func (r *Resolver) finish(s *search) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == s {
		s.timer.Stop()
		r.latest = nil
	}
	s.cancel()
}

// pendingQuery is the query of the newest unfinished search.
func (r *Resolver) pendingQuery() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return ""
	}
	return r.latest.query
}

// UseDeviceLocation commits the device position. A failed reverse geocode
// falls back to CurrentLocationName; the coordinates are still used.
func (r *Resolver) UseDeviceLocation(ctx context.Context, locator DeviceLocator) (models.Location, error) {
	if locator == nil {
		return models.Location{}, ErrLocationUnavailable
	}
	lat, lon, err := locator.Locate(ctx)
	if err != nil {
		return models.Location{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	loc := models.Location{Name: CurrentLocationName, Lat: lat, Lon: lon}
	if !loc.Valid() {
		return models.Location{}, fmt.Errorf("%w: %v,%v", ErrInvalidLocation, lat, lon)
	}

	name, err := r.geocoder.Reverse(ctx, lat, lon)
	switch {
	case err != nil:
		r.logger.Warn("reverse geocode failed", "lat", lat, "lon", lon, "error", err)
	case name != "":
		loc.Name = name
	}

	if err := r.Select(loc); err != nil {
		return models.Location{}, err
	}
	return loc, nil
}

// Select commits loc as the observer location and notifies listeners.
// Concurrent calls are applied one at a time, commit and notification
// together, so the last listener call always carries Current().
func (r *Resolver) Select(loc models.Location) error {
	if !loc.Valid() {
		return fmt.Errorf("%w: %v,%v", ErrInvalidLocation, loc.Lat, loc.Lon)
	}

	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.mu.Lock()
	r.current = loc
	listeners := make([]func(models.Location), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	r.logger.Info("location selected", "name", loc.Name, "lat", loc.Lat, "lon", loc.Lon)
	for _, fn := range listeners {
		fn(loc)
	}
	return nil
}

func (r *Resolver) Current() models.Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// OnChange registers fn for every committed location. fn runs inside
// Select and must not call Select itself.
func (r *Resolver) OnChange(fn func(models.Location)) func() {
	id := r.nextID.Add(1)
	r.mu.Lock()
	r.listeners[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

// Close supersedes any search still in progress.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supersedeLocked()
}
