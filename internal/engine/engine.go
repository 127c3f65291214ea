// Package engine ties the pollers, the alert store and the location
// resolver together behind the interface the display surface uses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/nepal-hazard-watch/internal/alerts"
	"github.com/mr1hm/nepal-hazard-watch/internal/geo"
	"github.com/mr1hm/nepal-hazard-watch/internal/location"
	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

const DefaultNearbyLimit = 10

var ErrUnknownKind = errors.New("unknown alert kind")

// Pollers is the ingestion side: sources polling the current location
// and the snapshots they retain.
type Pollers interface {
	Start(ctx context.Context, loc models.Location)
	Restart(loc models.Location)
	Stop()
	Events() []models.HazardEvent
	Weather() (models.WeatherSnapshot, bool)
	Precipitation() (models.PrecipitationReading, bool)
}

// Conditions is the latest weather and precipitation for the observer.
// Either reading may be missing until its first good poll.
type Conditions struct {
	Location      models.Location              `json:"location"`
	Weather       *models.WeatherSnapshot      `json:"weather"`
	Precipitation *models.PrecipitationReading `json:"precipitation"`
}

type Options struct {
	Store       *alerts.Store
	Pollers     Pollers
	Resolver    *location.Resolver
	Clock       clockwork.Clock
	NearbyLimit int
	DemoAlerts  bool
	DemoDelay   time.Duration
	Logger      *slog.Logger
}

type Engine struct {
	store       *alerts.Store
	pollers     Pollers
	resolver    *location.Resolver
	clock       clockwork.Clock
	nearbyLimit int
	demoAlerts  bool
	demoDelay   time.Duration
	logger      *slog.Logger

	mu          sync.Mutex
	started     bool
	unsubscribe func()
	demoTimer   clockwork.Timer
}

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NearbyLimit <= 0 {
		opts.NearbyLimit = DefaultNearbyLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:       opts.Store,
		pollers:     opts.Pollers,
		resolver:    opts.Resolver,
		clock:       opts.Clock,
		nearbyLimit: opts.NearbyLimit,
		demoAlerts:  opts.DemoAlerts,
		demoDelay:   opts.DemoDelay,
		logger:      opts.Logger,
	}
}

// Start begins polling at the resolver's current location. Every later
// location commit restarts the pollers there; live alerts are kept.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	e.unsubscribe = e.resolver.OnChange(e.pollers.Restart)
	e.pollers.Start(ctx, e.resolver.Current())

	if e.demoAlerts {
		e.demoTimer = e.clock.AfterFunc(e.demoDelay, e.seedDemoAlerts)
	}
	e.logger.Info("engine started", "location", e.resolver.Current().Name)
}

// Stop halts polling, cancels pending searches and every alert expiry.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if e.demoTimer != nil {
		e.demoTimer.Stop()
	}
	e.mu.Unlock()

	e.pollers.Stop()
	e.resolver.Close()
	e.store.Close()
	e.logger.Info("engine stopped")
}

// SetLocation commits loc and moves the pollers there.
func (e *Engine) SetLocation(loc models.Location) error {
	return e.resolver.Select(loc)
}

func (e *Engine) Location() models.Location {
	return e.resolver.Current()
}

// DismissAlert removes the alert now. Unknown ids are a no-op.
func (e *Engine) DismissAlert(id string) bool {
	return e.store.Dismiss(id)
}

// CurrentAlerts is a point-in-time read of the live feed, newest first.
func (e *Engine) CurrentAlerts() []models.Alert {
	return e.store.Snapshot()
}

// NearbyHazards ranks the latest seismic event set by distance from the
// current location.
func (e *Engine) NearbyHazards() []models.RankedHazard {
	return geo.Rank(e.resolver.Current(), e.pollers.Events(), e.nearbyLimit)
}

// Subscribe calls fn on every insert, dismissal, expiry and eviction.
// fn runs on the mutating goroutine and must not block.
func (e *Engine) Subscribe(fn alerts.Listener) func() {
	return e.store.Subscribe(fn)
}

func (e *Engine) Search(ctx context.Context, text string) ([]models.PlaceCandidate, error) {
	return e.resolver.Search(ctx, text)
}

func (e *Engine) UseDeviceLocation(ctx context.Context, locator location.DeviceLocator) (models.Location, error) {
	return e.resolver.UseDeviceLocation(ctx, locator)
}

func (e *Engine) Conditions() Conditions {
	c := Conditions{Location: e.resolver.Current()}
	if w, ok := e.pollers.Weather(); ok {
		c.Weather = &w
	}
	if p, ok := e.pollers.Precipitation(); ok {
		c.Precipitation = &p
	}
	return c
}

// OfferTestAlert runs a synthetic candidate of kind through admission.
func (e *Engine) OfferTestAlert(kind models.AlertKind) (models.Alert, bool, error) {
	if !kind.Valid() {
		return models.Alert{}, false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	loc := e.resolver.Current()
	now := e.clock.Now()

	var payload any
	if kind == models.AlertKindEarthquake {
		payload = models.HazardEvent{
			ID:          "test-" + uuid.NewString(),
			Magnitude:   7.5,
			Place:       "Test earthquake near " + loc.Name,
			Coordinates: models.Coordinates{Latitude: loc.Lat, Longitude: loc.Lon},
			OccurredAt:  now,
		}
	} else {
		payload = models.Observation{Metric: "test", Location: loc.Name}
	}

	a, ok := e.store.Offer(models.AlertCandidate{Kind: kind, Payload: payload, ObservedAt: now})
	return a, ok, nil
}

// demoAlerts stand in for live data on an empty feed.
var demoAlerts = []models.AlertCandidate{
	{Kind: models.AlertKindFlood, Payload: models.Observation{Location: "Bagmati River, Kathmandu"}},
	{Kind: models.AlertKindLandslide, Payload: models.Observation{Location: "Sindhupalchok District"}},
	{Kind: models.AlertKindFire, Payload: models.Observation{Location: "Lalitpur Metropolitan City"}},
}

func (e *Engine) seedDemoAlerts() {
	if e.store.Len() > 0 {
		return
	}
	now := e.clock.Now()
	for _, c := range demoAlerts {
		c.ObservedAt = now
		e.store.Offer(c)
	}
	e.logger.Info("seeded demo alerts", "count", len(demoAlerts))
}
