package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/nepal-hazard-watch/internal/config"
	"github.com/mr1hm/nepal-hazard-watch/internal/models"
	"github.com/mr1hm/nepal-hazard-watch/internal/observability"
)

type scheduled struct {
	poller   *Poller
	interval time.Duration
}

// Manager owns one poller per enabled source and moves them together
// when the observer location changes.
type Manager struct {
	sink    CandidateSink
	clock   clockwork.Clock
	timeout time.Duration
	metrics *observability.Metrics

	seismic       *SeismicSource
	weather       *WeatherSource
	precipitation *PrecipitationSource

	mu      sync.Mutex
	ctx     context.Context
	pollers []scheduled
	running bool
}

// NewManager builds the provider clients and sources that cfg enables.
func NewManager(cfg *config.Config, sink CandidateSink, clock clockwork.Clock, metrics *observability.Metrics) (*Manager, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Manager{
		sink:    sink,
		clock:   clock,
		timeout: cfg.Sources.FetchTimeout,
		metrics: metrics,
	}

	src := cfg.Sources
	if src.USGSEnabled {
		since, err := time.Parse(time.DateOnly, src.USGSStartTime)
		if err != nil {
			return nil, fmt.Errorf("parse USGS start time: %w", err)
		}
		client := NewUSGSClient(src.USGSURL, src.FetchTimeout, slog.Default())
		m.seismic = NewSeismicSource(client, SeismicQuery{
			MinLat:       src.USGSBBox.MinLat,
			MaxLat:       src.USGSBBox.MaxLat,
			MinLon:       src.USGSBBox.MinLon,
			MaxLon:       src.USGSBBox.MaxLon,
			MinMagnitude: src.USGSMinMagnitude,
			Since:        since,
			Limit:        src.USGSLimit,
		}, clock)
		m.add(m.seismic, src.USGSPollInterval)
	}

	if src.WeatherEnabled {
		client := NewOpenWeatherClient(src.OpenWeatherURL, src.OpenWeatherAPIKey, src.FetchTimeout, clock)
		m.weather = NewWeatherSource(client, clock)
		m.add(m.weather, src.WeatherPollInterval)
	}

	if src.OpenMeteoEnabled {
		client, err := NewOpenMeteoClient(src.OpenMeteoURL, src.PrecipitationTimezone, src.FetchTimeout)
		if err != nil {
			return nil, err
		}
		m.precipitation = NewPrecipitationSource(client, clock)
		m.add(m.precipitation, src.PrecipitationPollInterval)
	}

	return m, nil
}

// NewManagerWithSources wires already-built sources. Nil sources are skipped.
func NewManagerWithSources(sink CandidateSink, clock clockwork.Clock, timeout time.Duration, metrics *observability.Metrics,
	seismic *SeismicSource, weather *WeatherSource, precipitation *PrecipitationSource, interval time.Duration) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Manager{
		sink:          sink,
		clock:         clock,
		timeout:       timeout,
		metrics:       metrics,
		seismic:       seismic,
		weather:       weather,
		precipitation: precipitation,
	}
	if seismic != nil {
		m.add(seismic, interval)
	}
	if weather != nil {
		m.add(weather, interval)
	}
	if precipitation != nil {
		m.add(precipitation, interval)
	}
	return m
}

func (m *Manager) add(s Source, interval time.Duration) {
	p := NewPoller(s, m.sink, m.clock, m.timeout, m.metrics, slog.Default())
	m.pollers = append(m.pollers, scheduled{poller: p, interval: interval})
}

// Start launches every poller at loc. ctx bounds all of them.
func (m *Manager) Start(ctx context.Context, loc models.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ctx = ctx
	m.running = true
	for _, s := range m.pollers {
		s.poller.Start(ctx, loc, s.interval)
	}
	slog.Info("ingestion manager started", "pollers", len(m.pollers), "location", loc.Name)
}

// Restart moves every poller to loc. Each poller is stopped before it
// is started again. It is a no-op before Start or after Stop.
func (m *Manager) Restart(loc models.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	for _, s := range m.pollers {
		s.poller.Start(m.ctx, loc, s.interval)
	}
	slog.Info("pollers restarted", "location", loc.Name, "lat", loc.Lat, "lon", loc.Lon)
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.pollers {
		s.poller.Stop()
	}
	m.running = false
	slog.Info("ingestion manager stopped")
}

// Events is the retained seismic event set, empty when seismic polling is off.
func (m *Manager) Events() []models.HazardEvent {
	if m.seismic == nil {
		return nil
	}
	return m.seismic.Events()
}

func (m *Manager) Weather() (models.WeatherSnapshot, bool) {
	if m.weather == nil {
		return models.WeatherSnapshot{}, false
	}
	return m.weather.Latest()
}

func (m *Manager) Precipitation() (models.PrecipitationReading, bool) {
	if m.precipitation == nil {
		return models.PrecipitationReading{}, false
	}
	return m.precipitation.Latest()
}
