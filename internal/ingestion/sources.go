package ingestion

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

const (
	HeatWaveThreshold  = 35.0 // °C
	HighWindThreshold  = 40.0 // km/h
	HeavyRainThreshold = 10.0 // mm/h
)

// SeismicSource emits a candidate for every event id that was absent from
// the previous successful fetch. The first fetch only seeds the id set.
// The id set and event set survive location changes.
type SeismicSource struct {
	provider SeismicProvider
	query    SeismicQuery
	clock    clockwork.Clock

	mu      sync.RWMutex
	seeded  bool
	prevIDs map[string]struct{}
	events  []models.HazardEvent
}

func NewSeismicSource(provider SeismicProvider, query SeismicQuery, clock clockwork.Clock) *SeismicSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SeismicSource{
		provider: provider,
		query:    query,
		clock:    clock,
		prevIDs:  make(map[string]struct{}),
	}
}

func (s *SeismicSource) Name() string { return "usgs" }

func (s *SeismicSource) Poll(ctx context.Context, _ models.Location) ([]models.AlertCandidate, error) {
	events, err := s.provider.FetchEvents(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("fetch seismic events: %w", err)
	}

	now := s.clock.Now()
	ids := make(map[string]struct{}, len(events))

	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []models.AlertCandidate
	for _, e := range events {
		ids[e.ID] = struct{}{}
		if !s.seeded {
			continue
		}
		if _, seen := s.prevIDs[e.ID]; seen {
			continue
		}
		candidates = append(candidates, models.AlertCandidate{
			Kind:       models.AlertKindEarthquake,
			Payload:    e,
			ObservedAt: now,
		})
	}

	s.prevIDs = ids
	s.events = append([]models.HazardEvent(nil), events...)
	s.seeded = true

	return candidates, nil
}

// Events returns the full event set of the most recent successful fetch.
func (s *SeismicSource) Events() []models.HazardEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.HazardEvent(nil), s.events...)
}

// WeatherSource emits threshold candidates on every poll where a
// threshold is exceeded; repeats are left to admission.
type WeatherSource struct {
	provider WeatherProvider
	clock    clockwork.Clock

	mu     sync.RWMutex
	latest *models.WeatherSnapshot
}

func NewWeatherSource(provider WeatherProvider, clock clockwork.Clock) *WeatherSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WeatherSource{provider: provider, clock: clock}
}

func (s *WeatherSource) Name() string { return "openweather" }

func (s *WeatherSource) Poll(ctx context.Context, loc models.Location) ([]models.AlertCandidate, error) {
	snap, err := s.provider.FetchCurrent(ctx, loc.Lat, loc.Lon)
	if err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}

	s.mu.Lock()
	s.latest = &snap
	s.mu.Unlock()

	now := s.clock.Now()
	var candidates []models.AlertCandidate
	if snap.Temperature > HeatWaveThreshold {
		candidates = append(candidates, models.AlertCandidate{
			Kind: models.AlertKindHeatWave,
			Payload: models.Observation{
				Metric:   "temperature",
				Value:    snap.Temperature,
				Unit:     "°C",
				Location: loc.Name,
			},
			ObservedAt: now,
		})
	}
	if snap.WindSpeed > HighWindThreshold {
		candidates = append(candidates, models.AlertCandidate{
			Kind: models.AlertKindHighWind,
			Payload: models.Observation{
				Metric:   "wind_speed",
				Value:    snap.WindSpeed,
				Unit:     "km/h",
				Location: loc.Name,
			},
			ObservedAt: now,
		})
	}
	return candidates, nil
}

// Latest returns the last good snapshot, if any.
func (s *WeatherSource) Latest() (models.WeatherSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return models.WeatherSnapshot{}, false
	}
	return *s.latest, true
}

// PrecipitationSource selects the current hour from the hourly series.
type PrecipitationSource struct {
	provider PrecipitationProvider
	clock    clockwork.Clock

	mu     sync.RWMutex
	latest *models.PrecipitationReading
}

func NewPrecipitationSource(provider PrecipitationProvider, clock clockwork.Clock) *PrecipitationSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PrecipitationSource{provider: provider, clock: clock}
}

func (s *PrecipitationSource) Name() string { return "openmeteo" }

func (s *PrecipitationSource) Poll(ctx context.Context, loc models.Location) ([]models.AlertCandidate, error) {
	series, err := s.provider.FetchHourly(ctx, loc.Lat, loc.Lon)
	if err != nil {
		return nil, fmt.Errorf("fetch precipitation: %w", err)
	}

	now := s.clock.Now()
	reading, err := series.At(now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.latest = &reading
	s.mu.Unlock()

	if reading.MillimetersPerHour <= HeavyRainThreshold {
		return nil, nil
	}
	return []models.AlertCandidate{{
		Kind: models.AlertKindHeavyRain,
		Payload: models.Observation{
			Metric:   "precipitation",
			Value:    reading.MillimetersPerHour,
			Unit:     "mm/h",
			Location: loc.Name,
		},
		ObservedAt: now,
	}}, nil
}

func (s *PrecipitationSource) Latest() (models.PrecipitationReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return models.PrecipitationReading{}, false
	}
	return *s.latest, true
}
