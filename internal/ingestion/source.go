package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

var (
	// ErrMalformedPayload means the provider answered 200 with a body we
	// cannot use.
	ErrMalformedPayload = errors.New("malformed provider payload")

	// ErrNoCurrentBucket means the hourly series has no entry for the
	// current local hour.
	ErrNoCurrentBucket = errors.New("no precipitation bucket for current hour")
)

// Source is one provider bound to its normalization rules. Poll fetches
// for loc, updates the source's retained snapshot on success and returns
// the candidates derived from it. On error the snapshot is left alone.
type Source interface {
	Name() string
	Poll(ctx context.Context, loc models.Location) ([]models.AlertCandidate, error)
}

// CandidateSink receives admitted-or-not candidates from pollers.
type CandidateSink interface {
	Offer(c models.AlertCandidate) (models.Alert, bool)
}

// SeismicQuery bounds a seismic fetch.
type SeismicQuery struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	MinMagnitude   float64
	Since          time.Time
	Limit          int
}

type SeismicProvider interface {
	FetchEvents(ctx context.Context, q SeismicQuery) ([]models.HazardEvent, error)
}

type WeatherProvider interface {
	FetchCurrent(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error)
}

type PrecipitationProvider interface {
	FetchHourly(ctx context.Context, lat, lon float64) (*HourlySeries, error)
}
