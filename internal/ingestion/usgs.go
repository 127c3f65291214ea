package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

type usgsResponse struct {
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string         `json:"id"`
	Properties usgsProperties `json:"properties"`
	Geometry   *usgsGeometry  `json:"geometry"`
}

type usgsProperties struct {
	Mag   *float64 `json:"mag"`
	Place string   `json:"place"`
	Time  int64    `json:"time"` // unix millis
}

type usgsGeometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
}

// USGSClient queries the USGS FDSN event service.
type USGSClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewUSGSClient(baseURL string, timeout time.Duration, logger *slog.Logger) *USGSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &USGSClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchEvents returns the events matching q, newest first. Features
// without an id or coordinates are skipped.
func (c *USGSClient) FetchEvents(ctx context.Context, q SeismicQuery) ([]models.HazardEvent, error) {
	params := url.Values{
		"format":       {"geojson"},
		"minmagnitude": {strconv.FormatFloat(q.MinMagnitude, 'f', -1, 64)},
		"minlatitude":  {strconv.FormatFloat(q.MinLat, 'f', -1, 64)},
		"maxlatitude":  {strconv.FormatFloat(q.MaxLat, 'f', -1, 64)},
		"minlongitude": {strconv.FormatFloat(q.MinLon, 'f', -1, 64)},
		"maxlongitude": {strconv.FormatFloat(q.MaxLon, 'f', -1, 64)},
		"orderby":      {"time"},
	}
	if !q.Since.IsZero() {
		params.Set("starttime", q.Since.UTC().Format(time.DateOnly))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, body)
	}

	var data usgsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	events := make([]models.HazardEvent, 0, len(data.Features))
	for _, f := range data.Features {
		if f.ID == "" || f.Geometry == nil || len(f.Geometry.Coordinates) < 2 {
			c.logger.Debug("skipping malformed feature", "source", "usgs", "id", f.ID)
			continue
		}
		e := models.HazardEvent{
			ID:    f.ID,
			Place: f.Properties.Place,
			Coordinates: models.Coordinates{
				Latitude:  f.Geometry.Coordinates[1],
				Longitude: f.Geometry.Coordinates[0],
			},
			OccurredAt: time.UnixMilli(f.Properties.Time).UTC(),
		}
		if f.Properties.Mag != nil {
			e.Magnitude = *f.Properties.Mag
		}
		events = append(events, e)
	}

	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}

	return events, nil
}
