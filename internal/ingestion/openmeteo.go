package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

const openMeteoTimeLayout = "2006-01-02T15:04"

// HourlySeries maps local hour buckets to mm/h.
type HourlySeries struct {
	loc    *time.Location
	values map[int64]float64 // bucket start, unix seconds
}

func NewHourlySeries(loc *time.Location) *HourlySeries {
	if loc == nil {
		loc = time.UTC
	}
	return &HourlySeries{loc: loc, values: make(map[int64]float64)}
}

func (s *HourlySeries) Set(hour time.Time, mm float64) {
	s.values[s.bucket(hour).Unix()] = mm
}

func (s *HourlySeries) Len() int {
	return len(s.values)
}

// At returns the reading whose bucket contains now, in the series' zone.
func (s *HourlySeries) At(now time.Time) (models.PrecipitationReading, error) {
	hour := s.bucket(now)
	v, ok := s.values[hour.Unix()]
	if !ok {
		return models.PrecipitationReading{}, fmt.Errorf("%w: %s", ErrNoCurrentBucket, hour.Format(openMeteoTimeLayout))
	}
	return models.PrecipitationReading{MillimetersPerHour: v, Hour: hour}, nil
}

// bucket truncates t to the start of its local hour. time.Truncate works
// on absolute time and would be off for zones like +05:45.
func (s *HourlySeries) bucket(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, s.loc)
}

type openMeteoResponse struct {
	Hourly *struct {
		Time          []string   `json:"time"`
		Precipitation []*float64 `json:"precipitation"`
	} `json:"hourly"`
}

// OpenMeteoClient fetches hourly precipitation from Open-Meteo.
type OpenMeteoClient struct {
	baseURL    string
	timezone   string
	loc        *time.Location
	httpClient *http.Client
}

func NewOpenMeteoClient(baseURL, timezone string, timeout time.Duration) (*OpenMeteoClient, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &OpenMeteoClient{
		baseURL:    baseURL,
		timezone:   timezone,
		loc:        loc,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *OpenMeteoClient) FetchHourly(ctx context.Context, lat, lon float64) (*HourlySeries, error) {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"hourly":    {"precipitation"},
		"timezone":  {c.timezone},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("precipitation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, body)
	}

	var data openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if data.Hourly == nil || len(data.Hourly.Time) != len(data.Hourly.Precipitation) {
		return nil, fmt.Errorf("%w: hourly series missing or uneven", ErrMalformedPayload)
	}

	series := NewHourlySeries(c.loc)
	for i, ts := range data.Hourly.Time {
		v := data.Hourly.Precipitation[i]
		if v == nil {
			continue
		}
		hour, err := time.ParseInLocation(openMeteoTimeLayout, ts, c.loc)
		if err != nil {
			continue
		}
		series.Set(hour, *v)
	}

	return series, nil
}
