// Package geocode resolves free text and coordinates to named places
// using the OpenStreetMap Nominatim API.
package geocode

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

	"golang.org/x/time/rate"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
	"github.com/mr1hm/nepal-hazard-watch/internal/observability"
)

const (
	// SelectedLocationName names a search hit with no usable address parts.
	SelectedLocationName = "Selected Location"

	reverseZoom = "10" // city level
)

// Geocoder is the place lookup used by the location resolver.
type Geocoder interface {
	Search(ctx context.Context, query string, limit int) ([]models.PlaceCandidate, error)
	// Reverse returns a best-effort place name, or "" when the provider
	// knows no city, town or village at the point.
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Client implements Geocoder against Nominatim.
type Client struct {
	baseURL      string
	userAgent    string
	countryCodes string
	httpClient   *http.Client
	limiter      *rate.Limiter
	metrics      *observability.Metrics
	logger       *slog.Logger
}

type Options struct {
	BaseURL      string
	UserAgent    string
	CountryCodes string
	Timeout      time.Duration
	RPS          float64
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// NewClient creates a Nominatim client. Outbound requests are throttled
// to opts.RPS as the public instance's usage policy requires.
func NewClient(opts Options) *Client {
	if opts.RPS <= 0 {
		opts.RPS = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL:      opts.BaseURL,
		userAgent:    opts.UserAgent,
		countryCodes: opts.CountryCodes,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(opts.RPS), 1),
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.PlaceCandidate, error) {
	params := url.Values{
		"format":         {"json"},
		"q":              {query},
		"addressdetails": {"1"},
	}
	if c.countryCodes != "" {
		params.Set("countrycodes", c.countryCodes)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var places []place
	if err := c.get(ctx, "search", "/search?"+params.Encode(), &places); err != nil {
		return nil, err
	}

	candidates := make([]models.PlaceCandidate, 0, len(places))
	for _, p := range places {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lon, errLon := strconv.ParseFloat(p.Lon, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		name := p.Address.locality()
		if name == "" {
			name = p.Name
		}
		if name == "" {
			name = SelectedLocationName
		}
		candidates = append(candidates, models.PlaceCandidate{
			Name:        name,
			DisplayName: p.DisplayName,
			Lat:         lat,
			Lon:         lon,
		})
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	c.recordOutcome("search", len(candidates) == 0)
	return candidates, nil
}

func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{
		"format": {"json"},
		"lat":    {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(lon, 'f', -1, 64)},
		"zoom":   {reverseZoom},
	}

	var p place
	if err := c.get(ctx, "reverse", "/reverse?"+params.Encode(), &p); err != nil {
		return "", err
	}

	name := p.Address.locality()
	c.recordOutcome("reverse", name == "")
	return name, nil
}

func (c *Client) get(ctx context.Context, method, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit wait: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("%s geocode request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) recordOutcome(method string, empty bool) {
	outcome := "success"
	if empty {
		outcome = "empty"
	}
	c.metrics.GeocodeRequests.WithLabelValues(method, outcome).Inc()
	c.logger.Debug("geocode complete", "method", method, "outcome", outcome)
}

// Nominatim API response types.

type place struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
}

type address struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
}

func (a address) locality() string {
	switch {
	case a.City != "":
		return a.City
	case a.Town != "":
		return a.Town
	default:
		return a.Village
	}
}
