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

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

// msToKmh converts the provider's metric wind speed to km/h.
const msToKmh = 3.6

type openWeatherResponse struct {
	Main *struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"` // m/s with units=metric
	} `json:"wind"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// OpenWeatherClient fetches current conditions from OpenWeatherMap.
type OpenWeatherClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	clock      clockwork.Clock
}

func NewOpenWeatherClient(baseURL, apiKey string, timeout time.Duration, clock clockwork.Clock) *OpenWeatherClient {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OpenWeatherClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		clock:      clock,
	}
}

func (c *OpenWeatherClient) FetchCurrent(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
	params := url.Values{
		"lat":   {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":   {strconv.FormatFloat(lon, 'f', -1, 64)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.WeatherSnapshot{}, fmt.Errorf("openweather API error: status %d: %s", resp.StatusCode, body)
	}

	var data openWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if data.Main == nil {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: missing main block", ErrMalformedPayload)
	}

	snap := models.WeatherSnapshot{
		Temperature: data.Main.Temp,
		Humidity:    data.Main.Humidity,
		WindSpeed:   data.Wind.Speed * msToKmh,
		FetchedAt:   c.clock.Now(),
	}
	if len(data.Weather) > 0 {
		snap.Description = data.Weather[0].Description
	}
	return snap, nil
}
