package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "Kathmandu", cfg.Location.DefaultName)
	assert.Equal(t, 27.7172, cfg.Location.DefaultLat)
	assert.Equal(t, 85.3240, cfg.Location.DefaultLon)
	assert.Equal(t, 500*time.Millisecond, cfg.Location.SearchDebounce)
	assert.Equal(t, 8, cfg.Location.SearchLimit)
	assert.Equal(t, "np", cfg.Location.CountryCodes)

	assert.True(t, cfg.Sources.USGSEnabled)
	assert.Equal(t, time.Minute, cfg.Sources.USGSPollInterval)
	assert.Equal(t, "2025-10-20", cfg.Sources.USGSStartTime)
	assert.Equal(t, 4.0, cfg.Sources.USGSMinMagnitude)
	assert.Equal(t, BBox{MinLat: 26, MaxLat: 31, MinLon: 80, MaxLon: 89}, cfg.Sources.USGSBBox)
	assert.Equal(t, 20, cfg.Sources.USGSLimit)
	assert.False(t, cfg.Sources.WeatherEnabled, "weather needs an API key")
	assert.True(t, cfg.Sources.OpenMeteoEnabled)
	assert.Equal(t, "Asia/Kathmandu", cfg.Sources.PrecipitationTimezone)
	assert.Equal(t, 15*time.Second, cfg.Sources.FetchTimeout)

	assert.Equal(t, 60*time.Second, cfg.Alerts.TTL)
	assert.Equal(t, 50, cfg.Alerts.Capacity)
	assert.Equal(t, 10, cfg.Alerts.NearbyLimit)
	assert.False(t, cfg.Alerts.DemoEnabled)

	assert.False(t, cfg.Notify.Enabled())
	assert.Equal(t, "hazard-alerts", cfg.Notify.KafkaTopic)
	assert.Equal(t, "hazard:alerts:live", cfg.Notify.RedisKey)

	assert.Equal(t, "./data/hazard-watch.db", cfg.DB.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DEFAULT_LOCATION_NAME", "Pokhara")
	t.Setenv("DEFAULT_LOCATION_LAT", "28.2096")
	t.Setenv("DEFAULT_LOCATION_LON", "83.9856")
	t.Setenv("USGS_POLL_INTERVAL", "2m")
	t.Setenv("USGS_BBOX", "20, 35, 75, 95")
	t.Setenv("OPENWEATHER_API_KEY", "test-key")
	t.Setenv("ALERT_TTL", "90s")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "Pokhara", cfg.Location.DefaultName)
	assert.Equal(t, 28.2096, cfg.Location.DefaultLat)
	assert.Equal(t, 2*time.Minute, cfg.Sources.USGSPollInterval)
	assert.Equal(t, BBox{MinLat: 20, MaxLat: 35, MinLon: 75, MaxLon: 95}, cfg.Sources.USGSBBox)
	assert.True(t, cfg.Sources.WeatherEnabled)
	assert.Equal(t, "test-key", cfg.Sources.OpenWeatherAPIKey)
	assert.Equal(t, 90*time.Second, cfg.Alerts.TTL)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Notify.KafkaBrokers)
	assert.True(t, cfg.Notify.Enabled())
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_WeatherExplicitlyDisabled(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "test-key")
	t.Setenv("WEATHER_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Sources.WeatherEnabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"port", "SERVER_PORT", "70000", "invalid server port"},
		{"log level", "LOG_LEVEL", "verbose", "invalid log level"},
		{"log format", "LOG_FORMAT", "xml", "invalid log format"},
		{"usgs interval", "USGS_POLL_INTERVAL", "1200ms", "USGS poll interval"},
		{"weather interval", "WEATHER_POLL_INTERVAL", "1s", "weather poll interval"},
		{"precipitation interval", "PRECIPITATION_POLL_INTERVAL", "5s", "precipitation poll interval"},
		{"start time", "USGS_START_TIME", "yesterday", "invalid USGS start time"},
		{"timezone", "PRECIPITATION_TIMEZONE", "Mars/Olympus", "invalid precipitation timezone"},
		{"bbox arity", "USGS_BBOX", "26,31,80", "invalid bbox"},
		{"bbox order", "USGS_BBOX", "31,26,80,89", "min must be below max"},
		{"bbox number", "USGS_BBOX", "a,b,c,d", "invalid bbox"},
		{"ttl", "ALERT_TTL", "-1s", "alert TTL"},
		{"capacity", "ALERT_CAPACITY", "0", "alert capacity"},
		{"latitude", "DEFAULT_LOCATION_LAT", "95", "default location out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseBBox(t *testing.T) {
	b, err := parseBBox("26,31,80,89")
	require.NoError(t, err)
	assert.Equal(t, 26.0, b.MinLat)
	assert.Equal(t, 89.0, b.MaxLon)
}
