package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const minPollInterval = 10 * time.Second

type Config struct {
	Server   ServerConfig
	Location LocationConfig
	Sources  SourcesConfig
	Alerts   AlertsConfig
	Geocode  GeocodeConfig
	Notify   NotifyConfig
	DB       DatabaseConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	RateLimitRPS    float64
}

type LocationConfig struct {
	DefaultName    string
	DefaultLat     float64
	DefaultLon     float64
	SearchDebounce time.Duration
	SearchLimit    int
	CountryCodes   string
}

// BBox is a latitude/longitude box in degrees.
type BBox struct {
	MinLat, MaxLat, MinLon, MaxLon float64
}

type SourcesConfig struct {
	USGSEnabled      bool
	USGSURL          string
	USGSPollInterval time.Duration
	USGSStartTime    string
	USGSMinMagnitude float64
	USGSBBox         BBox
	USGSLimit        int

	WeatherEnabled      bool
	OpenWeatherAPIKey   string
	OpenWeatherURL      string
	WeatherPollInterval time.Duration

	OpenMeteoEnabled          bool
	OpenMeteoURL              string
	PrecipitationPollInterval time.Duration
	PrecipitationTimezone     string

	FetchTimeout time.Duration
}

type AlertsConfig struct {
	TTL         time.Duration
	Capacity    int
	NearbyLimit int
	DemoEnabled bool
	DemoDelay   time.Duration
}

type GeocodeConfig struct {
	NominatimURL string
	UserAgent    string
	RPS          float64
	CacheSize    int
}

type NotifyConfig struct {
	KafkaBrokers []string
	KafkaTopic   string

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTTopicPrefix string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	Workers    int
	BufferSize int
}

// Enabled reports whether any sink is configured.
func (n NotifyConfig) Enabled() bool {
	return len(n.KafkaBrokers) > 0 || n.MQTTBrokerURL != "" || n.RedisAddr != ""
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	bbox, err := parseBBox(getEnv("USGS_BBOX", "26,31,80,89"))
	if err != nil {
		return nil, err
	}

	apiKey := getEnv("OPENWEATHER_API_KEY", "")

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "localhost"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			RateLimitRPS:    getEnvFloat("RATE_LIMIT_RPS", 5),
		},
		Location: LocationConfig{
			DefaultName:    getEnv("DEFAULT_LOCATION_NAME", "Kathmandu"),
			DefaultLat:     getEnvFloat("DEFAULT_LOCATION_LAT", 27.7172),
			DefaultLon:     getEnvFloat("DEFAULT_LOCATION_LON", 85.3240),
			SearchDebounce: getEnvDuration("SEARCH_DEBOUNCE", 500*time.Millisecond),
			SearchLimit:    getEnvInt("SEARCH_LIMIT", 8),
			CountryCodes:   getEnv("SEARCH_COUNTRY_CODES", "np"),
		},
		Sources: SourcesConfig{
			USGSEnabled:      getEnvBool("USGS_ENABLED", true),
			USGSURL:          getEnv("USGS_URL", "https://earthquake.usgs.gov/fdsnws/event/1/query"),
			USGSPollInterval: getEnvDuration("USGS_POLL_INTERVAL", time.Minute),
			USGSStartTime:    getEnv("USGS_START_TIME", "2025-10-20"),
			USGSMinMagnitude: getEnvFloat("USGS_MIN_MAGNITUDE", 4.0),
			USGSBBox:         bbox,
			USGSLimit:        getEnvInt("USGS_LIMIT", 20),

			WeatherEnabled:      getEnvBool("WEATHER_ENABLED", true) && apiKey != "",
			OpenWeatherAPIKey:   apiKey,
			OpenWeatherURL:      getEnv("OPENWEATHER_URL", "https://api.openweathermap.org/data/2.5/weather"),
			WeatherPollInterval: getEnvDuration("WEATHER_POLL_INTERVAL", 5*time.Minute),

			OpenMeteoEnabled:          getEnvBool("OPENMETEO_ENABLED", true),
			OpenMeteoURL:              getEnv("OPENMETEO_URL", "https://api.open-meteo.com/v1/forecast"),
			PrecipitationPollInterval: getEnvDuration("PRECIPITATION_POLL_INTERVAL", 10*time.Minute),
			PrecipitationTimezone:     getEnv("PRECIPITATION_TIMEZONE", "Asia/Kathmandu"),

			FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
		},
		Alerts: AlertsConfig{
			TTL:         getEnvDuration("ALERT_TTL", 60*time.Second),
			Capacity:    getEnvInt("ALERT_CAPACITY", 50),
			NearbyLimit: getEnvInt("NEARBY_LIMIT", 10),
			DemoEnabled: getEnvBool("DEMO_ALERTS_ENABLED", false),
			DemoDelay:   getEnvDuration("DEMO_ALERTS_DELAY", 5*time.Second),
		},
		Geocode: GeocodeConfig{
			NominatimURL: getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
			UserAgent:    getEnv("NOMINATIM_USER_AGENT", "nepal-hazard-watch/1.0"),
			RPS:          getEnvFloat("NOMINATIM_RPS", 1),
			CacheSize:    getEnvInt("GEOCODE_CACHE_SIZE", 500),
		},
		Notify: NotifyConfig{
			KafkaBrokers:    getEnvList("KAFKA_BROKERS"),
			KafkaTopic:      getEnv("KAFKA_TOPIC", "hazard-alerts"),
			MQTTBrokerURL:   getEnv("MQTT_BROKER_URL", ""),
			MQTTClientID:    getEnv("MQTT_CLIENT_ID", "nepal-hazard-watch"),
			MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "hazard/alerts"),
			RedisAddr:       getEnv("REDIS_ADDR", ""),
			RedisPassword:   getEnv("REDIS_PASSWORD", ""),
			RedisDB:         getEnvInt("REDIS_DB", 0),
			RedisKey:        getEnv("REDIS_KEY", "hazard:alerts:live"),
			Workers:         getEnvInt("NOTIFY_WORKERS", 2),
			BufferSize:      getEnvInt("NOTIFY_BUFFER", 64),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/hazard-watch.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit must be positive: %v", c.Server.RateLimitRPS)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Location.DefaultLat < -90 || c.Location.DefaultLat > 90 ||
		c.Location.DefaultLon < -180 || c.Location.DefaultLon > 180 {
		return fmt.Errorf("default location out of range: %v,%v", c.Location.DefaultLat, c.Location.DefaultLon)
	}
	if c.Location.SearchLimit < 1 {
		return fmt.Errorf("search limit must be at least 1")
	}

	if c.Sources.USGSPollInterval < minPollInterval {
		return fmt.Errorf("USGS poll interval must be at least %s", minPollInterval)
	}
	if c.Sources.WeatherPollInterval < minPollInterval {
		return fmt.Errorf("weather poll interval must be at least %s", minPollInterval)
	}
	if c.Sources.PrecipitationPollInterval < minPollInterval {
		return fmt.Errorf("precipitation poll interval must be at least %s", minPollInterval)
	}
	if c.Sources.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if _, err := time.Parse(time.DateOnly, c.Sources.USGSStartTime); err != nil {
		return fmt.Errorf("invalid USGS start time %q: %w", c.Sources.USGSStartTime, err)
	}
	if _, err := time.LoadLocation(c.Sources.PrecipitationTimezone); err != nil {
		return fmt.Errorf("invalid precipitation timezone %q: %w", c.Sources.PrecipitationTimezone, err)
	}

	if c.Alerts.TTL <= 0 {
		return fmt.Errorf("alert TTL must be positive")
	}
	if c.Alerts.Capacity < 1 {
		return fmt.Errorf("alert capacity must be at least 1")
	}

	return nil
}

// parseBBox reads "minLat,maxLat,minLon,maxLon".
func parseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("invalid bbox %q: want minLat,maxLat,minLon,maxLon", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("invalid bbox %q: %w", s, err)
		}
		v[i] = f
	}
	b := BBox{MinLat: v[0], MaxLat: v[1], MinLon: v[2], MaxLon: v[3]}
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return BBox{}, fmt.Errorf("invalid bbox %q: min must be below max", s)
	}
	return b, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
