package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	APIURL        string
	WSURL         string
	RedisURL      string
	RedisPassword string
	DatabaseURL   string
	ListenAddr    string
	PageSize      int
	LogLevel      string

	// Fixed position used when no other location source is configured.
	Latitude  *float64
	Longitude *float64

	GeoTimeout time.Duration
	GeoMaxAge  time.Duration

	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func LoadEnv() {
	// Load environment variables
	err := godotenv.Load()
	if err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
}

func GetEnv(key string, fallback string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}

	return value
}

func GetEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer, using default")
		return fallback
	}
	return n
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
		return fallback
	}
	return d
}

// GetEnvFloat returns nil when the key is unset or not a number.
func GetEnvFloat(key string) *float64 {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid number, ignoring")
		return nil
	}
	return &f
}

func Load() Config {
	LoadEnv()

	apiURL := strings.TrimRight(GetEnv("API_URL", "http://localhost:8080"), "/")

	cfg := Config{
		APIURL:            apiURL,
		WSURL:             GetEnv("WS_URL", deriveWSURL(apiURL)),
		RedisURL:          GetEnv("REDIS_URL", ""),
		RedisPassword:     GetEnv("REDIS_PASSWORD", ""),
		DatabaseURL:       GetEnv("DATABASE_URL", ""),
		ListenAddr:        GetEnv("LISTEN_ADDR", ":3000"),
		PageSize:          GetEnvInt("PAGE_SIZE", 20),
		LogLevel:          GetEnv("LOG_LEVEL", "info"),
		Latitude:          GetEnvFloat("LATITUDE"),
		Longitude:         GetEnvFloat("LONGITUDE"),
		GeoTimeout:        GetEnvDuration("GEO_TIMEOUT", 10*time.Second),
		GeoMaxAge:         GetEnvDuration("GEO_MAX_AGE", 60*time.Second),
		ReconnectAttempts: GetEnvInt("RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:    GetEnvDuration("RECONNECT_DELAY", time.Second),
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}

	return cfg
}

// deriveWSURL turns http(s)://host into ws(s)://host/ws.
func deriveWSURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return "ws://localhost:8080/ws"
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}
