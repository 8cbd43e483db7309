package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"shoutmap/internal/realtime"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Redis       RedisConfig
	Geo         GeoConfig
	Geocoder    GeocoderConfig
	Realtime    RealtimeConfig
	Chat        ChatConfig
	RateLimit   RateLimitConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
	AppBaseURL      string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GeoConfig holds geospatial service configuration
type GeoConfig struct {
	DefaultRadiusMeters float64
	MinRadiusMeters     float64
	MaxRadiusMeters     float64
}

// GeocoderConfig holds geocoder configuration
type GeocoderConfig struct {
	BaseURL        string
	Timeout        time.Duration
	CoalesceWindow time.Duration
}

// RealtimeConfig holds realtime aggregation configuration
type RealtimeConfig struct {
	DebounceWindow        time.Duration
	BroadcastRadiusMeters float64
	SessionIdleTimeout    time.Duration
}

// ChatConfig holds chat configuration
type ChatConfig struct {
	MaxMessageLength int
	PageSize         int
}

// RateLimitConfig holds per-action rate limit budgets
type RateLimitConfig struct {
	ShoutsPerWindow     int
	MegaphonesPerWindow int
	Window              time.Duration
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
			AppBaseURL:      getEnv("APP_BASE_URL", "https://shoutmap.app"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "shoutmap"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Geo: GeoConfig{
			DefaultRadiusMeters: getEnvAsFloat("GEO_DEFAULT_RADIUS_METERS", 2000),
			MinRadiusMeters:     getEnvAsFloat("GEO_MIN_RADIUS_METERS", 100),
			MaxRadiusMeters:     getEnvAsFloat("GEO_MAX_RADIUS_METERS", 20000),
		},
		Geocoder: GeocoderConfig{
			BaseURL:        getEnv("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
			Timeout:        getEnvAsDuration("GEOCODER_TIMEOUT", 10*time.Second),
			CoalesceWindow: getEnvAsDuration("GEOCODER_COALESCE_WINDOW", 300*time.Millisecond),
		},
		Realtime: RealtimeConfig{
			DebounceWindow:        getEnvAsDuration("REALTIME_DEBOUNCE_WINDOW", realtime.DefaultDebounceWindow),
			BroadcastRadiusMeters: getEnvAsFloat("REALTIME_BROADCAST_RADIUS_METERS", 2000),
			SessionIdleTimeout:    getEnvAsDuration("REALTIME_SESSION_IDLE_TIMEOUT", 5*time.Minute),
		},
		Chat: ChatConfig{
			MaxMessageLength: getEnvAsInt("CHAT_MAX_MESSAGE_LENGTH", 1000),
			PageSize:         getEnvAsInt("CHAT_PAGE_SIZE", 50),
		},
		RateLimit: RateLimitConfig{
			ShoutsPerWindow:     getEnvAsInt("RATE_LIMIT_SHOUTS", 5),
			MegaphonesPerWindow: getEnvAsInt("RATE_LIMIT_MEGAPHONES", 3),
			Window:              getEnvAsDuration("RATE_LIMIT_WINDOW", time.Hour),
		},
	}

	return config, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
