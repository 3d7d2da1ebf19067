// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration shared across the application.
type Config struct {
	Addr    string
	DataDir string

	// Photo storage
	PhotoDir     string
	MediaBaseURL string
	PhotoFolder  string

	// Reverse geocoding
	GeocodeBaseURL   string
	GeocodeUserAgent string
	GeocodeTimeout   time.Duration

	// Auth
	JWTSecret   []byte
	JWTIssuer   string
	JWTAudience string

	// Policy thresholds
	ProximityToleranceMeters float64
	TimestampSkew            time.Duration
	InvalidRateAlert         float64
	AcquireTimeout           time.Duration

	// Rate limiting (submissions per actor per window)
	RateLimit       int
	RateLimitWindow time.Duration
}

// Load reads environment variables and returns a fully populated Config.
// Every value has a default except the JWT secret, which callers must check.
func Load() Config {
	return Config{
		Addr:    envOrDefault("HTTP_ADDR", ":8080"),
		DataDir: envOrDefault("DATA_DIR", "./data"),

		PhotoDir:     envOrDefault("PHOTO_DIR", "./data/photos"),
		MediaBaseURL: envOrDefault("MEDIA_BASE_URL", "http://localhost:8080/media"),
		PhotoFolder:  envOrDefault("PHOTO_FOLDER", "checklist-photos"),

		GeocodeBaseURL:   envOrDefault("GEOCODE_BASE_URL", ""),
		GeocodeUserAgent: envOrDefault("GEOCODE_USER_AGENT", ""),
		GeocodeTimeout:   envDuration("GEOCODE_TIMEOUT", 10*time.Second),

		JWTSecret:   []byte(os.Getenv("AUTH_JWT_SECRET")),
		JWTIssuer:   envOrDefault("AUTH_JWT_ISSUER", "sitepatrol-auth"),
		JWTAudience: envOrDefault("AUTH_JWT_AUDIENCE", "sitepatrol"),

		ProximityToleranceMeters: envFloat("PROXIMITY_TOLERANCE_METERS", 100),
		TimestampSkew:            envDuration("TIMESTAMP_SKEW", 5*time.Minute),
		InvalidRateAlert:         envFloat("INVALID_GPS_ALERT_RATIO", 0.15),
		AcquireTimeout:           envDuration("GPS_ACQUIRE_TIMEOUT", 10*time.Second),

		RateLimit:       envInt("SUBMIT_RATE_LIMIT", 30),
		RateLimitWindow: envDuration("SUBMIT_RATE_WINDOW", time.Minute),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
