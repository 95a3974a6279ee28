// Package config collects the tunables the server reads from the environment.
// Storage backend selection stays with the store factories; this covers the
// upload, quota, and throttling knobs.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Upload validation ceilings.
	MaxUploadBytes     int64
	MaxPixelDimension  int64
	MaxVideoDurationS  float64
	MaxNameLength      int
	MaxPromptLength    int
	MaxModelLength     int

	// Per-user upload rate limits, enforced with exact sliding windows.
	UploadsPerMinute int
	UploadsPerHour   int

	// Coarse per-IP throttle in front of the API.
	RequestsPerSecond float64
	RequestBurst      int

	// Timeout applied to blob store operations.
	BlobOpTimeout time.Duration

	// Event bus. Empty means events are dropped.
	NATSURL string
}

func FromEnv() Config {
	return Config{
		MaxUploadBytes:    envInt64Or("MAX_UPLOAD_BYTES", 25<<20),
		MaxPixelDimension: envInt64Or("MAX_PIXEL_DIMENSION", 10000),
		MaxVideoDurationS: envFloatOr("MAX_VIDEO_DURATION_SECONDS", 7200),
		MaxNameLength:     envIntOr("MAX_NAME_LENGTH", 200),
		MaxPromptLength:   envIntOr("MAX_PROMPT_LENGTH", 2000),
		MaxModelLength:    envIntOr("MAX_MODEL_LENGTH", 100),
		UploadsPerMinute:  envIntOr("UPLOADS_PER_MINUTE", 20),
		UploadsPerHour:    envIntOr("UPLOADS_PER_HOUR", 100),
		RequestsPerSecond: envFloatOr("REQUESTS_PER_SECOND", 50),
		RequestBurst:      envIntOr("REQUEST_BURST", 100),
		BlobOpTimeout:     envDurationOr("BLOB_OP_TIMEOUT", 30*time.Second),
		NATSURL:           envOr("NATS_URL", ""),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64Or(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloatOr(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
