// Package config handles service configuration
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr      string
	DatabaseURL   string // empty disables the Postgres store
	RedisAddr     string // empty disables the shared cache
	RedisPassword string
	RedisDB       int
	StorageURL    string // object storage base URL for audio uploads
	TranscribeURL string // transcription job API base URL
	RecordingsDir string
	SelfUserID    string // messages authored by this user are never queued
	SampleRate    int
	PreloadWatch  bool
	HighPriority  []string // sender ids given extra scheduling weight
	CacheTTL      time.Duration
	SweepInterval time.Duration
}

func Load() *Config {
	// Best effort; no .env file is the normal production case.
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8000"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		StorageURL:    getEnv("STORAGE_URL", "http://localhost:9000/voicerelay"),
		TranscribeURL: getEnv("TRANSCRIBE_URL", "http://localhost:8090"),
		RecordingsDir: getEnv("RECORDINGS_DIR", "recordings"),
		SelfUserID:    getEnv("SELF_USER_ID", ""),
		SampleRate:    getEnvInt("SAMPLE_RATE", 16000),
		PreloadWatch:  getEnvBool("PRELOAD_WATCH", true),
		HighPriority:  getEnvList("HIGH_PRIORITY_SENDERS", nil),
		CacheTTL:      getEnvDuration("CACHE_TTL", 24*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 30*time.Minute),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
