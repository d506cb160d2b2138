// Package config loads runtime configuration from the environment with
// viper. Every knob has a default; an empty environment yields a working
// single-node dev setup on sqlite.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr    string
	Development bool

	// Storage: DatabaseURL selects postgres when set, otherwise sqlite
	// on DBFile.
	DatabaseURL string
	DBFile      string

	JWTSecret string

	// Optional collaborators; empty values disable the feature.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KafkaBrokers  []string
	KafkaTopic    string

	// HTTP rate limiting (fixed window, per user).
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Realtime gateway knobs.
	WSEventsPerMinute int
	WSEventBurst      int
	TypingTTL         time.Duration
	SweepInterval     time.Duration
	LivenessTimeout   time.Duration
}

func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DEVELOPMENT", false)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_FILE", "dev.db")
	v.SetDefault("JWT_SECRET", "dev-secret-change-me")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "studentswap.messaging")
	v.SetDefault("RATE_LIMIT_REQUESTS", 120)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Minute)
	v.SetDefault("WS_EVENTS_PER_MINUTE", 120)
	v.SetDefault("WS_EVENT_BURST", 20)
	v.SetDefault("WS_TYPING_TTL", 5*time.Second)
	v.SetDefault("WS_SWEEP_INTERVAL", 30*time.Second)
	v.SetDefault("WS_LIVENESS_TIMEOUT", 60*time.Second)

	return &Config{
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		Development:       v.GetBool("DEVELOPMENT"),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		DBFile:            v.GetString("DB_FILE"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		KafkaBrokers:      splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:        v.GetString("KAFKA_TOPIC"),
		RateLimitRequests: v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindow:   v.GetDuration("RATE_LIMIT_WINDOW"),
		WSEventsPerMinute: v.GetInt("WS_EVENTS_PER_MINUTE"),
		WSEventBurst:      v.GetInt("WS_EVENT_BURST"),
		TypingTTL:         v.GetDuration("WS_TYPING_TTL"),
		SweepInterval:     v.GetDuration("WS_SWEEP_INTERVAL"),
		LivenessTimeout:   v.GetDuration("WS_LIVENESS_TIMEOUT"),
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
