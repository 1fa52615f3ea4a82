package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	LogLevel          string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	EventsSubject     string
	JWTSecret         string
	Judge0            Judge0Config
	DefaultLanguageID int
	GradingTimeout    time.Duration
	RateLimitMax      int
	RateLimitWindow   time.Duration
}

// Judge0Config describes how to reach and use the execution service.
type Judge0Config struct {
	URL               string
	AuthToken         string
	Timeout           time.Duration
	PollInterval      time.Duration
	PollAttempts      int
	BatchPollAttempts int
	HealthTTL         time.Duration
	CPUTimeLimit      float64
	CPUExtraTime      float64
	WallTimeLimit     float64
	MemoryLimit       int
	StackLimit        int
	MaxProcesses      int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("events.subject", "grader.attempt.finalized")
	v.SetDefault("judge0.url", "http://localhost:2358")
	v.SetDefault("judge0.timeout", "30s")
	v.SetDefault("poll.interval", "1s")
	v.SetDefault("poll.attempts", 10)
	v.SetDefault("batch.poll_attempts", 5)
	v.SetDefault("health.ttl", "30s")
	v.SetDefault("cpu.time_limit", 2.0)
	v.SetDefault("cpu.extra_time", 0.5)
	v.SetDefault("wall.time_limit", 5.0)
	v.SetDefault("memory.limit", 128000)
	v.SetDefault("stack.limit", 64000)
	v.SetDefault("max.processes", 60)
	v.SetDefault("default.language_id", 71)
	v.SetDefault("grading.timeout", "60s")
	v.SetDefault("rate_limit.max", 5)
	v.SetDefault("rate_limit.window", "120s")

	durations := map[string]time.Duration{}
	for _, key := range []string{"judge0.timeout", "poll.interval", "health.ttl", "grading.timeout", "rate_limit.window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:       v.GetString("app.name"),
		AppEnv:        v.GetString("app.env"),
		AppPort:       v.GetString("app.port"),
		LogLevel:      strings.ToLower(v.GetString("log.level")),
		DatabaseURL:   v.GetString("database.url"),
		RedisURL:      v.GetString("redis.url"),
		NATSURL:       v.GetString("nats.url"),
		EventsSubject: v.GetString("events.subject"),
		JWTSecret:     v.GetString("jwt.secret"),
		Judge0: Judge0Config{
			URL:               strings.TrimRight(v.GetString("judge0.url"), "/"),
			AuthToken:         v.GetString("judge0.auth_token"),
			Timeout:           durations["judge0.timeout"],
			PollInterval:      durations["poll.interval"],
			PollAttempts:      v.GetInt("poll.attempts"),
			BatchPollAttempts: v.GetInt("batch.poll_attempts"),
			HealthTTL:         durations["health.ttl"],
			CPUTimeLimit:      v.GetFloat64("cpu.time_limit"),
			CPUExtraTime:      v.GetFloat64("cpu.extra_time"),
			WallTimeLimit:     v.GetFloat64("wall.time_limit"),
			MemoryLimit:       v.GetInt("memory.limit"),
			StackLimit:        v.GetInt("stack.limit"),
			MaxProcesses:      v.GetInt("max.processes"),
		},
		DefaultLanguageID: v.GetInt("default.language_id"),
		GradingTimeout:    durations["grading.timeout"],
		RateLimitMax:      v.GetInt("rate_limit.max"),
		RateLimitWindow:   durations["rate_limit.window"],
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	if cfg.Judge0.PollAttempts <= 0 {
		cfg.Judge0.PollAttempts = 10
	}

	if cfg.Judge0.BatchPollAttempts <= 0 {
		cfg.Judge0.BatchPollAttempts = 5
	}

	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 5
	}

	return cfg, nil
}
