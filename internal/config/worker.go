package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

// WorkerConfig holds configuration for the external worker process.
type WorkerConfig struct {
	// ServerURL is the dashboard API base, without a trailing slash.
	ServerURL string
	APIKey    string

	// AgentCommand is run once per claimed work unit, through sh -c, with
	// the unit's fields exposed as WORK_UNIT_* environment variables.
	AgentCommand string

	PollInterval time.Duration
	Concurrency  int
	TaskTimeout  time.Duration

	HTTPMaxRetries  int
	HTTPBackoffBase time.Duration
	HTTPTimeout     time.Duration
}

// LoadWorker reads the worker configuration from the environment.
func LoadWorker() (WorkerConfig, error) {
	_ = godotenv.Load()

	pollInterval, err := getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("parse WORKER_POLL_INTERVAL: %w", err)
	}
	concurrency, err := getEnvInt("WORKER_CONCURRENCY", 2)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("parse WORKER_CONCURRENCY: %w", err)
	}
	taskTimeout, err := getEnvDuration("WORKER_TASK_TIMEOUT", 30*time.Minute)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("parse WORKER_TASK_TIMEOUT: %w", err)
	}
	maxRetries, err := getEnvInt("HTTP_MAX_RETRIES", 3)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("parse HTTP_MAX_RETRIES: %w", err)
	}
	backoffBase, err := getEnvDuration("HTTP_BACKOFF_BASE", time.Second)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("parse HTTP_BACKOFF_BASE: %w", err)
	}
	timeout, err := getEnvDuration("HTTP_TIMEOUT", 20*time.Second)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("parse HTTP_TIMEOUT: %w", err)
	}

	cfg := WorkerConfig{
		ServerURL:       getEnv("SERVER_URL", "http://localhost:8080"),
		APIKey:          getEnv("WORKER_API_KEY", ""),
		AgentCommand:    getEnv("AGENT_COMMAND", ""),
		PollInterval:    pollInterval,
		Concurrency:     concurrency,
		TaskTimeout:     taskTimeout,
		HTTPMaxRetries:  maxRetries,
		HTTPBackoffBase: backoffBase,
		HTTPTimeout:     timeout,
	}

	if cfg.APIKey == "" {
		return WorkerConfig{}, fmt.Errorf("WORKER_API_KEY is required")
	}
	if cfg.AgentCommand == "" {
		return WorkerConfig{}, fmt.Errorf("AGENT_COMMAND is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}
