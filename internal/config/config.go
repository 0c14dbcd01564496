package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/liamcoop/stageconditions/actions"
	"github.com/liamcoop/stageconditions/internal/logger"
	"github.com/liamcoop/stageconditions/rules"
	"github.com/liamcoop/stageconditions/runtime"
)

// Config is the process configuration, read from the environment
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	CollaboratorBaseURL string        `env:"COLLABORATOR_BASE_URL"`
	CollaboratorToken   string        `env:"COLLABORATOR_TOKEN"`
	CollaboratorTimeout time.Duration `env:"COLLABORATOR_TIMEOUT" envDefault:"10s"`

	DefaultWorkflowName string `env:"DEFAULT_WORKFLOW_NAME" envDefault:"StageCondition"`
	SystemUser          string `env:"SYSTEM_USER" envDefault:"system"`
	ProgramCacheSize    int    `env:"PROGRAM_CACHE_SIZE" envDefault:"1024"`

	ActionTimeout        time.Duration `env:"ACTION_TIMEOUT" envDefault:"30s"`
	NotificationTimeout  time.Duration `env:"NOTIFICATION_TIMEOUT" envDefault:"60s"`
	TriggerActionTimeout time.Duration `env:"TRIGGER_ACTION_TIMEOUT" envDefault:"45s"`
	RetryBaseDelay       time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay        time.Duration `env:"RETRY_MAX_DELAY" envDefault:"5s"`
	RetryMaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	MaxParallelActions   int           `env:"MAX_PARALLEL_ACTIONS" envDefault:"4"`

	LogLevel        string `env:"LOG_LEVEL" envDefault:"INFO"`
	ErrorSampleRate int    `env:"ERROR_SAMPLE_RATE" envDefault:"1"`
	OTELEnabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"stageconditions"`
}

// Load reads a .env file when present, then the environment. Variables already set in the
// environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the environment only
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts))
	}
	if c.MaxParallelActions < 1 {
		errs = append(errs, fmt.Errorf("MAX_PARALLEL_ACTIONS must be at least 1, got %d", c.MaxParallelActions))
	}
	if c.RetryBaseDelay > c.RetryMaxDelay {
		errs = append(errs, fmt.Errorf("RETRY_BASE_DELAY %s exceeds RETRY_MAX_DELAY %s", c.RetryBaseDelay, c.RetryMaxDelay))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr is the listen address for Port
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Executor returns the action executor's timeouts and retry policy
func (c *Config) Executor() actions.Config {
	return actions.Config{
		DefaultTimeout:       c.ActionTimeout,
		NotificationTimeout:  c.NotificationTimeout,
		TriggerActionTimeout: c.TriggerActionTimeout,
		RetryBaseDelay:       c.RetryBaseDelay,
		RetryMaxDelay:        c.RetryMaxDelay,
		MaxAttempts:          c.RetryMaxAttempts,
		MaxParallel:          c.MaxParallelActions,
	}
}

// RuntimeOptions returns the runtime's tunables; the logger is left to the caller
func (c *Config) RuntimeOptions() runtime.Options {
	name := c.DefaultWorkflowName
	if name == "" {
		name = rules.DefaultWorkflowName
	}
	return runtime.Options{
		DefaultWorkflowName: name,
		SystemUser:          c.SystemUser,
		Executor:            c.Executor(),
		ProgramCacheSize:    c.ProgramCacheSize,
	}
}

// Logging returns the logger settings
func (c *Config) Logging() logger.Settings {
	return logger.Settings{
		Level:       c.LogLevel,
		SampleRate:  c.ErrorSampleRate,
		OTELEnabled: c.OTELEnabled,
		ServiceName: c.OTELServiceName,
	}
}
