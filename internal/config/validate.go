package config

import (
	"errors"
	"fmt"

	"github.com/adhocore/gronx"

	"courier/internal/domain"
)

// Validate validates the application configuration.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis address is required"))
		}
		if c.Redis.DialTimeout <= 0 {
			errs = append(errs, errors.New("redis dial timeout must be positive"))
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("database url is required for the postgres backend"))
		}
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis address is required for locks and timeouts"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	if c.ServerID == "" {
		errs = append(errs, errors.New("server id is required"))
	}

	if c.Worker.SweepInterval <= 0 {
		errs = append(errs, errors.New("worker sweep interval must be positive"))
	}

	if c.Worker.SweepBatch <= 0 {
		errs = append(errs, errors.New("worker sweep batch must be positive"))
	}

	if c.Worker.StateTTL <= 0 {
		errs = append(errs, errors.New("worker state TTL must be positive"))
	}

	if c.Worker.LockTTL <= 0 {
		errs = append(errs, errors.New("worker lock TTL must be positive"))
	}

	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, errors.New("gateway max retries must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// ValidateEngineConfig validates the engine policies.
func ValidateEngineConfig(cfg *EngineConfig) error {
	var errs []error

	switch cfg.Validation.OnDuplicateID {
	case DuplicateFail, DuplicateRegenerate:
	default:
		errs = append(errs, fmt.Errorf("validation.on_duplicate_id must be %q or %q, got %q",
			DuplicateFail, DuplicateRegenerate, cfg.Validation.OnDuplicateID))
	}

	if cfg.Notifications.Enabled && cfg.Notifications.Templates["default"] == "" {
		errs = append(errs, errors.New("notifications.templates.default is required when notifications are enabled"))
	}

	if cfg.Retention.Schedule != "" && !gronx.IsValid(cfg.Retention.Schedule) {
		errs = append(errs, fmt.Errorf("retention.schedule %q is not a valid cron expression", cfg.Retention.Schedule))
	}

	if cfg.Retention.Schedule != "" && cfg.Retention.Period.Minutes <= 0 {
		errs = append(errs, errors.New("retention.period.minutes must be positive"))
	}

	if len(errs) > 0 {
		return &domain.ConfigError{
			ConfigName: "engine",
			Err:        fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...)),
		}
	}

	return nil
}
