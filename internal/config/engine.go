package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"courier/internal/domain"
)

// DuplicatePolicy decides what the validator does with colliding message ids.
type DuplicatePolicy string

const (
	DuplicateFail       DuplicatePolicy = "Fail"
	DuplicateRegenerate DuplicatePolicy = "RegenerateId"
)

// EngineConfig holds the engine policies.
type EngineConfig struct {
	Chat          ChatSettings         `yaml:"chat"`
	Validation    ValidationSettings   `yaml:"validation"`
	Resolution    ResolutionSettings   `yaml:"resolution"`
	Escalation    EscalationSettings   `yaml:"escalation"`
	Notifications NotificationSettings `yaml:"notifications"`
	Retention     RetentionSettings    `yaml:"retention"`
}

// ChatSettings controls chat room naming.
type ChatSettings struct {
	GroupSuffix string `yaml:"group_suffix"`
}

// ValidationSettings controls the entry gate.
type ValidationSettings struct {
	OnDuplicateID DuplicatePolicy `yaml:"on_duplicate_id"`
}

// ResolutionSettings controls address resolution.
type ResolutionSettings struct {
	// ExemptServices skip the per-service directory lookup.
	ExemptServices []string `yaml:"exempt_services"`
}

// EscalationSettings controls the escalation engine.
type EscalationSettings struct {
	NoAlternativeOnTimeout bool `yaml:"no_alternative_on_timeout"`
	PublishNoAlternative   bool `yaml:"publish_no_alternative"`
}

// NotificationSettings controls fault notifications to senders.
type NotificationSettings struct {
	Enabled bool `yaml:"enabled"`
	// Templates are keyed by fault kind; "default" is used for kinds without an entry.
	Templates map[string]string `yaml:"templates"`
}

// RetentionSettings controls the purge of old messages and references.
type RetentionSettings struct {
	Schedule string   `yaml:"schedule"` // cron expression
	Period   Duration `yaml:"period"`
}

// Duration represents a duration in minutes for YAML configuration.
type Duration struct {
	Minutes int `yaml:"minutes"`
}

// ToDuration converts to a standard time.Duration.
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d.Minutes) * time.Minute
}

// DefaultEngineConfig returns the policies used when no profile is configured.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Chat:       ChatSettings{GroupSuffix: "@conference"},
		Validation: ValidationSettings{OnDuplicateID: DuplicateFail},
		Resolution: ResolutionSettings{ExemptServices: []string{domain.ServiceAlert}},
		Notifications: NotificationSettings{
			Templates: map[string]string{
				"default": "Message {{.MessageID}} could not be processed ({{.Kind}}): {{.Text}}",
			},
		},
		Retention: RetentionSettings{
			Schedule: "0 3 * * *",
			Period:   Duration{Minutes: 7 * 24 * 60},
		},
	}
}

// ParseEngineConfig parses a YAML policy document over the defaults.
// ${VAR} references are expanded from the environment first.
func ParseEngineConfig(data []byte) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, &domain.ConfigError{ConfigName: "engine", Err: fmt.Errorf("parse: %w", err)}
	}
	if err := ValidateEngineConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEngineConfigFile reads the engine policies from a YAML file.
func LoadEngineConfigFile(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{ConfigName: "engine", Err: fmt.Errorf("read %s: %w", path, err)}
	}
	return ParseEngineConfig(data)
}

// IsExempt reports whether a service id skips the per-service lookup.
func (r ResolutionSettings) IsExempt(serviceID string) bool {
	for _, s := range r.ExemptServices {
		if s == serviceID {
			return true
		}
	}
	return false
}
