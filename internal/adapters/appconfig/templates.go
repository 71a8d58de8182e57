package appconfig

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"courier/internal/config"
	"courier/internal/domain"
)

const defaultTemplate = "default"

// TemplateConfig holds notification templates keyed by name.
type TemplateConfig struct {
	Templates map[string]string `yaml:"templates"`
}

// TemplateRenderer implements ports.TemplateRenderer.
// Names without a template fall back to "default".
type TemplateRenderer struct {
	fetcher
	profile   string
	templates map[string]string
	mu        sync.RWMutex
}

// NewTemplateRenderer creates a renderer backed by the configured template profile.
func NewTemplateRenderer(cfg config.AppConfigSettings, logger *slog.Logger) *TemplateRenderer {
	return &TemplateRenderer{
		fetcher: newFetcher(cfg, logger),
		profile: cfg.TemplateProfile,
	}
}

// NewStaticRenderer creates a renderer over a fixed template set.
func NewStaticRenderer(templates map[string]string) *TemplateRenderer {
	if templates == nil {
		templates = map[string]string{}
	}
	return &TemplateRenderer{templates: templates}
}

// Render applies data to the named template.
func (r *TemplateRenderer) Render(name string, data map[string]any) (string, error) {
	templates, err := r.load(context.Background())
	if err != nil {
		return "", err
	}

	body, ok := templates[name]
	if !ok {
		body, ok = templates[defaultTemplate]
	}
	if !ok {
		return "", fmt.Errorf("template '%s' not found", name)
	}

	t, err := template.New(name).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}

func (r *TemplateRenderer) load(ctx context.Context) (map[string]string, error) {
	r.mu.RLock()
	if r.templates != nil {
		templates := r.templates
		r.mu.RUnlock()
		return templates, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.templates != nil {
		return r.templates, nil
	}

	data, err := r.loadProfile(ctx, r.profile)
	if err != nil {
		return nil, fmt.Errorf("load templates %s: %w", r.profile, err)
	}

	cfg, err := ParseTemplateConfig(r.profile, data)
	if err != nil {
		return nil, err
	}

	r.templates = cfg.Templates
	r.logger.Debug("loaded template config", "profile", r.profile, "count", len(cfg.Templates))

	return r.templates, nil
}

// ParseTemplateConfig decodes a template document and checks that every
// template parses.
func ParseTemplateConfig(name string, data []byte) (*TemplateConfig, error) {
	var cfg TemplateConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{ConfigName: name, Err: fmt.Errorf("parse: %w", err)}
	}
	if cfg.Templates == nil {
		cfg.Templates = map[string]string{}
	}
	for key, body := range cfg.Templates {
		if _, err := template.New(key).Parse(body); err != nil {
			return nil, &domain.ConfigError{ConfigName: name, Err: fmt.Errorf("template %s: %w", key, err)}
		}
	}
	return &cfg, nil
}

// ClearCache forces the next render to fetch the profile again.
func (r *TemplateRenderer) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile != "" {
		r.templates = nil
	}
}
