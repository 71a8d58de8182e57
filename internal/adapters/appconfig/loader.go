package appconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"courier/internal/config"
)

// Loader fetches engine policy profiles from AWS AppConfig.
type Loader struct {
	fetcher
	profile string
	cache   *config.EngineConfig
	mu      sync.RWMutex
}

// NewLoader creates a new AppConfig loader for the configured engine profile.
func NewLoader(cfg config.AppConfigSettings, logger *slog.Logger) *Loader {
	return &Loader{
		fetcher: newFetcher(cfg, logger),
		profile: cfg.EngineProfile,
	}
}

// LoadEngineConfig returns the engine policies, fetching them on first use.
func (l *Loader) LoadEngineConfig(ctx context.Context) (*config.EngineConfig, error) {
	l.mu.RLock()
	if l.cache != nil {
		cached := l.cache
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cache != nil {
		return l.cache, nil
	}

	data, err := l.loadProfile(ctx, l.profile)
	if err != nil {
		return nil, fmt.Errorf("load engine config %s: %w", l.profile, err)
	}

	cfg, err := config.ParseEngineConfig(data)
	if err != nil {
		return nil, err
	}

	l.cache = cfg
	l.logger.Debug("loaded engine config", "profile", l.profile)

	return cfg, nil
}

// ClearCache forces the next load to fetch the profile again.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = nil
}
