package appconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"courier/internal/config"
	"courier/internal/domain"
)

// DirectoryProfile is the YAML document listing known users.
type DirectoryProfile struct {
	Users []domain.UserContactInfo `yaml:"users"`
}

// Directory implements ports.Directory from an AppConfig profile.
// Users are indexed by user id and by every address they own.
type Directory struct {
	fetcher
	profile string
	index   map[string]*domain.UserContactInfo
	mu      sync.RWMutex
}

// NewDirectory creates a directory backed by the configured profile.
func NewDirectory(cfg config.AppConfigSettings, logger *slog.Logger) *Directory {
	return &Directory{
		fetcher: newFetcher(cfg, logger),
		profile: cfg.DirectoryProfile,
	}
}

// NewStaticDirectory creates a directory over a fixed user list.
func NewStaticDirectory(users []domain.UserContactInfo) *Directory {
	return &Directory{index: indexUsers(users)}
}

// ResolveUser returns contact info for a logical address or domain.ErrNotFound.
func (d *Directory) ResolveUser(ctx context.Context, address string) (*domain.UserContactInfo, error) {
	index, err := d.load(ctx)
	if err != nil {
		return nil, err
	}

	info, ok := index[address]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", address, domain.ErrNotFound)
	}
	return info, nil
}

// ClearCache forces the next lookup to fetch the profile again.
func (d *Directory) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.profile != "" {
		d.index = nil
	}
}

func (d *Directory) load(ctx context.Context) (map[string]*domain.UserContactInfo, error) {
	d.mu.RLock()
	if d.index != nil {
		index := d.index
		d.mu.RUnlock()
		return index, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.index != nil {
		return d.index, nil
	}

	data, err := d.loadProfile(ctx, d.profile)
	if err != nil {
		return nil, fmt.Errorf("load directory %s: %w", d.profile, err)
	}

	profile, err := ParseDirectoryProfile(d.profile, data)
	if err != nil {
		return nil, err
	}

	d.index = indexUsers(profile.Users)
	d.logger.Debug("loaded directory", "profile", d.profile, "users", len(profile.Users))

	return d.index, nil
}

// ParseDirectoryProfile decodes a directory document. Every user needs an id.
func ParseDirectoryProfile(name string, data []byte) (*DirectoryProfile, error) {
	var profile DirectoryProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, &domain.ConfigError{ConfigName: name, Err: fmt.Errorf("parse: %w", err)}
	}
	for i, u := range profile.Users {
		if u.UserID == "" {
			return nil, &domain.ConfigError{ConfigName: name, Err: fmt.Errorf("user %d has no user_id", i)}
		}
	}
	return &profile, nil
}

func indexUsers(users []domain.UserContactInfo) map[string]*domain.UserContactInfo {
	index := make(map[string]*domain.UserContactInfo)
	for i := range users {
		u := &users[i]
		for serviceID, addr := range u.AddressesByType {
			if addr == nil {
				continue
			}
			if addr.Kind == "" {
				addr.Kind = domain.AddressPhysical
			}
			if addr.ServiceID == "" {
				addr.ServiceID = serviceID
			}
			index[addr.Address] = u
		}
		index[u.UserID] = u
	}
	return index
}
