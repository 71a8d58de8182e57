package redis

import (
	"context"
	"fmt"
	"time"
)

// SignalFilter implements ports.SignalFilter. A key is seen once per ttl.
type SignalFilter struct {
	client *Client
	ttl    time.Duration
}

// NewSignalFilter creates a new signal filter.
func NewSignalFilter(client *Client, ttl time.Duration) *SignalFilter {
	return &SignalFilter{
		client: client,
		ttl:    ttl,
	}
}

// FirstSeen reports whether key has not been seen within the ttl.
func (f *SignalFilter) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := f.client.SetNX(ctx, signalKey(key), "1", f.ttl)
	if err != nil {
		return false, fmt.Errorf("check signal: %w", err)
	}
	return ok, nil
}

// Forget deletes key so a redelivered signal is accepted again.
func (f *SignalFilter) Forget(ctx context.Context, key string) error {
	if err := f.client.Del(ctx, signalKey(key)); err != nil {
		return fmt.Errorf("forget signal: %w", err)
	}
	return nil
}
