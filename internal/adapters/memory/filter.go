package memory

import (
	"context"
	"sync"

	"courier/internal/domain"
)

// Filter implements ports.SignalFilter in memory.
type Filter struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewFilter creates an empty filter.
func NewFilter() *Filter {
	return &Filter{seen: make(map[string]struct{})}
}

// FirstSeen implements ports.SignalFilter.
func (f *Filter) FirstSeen(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[key]; ok {
		return false, nil
	}
	f.seen[key] = struct{}{}
	return true, nil
}

// Forget implements ports.SignalFilter.
func (f *Filter) Forget(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, key)
	return nil
}

// FaultLog implements ports.FaultSink by recording faults.
type FaultLog struct {
	mu     sync.Mutex
	faults []domain.Fault
}

// Report implements ports.FaultSink.
func (l *FaultLog) Report(_ context.Context, fault domain.Fault) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, fault)
	return nil
}

// Faults returns a copy of the recorded faults.
func (l *FaultLog) Faults() []domain.Fault {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Fault(nil), l.faults...)
}
