package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"courier/internal/config"
	"courier/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeDirectory map[string]*domain.UserContactInfo

func (d fakeDirectory) ResolveUser(_ context.Context, address string) (*domain.UserContactInfo, error) {
	info, ok := d[address]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return info, nil
}

func testDirectory() fakeDirectory {
	return fakeDirectory{
		"alice": {UserID: "alice", AddressesByType: map[string]*domain.DeliveryAddress{
			domain.ServiceSMS:   {Kind: domain.AddressPhysical, ServiceID: domain.ServiceSMS, Address: "+15550101", AddressID: "alice-sms"},
			domain.ServiceEmail: {Kind: domain.AddressPhysical, ServiceID: domain.ServiceEmail, Address: "alice@example.com"},
			domain.ServiceChat:  {Kind: domain.AddressPhysical, ServiceID: domain.ServiceChat, Address: "alice@chat.example.com"},
		}},
		"bob": {UserID: "bob", AddressesByType: map[string]*domain.DeliveryAddress{
			domain.ServiceSMS:   {Kind: domain.AddressPhysical, ServiceID: domain.ServiceSMS, Address: "fail:+15550102"},
			domain.ServiceEmail: {Kind: domain.AddressPhysical, ServiceID: domain.ServiceEmail, Address: "bob@example.com"},
			domain.ServiceChat:  {Kind: domain.AddressPhysical, ServiceID: domain.ServiceChat, Address: "bob@chat.example.com"},
		}},
	}
}

type recordingInjector struct {
	mu       sync.Mutex
	messages []*domain.Message
	failOn   string // body content that makes Inject fail
}

func (r *recordingInjector) Inject(_ context.Context, msg *domain.Message) error {
	if r.failOn != "" && len(msg.Parts) > 0 && msg.Parts[0].Content == r.failOn {
		return errors.New("queue unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingInjector) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.messages {
		out = append(out, m.Parts[0].Content)
	}
	return out
}

type recordingSignals struct {
	reasons []string
}

func (s *recordingSignals) NoAlternative(_ context.Context, _ *domain.Message, reason string) error {
	s.reasons = append(s.reasons, reason)
	return nil
}

type failingScheduler struct{}

func (failingScheduler) ArmResponseTimeout(context.Context, *domain.Message) error {
	return errors.New("scheduler down")
}

func (failingScheduler) CancelResponseTimeout(context.Context, string) error { return nil }

func sms(address string) *domain.DeliveryAddress {
	return domain.NewPhysicalAddress(domain.ServiceSMS, address)
}

func defaultResolution() config.ResolutionSettings {
	return config.DefaultEngineConfig().Resolution
}

