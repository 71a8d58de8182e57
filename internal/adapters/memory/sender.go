package memory

import (
	"context"
	"strings"
	"sync"

	"courier/internal/domain"
)

// Sender implements ports.Sender by recording units.
// Addresses starting with FailPrefix are reported as unreachable.
type Sender struct {
	FailPrefix string

	mu    sync.Mutex
	units []domain.DeliveryUnit
}

// NewSender creates a recording sender that fails addresses prefixed "fail:".
func NewSender() *Sender {
	return &Sender{FailPrefix: "fail:"}
}

// Send implements ports.Sender.
func (s *Sender) Send(_ context.Context, unit domain.DeliveryUnit) (domain.SendResult, error) {
	s.mu.Lock()
	s.units = append(s.units, unit)
	s.mu.Unlock()

	var result domain.SendResult
	if s.FailPrefix == "" {
		return result, nil
	}

	if unit.Kind == domain.UnitPermanentGroup {
		if strings.HasPrefix(unit.Address, s.FailPrefix) {
			result.Failed = append(result.Failed, unit.RecipientIDs...)
		}
		return result, nil
	}

	for i, addr := range unit.Recipients() {
		if strings.HasPrefix(addr, s.FailPrefix) && i < len(unit.RecipientIDs) {
			result.Failed = append(result.Failed, unit.RecipientIDs[i])
		}
	}
	return result, nil
}

// Units returns a copy of the recorded units.
func (s *Sender) Units() []domain.DeliveryUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeliveryUnit(nil), s.units...)
}
