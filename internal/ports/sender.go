package ports

import (
	"context"

	"courier/internal/domain"
)

// Sender hands delivery units to a channel adapter.
type Sender interface {
	// Send delivers one unit. Recipients that could not be reached are listed in the result;
	// an error means the whole unit failed.
	Send(ctx context.Context, unit domain.DeliveryUnit) (domain.SendResult, error)
}

// Injector feeds a message back into the pipeline as a new top-level message.
type Injector interface {
	Inject(ctx context.Context, msg *domain.Message) error
}

// FaultSink receives pipeline failures.
type FaultSink interface {
	Report(ctx context.Context, fault domain.Fault) error
}

// SignalSink receives "no alternative" signals raised by escalation.
type SignalSink interface {
	NoAlternative(ctx context.Context, msg *domain.Message, reason string) error
}

// SignalFilter guards against redelivered failure and timeout signals.
type SignalFilter interface {
	// FirstSeen reports true the first time a key is observed.
	FirstSeen(ctx context.Context, key string) (bool, error)

	// Forget releases a key so the next signal for it is handled again.
	Forget(ctx context.Context, key string) error
}

// TemplateRenderer renders notification bodies.
type TemplateRenderer interface {
	// Render applies data to the named template.
	Render(name string, data map[string]any) (string, error)
}
