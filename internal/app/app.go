package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"courier/internal/channel"
	"courier/internal/config"
	"courier/internal/domain"
	"courier/internal/metrics"
	"courier/internal/ports"
	"courier/internal/service"
)

// App is the main application container.
type App struct {
	cfg        *config.AppConfig
	engine     *config.EngineConfig
	logger     *slog.Logger
	store      ports.MessageStore
	timeouts   ports.TimeoutSource
	filter     ports.SignalFilter
	injector   ports.Injector
	metrics    *metrics.Metrics
	faults     *faultFanout
	processor  *service.Processor
	correlator *service.Correlator
	tracker    *service.Tracker
	escalator  *service.Escalator
	now        func() time.Time
}

// Options configures the App.
type Options struct {
	Config    *config.AppConfig
	Engine    *config.EngineConfig
	Logger    *slog.Logger
	Store     ports.MessageStore
	Locker    ports.Locker
	Scheduler ports.Scheduler
	Timeouts  ports.TimeoutSource
	Directory ports.Directory
	Sender    ports.Sender
	Filter    ports.SignalFilter
	Renderer  ports.TemplateRenderer

	// Injector receives escalation candidates and notifications. When nil they
	// are submitted in process.
	Injector ports.Injector
	// FaultQueue additionally receives every fault when set.
	FaultQueue ports.FaultSink
	Metrics    *metrics.Metrics
}

// New creates a new App with all dependencies injected.
func New(opts Options) *App {
	engine := opts.Engine
	if engine == nil {
		engine = config.DefaultEngineConfig()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	a := &App{
		cfg:      opts.Config,
		engine:   engine,
		logger:   opts.Logger,
		store:    opts.Store,
		timeouts: opts.Timeouts,
		filter:   opts.Filter,
		metrics:  m,
		now:      time.Now,
	}

	a.injector = opts.Injector
	if a.injector == nil {
		a.injector = inProcess{a}
	}

	a.faults = &faultFanout{
		logger:  opts.Logger.With("component", "faults"),
		metrics: m,
		queue:   opts.FaultQueue,
	}
	if engine.Notifications.Enabled && opts.Renderer != nil {
		a.faults.notifier = service.NewNotifier(a.injector, opts.Renderer, opts.Logger.With("component", "notifier"))
	}

	signals := &signalSink{
		serverID: opts.Config.ServerID,
		publish:  engine.Escalation.PublishNoAlternative,
		faults:   a.faults,
		metrics:  m,
		logger:   opts.Logger.With("component", "signals"),
	}

	registry := channel.NewDefaultRegistry(opts.Store, engine.Chat.GroupSuffix, opts.Logger.With("component", "channel"))

	a.processor = service.NewProcessor(
		opts.Config.ServerID,
		service.NewValidator(opts.Store, engine.Validation.OnDuplicateID, opts.Logger.With("component", "validator")),
		service.NewResolver(opts.Directory, engine.Resolution, opts.Logger.With("component", "resolver")),
		registry,
		opts.Store,
		opts.Scheduler,
		opts.Sender,
		a.faults,
		opts.Logger.With("component", "processor"),
	)
	a.correlator = service.NewCorrelator(opts.Store, opts.Scheduler, engine.Chat.GroupSuffix, opts.Logger.With("component", "correlator"))
	a.tracker = service.NewTracker(opts.Store, opts.Locker, opts.Logger.With("component", "tracker"))
	a.escalator = service.NewEscalator(
		opts.Store,
		opts.Locker,
		a.injector,
		signals,
		engine.Escalation.NoAlternativeOnTimeout,
		opts.Logger.With("component", "escalator"),
	)

	return a
}

// Submit dispatches a message and routes unreachable recipients into escalation.
// Validation and persistence failures are reported as faults and returned.
func (a *App) Submit(ctx context.Context, msg *domain.Message) (*service.DispatchResult, error) {
	start := a.now()

	result, err := a.processor.Dispatch(ctx, msg)
	if err != nil {
		a.reportFault(ctx, msg, err)
		return nil, err
	}

	a.metrics.Dispatched(string(result.Message.Kind), a.now().Sub(start))
	a.recordUnits(result)

	if result.Unreachable != nil {
		if _, err := a.escalate(ctx, *result.Unreachable); err != nil {
			a.logger.Error("failed to escalate unreachable handlers",
				"message_id", result.Message.ID,
				"reason", result.Unreachable.Reason,
				"error", err,
			)
		}
	}

	return result, nil
}

func (a *App) recordUnits(result *service.DispatchResult) {
	failed := make(map[string]bool)
	if result.Unreachable != nil {
		for _, id := range result.Unreachable.Failed {
			failed[id] = true
		}
	}
	for _, unit := range result.Units {
		outcome := "sent"
		for _, id := range unit.RecipientIDs {
			if failed[id] {
				outcome = "failed"
				break
			}
		}
		a.metrics.Unit(unit.ServiceID, outcome)
	}
}

// HandleResponse correlates an inbound reply received on channel.
func (a *App) HandleResponse(ctx context.Context, channel string, raw []byte, hints map[string]string) (service.Correlation, error) {
	corr, err := a.correlator.Correlate(ctx, channel, raw, hints)
	a.metrics.Response(channel, string(corr.Outcome))
	if err != nil {
		a.reportFault(ctx, corr.Original, err)
		return corr, err
	}
	return corr, nil
}

// UpdateStatus appends a delivery status for every reference.
func (a *App) UpdateStatus(ctx context.Context, refs []string, action, status string) (*domain.Message, error) {
	msg, err := a.tracker.UpdateStatus(ctx, refs, action, status)
	switch {
	case err == nil:
		a.metrics.StatusUpdate("ok")
	case errors.Is(err, domain.ErrNoMatch):
		a.metrics.StatusUpdate("no_match")
	default:
		a.metrics.StatusUpdate("error")
	}
	return msg, err
}

// HandleUnreachable escalates a message whose handlers could not be reached.
// Redelivered signals are ignored.
func (a *App) HandleUnreachable(ctx context.Context, messageID string, reason domain.UnreachableReason) (service.EscalationResult, error) {
	msg, err := a.load(ctx, messageID)
	if err != nil {
		return service.EscalationResult{}, err
	}
	return a.escalate(ctx, domain.MessageWithUnreachableHandlers{Message: msg, Reason: reason})
}

func (a *App) escalate(ctx context.Context, in domain.MessageWithUnreachableHandlers) (service.EscalationResult, error) {
	key := fmt.Sprintf("unreachable:%s:%s", in.Message.ID, in.Reason)
	return a.once(ctx, key, "unreachable", func() (service.EscalationResult, error) {
		return a.escalator.HandleUnreachable(ctx, in)
	})
}

// HandleTimeout escalates a message whose response deadline passed.
// Redelivered signals are ignored.
func (a *App) HandleTimeout(ctx context.Context, messageID string, reason domain.TimeoutReason) (service.EscalationResult, error) {
	msg, err := a.load(ctx, messageID)
	if err != nil {
		return service.EscalationResult{}, err
	}
	return a.handleTimeout(ctx, domain.TimedOutMessage{Message: msg, Reason: reason})
}

func (a *App) handleTimeout(ctx context.Context, in domain.TimedOutMessage) (service.EscalationResult, error) {
	return a.once(ctx, "timeout:"+in.Message.ID, "timeout", func() (service.EscalationResult, error) {
		return a.escalator.HandleTimeout(ctx, in)
	})
}

// once runs an escalation at most once per key. A failed escalation releases
// the key so the redelivered signal is handled again.
func (a *App) once(ctx context.Context, key, trigger string, run func() (service.EscalationResult, error)) (service.EscalationResult, error) {
	first, err := a.filter.FirstSeen(ctx, key)
	if err != nil {
		return service.EscalationResult{}, fmt.Errorf("%w: %v", domain.ErrSystemFault, err)
	}
	if !first {
		a.logger.Info("duplicate escalation signal ignored", "key", key)
		a.metrics.Escalation(trigger, "duplicate")
		return service.EscalationResult{}, domain.ErrDuplicateSignal
	}

	res, err := run()
	a.metrics.Escalation(trigger, escalationOutcome(res, err))
	if err != nil {
		if ferr := a.filter.Forget(context.WithoutCancel(ctx), key); ferr != nil {
			a.logger.Error("failed to release escalation signal", "key", key, "error", ferr)
		}
	}
	return res, err
}

func (a *App) load(ctx context.Context, messageID string) (*domain.Message, error) {
	msg, err := a.store.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.MessageError{MessageID: messageID, Op: "load", Err: domain.ErrNoMatch}
		}
		return nil, &domain.MessageError{MessageID: messageID, Op: "load", Err: fmt.Errorf("%w: %v", domain.ErrSystemFault, err)}
	}
	return msg, nil
}

func (a *App) reportFault(ctx context.Context, msg *domain.Message, err error) {
	if err := a.faults.Report(ctx, domain.NewFault(a.cfg.ServerID, msg, "", err)); err != nil {
		a.logger.Error("failed to report fault", "error", err)
	}
}

func escalationOutcome(res service.EscalationResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Skipped:
		return "skipped"
	case res.NoAlternative:
		return "no_alternative"
	case res.Injected > 0:
		return "injected"
	default:
		return "none"
	}
}

// inProcess submits injected messages straight back into the pipeline.
type inProcess struct {
	app *App
}

func (i inProcess) Inject(ctx context.Context, msg *domain.Message) error {
	_, err := i.app.Submit(ctx, msg)
	return err
}
