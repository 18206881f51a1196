package notify

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// Delivery outcomes reported to the Observer.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Observer records delivery outcomes.
type Observer interface {
	ObserveNotification(kind, outcome string)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRateLimit caps deliveries at perSecond with the given burst. A zero
// rate disables limiting.
func WithRateLimit(perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithAsync delivers in the background instead of blocking the run.
func WithAsync(async bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.async = async
	}
}

// WithDispatchLogger sets the logger used for delivery failures.
func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver reports every delivery outcome to obs.
func WithObserver(obs Observer) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = obs
	}
}

// Dispatcher sends workflow events through a Notifier. Delivery failures are
// logged and counted but never returned to the workflow.
type Dispatcher struct {
	notifier Notifier
	limiter  *rate.Limiter
	async    bool
	logger   *slog.Logger
	observer Observer
	wg       sync.WaitGroup
}

// NewDispatcher constructs a dispatcher. A nil notifier drops every event.
func NewDispatcher(notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers events in order.
func (d *Dispatcher) Dispatch(ctx context.Context, events []models.Event) {
	if len(events) == 0 {
		return
	}
	if !d.async {
		d.deliver(ctx, events)
		return
	}
	// Background delivery must outlive the run that produced the events.
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(bg, events)
	}()
}

// Wait blocks until background deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, events []models.Event) {
	for _, ev := range events {
		kind := string(ev.Kind)
		if d.notifier == nil {
			d.observe(kind, OutcomeDropped)
			continue
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				d.logger.Warn("notification dropped", "incident_id", ev.IncidentID, "kind", kind, "error", err)
				d.observe(kind, OutcomeDropped)
				continue
			}
		}
		if err := d.notifier.Notify(ctx, ev); err != nil {
			d.logger.Warn("notification failed", "incident_id", ev.IncidentID, "kind", kind, "error", err)
			d.observe(kind, OutcomeFailed)
			continue
		}
		d.observe(kind, OutcomeSent)
	}
}

func (d *Dispatcher) observe(kind, outcome string) {
	if d.observer != nil {
		d.observer.ObserveNotification(kind, outcome)
	}
}
