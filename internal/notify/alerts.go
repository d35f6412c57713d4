package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// Event types forwarded to the notifier. Operators filter these through the
// notify.events config list.
const (
	EventOpportunityQueued   = "opportunity_queued"
	EventOpportunityResolved = "opportunity_resolved"
)

// queuedAlert mirrors the pipeline's queued-opportunity bus payload.
type queuedAlert struct {
	Key       string  `json:"key"`
	Strategy  string  `json:"strategy"`
	Block     uint64  `json:"block"`
	NetProfit string  `json:"net_profit"`
	Conf      float64 `json:"confidence"`
}

// resolvedAlert mirrors the pipeline's resolution bus payload.
type resolvedAlert struct {
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
}

// Alerter subscribes to the signal bus and forwards opportunity events to the
// notifier.
type Alerter struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewAlerter creates an Alerter.
func NewAlerter(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Alerter {
	return &Alerter{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alerter")),
	}
}

// Run consumes bus events until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	queued, err := a.bus.Subscribe(ctx, "opportunities")
	if err != nil {
		return fmt.Errorf("subscribing to opportunities: %w", err)
	}
	resolved, err := a.bus.Subscribe(ctx, "resolutions")
	if err != nil {
		return fmt.Errorf("subscribing to resolutions: %w", err)
	}

	a.logger.Info("alerter started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-queued:
			if !ok {
				return nil
			}
			a.onQueued(ctx, payload)
		case payload, ok := <-resolved:
			if !ok {
				return nil
			}
			a.onResolved(ctx, payload)
		}
	}
}

func (a *Alerter) onQueued(ctx context.Context, payload []byte) {
	var ev queuedAlert
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	msg := fmt.Sprintf("strategy: %s\nblock: %d\nnet profit: %s wei\nconfidence: %.2f",
		ev.Strategy, ev.Block, ev.NetProfit, ev.Conf)
	if err := a.notifier.Notify(ctx, EventOpportunityQueued, "Opportunity queued: "+ev.Key, msg); err != nil {
		a.logger.Warn("queued alert failed", slog.String("error", err.Error()))
	}
}

func (a *Alerter) onResolved(ctx context.Context, payload []byte) {
	var ev resolvedAlert
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	msg := fmt.Sprintf("outcome: %s", ev.Outcome)
	if err := a.notifier.Notify(ctx, EventOpportunityResolved, "Opportunity resolved: "+ev.Key, msg); err != nil {
		a.logger.Warn("resolved alert failed", slog.String("error", err.Error()))
	}
}
