// Package worker provides async decision processing for the Pro tier.
// It re-drives evaluation from the event bus so that transactions left
// PENDING (after a crash mid-request, or after an admin retry) are
// eventually decided without a new API call.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker consumes transaction events from the EventBus and runs the
// decision engine for each.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction submitted topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicTransactionSubmitted)
	return nil
}

// handleMessage evaluates the transaction referenced by the event.
// The API path evaluates synchronously, so most events arrive after the
// transaction has already been decided; that case is not an error here.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	decision, err := w.engine.EvaluateAndDecide(ctx, tx.ID)
	if err != nil {
		var stateErr *domain.InvalidStateTransitionError
		if errors.As(err, &stateErr) {
			slog.Debug("transaction already decided, skipping",
				"tx_id", tx.ID,
			)
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("transaction not found for event", "tx_id", tx.ID)
			return nil
		}
		slog.Error("async evaluation failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"status", decision.Transaction.Status,
		"awaiting_review", decision.AwaitingReview,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
