// Package history persists execution-history entries published on the
// event bus.
package history

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fundops/harrier/internal/domain"
)

// Recorder subscribes to execution-history messages and writes them to
// the repository. Writes are best-effort: a failed write is logged and
// dropped, never retried into the calculation path.
type Recorder struct {
	bus  domain.EventBus
	repo domain.Repository

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewRecorder creates a history recorder.
func NewRecorder(bus domain.EventBus, repo domain.Repository) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		bus:    bus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the history topic.
func (r *Recorder) Start() error {
	sub, err := r.bus.Subscribe(r.ctx, domain.TopicHistoryRecorded, r.handleMessage)
	if err != nil {
		return err
	}
	r.subscriptions = append(r.subscriptions, sub)

	slog.Info("history recorder started", "topic", domain.TopicHistoryRecorded)
	return nil
}

func (r *Recorder) handleMessage(ctx context.Context, msg *domain.Message) error {
	var entry domain.ExecutionHistoryEntry
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		slog.Error("failed to parse history message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := r.repo.SaveHistory(ctx, &entry); err != nil {
		slog.Error("failed to save execution history",
			"entry_id", entry.ID,
			"run_id", entry.RunID,
			"error", err,
		)
		return err
	}

	return nil
}

// Stop unsubscribes and halts the recorder.
func (r *Recorder) Stop() error {
	r.cancel()

	for _, sub := range r.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	r.subscriptions = nil

	slog.Info("history recorder stopped")
	return nil
}
