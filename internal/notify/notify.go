// Package notify drains the notification outbox to an off-band delivery
// channel (push, email, whatever the Notifier wires to). Dispatch is
// best-effort: a failed delivery is logged and marked, never surfaced to the
// mutation that enqueued it.
package notify

import (
	"context"
	"time"

	"github.com/converse-chat/converse/internal/store"
	"go.uber.org/zap"
)

// Notifier delivers one off-band alert to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, kind, payload string) error
}

// LogNotifier is the default delivery backend: it only logs. Used until a
// real push provider is wired in.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Notify(_ context.Context, userID, kind, payload string) error {
	n.Logger.Info("notification",
		zap.String("user_id", userID),
		zap.String("kind", kind),
		zap.String("payload", payload))
	return nil
}

// Dispatcher polls the outbox and hands queued entries to the Notifier.
type Dispatcher struct {
	db       *store.DB
	notifier Notifier
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

func NewDispatcher(db *store.DB, notifier Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:       db,
		notifier: notifier,
		logger:   logger,
		interval: 500 * time.Millisecond,
	}
}

// Start begins polling the outbox for queued notifications.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
}

// Stop stops the dispatch loop.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) processPending(ctx context.Context) {
	pending, err := d.db.PendingNotifications()
	if err != nil {
		d.logger.Error("failed to read notification outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := d.db.MarkNotificationSending(entry.ID); err != nil {
			d.logger.Error("failed to mark sending", zap.Error(err), zap.Int64("id", entry.ID))
			continue
		}

		if err := d.notifier.Notify(ctx, entry.UserID, entry.Kind, entry.Payload); err != nil {
			d.logger.Error("failed to deliver notification", zap.Error(err), zap.Int64("id", entry.ID))
			_ = d.db.MarkNotificationFailed(entry.ID, err.Error())
			continue
		}

		if err := d.db.MarkNotificationSent(entry.ID); err != nil {
			d.logger.Error("failed to mark sent", zap.Error(err), zap.Int64("id", entry.ID))
		}
	}
}
