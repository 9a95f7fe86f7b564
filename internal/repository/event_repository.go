package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// EventRepository журнал обработанных событий
type EventRepository interface {
	// Record сохраняет итог. Первая запись побеждает, повтор молча игнорируется.
	Record(ctx context.Context, ev *domain.ProcessedEvent) error
	Get(ctx context.Context, eventID string) (*domain.ProcessedEvent, error)
}

type sqlEventRepo struct {
	store *Store
	log   *logger.Logger
}

// NewEventRepository создает журнал событий
func NewEventRepository(store *Store, log *logger.Logger) EventRepository {
	return &sqlEventRepo{store: store, log: log}
}

func (r *sqlEventRepo) Record(ctx context.Context, ev *domain.ProcessedEvent) error {
	if ev.ProcessedAt.IsZero() {
		ev.ProcessedAt = time.Now().UTC()
	}

	query := r.store.rebind(`
		INSERT INTO processed_events (event_id, event_type, outcome, detail, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`)

	if _, err := r.store.q(ctx).ExecContext(ctx, query, ev.EventID, ev.EventType, ev.Outcome, ev.Detail, ev.ProcessedAt); err != nil {
		r.log.Errorw("Failed to record processed event", "error", err, "eventID", ev.EventID)
		return fmt.Errorf("repository: failed to record event: %w", err)
	}
	return nil
}

func (r *sqlEventRepo) Get(ctx context.Context, eventID string) (*domain.ProcessedEvent, error) {
	var ev domain.ProcessedEvent
	query := r.store.rebind(`SELECT event_id, event_type, outcome, detail, processed_at
		FROM processed_events WHERE event_id = ?`)

	if err := r.store.q(ctx).GetContext(ctx, &ev, query, eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("processed event", eventID)
		}
		return nil, fmt.Errorf("repository: failed to get event: %w", err)
	}
	return &ev, nil
}
