package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/kafka/producer"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// SnapshotInvalidator сбрасывает закешированный снимок подписки
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, stripeSubscriptionID string)
}

// SubscriptionReconciler зеркалирует статус и платежный период подписки.
// Переходы не выводятся локально: статус всегда берется из события.
type SubscriptionReconciler struct {
	subscriptions repository.SubscriptionRepository
	invalidator   SnapshotInvalidator
	producer      producer.ReconcileProducer
	log           *logger.Logger
}

// NewSubscriptionReconciler создает сверку подписок. invalidator может быть nil.
func NewSubscriptionReconciler(
	subscriptions repository.SubscriptionRepository,
	invalidator SnapshotInvalidator,
	p producer.ReconcileProducer,
	log *logger.Logger,
) *SubscriptionReconciler {
	return &SubscriptionReconciler{
		subscriptions: subscriptions,
		invalidator:   invalidator,
		producer:      p,
		log:           log,
	}
}

// Reconcile создает запись при первом появлении, иначе перезаписывает статус и период.
// force задает статус принудительно (deleted -> cancelled, paused -> paused).
func (r *SubscriptionReconciler) Reconcile(ctx context.Context, state SubscriptionState, force *domain.SubscriptionStatus) (Result, error) {
	if state.StripeSubscriptionID == "" {
		return Result{}, fmt.Errorf("%w: subscription id is missing", domain.ErrInvalidPayload)
	}

	sub, created, err := r.upsert(ctx, state, force)
	if err != nil {
		return Result{}, err
	}

	if r.invalidator != nil {
		r.invalidator.Invalidate(ctx, state.StripeSubscriptionID)
	}

	publish(ctx, r.producer, r.log, producer.TopicSubscriptionReconciled, sub.StripeSubscriptionID, state.EventID, sub)

	detail := "updated"
	if created {
		detail = "created"
	}
	r.log.Infow("Subscription reconciled",
		"stripeSubscriptionID", sub.StripeSubscriptionID,
		"subscriptionID", sub.ID,
		"status", sub.Status,
		"action", detail,
		"eventID", state.EventID,
	)
	return Result{Outcome: domain.OutcomeApplied, Detail: detail, SubscriptionID: sub.ID}, nil
}

// Ensure возвращает локальную подписку, создавая ее из снимка, если событие
// о создании еще не пришло. Существующая запись не изменяется.
func (r *SubscriptionReconciler) Ensure(ctx context.Context, snap *domain.SubscriptionSnapshot) (*domain.Subscription, error) {
	existing, err := r.subscriptions.GetByStripeID(ctx, snap.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	sub, _, err := r.upsert(ctx, StateFromSnapshot(snap), nil)
	if err != nil {
		return nil, err
	}
	r.log.Infow("Subscription created from provider snapshot", "stripeSubscriptionID", snap.ID, "subscriptionID", sub.ID)
	return sub, nil
}

func (r *SubscriptionReconciler) upsert(ctx context.Context, state SubscriptionState, force *domain.SubscriptionStatus) (*domain.Subscription, bool, error) {
	existing, err := r.subscriptions.GetByStripeID(ctx, state.StripeSubscriptionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	if existing == nil {
		sub, err := r.create(ctx, state, force)
		if err == nil {
			return sub, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, false, err
		}
		// параллельная доставка создала запись первой
		if existing, err = r.subscriptions.GetByStripeID(ctx, state.StripeSubscriptionID); err != nil {
			return nil, false, err
		}
	}

	r.apply(existing, state, force)
	if err := r.subscriptions.Update(ctx, existing); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *SubscriptionReconciler) create(ctx context.Context, state SubscriptionState, force *domain.SubscriptionStatus) (*domain.Subscription, error) {
	userID, ok := domain.MetadataID(state.Metadata, domain.MetadataUserID)
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", domain.ErrMissingUserMetadata, state.StripeSubscriptionID)
	}

	sub := &domain.Subscription{
		UserID:               userID,
		StripeSubscriptionID: state.StripeSubscriptionID,
		Status:               domain.SubscriptionStatusIncomplete,
	}
	r.apply(sub, state, force)

	if err := r.subscriptions.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// apply переносит поля события в запись. Владелец не меняется.
func (r *SubscriptionReconciler) apply(sub *domain.Subscription, state SubscriptionState, force *domain.SubscriptionStatus) {
	switch {
	case force != nil:
		sub.Status = *force
	default:
		if status, ok := domain.SubscriptionStatusFromProvider(state.Status); ok {
			sub.Status = status
		} else {
			r.log.Warnw("Unknown provider subscription status, keeping current",
				"stripeSubscriptionID", state.StripeSubscriptionID,
				"providerStatus", state.Status,
				"currentStatus", sub.Status,
			)
		}
	}

	if state.CustomerID != "" {
		sub.StripeCustomerID = state.CustomerID
	}
	if state.CurrentPeriodStart > 0 {
		start := time.Unix(state.CurrentPeriodStart, 0).UTC()
		sub.CurrentPeriodStart = &start
	}
	if state.CurrentPeriodEnd > 0 {
		end := time.Unix(state.CurrentPeriodEnd, 0).UTC()
		next := domain.DateOf(end)
		sub.CurrentPeriodEnd = &end
		sub.NextBillingDate = &next
	}
}
