// Package usage records promotion redemptions and retires promotions and
// product sales whose windows have ended.
package usage

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/events"
)

// Tracker counts promotion usage. The counter itself lives in the repository
// so concurrent redemptions are serialized there.
type Tracker struct {
	promotions promotion.Repository
	publisher  events.Publisher
	now        func() time.Time

	redeemed metric.Int64Counter
	rejected metric.Int64Counter
	released metric.Int64Counter
}

// NewTracker creates a Tracker reporting to meter.
func NewTracker(promotions promotion.Repository, publisher events.Publisher, meter metric.Meter) (*Tracker, error) {
	t := &Tracker{promotions: promotions, publisher: publisher, now: time.Now}

	var err error
	if t.redeemed, err = meter.Int64Counter("promotion.redemptions",
		metric.WithDescription("Promotion redemptions recorded"),
	); err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}
	if t.rejected, err = meter.Int64Counter("promotion.redemptions.rejected",
		metric.WithDescription("Redemptions refused because the usage cap was reached"),
	); err != nil {
		return nil, errors.Wrap(err, "rejections counter")
	}
	if t.released, err = meter.Int64Counter("promotion.redemptions.released",
		metric.WithDescription("Redemptions reversed for orders that did not complete"),
	); err != nil {
		return nil, errors.Wrap(err, "releases counter")
	}
	return t, nil
}

// RecordRedemption increments the promotion's usage counter unless doing so
// would exceed the cap, in which case a *promotion.UnavailableError is
// returned. Recording the same order twice counts once.
func (t *Tracker) RecordRedemption(ctx context.Context, r promotion.Redemption) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.now()
	}
	attrs := metric.WithAttributes(attribute.String("promotion_id", r.PromotionID))

	if err := t.promotions.IncrementUsage(ctx, r); err != nil {
		if errors.Is(err, promotion.ErrUnavailable) {
			t.rejected.Add(ctx, 1, attrs)
			return err
		}
		return errors.Wrapf(err, "record redemption of %s", r.PromotionID)
	}
	t.redeemed.Add(ctx, 1, attrs)

	amount := r.Discount
	t.publish(ctx, events.Event{
		ID:         r.ID,
		Type:       events.TypePromotionRedeemed,
		Subject:    r.PromotionID,
		OrderID:    r.OrderID,
		UserID:     r.UserID,
		Amount:     &amount,
		OccurredAt: r.CreatedAt,
	})
	return nil
}

// ReleaseRedemption reverses the redemption recorded for orderID.
func (t *Tracker) ReleaseRedemption(ctx context.Context, promotionID, orderID string) error {
	if err := t.promotions.ReleaseUsage(ctx, promotionID, orderID); err != nil {
		return errors.Wrapf(err, "release redemption of %s", promotionID)
	}
	t.released.Add(ctx, 1, metric.WithAttributes(attribute.String("promotion_id", promotionID)))
	t.publish(ctx, events.Event{
		ID:         uuid.NewString(),
		Type:       events.TypePromotionReleased,
		Subject:    promotionID,
		OrderID:    orderID,
		OccurredAt: t.now(),
	})
	return nil
}

func (t *Tracker) publish(ctx context.Context, evs ...events.Event) {
	if err := t.publisher.Publish(ctx, evs...); err != nil {
		zctx.From(ctx).Warn("Failed to publish usage event",
			zap.String("type", string(evs[0].Type)),
			zap.Error(err),
		)
	}
}
