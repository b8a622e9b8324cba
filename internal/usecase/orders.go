package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/google/uuid"
)

func (uc *Checkout) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, apperr.Validation("id", "order id required")
	}
	return uc.orders.GetByID(ctx, id)
}

// UpdateOrderStatus moves an order through fulfilment. The write is
// conditioned on the status read, so a concurrent change is a conflict.
func (uc *Checkout) UpdateOrderStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	if !to.Valid() {
		return nil, apperr.Validation("status", "unknown order status "+string(to))
	}
	o, err := uc.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OrderStatus == to {
		return o, nil
	}
	if !o.OrderStatus.CanTransitionTo(to) {
		return nil, apperr.Conflict(fmt.Sprintf("order %s cannot move from %s to %s", id, o.OrderStatus, to))
	}
	if to == domain.OrderShipped && o.PaymentStatus != domain.PaymentCompleted {
		return nil, apperr.Conflict("order " + id + " is not paid")
	}
	ok, err := uc.orders.UpdateOrderStatusIf(ctx, id, o.OrderStatus, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("order " + id + " changed concurrently")
	}
	from := o.OrderStatus
	o.OrderStatus = to
	o.UpdatedAt = uc.now().UTC()

	payload, err := json.Marshal(OrderEvent{
		EventID:       uuid.NewString(),
		Type:          TopicOrderStatusChanged,
		OrderID:       o.ID,
		IntentID:      o.PaymentIntentID,
		Provider:      o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   to,
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		OccurredAt:    o.UpdatedAt,
	})
	if err == nil {
		// One status change event per target status.
		err = uc.outbox.Enqueue(ctx, TopicOrderStatusChanged, o.ID+":"+string(to), payload)
	}
	if err != nil {
		uc.logger(ctx).Error("enqueue status change failed", "order_id", id, "err", err)
	}
	uc.logger(ctx).Info("order status changed", "order_id", id, "from", from, "to", to)
	return o, nil
}
