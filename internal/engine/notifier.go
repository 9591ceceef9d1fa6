package engine

import (
	"context"

	"qms/queue-dashboard/internal/models"
)

// Notifier receives the customer-facing notifications the engine triggers.
// Delivery is its concern; the engine only logs failures.
type Notifier interface {
	NearFront(ctx context.Context, token models.Token, position int) error
	Served(ctx context.Context, token models.Token) error
}

type NopNotifier struct{}

func (NopNotifier) NearFront(context.Context, models.Token, int) error { return nil }

func (NopNotifier) Served(context.Context, models.Token) error { return nil }
