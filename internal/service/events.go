package service

import (
	"context"
	"errors"

	"github.com/flicky/go-storefront/internal/model"
)

// ErrForbidden is returned when the acting user may not touch a resource.
var ErrForbidden = errors.New("access denied")

// EventPublisher receives order events after the owning transaction has
// committed. Publishing failures never undo the committed change.
type EventPublisher interface {
	Publish(ctx context.Context, event model.OrderEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.OrderEvent) error { return nil }
