// Package events announces authorized charges to other systems.
package events

import (
	"context"
	"time"
)

// ChargeEvent describes one authorized charge.
type ChargeEvent struct {
	Account          string    `json:"account"`
	Amount           int64     `json:"amount"`
	RemainingBalance int64     `json:"remaining_balance"`
	RequestID        string    `json:"request_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Publisher delivers charge events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev ChargeEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, ChargeEvent) error { return nil }

type requestIDKey struct{}

// WithRequestID attaches a request id that will be copied onto events
// published while handling that request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
