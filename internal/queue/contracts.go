package queue

import (
	"context"

	"github.com/iago/pdf-processor-back/internal/domain"
)

// Delivery is one receipt of a work item. Attempt starts at 1 and grows each
// time the same entry is handed out again after its claim timeout.
type Delivery struct {
	ID      string
	Item    domain.WorkItem
	Attempt int
}

// Handler processes a delivery. Returning nil acknowledges it; returning an
// error leaves it pending so it is redelivered after the claim timeout.
type Handler func(ctx context.Context, delivery Delivery) error

// Producer sends work items to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, item domain.WorkItem) error
}

// Consumer blocks receiving deliveries and runs handler for each, one at a time.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// StreamInfo describes queue depth for operators.
type StreamInfo struct {
	Stream  string      `json:"stream"`
	Length  int64       `json:"length"`
	Pending int64       `json:"pending"`
	Groups  []GroupInfo `json:"groups"`
}

type GroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}
