// Package channel provides the in-memory bus carrying audience actions
// from the aggregation pass to the sales notifier.
package channel

import (
	"context"

	"github.com/entersite/outreach/internal/domain"
)

// MetricsSink records bus saturation. Methods must be non-blocking.
type MetricsSink interface {
	BusSizeUpdate(size int)
	BusCapacitySet(capacity int)
	EmitError()
}

type ActionBus struct {
	ch      chan domain.AudienceAction
	metrics MetricsSink // optional, nil = disabled
}

type Option func(*ActionBus)

func WithMetrics(sink MetricsSink) Option {
	return func(b *ActionBus) {
		b.metrics = sink
		sink.BusCapacitySet(cap(b.ch))
	}
}

func NewActionBus(buffer int, opts ...Option) *ActionBus {
	b := &ActionBus{
		ch: make(chan domain.AudienceAction, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit enqueues an action, blocking until there is buffer space or the
// context is cancelled.
func (b *ActionBus) Emit(ctx context.Context, action domain.AudienceAction) error {
	select {
	case b.ch <- action:
		if b.metrics != nil {
			b.metrics.BusSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *ActionBus) Channel() <-chan domain.AudienceAction {
	return b.ch
}
