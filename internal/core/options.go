// Options for configuring Contract instances.
package core

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// WithPersister configures the Contract with a custom Persister.
func WithPersister(p Persister) Option {
	return func(c *Contract) {
		c.persister = p
	}
}

// WithPublisher adds an EventPublisher. Publishers receive records in the order they were added.
func WithPublisher(pb EventPublisher) Option {
	return func(c *Contract) {
		c.publishers = append(c.publishers, pb)
	}
}

// WithTraceSink configures where debug traces from messages go.
func WithTraceSink(s TraceSink) Option {
	return func(c *Contract) {
		c.traceSink = s
	}
}

// WithBlockSource overrides the snapshot-derived block height.
func WithBlockSource(b BlockSource) Option {
	return func(c *Contract) {
		c.blocks = b
	}
}

// WithCallSource configures the source drained by Start.
func WithCallSource(s CallSource) Option {
	return func(c *Contract) {
		c.callSource = s
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Contract) {
		c.logger = l
	}
}

// WithTracer replaces the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Contract) {
		c.tracer = t
	}
}

// WithClock sets the time source used for snapshot and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Contract) {
		c.now = now
	}
}
