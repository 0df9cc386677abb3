package production

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/comalice/valuechange/internal/core"
)

// ChannelPublisher forwards records to a Go channel.
// Non-blocking publish with drop on backpressure.
type ChannelPublisher struct {
	ch chan<- core.Record
}

// NewChannelPublisher creates a ChannelPublisher with the given output channel.
func NewChannelPublisher(ch chan<- core.Record) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, record core.Record) error {
	select {
	case p.ch <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil // Non-blocking drop
	}
}

func (p *ChannelPublisher) Close() error {
	close(p.ch)
	return nil
}

// LogPublisher writes every record as an info line.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, record core.Record) error {
	p.logger.Info().
		Str("contract", record.ContractID).
		Str("message", record.Message).
		Str("topic", record.Topic()).
		Uint64("block", record.Block).
		Interface("payload", record.Event).
		Time("at", record.Timestamp).
		Msg("event")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
