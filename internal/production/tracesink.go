package production

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/comalice/valuechange/internal/core"
)

// LogTraceSink writes trace lines at debug level.
type LogTraceSink struct {
	logger zerolog.Logger
}

func NewLogTraceSink(logger zerolog.Logger) *LogTraceSink {
	return &LogTraceSink{logger: logger}
}

func (s *LogTraceSink) Trace(ctx context.Context, text string) {
	s.logger.Debug().Ctx(ctx).Msg(text)
}

// SpanTraceSink records trace lines as events on the span carried by ctx.
// Without a recording span the line is dropped.
type SpanTraceSink struct{}

func (SpanTraceSink) Trace(ctx context.Context, text string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(text)
}

// MultiTraceSink fans a trace line out to several sinks in order.
type MultiTraceSink []core.TraceSink

func (m MultiTraceSink) Trace(ctx context.Context, text string) {
	for _, s := range m {
		if s != nil {
			s.Trace(ctx, text)
		}
	}
}
