package testutil

import (
	"fmt"

	"github.com/comalice/valuechange"
)

// RecordingEnv is a valuechange.Env that keeps everything it is given.
// Use it to exercise messages without a host runtime.
type RecordingEnv struct {
	Block  uint64
	Events []valuechange.Event
	Traces []string
}

var _ valuechange.Env = (*RecordingEnv)(nil)

// NewRecordingEnv creates a RecordingEnv reporting the given block height.
func NewRecordingEnv(block uint64) *RecordingEnv {
	return &RecordingEnv{Block: block}
}

func (e *RecordingEnv) BlockNumber() uint64 {
	return e.Block
}

func (e *RecordingEnv) EmitEvent(event valuechange.Event) {
	e.Events = append(e.Events, event)
}

func (e *RecordingEnv) DebugPrintf(format string, args ...any) {
	e.Traces = append(e.Traces, fmt.Sprintf(format, args...))
}

// ScoreReturns returns the ScoreReturn events in emission order.
func (e *RecordingEnv) ScoreReturns() []valuechange.ScoreReturn {
	var out []valuechange.ScoreReturn
	for _, ev := range e.Events {
		if sr, ok := ev.(valuechange.ScoreReturn); ok {
			out = append(out, sr)
		}
	}
	return out
}

// Reset drops recorded events and traces but keeps the block height.
func (e *RecordingEnv) Reset() {
	e.Events = nil
	e.Traces = nil
}
