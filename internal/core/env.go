package core

import (
	"context"
	"fmt"
	"time"

	"github.com/comalice/valuechange"
)

// invocationEnv is the valuechange.Env handed to a single invocation.
// Events and trace lines are buffered so nothing escapes an aborted invocation.
type invocationEnv struct {
	ctx    context.Context
	block  uint64
	sink   TraceSink
	events []valuechange.Event
	traces []string
}

func (e *invocationEnv) BlockNumber() uint64 {
	return e.block
}

func (e *invocationEnv) EmitEvent(event valuechange.Event) {
	e.events = append(e.events, event)
}

func (e *invocationEnv) DebugPrintf(format string, args ...any) {
	if e.sink == nil {
		return
	}
	e.traces = append(e.traces, fmt.Sprintf(format, args...))
}

// flushTraces hands buffered trace lines to the sink once the invocation succeeded.
func (e *invocationEnv) flushTraces() {
	for _, line := range e.traces {
		e.sink.Trace(e.ctx, line)
	}
	e.traces = nil
}

func (e *invocationEnv) records(contractID, message string, ts time.Time) []Record {
	if len(e.events) == 0 {
		return nil
	}
	out := make([]Record, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, Record{
			ContractID: contractID,
			Message:    message,
			Block:      e.block,
			Event:      ev,
			Timestamp:  ts,
		})
	}
	return out
}
