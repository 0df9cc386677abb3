package valuechange

// Env is the capability set the host hands to messages that need it.
//
// Implementations must not fail: event delivery and trace output are host
// concerns, and a host that cannot honor them aborts the whole invocation
// after the message returns.
type Env interface {
	// BlockNumber returns the host's current block height.
	BlockNumber() uint64
	// EmitEvent records an event for external observers.
	EmitEvent(event Event)
	// DebugPrintf writes a diagnostic trace line. Output is optional.
	DebugPrintf(format string, args ...any)
}
