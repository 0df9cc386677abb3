// Package extensibility provides host-side sources that drive a core.Contract:
// message call feeds and block producers.
package extensibility

import (
	"sync"
	"time"

	"github.com/comalice/valuechange/internal/core"
)

var (
	_ core.CallSource = (*ChannelCallSource)(nil)
	_ core.CallSource = (*TimerCallSource)(nil)
)

// ChannelCallSource is a CallSource backed by a Go channel.
// Provides a simple way to feed external message calls into Contract.Start.
type ChannelCallSource struct {
	ch chan string
}

// Calls returns the receive-only channel of message names.
func (s *ChannelCallSource) Calls() <-chan string {
	return s.ch
}

// NewChannelCallSource creates a new ChannelCallSource with the given channel.
// The channel should be buffered if backpressure handling is needed.
func NewChannelCallSource(ch chan string) *ChannelCallSource {
	return &ChannelCallSource{ch: ch}
}

// TimerCallSource emits the same message name every interval using time.Ticker.
type TimerCallSource struct {
	ch      chan string
	message string
	ticker  *time.Ticker
	stop    chan struct{}

	stopOnce sync.Once
}

// NewTimerCallSource creates a TimerCallSource that emits message every d duration.
func NewTimerCallSource(message string, d time.Duration) *TimerCallSource {
	t := &TimerCallSource{
		ch:      make(chan string, 10),
		message: message,
		ticker:  time.NewTicker(d),
		stop:    make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *TimerCallSource) run() {
	for {
		select {
		case <-t.ticker.C:
			select {
			case t.ch <- t.message:
			default:
				// drop if full
			}
		case <-t.stop:
			t.ticker.Stop()
			close(t.ch)
			return
		}
	}
}

// Calls returns the call channel.
func (t *TimerCallSource) Calls() <-chan string {
	return t.ch
}

// Stop stops the ticker and closes the channel. Safe to call multiple times.
func (t *TimerCallSource) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}
