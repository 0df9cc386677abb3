package extensibility

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/comalice/valuechange/internal/core"
)

var _ core.BlockSource = (*TickerBlocks)(nil)

// TickerBlocks is a BlockSource producing one block per interval.
type TickerBlocks struct {
	height   atomic.Uint64
	ticker   *time.Ticker
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTickerBlocks starts producing blocks from start, one every d.
func NewTickerBlocks(start uint64, d time.Duration) *TickerBlocks {
	b := &TickerBlocks{
		ticker: time.NewTicker(d),
		stop:   make(chan struct{}),
	}
	b.height.Store(start)
	go b.run()
	return b
}

func (b *TickerBlocks) run() {
	for {
		select {
		case <-b.ticker.C:
			b.height.Add(1)
		case <-b.stop:
			b.ticker.Stop()
			return
		}
	}
}

func (b *TickerBlocks) BlockNumber() uint64 {
	return b.height.Load()
}

// Stop freezes the height. Safe to call multiple times.
func (b *TickerBlocks) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}
