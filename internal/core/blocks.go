package core

import "sync/atomic"

// ManualBlocks is a BlockSource whose height is moved explicitly.
type ManualBlocks struct {
	height atomic.Uint64
}

// NewManualBlocks creates a ManualBlocks starting at height.
func NewManualBlocks(height uint64) *ManualBlocks {
	b := &ManualBlocks{}
	b.height.Store(height)
	return b
}

func (b *ManualBlocks) BlockNumber() uint64 {
	return b.height.Load()
}

// Advance moves the height forward by n and returns the new height.
func (b *ManualBlocks) Advance(n uint64) uint64 {
	return b.height.Add(n)
}

func (b *ManualBlocks) Set(height uint64) {
	b.height.Store(height)
}
