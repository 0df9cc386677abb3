package core

import (
	"context"
	"fmt"
	"sync"
)

// MemoryPersister keeps snapshots in a map. It is the default Persister.
type MemoryPersister struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{snaps: make(map[string]Snapshot)}
}

func (p *MemoryPersister) Save(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps[snapshot.ContractID] = snapshot
	return nil
}

func (p *MemoryPersister) Load(ctx context.Context, contractID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.snaps[contractID]
	if !ok {
		return Snapshot{}, fmt.Errorf("contract %q: %w", contractID, ErrNotFound)
	}
	return snap, nil
}
