// Package production provides production integrations: persistence, event publishing, traces, visualization.
package production

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/comalice/valuechange/internal/core"
)

// JSONPersister is a file-based persister using JSON serialization.
type JSONPersister struct {
	dir string
}

// NewJSONPersister creates a JSONPersister, ensuring the directory exists.
func NewJSONPersister(dir string) (*JSONPersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &JSONPersister{dir: dir}, nil
}

func (p *JSONPersister) Save(ctx context.Context, snapshot core.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return writeAtomic(filepath.Join(p.dir, snapshot.ContractID+".json"), data)
}

func (p *JSONPersister) Load(ctx context.Context, contractID string) (core.Snapshot, error) {
	data, err := readSnapshotFile(filepath.Join(p.dir, contractID+".json"), contractID)
	if err != nil {
		return core.Snapshot{}, err
	}

	var snapshot core.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return core.Snapshot{}, fmt.Errorf("json unmarshal: %w", err)
	}
	snapshot.ContractID = contractID
	return snapshot, nil
}

// YAMLPersister is a file-based persister using YAML serialization for Snapshot.
type YAMLPersister struct {
	dir string
}

// NewYAMLPersister creates a YAMLPersister, ensuring the directory exists.
func NewYAMLPersister(dir string) (*YAMLPersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &YAMLPersister{dir: dir}, nil
}

func (p *YAMLPersister) Save(ctx context.Context, snapshot core.Snapshot) error {
	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return writeAtomic(filepath.Join(p.dir, snapshot.ContractID+".yaml"), data)
}

func (p *YAMLPersister) Load(ctx context.Context, contractID string) (core.Snapshot, error) {
	data, err := readSnapshotFile(filepath.Join(p.dir, contractID+".yaml"), contractID)
	if err != nil {
		return core.Snapshot{}, err
	}

	var snapshot core.Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return core.Snapshot{}, fmt.Errorf("yaml unmarshal: %w", err)
	}
	snapshot.ContractID = contractID
	return snapshot, nil
}

func readSnapshotFile(fn, contractID string) ([]byte, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("contract %q: %w", contractID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", fn, err)
	}
	return data, nil
}

// writeAtomic replaces fn so readers see either the old or the new content.
func writeAtomic(fn string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(fn), "."+filepath.Base(fn)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", fn, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), fn); err != nil {
		return fmt.Errorf("rename to %s: %w", fn, err)
	}
	return nil
}
