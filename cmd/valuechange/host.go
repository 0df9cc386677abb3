package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/comalice/valuechange/internal/config"
	"github.com/comalice/valuechange/internal/core"
	"github.com/comalice/valuechange/internal/production"
)

// journal lists committed events. Only the SQLite backend keeps one.
type journal interface {
	Events(ctx context.Context, contractID string) ([]core.Record, error)
}

type host struct {
	contract *core.Contract
	journal  journal
	closers  []func() error
}

func (h *host) Close() error {
	var errs []error
	if err := h.contract.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range h.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.Config, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	if cfg.LogFormat == config.LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func newPersister(cfg config.Config) (core.Persister, journal, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return core.NewMemoryPersister(), nil, nil, nil
	case config.BackendJSON:
		p, err := production.NewJSONPersister(cfg.DataDir)
		return p, nil, nil, err
	case config.BackendYAML:
		p, err := production.NewYAMLPersister(cfg.DataDir)
		return p, nil, nil, err
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("mkdir %s: %w", cfg.DataDir, err)
		}
		store, err := production.OpenSQLite(filepath.Join(cfg.DataDir, "valuechange.db"))
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openHost assembles a Contract for cfg.
func openHost(cfg config.Config, logger zerolog.Logger) (*host, error) {
	persister, j, closer, err := newPersister(cfg)
	if err != nil {
		return nil, err
	}

	opts := []core.Option{
		core.WithPersister(persister),
		core.WithLogger(logger),
		core.WithPublisher(production.NewLogPublisher(logger)),
		core.WithTraceSink(production.MultiTraceSink{
			production.NewLogTraceSink(logger),
			production.SpanTraceSink{},
		}),
	}

	h := &host{
		contract: core.NewContract(cfg.ContractID, opts...),
		journal:  j,
	}
	if closer != nil {
		h.closers = append(h.closers, closer)
	}
	return h, nil
}
