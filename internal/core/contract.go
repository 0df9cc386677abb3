// Package core provides the host runtime for a valuechange contract.
// It dispatches named messages, loads and commits state through a pluggable
// Persister, and publishes emitted events only after the commit succeeded.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/comalice/valuechange"
)

const tracerName = "github.com/comalice/valuechange/internal/core"

var (
	ErrNotFound            = errors.New("contract not found")
	ErrNotInstantiated     = errors.New("contract not instantiated")
	ErrAlreadyInstantiated = errors.New("contract already instantiated")
	ErrUnknownMessage      = errors.New("unknown message")
	ErrHostPersistence     = errors.New("host persistence failure")
	ErrClosed              = errors.New("contract host closed")
)

// Pluggable host components.

type Persister interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Load(ctx context.Context, contractID string) (Snapshot, error)
}

// Committer is implemented by persisters that can store a snapshot together
// with the events it produced in a single transaction.
type Committer interface {
	Commit(ctx context.Context, snapshot Snapshot, records []Record) error
}

type EventPublisher interface {
	Publish(ctx context.Context, record Record) error
	Close() error
}

// TraceSink receives diagnostic trace lines. Output is optional.
type TraceSink interface {
	Trace(ctx context.Context, text string)
}

type BlockSource interface {
	BlockNumber() uint64
}

// CallSource feeds message names to a started Contract.
type CallSource interface {
	Calls() <-chan string
}

// Snapshot is the durable record of one contract instance.
type Snapshot struct {
	ContractID     string              `json:"contractID" yaml:"contractID"`
	Storage        valuechange.Storage `json:"storage" yaml:"storage"`
	Block          uint64              `json:"block" yaml:"block"`
	InstantiatedAt time.Time           `json:"instantiatedAt" yaml:"instantiatedAt"`
	UpdatedAt      time.Time           `json:"updatedAt" yaml:"updatedAt"`
}

// Record is an emitted event with the metadata of the invocation that produced it.
type Record struct {
	ContractID string
	Message    string
	Block      uint64
	Event      valuechange.Event
	Timestamp  time.Time
}

// Topic returns the topic of the wrapped event.
func (r Record) Topic() string {
	if r.Event == nil {
		return ""
	}
	return r.Event.Topic()
}

// Result is the outcome of a committed invocation.
type Result struct {
	Message string
	Value   any
	Block   uint64
	Events  []Record
}

// Option applies configuration to Contract via functional options pattern.
type Option func(*Contract)

// Contract hosts a single valuechange instance.
// Invocations are serialized; each one loads state, runs the message and,
// for mutating messages, commits before returning.
type Contract struct {
	id         string
	mu         sync.Mutex
	persister  Persister
	publishers []EventPublisher
	traceSink  TraceSink
	blocks     BlockSource
	callSource CallSource
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	closed    bool
}

// NewContract creates a host for the contract with the given ID.
// Without WithPersister the state lives in memory.
func NewContract(id string, opts ...Option) *Contract {
	c := &Contract{
		id:     id,
		logger: zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.persister == nil {
		c.persister = NewMemoryPersister()
	}
	return c
}

// ID returns the contract ID.
func (c *Contract) ID() string {
	return c.id
}

// Instantiate runs the explicit constructor. It fails with
// ErrAlreadyInstantiated if state already exists for this contract.
func (c *Contract) Instantiate(ctx context.Context, initValue bool) (Result, error) {
	return c.invoke(ctx, constructor(CtorNew, func() *valuechange.Valuechange {
		return valuechange.New(initValue)
	}))
}

// InstantiateDefault runs the default constructor.
func (c *Contract) InstantiateDefault(ctx context.Context) (Result, error) {
	return c.invoke(ctx, constructor(CtorDefault, valuechange.Default))
}

// Call dispatches a message by name.
func (c *Contract) Call(ctx context.Context, name string) (Result, error) {
	msg, ok := Lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("%q: %w", name, ErrUnknownMessage)
	}
	return c.invoke(ctx, msg)
}

func (c *Contract) Flip(ctx context.Context) error {
	_, err := c.Call(ctx, MsgFlip)
	return err
}

func (c *Contract) Get(ctx context.Context) (bool, error) {
	res, err := c.Call(ctx, MsgGet)
	if err != nil {
		return false, err
	}
	return res.Value.(bool), nil
}

func (c *Contract) AddScore(ctx context.Context) error {
	_, err := c.Call(ctx, MsgAddScore)
	return err
}

func (c *Contract) GetScore(ctx context.Context) (uint64, error) {
	res, err := c.Call(ctx, MsgGetScore)
	if err != nil {
		return 0, err
	}
	return res.Value.(uint64), nil
}

// Snapshot returns the last committed snapshot.
func (c *Contract) Snapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.persister.Load(ctx, c.id)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, fmt.Errorf("%s: %w", c.id, ErrNotInstantiated)
	}
	return snap, err
}

// invoke runs msg under the host lock inside its own span.
func (c *Contract) invoke(ctx context.Context, msg Message) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Result{}, ErrClosed
	}

	ctx, span := c.tracer.Start(ctx, "valuechange."+msg.Name, trace.WithAttributes(
		attribute.String("valuechange.contract_id", c.id),
		attribute.Bool("valuechange.mutates", msg.Mutates),
	))
	defer span.End()

	res, err := c.execute(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn().Err(err).
			Str("contract", c.id).
			Str("message", msg.Name).
			Msg("invocation aborted")
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Int64("valuechange.block", int64(res.Block)),
		attribute.Int("valuechange.events", len(res.Events)),
	)
	c.logger.Debug().
		Str("contract", c.id).
		Str("message", msg.Name).
		Uint64("block", res.Block).
		Int("events", len(res.Events)).
		Msg("invocation committed")
	return res, nil
}

func (c *Contract) execute(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	snap, err := c.persister.Load(ctx, c.id)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Result{}, fmt.Errorf("%w: load %q: %w", ErrHostPersistence, c.id, err)
	}

	var instance *valuechange.Valuechange
	switch {
	case msg.construct != nil:
		if exists {
			return Result{}, fmt.Errorf("%s: %w", c.id, ErrAlreadyInstantiated)
		}
		instance = msg.construct()
	case !exists:
		return Result{}, fmt.Errorf("%s: %w", c.id, ErrNotInstantiated)
	default:
		instance = valuechange.Restore(snap.Storage)
	}

	block := snap.Block
	if msg.Mutates {
		block++
	}
	if c.blocks != nil {
		block = c.blocks.BlockNumber()
		// The committed height never moves backwards.
		if block < snap.Block {
			c.logger.Warn().
				Str("contract", c.id).
				Uint64("source", block).
				Uint64("committed", snap.Block).
				Msg("block source behind committed height")
			block = snap.Block
		}
	}

	env := &invocationEnv{ctx: ctx, block: block, sink: c.traceSink}
	var value any
	if msg.handle != nil {
		value, err = msg.handle(instance, env)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", msg.Name, err)
		}
	}

	res := Result{Message: msg.Name, Value: value, Block: block}
	if !msg.Mutates {
		env.flushTraces()
		return res, nil
	}

	now := c.now()
	next := Snapshot{
		ContractID:     c.id,
		Storage:        instance.Storage(),
		Block:          block,
		InstantiatedAt: snap.InstantiatedAt,
		UpdatedAt:      now,
	}
	if !exists {
		next.InstantiatedAt = now
	}
	res.Events = env.records(c.id, msg.Name, now)

	if err := c.commit(ctx, next, res.Events); err != nil {
		return Result{}, fmt.Errorf("%w: commit %q: %w", ErrHostPersistence, c.id, err)
	}

	env.flushTraces()
	c.publish(ctx, res.Events)
	return res, nil
}

func (c *Contract) commit(ctx context.Context, snap Snapshot, records []Record) error {
	if committer, ok := c.persister.(Committer); ok {
		return committer.Commit(ctx, snap, records)
	}
	return c.persister.Save(ctx, snap)
}

// publish delivers committed records. Delivery failures are logged only:
// the state change has already happened.
func (c *Contract) publish(ctx context.Context, records []Record) {
	for _, rec := range records {
		for _, p := range c.publishers {
			if err := p.Publish(ctx, rec); err != nil {
				c.logger.Error().Err(err).
					Str("contract", rec.ContractID).
					Str("topic", rec.Topic()).
					Uint64("block", rec.Block).
					Msg("publish event")
			}
		}
	}
}

// Start launches the dispatch loop over the configured CallSource.
// Calls are processed one at a time until the source closes, ctx ends or Stop is called.
// Idempotent: safe to call multiple times (no-op after first).
func (c *Contract) Start(ctx context.Context) error {
	if c.callSource == nil {
		return errors.New("no call source configured")
	}

	c.startOnce.Do(func() {
		go c.serve(ctx)
	})
	return nil
}

func (c *Contract) serve(ctx context.Context) {
	calls := c.callSource.Calls()
	for {
		select {
		case name, ok := <-calls:
			if !ok {
				return
			}
			if _, err := c.Call(ctx, name); err != nil {
				c.logger.Error().Err(err).Str("message", name).Msg("dispatch call")
			}
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// Stop signals the dispatch loop to exit. Safe to call multiple times.
func (c *Contract) Stop() error {
	c.stopOnce.Do(func() { close(c.done) })
	return nil
}

// Close stops the dispatch loop, waits for the in-flight invocation and
// closes every publisher. Later invocations fail with ErrClosed.
func (c *Contract) Close() error {
	_ = c.Stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for _, p := range c.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
