package core

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/comalice/valuechange"
)

type recordingPublisher struct {
	records []Record
	err     error
	closed  bool
}

func (p *recordingPublisher) Publish(ctx context.Context, record Record) error {
	p.records = append(p.records, record)
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

type recordingSink struct {
	lines []string
}

func (s *recordingSink) Trace(ctx context.Context, text string) {
	s.lines = append(s.lines, text)
}

// failingPersister loads from an inner persister but refuses to save once armed.
type failingPersister struct {
	*MemoryPersister
	failSave bool
}

func (p *failingPersister) Save(ctx context.Context, snapshot Snapshot) error {
	if p.failSave {
		return errors.New("disk full")
	}
	return p.MemoryPersister.Save(ctx, snapshot)
}

func TestContract_DefaultConstruction(t *testing.T) {
	ctx := context.Background()
	c := NewContract("default")

	if _, err := c.InstantiateDefault(ctx); err != nil {
		t.Fatalf("InstantiateDefault failed: %v", err)
	}

	value, err := c.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if value {
		t.Error("expected default value false")
	}
	score, err := c.GetScore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if score != 0 {
		t.Errorf("expected score 0, got %d", score)
	}
}

func TestContract_NewThenFlip(t *testing.T) {
	ctx := context.Background()
	c := NewContract("flip")

	if _, err := c.Instantiate(ctx, true); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Get(ctx); !v {
		t.Fatal("expected true after Instantiate(true)")
	}
	if err := c.Flip(ctx); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Get(ctx); v {
		t.Error("expected false after flip")
	}
}

func TestContract_AddScorePublishesCommittedScore(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	c := NewContract("score", WithPublisher(pub))

	if _, err := c.Instantiate(ctx, false); err != nil {
		t.Fatal(err)
	}

	for want := uint64(1); want <= 2; want++ {
		if err := c.AddScore(ctx); err != nil {
			t.Fatal(err)
		}
		got, err := c.GetScore(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("expected score %d, got %d", want, got)
		}
	}

	if len(pub.records) != 2 {
		t.Fatalf("expected 2 published records, got %d", len(pub.records))
	}
	for i, rec := range pub.records {
		sr, ok := rec.Event.(valuechange.ScoreReturn)
		if !ok {
			t.Fatalf("record %d: unexpected event %T", i, rec.Event)
		}
		if sr.Score != uint64(i+1) {
			t.Errorf("record %d: score %d, want %d", i, sr.Score, i+1)
		}
		if rec.Message != MsgAddScore || rec.ContractID != "score" {
			t.Errorf("record %d: unexpected metadata %+v", i, rec)
		}
	}
}

func TestContract_FlipThenAddScore(t *testing.T) {
	ctx := context.Background()
	c := NewContract("mixed")

	if _, err := c.Instantiate(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := c.Flip(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.AddScore(ctx); err != nil {
		t.Fatal(err)
	}

	if v, _ := c.Get(ctx); !v {
		t.Error("expected value true")
	}
	if s, _ := c.GetScore(ctx); s != 1 {
		t.Errorf("expected score 1, got %d", s)
	}
}

func TestContract_InstantiateOnce(t *testing.T) {
	ctx := context.Background()
	c := NewContract("once")

	if _, err := c.Instantiate(ctx, true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.InstantiateDefault(ctx); !errors.Is(err, ErrAlreadyInstantiated) {
		t.Fatalf("expected ErrAlreadyInstantiated, got %v", err)
	}
	if v, _ := c.Get(ctx); !v {
		t.Error("second instantiation changed state")
	}
}

func TestContract_CallBeforeInstantiate(t *testing.T) {
	c := NewContract("empty")
	if _, err := c.Get(context.Background()); !errors.Is(err, ErrNotInstantiated) {
		t.Errorf("expected ErrNotInstantiated, got %v", err)
	}
	if _, err := c.Snapshot(context.Background()); !errors.Is(err, ErrNotInstantiated) {
		t.Errorf("expected ErrNotInstantiated from Snapshot, got %v", err)
	}
}

func TestContract_UnknownMessage(t *testing.T) {
	c := NewContract("unknown")
	if _, err := c.Call(context.Background(), "burn"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestContract_PersistenceFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	persister := &failingPersister{MemoryPersister: NewMemoryPersister()}
	pub := &recordingPublisher{}
	sink := &recordingSink{}
	c := NewContract("atomic", WithPersister(persister), WithPublisher(pub), WithTraceSink(sink))

	if _, err := c.Instantiate(ctx, false); err != nil {
		t.Fatal(err)
	}
	persister.failSave = true

	if err := c.AddScore(ctx); !errors.Is(err, ErrHostPersistence) {
		t.Fatalf("expected ErrHostPersistence, got %v", err)
	}
	if err := c.Flip(ctx); !errors.Is(err, ErrHostPersistence) {
		t.Fatalf("expected ErrHostPersistence from flip, got %v", err)
	}
	if len(pub.records) != 0 {
		t.Errorf("expected no published events, got %d", len(pub.records))
	}
	if len(sink.lines) != 0 {
		t.Errorf("expected no traces from aborted calls, got %v", sink.lines)
	}

	persister.failSave = false
	if s, _ := c.GetScore(ctx); s != 0 {
		t.Errorf("score changed despite failed commit: %d", s)
	}
	if v, _ := c.Get(ctx); v {
		t.Error("value changed despite failed commit")
	}
}

func TestContract_OverflowAborts(t *testing.T) {
	ctx := context.Background()
	persister := NewMemoryPersister()
	_ = persister.Save(ctx, Snapshot{
		ContractID: "max",
		Storage:    valuechange.Storage{Score: math.MaxUint64},
		Block:      10,
	})
	pub := &recordingPublisher{}
	c := NewContract("max", WithPersister(persister), WithPublisher(pub))

	if err := c.AddScore(ctx); !errors.Is(err, valuechange.ErrCounterOverflow) {
		t.Fatalf("expected ErrCounterOverflow, got %v", err)
	}
	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Storage.Score != math.MaxUint64 || snap.Block != 10 {
		t.Errorf("snapshot changed on overflow: %+v", snap)
	}
	if len(pub.records) != 0 {
		t.Errorf("expected no events, got %d", len(pub.records))
	}
}

func TestContract_PublisherErrorDoesNotFailCall(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	c := NewContract("pub-err", WithPublisher(pub))

	if _, err := c.InstantiateDefault(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.AddScore(ctx); err != nil {
		t.Fatalf("publisher error leaked into call: %v", err)
	}
	if s, _ := c.GetScore(ctx); s != 1 {
		t.Errorf("expected committed score 1, got %d", s)
	}
}

func TestContract_DerivedBlockHeight(t *testing.T) {
	ctx := context.Background()
	c := NewContract("blocks")

	res, err := c.InstantiateDefault(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Block != 1 {
		t.Errorf("expected constructor at block 1, got %d", res.Block)
	}

	res, err = c.Call(ctx, MsgAddScore)
	if err != nil {
		t.Fatal(err)
	}
	if res.Block != 2 || len(res.Events) != 1 || res.Events[0].Block != 2 {
		t.Errorf("unexpected add_score result %+v", res)
	}

	res, err = c.Call(ctx, MsgGetScore)
	if err != nil {
		t.Fatal(err)
	}
	if res.Block != 2 {
		t.Errorf("expected read at block 2, got %d", res.Block)
	}
}

func TestContract_TracesUseBlockSource(t *testing.T) {
	ctx := context.Background()
	blocks := NewManualBlocks(100)
	sink := &recordingSink{}
	c := NewContract("traces", WithBlockSource(blocks), WithTraceSink(sink))

	if _, err := c.InstantiateDefault(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.AddScore(ctx); err != nil {
		t.Fatal(err)
	}
	blocks.Advance(5)
	if _, err := c.GetScore(ctx); err != nil {
		t.Fatal(err)
	}

	if len(sink.lines) != 2 {
		t.Fatalf("expected 2 trace lines, got %v", sink.lines)
	}
	if !strings.Contains(sink.lines[0], "updated score: 1 block: 100") {
		t.Errorf("unexpected trace %q", sink.lines[0])
	}
	if !strings.Contains(sink.lines[1], "current score: 1 block: 105") {
		t.Errorf("unexpected trace %q", sink.lines[1])
	}
}

func TestContract_BlockSourceBehindCommittedHeight(t *testing.T) {
	ctx := context.Background()
	persister := NewMemoryPersister()
	blocks := NewManualBlocks(50)
	c := NewContract("rewind", WithPersister(persister), WithBlockSource(blocks))

	if _, err := c.InstantiateDefault(ctx); err != nil {
		t.Fatal(err)
	}

	// A restarted source begins below the persisted height.
	blocks.Set(0)
	res, err := c.Call(ctx, MsgAddScore)
	if err != nil {
		t.Fatal(err)
	}
	if res.Block != 50 || res.Events[0].Block != 50 {
		t.Errorf("expected height held at 50, got %+v", res)
	}
	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Block != 50 {
		t.Errorf("committed height moved backwards: %d", snap.Block)
	}

	blocks.Set(60)
	if res, err = c.Call(ctx, MsgFlip); err != nil {
		t.Fatal(err)
	}
	if res.Block != 60 {
		t.Errorf("expected block 60 once the source caught up, got %d", res.Block)
	}
}

func TestContract_SnapshotTimestamps(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := t0
	c := NewContract("clock", WithClock(func() time.Time { return now }))

	if _, err := c.InstantiateDefault(ctx); err != nil {
		t.Fatal(err)
	}
	now = t0.Add(time.Minute)
	if err := c.Flip(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.InstantiatedAt.Equal(t0) {
		t.Errorf("InstantiatedAt = %v, want %v", snap.InstantiatedAt, t0)
	}
	if !snap.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", snap.UpdatedAt, now)
	}
	if !snap.Storage.Value {
		t.Error("expected flipped value in snapshot")
	}
}

func TestContract_Spans(t *testing.T) {
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(ctx) }()

	c := NewContract("spans", WithTracer(tp.Tracer("test")))
	if _, err := c.InstantiateDefault(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.AddScore(ctx); err != nil {
		t.Fatal(err)
	}
	_, _ = c.Call(ctx, "nope")

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "valuechange.default" || spans[1].Name() != "valuechange.add_score" {
		t.Errorf("unexpected span names %q, %q", spans[0].Name(), spans[1].Name())
	}
}

func TestContract_StartDrainsCallSource(t *testing.T) {
	ctx := context.Background()
	calls := make(chan string, 4)
	c := NewContract("serve", WithCallSource(chanSource(calls)))

	if _, err := c.InstantiateDefault(ctx); err != nil {
		t.Fatal(err)
	}

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	calls <- MsgAddScore
	calls <- MsgFlip
	calls <- MsgAddScore

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s, _ := c.GetScore(ctx); s == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s, _ := c.GetScore(ctx); s != 2 {
		t.Fatalf("expected score 2 after serving calls, got %d", s)
	}
	if v, _ := c.Get(ctx); !v {
		t.Error("expected value true after serving flip")
	}
}

func TestContract_StartWithoutSource(t *testing.T) {
	c := NewContract("no-source")
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected error without call source")
	}
}

func TestContract_CloseClosesPublishers(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewContract("close", WithPublisher(pub))
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !pub.closed {
		t.Error("expected publisher closed")
	}
	if _, err := c.InstantiateDefault(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	// Stop after Close is a no-op.
	if err := c.Stop(); err != nil {
		t.Error(err)
	}
}

func TestContract_ConcurrentStopAndClose(t *testing.T) {
	c := NewContract("stop-race", WithPublisher(&recordingPublisher{}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Stop()
		}()
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
	}
	wg.Wait()

	select {
	case <-c.done:
	default:
		t.Error("expected dispatch loop signalled to stop")
	}
}

type chanSource chan string

func (s chanSource) Calls() <-chan string { return s }
