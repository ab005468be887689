package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/logship/internal/adapters/memory"
	"github.com/bft-labs/logship/internal/domain"
)

type sliceSource struct {
	records []domain.Record
	next    int
}

func (s *sliceSource) Next(ctx context.Context) (domain.Record, error) {
	if s.next >= len(s.records) {
		return domain.Record{}, io.EOF
	}
	r := s.records[s.next]
	s.next++
	return r, nil
}

func (s *sliceSource) Close() error { return nil }

type chanSource struct {
	ch chan domain.Record
}

func (s *chanSource) Next(ctx context.Context) (domain.Record, error) {
	select {
	case <-ctx.Done():
		return domain.Record{}, ctx.Err()
	case r := <-s.ch:
		return r, nil
	}
}

func (s *chanSource) Close() error { return nil }

// releaseSource returns records only when the test releases them,
// regardless of cancellation.
type releaseSource struct {
	release chan domain.Record
}

func (s *releaseSource) Next(ctx context.Context) (domain.Record, error) {
	r, ok := <-s.release
	if !ok {
		return domain.Record{}, io.EOF
	}
	return r, nil
}

func (s *releaseSource) Close() error { return nil }

type endlessSource struct {
	reads atomic.Int64
}

func (s *endlessSource) Next(ctx context.Context) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	n := s.reads.Add(1)
	return rec("test", baseTime+n, domain.Field{Key: "n", Value: domain.Int(n)}), nil
}

func (s *endlessSource) Close() error { return nil }

type memoryCheckpoints struct {
	mu    sync.Mutex
	cp    domain.Checkpoint
	saves int
}

func (m *memoryCheckpoints) Load(ctx context.Context) (domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cp, nil
}

func (m *memoryCheckpoints) Save(ctx context.Context, cp domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = cp
	m.saves++
	return nil
}

type countingObserver struct {
	mu        sync.Mutex
	successes int
	failures  int
	skipped   int
	records   int
}

func (o *countingObserver) OnFlushSuccess(records, batches int, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.successes++
	o.records += records
}

func (o *countingObserver) OnFlushError(err error, pending int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func (o *countingObserver) OnRecordSkipped(tag string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped++
}

func sequence(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = rec("test", baseTime+int64(i), domain.Field{Key: "n", Value: domain.Int(int64(i))})
	}
	return out
}

func fastAgentConfig() AgentConfig {
	return AgentConfig{
		FlushInterval:  time.Hour,
		FlushRecords:   2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     time.Millisecond,
	}
}

func TestAgent_DeliversUntilEOF(t *testing.T) {
	svc := provisioned(t, target)
	e := newTestEngine(t, testEngineConfig(), svc)
	cps := &memoryCheckpoints{}
	obs := &countingObserver{}

	a := NewAgent(fastAgentConfig(), &sliceSource{records: sequence(5)}, e, cps, nil, obs)
	require.NoError(t, a.Run(context.Background()))

	assert.Len(t, svc.Events(target), 5)
	assert.Equal(t, 3, obs.successes, "two size-triggered flushes and one at EOF")
	assert.Equal(t, 5, obs.records)
	assert.Equal(t, 3, cps.saves)
	assert.Contains(t, cps.cp.Tokens, target)
}

func TestAgent_RequeuesAfterTransientFailure(t *testing.T) {
	svc := provisioned(t, target)
	cfg := testEngineConfig()
	cfg.Delivery.MaxAttempts = 1
	e := newTestEngine(t, cfg, svc)
	obs := &countingObserver{}
	svc.Script(domain.Transient(errors.New("throttled")), domain.Transient(errors.New("throttled")))

	a := NewAgent(fastAgentConfig(), &sliceSource{records: sequence(3)}, e, nil, nil, obs)
	require.NoError(t, a.Run(context.Background()))

	events := svc.Events(target)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, (baseTime+int64(i))*1000, ev.TimestampMs, "re-queued records keep their order")
	}
	assert.Equal(t, 2, obs.failures)
}

func TestAgent_DropsUndeliverable(t *testing.T) {
	svc := memory.New()
	e := newTestEngine(t, testEngineConfig(), svc)
	obs := &countingObserver{}

	a := NewAgent(fastAgentConfig(), &sliceSource{records: sequence(1)}, e, nil, nil, obs)
	err := a.Run(context.Background())
	assert.True(t, errors.Is(err, domain.ErrMissingTarget))
	assert.Equal(t, 1, obs.failures)
	assert.Equal(t, 1, svc.Calls().Put)
}

func TestAgent_FlushesOnShutdown(t *testing.T) {
	svc := provisioned(t, target)
	e := newTestEngine(t, testEngineConfig(), svc)
	src := &chanSource{ch: make(chan domain.Record)}

	cfg := fastAgentConfig()
	cfg.FlushRecords = 100
	a := NewAgent(cfg, src, e, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	for _, r := range sequence(3) {
		src.ch <- r
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, svc.Events(target), 3)
}

func TestAgent_KeepsRecordReadDuringShutdown(t *testing.T) {
	svc := provisioned(t, target)
	e := newTestEngine(t, testEngineConfig(), svc)
	src := &releaseSource{release: make(chan domain.Record)}

	cfg := fastAgentConfig()
	cfg.FlushRecords = 100
	a := NewAgent(cfg, src, e, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	time.Sleep(20 * time.Millisecond)
	src.release <- sequence(1)[0]

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, svc.Events(target), 1, "record read as the agent stopped is flushed")
}

func TestAgent_PausesInputWhenBufferFull(t *testing.T) {
	svc := provisioned(t, target)
	cfg := testEngineConfig()
	cfg.Delivery.MaxAttempts = 1
	e := newTestEngine(t, cfg, svc)
	svc.Script(domain.Transient(errors.New("throttled")))
	src := &endlessSource{}

	acfg := AgentConfig{
		FlushInterval:  time.Hour,
		FlushRecords:   2,
		MaxBuffered:    4,
		BackoffInitial: time.Hour,
		BackoffMax:     time.Hour,
	}
	a := NewAgent(acfg, src, e, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Four buffered records plus one held by the blocked reader.
	require.Eventually(t, func() bool { return src.reads.Load() == 5 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(5), src.reads.Load(), "input is not read while the buffer is full")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, svc.Events(target), 5)
	assert.Equal(t, 2, svc.Calls().Put, "failed flush and the final flush")
}

func TestAgent_RestoresCheckpoint(t *testing.T) {
	svc := provisioned(t, target)
	seed := newTestEngine(t, testEngineConfig(), svc)
	_, err := seed.Flush(context.Background(), sequence(1))
	require.NoError(t, err)

	cps := &memoryCheckpoints{cp: seed.Controller().Checkpoint()}
	e := newTestEngine(t, testEngineConfig(), svc)
	a := NewAgent(fastAgentConfig(), &sliceSource{records: sequence(1)}, e, cps, nil, nil)
	require.NoError(t, a.Run(context.Background()))

	reqs := svc.Requests()
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[1].Token, "restored token is used on the first write")
}

func TestAgent_ReportsSkipped(t *testing.T) {
	svc := provisioned(t, target)
	e := newTestEngine(t, testEngineConfig(), svc)
	obs := &countingObserver{}

	records := []domain.Record{
		rec("test", baseTime, str("ok", "1")),
		rec("test", baseTime, str("bad", "\xff")),
	}
	a := NewAgent(fastAgentConfig(), &sliceSource{records: records}, e, nil, nil, obs)
	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 1, obs.skipped)
	assert.Len(t, svc.Events(target), 1)
}
