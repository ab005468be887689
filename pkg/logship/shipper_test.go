package logship_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/logship/internal/adapters/fs"
	"github.com/bft-labs/logship/internal/adapters/memory"
	"github.com/bft-labs/logship/internal/adapters/source"
	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/pkg/logship"
)

// recorder collects events.
type recorder struct {
	logship.BaseEventHandler

	mu      sync.Mutex
	states  []string
	flushed int
	errs    int
	skipped []string
}

func (r *recorder) OnStateChange(e logship.StateChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, e.Previous.String()+"->"+e.Current.String())
}

func (r *recorder) OnFlushSuccess(e logship.FlushSuccessEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed += e.Records
}

func (r *recorder) OnFlushError(e logship.FlushErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs++
}

func (r *recorder) OnRecordSkipped(e logship.RecordSkippedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, e.Tag)
}

func (r *recorder) snapshot() ([]string, int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...), r.flushed, append([]string(nil), r.skipped...)
}

// chanSource yields records from a channel until ctx ends.
type chanSource struct {
	ch chan logship.Record
}

func (c *chanSource) Next(ctx context.Context) (logship.Record, error) {
	select {
	case r := <-c.ch:
		return r, nil
	case <-ctx.Done():
		return logship.Record{}, ctx.Err()
	}
}

func (c *chanSource) Close() error { return nil }

// failingPlugin fails to initialize.
type failingPlugin struct {
	logship.BasePlugin
}

func (failingPlugin) Name() string { return "failing" }

func (failingPlugin) Initialize(context.Context, logship.PluginConfig) error {
	return errors.New("boom")
}

func testConfig() logship.Config {
	cfg := logship.DefaultConfig()
	cfg.LogGroupName = "app"
	cfg.UseTagAsStream = true
	cfg.FlushInterval = 20 * time.Millisecond
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	return cfg
}

func record(tag string, ts int64, msg string) logship.Record {
	return logship.Record{
		Tag:    tag,
		Time:   ts,
		Fields: logship.Fields{{Key: "message", Value: logship.StringValue(msg)}},
	}
}

func messages(svc *memory.Service, target domain.Target) []string {
	var out []string
	for _, ev := range svc.Events(target) {
		out = append(out, ev.Message)
	}
	return out
}

func waitDone(t *testing.T, s *logship.Shipper) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shipper did not finish")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := logship.DefaultConfig()
	_, err := logship.New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, logship.ErrInvalidConfig)
}

func TestShipper_StreamsSourceUntilExhausted(t *testing.T) {
	input := strings.Join([]string{
		`{"tag":"web","time":1700000000,"record":{"message":"one"}}`,
		`not json`,
		`{"tag":"worker","time":1700000001,"record":{"message":"two"}}`,
		`{"tag":"web","time":1700000002,"record":{"message":"three"}}`,
	}, "\n") + "\n"

	cfg := testConfig()
	cfg.StateDir = t.TempDir()
	require.NoError(t, cfg.Validate())

	svc := memory.New(memory.WithAutoProvision())
	events := &recorder{}
	src := source.NewJSONLines(strings.NewReader(input), source.Decoder{DefaultTag: "default", Now: time.Now}, nil)

	s, err := logship.New(cfg,
		logship.WithLogService(svc),
		logship.WithSource(src),
		logship.WithEventHandler(events),
	)
	require.NoError(t, err)
	assert.Equal(t, logship.StateStopped, s.Status())

	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	assert.Equal(t, logship.StateStopped, s.Status())
	assert.NoError(t, s.Err())
	assert.ErrorIs(t, s.Stop(), logship.ErrNotRunning)

	web := domain.Target{Group: "app", Stream: "web"}
	worker := domain.Target{Group: "app", Stream: "worker"}
	assert.Equal(t, []string{`{"message":"one"}`, `{"message":"three"}`}, messages(svc, web))
	assert.Equal(t, []string{`{"message":"two"}`}, messages(svc, worker))

	states, flushed, _ := events.snapshot()
	assert.Equal(t, []string{
		"Stopped->Starting",
		"Starting->Running",
		"Running->Stopping",
		"Stopping->Stopped",
	}, states)
	assert.Equal(t, 3, flushed)

	cp, err := fs.NewCheckpointFile(cfg.StateDir).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, cp.Tokens, 2)
	assert.Equal(t, s.Checkpoint().Tokens, cp.Tokens)
}

func TestShipper_StopFlushesBuffer(t *testing.T) {
	cfg := testConfig()
	cfg.FlushInterval = time.Hour
	cfg.FlushRecords = 100

	svc := memory.New(memory.WithAutoProvision())
	src := &chanSource{ch: make(chan logship.Record, 3)}
	for i, msg := range []string{"a", "b", "c"} {
		src.ch <- record("web", 1700000000+int64(i), msg)
	}

	s, err := logship.New(cfg, logship.WithLogService(svc), logship.WithSource(src))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), logship.ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		return len(src.ch) == 0 && s.Status() == logship.StateRunning
	}, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, logship.StateStopped, s.Status())

	web := domain.Target{Group: "app", Stream: "web"}
	assert.Equal(t, []string{`{"message":"a"}`, `{"message":"b"}`, `{"message":"c"}`}, messages(svc, web))
	assert.Equal(t, 1, svc.Calls().Put)
}

func TestShipper_FlushDirect(t *testing.T) {
	cfg := testConfig()
	cfg.MessageKeys = []string{"message"}

	svc := memory.New(memory.WithAutoProvision())
	events := &recorder{}
	s, err := logship.New(cfg, logship.WithLogService(svc), logship.WithEventHandler(events))
	require.NoError(t, err)

	res, err := s.Flush(context.Background(), []logship.Record{
		record("web", 1700000001, "second"),
		record("", 1700000000, "no tag"),
		record("web", 1700000000, "first"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.Batches)
	require.Len(t, res.Skipped, 1)

	web := domain.Target{Group: "app", Stream: "web"}
	assert.Equal(t, []string{"first", "second"}, messages(svc, web))

	_, flushed, skipped := events.snapshot()
	assert.Equal(t, 2, flushed)
	assert.Equal(t, []string{""}, skipped)

	s.SetRenderOptions(logship.RenderOptions{MessageKeys: []string{"message"}, MaxMessageLength: logship.MessageLimit(3)})
	_, err = s.Flush(context.Background(), []logship.Record{record("web", 1700000002, "third")})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "thi"}, messages(svc, web))
}

func TestShipper_FlushReportsUndelivered(t *testing.T) {
	cfg := testConfig()

	svc := memory.New()
	events := &recorder{}
	s, err := logship.New(cfg, logship.WithLogService(svc), logship.WithEventHandler(events))
	require.NoError(t, err)

	_, err = s.Flush(context.Background(), []logship.Record{record("web", 1700000000, "lost")})
	require.Error(t, err)

	var fe *logship.FlushError
	require.True(t, errors.As(err, &fe))
	assert.Len(t, fe.Pending, 1)
	assert.ErrorIs(t, err, domain.ErrMissingTarget)

	events.mu.Lock()
	assert.Equal(t, 1, events.errs)
	events.mu.Unlock()
}

func TestShipper_FlushWhileRunning(t *testing.T) {
	cfg := testConfig()
	s, err := logship.New(cfg,
		logship.WithLogService(memory.New(memory.WithAutoProvision())),
		logship.WithSource(&chanSource{ch: make(chan logship.Record)}),
	)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	_, err = s.Flush(context.Background(), []logship.Record{record("web", 1, "x")})
	assert.ErrorIs(t, err, logship.ErrAlreadyRunning)
}

func TestShipper_RestoresCheckpoint(t *testing.T) {
	cfg := testConfig()
	cfg.StateDir = t.TempDir()
	require.NoError(t, cfg.Validate())

	svc := memory.New(memory.WithAutoProvision())
	ctx := context.Background()

	first, err := logship.New(cfg, logship.WithLogService(svc))
	require.NoError(t, err)
	_, err = first.Flush(ctx, []logship.Record{record("web", 1700000000, "before restart")})
	require.NoError(t, err)

	second, err := logship.New(cfg, logship.WithLogService(svc))
	require.NoError(t, err)
	_, err = second.Flush(ctx, []logship.Record{record("web", 1700000001, "after restart")})
	require.NoError(t, err)

	calls := svc.Calls()
	assert.Equal(t, 2, calls.Put, "restored token avoids a stale write")
	assert.Equal(t, 0, calls.Describe)

	web := domain.Target{Group: "app", Stream: "web"}
	assert.Equal(t, []string{`{"message":"before restart"}`, `{"message":"after restart"}`}, messages(svc, web))
}

func TestShipper_DryRun(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	cfg.Endpoint = "http://127.0.0.1:1"

	s, err := logship.New(cfg)
	require.NoError(t, err)

	res, err := s.Flush(context.Background(), []logship.Record{record("web", 1700000000, "hello")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.NotEmpty(t, s.Checkpoint().Tokens)
	assert.NoError(t, s.Close())
}

func TestShipper_PluginInitFailure(t *testing.T) {
	cfg := testConfig()
	s, err := logship.New(cfg,
		logship.WithLogService(memory.New(memory.WithAutoProvision())),
		logship.WithSource(&chanSource{ch: make(chan logship.Record)}),
		logship.WithPlugin(failingPlugin{}),
	)
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.EqualError(t, err, "boom")
	assert.Equal(t, logship.StateCrashed, s.Status())
	assert.ErrorIs(t, s.Stop(), logship.ErrNotRunning)
}
