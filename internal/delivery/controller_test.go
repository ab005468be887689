package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/logship/internal/adapters/memory"
	"github.com/bft-labs/logship/internal/backoff"
	"github.com/bft-labs/logship/internal/domain"
)

var target = domain.Target{Group: "g", Stream: "s"}

func newTestController(svc *memory.Service, opts Options) *Controller {
	c := NewController(svc, opts, nil)
	c.newBackoff = func() *backoff.Backoff {
		return backoff.New(time.Millisecond, time.Millisecond).WithSleep(func(ctx context.Context, _ time.Duration) error {
			return ctx.Err()
		})
	}
	return c
}

func batchOf(msgs ...string) domain.Batch {
	b := domain.NewBatch()
	for i, m := range msgs {
		b.Add(domain.Event{TimestampMs: int64(1000 + i), Message: m, Ref: i})
	}
	return *b
}

func provision(t *testing.T, svc *memory.Service) {
	t.Helper()
	require.NoError(t, svc.CreateLogGroup(context.Background(), target.Group))
	require.NoError(t, svc.CreateLogStream(context.Background(), target.Group, target.Stream))
}

func TestDeliver_TokenChain(t *testing.T) {
	svc := memory.New()
	provision(t, svc)
	c := newTestController(svc, Options{})

	n, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a"), batchOf("b"), batchOf("c")})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	reqs := svc.Requests()
	require.Len(t, reqs, 3)
	assert.Empty(t, reqs[0].Token, "first write carries no token")
	assert.NotEmpty(t, reqs[1].Token)
	assert.NotEqual(t, reqs[1].Token, reqs[2].Token)

	st, ok := c.States().Get(target)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseReady, st.Phase)
	assert.Equal(t, domain.ExistenceExists, st.Existence)
	assert.Equal(t, int64(3), st.Writes)

	desc, _, _ := svc.DescribeStream(context.Background(), target)
	assert.Equal(t, desc, st.Token)
}

func TestDeliver_StaleTokenRetriedOnce(t *testing.T) {
	svc := memory.New()
	provision(t, svc)
	c := newTestController(svc, Options{})

	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)

	svc.Rotate(target)
	_, err = c.Deliver(context.Background(), target, []domain.Batch{batchOf("b", "c")})
	require.NoError(t, err)

	assert.Equal(t, 3, svc.Calls().Put, "one initial write, one stale, one retry")
	assert.Equal(t, 0, svc.Calls().Describe)
	assert.Len(t, svc.Events(target), 3)

	reqs := svc.Requests()
	assert.Equal(t, reqs[1].Events, reqs[2].Events, "retry must resend the identical batch")
}

func TestDeliver_StaleTokenDescribesWhenUnknown(t *testing.T) {
	svc := memory.New(memory.WithoutExpectedToken())
	provision(t, svc)
	c := newTestController(svc, Options{})

	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)
	svc.Rotate(target)

	_, err = c.Deliver(context.Background(), target, []domain.Batch{batchOf("b")})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Calls().Describe)
}

func TestDeliver_SecondStaleSurfaces(t *testing.T) {
	svc := memory.New()
	provision(t, svc)
	c := newTestController(svc, Options{})
	svc.Script(
		domain.StaleToken("t1", true, errors.New("stale")),
		domain.StaleToken("t2", true, errors.New("stale")),
	)

	n, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, domain.ErrStaleContinuity))

	st, _ := c.States().Get(target)
	assert.Empty(t, st.Token, "state must not change on failure")
}

func TestDeliver_MissingWithoutAutoCreate(t *testing.T) {
	svc := memory.New()
	c := newTestController(svc, Options{AutoCreateStream: false})

	n, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a"), batchOf("b")})
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, domain.ErrMissingTarget))

	calls := svc.Calls()
	assert.Equal(t, 0, calls.CreateGroup)
	assert.Equal(t, 0, calls.CreateStream)
	assert.Equal(t, 1, calls.Put)

	st, _ := c.States().Get(target)
	assert.Equal(t, domain.ExistenceMissing, st.Existence)
}

func TestDeliver_AutoCreate(t *testing.T) {
	svc := memory.New()
	c := newTestController(svc, Options{AutoCreateStream: true})

	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)
	assert.Len(t, svc.Events(target), 1)
	assert.Equal(t, 1, svc.Calls().CreateGroup)
	assert.Equal(t, 1, svc.Calls().CreateStream)
}

func TestDeliver_AutoCreateExistingGroup(t *testing.T) {
	svc := memory.New()
	require.NoError(t, svc.CreateLogGroup(context.Background(), target.Group))
	c := newTestController(svc, Options{AutoCreateStream: true})

	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)
	assert.Len(t, svc.Events(target), 1)
}

func TestDeliver_RecreateAtMostOnce(t *testing.T) {
	svc := memory.New()
	c := newTestController(svc, Options{AutoCreateStream: true})
	missing := domain.TargetMissing(errors.New("gone"))
	svc.Script(missing, missing)

	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	assert.True(t, errors.Is(err, domain.ErrMissingTarget))
	assert.Equal(t, 2, svc.Calls().Put)
	assert.Equal(t, 1, svc.Calls().CreateGroup)
}

func TestDeliver_CreateThrottledThenSucceeds(t *testing.T) {
	svc := memory.New()
	c := newTestController(svc, Options{AutoCreateStream: true, MaxAttempts: 5})
	throttled := fmt.Errorf("%w: throttled", domain.ErrTransientDelivery)
	svc.Fail(memory.OpCreateGroup, throttled)
	svc.Fail(memory.OpCreateStream, throttled)

	n, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, svc.Events(target), 1)

	calls := svc.Calls()
	assert.Equal(t, 2, calls.Put, "one missing write, one write after creation")
	assert.Equal(t, 3, calls.CreateGroup)
	assert.Equal(t, 2, calls.CreateStream)
}

func TestDeliver_CreateThrottledExhausted(t *testing.T) {
	svc := memory.New()
	c := newTestController(svc, Options{AutoCreateStream: true, MaxAttempts: 3})
	throttled := fmt.Errorf("%w: throttled", domain.ErrTransientDelivery)
	svc.Fail(memory.OpCreateGroup, throttled, throttled, throttled)

	n, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, domain.ErrTransientDelivery))

	var de *domain.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.True(t, de.Retryable())
	assert.Equal(t, 3, svc.Calls().CreateGroup)
	assert.Equal(t, 1, svc.Calls().Put)
}

func TestDeliver_CreateRejected(t *testing.T) {
	svc := memory.New()
	c := newTestController(svc, Options{AutoCreateStream: true, MaxAttempts: 5})
	svc.Fail(memory.OpCreateGroup, errors.New("access denied"))

	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	assert.True(t, errors.Is(err, domain.ErrMissingTarget))
	assert.Equal(t, 1, svc.Calls().CreateGroup)
}

func TestDeliver_DescribeThrottledThenSucceeds(t *testing.T) {
	svc := memory.New(memory.WithoutExpectedToken())
	provision(t, svc)
	c := newTestController(svc, Options{MaxAttempts: 5})

	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)
	svc.Rotate(target)
	svc.Fail(memory.OpDescribe, fmt.Errorf("%w: throttled", domain.ErrTransientDelivery))

	_, err = c.Deliver(context.Background(), target, []domain.Batch{batchOf("b")})
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Calls().Describe)
	assert.Len(t, svc.Events(target), 2)
}

func TestDeliver_StreamDeletedMidway(t *testing.T) {
	svc := memory.New()
	provision(t, svc)
	c := newTestController(svc, Options{AutoCreateStream: true})

	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)
	svc.DeleteStream(target)

	_, err = c.Deliver(context.Background(), target, []domain.Batch{batchOf("b")})
	require.NoError(t, err)

	reqs := svc.Requests()
	assert.Empty(t, reqs[len(reqs)-1].Token, "write after recreate carries no token")
}

func TestDeliver_TransientRetries(t *testing.T) {
	svc := memory.New()
	provision(t, svc)
	c := newTestController(svc, Options{MaxAttempts: 3})
	throttled := domain.Transient(errors.New("throttled"))

	svc.Script(throttled, throttled)
	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)
	assert.Equal(t, 3, svc.Calls().Put)

	svc.Script(throttled, throttled, throttled)
	n, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("b"), batchOf("c")})
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, domain.ErrTransientDelivery))

	var de *domain.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Attempts)
	assert.True(t, de.Retryable())
}

func TestDeliver_TransientCancelled(t *testing.T) {
	svc := memory.New()
	provision(t, svc)
	c := newTestController(svc, Options{MaxAttempts: 10})
	svc.Script(domain.Transient(errors.New("timeout")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Deliver(ctx, target, []domain.Batch{batchOf("a")})
	assert.True(t, errors.Is(err, domain.ErrTransientDelivery))
	assert.Equal(t, 1, svc.Calls().Put)
}

func TestDeliver_PermanentOversized(t *testing.T) {
	svc := memory.New(memory.WithAutoProvision())
	c := newTestController(svc, Options{})

	b := batchOf(strings.Repeat("x", 1048576))
	b.Oversized = true
	_, err := c.Deliver(context.Background(), target, []domain.Batch{b})
	assert.True(t, errors.Is(err, domain.ErrPermanentDelivery))
	assert.True(t, errors.Is(err, domain.ErrLimitViolation))
	assert.Equal(t, 1, svc.Calls().Put)
}

func TestDeliver_PartialProgress(t *testing.T) {
	svc := memory.New()
	provision(t, svc)
	c := newTestController(svc, Options{})

	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)
	before, _ := c.States().Get(target)

	svc.Script(domain.Accepted(before.Token+"x"), domain.Permanent(errors.New("bad request")))
	// The scripted Accepted moves the local token away from the service's.
	n, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("b"), batchOf("c")})
	assert.Equal(t, 1, n)
	assert.True(t, errors.Is(err, domain.ErrPermanentDelivery))

	after, _ := c.States().Get(target)
	assert.Equal(t, before.Token+"x", after.Token)
}

func TestDeliver_ConcurrentSameTarget(t *testing.T) {
	svc := memory.New()
	provision(t, svc)
	c := newTestController(svc, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a"), batchOf("b")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, svc.Events(target), 16)
	assert.Equal(t, 16, svc.Calls().Put, "serialized writers never see a stale token")
}

func TestCheckpointRestore(t *testing.T) {
	svc := memory.New()
	provision(t, svc)
	c := newTestController(svc, Options{})
	_, err := c.Deliver(context.Background(), target, []domain.Batch{batchOf("a")})
	require.NoError(t, err)

	cp := c.Checkpoint()
	require.Contains(t, cp.Tokens, target)

	restored := newTestController(svc, Options{})
	restored.Restore(cp)
	_, err = restored.Deliver(context.Background(), target, []domain.Batch{batchOf("b")})
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Calls().Put, "restored token is accepted without repair")
}
