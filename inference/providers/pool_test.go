package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

type fakeSession struct {
	id     int
	closed atomic.Bool
	active *atomic.Int32
	peak   *atomic.Int32
	delay  time.Duration
}

func (s *fakeSession) Run(input *tensor.Dense) (*tensor.Dense, error) {
	if s.active != nil {
		n := s.active.Add(1)
		defer s.active.Add(-1)
		for {
			p := s.peak.Load()
			if n <= p || s.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	time.Sleep(s.delay)
	return input, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func newTestPool(t *testing.T, size int, timeout time.Duration) (*SessionPool, []*fakeSession) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	var created []*fakeSession
	cfg := DefaultConfig()
	cfg.PoolSize = size
	cfg.AcquireTimeout = timeout
	pool, err := newSessionPool(cfg, logger, func() (inferenceSession, error) {
		s := &fakeSession{id: len(created)}
		created = append(created, s)
		return s, nil
	})
	require.NoError(t, err)
	return pool, created
}

func TestSessionPool_AcquireRelease(t *testing.T) {
	pool, created := newTestPool(t, 2, time.Second)
	require.Len(t, created, 2)

	ctx := context.Background()
	a, err := pool.Acquire(ctx)
	require.NoError(t, err)
	b, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	m := pool.Metrics()
	assert.Equal(t, 2, m.InUse)
	assert.Equal(t, int64(2), m.TotalAcquired)

	pool.Release(a)
	pool.Release(b)
	m = pool.Metrics()
	assert.Equal(t, 0, m.InUse)
	assert.Equal(t, int64(2), m.TotalReleased)
	assert.Equal(t, 2, m.Size)
}

func TestSessionPool_AcquireTimeout(t *testing.T) {
	pool, _ := newTestPool(t, 1, 20*time.Millisecond)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(s)

	_, err = pool.Acquire(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(1), pool.Metrics().AcquireFailures)
}

func TestSessionPool_AcquireCanceled(t *testing.T) {
	pool, _ := newTestPool(t, 1, time.Minute)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionPool_RunBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	logger, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.PoolSize = 2
	cfg.AcquireTimeout = 5 * time.Second
	pool, err := newSessionPool(cfg, logger, func() (inferenceSession, error) {
		return &fakeSession{active: &active, peak: &peak, delay: 5 * time.Millisecond}, nil
	})
	require.NoError(t, err)
	defer pool.Close()

	input := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{1, 2, 3}))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := pool.Run(context.Background(), input)
			assert.NoError(t, err)
			assert.Same(t, input, out)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int64(8), pool.Metrics().TotalAcquired)
	assert.Equal(t, 0, pool.Metrics().InUse)
}

func TestSessionPool_Close(t *testing.T) {
	pool, created := newTestPool(t, 2, time.Second)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	idle := 0
	for _, s := range created {
		if s.closed.Load() {
			idle++
		}
	}
	assert.Equal(t, 1, idle, "only the idle session is closed")

	pool.Release(held)
	assert.True(t, held.(*fakeSession).closed.Load(), "sessions released after close are destroyed")

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, pool.Close())
}

func TestSessionPool_FactoryFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	var created []*fakeSession
	cfg := DefaultConfig()
	cfg.PoolSize = 3
	_, err := newSessionPool(cfg, logger, func() (inferenceSession, error) {
		if len(created) == 2 {
			return nil, errors.New("out of memory")
		}
		s := &fakeSession{}
		created = append(created, s)
		return s, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize session 2")
	for _, s := range created {
		assert.True(t, s.closed.Load())
	}
	assert.NotEmpty(t, hook.AllEntries())
}

func TestSessionPool_CollectMetrics(t *testing.T) {
	pool, _ := newTestPool(t, 3, time.Second)
	_, err := pool.Run(context.Background(), tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{0})))
	require.NoError(t, err)

	m := pool.CollectMetrics()
	assert.Equal(t, float64(3), m["pool_size"])
	assert.Equal(t, float64(1), m["pool_total_acquired"])
	assert.Equal(t, float64(1), m["pool_total_released"])
	assert.Equal(t, float64(0), m["pool_in_use"])
}
