// Package providers - Pool of onnxruntime sessions shared by concurrent requests.
package providers

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// ErrPoolClosed is returned once Close has been called.
var ErrPoolClosed = errors.New("session pool is closed")

// SessionPool hands out one session per in-flight inference.
//
// A session is never shared between goroutines; a request waits up to the acquire timeout for
// one to become free.
type SessionPool struct {
	sessions       chan inferenceSession
	size           int
	acquireTimeout time.Duration
	backend        ProviderBackend
	logger         *logrus.Logger

	mu      sync.Mutex
	closed  bool
	metrics PoolMetrics
}

// PoolMetrics is a snapshot of the pool counters.
type PoolMetrics struct {
	Size            int           `json:"size"`
	InUse           int           `json:"in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time"`
}

// NewSessionPool initializes onnxruntime and loads cfg.PoolSize copies of the model.
//
// Arguments:
//   - args: The model path and graph endpoints.
//   - cfg: The runtime configuration.
//   - logger: The logger for pool lifecycle events.
//
// Returns:
//   - *SessionPool: The pool, ready for Run.
//   - error: An error if the runtime or any session failed to initialize.
func NewSessionPool(args SessionArgs, cfg Config, logger *logrus.Logger) (*SessionPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	libPath := cfg.LibraryPath
	if libPath == "" {
		libPath = GetSharedLibPath("")
	}
	if err := InitializeRuntime(libPath); err != nil {
		return nil, err
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	options, err := NewSessionOptions(cfg.Optimization, provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	pool, err := newSessionPool(cfg, logger, func() (inferenceSession, error) {
		return NewSession(args, options)
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"model":   args.ModelPath,
		"backend": provider.Backend(),
		"size":    pool.size,
	}).Info("session pool ready")

	return pool, nil
}

func newSessionPool(cfg Config, logger *logrus.Logger, factory func() (inferenceSession, error)) (*SessionPool, error) {
	size := cfg.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}
	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	pool := &SessionPool{
		sessions:       make(chan inferenceSession, size),
		size:           size,
		acquireTimeout: timeout,
		backend:        cfg.Backend,
		logger:         logger,
		metrics:        PoolMetrics{Size: size},
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Close()
			return nil, errors.Wrapf(err, "failed to initialize session %d", i)
		}
		pool.sessions <- session
	}

	return pool, nil
}

// Acquire waits for a free session.
//
// Returns:
//   - inferenceSession: A session owned by the caller until Release.
//   - error: ErrPoolClosed, a timeout error, or the context error.
func (p *SessionPool) Acquire(ctx context.Context) (inferenceSession, error) {
	start := time.Now()
	defer func() {
		p.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.mu.Lock()
		p.metrics.AcquireFailures++
		p.mu.Unlock()
		return nil, errors.Errorf("timeout after %s waiting for an available session", p.acquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool. Sessions released after Close are destroyed.
func (p *SessionPool) Release(session inferenceSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.InUse--
	p.metrics.TotalReleased++

	if p.closed {
		if err := session.Close(); err != nil {
			p.logger.WithError(err).Warn("failed to close released session")
		}
		return
	}
	p.sessions <- session
}

// Run implements inference.Runner: it borrows a session for one forward pass.
func (p *SessionPool) Run(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error) {
	session, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(session)

	return session.Run(input)
}

// Close destroys the idle sessions. Sessions still in use are destroyed on Release.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.sessions)

	var first error
	for session := range p.sessions {
		if err := session.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.logger.WithField("backend", p.backend).Debug("session pool closed")
	return first
}

// Metrics returns a snapshot of the pool counters.
func (p *SessionPool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// CollectMetrics implements profiler.MetricsCollector.
func (p *SessionPool) CollectMetrics() map[string]float64 {
	m := p.Metrics()
	return map[string]float64{
		"pool_size":             float64(m.Size),
		"pool_in_use":           float64(m.InUse),
		"pool_total_acquired":   float64(m.TotalAcquired),
		"pool_total_released":   float64(m.TotalReleased),
		"pool_acquire_failures": float64(m.AcquireFailures),
		"pool_wait_ms":          float64(m.WaitTime) / float64(time.Millisecond),
	}
}
