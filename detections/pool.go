package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

type sessionFactory func() (*ModelSession, error)

// SessionPool hands out model sessions to concurrent requests. Sessions that
// fail are discarded and rebuilt by the health check loop.
type SessionPool struct {
	sessions       chan *ModelSession
	size           int
	factory        sessionFactory
	acquireTimeout time.Duration
	logger         *zap.Logger

	mu         sync.Mutex
	closed     bool
	live       int
	lastErrors []error
	done       chan struct{}

	metrics poolCounters
}

type poolCounters struct {
	mu              sync.Mutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	totalDiscarded  int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolMetrics is a point-in-time copy of the pool counters.
type PoolMetrics struct {
	Size            int           `json:"pool_size"`
	Available       int           `json:"sessions_available"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	TotalDiscarded  int64         `json:"total_discarded"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
	LastError       string        `json:"last_error,omitempty"`
}

func newSessionPool(factory sessionFactory, size int, acquireTimeout time.Duration, logger *zap.Logger) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &SessionPool{
		sessions:       make(chan *ModelSession, size),
		size:           size,
		factory:        factory,
		acquireTimeout: acquireTimeout,
		logger:         logger,
		done:           make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.live++
		pool.sessions <- session
	}

	go pool.healthCheck(HealthCheckPeriod)

	return pool, nil
}

func (p *SessionPool) Acquire(ctx context.Context) (*ModelSession, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (p *SessionPool) Release(session *ModelSession) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

// Discard destroys a session that is no longer trustworthy instead of
// returning it to the pool. The health check replaces it.
func (p *SessionPool) Discard(session *ModelSession, cause error) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalDiscarded++
	p.metrics.mu.Unlock()

	session.Destroy()

	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	if cause != nil {
		p.recordError(cause)
	}
	p.logger.Warn("discarded model session", zap.Error(cause))
}

func (p *SessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *SessionPool) Size() int {
	return p.size
}

func (p *SessionPool) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish rebuilds discarded sessions until the pool is back to size.
func (p *SessionPool) replenish() {
	p.mu.Lock()
	missing := p.size - p.live
	closed := p.closed
	p.mu.Unlock()

	if closed || missing <= 0 {
		return
	}

	rebuilt := 0
	for i := 0; i < missing; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			p.logger.Error("failed to rebuild model session", zap.Error(err))
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.live++
		p.sessions <- session
		p.mu.Unlock()
		rebuilt++
	}
	p.logger.Info("model session pool replenished", zap.Int("rebuilt", rebuilt), zap.Int("missing", missing))
}

func (p *SessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *SessionPool) Metrics() PoolMetrics {
	p.mu.Lock()
	var lastError string
	if n := len(p.lastErrors); n > 0 {
		lastError = p.lastErrors[n-1].Error()
	}
	p.mu.Unlock()

	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()
	return PoolMetrics{
		Size:            p.size,
		Available:       len(p.sessions),
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		TotalDiscarded:  p.metrics.totalDiscarded,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
		LastError:       lastError,
	}
}
