// Package session hands out scoped exchange sessions. Each work item
// acquires its own lease and releases it on every exit path, so one item's
// transport failure does not leak into another's.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/exchanges/common"
)

var log = logrus.WithField("component", "session")

var (
	ErrUnhealthy = errors.New("exchange session circuit is open")
	ErrClosed    = errors.New("session manager is closed")
)

// Factory creates a new exchange session.
type Factory func(ctx context.Context) (common.Exchange, error)

// Config holds configuration for the Manager.
type Config struct {
	MaxSize          int           // Maximum sessions leased at once
	IdleTimeout      time.Duration // Time before an idle session is dropped
	HealthInterval   time.Duration // Interval between health checks
	FailureThreshold int           // Consecutive failures before the circuit opens
	CircuitTimeout   time.Duration // Time to wait before retrying an open circuit
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:          16,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   5 * time.Minute,
		FailureThreshold: 5,
		CircuitTimeout:   time.Minute,
	}
}

type idleSession struct {
	ex       common.Exchange
	lastUsed time.Time
}

// Manager pools exchange sessions with idle eviction and a failure circuit.
type Manager struct {
	mu          sync.Mutex
	idle        []idleSession
	inUse       int
	failures    int
	lastFailure time.Time
	closed      bool

	slots   chan struct{}
	config  Config
	factory Factory
	now     func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(factory Factory, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = def.CircuitTimeout
	}
	return &Manager{
		slots:   make(chan struct{}, cfg.MaxSize),
		config:  cfg,
		factory: factory,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start begins background idle cleanup and health checks.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		cleanup := time.NewTicker(m.config.IdleTimeout / 2)
		health := time.NewTicker(m.config.HealthInterval)
		defer cleanup.Stop()
		defer health.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-cleanup.C:
				m.cleanupIdle()
			case <-health.C:
				m.healthCheck(ctx)
			}
		}
	}()
}

// Stop shuts down background work and drops idle sessions. Outstanding
// leases stay valid until released.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	idle := m.idle
	m.idle = nil
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	for _, s := range idle {
		closeSession(s.ex)
	}
}

// Acquire leases a session, waiting for a free slot. The caller must
// Release the lease.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	if err := m.circuitErr(); err != nil {
		return nil, err
	}

	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, tradeerr.Wrap(tradeerr.Interrupted, "acquire session", "", ctx.Err())
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.slots
		return nil, ErrClosed
	}
	m.inUse++
	if n := len(m.idle); n > 0 {
		s := m.idle[n-1]
		m.idle = m.idle[:n-1]
		m.mu.Unlock()
		return &Lease{m: m, ex: s.ex}, nil
	}
	m.mu.Unlock()

	ex, err := m.factory(ctx)
	if err != nil {
		m.mu.Lock()
		m.inUse--
		m.mu.Unlock()
		<-m.slots
		m.recordFailure()
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Lease{m: m, ex: ex}, nil
}

func (m *Manager) circuitErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.failures >= m.config.FailureThreshold && m.now().Sub(m.lastFailure) < m.config.CircuitTimeout {
		return tradeerr.Wrap(tradeerr.Retryable, "acquire session", "", ErrUnhealthy)
	}
	return nil
}

func (m *Manager) release(ex common.Exchange, err error) {
	transport := tradeerr.IsRetryable(err)

	m.mu.Lock()
	m.inUse--
	switch {
	case m.closed || transport:
		m.mu.Unlock()
		closeSession(ex)
	default:
		m.idle = append(m.idle, idleSession{ex: ex, lastUsed: m.now()})
		m.mu.Unlock()
	}
	<-m.slots

	if transport {
		m.recordFailure()
	} else if err == nil {
		m.recordSuccess()
	}
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.lastFailure = m.now()
	if m.failures == m.config.FailureThreshold {
		log.Warnf("⚠️ %d consecutive session failures, pausing for %s", m.failures, m.config.CircuitTimeout)
	}
}

func (m *Manager) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
}

// Stats returns current pool statistics.
func (m *Manager) Stats() PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return PoolStats{
		Idle:     len(m.idle),
		InUse:    m.inUse,
		MaxSize:  m.config.MaxSize,
		Failures: m.failures,
		Healthy:  m.failures < m.config.FailureThreshold,
	}
}

// PoolStats contains session pool statistics.
type PoolStats struct {
	Idle     int  `json:"idle"`
	InUse    int  `json:"in_use"`
	MaxSize  int  `json:"max_size"`
	Failures int  `json:"failures"`
	Healthy  bool `json:"healthy"`
}

func (m *Manager) cleanupIdle() {
	m.mu.Lock()
	now := m.now()
	kept := m.idle[:0]
	var stale []common.Exchange
	for _, s := range m.idle {
		if now.Sub(s.lastUsed) > m.config.IdleTimeout {
			stale = append(stale, s.ex)
			continue
		}
		kept = append(kept, s)
	}
	m.idle = kept
	m.mu.Unlock()

	for _, ex := range stale {
		closeSession(ex)
	}
}

// healthCheck pings through a leased session when the exchange supports it.
func (m *Manager) healthCheck(ctx context.Context) {
	lease, err := m.Acquire(ctx)
	if err != nil {
		return
	}
	pinger, ok := lease.Exchange().(interface{ Ping(context.Context) error })
	if !ok {
		lease.Release(nil)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = pinger.Ping(pctx)
	cancel()
	if err != nil {
		log.Warnf("⚠️ exchange health check failed: %v", err)
		err = tradeerr.Wrap(tradeerr.Retryable, "ping", "", err)
	}
	lease.Release(err)
}

func closeSession(ex common.Exchange) {
	if closer, ok := ex.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// Lease is one acquired session.
type Lease struct {
	m    *Manager
	ex   common.Exchange
	once sync.Once
}

// Exchange returns the leased session.
func (l *Lease) Exchange() common.Exchange { return l.ex }

// Release returns the session to the pool. A transport-level err discards
// the session and counts toward the circuit. Release is idempotent.
func (l *Lease) Release(err error) {
	l.once.Do(func() { l.m.release(l.ex, err) })
}
