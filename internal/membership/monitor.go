// Package membership implements C4, the Membership & Health Monitor: a
// periodic peer-reachability probe that tracks active/failed nodes,
// retries recovery, and invokes the shard redistributor on failure.
package membership

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/sentinel/internal/transport"
)

const failureRingSize = 1000

// Pinger probes a peer's reachability. transport.Client satisfies this.
type Pinger interface {
	Ping(ctx context.Context, addr string) error
}

// FailureEntry is one append-only node-failure record.
type FailureEntry struct {
	NodeID    string
	Timestamp time.Time
}

// NodeHealth tracks a single peer's status.
type NodeHealth struct {
	NodeID           string
	Addr             string
	IsActive         bool
	ConsecutiveFails int
	FailureTime      time.Time
	LastHealthy      time.Time
}

// HealthMetrics is the get_health_metrics() response.
type HealthMetrics struct {
	ActiveNodes        int
	FailedNodes        int
	TotalNodes         int
	Uptime             time.Duration
	RecoveryRate       float64
	HealthCheckInterval time.Duration
	NodeHealth         map[string]NodeHealth
}

// Monitor is C4: the membership and health monitor.
type Monitor struct {
	log    *zap.Logger
	pinger Pinger

	interval       time.Duration
	recoveryTimeout time.Duration
	maxFailures    int

	onFailure func(nodeID string)

	mu          sync.Mutex
	nodes       map[string]*NodeHealth
	failures    []FailureEntry
	startedAt   time.Time
	recovered   int
	everFailed  int

	lastPurge time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Monitor. interval is the tick period
// (health_check_interval), recoveryTimeout the re-probe delay for failed
// peers (recovery_timeout).
func New(pinger Pinger, interval, recoveryTimeout time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{
		log:             log,
		pinger:          pinger,
		interval:        interval,
		recoveryTimeout: recoveryTimeout,
		maxFailures:     1,
		nodes:           make(map[string]*NodeHealth),
		startedAt:       time.Now(),
	}
}

// SetOnFailure registers the callback invoked when a peer is newly
// marked inactive — C5's redistribute/reassign entry point.
func (m *Monitor) SetOnFailure(fn func(nodeID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = fn
}

// AddNode registers a peer for monitoring.
func (m *Monitor) AddNode(id, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.nodes[id]; exists {
		return
	}
	m.nodes[id] = &NodeHealth{NodeID: id, Addr: addr, IsActive: true, LastHealthy: time.Now()}
}

// RemoveNode is a graceful exit: the peer is marked inactive, a failure
// entry is recorded, and the failure callback runs for redistribution,
// same as a detected failure. The peer stays in the node table, so a
// later tick re-probes it once recovery_timeout has passed and restores
// it if it answers.
func (m *Monitor) RemoveNode(id string) {
	m.mu.Lock()
	node, exists := m.nodes[id]
	if exists {
		node.IsActive = false
		node.FailureTime = time.Now()
		m.appendFailureLocked(id)
	}
	cb := m.onFailure
	m.mu.Unlock()

	if exists && cb != nil {
		cb(id)
	}
}

// Start begins the periodic probe loop, ticking every interval. It
// returns immediately; call Stop to end the loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.tick(ctx)
		for {
			select {
			case <-ticker.C:
				m.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to exit, within the
// sub-second granularity the loop's select honors.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) tick(ctx context.Context) {
	m.mu.Lock()
	peers := make([]NodeHealth, 0, len(m.nodes))
	for _, n := range m.nodes {
		peers = append(peers, *n)
	}
	m.mu.Unlock()

	for _, peer := range peers {
		if peer.IsActive {
			m.probeActive(ctx, peer.NodeID)
		} else {
			m.maybeRecover(ctx, peer.NodeID)
		}
	}

	m.mu.Lock()
	if m.lastPurge.IsZero() {
		m.lastPurge = time.Now()
	}
	shouldPurge := time.Since(m.lastPurge) >= time.Hour
	m.mu.Unlock()
	if shouldPurge {
		m.PurgeOlderThan(24 * time.Hour)
	}
}

func (m *Monitor) probeActive(ctx context.Context, id string) {
	m.mu.Lock()
	node, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	addr := node.Addr
	m.mu.Unlock()

	err := m.pinger.Ping(ctx, addr)

	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok = m.nodes[id]
	if !ok {
		return
	}

	if err != nil {
		node.ConsecutiveFails++
		if node.ConsecutiveFails >= m.maxFailures && node.IsActive {
			node.IsActive = false
			node.FailureTime = time.Now()
			m.everFailed++
			m.appendFailureLocked(id)

			cb := m.onFailure
			m.log.Warn("peer failed health probe", zap.String("node_id", id), zap.Error(err))
			if cb != nil {
				go cb(id)
			}
		}
		return
	}

	node.ConsecutiveFails = 0
	node.LastHealthy = time.Now()
}

func (m *Monitor) maybeRecover(ctx context.Context, id string) {
	m.mu.Lock()
	node, ok := m.nodes[id]
	if !ok || node.IsActive {
		m.mu.Unlock()
		return
	}
	if time.Since(node.FailureTime) <= m.recoveryTimeout {
		m.mu.Unlock()
		return
	}
	addr := node.Addr
	m.mu.Unlock()

	err := m.pinger.Ping(ctx, addr)

	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok = m.nodes[id]
	if !ok {
		return
	}
	if err == nil {
		node.IsActive = true
		node.ConsecutiveFails = 0
		node.LastHealthy = time.Now()
		m.recovered++
		m.log.Info("peer recovered", zap.String("node_id", id))
	}
}

// appendFailureLocked appends a failure entry, trimming to the bounded
// ring of 1000. Caller must hold m.mu.
func (m *Monitor) appendFailureLocked(id string) {
	m.failures = append(m.failures, FailureEntry{NodeID: id, Timestamp: time.Now()})
	if len(m.failures) > failureRingSize {
		m.failures = m.failures[len(m.failures)-failureRingSize:]
	}
}

// PurgeOlderThan removes failure entries older than maxAge.
func (m *Monitor) PurgeOlderThan(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	kept := m.failures[:0]
	for _, f := range m.failures {
		if f.Timestamp.After(cutoff) {
			kept = append(kept, f)
		}
	}
	m.failures = kept
	m.lastPurge = time.Now()
}

// GetHealthMetrics reports the monitor's current aggregate view.
func (m *Monitor) GetHealthMetrics() HealthMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, failed := 0, 0
	health := make(map[string]NodeHealth, len(m.nodes))
	for id, n := range m.nodes {
		if n.IsActive {
			active++
		} else {
			failed++
		}
		health[id] = *n
	}

	recoveryRate := 0.0
	if m.everFailed > 0 {
		recoveryRate = float64(m.recovered) / float64(m.everFailed)
	}

	return HealthMetrics{
		ActiveNodes:         active,
		FailedNodes:         failed,
		TotalNodes:          active + failed,
		Uptime:              time.Since(m.startedAt),
		RecoveryRate:        recoveryRate,
		HealthCheckInterval: m.interval,
		NodeHealth:          health,
	}
}

var _ Pinger = (*transport.Client)(nil)
