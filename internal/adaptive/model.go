package adaptive

import (
	"math"
	"sync"
	"time"
)

// Snapshot is a read-only copy of one latency model.
type Snapshot struct {
	Mean     time.Duration
	Spread   time.Duration
	Timeout  time.Duration
	Samples  int
	Timeouts int
	Streak   int
}

// latencyModel is the mutable state behind one key. All access goes through mu.
type latencyModel struct {
	mu sync.Mutex

	mean     float64
	spread   float64
	timeout  float64
	samples  int
	timeouts int
	streak   int
}

func newLatencyModel(initial time.Duration) *latencyModel {
	return &latencyModel{timeout: float64(initial)}
}

// seeded copies the estimate of parent so a fresh host model starts where its
// class currently is rather than at the static default.
func (m *latencyModel) seeded() *latencyModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &latencyModel{mean: m.mean, spread: m.spread, timeout: m.timeout}
}

func (m *latencyModel) recommend() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.timeout)
}

func (m *latencyModel) snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Mean:     time.Duration(m.mean),
		Spread:   time.Duration(m.spread),
		Timeout:  time.Duration(m.timeout),
		Samples:  m.samples,
		Timeouts: m.timeouts,
		Streak:   m.streak,
	}
}

func (m *latencyModel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples + m.timeouts
}

// observeTimeout applies the multiplicative increase.
func (m *latencyModel) observeTimeout(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timeouts++
	m.streak = 0
	m.timeout = math.Min(m.timeout*cfg.BackoffMultiplier, float64(cfg.Max))
}

// observeResponse folds one round trip time into the EWMA and applies the
// additive decrease after a streak of fast, consistent replies.
func (m *latencyModel) observeResponse(cfg *Config, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := float64(rtt)
	if m.samples == 0 {
		m.mean = r
		m.spread = r / 2
	} else {
		dev := math.Abs(r - m.mean)
		alpha, beta := cfg.Alpha, cfg.Beta
		if m.spread > 0 && dev > cfg.OutlierFactor*m.spread {
			alpha *= cfg.OutlierWeight
			beta *= cfg.OutlierWeight
		}
		m.spread = (1-beta)*m.spread + beta*dev
		m.mean = (1-alpha)*m.mean + alpha*r
	}
	m.samples++

	floor := m.mean + cfg.SpreadFactor*m.spread
	if floor > m.timeout {
		// the estimate outgrew the deadline; catch up without waiting for a timeout
		m.timeout = math.Min(floor, float64(cfg.Max))
		m.streak = 0
		return
	}

	fast := r <= cfg.FastRatio*m.timeout
	consistent := math.Abs(r-m.mean) <= cfg.ConsistencyRatio*m.mean
	if !fast || !consistent {
		m.streak = 0
		return
	}

	m.streak++
	if m.streak < cfg.FastStreak {
		return
	}
	m.streak = 0

	lower := math.Max(float64(cfg.Min), floor)
	next := math.Max(m.timeout-float64(cfg.DecreaseStep), lower)
	if next < m.timeout {
		m.timeout = next
	}
}
