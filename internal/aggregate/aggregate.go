package aggregate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/portscan/internal/model"
)

// Key identifies an open host. The zero Key is never issued.
type Key uint64

// ServiceNamer returns the well-known service name of a port.
type ServiceNamer func(port uint16, transport model.Transport) string

// host is the in-progress result of one target.
type host struct {
	result    model.ScanResult
	index     map[uint16]int
	resolved  []bool
	remaining int
}

// Aggregator merges outcomes into ScanResults. It is safe for concurrent use.
type Aggregator struct {
	runID   string
	logger  *slog.Logger
	service ServiceNamer

	mu      sync.Mutex
	hosts   map[Key]*host
	nextKey Key
	closed  bool
	drained bool
	sending sync.WaitGroup

	results chan model.ScanResult
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithRunID sets the run identifier stamped on every result. By default a
// fresh one is generated.
func WithRunID(id string) Option {
	return func(a *Aggregator) {
		if id != "" {
			a.runID = id
		}
	}
}

// WithServiceNamer fills PortResult.Service.
func WithServiceNamer(fn ServiceNamer) Option {
	return func(a *Aggregator) {
		a.service = fn
	}
}

// WithBuffer sets how many finalized results may wait for the consumer before
// finalization blocks.
func WithBuffer(n int) Option {
	return func(a *Aggregator) {
		if n >= 0 {
			a.results = make(chan model.ScanResult, n)
		}
	}
}

// New creates an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		runID:   model.NewRunID(),
		logger:  slog.Default(),
		hosts:   make(map[Key]*host),
		results: make(chan model.ScanResult, 16),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunID returns the identifier shared by every result of this aggregator.
func (a *Aggregator) RunID() string {
	return a.runID
}

// Results returns the stream of finalized results. It is closed by Close.
func (a *Aggregator) Results() <-chan model.ScanResult {
	return a.results
}

// Begin opens a host. Every port of target must then be recorded, or the
// host abandoned. After Close, Begin returns the zero Key, which every other
// method ignores.
func (a *Aggregator) Begin(target model.ScanTarget) Key {
	ports := target.Ports()
	h := &host{
		result: model.ScanResult{
			RunID:     a.runID,
			Host:      target.Host(),
			Name:      target.Name(),
			ScanType:  target.ScanType(),
			StartedAt: time.Now().UTC(),
			Ports:     make([]model.PortResult, len(ports)),
		},
		index:     make(map[uint16]int, len(ports)),
		resolved:  make([]bool, len(ports)),
		remaining: len(ports),
	}
	for i, p := range ports {
		h.result.Ports[i].Port = p
		if a.service != nil {
			h.result.Ports[i].Service = a.service(p, target.ScanType().Transport())
		}
		h.index[p] = i
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("host begun after close", "host", target.Host())
		return 0
	}
	a.nextKey++
	a.hosts[a.nextKey] = h
	return a.nextKey
}

// Record stores the terminal outcome of one port. It reports whether the
// record was accepted; records for unknown hosts, unrequested ports or
// already resolved ports are dropped.
func (a *Aggregator) Record(key Key, port uint16, outcome model.ProbeOutcome, detection model.DetectionResult) bool {
	a.mu.Lock()
	h, ok := a.hosts[key]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("record for unknown host dropped", "key", key, "port", port)
		return false
	}
	i, ok := h.index[port]
	if !ok || h.resolved[i] {
		a.mu.Unlock()
		a.logger.Warn("record dropped", "host", h.result.Host, "port", port, "requested", ok)
		return false
	}
	h.result.Ports[i].Outcome = outcome
	h.result.Ports[i].Detection = detection
	h.resolved[i] = true
	h.remaining--

	var done bool
	if h.remaining == 0 {
		done = a.detach(key, h)
	}
	a.mu.Unlock()

	if done {
		a.emit(h)
	}
	return true
}

// Abandon finalizes a host, resolving every unresolved port as Error(kind).
// ErrorCancelled also marks the result as cancelled.
func (a *Aggregator) Abandon(key Key, kind model.ErrorKind) {
	a.finalize(key, func(h *host) model.ProbeOutcome {
		if kind == model.ErrorCancelled {
			h.result.Cancelled = true
		}
		return model.NewErrorOutcome(kind).WithAttempts(0)
	})
}

// MarkHostDown finalizes a host that did not answer discovery. Unresolved
// ports are reported Filtered without having been probed.
func (a *Aggregator) MarkHostDown(key Key) {
	a.finalize(key, func(h *host) model.ProbeOutcome {
		h.result.HostDown = true
		return model.NewProbeOutcome(model.StatusFiltered, 0, nil).WithAttempts(0)
	})
}

// CancelAll abandons every open host as cancelled and returns how many there were.
func (a *Aggregator) CancelAll() int {
	a.mu.Lock()
	keys := make([]Key, 0, len(a.hosts))
	for k := range a.hosts {
		keys = append(keys, k)
	}
	a.mu.Unlock()

	for _, k := range keys {
		a.Abandon(k, model.ErrorCancelled)
	}
	return len(keys)
}

// Pending returns the number of open hosts.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.hosts)
}

// Close stops accepting hosts, cancels every open host, waits for pending
// emissions and closes the result stream. It blocks until the consumer has
// taken every result. It is safe to call more than once.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	if n := a.CancelAll(); n > 0 {
		a.logger.Info("cancelled unfinished hosts", "count", n)
	}
	a.sending.Wait()

	a.mu.Lock()
	a.drained = true
	a.mu.Unlock()
	close(a.results)
}

func (a *Aggregator) finalize(key Key, fill func(*host) model.ProbeOutcome) {
	a.mu.Lock()
	h, ok := a.hosts[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	if h.remaining > 0 {
		outcome := fill(h)
		for i := range h.result.Ports {
			if !h.resolved[i] {
				h.result.Ports[i].Outcome = outcome
				h.resolved[i] = true
			}
		}
		h.remaining = 0
	}
	done := a.detach(key, h)
	a.mu.Unlock()

	if done {
		a.emit(h)
	}
}

// detach removes a finished host and reserves its emission. Callers hold mu.
func (a *Aggregator) detach(key Key, h *host) bool {
	delete(a.hosts, key)
	h.result.FinishedAt = time.Now().UTC()
	if a.drained {
		return false
	}
	a.sending.Add(1)
	return true
}

func (a *Aggregator) emit(h *host) {
	defer a.sending.Done()

	s := h.result.Summary()
	a.logger.Info("host finished",
		"host", h.result.Host, "ports", s.Total, "open", s.Open,
		"cancelled", h.result.Cancelled, "host_down", h.result.HostDown,
		"elapsed", h.result.Duration())
	a.results <- h.result
}
