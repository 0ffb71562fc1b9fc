package scheduler

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/portscan/internal/aggregate"
	"github.com/nao1215/portscan/internal/model"
	"github.com/nao1215/portscan/internal/probe"
	"github.com/nao1215/portscan/internal/ratelimit"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultMaxHosts             = 10
	DefaultMaxPortsPerHost      = 50
	DefaultMaxAttempts          = 3
	DefaultGracePeriod          = 2 * time.Second
	DefaultHostFailureThreshold = 5
)

// Executor runs single probe attempts. *probe.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, task model.ProbeTask) (model.ProbeOutcome, model.DetectionResult)
	Deadline(host netip.Addr) time.Duration
	MaxDeadline() time.Duration
}

// Discoverer decides whether a host is worth probing. *probe.Engine
// implements it with a TCP ping.
type Discoverer interface {
	Alive(ctx context.Context, host netip.Addr) bool
}

// Scheduler turns targets into probe tasks and drives every requested port to
// exactly one terminal outcome.
type Scheduler struct {
	executor   Executor
	aggregator *aggregate.Aggregator
	limiter    *ratelimit.Limiter
	discoverer Discoverer
	logger     *slog.Logger

	maxHosts        int
	maxPortsPerHost int
	maxAttempts     int
	grace           time.Duration
	hostFailures    int

	started atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxHosts sets how many hosts may be scanned at once.
func WithMaxHosts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxHosts = n
		}
	}
}

// WithMaxPortsPerHost sets how many probes one host may have in flight.
func WithMaxPortsPerHost(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxPortsPerHost = n
		}
	}
}

// WithRateLimiter sets the limiter shared by every probe emission. Without
// one the scan is not rate limited.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Scheduler) {
		s.limiter = l
	}
}

// WithMaxAttempts sets how many attempts a port gets, the first included.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithGracePeriod sets how long in-flight probes may run after cancellation.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithHostFailureThreshold sets after how many consecutive host-level local
// failures a host is given up.
func WithHostFailureThreshold(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.hostFailures = n
		}
	}
}

// WithDiscovery pings each host before scanning it. Hosts that do not answer
// are reported down with every port Filtered.
func WithDiscovery(d Discoverer) Option {
	return func(s *Scheduler) {
		s.discoverer = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a Scheduler feeding aggregator with the outcomes of executor.
func New(executor Executor, aggregator *aggregate.Aggregator, opts ...Option) *Scheduler {
	s := &Scheduler{
		executor:        executor,
		aggregator:      aggregator,
		logger:          slog.Default(),
		maxHosts:        DefaultMaxHosts,
		maxPortsPerHost: DefaultMaxPortsPerHost,
		maxAttempts:     DefaultMaxAttempts,
		grace:           DefaultGracePeriod,
		hostFailures:    DefaultHostFailureThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New(0)
	}
	return s
}

// Run scans every target received on targets and returns the stream of
// finalized results. The stream is closed once targets is closed and every
// host is finalized, or once ctx is cancelled and every host has been
// finalized as cancelled. Run may be called only once.
func (s *Scheduler) Run(ctx context.Context, targets <-chan model.ScanTarget) <-chan model.ScanResult {
	results := s.aggregator.Results()
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Error("scheduler already running")
		return results
	}

	go func() {
		defer s.aggregator.Close()
		s.dispatch(ctx, targets)
	}()
	return results
}

func (s *Scheduler) dispatch(ctx context.Context, targets <-chan model.ScanTarget) {
	// Probes run on their own context so that cancellation leaves them the
	// grace period to finish.
	probeCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()
	stopGrace := context.AfterFunc(ctx, func() {
		s.logger.Info("scan cancelled, draining in-flight probes", "grace", s.grace)
		time.AfterFunc(s.grace, abort)
	})
	defer stopGrace()

	started := time.Now()
	var hosts int

	g := new(errgroup.Group)
	g.SetLimit(s.maxHosts)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case target, ok := <-targets:
			if !ok {
				break loop
			}
			hosts++
			g.Go(func() error {
				s.scanHost(ctx, probeCtx, target)
				return nil
			})
		}
	}
	_ = g.Wait()

	s.logger.Info("scan finished",
		"hosts", hosts,
		"probes", s.limiter.Emitted(),
		"cancelled", ctx.Err() != nil,
		"elapsed", time.Since(started),
	)
}

// hostState tracks consecutive host-level failures of one host.
type hostState struct {
	threshold int
	failures  atomic.Int32
	failed    atomic.Bool
}

func (h *hostState) observe(outcome model.ProbeOutcome) {
	if outcome.Status != model.StatusError || !outcome.ErrorKind.HostLevel() {
		if outcome.Status != model.StatusError {
			h.failures.Store(0)
		}
		return
	}
	if int(h.failures.Add(1)) >= h.threshold {
		h.failed.Store(true)
	}
}

func (s *Scheduler) scanHost(ctx, probeCtx context.Context, target model.ScanTarget) {
	key := s.aggregator.Begin(target)
	if ctx.Err() != nil {
		s.aggregator.Abandon(key, model.ErrorCancelled)
		return
	}

	host := target.Host()
	s.logger.Info("scanning host",
		"host", host,
		"name", target.Name(),
		"ports", target.PortCount(),
		"scan_type", target.ScanType(),
	)

	if s.discoverer != nil && !s.alive(ctx, probeCtx, host) {
		if ctx.Err() != nil {
			s.aggregator.Abandon(key, model.ErrorCancelled)
			return
		}
		s.logger.Info("host down", "host", host)
		s.aggregator.MarkHostDown(key)
		return
	}

	state := &hostState{threshold: s.hostFailures}
	sem := semaphore.NewWeighted(int64(s.maxPortsPerHost))
	var wg sync.WaitGroup
	for _, port := range target.Ports() {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			s.scanPort(ctx, probeCtx, key, state, model.NewProbeTask(host, port, target.ScanType()))
		}()
	}
	wg.Wait()

	switch {
	case ctx.Err() != nil:
		s.aggregator.Abandon(key, model.ErrorCancelled)
	case state.failed.Load():
		s.logger.Warn("host failed", "host", host, "consecutive_failures", state.failures.Load())
	}
}

// alive runs host discovery. Each ping costs rate tokens like any probe.
func (s *Scheduler) alive(ctx, probeCtx context.Context, host netip.Addr) bool {
	for range probe.DiscoveryPorts {
		if err := s.limiter.Wait(ctx); err != nil {
			return false
		}
	}
	return s.discoverer.Alive(probeCtx, host)
}

// scanPort runs the attempts of one port and records the terminal outcome.
// When ctx is cancelled before a terminal outcome the port is left
// unresolved; the host's cancellation resolves it.
func (s *Scheduler) scanPort(ctx, probeCtx context.Context, key aggregate.Key, state *hostState, task model.ProbeTask) {
	task.Deadline = s.executor.Deadline(task.Host)

	var (
		outcome   model.ProbeOutcome
		detection model.DetectionResult
	)
	for {
		if state.failed.Load() {
			outcome = model.NewErrorOutcome(model.ErrorHostFailed).WithAttempts(task.Attempt - 1)
			detection = model.DetectionResult{}
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		outcome, detection = s.executor.Execute(probeCtx, task)
		if !s.retryable(task.ScanType, outcome) || task.Attempt >= s.maxAttempts || ctx.Err() != nil {
			break
		}
		next := min(task.Deadline*2, s.executor.MaxDeadline())
		s.logger.Debug("retrying probe",
			"host", task.Host, "port", task.Port,
			"attempt", task.Attempt+1, "deadline", next,
			"status", outcome.Status, "error_kind", outcome.ErrorKind)
		task = task.Retry(next)
	}

	state.observe(outcome)
	s.aggregator.Record(key, task.Port, outcome, detection)
}

// retryable reports whether another attempt could change the outcome: the
// probe went unanswered, or failed for a transient local reason.
func (s *Scheduler) retryable(scanType model.ScanType, outcome model.ProbeOutcome) bool {
	if outcome.Status == model.StatusError {
		return outcome.ErrorKind.Retryable()
	}
	return outcome.RTT == 0 && !outcome.Responded() && outcome.Status == probe.NoResponseStatus(scanType)
}
