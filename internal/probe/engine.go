package probe

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/nao1215/portscan/internal/adaptive"
	"github.com/nao1215/portscan/internal/model"
	"github.com/nao1215/portscan/internal/protocol"
	"github.com/nao1215/portscan/internal/ratelimit"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"
)

// DiscoveryPorts are the ports a TCP ping tries. Any answer, open or
// refused, proves the host is up.
var DiscoveryPorts = []uint16{80, 443, 22, 445, 135, 3389}

// Engine executes probe tasks. It is safe for concurrent use.
type Engine struct {
	controller *adaptive.Controller
	registry   *protocol.Registry
	override   time.Duration
	logger     *slog.Logger

	connect  *connectProber
	pinger   *connectProber
	datagram *udpProber

	dialer       proxy.ContextDialer
	serviceProbe bool
	limiter      *ratelimit.Limiter

	rawMu     sync.Mutex
	raw       *rawProber
	openRaw   func(*slog.Logger) (*rawProber, error)
	rawClosed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeoutOverride fixes every probe deadline to d and stops feeding the
// adaptive controller. Zero keeps adaptation on.
func WithTimeoutOverride(d time.Duration) Option {
	return func(e *Engine) {
		e.override = d
	}
}

// WithDialer sets the dialer used by connect probes and TCP pings, for
// example one returned by NewProxyDialer.
func WithDialer(d proxy.ContextDialer) Option {
	return func(e *Engine) {
		e.dialer = d
	}
}

// WithServiceProbe makes connect probes read a banner, or send the port's
// request, once connected so the protocol can be detected.
func WithServiceProbe(enabled bool) Option {
	return func(e *Engine) {
		e.serviceProbe = enabled
	}
}

// WithRateLimiter charges l for every packet an attempt writes after its
// first one, such as the RST closing a half-open connection or a service
// request. The first packet is paid for by whoever schedules the attempt.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// withRawSockets makes the engine use the given sockets instead of opening
// real raw sockets.
func withRawSockets(tcpConn, icmpConn net.PacketConn, source sourceFunc) Option {
	return func(e *Engine) {
		e.openRaw = func(logger *slog.Logger) (*rawProber, error) {
			return newRawProber(tcpConn, icmpConn, source, logger), nil
		}
	}
}

// New creates an engine. The controller supplies deadlines; the registry
// classifies any bytes a probe receives.
func New(controller *adaptive.Controller, registry *protocol.Registry, opts ...Option) *Engine {
	e := &Engine{
		controller: controller,
		registry:   registry,
		logger:     slog.Default(),
		openRaw:    openRawProber,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.connect = newConnectProber(e.dialer, e.serviceProbe, e.limiter)
	e.pinger = newConnectProber(e.dialer, false, nil)
	e.datagram = newUDPProber()
	return e
}

// Prepare opens the raw sockets when any of the scan types needs them. Call it
// before scanning so a missing privilege is reported once, up front.
func (e *Engine) Prepare(scanTypes ...model.ScanType) error {
	for _, st := range scanTypes {
		if st.RequiresRaw() {
			_, err := e.rawProber()
			return err
		}
	}
	return nil
}

// Close releases the raw sockets, if open.
func (e *Engine) Close() error {
	e.rawMu.Lock()
	defer e.rawMu.Unlock()

	e.rawClosed = true
	if e.raw == nil {
		return nil
	}
	err := e.raw.close()
	e.raw = nil
	return err
}

func (e *Engine) rawProber() (*rawProber, error) {
	e.rawMu.Lock()
	defer e.rawMu.Unlock()

	if e.rawClosed {
		return nil, ErrEngineClosed
	}
	if e.raw != nil {
		return e.raw, nil
	}
	raw, err := e.openRaw(e.logger)
	if err != nil {
		return nil, err
	}
	raw.limiter = e.limiter
	e.raw = raw
	return raw, nil
}

// Deadline returns the deadline a first attempt against host gets.
func (e *Engine) Deadline(host netip.Addr) time.Duration {
	if e.override > 0 {
		return e.override
	}
	return e.controller.Recommend(host)
}

// MaxDeadline returns the longest deadline a retry may use.
func (e *Engine) MaxDeadline() time.Duration {
	if e.override > 0 {
		return e.override
	}
	return e.controller.Config().Max
}

// Execute runs one attempt of task and returns its outcome together with the
// protocol verdict for any bytes received. Network conditions never surface
// as errors: they become statuses, and local failures become StatusError.
func (e *Engine) Execute(ctx context.Context, task model.ProbeTask) (model.ProbeOutcome, model.DetectionResult) {
	deadline := task.Deadline
	if deadline <= 0 {
		deadline = e.Deadline(task.Host)
	}

	p, err := e.proberFor(task.ScanType)
	if err != nil {
		kind := model.ErrorIO
		if errors.Is(err, ErrInsufficientPrivilege) {
			kind = model.ErrorPermission
		}
		return model.NewErrorOutcome(kind).WithAttempts(task.Attempt), model.DetectionResult{}
	}

	ex := p.probe(ctx, task, deadline)
	if ex.kind != model.ErrorNone {
		e.logger.Debug("probe failed locally",
			"host", task.Host, "port", task.Port, "scan_type", task.ScanType,
			"attempt", task.Attempt, "error_kind", ex.kind)
		return model.NewErrorOutcome(ex.kind).WithAttempts(task.Attempt), model.DetectionResult{}
	}

	if e.override <= 0 {
		if ex.response == ResponseNone {
			e.controller.Observe(task.Host, adaptive.Expired())
		} else {
			e.controller.Observe(task.Host, adaptive.Reply(ex.rtt))
		}
	}

	status := Interpret(task.ScanType, ex.response)
	e.logger.Debug("probe finished",
		"host", task.Host, "port", task.Port, "scan_type", task.ScanType,
		"attempt", task.Attempt, "deadline", deadline, "response", ex.response,
		"status", status, "rtt", ex.rtt, "payload", ex.data)

	outcome := model.NewProbeOutcome(status, ex.rtt, ex.data).WithAttempts(task.Attempt)
	var detection model.DetectionResult
	if outcome.Responded() {
		detection = e.registry.Classify(task.Port, outcome.Response)
	}
	return outcome, detection
}

func (e *Engine) proberFor(scanType model.ScanType) (prober, error) {
	switch {
	case scanType.RequiresRaw():
		return e.rawProber()
	case scanType == model.ScanUDP:
		return e.datagram, nil
	default:
		return e.connect, nil
	}
}

// errAlive stops the remaining pings once one port answered.
var errAlive = errors.New("host answered")

// Alive reports whether host answers a TCP ping on any of DiscoveryPorts.
// A refused connection counts as an answer. Each ping waits half the
// deadline a normal probe would get.
func (e *Engine) Alive(ctx context.Context, host netip.Addr) bool {
	wait := max(e.Deadline(host)/2, 10*time.Millisecond)

	g, gctx := errgroup.WithContext(ctx)
	for _, port := range DiscoveryPorts {
		g.Go(func() error {
			task := model.NewProbeTask(host, port, model.ScanConnect)
			ex := e.pinger.probe(gctx, task, wait)
			if ex.kind == model.ErrorNone && (ex.response == ResponseConnected || ex.response == ResponseRefused) {
				return errAlive
			}
			return nil
		})
	}
	alive := errors.Is(g.Wait(), errAlive)
	e.logger.Debug("host discovery", "host", host, "alive", alive)
	return alive
}

// pace takes a token for a follow-up packet. A nil limiter never blocks.
func pace(ctx context.Context, l *ratelimit.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
