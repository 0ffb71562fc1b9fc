package adaptive

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// Observation is one terminal probe event fed back into the controller.
type Observation struct {
	// RTT is the measured round trip time of a reply.
	RTT time.Duration

	// TimedOut is true when no reply arrived before the deadline.
	TimedOut bool
}

// Reply returns an observation for a reply received after rtt.
func Reply(rtt time.Duration) Observation {
	return Observation{RTT: rtt}
}

// Expired returns an observation for a probe that hit its deadline.
func Expired() Observation {
	return Observation{TimedOut: true}
}

// Controller owns every latency model of a scan run. It is safe for concurrent use.
type Controller struct {
	cfg     Config
	classes [2]*latencyModel

	// hosts maps netip.Addr to *latencyModel.
	hosts sync.Map

	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for model promotion messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a Controller. The configuration must pass Validate.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{cfg: cfg}
	c.classes[ClassLAN] = newLatencyModel(cfg.LANInitial)
	c.classes[ClassWAN] = newLatencyModel(cfg.WANInitial)

	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Config returns the policy in use.
func (c *Controller) Config() Config {
	return c.cfg
}

// Recommend returns the deadline to use for the next probe to addr.
func (c *Controller) Recommend(addr netip.Addr) time.Duration {
	if m := c.promoted(addr); m != nil {
		return m.recommend()
	}
	return c.classes[c.cfg.ClassOf(addr)].recommend()
}

// Observe feeds one probe event for addr into the class model and the host model.
func (c *Controller) Observe(addr netip.Addr, obs Observation) {
	class := c.classes[c.cfg.ClassOf(addr)]
	host := c.hostModel(addr, class)

	for _, m := range []*latencyModel{class, host} {
		if obs.TimedOut {
			m.observeTimeout(&c.cfg)
		} else {
			m.observeResponse(&c.cfg, obs.RTT)
		}
	}

	if host.count() == c.cfg.HostPromotionSamples {
		c.logger.Debug("host latency model promoted",
			"host", addr,
			"timeout", host.recommend(),
		)
	}
}

// Snapshot returns the model currently used to answer Recommend for addr.
func (c *Controller) Snapshot(addr netip.Addr) Snapshot {
	if m := c.promoted(addr); m != nil {
		return m.snapshot()
	}
	return c.classes[c.cfg.ClassOf(addr)].snapshot()
}

// ClassSnapshot returns the model of a network class.
func (c *Controller) ClassSnapshot(class NetworkClass) Snapshot {
	return c.classes[class].snapshot()
}

func (c *Controller) promoted(addr netip.Addr) *latencyModel {
	v, ok := c.hosts.Load(addr.Unmap())
	if !ok {
		return nil
	}
	m := v.(*latencyModel) //nolint:forcetypeassert // only *latencyModel is stored
	if m.count() < c.cfg.HostPromotionSamples {
		return nil
	}
	return m
}

func (c *Controller) hostModel(addr netip.Addr, class *latencyModel) *latencyModel {
	key := addr.Unmap()
	if v, ok := c.hosts.Load(key); ok {
		return v.(*latencyModel) //nolint:forcetypeassert // only *latencyModel is stored
	}
	v, _ := c.hosts.LoadOrStore(key, class.seeded())
	return v.(*latencyModel) //nolint:forcetypeassert // only *latencyModel is stored
}
