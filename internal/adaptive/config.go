package adaptive

import (
	"math"
	"net/netip"
	"time"
)

// Default policy values. They are starting points; Config exposes all of them.
const (
	DefaultLANInitial           = 300 * time.Millisecond
	DefaultWANInitial           = 1500 * time.Millisecond
	DefaultMin                  = 50 * time.Millisecond
	DefaultMax                  = 6 * time.Second
	DefaultAlpha                = 0.125
	DefaultBeta                 = 0.25
	DefaultSpreadFactor         = 4.0
	DefaultOutlierFactor        = 3.0
	DefaultOutlierWeight        = 0.25
	DefaultBackoffMultiplier    = 2.0
	DefaultDecreaseStep         = 25 * time.Millisecond
	DefaultFastStreak           = 5
	DefaultFastRatio            = 0.5
	DefaultConsistencyRatio     = 0.5
	DefaultHostPromotionSamples = 8
)

// Config holds the tunable policy of the controller.
type Config struct {
	// LANInitial seeds the LAN class model.
	LANInitial time.Duration

	// WANInitial seeds the WAN class model.
	WANInitial time.Duration

	// Min and Max bound every recommendation.
	Min time.Duration
	Max time.Duration

	// Alpha is the EWMA gain of the mean, Beta the gain of the spread.
	Alpha float64
	Beta  float64

	// SpreadFactor sets the statistical floor mean + SpreadFactor*spread that a
	// decrease never goes below.
	SpreadFactor float64

	// OutlierFactor marks samples further than OutlierFactor*spread from the
	// mean as outliers. Their gains are scaled by OutlierWeight.
	OutlierFactor float64
	OutlierWeight float64

	// BackoffMultiplier scales the timeout on every timeout event.
	BackoffMultiplier float64

	// DecreaseStep is subtracted after FastStreak consecutive fast replies.
	DecreaseStep time.Duration
	FastStreak   int

	// A reply is fast when rtt <= FastRatio*timeout, and consistent when
	// |rtt-mean| <= ConsistencyRatio*mean.
	FastRatio        float64
	ConsistencyRatio float64

	// HostPromotionSamples is the number of observations after which a host
	// is judged by its own model instead of its class model.
	HostPromotionSamples int

	// LANPrefixes are extra prefixes treated as LAN besides private, loopback
	// and link-local scopes.
	LANPrefixes []netip.Prefix
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		LANInitial:           DefaultLANInitial,
		WANInitial:           DefaultWANInitial,
		Min:                  DefaultMin,
		Max:                  DefaultMax,
		Alpha:                DefaultAlpha,
		Beta:                 DefaultBeta,
		SpreadFactor:         DefaultSpreadFactor,
		OutlierFactor:        DefaultOutlierFactor,
		OutlierWeight:        DefaultOutlierWeight,
		BackoffMultiplier:    DefaultBackoffMultiplier,
		DecreaseStep:         DefaultDecreaseStep,
		FastStreak:           DefaultFastStreak,
		FastRatio:            DefaultFastRatio,
		ConsistencyRatio:     DefaultConsistencyRatio,
		HostPromotionSamples: DefaultHostPromotionSamples,
	}
}

// Validate checks that the policy can converge.
func (c Config) Validate() error {
	if c.Min <= 0 || c.Min > c.Max {
		return ErrInvalidBounds
	}
	if c.LANInitial < c.Min || c.LANInitial > c.Max || c.WANInitial < c.Min || c.WANInitial > c.Max {
		return ErrInvalidInitial
	}
	for _, g := range []float64{c.Alpha, c.Beta, c.OutlierWeight} {
		if !inUnit(g) {
			return ErrInvalidGain
		}
	}
	if !positive(c.SpreadFactor) || !positive(c.OutlierFactor) {
		return ErrInvalidFactor
	}
	if !inUnit(c.FastRatio) || !positive(c.ConsistencyRatio) {
		return ErrInvalidRatio
	}
	if c.HostPromotionSamples < 1 {
		return ErrInvalidPromotion
	}
	if c.BackoffMultiplier <= 1 {
		return ErrInvalidMultiplier
	}
	if c.DecreaseStep <= 0 || c.FastStreak <= 0 {
		return ErrInvalidStep
	}
	return nil
}

// inUnit reports whether v lies in (0, 1]. NaN is rejected.
func inUnit(v float64) bool { return v > 0 && v <= 1 }

// positive reports whether v is finite and above zero.
func positive(v float64) bool { return v > 0 && !math.IsInf(v, 1) }

// NetworkClass is the coarse latency class of an address.
type NetworkClass int

const (
	// ClassLAN covers loopback, private and link-local scopes.
	ClassLAN NetworkClass = iota
	// ClassWAN covers everything else.
	ClassWAN
)

// String returns "lan" or "wan".
func (c NetworkClass) String() string {
	if c == ClassLAN {
		return "lan"
	}
	return "wan"
}

// ClassOf derives the network class of addr from its scope.
func (c Config) ClassOf(addr netip.Addr) NetworkClass {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
		return ClassLAN
	}
	for _, p := range c.LANPrefixes {
		if p.Contains(addr) {
			return ClassLAN
		}
	}
	return ClassWAN
}

func (c Config) initial(class NetworkClass) time.Duration {
	if class == ClassLAN {
		return c.LANInitial
	}
	return c.WANInitial
}
