package protocol

import (
	"slices"

	"github.com/nao1215/portscan/internal/model"
)

// DefaultThreshold is the minimum score reported as a protocol rather than unknown.
const DefaultThreshold = 50

// Registry classifies responses with an ordered, immutable set of detectors.
// It is safe for concurrent use.
type Registry struct {
	detectors []Detector
	hints     [][]uint16
	threshold int
}

// Option configures a Registry.
type Option func(*Registry)

// WithThreshold sets the minimum score for a verdict. Values outside [0,100]
// are clamped.
func WithThreshold(threshold int) Option {
	return func(r *Registry) {
		r.threshold = min(max(threshold, 0), 100)
	}
}

// WithDetectors replaces the default detector set. Declaration order is the
// tie-break order.
func WithDetectors(detectors ...Detector) Option {
	return func(r *Registry) {
		r.detectors = slices.Clone(detectors)
	}
}

// NewRegistry creates a registry holding DefaultDetectors.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		detectors: DefaultDetectors(),
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.hints = make([][]uint16, len(r.detectors))
	for i, d := range r.detectors {
		r.hints[i] = d.Ports()
	}
	return r
}

// DefaultDetectors returns the built-in detectors in priority order.
func DefaultDetectors() []Detector {
	return []Detector{
		newSSHDetector(),
		newHTTPDetector(),
		newTLSDetector(),
		newFTPDetector(),
		newSMTPDetector(),
		newPOP3Detector(),
		newIMAPDetector(),
		newMySQLDetector(),
		newPostgreSQLDetector(),
		newMongoDBDetector(),
		newRedisDetector(),
		newMemcachedDetector(),
		newDNSDetector(),
		newNTPDetector(),
		newSNMPDetector(),
		newVNCDetector(),
		newRDPDetector(),
		newTelnetDetector(),
	}
}

// Threshold returns the minimum score for a verdict.
func (r *Registry) Threshold() int {
	return r.threshold
}

// Names returns the protocol names in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.detectors))
	for _, d := range r.detectors {
		names = append(names, d.Name())
	}
	return names
}

// Classify returns the best verdict for data received on port.
//
// Detectors hinted for the port run first so a strong match there lets the
// remaining detectors be skipped when their ceiling cannot beat it. Skipping
// never changes the outcome: the result is the same as scoring every detector
// and taking the highest score, lowest declaration index on ties.
func (r *Registry) Classify(port uint16, data []byte) model.DetectionResult {
	if len(data) == 0 {
		return model.UnknownDetection(describe(data))
	}

	onPort := make([]bool, len(r.detectors))
	order := make([]int, 0, len(r.detectors))
	rest := make([]int, 0, len(r.detectors))
	for i := range r.detectors {
		onPort[i] = slices.Contains(r.hints[i], port)
		if onPort[i] {
			order = append(order, i)
		} else {
			rest = append(rest, i)
		}
	}
	order = append(order, rest...)

	bestIdx := -1
	bestScore := 0
	var best Match
	for _, i := range order {
		d := r.detectors[i]

		ceiling := d.MaxConfidence()
		if !onPort[i] {
			ceiling -= PortMismatchPenalty
		}
		if ceiling <= 0 || ceiling < bestScore || (ceiling == bestScore && i > bestIdx) {
			continue
		}

		m := d.Detect(port, data)
		if m.Confidence <= 0 {
			continue
		}
		score := min(m.Confidence, d.MaxConfidence())
		if !onPort[i] {
			score -= PortMismatchPenalty
		}
		if score <= 0 {
			continue
		}
		if score > bestScore || (score == bestScore && i < bestIdx) {
			bestIdx, bestScore, best = i, score, m
		}
	}

	if bestIdx < 0 || bestScore < r.threshold {
		return model.UnknownDetection(describe(data))
	}
	return model.DetectionResult{
		Protocol:   r.detectors[bestIdx].Name(),
		Confidence: bestScore,
		Evidence:   best.Evidence,
		Findings:   slices.Clone(best.Findings),
	}
}
