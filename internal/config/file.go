package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/nao1215/portscan/internal/model"
	"github.com/nao1215/portscan/internal/portspec"
)

// File is the content of a configuration file.
//
// Example:
//
//	scan:
//	  scanType: syn
//	  ports: common,lab
//	  rate: 1000
//	adaptive:
//	  wanInitial: 2s
//	  lanPrefixes: [100.64.0.0/10]
//	portSets:
//	  lab: 8000-8010,9090
type File struct {
	Scan      ScanSection      `yaml:"scan,omitempty"`
	Adaptive  AdaptiveSection  `yaml:"adaptive,omitempty"`
	Detection DetectionSection `yaml:"detection,omitempty"`

	// PortSets maps set names to port specifications. Names are case insensitive.
	PortSets map[string]string `yaml:"portSets,omitempty"`

	Output   OutputSection   `yaml:"output,omitempty"`
	Database DatabaseSection `yaml:"database,omitempty"`
	PubSub   PubSubSection   `yaml:"pubsub,omitempty"`
}

// ScanSection holds scan defaults. Unset fields keep the built-in defaults.
type ScanSection struct {
	ScanType             string        `yaml:"scanType,omitempty"`
	Ports                string        `yaml:"ports,omitempty"`
	Timeout              time.Duration `yaml:"timeout,omitempty"`
	Rate                 *int          `yaml:"rate,omitempty"`
	ParallelHosts        int           `yaml:"parallelHosts,omitempty"`
	ParallelPorts        int           `yaml:"parallelPorts,omitempty"`
	Retries              *int          `yaml:"retries,omitempty"`
	GracePeriod          time.Duration `yaml:"gracePeriod,omitempty"`
	HostFailureThreshold int           `yaml:"hostFailureThreshold,omitempty"`
	SkipPing             *bool         `yaml:"skipPing,omitempty"`
	ServiceDetect        *bool         `yaml:"serviceDetect,omitempty"`
	Proxy                string        `yaml:"proxy,omitempty"`
	MaxTargets           int           `yaml:"maxTargets,omitempty"`
}

// AdaptiveSection holds the timeout policy.
type AdaptiveSection struct {
	LANInitial           time.Duration `yaml:"lanInitial,omitempty"`
	WANInitial           time.Duration `yaml:"wanInitial,omitempty"`
	Min                  time.Duration `yaml:"min,omitempty"`
	Max                  time.Duration `yaml:"max,omitempty"`
	Alpha                float64       `yaml:"alpha,omitempty"`
	Beta                 float64       `yaml:"beta,omitempty"`
	SpreadFactor         float64       `yaml:"spreadFactor,omitempty"`
	OutlierFactor        float64       `yaml:"outlierFactor,omitempty"`
	OutlierWeight        float64       `yaml:"outlierWeight,omitempty"`
	BackoffMultiplier    float64       `yaml:"backoffMultiplier,omitempty"`
	DecreaseStep         time.Duration `yaml:"decreaseStep,omitempty"`
	FastStreak           int           `yaml:"fastStreak,omitempty"`
	FastRatio            float64       `yaml:"fastRatio,omitempty"`
	ConsistencyRatio     float64       `yaml:"consistencyRatio,omitempty"`
	HostPromotionSamples int           `yaml:"hostPromotionSamples,omitempty"`
	LANPrefixes          []string      `yaml:"lanPrefixes,omitempty"`
}

// DetectionSection holds protocol detection settings.
type DetectionSection struct {
	Threshold *int `yaml:"threshold,omitempty"`
}

// OutputSection holds report defaults.
type OutputSection struct {
	Format     string `yaml:"format,omitempty"`
	Pretty     *bool  `yaml:"pretty,omitempty"`
	ShowClosed *bool  `yaml:"showClosed,omitempty"`
}

// DatabaseSection holds history store settings.
type DatabaseSection struct {
	Dir      string `yaml:"dir,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// PubSubSection holds result sink settings.
type PubSubSection struct {
	Project string `yaml:"project,omitempty"`
	Topic   string `yaml:"topic,omitempty"`
}

// Apply copies every value set in f onto cfg.
func (f *File) Apply(cfg *Config) error {
	if err := f.Scan.apply(cfg); err != nil {
		return err
	}
	if err := f.Adaptive.apply(cfg); err != nil {
		return err
	}
	if f.Detection.Threshold != nil {
		cfg.DetectionThreshold = *f.Detection.Threshold
	}

	sets, err := f.portSets()
	if err != nil {
		return err
	}
	cfg.PortSets = sets

	if f.Output.Format != "" {
		cfg.Format = strings.ToLower(f.Output.Format)
	}
	setBool(&cfg.Pretty, f.Output.Pretty)
	setBool(&cfg.ShowClosed, f.Output.ShowClosed)

	if f.Database.Dir != "" {
		cfg.DBDir = f.Database.Dir
	}
	if f.Database.Disabled {
		cfg.SaveToDB = false
	}

	setString(&cfg.PubSubProject, f.PubSub.Project)
	setString(&cfg.PubSubTopic, f.PubSub.Topic)
	return nil
}

func (s ScanSection) apply(cfg *Config) error {
	if s.ScanType != "" {
		st, err := model.ParseScanType(s.ScanType)
		if err != nil {
			return fmt.Errorf("%w: scan.scanType: %w", ErrInvalidConfigFile, err)
		}
		cfg.ScanType = st
	}
	if s.Ports != "" {
		cfg.Ports = []string{s.Ports}
	}
	setDuration(&cfg.Timeout, s.Timeout)
	setInt(&cfg.ParallelHosts, s.ParallelHosts)
	setInt(&cfg.ParallelPorts, s.ParallelPorts)
	setInt(&cfg.HostFailureThreshold, s.HostFailureThreshold)
	setInt(&cfg.MaxTargets, s.MaxTargets)
	setDuration(&cfg.GracePeriod, s.GracePeriod)
	if s.Rate != nil {
		cfg.Rate = *s.Rate
	}
	if s.Retries != nil {
		cfg.Retries = *s.Retries
	}
	setBool(&cfg.SkipPing, s.SkipPing)
	setBool(&cfg.ServiceDetect, s.ServiceDetect)
	setString(&cfg.Proxy, s.Proxy)
	return nil
}

func (a AdaptiveSection) apply(cfg *Config) error {
	p := &cfg.Adaptive
	setDuration(&p.LANInitial, a.LANInitial)
	setDuration(&p.WANInitial, a.WANInitial)
	setDuration(&p.Min, a.Min)
	setDuration(&p.Max, a.Max)
	setFloat(&p.Alpha, a.Alpha)
	setFloat(&p.Beta, a.Beta)
	setFloat(&p.SpreadFactor, a.SpreadFactor)
	setFloat(&p.OutlierFactor, a.OutlierFactor)
	setFloat(&p.OutlierWeight, a.OutlierWeight)
	setFloat(&p.BackoffMultiplier, a.BackoffMultiplier)
	setDuration(&p.DecreaseStep, a.DecreaseStep)
	setInt(&p.FastStreak, a.FastStreak)
	setFloat(&p.FastRatio, a.FastRatio)
	setFloat(&p.ConsistencyRatio, a.ConsistencyRatio)
	setInt(&p.HostPromotionSamples, a.HostPromotionSamples)

	for _, s := range a.LANPrefixes {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%w: adaptive.lanPrefixes: %w", ErrInvalidConfigFile, err)
		}
		p.LANPrefixes = append(p.LANPrefixes, prefix.Masked())
	}
	return nil
}

// portSets parses the custom sets. A set may not refer to another custom set.
func (f *File) portSets() (portspec.Sets, error) {
	if len(f.PortSets) == 0 {
		return nil, nil
	}
	sets := make(portspec.Sets, len(f.PortSets))
	for name, spec := range f.PortSets {
		ports, err := portspec.Parse(spec, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: portSets.%s: %w", ErrInvalidConfigFile, name, err)
		}
		sets[strings.ToLower(name)] = ports
	}
	return sets, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
