package config

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/portscan/internal/adaptive"
	"github.com/nao1215/portscan/internal/model"
	"github.com/nao1215/portscan/internal/portspec"
	"github.com/nao1215/portscan/internal/protocol"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "portscan"

	// DefaultScanType is the scan that needs no privileges.
	DefaultScanType = model.ScanConnect

	// DefaultPorts is the port specification used when none is given.
	DefaultPorts = "common"

	// DefaultRate is the global probe budget in probes per second.
	// Zero disables the limit.
	DefaultRate = 500

	// DefaultParallelHosts is the number of hosts scanned at once.
	DefaultParallelHosts = 10

	// DefaultParallelPorts is the number of probes in flight per host.
	DefaultParallelPorts = 50

	// DefaultRetries is the number of extra attempts for an unanswered probe.
	DefaultRetries = 2

	// DefaultGracePeriod is how long in-flight probes may finish after cancellation.
	DefaultGracePeriod = 2 * time.Second

	// DefaultHostFailureThreshold is the number of consecutive host-level
	// errors after which a host is given up.
	DefaultHostFailureThreshold = 5

	// DefaultDetectionThreshold is the minimum detector confidence.
	DefaultDetectionThreshold = protocol.DefaultThreshold

	// DefaultFormat is the report format.
	DefaultFormat = "human"

	// DefaultMaxTargets caps target expansion.
	DefaultMaxTargets = 1 << 16
)

// Formats lists the accepted report formats.
var Formats = []string{"human", "json", "markdown", "csv", "xml"}

// Config holds all options of one scan run. It is filled from defaults, the
// configuration file and CLI flags, in that order.
type Config struct {
	// Targets are the target expressions: addresses, prefixes, ranges or hostnames.
	Targets []string

	// Ports are port specifications, joined before parsing.
	Ports []string

	// ScanType selects the probe technique.
	ScanType model.ScanType

	// Timeout, when positive, replaces the adaptive deadline for every probe.
	Timeout time.Duration

	// Rate is the global probe budget per second. Zero means unlimited.
	Rate int

	// ParallelHosts and ParallelPorts bound host and per-host concurrency.
	ParallelHosts int
	ParallelPorts int

	// Retries is the number of extra attempts for unanswered probes.
	Retries int

	// GracePeriod is how long in-flight probes may finish after Ctrl-C.
	GracePeriod time.Duration

	// HostFailureThreshold is the consecutive host-level error count that
	// fails a host.
	HostFailureThreshold int

	// SkipPing disables host discovery.
	SkipPing bool

	// ServiceDetect sends a protocol request to silent open ports.
	ServiceDetect bool

	// Proxy is a SOCKS5 URL for connect scans.
	Proxy string

	// DetectionThreshold is the minimum detector confidence in [0, 100].
	DetectionThreshold int

	// Adaptive is the timeout policy.
	Adaptive adaptive.Config

	// PortSets are custom named port sets from the configuration file.
	PortSets portspec.Sets

	// Format is the report format, one of Formats.
	Format string

	// Pretty indents JSON output.
	Pretty bool

	// ShowClosed includes closed and filtered rows in human and Markdown output.
	ShowClosed bool

	// ReportFile is the output path. Empty means stdout.
	ReportFile string

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the explicit configuration file path, if any.
	ConfigFilePath string

	// DBDir is the directory of the history database.
	DBDir string

	// SaveToDB stores every finalized result in the history database.
	SaveToDB bool

	// PubSubProject and PubSubTopic enable publishing results to Pub/Sub.
	PubSubProject string
	PubSubTopic   string

	// MaxTargets caps target expansion.
	MaxTargets int
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		Ports:                []string{DefaultPorts},
		ScanType:             DefaultScanType,
		Rate:                 DefaultRate,
		ParallelHosts:        DefaultParallelHosts,
		ParallelPorts:        DefaultParallelPorts,
		Retries:              DefaultRetries,
		GracePeriod:          DefaultGracePeriod,
		HostFailureThreshold: DefaultHostFailureThreshold,
		DetectionThreshold:   DefaultDetectionThreshold,
		Adaptive:             adaptive.DefaultConfig(),
		Format:               DefaultFormat,
		DBDir:                XDGDataDir(),
		SaveToDB:             true,
		MaxTargets:           DefaultMaxTargets,
	}
}

// MaxAttempts is the total number of attempts per port.
func (c *Config) MaxAttempts() int {
	return c.Retries + 1
}

// PubSubEnabled reports whether results are published.
func (c *Config) PubSubEnabled() bool {
	return c.PubSubProject != "" && c.PubSubTopic != ""
}

// XDGDataDir returns the XDG data directory for portscan.
// On Linux: ~/.local/share/portscan
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for portscan.
// On Linux: ~/.config/portscan
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for portscan.
// On Linux: ~/.cache/portscan
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks if the configuration is valid and returns the first
// violated rule.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	if len(c.Ports) == 0 {
		return ErrNoPorts
	}
	if c.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Rate < 0 {
		return ErrInvalidRate
	}
	if c.ParallelHosts <= 0 || c.ParallelPorts <= 0 {
		return ErrInvalidParallelism
	}
	if c.Retries < 0 {
		return ErrInvalidRetries
	}
	if c.GracePeriod < 0 {
		return ErrInvalidGracePeriod
	}
	if c.HostFailureThreshold <= 0 {
		return ErrInvalidHostFailureThreshold
	}
	if c.DetectionThreshold < 0 || c.DetectionThreshold > 100 {
		return ErrInvalidDetectionThreshold
	}
	if err := c.Adaptive.Validate(); err != nil {
		return err
	}
	if !slices.Contains(Formats, c.Format) {
		return ErrUnknownFormat
	}
	if (c.PubSubProject == "") != (c.PubSubTopic == "") {
		return ErrIncompletePubSub
	}
	if c.SaveToDB && c.DBDir == "" {
		return ErrNoDBDir
	}
	return nil
}
