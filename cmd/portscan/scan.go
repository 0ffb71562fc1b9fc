package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nao1215/portscan/internal/adaptive"
	"github.com/nao1215/portscan/internal/aggregate"
	"github.com/nao1215/portscan/internal/config"
	"github.com/nao1215/portscan/internal/database"
	seclog "github.com/nao1215/portscan/internal/log"
	"github.com/nao1215/portscan/internal/model"
	"github.com/nao1215/portscan/internal/portspec"
	"github.com/nao1215/portscan/internal/probe"
	"github.com/nao1215/portscan/internal/protocol"
	"github.com/nao1215/portscan/internal/ratelimit"
	"github.com/nao1215/portscan/internal/report"
	"github.com/nao1215/portscan/internal/scheduler"
	"github.com/nao1215/portscan/internal/sink"
	"github.com/nao1215/portscan/internal/target"
	"github.com/spf13/cobra"
)

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [targets...]",
		Short: "Scan hosts for open ports and identify their services",
		Long: `Scan probes every requested port on every target and reports one
terminal state per port: open, closed, filtered, open|filtered or error.

Targets may be IP addresses, CIDR prefixes, address ranges or hostnames.
Ports may be numbers, ranges or named sets (common, top100, web, db,
mail, remote, udp, all) and custom sets from the configuration file.

The syn, fin, xmas and null scans need raw sockets (root or CAP_NET_RAW).
The connect and udp scans need no privileges.

Examples:
  # Scan the common ports of one host
  portscan scan 192.0.2.10

  # SYN scan a subnet with service detection
  sudo portscan scan -s syn --service-detect 192.0.2.0/24

  # Scan a range of ports and write a JSON report
  portscan scan -p 1-1024,8080 -f json -o report.json example.com

  # Fixed timeout instead of adaptive timeouts
  portscan scan -t 500ms 192.0.2.10

  # Connect scan through a SOCKS5 proxy
  portscan scan --proxy socks5://127.0.0.1:1080 -p web 198.51.100.7

Configuration file (.portscan) example:
  scan:
    scanType: syn
    rate: 1000
  portSets:
    lab: 8000-8010,9090`,
		Args: cobra.ArbitraryArgs,
		RunE: runScanCmd,
	}

	// Target and probe flags
	cmd.Flags().StringSliceP("ports", "p", []string{config.DefaultPorts},
		"Ports to scan: numbers, ranges and set names, comma separated")
	cmd.Flags().StringP("scan-type", "s", config.DefaultScanType.String(),
		"Scan type: connect, syn, fin, xmas, null or udp")
	cmd.Flags().DurationP("timeout", "t", 0,
		"Fixed probe timeout; disables adaptive timeouts")
	cmd.Flags().Bool("service-detect", false,
		"Send protocol requests to open ports to identify the service")
	cmd.Flags().String("proxy", "",
		"SOCKS5 proxy URL for connect scans (e.g., socks5://127.0.0.1:1080)")
	cmd.Flags().Bool("skip-ping", false,
		"Treat every host as up and skip host discovery")
	cmd.Flags().Int("detection-threshold", config.DefaultDetectionThreshold,
		"Minimum detector confidence (0-100)")
	cmd.Flags().Int("max-targets", config.DefaultMaxTargets,
		"Maximum number of hosts a target list may expand to")

	// Pacing flags
	cmd.Flags().IntP("rate", "r", config.DefaultRate,
		"Global probe rate in packets per second (0 = unlimited)")
	cmd.Flags().Int("parallel-hosts", config.DefaultParallelHosts,
		"Number of hosts scanned at once")
	cmd.Flags().Int("parallel-ports", config.DefaultParallelPorts,
		"Number of probes in flight per host")
	cmd.Flags().Int("retries", config.DefaultRetries,
		"Extra attempts for unanswered probes")
	cmd.Flags().Duration("grace", config.DefaultGracePeriod,
		"Time in-flight probes may finish after an interrupt")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .portscan in current or home directory)")

	// Report flags
	cmd.Flags().StringP("format", "f", config.DefaultFormat,
		"Report format: "+strings.Join(config.Formats, ", "))
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().Bool("pretty", false,
		"Indent JSON and XML output")
	cmd.Flags().Bool("show-closed", false,
		"Include closed and filtered ports in human and Markdown reports")

	// Sinks
	cmd.Flags().Bool("no-db", false,
		"Do not save results to the history database")
	cmd.Flags().String("pubsub-project", "",
		"Google Cloud project of the Pub/Sub results topic")
	cmd.Flags().String("pubsub-topic", "",
		"Pub/Sub topic that receives one message per finished host")

	return cmd
}

// runScanCmd executes the scan command.
func runScanCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := seclog.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runScan(ctx, cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from defaults, the configuration file and the
// flags the user actually set, in that order.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicit path must exist; a missing default file is fine.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	if configPath != "" {
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		if err := file.Apply(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
	} else if cfg.ConfigFilePath != "" {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}

	cfg.Targets = args
	return cfg, nil
}

// applyFlags copies every flag the user set onto cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := flags.Changed

	var err error
	if changed("ports") {
		if cfg.Ports, err = flags.GetStringSlice("ports"); err != nil {
			return err
		}
	}
	if changed("scan-type") {
		name, err := flags.GetString("scan-type")
		if err != nil {
			return err
		}
		if cfg.ScanType, err = model.ParseScanType(name); err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
	}
	if changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return err
		}
	}
	if changed("service-detect") {
		if cfg.ServiceDetect, err = flags.GetBool("service-detect"); err != nil {
			return err
		}
	}
	if changed("proxy") {
		if cfg.Proxy, err = flags.GetString("proxy"); err != nil {
			return err
		}
	}
	if changed("skip-ping") {
		if cfg.SkipPing, err = flags.GetBool("skip-ping"); err != nil {
			return err
		}
	}
	if changed("detection-threshold") {
		if cfg.DetectionThreshold, err = flags.GetInt("detection-threshold"); err != nil {
			return err
		}
	}
	if changed("max-targets") {
		if cfg.MaxTargets, err = flags.GetInt("max-targets"); err != nil {
			return err
		}
	}
	if changed("rate") {
		if cfg.Rate, err = flags.GetInt("rate"); err != nil {
			return err
		}
	}
	if changed("parallel-hosts") {
		if cfg.ParallelHosts, err = flags.GetInt("parallel-hosts"); err != nil {
			return err
		}
	}
	if changed("parallel-ports") {
		if cfg.ParallelPorts, err = flags.GetInt("parallel-ports"); err != nil {
			return err
		}
	}
	if changed("retries") {
		if cfg.Retries, err = flags.GetInt("retries"); err != nil {
			return err
		}
	}
	if changed("grace") {
		if cfg.GracePeriod, err = flags.GetDuration("grace"); err != nil {
			return err
		}
	}
	if changed("format") {
		format, err := flags.GetString("format")
		if err != nil {
			return err
		}
		cfg.Format = strings.ToLower(format)
	}
	if changed("output") {
		if cfg.ReportFile, err = flags.GetString("output"); err != nil {
			return err
		}
	}
	if changed("pretty") {
		if cfg.Pretty, err = flags.GetBool("pretty"); err != nil {
			return err
		}
	}
	if changed("show-closed") {
		if cfg.ShowClosed, err = flags.GetBool("show-closed"); err != nil {
			return err
		}
	}
	if changed("no-db") {
		noDB, err := flags.GetBool("no-db")
		if err != nil {
			return err
		}
		cfg.SaveToDB = !noDB
	}
	if changed("pubsub-project") {
		if cfg.PubSubProject, err = flags.GetString("pubsub-project"); err != nil {
			return err
		}
	}
	if changed("pubsub-topic") {
		if cfg.PubSubTopic, err = flags.GetString("pubsub-topic"); err != nil {
			return err
		}
	}
	return nil
}

// runScan executes the scan. Reports go to stdout unless cfg.ReportFile is
// set; progress lines go to stderr.
func runScan(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) error {
	hosts, err := target.New(
		target.WithMaxHosts(cfg.MaxTargets),
		target.WithLogger(logger),
	).Expand(ctx, cfg.Targets)
	if err != nil {
		return fmt.Errorf("invalid targets: %w", err)
	}

	ports, err := portspec.ParseAll(cfg.Ports, cfg.PortSets)
	if err != nil {
		return fmt.Errorf("invalid ports: %w", err)
	}

	// The scheduler and the engine draw from one bucket so every packet a
	// probe writes counts against the rate.
	limiter := ratelimit.New(cfg.Rate)

	engine, err := newEngine(cfg, limiter, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	// Privilege problems surface once, before any result.
	if err := engine.Prepare(cfg.ScanType); err != nil {
		if errors.Is(err, probe.ErrInsufficientPrivilege) {
			return fmt.Errorf("%s scan: %w", cfg.ScanType, err)
		}
		return fmt.Errorf("failed to prepare %s scan: %w", cfg.ScanType, err)
	}

	out, closeOut, err := openOutput(cfg.ReportFile, stdout)
	if err != nil {
		return err
	}
	defer closeOut()

	writer, err := newReportWriter(cfg, out, stdout)
	if err != nil {
		return err
	}

	var db *database.ScanDB
	if cfg.SaveToDB {
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "dir", cfg.DBDir)
	}

	var publisher *sink.Publisher
	if cfg.PubSubEnabled() {
		publisher, err = sink.New(ctx, cfg.PubSubProject, cfg.PubSubTopic,
			[]sink.Option{sink.WithLogger(logger)})
		if err != nil {
			return fmt.Errorf("failed to open result sink: %w", err)
		}
		defer publisher.Close()
	}

	agg := aggregate.New(
		aggregate.WithRunID(model.NewRunID()),
		aggregate.WithServiceNamer(portspec.ServiceName),
		aggregate.WithLogger(logger),
	)

	schedOpts := []scheduler.Option{
		scheduler.WithMaxHosts(cfg.ParallelHosts),
		scheduler.WithMaxPortsPerHost(cfg.ParallelPorts),
		scheduler.WithRateLimiter(limiter),
		scheduler.WithMaxAttempts(cfg.MaxAttempts()),
		scheduler.WithGracePeriod(cfg.GracePeriod),
		scheduler.WithHostFailureThreshold(cfg.HostFailureThreshold),
		scheduler.WithLogger(logger),
	}
	if !cfg.SkipPing {
		schedOpts = append(schedOpts, scheduler.WithDiscovery(engine))
	}
	sched := scheduler.New(engine, agg, schedOpts...)

	targets, err := target.Stream(ctx, hosts, ports, cfg.ScanType)
	if err != nil {
		return err
	}

	logger.Info("starting scan",
		"run", agg.RunID(),
		"hosts", len(hosts),
		"ports", len(ports),
		"scanType", cfg.ScanType.String(),
		"rate", cfg.Rate,
		"saveToDB", cfg.SaveToDB,
	)
	fmt.Fprintf(stderr, "Scanning %d host(s), %d port(s) each (%s scan)...\n",
		len(hosts), len(ports), cfg.ScanType)

	// Sinks keep working after an interrupt so cancelled hosts are recorded.
	sinkCtx := context.WithoutCancel(ctx)
	startTime := time.Now()

	var results []*model.ScanResult
	for result := range sched.Run(ctx, targets) {
		r := result
		results = append(results, &r)

		if _, err := writer.Write(&r); err != nil {
			logger.Error("report failed", "host", r.Host.String(), "error", err)
		}
		if err := saveScanResult(sinkCtx, db, &r, logger); err != nil {
			logger.Error("failed to save scan result", "host", r.Host.String(), "error", err)
		}
		if publisher != nil {
			if err := publisher.Publish(sinkCtx, &r); err != nil {
				logger.Error("failed to publish scan result", "host", r.Host.String(), "error", err)
			}
		}
	}

	if _, err := writer.WriteSummary(results); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	elapsed := time.Since(startTime)
	if ctx.Err() != nil {
		fmt.Fprintf(stderr, "Scan interrupted after %s\n", elapsed.Round(time.Millisecond))
	} else {
		fmt.Fprintf(stderr, "Scan completed in %s\n", elapsed.Round(time.Millisecond))
	}
	if cfg.ReportFile != "" {
		fmt.Fprintf(stderr, "Report written to %s\n", cfg.ReportFile)
	}
	return nil
}

// newEngine builds the probe engine with its timeout controller and
// detector registry. Packets sent beyond an attempt's first take tokens
// from limiter.
func newEngine(cfg *config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) (*probe.Engine, error) {
	controller, err := adaptive.New(cfg.Adaptive, adaptive.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	registry := protocol.NewRegistry(protocol.WithThreshold(cfg.DetectionThreshold))

	opts := []probe.Option{
		probe.WithTimeoutOverride(cfg.Timeout),
		probe.WithServiceProbe(cfg.ServiceDetect),
		probe.WithRateLimiter(limiter),
		probe.WithLogger(logger),
	}
	if cfg.Proxy != "" {
		if cfg.ScanType != model.ScanConnect {
			logger.Warn("proxy only applies to connect scans", "scanType", cfg.ScanType.String())
		}
		dialer, err := probe.NewProxyDialer(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy: %w", err)
		}
		opts = append(opts, probe.WithDialer(dialer))
	}
	return probe.New(controller, registry, opts...), nil
}

// newReportWriter creates the writer for out. When the report goes to a
// file, the terminal also gets the human report.
func newReportWriter(cfg *config.Config, out, stdout io.Writer) (report.Writer, error) {
	opts := []report.Option{
		report.WithPretty(cfg.Pretty),
		report.WithShowClosed(cfg.ShowClosed),
		report.WithVersion(getVersion()),
	}

	primary, err := report.New(cfg.Format, out, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.ReportFile == "" {
		return primary, nil
	}
	return report.NewMultiWriter(primary, report.NewHumanWriter(stdout, opts...)), nil
}

// openOutput opens the report destination. The returned close function is
// always safe to call.
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports reveal network exposure, so only the owner may read them.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // User-provided output path
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// saveScanResult saves the result to the database if enabled.
// If db is nil, this function is a no-op.
func saveScanResult(ctx context.Context, db *database.ScanDB, result *model.ScanResult, logger *slog.Logger) error {
	if db == nil {
		return nil
	}

	id, err := db.SaveScanResult(ctx, result)
	if err != nil {
		return fmt.Errorf("failed to save scan result: %w", err)
	}

	logger.Info("scan result saved to database", "host", result.Host.String(), "id", id)
	return nil
}
