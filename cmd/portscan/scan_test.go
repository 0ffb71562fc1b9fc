package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/portscan/internal/config"
	"github.com/nao1215/portscan/internal/database"
	"github.com/nao1215/portscan/internal/model"
	"github.com/nao1215/portscan/internal/report"
	"github.com/spf13/cobra"
)

// emptyConfigFile writes an empty configuration file so tests do not pick up
// a .portscan from the working or home directory.
func emptyConfigFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.DefaultConfigFile)
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}
	return path
}

// parsedScanCmd returns a scan command with args parsed.
func parsedScanCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()

	cmd := NewScanCmd()
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	return cmd
}

// TestNewScanCmd tests the scan command creation.
func TestNewScanCmd(t *testing.T) {
	t.Parallel()

	cmd := NewScanCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "scan [targets...]" {
			t.Errorf("expected use 'scan [targets...]', got %q", cmd.Use)
		}
	})

	t.Run("has descriptions", func(t *testing.T) {
		t.Parallel()
		if cmd.Short == "" || cmd.Long == "" {
			t.Error("expected non-empty descriptions")
		}
	})

	t.Run("has flags with shorthands", func(t *testing.T) {
		t.Parallel()

		flagsWithShort := map[string]string{
			"ports":     "p",
			"scan-type": "s",
			"timeout":   "t",
			"rate":      "r",
			"config":    "c",
			"format":    "f",
			"output":    "o",
		}
		for name, short := range flagsWithShort {
			flag := cmd.Flags().Lookup(name)
			if flag == nil {
				t.Errorf("expected %s flag", name)
				continue
			}
			if flag.Shorthand != short {
				t.Errorf("%s: expected shorthand %q, got %q", name, short, flag.Shorthand)
			}
		}
	})

	t.Run("has long-only flags", func(t *testing.T) {
		t.Parallel()

		for _, name := range []string{
			"parallel-hosts", "parallel-ports", "retries", "grace", "skip-ping",
			"service-detect", "proxy", "show-closed", "pretty", "no-db",
			"pubsub-project", "pubsub-topic", "detection-threshold", "max-targets",
		} {
			if cmd.Flags().Lookup(name) == nil {
				t.Errorf("expected %s flag", name)
			}
		}
	})

	t.Run("defaults match the configuration", func(t *testing.T) {
		t.Parallel()

		if got := cmd.Flags().Lookup("scan-type").DefValue; got != "connect" {
			t.Errorf("expected default scan type connect, got %q", got)
		}
		if got := cmd.Flags().Lookup("format").DefValue; got != config.DefaultFormat {
			t.Errorf("expected default format %q, got %q", config.DefaultFormat, got)
		}
	})
}

// TestGetVerboseFlag tests verbose flag retrieval.
func TestGetVerboseFlag(t *testing.T) {
	t.Parallel()

	t.Run("returns false without the flag", func(t *testing.T) {
		t.Parallel()
		if getVerboseFlag(NewScanCmd()) {
			t.Error("expected false")
		}
	})

	t.Run("reads the root persistent flag", func(t *testing.T) {
		t.Parallel()

		root := NewRootCmd()
		if err := root.PersistentFlags().Set("verbose", "true"); err != nil {
			t.Fatalf("failed to set flag: %v", err)
		}
		scan, _, err := root.Find([]string{"scan"})
		if err != nil {
			t.Fatalf("failed to find scan: %v", err)
		}
		if !getVerboseFlag(scan) {
			t.Error("expected true from parent verbose flag")
		}
	})
}

// TestBuildConfig tests configuration building from flags and files.
func TestBuildConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		cmd := parsedScanCmd(t, "--config", emptyConfigFile(t))
		cfg, err := buildConfig(cmd, []string{"192.0.2.10"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(cfg.Targets) != 1 || cfg.Targets[0] != "192.0.2.10" {
			t.Errorf("unexpected targets: %v", cfg.Targets)
		}
		if cfg.ScanType != model.ScanConnect {
			t.Errorf("expected connect scan, got %s", cfg.ScanType)
		}
		if cfg.Rate != config.DefaultRate || cfg.Retries != config.DefaultRetries {
			t.Errorf("unexpected pacing: rate %d retries %d", cfg.Rate, cfg.Retries)
		}
		if !cfg.SaveToDB {
			t.Error("expected results to be saved by default")
		}
		if len(cfg.Ports) != 1 || cfg.Ports[0] != config.DefaultPorts {
			t.Errorf("unexpected ports: %v", cfg.Ports)
		}
	})

	t.Run("flags override defaults", func(t *testing.T) {
		t.Parallel()

		cmd := parsedScanCmd(t,
			"--config", emptyConfigFile(t),
			"-s", "SYN",
			"-p", "22,80-90",
			"-t", "750ms",
			"-r", "0",
			"--retries", "0",
			"--parallel-hosts", "3",
			"--grace", "5s",
			"-f", "JSON",
			"--pretty",
			"--no-db",
			"--skip-ping",
			"--service-detect",
			"--pubsub-project", "proj",
			"--pubsub-topic", "results",
		)
		cfg, err := buildConfig(cmd, []string{"192.0.2.0/30"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.ScanType != model.ScanSYN {
			t.Errorf("expected syn scan, got %s", cfg.ScanType)
		}
		if strings.Join(cfg.Ports, ",") != "22,80-90" {
			t.Errorf("unexpected ports: %v", cfg.Ports)
		}
		if cfg.Timeout != 750*time.Millisecond {
			t.Errorf("unexpected timeout: %v", cfg.Timeout)
		}
		if cfg.Rate != 0 || cfg.Retries != 0 || cfg.MaxAttempts() != 1 {
			t.Errorf("unexpected pacing: rate %d retries %d", cfg.Rate, cfg.Retries)
		}
		if cfg.ParallelHosts != 3 || cfg.GracePeriod != 5*time.Second {
			t.Errorf("unexpected concurrency: %d %v", cfg.ParallelHosts, cfg.GracePeriod)
		}
		if cfg.Format != "json" || !cfg.Pretty {
			t.Errorf("unexpected output: %q pretty=%v", cfg.Format, cfg.Pretty)
		}
		if cfg.SaveToDB || !cfg.SkipPing || !cfg.ServiceDetect {
			t.Error("expected boolean flags to be applied")
		}
		if !cfg.PubSubEnabled() {
			t.Error("expected pubsub to be enabled")
		}
	})

	t.Run("config file applies below flags", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), config.DefaultConfigFile)
		content := `scan:
  scanType: udp
  rate: 50
  retries: 4
portSets:
  lab: 8000-8002
output:
  format: csv
`
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		cmd := parsedScanCmd(t, "--config", path, "--rate", "75")
		cfg, err := buildConfig(cmd, []string{"192.0.2.10"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.ScanType != model.ScanUDP {
			t.Errorf("expected udp from the file, got %s", cfg.ScanType)
		}
		if cfg.Rate != 75 {
			t.Errorf("expected the flag to win, got rate %d", cfg.Rate)
		}
		if cfg.Retries != 4 || cfg.Format != "csv" {
			t.Errorf("expected file values, got retries %d format %q", cfg.Retries, cfg.Format)
		}
		if got := cfg.PortSets["lab"]; len(got) != 3 {
			t.Errorf("expected custom port set, got %v", got)
		}
	})

	t.Run("invalid scan type", func(t *testing.T) {
		t.Parallel()

		cmd := parsedScanCmd(t, "--config", emptyConfigFile(t), "-s", "ack")
		if _, err := buildConfig(cmd, []string{"192.0.2.10"}); err == nil {
			t.Error("expected error for unknown scan type")
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		t.Parallel()

		missing := filepath.Join(t.TempDir(), "absent.yaml")
		cmd := parsedScanCmd(t, "--config", missing)
		_, err := buildConfig(cmd, []string{"192.0.2.10"})
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("expected not found error, got %v", err)
		}
	})

	t.Run("invalid config file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), config.DefaultConfigFile)
		if err := os.WriteFile(path, []byte("invalid: yaml: content: ["), 0600); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		cmd := parsedScanCmd(t, "--config", path)
		if _, err := buildConfig(cmd, []string{"192.0.2.10"}); err == nil {
			t.Error("expected error for invalid config file")
		}
	})
}

// TestRunScanCmdValidation tests that invalid invocations fail before scanning.
func TestRunScanCmdValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no targets", nil, "no target"},
		{"unknown format", []string{"-f", "yaml", "192.0.2.10"}, "format"},
		{"negative rate", []string{"--rate=-1", "192.0.2.10"}, "rate"},
		{"half pubsub", []string{"--pubsub-project", "proj", "192.0.2.10"}, "pubsub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			cmd := NewScanCmd()
			cmd.SetOut(&stdout)
			cmd.SetErr(&stderr)
			cmd.SetArgs(append([]string{"--config", emptyConfigFile(t), "--no-db"}, tt.args...))

			err := cmd.Execute()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
			if stdout.Len() != 0 {
				t.Errorf("expected no report output, got %q", stdout.String())
			}
		})
	}
}

// TestRunScanErrors tests errors raised while preparing a scan.
func TestRunScanErrors(t *testing.T) {
	t.Parallel()

	newCfg := func() *config.Config {
		cfg := config.NewConfig()
		cfg.SaveToDB = false
		cfg.Targets = []string{"127.0.0.1"}
		return cfg
	}

	t.Run("invalid target expression", func(t *testing.T) {
		t.Parallel()

		cfg := newCfg()
		cfg.Targets = []string{"192.0.2.0/33"}
		err := runScan(context.Background(), cfg, discardLogger(), &bytes.Buffer{}, &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "invalid targets") {
			t.Errorf("expected invalid targets error, got %v", err)
		}
	})

	t.Run("unknown port set", func(t *testing.T) {
		t.Parallel()

		cfg := newCfg()
		cfg.Ports = []string{"nosuchset"}
		err := runScan(context.Background(), cfg, discardLogger(), &bytes.Buffer{}, &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "invalid ports") {
			t.Errorf("expected invalid ports error, got %v", err)
		}
	})

	t.Run("unsupported proxy", func(t *testing.T) {
		t.Parallel()

		cfg := newCfg()
		cfg.Ports = []string{"22"}
		cfg.Proxy = "ftp://127.0.0.1:21"
		err := runScan(context.Background(), cfg, discardLogger(), &bytes.Buffer{}, &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "proxy") {
			t.Errorf("expected proxy error, got %v", err)
		}
	})

	t.Run("raw scan without privilege", func(t *testing.T) {
		t.Parallel()
		if runtime.GOOS == "windows" || os.Geteuid() == 0 {
			t.Skip("needs an unprivileged unix user")
		}

		cfg := newCfg()
		cfg.Ports = []string{"22"}
		cfg.ScanType = model.ScanSYN
		var stdout bytes.Buffer
		err := runScan(context.Background(), cfg, discardLogger(), &stdout, &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "--scan-type connect") {
			t.Errorf("expected privilege hint, got %v", err)
		}
		if stdout.Len() != 0 {
			t.Error("expected no results before the privilege error")
		}
	})
}

// TestOpenOutput tests report destination handling.
func TestOpenOutput(t *testing.T) {
	t.Parallel()

	t.Run("empty path uses stdout", func(t *testing.T) {
		t.Parallel()

		var stdout bytes.Buffer
		out, closeOut, err := openOutput("", &stdout)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer closeOut()
		if out != &stdout {
			t.Error("expected stdout to be returned")
		}
	})

	t.Run("creates nested file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "reports", "nested", "scan.json")
		out, closeOut, err := openOutput(path, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := out.Write([]byte("{}")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		closeOut()

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("expected file to exist: %v", err)
		}
		if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
			t.Errorf("expected permissions 0600, got %o", info.Mode().Perm())
		}
	})
}

// TestNewReportWriter tests writer selection.
func TestNewReportWriter(t *testing.T) {
	t.Parallel()

	t.Run("stdout only", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.Format = report.FormatJSON
		w, err := newReportWriter(cfg, &bytes.Buffer{}, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := w.(*report.JSONWriter); !ok {
			t.Errorf("expected JSONWriter, got %T", w)
		}
	})

	t.Run("file report also prints to the terminal", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.Format = report.FormatCSV
		cfg.ReportFile = "scan.csv"
		var file, stdout bytes.Buffer
		w, err := newReportWriter(cfg, &file, &stdout)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := w.(*report.MultiWriter); !ok {
			t.Fatalf("expected MultiWriter, got %T", w)
		}

		if _, err := w.Write(testScanResult("192.0.2.10", time.Now(), true)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		if !strings.HasPrefix(file.String(), "run_id,") {
			t.Errorf("expected CSV in the file, got %q", file.String())
		}
		if !strings.Contains(stdout.String(), "192.0.2.10") {
			t.Errorf("expected human report on stdout, got %q", stdout.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.Format = "yaml"
		if _, err := newReportWriter(cfg, &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

// TestSaveScanResult tests saving results to the history database.
func TestSaveScanResult(t *testing.T) {
	t.Parallel()

	t.Run("nil database is a no-op", func(t *testing.T) {
		t.Parallel()

		err := saveScanResult(context.Background(), nil, testScanResult("192.0.2.10", time.Now(), true), discardLogger())
		if err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})

	t.Run("saves to database", func(t *testing.T) {
		t.Parallel()

		db, err := database.Open(t.TempDir(), database.DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		ctx := context.Background()
		if err := saveScanResult(ctx, db, testScanResult("192.0.2.10", time.Now(), true), discardLogger()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, err := db.GetLatestScanResult(ctx, "192.0.2.10")
		if err != nil || got == nil {
			t.Fatalf("expected saved result, got %v (%v)", got, err)
		}
	})
}
