package protocol

import (
	"strings"

	"github.com/nao1215/portscan/internal/model"
)

// sshDetector recognizes the SSH identification string.
// SSH servers send it immediately upon connection, for example
// "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1".
type sshDetector struct{ signature }

func newSSHDetector() *sshDetector {
	return &sshDetector{signature{
		name:  ProtocolSSH,
		ports: []uint16{22, 2222, 22222},
		max:   98,
	}}
}

// Detect scores the banner and analyzes it for exposure findings.
func (d *sshDetector) Detect(_ uint16, data []byte) Match {
	banner := strings.TrimSpace(firstLine(data))
	if !strings.HasPrefix(banner, "SSH-") {
		return noMatch
	}

	parts := strings.SplitN(banner, "-", 3)
	if len(parts) < 3 {
		return Match{Confidence: 70, Evidence: clip(banner)}
	}
	switch parts[1] {
	case "2.0", "1.99", "1.5", "1.3":
	default:
		return Match{Confidence: 70, Evidence: clip(banner)}
	}

	return Match{
		Confidence: 98,
		Evidence:   clip(banner),
		Findings:   analyzeSSHBanner(banner, parts[1], parts[2]),
	}
}

// analyzeSSHBanner reports the protocol version, the software version and
// any operating system the banner reveals.
func analyzeSSHBanner(banner, protoVersion, software string) []model.Finding {
	var findings []model.Finding

	if strings.HasPrefix(protoVersion, "1.") && protoVersion != "1.99" {
		findings = append(findings, model.Finding{
			Title:    "SSH Protocol Version 1 Detected",
			Severity: model.SeverityHigh,
			Value:    clip(banner),
		})
	}

	if os := sshOSHint(software); os != "" {
		findings = append(findings, model.Finding{
			Title:    "Operating System Detected from SSH Banner",
			Severity: model.SeverityLow,
			Value:    os,
		})
	}

	if outdatedOpenSSH(software) {
		findings = append(findings, model.Finding{
			Title:    "Outdated OpenSSH Version",
			Severity: model.SeverityMedium,
			Value:    clip(software),
		})
	}

	findings = append(findings, model.Finding{
		Title:    "SSH Version Banner Disclosed",
		Severity: model.SeverityInfo,
		Value:    clip(software),
	})
	return findings
}

func sshOSHint(software string) string {
	lower := strings.ToLower(software)
	switch {
	case strings.Contains(lower, "ubuntu"):
		return "Ubuntu Linux"
	case strings.Contains(lower, "debian"):
		return "Debian Linux"
	case strings.Contains(lower, "freebsd"):
		return "FreeBSD"
	case strings.Contains(lower, "openbsd"):
		return "OpenBSD"
	case strings.Contains(lower, "centos"):
		return "CentOS Linux"
	case strings.Contains(lower, "fedora"):
		return "Fedora Linux"
	case strings.Contains(lower, "raspbian"):
		return "Raspbian"
	case strings.Contains(lower, "dropbear"):
		return "Embedded Linux (Dropbear)"
	}
	return ""
}

// outdatedOpenSSH reports OpenSSH releases before 7.0.
func outdatedOpenSSH(software string) bool {
	lower := strings.ToLower(software)
	idx := strings.Index(lower, "openssh_")
	if idx == -1 {
		return false
	}
	version := lower[idx+len("openssh_"):]
	major, _, _ := strings.Cut(version, ".")
	return len(major) == 1 && major[0] >= '1' && major[0] <= '6'
}
