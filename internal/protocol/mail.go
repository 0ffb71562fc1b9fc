package protocol

import (
	"strings"

	"github.com/nao1215/portscan/internal/model"
)

// ftpDetector recognizes "220" greetings that mention FTP.
type ftpDetector struct{ signature }

func newFTPDetector() *ftpDetector {
	return &ftpDetector{signature{
		name:  ProtocolFTP,
		ports: []uint16{21, 2121},
		max:   90,
	}}
}

// Detect scores a 220 greeting. Without an FTP keyword the greeting could
// equally be SMTP, so it scores just above the default threshold and the
// port hint decides.
func (d *ftpDetector) Detect(_ uint16, data []byte) Match {
	banner := firstLine(data)
	if !isGreeting(banner, "220") {
		return noMatch
	}
	lower := strings.ToLower(string(data))
	if !containsAny(lower, "ftp", "filezilla") {
		return Match{Confidence: 55, Evidence: clip(banner)}
	}

	evidence := clip(banner)
	if server := ftpServerSoftware(lower); server != "" {
		evidence = server + ": " + evidence
	}
	return Match{
		Confidence: 90,
		Evidence:   clip(evidence),
		Findings: []model.Finding{{
			Title:    "FTP Banner Disclosed",
			Severity: model.SeverityInfo,
			Value:    clip(banner),
		}},
	}
}

func ftpServerSoftware(lower string) string {
	switch {
	case strings.Contains(lower, "vsftpd"):
		return "vsFTPd"
	case strings.Contains(lower, "proftpd"):
		return "ProFTPD"
	case strings.Contains(lower, "pure-ftpd"):
		return "Pure-FTPd"
	case strings.Contains(lower, "filezilla"):
		return "FileZilla Server"
	case strings.Contains(lower, "microsoft ftp"):
		return "Microsoft IIS FTP"
	}
	return ""
}

// smtpDetector recognizes SMTP greetings.
type smtpDetector struct{ signature }

func newSMTPDetector() *smtpDetector {
	return &smtpDetector{signature{
		name:  ProtocolSMTP,
		ports: []uint16{25, 465, 587, 2525},
		max:   90,
	}}
}

// Detect scores a 220 greeting, or a 554 refusal, mentioning a mail keyword.
func (d *smtpDetector) Detect(_ uint16, data []byte) Match {
	banner := firstLine(data)
	lower := strings.ToLower(string(data))
	mailish := containsAny(lower, "smtp", "esmtp", "postfix", "exim", "sendmail", "mail")

	switch {
	case isGreeting(banner, "220") && mailish:
		return Match{Confidence: 90, Evidence: clip(banner), Findings: smtpFindings(banner)}
	case isGreeting(banner, "220"):
		return Match{Confidence: 55, Evidence: clip(banner)}
	case isGreeting(banner, "554") && mailish:
		return Match{Confidence: 70, Evidence: clip(banner)}
	}
	return noMatch
}

// smtpFindings reports the hostname announced in the greeting. SMTP servers
// usually put their configured FQDN first, which may differ from the name the
// scan was started with.
func smtpFindings(banner string) []model.Finding {
	rest := strings.TrimPrefix(strings.TrimPrefix(banner, "220 "), "220-")
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil
	}
	hostname := fields[0]
	if !strings.Contains(hostname, ".") || strings.Contains(hostname, "@") {
		return nil
	}
	return []model.Finding{{
		Title:    "SMTP Banner Reveals Hostname",
		Severity: model.SeverityLow,
		Value:    clip(hostname),
	}}
}

// pop3Detector recognizes "+OK" greetings.
type pop3Detector struct{ signature }

func newPOP3Detector() *pop3Detector {
	return &pop3Detector{signature{
		name:  ProtocolPOP3,
		ports: []uint16{110, 1110},
		max:   90,
	}}
}

// Detect scores a +OK greeting, higher when it names POP3 or a known server.
func (d *pop3Detector) Detect(_ uint16, data []byte) Match {
	banner := firstLine(data)
	if !strings.HasPrefix(banner, "+OK") {
		return noMatch
	}
	if containsAny(strings.ToLower(banner), "pop", "dovecot", "cyrus", "qpopper") {
		return Match{Confidence: 90, Evidence: clip(banner)}
	}
	return Match{Confidence: 85, Evidence: clip(banner)}
}

// imapDetector recognizes untagged "* OK" and "* PREAUTH" greetings.
type imapDetector struct{ signature }

func newIMAPDetector() *imapDetector {
	return &imapDetector{signature{
		name:  ProtocolIMAP,
		ports: []uint16{143, 993},
		max:   95,
	}}
}

// Detect scores the untagged greeting.
func (d *imapDetector) Detect(_ uint16, data []byte) Match {
	banner := firstLine(data)
	switch {
	case strings.HasPrefix(banner, "* PREAUTH"):
		return Match{
			Confidence: 90,
			Evidence:   clip(banner),
			Findings: []model.Finding{{
				Title:    "IMAP Session Pre-Authenticated",
				Severity: model.SeverityHigh,
				Value:    clip(banner),
			}},
		}
	case strings.HasPrefix(banner, "* OK"):
		if strings.Contains(strings.ToUpper(banner), "IMAP") {
			return Match{Confidence: 95, Evidence: clip(banner)}
		}
		return Match{Confidence: 75, Evidence: clip(banner)}
	}
	return noMatch
}

// isGreeting reports whether line starts with a three digit reply code
// followed by a space, a dash or nothing.
func isGreeting(line, code string) bool {
	if !strings.HasPrefix(line, code) {
		return false
	}
	if len(line) == len(code) {
		return true
	}
	next := line[len(code)]
	return next == ' ' || next == '-'
}
