package protocol

import (
	"encoding/binary"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nao1215/portscan/internal/model"
	"golang.org/x/net/dns/dnsmessage"
)

// mongoReply builds an OP_REPLY carrying the document {ok: 1.0}.
func mongoReply(t *testing.T) []byte {
	t.Helper()

	doc := []byte{0, 0, 0, 0, 0x01, 'o', 'k', 0}
	doc = binary.LittleEndian.AppendUint64(doc, math.Float64bits(1.0))
	doc = append(doc, 0x00)
	binary.LittleEndian.PutUint32(doc, uint32(len(doc)))

	body := binary.LittleEndian.AppendUint32(nil, 8) // responseFlags: AwaitCapable
	body = binary.LittleEndian.AppendUint64(body, 0) // cursorID
	body = binary.LittleEndian.AppendUint32(body, 0) // startingFrom
	body = binary.LittleEndian.AppendUint32(body, 1) // numberReturned
	body = append(body, doc...)

	msg := binary.LittleEndian.AppendUint32(nil, uint32(16+len(body)))
	msg = binary.LittleEndian.AppendUint32(msg, 42)
	msg = binary.LittleEndian.AppendUint32(msg, 0x70736e31)
	msg = binary.LittleEndian.AppendUint32(msg, mongoOpReply)
	return append(msg, body...)
}

func mysqlPacket(payload []byte) []byte {
	n := len(payload)
	return append([]byte{byte(n), byte(n >> 8), byte(n >> 16), 0}, payload...)
}

func mysqlGreeting() []byte {
	payload := []byte{10}
	payload = append(payload, "8.0.36\x00"...)
	payload = append(payload, []byte{0x0b, 0, 0, 0, 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 0, 0xff, 0xf7}...)
	return mysqlPacket(payload)
}

func postgresError() []byte {
	fields := []byte("SFATAL\x00VFATAL\x00C28000\x00Mno pg_hba.conf entry for host\x00\x00")
	msg := []byte{'E'}
	msg = binary.BigEndian.AppendUint32(msg, uint32(4+len(fields)))
	return append(msg, fields...)
}

func dnsResponse(t *testing.T) []byte {
	t.Helper()

	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: 0x5053, Response: true, RecursionDesired: true, RecursionAvailable: true})
	if err := b.StartQuestions(); err != nil {
		t.Fatal(err)
	}
	if err := b.Question(dnsmessage.Question{Name: dnsmessage.MustNewName("."), Type: dnsmessage.TypeNS, Class: dnsmessage.ClassINET}); err != nil {
		t.Fatal(err)
	}
	msg, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func ntpResponse() []byte {
	pkt := make([]byte, ntpPacketLen)
	pkt[0] = 0x24
	pkt[1] = 2
	return pkt
}

// unrelatedBytes share no structure with any supported protocol.
var unrelatedBytes = []byte{
	0x5a, 0x11, 0x1e, 0x03, 0x7b, 0xc4, 0x20, 0x88, 0x01, 0xfe,
	0x6d, 0x42, 0x99, 0x13, 0xa7, 0x5c, 0xe2, 0x08, 0x3f, 0xb1,
}

type classifyCase struct {
	name           string
	port           uint16
	data           []byte
	wantProtocol   string
	wantConfidence int
}

func classifyCases(t *testing.T) []classifyCase {
	t.Helper()

	return []classifyCase{
		{"mongodb reply on its port", 27017, mongoReply(t), ProtocolMongoDB, 90},
		{"unrelated bytes on mongodb port", 27017, unrelatedBytes, model.ProtocolUnknown, 0},
		{"ssh banner", 22, []byte("SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1\r\n"), ProtocolSSH, 98},
		{"ssh banner on unexpected port", 8080, []byte("SSH-2.0-OpenSSH_9.6\r\n"), ProtocolSSH, 98 - PortMismatchPenalty},
		{"http response", 80, []byte("HTTP/1.1 200 OK\r\nServer: nginx/1.25.3\r\n\r\n<html><title>Welcome</title></html>"), ProtocolHTTP, 95},
		{"tls alert", 443, []byte{0x15, 0x03, 0x03, 0x00, 0x02, 0x02, 0x28}, ProtocolTLS, 80},
		{"tls server hello", 443, []byte{0x16, 0x03, 0x03, 0x00, 0x31, 0x02, 0x00, 0x00, 0x2d, 0x03, 0x03, 0x11}, ProtocolTLS, 90},
		{"ftp greeting", 21, []byte("220 (vsFTPd 3.0.3)\r\n"), ProtocolFTP, 90},
		{"smtp greeting", 25, []byte("220 mail.example.com ESMTP Postfix\r\n"), ProtocolSMTP, 90},
		{"bare 220 on ftp port", 21, []byte("220 Welcome\r\n"), ProtocolFTP, 55},
		{"bare 220 on smtp port", 25, []byte("220 Welcome\r\n"), ProtocolSMTP, 55},
		{"bare 220 elsewhere", 9999, []byte("220 Welcome\r\n"), model.ProtocolUnknown, 0},
		{"pop3 greeting", 110, []byte("+OK Dovecot ready.\r\n"), ProtocolPOP3, 90},
		{"imap greeting", 143, []byte("* OK [CAPABILITY IMAP4rev1 STARTTLS] Dovecot ready.\r\n"), ProtocolIMAP, 95},
		{"mysql greeting", 3306, mysqlGreeting(), ProtocolMySQL, 90},
		{"mysql host blocked", 3306, mysqlPacket([]byte("\xff\x6a\x04Host '10.0.0.9' is not allowed to connect")), ProtocolMySQL, 75},
		{"postgres trust auth", 5432, []byte{'R', 0, 0, 0, 8, 0, 0, 0, 0}, ProtocolPostgreSQL, 90},
		{"postgres error", 5432, postgresError(), ProtocolPostgreSQL, 80},
		{"redis pong", 6379, []byte("+PONG\r\n"), ProtocolRedis, 95},
		{"redis noauth", 6379, []byte("-NOAUTH Authentication required.\r\n"), ProtocolRedis, 90},
		{"memcached version", 11211, []byte("VERSION 1.6.21\r\n"), ProtocolMemcached, 90},
		{"dns response", 53, dnsResponse(t), ProtocolDNS, 85},
		{"ntp response", 123, ntpResponse(), ProtocolNTP, 85},
		{"snmp message", 161, snmpGetSysDescr, ProtocolSNMP, 85},
		{"vnc version", 5900, []byte("RFB 003.008\n"), ProtocolVNC, 95},
		{"rdp connection confirm", 3389, []byte{0x03, 0x00, 0x00, 0x13, 0x0e, 0xd0, 0x00, 0x00, 0x12, 0x34, 0x00, 0x02, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}, ProtocolRDP, 90},
		{"telnet negotiation", 23, []byte{0xff, 0xfd, 0x18, 0xff, 0xfd, 0x20}, ProtocolTelnet, 85},
	}
}

// TestRegistryClassify tests classification of known responses.
func TestRegistryClassify(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, tt := range classifyCases(t) {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := r.Classify(tt.port, tt.data)
			if got.Protocol != tt.wantProtocol {
				t.Fatalf("expected protocol %q, got %q (evidence %q)", tt.wantProtocol, got.Protocol, got.Evidence)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("expected confidence %d, got %d", tt.wantConfidence, got.Confidence)
			}
			if got.Evidence == "" {
				t.Error("expected evidence to be set")
			}
		})
	}
}

// TestRegistryClassifyUnknownEvidence tests the feature tag of unknown verdicts.
func TestRegistryClassifyUnknownEvidence(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	t.Run("unrelated bytes", func(t *testing.T) {
		t.Parallel()

		got := r.Classify(27017, unrelatedBytes)
		if !got.IsUnknown() {
			t.Fatalf("expected unknown, got %q", got.Protocol)
		}
		if !strings.HasPrefix(got.Evidence, "len=20 printable=") || !strings.Contains(got.Evidence, "entropy=") {
			t.Errorf("unexpected evidence %q", got.Evidence)
		}
	})

	t.Run("empty response", func(t *testing.T) {
		t.Parallel()

		got := r.Classify(80, nil)
		if !got.IsUnknown() {
			t.Fatalf("expected unknown, got %q", got.Protocol)
		}
		if got.Confidence != 0 {
			t.Errorf("expected confidence 0, got %d", got.Confidence)
		}
	})
}

// TestRegistryClassifyDeterministic tests that identical input always yields
// an identical verdict, also under concurrent use.
func TestRegistryClassifyDeterministic(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	data := mongoReply(t)
	want := r.Classify(27017, data)

	var wg sync.WaitGroup
	var mismatches atomic.Int32
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				got := r.Classify(27017, data)
				if got.Protocol != want.Protocol || got.Confidence != want.Confidence || got.Evidence != want.Evidence {
					mismatches.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if n := mismatches.Load(); n != 0 {
		t.Errorf("expected identical verdicts, got %d mismatches", n)
	}
}

// bruteForce scores every detector and returns the winning protocol and score.
func bruteForce(detectors []Detector, port uint16, data []byte) (string, int) {
	bestName, bestScore := model.ProtocolUnknown, 0
	for _, d := range detectors {
		m := d.Detect(port, data)
		if m.Confidence <= 0 {
			continue
		}
		score := min(m.Confidence, d.MaxConfidence())
		if !slices.Contains(d.Ports(), port) {
			score -= PortMismatchPenalty
		}
		if score > bestScore {
			bestName, bestScore = d.Name(), score
		}
	}
	return bestName, bestScore
}

// TestRegistryClassifyMatchesExhaustiveEvaluation tests that skipping detectors
// by their ceiling never changes the verdict.
func TestRegistryClassifyMatchesExhaustiveEvaluation(t *testing.T) {
	t.Parallel()

	r := NewRegistry(WithThreshold(1))
	detectors := DefaultDetectors()

	var inputs [][]byte
	for _, tt := range classifyCases(t) {
		inputs = append(inputs, tt.data)
	}
	for _, p := range tcpProbes {
		inputs = append(inputs, p.Payload)
	}
	for _, p := range udpProbes {
		inputs = append(inputs, p.Payload)
	}

	ports := []uint16{21, 22, 25, 53, 80, 110, 123, 143, 161, 443, 3306, 3389, 5432, 5900, 6379, 11211, 27017, 9999}
	for _, data := range inputs {
		for _, port := range ports {
			wantName, wantScore := bruteForce(detectors, port, data)
			got := r.Classify(port, data)
			if wantScore == 0 {
				if !got.IsUnknown() {
					t.Errorf("port %d: expected unknown, got %q", port, got.Protocol)
				}
				continue
			}
			if got.Protocol != wantName || got.Confidence != wantScore {
				t.Errorf("port %d %q: expected %s/%d, got %s/%d", port, describe(data), wantName, wantScore, got.Protocol, got.Confidence)
			}
		}
	}
}

type fakeDetector struct {
	signature
	confidence int
	calls      *atomic.Int32
}

func newFakeDetector(name string, ports []uint16, maxConf, confidence int) *fakeDetector {
	return &fakeDetector{
		signature:  signature{name: name, ports: ports, max: maxConf},
		confidence: confidence,
		calls:      &atomic.Int32{},
	}
}

func (f *fakeDetector) Detect(uint16, []byte) Match {
	f.calls.Add(1)
	return Match{Confidence: f.confidence, Evidence: f.name}
}

// TestRegistryTieBreak tests that equal scores go to the detector declared first.
func TestRegistryTieBreak(t *testing.T) {
	t.Parallel()

	t.Run("both hinted", func(t *testing.T) {
		t.Parallel()

		a := newFakeDetector("a", []uint16{1}, 60, 60)
		b := newFakeDetector("b", []uint16{1}, 60, 60)
		got := NewRegistry(WithDetectors(a, b)).Classify(1, []byte("x"))
		if got.Protocol != "a" {
			t.Errorf("expected a, got %q", got.Protocol)
		}
	})

	t.Run("first declared is evaluated last", func(t *testing.T) {
		t.Parallel()

		a := newFakeDetector("a", []uint16{9}, 75, 75)
		b := newFakeDetector("b", []uint16{1}, 60, 60)
		got := NewRegistry(WithDetectors(a, b)).Classify(1, []byte("x"))
		if got.Protocol != "a" || got.Confidence != 60 {
			t.Errorf("expected a/60, got %s/%d", got.Protocol, got.Confidence)
		}
	})

	t.Run("hint outweighs order", func(t *testing.T) {
		t.Parallel()

		a := newFakeDetector("a", []uint16{9}, 60, 60)
		b := newFakeDetector("b", []uint16{1}, 60, 60)
		got := NewRegistry(WithDetectors(a, b)).Classify(1, []byte("x"))
		if got.Protocol != "b" {
			t.Errorf("expected b, got %q", got.Protocol)
		}
	})
}

// TestRegistrySkipsHopelessDetectors tests that detectors whose ceiling cannot
// beat the current best are not evaluated.
func TestRegistrySkipsHopelessDetectors(t *testing.T) {
	t.Parallel()

	strong := newFakeDetector("strong", []uint16{1}, 90, 90)
	weak := newFakeDetector("weak", nil, 70, 70)

	got := NewRegistry(WithDetectors(weak, strong)).Classify(1, []byte("x"))
	if got.Protocol != "strong" {
		t.Fatalf("expected strong, got %q", got.Protocol)
	}
	if n := weak.calls.Load(); n != 0 {
		t.Errorf("expected weak detector to be skipped, called %d times", n)
	}
}

// portCountingDetector counts how often its port hints are read.
type portCountingDetector struct {
	*fakeDetector
	portCalls *atomic.Int32
}

func (c portCountingDetector) Ports() []uint16 {
	c.portCalls.Add(1)
	return c.fakeDetector.Ports()
}

// TestRegistryReadsHintsOnce tests that port hints are read when the registry
// is built and not on every classification.
func TestRegistryReadsHintsOnce(t *testing.T) {
	t.Parallel()

	a := portCountingDetector{newFakeDetector("a", []uint16{9}, 80, 70), &atomic.Int32{}}
	b := portCountingDetector{newFakeDetector("b", []uint16{1}, 80, 70), &atomic.Int32{}}
	r := NewRegistry(WithDetectors(a, b))

	for range 10 {
		if got := r.Classify(1, []byte("x")); got.Protocol != "b" || got.Confidence != 70 {
			t.Fatalf("expected b/70 on hinted port, got %s/%d", got.Protocol, got.Confidence)
		}
		if got := r.Classify(9, []byte("x")); got.Protocol != "a" || got.Confidence != 70 {
			t.Fatalf("expected a/70 on hinted port, got %s/%d", got.Protocol, got.Confidence)
		}
		if got := r.Classify(2, []byte("x")); got.Protocol != "a" || got.Confidence != 70-PortMismatchPenalty {
			t.Fatalf("expected a/%d off hint, got %s/%d", 70-PortMismatchPenalty, got.Protocol, got.Confidence)
		}
	}
	for _, d := range []portCountingDetector{a, b} {
		if n := d.portCalls.Load(); n != 1 {
			t.Errorf("%s: expected port hints read once, got %d", d.Name(), n)
		}
	}
}

// TestRegistryThreshold tests that low scores are reported as unknown.
func TestRegistryThreshold(t *testing.T) {
	t.Parallel()

	data := []byte("HTTP/1.1 404 Not Found\r\n\r\n")

	tests := []struct {
		name      string
		threshold int
		wantHTTP  bool
	}{
		{"default threshold", DefaultThreshold, true},
		{"at the score", 95, true},
		{"above the score", 96, false},
		{"clamped above 100", 500, false},
		{"clamped below 0", -10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := NewRegistry(WithThreshold(tt.threshold)).Classify(80, data)
			if (got.Protocol == ProtocolHTTP) != tt.wantHTTP {
				t.Errorf("threshold %d: got %q", tt.threshold, got.Protocol)
			}
		})
	}
}

// TestFindings tests exposure findings attached by detectors.
func TestFindings(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	hasFinding := func(d model.DetectionResult, title string, sev model.Severity) bool {
		for _, f := range d.Findings {
			if f.Title == title && f.Severity == sev {
				return true
			}
		}
		return false
	}

	tests := []struct {
		name     string
		port     uint16
		data     []byte
		title    string
		severity model.Severity
	}{
		{"redis without auth", 6379, []byte("+PONG\r\n"), "Redis Accepts Commands Without Authentication", model.SeverityCritical},
		{"ssh protocol 1", 22, []byte("SSH-1.5-OpenSSH_3.4\r\n"), "SSH Protocol Version 1 Detected", model.SeverityHigh},
		{"outdated openssh", 22, []byte("SSH-2.0-OpenSSH_5.3\r\n"), "Outdated OpenSSH Version", model.SeverityMedium},
		{"ssh os hint", 22, []byte("SSH-2.0-OpenSSH_8.4p1 Debian-5\r\n"), "Operating System Detected from SSH Banner", model.SeverityLow},
		{"postgres trust", 5432, []byte{'R', 0, 0, 0, 8, 0, 0, 0, 0}, "PostgreSQL Trust Authentication", model.SeverityCritical},
		{"mongodb reachable", 27017, mongoReply(t), "MongoDB Server Reachable", model.SeverityMedium},
		{"mysql version", 3306, mysqlGreeting(), "MySQL Version Disclosed", model.SeverityInfo},
		{"http server header", 80, []byte("HTTP/1.0 200 OK\r\nServer: Apache/2.4.58\r\n\r\n"), "HTTP Server Header Disclosed", model.SeverityInfo},
		{"snmp public community", 161, snmpGetSysDescr, "SNMP Default Community Accepted", model.SeverityHigh},
		{"telnet", 23, []byte{0xff, 0xfb, 0x01}, "Cleartext Telnet Service", model.SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := r.Classify(tt.port, tt.data)
			if !hasFinding(got, tt.title, tt.severity) {
				t.Errorf("expected finding %q (%s), got %+v", tt.title, tt.severity, got.Findings)
			}
		})
	}
}

// TestHTTPTitleEvidence tests that the page title is part of the evidence.
func TestHTTPTitleEvidence(t *testing.T) {
	t.Parallel()

	data := []byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<!doctype html><html><head><title> Router Login </title></head></html>")
	got := NewRegistry().Classify(80, data)
	if !strings.Contains(got.Evidence, `title="Router Login"`) {
		t.Errorf("expected title in evidence, got %q", got.Evidence)
	}
}

// TestRequest tests the service request table.
func TestRequest(t *testing.T) {
	t.Parallel()

	t.Run("dedicated tcp probe", func(t *testing.T) {
		t.Parallel()

		p, ok := Request(model.TransportTCP, 6379)
		if !ok || string(p.Payload) != "PING\r\n" {
			t.Errorf("expected redis ping, got %q (ok=%v)", p.Payload, ok)
		}
	})

	t.Run("generic tcp probe", func(t *testing.T) {
		t.Parallel()

		p, ok := Request(model.TransportTCP, 40000)
		if ok {
			t.Error("expected no dedicated probe")
		}
		if !strings.HasPrefix(string(p.Payload), "GET / HTTP/1.0") {
			t.Errorf("expected generic http request, got %q", p.Payload)
		}
	})

	t.Run("empty udp datagram", func(t *testing.T) {
		t.Parallel()

		p, ok := Request(model.TransportUDP, 40000)
		if ok || len(p.Payload) != 0 {
			t.Errorf("expected empty payload, got %q (ok=%v)", p.Payload, ok)
		}
	})

	t.Run("dns query parses", func(t *testing.T) {
		t.Parallel()

		p, ok := Request(model.TransportUDP, 53)
		if !ok {
			t.Fatal("expected dns probe")
		}
		var parser dnsmessage.Parser
		h, err := parser.Start(p.Payload)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.Response || !h.RecursionDesired {
			t.Errorf("unexpected header %+v", h)
		}
		q, err := parser.Question()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if q.Type != dnsmessage.TypeNS {
			t.Errorf("expected NS question, got %v", q.Type)
		}
	})

	t.Run("mongodb length field", func(t *testing.T) {
		t.Parallel()

		p, _ := Request(model.TransportTCP, 27017)
		if got := binary.LittleEndian.Uint32(p.Payload[0:4]); int(got) != len(p.Payload) {
			t.Errorf("expected length %d, got %d", len(p.Payload), got)
		}
		if got := binary.LittleEndian.Uint32(p.Payload[12:16]); got != 2004 {
			t.Errorf("expected OP_QUERY, got %d", got)
		}
	})

	t.Run("postgres length field", func(t *testing.T) {
		t.Parallel()

		p, _ := Request(model.TransportTCP, 5432)
		if got := binary.BigEndian.Uint32(p.Payload[0:4]); int(got) != len(p.Payload) {
			t.Errorf("expected length %d, got %d", len(p.Payload), got)
		}
	})

	t.Run("client hello is a tls record", func(t *testing.T) {
		t.Parallel()

		p, _ := Request(model.TransportTCP, 443)
		if got := binary.BigEndian.Uint16(p.Payload[3:5]); int(got) != len(p.Payload)-5 {
			t.Errorf("expected record length %d, got %d", len(p.Payload)-5, got)
		}
		if got := NewRegistry().Classify(443, p.Payload); got.Protocol != ProtocolTLS {
			t.Errorf("expected tls, got %q", got.Protocol)
		}
	})

	t.Run("snmp request is well formed", func(t *testing.T) {
		t.Parallel()

		p, _ := Request(model.TransportUDP, 161)
		value, rest, ok := berElement(p.Payload)
		if !ok || len(rest) != 0 || len(value) != len(p.Payload)-2 {
			t.Errorf("malformed BER message: ok=%v rest=%d", ok, len(rest))
		}
	})
}

// TestSpeaksFirst tests the banner-first port table.
func TestSpeaksFirst(t *testing.T) {
	t.Parallel()

	tests := []struct {
		port uint16
		want bool
	}{
		{22, true},
		{21, true},
		{3306, true},
		{80, false},
		{6379, false},
	}
	for _, tt := range tests {
		if got := SpeaksFirst(tt.port); got != tt.want {
			t.Errorf("SpeaksFirst(%d) = %v, want %v", tt.port, got, tt.want)
		}
	}
}
