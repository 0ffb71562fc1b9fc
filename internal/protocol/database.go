package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/nao1215/portscan/internal/model"
)

// reachableFinding is attached to every database that answers a probe.
func reachableFinding(product string) model.Finding {
	return model.Finding{
		Title:    product + " Server Reachable",
		Severity: model.SeverityMedium,
	}
}

// mysqlDetector recognizes the MySQL/MariaDB initial handshake packet.
// Layout: [length(3, LE)][sequence(1)][protocol version(1)][server version\0]...
type mysqlDetector struct{ signature }

func newMySQLDetector() *mysqlDetector {
	return &mysqlDetector{signature{
		name:  ProtocolMySQL,
		ports: []uint16{3306, 3307},
		max:   90,
	}}
}

// Detect scores a protocol 10 handshake or an error packet with sequence 0.
func (d *mysqlDetector) Detect(_ uint16, data []byte) Match {
	if len(data) < 7 {
		return noMatch
	}
	length := int(data[0]) | int(data[1])<<8 | int(data[2])<<16
	if length == 0 || length+4 > len(data) || data[3] != 0 {
		return noMatch
	}
	payload := data[4 : 4+length]

	switch payload[0] {
	case 10:
		end := bytes.IndexByte(payload[1:], 0)
		if end <= 0 {
			return noMatch
		}
		version := string(payload[1 : 1+end])
		if printableRatio([]byte(version)) < 1 {
			return noMatch
		}
		product := "MySQL"
		if strings.Contains(strings.ToLower(version), "mariadb") {
			product = "MariaDB"
		}
		return Match{
			Confidence: 90,
			Evidence:   clip(product + " " + version),
			Findings: []model.Finding{
				reachableFinding(product),
				{Title: product + " Version Disclosed", Severity: model.SeverityInfo, Value: clip(version)},
			},
		}
	case 0xff:
		if len(payload) < 3 {
			return noMatch
		}
		code := binary.LittleEndian.Uint16(payload[1:3])
		if code < 1000 || code > 5000 {
			return noMatch
		}
		msg := payload[3:]
		return Match{
			Confidence: 75,
			Evidence:   clip(fmt.Sprintf("error %d %s", code, msg)),
			Findings:   []model.Finding{reachableFinding("MySQL")},
		}
	}
	return noMatch
}

// PostgreSQL authentication request codes.
const (
	pgAuthOK        = 0
	pgAuthCleartext = 3
)

var pgAuthNames = map[uint32]string{
	0:  "ok",
	2:  "kerberos",
	3:  "cleartext",
	5:  "md5",
	6:  "scm",
	7:  "gss",
	8:  "gss-continue",
	9:  "sspi",
	10: "sasl",
	11: "sasl-continue",
	12: "sasl-final",
}

// postgresDetector recognizes the backend's answer to a startup message:
// an 'R' authentication request or an 'E' error response.
type postgresDetector struct{ signature }

func newPostgreSQLDetector() *postgresDetector {
	return &postgresDetector{signature{
		name:  ProtocolPostgreSQL,
		ports: []uint16{5432, 5433},
		max:   90,
	}}
}

// Detect validates the message type, the big-endian length and, for 'R',
// the authentication code.
func (d *postgresDetector) Detect(_ uint16, data []byte) Match {
	if len(data) < 6 {
		return noMatch
	}
	length := binary.BigEndian.Uint32(data[1:5])

	switch data[0] {
	case 'R':
		if len(data) < 9 || length < 8 || length > 2048 {
			return noMatch
		}
		code := binary.BigEndian.Uint32(data[5:9])
		name, ok := pgAuthNames[code]
		if !ok {
			return noMatch
		}
		findings := []model.Finding{reachableFinding("PostgreSQL")}
		switch code {
		case pgAuthOK:
			findings = append(findings, model.Finding{
				Title:    "PostgreSQL Trust Authentication",
				Severity: model.SeverityCritical,
				Value:    "authentication accepted without credentials",
			})
		case pgAuthCleartext:
			findings = append(findings, model.Finding{
				Title:    "PostgreSQL Cleartext Password Authentication",
				Severity: model.SeverityHigh,
			})
		}
		return Match{
			Confidence: 90,
			Evidence:   fmt.Sprintf("authentication request %s", name),
			Findings:   findings,
		}
	case 'E':
		if length < 8 || length > 8192 {
			return noMatch
		}
		switch data[5] {
		case 'S', 'V', 'C', 'M':
		default:
			return noMatch
		}
		return Match{
			Confidence: 80,
			Evidence:   clip("error response " + pgErrorMessage(data[5:])),
			Findings:   []model.Finding{reachableFinding("PostgreSQL")},
		}
	}
	return noMatch
}

// pgErrorMessage extracts the 'M' field from error response fields.
func pgErrorMessage(fields []byte) string {
	for len(fields) > 1 {
		typ := fields[0]
		end := bytes.IndexByte(fields[1:], 0)
		if end < 0 {
			return ""
		}
		if typ == 'M' {
			return string(fields[1 : 1+end])
		}
		fields = fields[2+end:]
	}
	return ""
}

// MongoDB wire protocol opcodes seen in replies.
const (
	mongoOpReply = 1
	mongoOpMsg   = 2013

	mongoHeaderLen = 16
	mongoMaxMsgLen = 48 * 1000 * 1000
)

// mongoDetector recognizes the MongoDB wire protocol header.
// Layout (little-endian int32s): messageLength, requestID, responseTo, opCode.
type mongoDetector struct{ signature }

func newMongoDBDetector() *mongoDetector {
	return &mongoDetector{signature{
		name:  ProtocolMongoDB,
		ports: []uint16{27017, 27018, 27019},
		max:   90,
	}}
}

// Detect scores a header whose length field matches the bytes received and
// whose opcode is a reply opcode. A length larger than what was read scores
// lower, since the read may have been cut short.
func (d *mongoDetector) Detect(_ uint16, data []byte) Match {
	if len(data) < mongoHeaderLen {
		return noMatch
	}
	msgLen := int64(int32(binary.LittleEndian.Uint32(data[0:4])))
	opCode := int32(binary.LittleEndian.Uint32(data[12:16]))

	var op string
	switch opCode {
	case mongoOpReply:
		op = "OP_REPLY"
	case mongoOpMsg:
		op = "OP_MSG"
	default:
		return noMatch
	}

	evidence := fmt.Sprintf("%s length=%d", op, msgLen)
	findings := []model.Finding{reachableFinding("MongoDB")}
	switch {
	case msgLen == int64(len(data)):
		return Match{Confidence: 90, Evidence: evidence, Findings: findings}
	case msgLen > int64(len(data)) && msgLen <= mongoMaxMsgLen:
		return Match{Confidence: 70, Evidence: evidence + " truncated", Findings: findings}
	}
	return noMatch
}

// redisDetector recognizes RESP replies to PING and INFO.
type redisDetector struct{ signature }

func newRedisDetector() *redisDetector {
	return &redisDetector{signature{
		name:  ProtocolRedis,
		ports: []uint16{6379, 6380},
		max:   95,
	}}
}

// Detect scores the reply line.
func (d *redisDetector) Detect(_ uint16, data []byte) Match {
	line := firstLine(data)
	switch {
	case line == "+PONG":
		return Match{
			Confidence: 95,
			Evidence:   "+PONG",
			Findings: []model.Finding{{
				Title:    "Redis Accepts Commands Without Authentication",
				Severity: model.SeverityCritical,
				Value:    "PING answered without AUTH",
			}},
		}
	case strings.HasPrefix(line, "-NOAUTH"):
		return Match{
			Confidence: 90,
			Evidence:   clip(line),
			Findings:   []model.Finding{reachableFinding("Redis")},
		}
	case strings.HasPrefix(line, "-DENIED") && strings.Contains(string(data), "Redis"):
		return Match{Confidence: 90, Evidence: clip(line)}
	case strings.HasPrefix(line, "-ERR"):
		return Match{Confidence: 70, Evidence: clip(line)}
	case strings.HasPrefix(line, "$") && bytes.Contains(data, []byte("redis_version:")):
		version := redisInfoField(data, "redis_version")
		return Match{
			Confidence: 95,
			Evidence:   clip("redis_version " + version),
			Findings: []model.Finding{
				{Title: "Redis Accepts Commands Without Authentication", Severity: model.SeverityCritical, Value: "INFO answered without AUTH"},
				{Title: "Redis Version Disclosed", Severity: model.SeverityInfo, Value: clip(version)},
			},
		}
	}
	return noMatch
}

func redisInfoField(data []byte, key string) string {
	for _, line := range strings.Split(string(data), "\r\n") {
		if v, ok := strings.CutPrefix(line, key+":"); ok {
			return v
		}
	}
	return ""
}

// memcachedUDPHeaderLen is the frame header prefixed to every UDP datagram.
const memcachedUDPHeaderLen = 8

// memcachedDetector recognizes replies to the text protocol "version" command.
type memcachedDetector struct{ signature }

func newMemcachedDetector() *memcachedDetector {
	return &memcachedDetector{signature{
		name:  ProtocolMemcached,
		ports: []uint16{11211},
		max:   90,
	}}
}

// Detect scores VERSION and STAT replies, over TCP or inside a UDP frame.
func (d *memcachedDetector) Detect(_ uint16, data []byte) Match {
	body := data
	if len(data) > memcachedUDPHeaderLen && data[4] == 0 && data[5] > 0 && bytes.HasPrefix(data[memcachedUDPHeaderLen:], []byte("VERSION ")) {
		body = data[memcachedUDPHeaderLen:]
	}
	line := firstLine(body)
	exposed := []model.Finding{{
		Title:    "Memcached Reachable Without Authentication",
		Severity: model.SeverityHigh,
	}}
	switch {
	case strings.HasPrefix(line, "VERSION ") && len(line) > len("VERSION "):
		return Match{Confidence: 90, Evidence: clip(line), Findings: exposed}
	case strings.HasPrefix(line, "STAT pid "):
		return Match{Confidence: 85, Evidence: clip(line), Findings: exposed}
	case line == "ERROR" || line == "CLIENT_ERROR bad command line format":
		return Match{Confidence: 50, Evidence: line}
	}
	return noMatch
}
