package protocol

import (
	"encoding/binary"

	"github.com/nao1215/portscan/internal/model"
	"golang.org/x/net/dns/dnsmessage"
)

// Probe is a request payload sent to provoke a reply from a service.
type Probe struct {
	// Name identifies the probe in logs.
	Name string

	// Payload holds the raw bytes to send.
	Payload []byte
}

// probeDB maps ports to the request that best suits them.
type probeDB map[uint16]Probe

func (db probeDB) add(p Probe, ports ...uint16) {
	for _, port := range ports {
		db[port] = p
	}
}

var (
	tcpProbes = newTCPProbes()
	udpProbes = newUDPProbes()

	// genericTCPProbe is sent to silent TCP services on unlisted ports.
	// Most line based servers answer an HTTP request with something.
	genericTCPProbe = Probe{Name: "http-get", Payload: []byte("GET / HTTP/1.0\r\n\r\n")}
)

// Request returns the probe for a port. The boolean is false when the port has
// no dedicated probe; for TCP the returned probe is then the generic request,
// for UDP it is an empty datagram.
func Request(transport model.Transport, port uint16) (Probe, bool) {
	switch transport {
	case model.TransportUDP:
		p, ok := udpProbes[port]
		if !ok {
			return Probe{Name: "empty"}, false
		}
		return p, true
	default:
		p, ok := tcpProbes[port]
		if !ok {
			return genericTCPProbe, false
		}
		return p, true
	}
}

// SpeaksFirst reports whether the service usually expected on port sends a
// banner before receiving anything, so a connect probe should listen first.
func SpeaksFirst(port uint16) bool {
	switch port {
	case 21, 22, 23, 25, 110, 143, 587, 2121, 2222, 2323, 3306, 3307, 5900, 5901, 5902, 5903:
		return true
	}
	return false
}

func newTCPProbes() probeDB {
	db := probeDB{}
	db.add(genericTCPProbe, 80, 81, 591, 3000, 5000, 8000, 8008, 8080, 8081, 8888, 9000)
	db.add(Probe{Name: "tls-client-hello", Payload: tlsClientHello()}, 443, 465, 636, 853, 989, 990, 993, 995, 5061, 8443)
	db.add(Probe{Name: "redis-ping", Payload: []byte("PING\r\n")}, 6379, 6380)
	db.add(Probe{Name: "memcached-version", Payload: []byte("version\r\n")}, 11211)
	db.add(Probe{Name: "mongodb-ismaster", Payload: mongoIsMaster()}, 27017, 27018, 27019)
	db.add(Probe{Name: "postgres-startup", Payload: postgresStartup()}, 5432, 5433)
	db.add(Probe{Name: "rdp-connection-request", Payload: rdpConnectionRequest}, 3389)
	if q := dnsQuery(); q != nil {
		framed := binary.BigEndian.AppendUint16(nil, uint16(len(q)))
		db.add(Probe{Name: "dns-tcp-query", Payload: append(framed, q...)}, 53)
	}
	return db
}

func newUDPProbes() probeDB {
	db := probeDB{}
	if q := dnsQuery(); q != nil {
		db.add(Probe{Name: "dns-query", Payload: q}, 53, 5353, 5355)
	}
	db.add(Probe{Name: "ntp-request", Payload: ntpRequest()}, 123)
	db.add(Probe{Name: "snmp-get-sysdescr", Payload: snmpGetSysDescr}, 161)
	db.add(Probe{Name: "memcached-version", Payload: []byte("\x00\x01\x00\x00\x00\x01\x00\x00version\r\n")}, 11211)
	db.add(Probe{Name: "netbios-nbstat", Payload: netbiosStatus}, 137)
	return db
}

// dnsQuery builds a recursive query for the root NS records.
func dnsQuery() []byte {
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: 0x5053, RecursionDesired: true})
	b.EnableCompression()
	if err := b.StartQuestions(); err != nil {
		return nil
	}
	if err := b.Question(dnsmessage.Question{
		Name:  dnsmessage.MustNewName("."),
		Type:  dnsmessage.TypeNS,
		Class: dnsmessage.ClassINET,
	}); err != nil {
		return nil
	}
	msg, err := b.Finish()
	if err != nil {
		return nil
	}
	return msg
}

// ntpRequest is a 48 byte client packet: LI 0, version 4, mode 3.
func ntpRequest() []byte {
	pkt := make([]byte, ntpPacketLen)
	pkt[0] = 0x23
	return pkt
}

// snmpGetSysDescr is an SNMPv2c GetRequest for sysDescr.0 with community "public".
var snmpGetSysDescr = []byte{
	0x30, 0x29,
	0x02, 0x01, 0x01,
	0x04, 0x06, 'p', 'u', 'b', 'l', 'i', 'c',
	0xa0, 0x1c,
	0x02, 0x04, 0x70, 0x73, 0x63, 0x6e,
	0x02, 0x01, 0x00,
	0x02, 0x01, 0x00,
	0x30, 0x0e,
	0x30, 0x0c,
	0x06, 0x08, 0x2b, 0x06, 0x01, 0x02, 0x01, 0x01, 0x01, 0x00,
	0x05, 0x00,
}

// netbiosStatus is a NetBIOS node status (NBSTAT) query for "*".
var netbiosStatus = []byte("\x80\xf0\x00\x10\x00\x01\x00\x00\x00\x00\x00\x00" +
	"\x20CKAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA\x00\x00\x21\x00\x01")

// rdpConnectionRequest is an X.224 Connection Request carrying an RDP
// negotiation request for TLS and CredSSP.
var rdpConnectionRequest = []byte{
	0x03, 0x00, 0x00, 0x13,
	0x0e, 0xe0, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x08, 0x00, 0x03, 0x00, 0x00, 0x00,
}

// mongoIsMaster builds an OP_QUERY for {isMaster: 1} against admin.$cmd.
func mongoIsMaster() []byte {
	doc := []byte{0, 0, 0, 0}
	doc = append(doc, 0x10)
	doc = append(doc, "isMaster\x00"...)
	doc = binary.LittleEndian.AppendUint32(doc, 1)
	doc = append(doc, 0x00)
	binary.LittleEndian.PutUint32(doc[0:4], uint32(len(doc)))

	body := binary.LittleEndian.AppendUint32(nil, 0) // flags
	body = append(body, "admin.$cmd\x00"...)
	body = binary.LittleEndian.AppendUint32(body, 0)          // numberToSkip
	body = binary.LittleEndian.AppendUint32(body, 0xffffffff) // numberToReturn -1
	body = append(body, doc...)

	const opQuery = 2004
	msg := binary.LittleEndian.AppendUint32(nil, uint32(mongoHeaderLen+len(body)))
	msg = binary.LittleEndian.AppendUint32(msg, 0x70736e31) // requestID
	msg = binary.LittleEndian.AppendUint32(msg, 0)          // responseTo
	msg = binary.LittleEndian.AppendUint32(msg, opQuery)
	return append(msg, body...)
}

// postgresStartup builds a protocol 3.0 StartupMessage.
func postgresStartup() []byte {
	params := []byte("user\x00portscan\x00database\x00postgres\x00\x00")
	msg := binary.BigEndian.AppendUint32(nil, uint32(8+len(params)))
	msg = binary.BigEndian.AppendUint32(msg, 196608)
	return append(msg, params...)
}

// tlsClientHello builds a TLS 1.2 ClientHello offering common ECDHE and RSA
// suites. Any reply, including an alert, identifies a TLS endpoint.
func tlsClientHello() []byte {
	suites := []uint16{0xc02f, 0xc02b, 0xc030, 0xc02c, 0x009c, 0x002f, 0x0035}

	var ext []byte
	// supported_groups: x25519, secp256r1, secp384r1
	ext = appendExtension(ext, 0x000a, []byte{0x00, 0x06, 0x00, 0x1d, 0x00, 0x17, 0x00, 0x18})
	// ec_point_formats: uncompressed
	ext = appendExtension(ext, 0x000b, []byte{0x01, 0x00})
	// signature_algorithms
	ext = appendExtension(ext, 0x000d, []byte{0x00, 0x08, 0x04, 0x03, 0x04, 0x01, 0x05, 0x01, 0x08, 0x04})

	hello := []byte{0x03, 0x03}
	for i := range 32 {
		hello = append(hello, byte(i*7+1))
	}
	hello = append(hello, 0x00) // session id
	hello = binary.BigEndian.AppendUint16(hello, uint16(2*len(suites)))
	for _, s := range suites {
		hello = binary.BigEndian.AppendUint16(hello, s)
	}
	hello = append(hello, 0x01, 0x00) // compression: null
	hello = binary.BigEndian.AppendUint16(hello, uint16(len(ext)))
	hello = append(hello, ext...)

	handshake := []byte{0x01, byte(len(hello) >> 16), byte(len(hello) >> 8), byte(len(hello))}
	handshake = append(handshake, hello...)

	record := []byte{tlsHandshake, 0x03, 0x01}
	record = binary.BigEndian.AppendUint16(record, uint16(len(handshake)))
	return append(record, handshake...)
}

func appendExtension(dst []byte, typ uint16, data []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, typ)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(data)))
	return append(dst, data...)
}
