package probe

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/nao1215/portscan/internal/model"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	protocolICMP = 1
	protocolTCP  = 6

	probeWindow = 1024
	probeMSS    = 1460
)

// tcpFlags is the flag combination a scan type sends.
type tcpFlags struct {
	syn, fin, psh, urg, rst, ack bool
}

// flagsFor returns the probe flags of a raw scan type.
func flagsFor(scanType model.ScanType) tcpFlags {
	switch scanType {
	case model.ScanSYN:
		return tcpFlags{syn: true}
	case model.ScanFIN:
		return tcpFlags{fin: true}
	case model.ScanXMAS:
		return tcpFlags{fin: true, psh: true, urg: true}
	default:
		return tcpFlags{}
	}
}

// expectedAck returns the acknowledgement number a reply to a segment with
// sequence number seq carries. SYN and FIN each occupy one sequence number.
func expectedAck(seq uint32, f tcpFlags) uint32 {
	if f.syn || f.fin {
		return seq + 1
	}
	return seq
}

// buildSegment serializes a TCP header with a checksum over the IPv4 pseudo
// header. The kernel adds the IP header on an ip4:tcp socket.
func buildSegment(src, dst netip.Addr, srcPort, dstPort uint16, seq, ack uint32, f tcpFlags) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		Ack:     ack,
		SYN:     f.syn,
		FIN:     f.fin,
		PSH:     f.psh,
		URG:     f.urg,
		RST:     f.rst,
		ACK:     f.ack,
		Window:  probeWindow,
	}
	if f.syn {
		mss := make([]byte, 2)
		binary.BigEndian.PutUint16(mss, probeMSS)
		tcp.Options = []layers.TCPOption{{
			OptionType:   layers.TCPOptionKindMSS,
			OptionLength: 4,
			OptionData:   mss,
		}}
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, tcp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// segmentInfo is the part of a received TCP segment the correlator needs.
type segmentInfo struct {
	srcPort, dstPort uint16
	seq, ack         uint32
	syn, ackFlag     bool
	rst              bool
}

// parseSegment decodes a TCP segment read from an ip4:tcp socket.
func parseSegment(data []byte) (segmentInfo, bool) {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return segmentInfo{}, false
	}
	return segmentInfo{
		srcPort: uint16(tcp.SrcPort),
		dstPort: uint16(tcp.DstPort),
		seq:     tcp.Seq,
		ack:     tcp.Ack,
		syn:     tcp.SYN,
		ackFlag: tcp.ACK,
		rst:     tcp.RST,
	}, true
}

// response classifies a received segment.
func (s segmentInfo) response() (Response, bool) {
	switch {
	case s.rst:
		return ResponseRST, true
	case s.syn && s.ackFlag:
		return ResponseSynAck, true
	default:
		return ResponseNone, false
	}
}

// quotedProbe is the original probe quoted inside an ICMP error.
type quotedProbe struct {
	dst              netip.Addr
	srcPort, dstPort uint16
	seq              uint32
	code             int
}

// parseICMPError extracts the quoted TCP probe from an ICMP destination
// unreachable message. RFC 792 guarantees the IP header plus 8 bytes of the
// original datagram, which is exactly ports and sequence number.
func parseICMPError(data []byte) (quotedProbe, bool) {
	msg, err := icmp.ParseMessage(protocolICMP, data)
	if err != nil || msg.Type != ipv4.ICMPTypeDestinationUnreachable {
		return quotedProbe{}, false
	}
	body, ok := msg.Body.(*icmp.DstUnreach)
	if !ok {
		return quotedProbe{}, false
	}
	inner, err := ipv4.ParseHeader(body.Data)
	if err != nil || inner.Protocol != protocolTCP || len(body.Data) < inner.Len+8 {
		return quotedProbe{}, false
	}
	dst, ok := netip.AddrFromSlice(inner.Dst.To4())
	if !ok {
		return quotedProbe{}, false
	}
	quoted := body.Data[inner.Len:]
	return quotedProbe{
		dst:     dst,
		srcPort: binary.BigEndian.Uint16(quoted[0:2]),
		dstPort: binary.BigEndian.Uint16(quoted[2:4]),
		seq:     binary.BigEndian.Uint32(quoted[4:8]),
		code:    msg.Code,
	}, true
}
