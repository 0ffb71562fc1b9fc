package probe

import "github.com/nao1215/portscan/internal/model"

// Response is what a probe observed before its deadline.
type Response int

const (
	// ResponseNone means nothing came back before the deadline.
	ResponseNone Response = iota

	// ResponseConnected means a TCP handshake completed.
	ResponseConnected

	// ResponseRefused means the connection was actively refused.
	ResponseRefused

	// ResponseSynAck means a segment with SYN and ACK set arrived.
	ResponseSynAck

	// ResponseRST means a segment with RST set arrived.
	ResponseRST

	// ResponseUnreachable means an ICMP destination unreachable arrived
	// with a code other than port unreachable.
	ResponseUnreachable

	// ResponsePortUnreachable means ICMP port unreachable arrived.
	ResponsePortUnreachable

	// ResponseData means application bytes arrived.
	ResponseData
)

// String returns the response name used in debug logs.
func (r Response) String() string {
	switch r {
	case ResponseNone:
		return "none"
	case ResponseConnected:
		return "connected"
	case ResponseRefused:
		return "refused"
	case ResponseSynAck:
		return "syn-ack"
	case ResponseRST:
		return "rst"
	case ResponseUnreachable:
		return "icmp-unreachable"
	case ResponsePortUnreachable:
		return "icmp-port-unreachable"
	case ResponseData:
		return "data"
	default:
		return "unknown"
	}
}

var (
	connectTable = map[Response]model.Status{
		ResponseConnected:       model.StatusOpen,
		ResponseData:            model.StatusOpen,
		ResponseRefused:         model.StatusClosed,
		ResponseRST:             model.StatusClosed,
		ResponseUnreachable:     model.StatusFiltered,
		ResponsePortUnreachable: model.StatusFiltered,
		ResponseNone:            model.StatusFiltered,
	}

	synTable = map[Response]model.Status{
		ResponseSynAck:          model.StatusOpen,
		ResponseRST:             model.StatusClosed,
		ResponseRefused:         model.StatusClosed,
		ResponseUnreachable:     model.StatusFiltered,
		ResponsePortUnreachable: model.StatusFiltered,
		ResponseNone:            model.StatusFiltered,
	}

	// FIN, XMAS and NULL segments are answered with RST by a closed port
	// and dropped silently by an open one (RFC 793).
	stealthTable = map[Response]model.Status{
		ResponseRST:             model.StatusClosed,
		ResponseRefused:         model.StatusClosed,
		ResponseUnreachable:     model.StatusFiltered,
		ResponsePortUnreachable: model.StatusFiltered,
		ResponseNone:            model.StatusOpenFiltered,
	}

	udpTable = map[Response]model.Status{
		ResponseData:            model.StatusOpen,
		ResponsePortUnreachable: model.StatusClosed,
		ResponseRefused:         model.StatusClosed,
		ResponseUnreachable:     model.StatusFiltered,
		ResponseNone:            model.StatusOpenFiltered,
	}
)

func tableFor(scanType model.ScanType) map[Response]model.Status {
	switch scanType {
	case model.ScanSYN:
		return synTable
	case model.ScanFIN, model.ScanXMAS, model.ScanNULL:
		return stealthTable
	case model.ScanUDP:
		return udpTable
	default:
		return connectTable
	}
}

// Interpret maps what a probe of the given scan type observed to a port
// status. Responses that make no sense for the scan type, such as a SYN-ACK
// to a FIN, are treated like silence.
func Interpret(scanType model.ScanType, r Response) model.Status {
	table := tableFor(scanType)
	if status, ok := table[r]; ok {
		return status
	}
	return table[ResponseNone]
}

// NoResponseStatus returns the status a port takes when every attempt went
// unanswered.
func NoResponseStatus(scanType model.ScanType) model.Status {
	return Interpret(scanType, ResponseNone)
}
