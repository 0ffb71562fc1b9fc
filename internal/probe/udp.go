package probe

import (
	"context"
	"net"
	"time"

	"github.com/nao1215/portscan/internal/model"
	"github.com/nao1215/portscan/internal/protocol"
)

// udpProber sends the port's request on a connected UDP socket. A connected
// socket is what lets the kernel hand an ICMP port unreachable back to us as
// ECONNREFUSED.
type udpProber struct {
	dialer *net.Dialer
}

func newUDPProber() *udpProber {
	return &udpProber{dialer: &net.Dialer{}}
}

func (p *udpProber) probe(ctx context.Context, task model.ProbeTask, deadline time.Duration) exchange {
	conn, err := p.dialer.DialContext(ctx, "udp", task.AddrPort().String())
	if err != nil {
		if ctx.Err() != nil {
			return failed(model.ErrorCancelled)
		}
		_, kind := classify(err)
		if kind == model.ErrorNone {
			kind = model.ErrorIO
		}
		return failed(kind)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	req, _ := protocol.Request(model.TransportUDP, task.Port)
	start := time.Now()
	if err := conn.SetDeadline(start.Add(deadline)); err != nil {
		return failed(model.ErrorIO)
	}
	if _, err := conn.Write(req.Payload); err != nil {
		r, kind := datagramResult(err)
		if kind != model.ErrorNone {
			return failed(kind)
		}
		return exchange{response: r, rtt: time.Since(start)}
	}

	buf := make([]byte, maxResponse)
	n, err := conn.Read(buf)
	rtt := time.Since(start)
	if ctx.Err() != nil {
		return failed(model.ErrorCancelled)
	}
	if n > 0 {
		return exchange{response: ResponseData, rtt: rtt, data: buf[:n]}
	}
	r, kind := datagramResult(err)
	if kind != model.ErrorNone {
		return failed(kind)
	}
	if r == ResponseNone {
		rtt = 0
	}
	return exchange{response: r, rtt: rtt}
}

// datagramResult classifies an error read from a connected UDP socket. The
// route lookup already succeeded at dial time, so host and network
// unreachable errors here are ICMP errors reported by a router.
func datagramResult(err error) (Response, model.ErrorKind) {
	r, kind := classify(err)
	switch kind {
	case model.ErrorNone:
		return udpResponse(r), model.ErrorNone
	case model.ErrorUnreachable:
		return ResponseUnreachable, model.ErrorNone
	default:
		return ResponseNone, kind
	}
}

// udpResponse converts the refused reading of ECONNREFUSED on a datagram
// socket into what it really is: an ICMP port unreachable.
func udpResponse(r Response) Response {
	if r == ResponseRefused {
		return ResponsePortUnreachable
	}
	return r
}
