package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/nao1215/portscan/internal/model"
	"github.com/nao1215/portscan/internal/ratelimit"
	"golang.org/x/net/icmp"
)

// rawProber sends crafted TCP segments for SYN, FIN, XMAS and NULL scans.
// All probes of an engine share the two sockets; the correlator routes each
// reply to its probe.
type rawProber struct {
	tcpConn  net.PacketConn
	icmpConn net.PacketConn
	source   sourceFunc
	flows    *correlator
	limiter  *ratelimit.Limiter
	logger   *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// openRawProber opens the raw TCP and ICMP sockets.
func openRawProber(logger *slog.Logger) (*rawProber, error) {
	tcpConn, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		return nil, rawSocketError(err)
	}
	icmpConn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		_ = tcpConn.Close()
		return nil, rawSocketError(err)
	}
	return newRawProber(tcpConn, icmpConn, newRouteCache().lookup, logger), nil
}

func rawSocketError(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return err
	}
	if _, kind := classify(err); kind == model.ErrorPermission {
		return fmt.Errorf("%w: %w", ErrInsufficientPrivilege, err)
	}
	return fmt.Errorf("open raw socket: %w", err)
}

// newRawProber starts the receive loops on already opened sockets.
func newRawProber(tcpConn, icmpConn net.PacketConn, source sourceFunc, logger *slog.Logger) *rawProber {
	p := &rawProber{
		tcpConn:  tcpConn,
		icmpConn: icmpConn,
		source:   source,
		flows:    newCorrelator(),
		logger:   logger,
	}
	p.wg.Add(2)
	go p.receiveSegments()
	go p.receiveICMP()
	return p
}

// close shuts both sockets and waits for the receive loops.
func (p *rawProber) close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(p.tcpConn.Close(), p.icmpConn.Close())
		p.wg.Wait()
	})
	return err
}

func (p *rawProber) probe(ctx context.Context, task model.ProbeTask, deadline time.Duration) exchange {
	if !task.Host.Is4() {
		p.logger.Debug("skipping raw probe", "host", task.Host, "port", task.Port, "error", errNotIPv4)
		return failed(model.ErrorIO)
	}
	src, err := p.source(task.Host)
	if err != nil {
		_, kind := classify(err)
		if kind == model.ErrorNone || kind == model.ErrorIO {
			kind = model.ErrorUnreachable
		}
		return failed(kind)
	}

	flags := flagsFor(task.ScanType)
	seq := rand.Uint32()
	key, f, err := p.flows.register(task.Host, task.Port, seq, expectedAck(seq, flags))
	if err != nil {
		return failed(model.ErrorResource)
	}
	defer p.flows.release(key)

	segment, err := buildSegment(src, task.Host, key.localPort, task.Port, seq, 0, flags)
	if err != nil {
		return failed(model.ErrorIO)
	}

	dst := &net.IPAddr{IP: task.Host.AsSlice()}
	start := time.Now()
	if _, err := p.tcpConn.WriteTo(segment, dst); err != nil {
		_, kind := classify(err)
		if kind == model.ErrorNone {
			kind = model.ErrorIO
		}
		return failed(kind)
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return failed(model.ErrorCancelled)
	case <-timer.C:
		return exchange{response: ResponseNone}
	case r := <-f.replies:
		if r.response == ResponseSynAck {
			p.reset(ctx, src, task.Host, key.localPort, task.Port, seq+1)
		}
		return exchange{response: r.response, rtt: r.at.Sub(start)}
	}
}

// reset tears down the half-open connection a SYN-ACK started, so the target
// does not keep retransmitting. The RST takes a rate token like any probe.
func (p *rawProber) reset(ctx context.Context, src, dst netip.Addr, srcPort, dstPort uint16, seq uint32) {
	if err := pace(ctx, p.limiter); err != nil {
		p.logger.Debug("skipping RST", "host", dst, "port", dstPort, "error", err)
		return
	}
	segment, err := buildSegment(src, dst, srcPort, dstPort, seq, 0, tcpFlags{rst: true})
	if err != nil {
		return
	}
	if _, err := p.tcpConn.WriteTo(segment, &net.IPAddr{IP: dst.AsSlice()}); err != nil {
		p.logger.Debug("failed to send RST", "host", dst, "port", dstPort, "error", err)
	}
}

// receiveSegments reads every TCP segment addressed to this host and routes
// the ones that answer an outstanding probe.
func (p *rawProber) receiveSegments() {
	defer p.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, addr, err := p.tcpConn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			p.logger.Debug("raw tcp read failed", "error", err)
			continue
		}
		remote, ok := addrOf(addr)
		if !ok {
			continue
		}
		seg, ok := parseSegment(buf[:n])
		if !ok {
			continue
		}
		r, ok := seg.response()
		if !ok {
			continue
		}
		key := flowKey{remote: remote, remotePort: seg.srcPort, localPort: seg.dstPort}
		p.flows.deliverSegment(key, seg.ackFlag, seg.ack, r)
	}
}

// receiveICMP reads ICMP messages and routes destination unreachable errors
// quoting one of our probes.
func (p *rawProber) receiveICMP() {
	defer p.wg.Done()

	buf := make([]byte, 1500)
	for {
		n, _, err := p.icmpConn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			p.logger.Debug("raw icmp read failed", "error", err)
			continue
		}
		q, ok := parseICMPError(buf[:n])
		if !ok {
			continue
		}
		key := flowKey{remote: q.dst, remotePort: q.dstPort, localPort: q.srcPort}
		p.flows.deliverICMP(key, q.seq, ResponseUnreachable)
	}
}

func addrOf(addr net.Addr) (netip.Addr, bool) {
	ipAddr, ok := addr.(*net.IPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	a, ok := netip.AddrFromSlice(ipAddr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}
