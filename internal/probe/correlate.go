package probe

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// Local ports used as the source of raw probes. The range sits above the
// Linux default ephemeral range so replies rarely collide with real sockets.
const (
	sourcePortBase = 61000
	sourcePortSpan = 4000
)

// flowKey identifies the reply direction of one outstanding probe.
type flowKey struct {
	remote     netip.Addr
	remotePort uint16
	localPort  uint16
}

// reply is a segment or ICMP error routed to a waiting probe.
type reply struct {
	response Response
	at       time.Time
}

// flow is one outstanding probe waiting in the correlation table.
type flow struct {
	seq     uint32
	ackWant uint32
	replies chan reply
}

// correlator maps replies arriving on the shared raw sockets to the probe
// that caused them. The raw socket layer does no demultiplexing of its own.
type correlator struct {
	mu    sync.Mutex
	flows map[flowKey]*flow
	next  atomic.Uint32
}

func newCorrelator() *correlator {
	return &correlator{flows: make(map[flowKey]*flow)}
}

// register reserves a local port for a probe to remote:remotePort that will
// carry sequence number seq. ackWant is the acknowledgement number a genuine
// reply must carry when its ACK flag is set.
func (c *correlator) register(remote netip.Addr, remotePort uint16, seq, ackWant uint32) (flowKey, *flow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for range sourcePortSpan {
		port := uint16(sourcePortBase + c.next.Add(1)%sourcePortSpan)
		key := flowKey{remote: remote, remotePort: remotePort, localPort: port}
		if _, busy := c.flows[key]; busy {
			continue
		}
		f := &flow{seq: seq, ackWant: ackWant, replies: make(chan reply, 1)}
		c.flows[key] = f
		return key, f, nil
	}
	return flowKey{}, nil, errNoSourcePort
}

// release frees the local port of a finished probe.
func (c *correlator) release(key flowKey) {
	c.mu.Lock()
	delete(c.flows, key)
	c.mu.Unlock()
}

// deliverSegment routes a TCP segment. Segments with ACK set must acknowledge
// exactly what the probe sent; anything else is ignored.
func (c *correlator) deliverSegment(key flowKey, ack bool, ackNum uint32, r Response) bool {
	c.mu.Lock()
	f, ok := c.flows[key]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if ack && ackNum != f.ackWant {
		return false
	}
	return f.offer(r)
}

// deliverICMP routes an ICMP error. The embedded sequence number must be the
// one the probe sent.
func (c *correlator) deliverICMP(key flowKey, seq uint32, r Response) bool {
	c.mu.Lock()
	f, ok := c.flows[key]
	c.mu.Unlock()
	if !ok || f.seq != seq {
		return false
	}
	return f.offer(r)
}

// pending returns the number of outstanding probes.
func (c *correlator) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flows)
}

// offer hands r to the waiting probe. Only the first reply counts.
func (f *flow) offer(r Response) bool {
	select {
	case f.replies <- reply{response: r, at: time.Now()}:
		return true
	default:
		return false
	}
}
