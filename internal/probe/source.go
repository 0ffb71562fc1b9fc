package probe

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// sourceFunc returns the local address packets to dst leave from.
type sourceFunc func(dst netip.Addr) (netip.Addr, error)

// routeCache resolves and remembers the source address per destination.
type routeCache struct {
	mu     sync.Mutex
	byDest map[netip.Addr]netip.Addr
}

func newRouteCache() *routeCache {
	return &routeCache{byDest: make(map[netip.Addr]netip.Addr)}
}

// lookup asks the kernel routing table which address it would use, by
// connecting a UDP socket. Connecting a UDP socket sends nothing.
func (c *routeCache) lookup(dst netip.Addr) (netip.Addr, error) {
	c.mu.Lock()
	src, ok := c.byDest[dst]
	c.mu.Unlock()
	if ok {
		return src, nil
	}

	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, 9)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("route lookup for %s: %w", dst, err)
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("route lookup for %s: unexpected local address %v", dst, conn.LocalAddr())
	}
	src = local.AddrPort().Addr().Unmap()

	c.mu.Lock()
	c.byDest[dst] = src
	c.mu.Unlock()
	return src, nil
}
