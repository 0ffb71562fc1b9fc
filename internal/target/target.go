// Package target expands target expressions into scan targets.
//
// An expression is one of:
//   - an IPv4 or IPv6 address
//   - a CIDR prefix; for IPv4 prefixes shorter than /31 the network and
//     broadcast addresses are skipped
//   - a range "192.0.2.10-192.0.2.20" or "192.0.2.10-20"
//   - a hostname, resolved through the configured resolver
//
// Expansion is capped so a mistyped prefix cannot queue millions of hosts.
package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/nao1215/portscan/internal/model"
)

// DefaultMaxHosts is the default expansion cap.
const DefaultMaxHosts = 1 << 16

var (
	// ErrNoTargets is returned when no expression was given.
	ErrNoTargets = errors.New("no targets given")

	// ErrInvalidExpression is returned for an expression that cannot be parsed.
	ErrInvalidExpression = errors.New("invalid target expression")

	// ErrTooManyHosts is returned when expansion exceeds the cap.
	ErrTooManyHosts = errors.New("too many hosts")

	// ErrResolve is returned when a hostname has no usable address.
	ErrResolve = errors.New("cannot resolve host")
)

// Resolver looks up the addresses of a hostname. *net.Resolver implements it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Host is one expanded address, with the name it was resolved from, if any.
type Host struct {
	Addr netip.Addr
	Name string
}

// Enumerator expands expressions.
type Enumerator struct {
	resolver Resolver
	maxHosts int
	logger   *slog.Logger
}

// Option configures an Enumerator.
type Option func(*Enumerator)

// WithResolver sets the hostname resolver.
func WithResolver(r Resolver) Option {
	return func(e *Enumerator) {
		e.resolver = r
	}
}

// WithMaxHosts sets the expansion cap.
func WithMaxHosts(n int) Option {
	return func(e *Enumerator) {
		if n > 0 {
			e.maxHosts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enumerator) {
		e.logger = logger
	}
}

// New creates an Enumerator using net.DefaultResolver.
func New(opts ...Option) *Enumerator {
	e := &Enumerator{
		resolver: net.DefaultResolver,
		maxHosts: DefaultMaxHosts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand turns expressions into de-duplicated hosts in the order written.
// Every expression is validated before anything is returned.
func (e *Enumerator) Expand(ctx context.Context, exprs []string) ([]Host, error) {
	if len(exprs) == 0 {
		return nil, ErrNoTargets
	}

	var hosts []Host
	seen := make(map[netip.Addr]bool)
	add := func(h Host) error {
		if seen[h.Addr] {
			return nil
		}
		if len(hosts) >= e.maxHosts {
			return fmt.Errorf("%w: more than %d", ErrTooManyHosts, e.maxHosts)
		}
		seen[h.Addr] = true
		hosts = append(hosts, h)
		return nil
	}

	for _, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		if err := e.expand(ctx, expr, add); err != nil {
			return nil, err
		}
	}
	if len(hosts) == 0 {
		return nil, ErrNoTargets
	}
	e.logger.Debug("targets expanded", "expressions", len(exprs), "hosts", len(hosts))
	return hosts, nil
}

func (e *Enumerator) expand(ctx context.Context, expr string, add func(Host) error) error {
	if addr, err := netip.ParseAddr(expr); err == nil {
		return add(Host{Addr: addr.Unmap()})
	}
	if strings.Contains(expr, "/") {
		prefix, err := netip.ParsePrefix(expr)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidExpression, expr, err)
		}
		return expandPrefix(prefix.Masked(), add)
	}
	if lo, hi, ok, err := parseRange(expr); ok {
		if err != nil {
			return err
		}
		for a := lo; ; a = a.Next() {
			if err := add(Host{Addr: a}); err != nil {
				return err
			}
			if a == hi {
				return nil
			}
		}
	}
	return e.resolve(ctx, expr, add)
}

func expandPrefix(prefix netip.Prefix, add func(Host) error) error {
	first := prefix.Addr()
	skipEdges := first.Is4() && prefix.Bits() < 31
	for a := first; a.IsValid() && prefix.Contains(a); a = a.Next() {
		if skipEdges && (a == first || !prefix.Contains(a.Next())) {
			continue
		}
		if err := add(Host{Addr: a}); err != nil {
			return err
		}
	}
	return nil
}

// parseRange recognizes "a-b" and "a-N". ok reports whether expr looks like a
// range at all, so hostnames with dashes fall through to resolution.
func parseRange(expr string) (lo, hi netip.Addr, ok bool, err error) {
	left, right, found := strings.Cut(expr, "-")
	if !found {
		return lo, hi, false, nil
	}
	lo, perr := netip.ParseAddr(left)
	if perr != nil {
		return lo, hi, false, nil
	}

	if n, aerr := strconv.Atoi(right); aerr == nil && lo.Is4() {
		if n < 0 || n > 255 {
			return lo, hi, true, fmt.Errorf("%w: %q: last octet out of range", ErrInvalidExpression, expr)
		}
		b := lo.As4()
		b[3] = byte(n)
		hi = netip.AddrFrom4(b)
	} else if hi, perr = netip.ParseAddr(right); perr != nil {
		return lo, hi, true, fmt.Errorf("%w: %q: %w", ErrInvalidExpression, expr, perr)
	}

	if lo.Is4() != hi.Is4() || hi.Less(lo) {
		return lo, hi, true, fmt.Errorf("%w: %q: range end before start", ErrInvalidExpression, expr)
	}
	return lo, hi, true, nil
}

// resolve looks up a hostname and keeps its first address, IPv4 first since
// raw scans are IPv4 only.
func (e *Enumerator) resolve(ctx context.Context, name string, add func(Host) error) error {
	addrs, err := e.resolver.LookupNetIP(ctx, "ip", name)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrResolve, name, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w %q: no addresses", ErrResolve, name)
	}
	best := addrs[0].Unmap()
	for _, a := range addrs {
		if a.Unmap().Is4() {
			best = a.Unmap()
			break
		}
	}
	e.logger.Debug("resolved host", "name", name, "addr", best, "candidates", len(addrs))
	return add(Host{Addr: best, Name: name})
}

// Stream sends one ScanTarget per host on the returned channel, which is
// closed when every host has been sent or ctx is done.
func Stream(ctx context.Context, hosts []Host, ports []uint16, scanType model.ScanType) (<-chan model.ScanTarget, error) {
	targets := make([]model.ScanTarget, 0, len(hosts))
	for _, h := range hosts {
		t, err := model.NewScanTarget(h.Addr, h.Name, ports, scanType)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", h.Addr, err)
		}
		targets = append(targets, t)
	}

	ch := make(chan model.ScanTarget)
	go func() {
		defer close(ch)
		for _, t := range targets {
			select {
			case ch <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
