package model

import (
	"fmt"
	"net/netip"
	"slices"
	"time"
)

// ScanTarget is a resolved host together with the ordered set of ports to probe
// and the scan type to use. It is built once from enumerator output and never
// changes afterwards; accessors return copies.
type ScanTarget struct {
	host     netip.Addr
	name     string
	ports    []uint16
	scanType ScanType
}

// NewScanTarget validates and builds a ScanTarget. Duplicate ports are dropped,
// keeping the first occurrence so the caller's order is preserved.
func NewScanTarget(host netip.Addr, name string, ports []uint16, scanType ScanType) (ScanTarget, error) {
	if !host.IsValid() {
		return ScanTarget{}, ErrInvalidHost
	}
	if len(ports) == 0 {
		return ScanTarget{}, ErrNoPorts
	}

	seen := make(map[uint16]struct{}, len(ports))
	ordered := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if p == 0 {
			return ScanTarget{}, fmt.Errorf("%w: host %s", ErrInvalidPort, host)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		ordered = append(ordered, p)
	}

	return ScanTarget{
		host:     host.Unmap(),
		name:     name,
		ports:    ordered,
		scanType: scanType,
	}, nil
}

// Host returns the resolved address.
func (t ScanTarget) Host() netip.Addr { return t.host }

// Name returns the name the address was resolved from, if any.
func (t ScanTarget) Name() string { return t.name }

// Ports returns a copy of the ordered port set.
func (t ScanTarget) Ports() []uint16 { return slices.Clone(t.ports) }

// PortCount returns the number of ports without copying.
func (t ScanTarget) PortCount() int { return len(t.ports) }

// ScanType returns the requested scan type.
func (t ScanTarget) ScanType() ScanType { return t.scanType }

// String returns "name (addr)" or just the address.
func (t ScanTarget) String() string {
	if t.name != "" && t.name != t.host.String() {
		return fmt.Sprintf("%s (%s)", t.name, t.host)
	}
	return t.host.String()
}

// ProbeTask is one unit of work for the probe engine. Tasks are values; a retry
// is a new task built with Retry, never a mutation of the previous one.
type ProbeTask struct {
	Host      netip.Addr
	Port      uint16
	ScanType  ScanType
	Transport Transport

	// Attempt counts from 1.
	Attempt int

	// Deadline is how long the engine waits for a response. Zero lets the
	// engine ask the adaptive timeout controller.
	Deadline time.Duration
}

// NewProbeTask creates the first attempt for a port.
func NewProbeTask(host netip.Addr, port uint16, scanType ScanType) ProbeTask {
	return ProbeTask{
		Host:      host,
		Port:      port,
		ScanType:  scanType,
		Transport: scanType.Transport(),
		Attempt:   1,
	}
}

// Retry returns the next attempt of the task with a new deadline.
func (t ProbeTask) Retry(deadline time.Duration) ProbeTask {
	next := t
	next.Attempt++
	next.Deadline = deadline
	return next
}

// AddrPort returns the destination as a netip.AddrPort.
func (t ProbeTask) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(t.Host, t.Port)
}
