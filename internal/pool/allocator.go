// Package pool implements the DHCP address-pool allocator: a linear scan
// over an inclusive IPv4 range that skips reserved and already-leased
// addresses.
package pool

import (
	"fmt"
	"net"

	"github.com/llfl/finiky/pkg/dhcpv4"
)

// Allocator describes a contiguous IPv4 address range and the addresses
// within it that are never handed out.
type Allocator struct {
	startU, endU          uint32
	gatewayU, nextServerU uint32
}

// NewAllocator builds an Allocator over the inclusive range [start, end].
// gateway and nextServer are excluded from allocation even if they fall
// inside the range.
func NewAllocator(start, end, gateway, nextServer net.IP) (*Allocator, error) {
	startU := dhcpv4.IPToUint32(start.To4())
	endU := dhcpv4.IPToUint32(end.To4())
	if endU < startU {
		return nil, fmt.Errorf("pool: end %s is before start %s", end, start)
	}
	return &Allocator{
		startU:      startU,
		endU:        endU,
		gatewayU:    dhcpv4.IPToUint32(gateway.To4()),
		nextServerU: dhcpv4.IPToUint32(nextServer.To4()),
	}, nil
}

// Contains reports whether ip falls within the pool's configured range.
func (a *Allocator) Contains(ip net.IP) bool {
	u := dhcpv4.IPToUint32(ip.To4())
	return u >= a.startU && u <= a.endU
}

// Size returns the number of addresses in the range, including the
// excluded gateway and next-server addresses.
func (a *Allocator) Size() uint32 {
	return a.endU - a.startU + 1
}

// Next performs the linear scan described by the data model: starting at
// the low end of the range, it returns the first address that is not the
// gateway, not the next-server address, and for which leased returns
// false. It returns ok=false if the range is exhausted.
//
// leased is invoked with the mutex protecting the lease table already
// held by the caller so allocation and lease-table insertion happen under
// a single critical section, as required by the concurrency model.
func (a *Allocator) Next(leased func(net.IP) bool) (net.IP, bool) {
	for u := a.startU; u <= a.endU; u++ {
		if u == a.gatewayU || u == a.nextServerU {
			continue
		}
		ip := dhcpv4.Uint32ToIP(u)
		if leased(ip) {
			continue
		}
		return ip, true
	}
	return nil, false
}
