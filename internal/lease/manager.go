package lease

import (
	"log/slog"
	"net"
	"sync"

	"github.com/llfl/finiky/internal/metrics"
	"github.com/llfl/finiky/internal/pool"
)

// Manager is the process-local, mutex-guarded lease table described in the
// data model: a map from client hardware address to assigned IPv4 address,
// with insertion order preserved and no expiry. DHCP traffic is low-rate
// enough that a single mutex around a plain map is sufficient; there is no
// I/O inside the critical section.
type Manager struct {
	logger *slog.Logger

	mu    sync.Mutex
	byMAC map[string]net.IP
	order []string
}

// NewManager creates an empty lease table.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		byMAC:  make(map[string]net.IP),
	}
}

// Lookup returns the sticky address previously assigned to mac, if any.
func (m *Manager) Lookup(mac net.HardwareAddr) (net.IP, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ip, ok := m.byMAC[mac.String()]
	return ip, ok
}

// IsLeased reports whether ip is currently the value of any entry in the
// table. Allocate does not call it: it runs the same check inline while
// already holding the table's mutex.
func (m *Manager) IsLeased(ip net.IP) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.byMAC {
		if v.Equal(ip) {
			return true
		}
	}
	return false
}

// Allocate returns the sticky address for mac, allocating one from alloc if
// mac has no existing entry. Lookup, the pool scan, and the table insert
// all happen under the table's single mutex, so no other goroutine can
// observe or claim the same address in between. Returns ok=false if mac is
// new and the pool is exhausted.
func (m *Manager) Allocate(mac net.HardwareAddr, alloc *pool.Allocator) (net.IP, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mac.String()
	if ip, ok := m.byMAC[key]; ok {
		return ip, true
	}

	ip, ok := alloc.Next(func(candidate net.IP) bool {
		for _, v := range m.byMAC {
			if v.Equal(candidate) {
				return true
			}
		}
		return false
	})
	if !ok {
		metrics.PoolExhausted.Inc()
		return nil, false
	}

	m.byMAC[key] = ip
	m.order = append(m.order, key)
	m.logger.Debug("lease allocated", "mac", key, "ip", ip.String())
	metrics.LeasesActive.Set(float64(len(m.byMAC)))
	return ip, true
}

// Release removes the entry for mac, if present. Used for DHCPDECLINE and
// DHCPRELEASE; the freed address becomes available to the allocator again.
func (m *Manager) Release(mac net.HardwareAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mac.String()
	if _, ok := m.byMAC[key]; !ok {
		return
	}
	delete(m.byMAC, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.logger.Debug("lease released", "mac", key)
	metrics.LeasesActive.Set(float64(len(m.byMAC)))
}

// ForEach iterates leases in insertion order and stops early if fn returns
// false.
func (m *Manager) ForEach(fn func(Lease) bool) {
	m.mu.Lock()
	snapshot := make([]Lease, 0, len(m.order))
	for _, key := range m.order {
		mac, err := net.ParseMAC(key)
		if err != nil {
			continue
		}
		snapshot = append(snapshot, Lease{MAC: mac, IP: m.byMAC[key]})
	}
	m.mu.Unlock()

	for _, l := range snapshot {
		if !fn(l) {
			return
		}
	}
}

// Len returns the number of active leases.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byMAC)
}
