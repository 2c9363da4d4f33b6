package lease

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/llfl/finiky/internal/pool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", s, err)
	}
	return mac
}

func newTestAllocator(t *testing.T, start, end string) *pool.Allocator {
	t.Helper()
	a, err := pool.NewAllocator(net.ParseIP(start), net.ParseIP(end), net.ParseIP("0.0.0.0"), net.ParseIP("0.0.0.0"))
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return a
}

func TestAllocateIsSticky(t *testing.T) {
	m := NewManager(testLogger())
	alloc := newTestAllocator(t, "10.0.0.100", "10.0.0.110")
	mac := mustMAC(t, "aa:bb:cc:00:00:01")

	first, ok := m.Allocate(mac, alloc)
	if !ok {
		t.Fatal("Allocate: expected success")
	}
	second, ok := m.Allocate(mac, alloc)
	if !ok {
		t.Fatal("Allocate (repeat): expected success")
	}
	if !first.Equal(second) {
		t.Errorf("repeated Allocate returned %s, want sticky %s", second, first)
	}
}

func TestAllocateDistinctMACsGetDistinctAddresses(t *testing.T) {
	m := NewManager(testLogger())
	alloc := newTestAllocator(t, "10.0.0.100", "10.0.0.110")

	a1, _ := m.Allocate(mustMAC(t, "aa:bb:cc:00:00:01"), alloc)
	a2, _ := m.Allocate(mustMAC(t, "aa:bb:cc:00:00:02"), alloc)
	if a1.Equal(a2) {
		t.Errorf("distinct MACs received the same address %s", a1)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	m := NewManager(testLogger())
	alloc := newTestAllocator(t, "10.0.0.100", "10.0.0.101")

	if _, ok := m.Allocate(mustMAC(t, "aa:bb:cc:00:00:01"), alloc); !ok {
		t.Fatal("expected first allocation to succeed")
	}
	if _, ok := m.Allocate(mustMAC(t, "aa:bb:cc:00:00:02"), alloc); !ok {
		t.Fatal("expected second allocation to succeed")
	}
	if _, ok := m.Allocate(mustMAC(t, "aa:bb:cc:00:00:03"), alloc); ok {
		t.Fatal("expected pool exhaustion to fail the third allocation")
	}
}

func TestReleaseFreesAddressForReuse(t *testing.T) {
	m := NewManager(testLogger())
	alloc := newTestAllocator(t, "10.0.0.100", "10.0.0.100")
	mac1 := mustMAC(t, "aa:bb:cc:00:00:01")
	mac2 := mustMAC(t, "aa:bb:cc:00:00:02")

	ip1, ok := m.Allocate(mac1, alloc)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if _, ok := m.Allocate(mac2, alloc); ok {
		t.Fatal("expected second allocation to fail while pool has one address")
	}

	m.Release(mac1)
	if _, ok := m.Lookup(mac1); ok {
		t.Error("Lookup after Release: expected no entry")
	}

	ip2, ok := m.Allocate(mac2, alloc)
	if !ok {
		t.Fatal("expected allocation to succeed after release")
	}
	if !ip1.Equal(ip2) {
		t.Errorf("Allocate after Release = %s, want reused %s", ip2, ip1)
	}
}

func TestForEachPreservesInsertionOrder(t *testing.T) {
	m := NewManager(testLogger())
	alloc := newTestAllocator(t, "10.0.0.100", "10.0.0.110")
	macs := []string{"aa:bb:cc:00:00:03", "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02"}
	for _, s := range macs {
		m.Allocate(mustMAC(t, s), alloc)
	}

	var seen []string
	m.ForEach(func(l Lease) bool {
		seen = append(seen, l.MAC.String())
		return true
	})
	for i, want := range macs {
		if seen[i] != want {
			t.Errorf("ForEach[%d] = %s, want %s", i, seen[i], want)
		}
	}
}
