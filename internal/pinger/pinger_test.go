package pinger

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"
)

// Loopback pings need an unprivileged ICMP socket, which is disabled by
// default on most Linux hosts (ping_group_range). Tests that need a live
// socket probe for it and skip when unavailable.
func TestPingLoopback(t *testing.T) {
	p := New(time.Second)
	rtt, err := p.Ping(context.Background(), netip.MustParseAddr("127.0.0.1"))
	if err != nil {
		t.Skipf("unprivileged ICMP unavailable: %v", err)
	}
	if rtt <= 0 {
		t.Fatalf("rtt=%v, want > 0", rtt)
	}
}

func TestPingTimeout(t *testing.T) {
	p := New(50 * time.Millisecond)
	// TEST-NET-1 (RFC 5737), guaranteed unrouted.
	_, err := p.Ping(context.Background(), netip.MustParseAddr("192.0.2.1"))
	if err == nil {
		t.Fatal("expected error pinging unrouted address")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Skipf("unprivileged ICMP unavailable: %v", err)
	}
}
