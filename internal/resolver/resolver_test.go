package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
)

// startServer runs a DNS server on a loopback UDP port for the duration of
// the test and returns its address.
func startServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go func() {
		_ = srv.ActivateAndServe()
	}()
	t.Cleanup(func() {
		_ = srv.Shutdown()
	})
	return pc.LocalAddr().String()
}

func TestLookupAddrA(t *testing.T) {
	server := startServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.IPv4(1, 2, 3, 4),
		})
		_ = w.WriteMsg(m)
	})

	r := NewWithServer(server)
	addr, err := r.LookupAddr(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != netip.MustParseAddr("1.2.3.4") {
		t.Fatalf("addr=%v", addr)
	}
}

func TestLookupAddrFallsBackToAAAA(t *testing.T) {
	server := startServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		if req.Question[0].Qtype == dns.TypeAAAA {
			m.Answer = append(m.Answer, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60},
				AAAA: net.ParseIP("2001:db8::1"),
			})
		}
		_ = w.WriteMsg(m)
	})

	r := NewWithServer(server)
	addr, err := r.LookupAddr(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != netip.MustParseAddr("2001:db8::1") {
		t.Fatalf("addr=%v", addr)
	}
}

func TestLookupAddrEmptyAnswer(t *testing.T) {
	server := startServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		_ = w.WriteMsg(m)
	})

	r := NewWithServer(server)
	_, err := r.LookupAddr(context.Background(), "example.com")
	if !errors.Is(err, ErrNoAddresses) {
		t.Fatalf("err=%v, want ErrNoAddresses", err)
	}
}
