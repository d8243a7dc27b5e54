// Package resolver performs live DNS lookups for cache misses.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// ErrNoAddresses means the server answered but returned no usable A/AAAA
// records.
var ErrNoAddresses = errors.New("resolver: no addresses found")

const fallbackServer = "1.1.1.1:53"

type Resolver struct {
	// Server is the "host:port" of the DNS server queried over UDP.
	Server string

	client *dns.Client
}

// New builds a resolver using the first nameserver from /etc/resolv.conf,
// falling back to a public one when the file is unusable.
func New() *Resolver {
	server := fallbackServer
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		server = cfg.Servers[0] + ":" + cfg.Port
	}
	return NewWithServer(server)
}

func NewWithServer(server string) *Resolver {
	return &Resolver{
		Server: server,
		client: &dns.Client{Timeout: 5 * time.Second},
	}
}

// LookupAddr resolves a domain to its first A record, falling back to AAAA.
func (r *Resolver) LookupAddr(ctx context.Context, domain string) (netip.Addr, error) {
	addr, err := r.query(ctx, domain, dns.TypeA)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, ErrNoAddresses) {
		return netip.Addr{}, err
	}
	return r.query(ctx, domain, dns.TypeAAAA)
}

func (r *Resolver) query(ctx context.Context, domain string, qtype uint16) (netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolver: exchange with %s: %w", r.Server, err)
	}

	for _, answer := range resp.Answer {
		switch rr := answer.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rr.A.To4()); ok {
				return addr, nil
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rr.AAAA); ok {
				return addr, nil
			}
		}
	}
	return netip.Addr{}, ErrNoAddresses
}
