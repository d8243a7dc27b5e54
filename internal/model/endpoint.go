package model

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

var defaultPorts = map[string]uint16{
	"http":        80,
	"https":       80,
	"socks":       1080,
	"socks5":      1080,
	"shadowsocks": 8388,
	"trojan":      443,
	"vless":       443,
	"vmess":       443,
}

// DefaultPort returns the conventional port for a proxy scheme; 8080 for
// anything unrecognized.
func DefaultPort(scheme string) uint16 {
	if p, ok := defaultPorts[scheme]; ok {
		return p
	}
	return 8080
}

// Endpoint is the canonical post-resolution node. It is created once by the
// resolve stage, mutated in place by the probe stage (Latency only), and read
// by the translator.
type Endpoint struct {
	Address  netip.Addr
	Port     uint16
	Protocol string
	Params   Params
	User     string

	// Latency is zero until a probe pass succeeds.
	Latency time.Duration
}

// NewEndpoint folds raw (possibly repeating) parameter pairs into a
// collision-free ordered map; a later occurrence of a key overwrites the
// earlier one. Protocol and user are lower-cased.
func NewEndpoint(protocol string, addr netip.Addr, port uint16, user string, raw []KV) *Endpoint {
	params := make(Params, 0, len(raw))
	for _, kv := range raw {
		params.Set(kv.Key, kv.Value)
	}
	if port == 0 {
		port = DefaultPort(strings.ToLower(protocol))
	}
	return &Endpoint{
		Address:  addr,
		Port:     port,
		Protocol: strings.ToLower(protocol),
		Params:   params,
		User:     strings.ToLower(user),
	}
}

// Key is the deduplication identity: two endpoints with equal keys are the
// same logical proxy even when cosmetic parameters differ.
func (e *Endpoint) Key() string {
	sni, _ := e.Params.Get("sni")
	pbk, _ := e.Params.Get("pbk")
	extra, _ := e.Params.Get("extra")
	return strings.Join([]string{
		e.Address.String(),
		fmt.Sprintf("%d", e.Port),
		e.Protocol,
		sni,
		pbk,
		extra,
		e.User,
	}, "\n")
}

// String renders the canonical connection string, parameters in stored order.
func (e *Endpoint) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s://%s@%s:%d", e.Protocol, e.User, e.Address, e.Port)
	for i, kv := range e.Params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(kv.Value)
	}
	return b.String()
}
