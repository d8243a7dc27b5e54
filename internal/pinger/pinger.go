// Package pinger measures round-trip latency with ICMP echo probes over
// unprivileged datagram sockets.
package pinger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protocolICMP     = 1  // iana.ProtocolICMP
	protocolIPv6ICMP = 58 // iana.ProtocolIPv6ICMP
)

var payload = []byte("proxycheck-echo")

// ErrTimeout means no matching echo reply arrived within the timeout.
var ErrTimeout = errors.New("pinger: echo reply timeout")

type Pinger struct {
	// Timeout bounds the wait for each echo reply.
	Timeout time.Duration

	seq atomic.Uint32
}

func New(timeout time.Duration) *Pinger {
	return &Pinger{Timeout: timeout}
}

// Ping sends one echo request to addr and returns the round-trip time of the
// matching reply. One call is one probe; the caller handles repeats and
// inter-probe delays.
func (p *Pinger) Ping(ctx context.Context, addr netip.Addr) (time.Duration, error) {
	network, listen, echoType, proto := "udp4", "0.0.0.0", icmp.Type(ipv4.ICMPTypeEcho), protocolICMP
	if addr.Is6() && !addr.Is4In6() {
		network, listen, echoType, proto = "udp6", "::", icmp.Type(ipv6.ICMPTypeEchoRequest), protocolIPv6ICMP
	}

	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		return 0, fmt.Errorf("pinger: listen %s: %w", network, err)
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  seq,
			Data: payload,
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("pinger: marshal echo: %w", err)
	}

	deadline := time.Now().Add(p.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	start := time.Now()
	dst := &net.UDPAddr{IP: addr.AsSlice()}
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return 0, fmt.Errorf("pinger: send to %s: %w", addr, err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return 0, ErrTimeout
			}
			return 0, err
		}
		reply, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}
		// With datagram ICMP sockets the kernel rewrites the echo ID, so
		// replies are matched on sequence number and payload.
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq || string(echo.Data) != string(payload) {
			continue
		}
		if reply.Type != ipv4.ICMPTypeEchoReply && reply.Type != ipv6.ICMPTypeEchoReply {
			continue
		}
		return time.Since(start), nil
	}
}
