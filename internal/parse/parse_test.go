package parse

import (
	"encoding/base64"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/John-Robertt/proxycheck-go/internal/model"
)

var realityFilter = []Filter{{Key: "security", Value: "reality"}}

func TestLineWhitelistGate(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"matching", "vless://u@example.com:443?security=reality&sni=a", true},
		{"wrong value", "vless://u@example.com:443?security=tls&sni=a", false},
		{"missing param", "vless://u@example.com:443?sni=a", false},
		{"wrong scheme", "trojan://u@example.com:443?security=reality", false},
		{"not a url", "hello world", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Line(tt.line, "vless", realityFilter, nil)
			if ok != tt.want {
				t.Fatalf("ok=%v, want=%v", ok, tt.want)
			}
		})
	}
}

func TestLineNormalization(t *testing.T) {
	line := "vless://u@example.com:443?security=reality&fp=chrome&encryption=none&type=tcp&sni=a.com=trash&pbk=AbC+123"
	c, ok := Line(line, "vless", realityFilter, []string{"fp"})
	if !ok {
		t.Fatal("expected candidate")
	}
	want := []model.KV{
		{Key: "security", Value: "reality"},
		{Key: "sni", Value: "a.com"},   // '='-suffix truncated
		{Key: "pbk", Value: "AbC+123"}, // '+' must survive decoding
	}
	if diff := cmp.Diff(want, c.Params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
	if c.Host != "example.com" || c.Port != 443 || c.User != "u" {
		t.Fatalf("candidate=%+v", c)
	}
}

func TestLineAmpArtifactRemoved(t *testing.T) {
	line := "vless://u@example.com:443?security=reality&amp;sni=a"
	c, ok := Line(line, "vless", realityFilter, nil)
	if !ok {
		t.Fatal("expected candidate")
	}
	if v, _ := paramsOf(c).Get("sni"); v != "a" {
		t.Fatalf("sni=%q, want=a", v)
	}
}

func TestLineNoExplicitPort(t *testing.T) {
	c, ok := Line("vless://u@example.com?security=reality", "vless", realityFilter, nil)
	if !ok {
		t.Fatal("expected candidate")
	}
	if c.Port != 0 {
		t.Fatalf("port=%d, want=0 (unset)", c.Port)
	}
}

func TestLineKeepsRepeatedKeys(t *testing.T) {
	c, ok := Line("vless://u@example.com:443?security=reality&sni=a&sni=b", "vless", realityFilter, nil)
	if !ok {
		t.Fatal("expected candidate")
	}
	// The parser preserves raw order; collapsing happens at Endpoint
	// construction.
	want := []model.KV{
		{Key: "security", Value: "reality"},
		{Key: "sni", Value: "a"},
		{Key: "sni", Value: "b"},
	}
	if diff := cmp.Diff(want, c.Params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestVmessLine(t *testing.T) {
	payload := `{"add":"example.com","port":443,"id":"abc-def","ps":"name"}`
	line := "vmess://" + base64.StdEncoding.EncodeToString([]byte(payload))

	c, ok := Line(line, "vmess", nil, nil)
	if !ok {
		t.Fatal("expected candidate")
	}
	if c.Protocol != "vmess" || c.Host != "example.com" || c.Port != 443 || c.User != "abc-def" {
		t.Fatalf("candidate=%+v", c)
	}
	if len(c.Params) != 0 {
		t.Fatalf("params=%v, want none", c.Params)
	}
}

func TestVmessLineRawBase64(t *testing.T) {
	payload := `{"add":"example.com","port":8443,"id":"abc"}`
	line := "vmess://" + base64.RawURLEncoding.EncodeToString([]byte(payload))
	if _, ok := Line(line, "vmess", nil, nil); !ok {
		t.Fatal("raw url-safe base64 should decode via fallback")
	}
}

func TestVmessLineFailures(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"bad base64", "vmess://!!!!"},
		{"not json", "vmess://" + base64.StdEncoding.EncodeToString([]byte("nope"))},
		{"missing id", "vmess://" + base64.StdEncoding.EncodeToString([]byte(`{"add":"a","port":443}`))},
		{"string port", "vmess://" + base64.StdEncoding.EncodeToString([]byte(`{"add":"a","port":"443","id":"x"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Line(tt.line, "vmess", nil, nil); ok {
				t.Fatal("expected no candidate")
			}
		})
	}
}

func TestFilters(t *testing.T) {
	got := Filters("security=reality,type=grpc,broken")
	want := []Filter{{Key: "security", Value: "reality"}, {Key: "type", Value: "grpc"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("filters mismatch (-want +got):\n%s", diff)
	}
}

func paramsOf(c *Candidate) model.Params {
	var p model.Params
	for _, kv := range c.Params {
		p.Set(kv.Key, kv.Value)
	}
	return p
}
