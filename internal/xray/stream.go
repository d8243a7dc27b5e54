package xray

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/John-Robertt/proxycheck-go/internal/model"
)

type streamSettings struct {
	Network  string `json:"network"`
	Security string `json:"security"`

	RealitySettings *realitySettings `json:"realitySettings,omitempty"`
	TLSSettings     *tlsSettings     `json:"tlsSettings,omitempty"`
	WSSettings      *wsSettings      `json:"wsSettings,omitempty"`
	GRPCSettings    *grpcSettings    `json:"grpcSettings,omitempty"`
	XHTTPSettings   *xhttpSettings   `json:"xhttpSettings,omitempty"`
}

type realitySettings struct {
	ServerName  string  `json:"serverName"`
	PublicKey   string  `json:"publicKey"`
	ShortID     string  `json:"shortId"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	SpiderX     string  `json:"spiderX,omitempty"`
	PrivateKey  string  `json:"privateKey,omitempty"`
	XVer        *uint32 `json:"xver,omitempty"`
}

type tlsSettings struct {
	ServerName  string   `json:"serverName"`
	ALPN        []string `json:"alpn,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

type wsSettings struct {
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
}

type grpcSettings struct {
	ServiceName string `json:"serviceName"`
}

type xhttpSettings struct {
	Path  string         `json:"path,omitempty"`
	Host  string         `json:"host,omitempty"`
	Mode  string         `json:"mode,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// streamSettingsFor builds the transport/security block for trojan, vless and
// vmess outbounds. It returns nil — plain TCP, no block at all — when security
// is "none", when the network type is http/h2, or when a required security
// parameter is missing. Partial blocks are never emitted.
func streamSettingsFor(params model.Params) *streamSettings {
	security := "none"
	if v, ok := params.Get("security"); ok {
		security = v
	}
	network := "tcp"
	if v, ok := params.Get("type"); ok {
		network = v
	}

	if security == "none" || network == "http" || network == "h2" {
		return nil
	}

	ss := &streamSettings{Network: network, Security: security}

	switch security {
	case "reality":
		ss.RealitySettings = realitySettingsFor(params)
		if ss.RealitySettings == nil {
			return nil
		}
	case "tls":
		ss.TLSSettings = tlsSettingsFor(params)
		if ss.TLSSettings == nil {
			return nil
		}
	}

	applyNetworkSettings(ss, params, network)
	return ss
}

func realitySettingsFor(params model.Params) *realitySettings {
	sni, okSNI := params.Get("sni")
	pbk, okPBK := params.Get("pbk")
	sid, okSID := params.Get("sid")
	if !okSNI || !okPBK || !okSID {
		return nil
	}

	rs := &realitySettings{
		ServerName: truncateAtEq(sni),
		PublicKey:  truncateAtEq(pbk),
		ShortID:    normalizeShortID(sid),
	}
	if v, ok := params.Get("fp"); ok {
		rs.Fingerprint = v
	}
	if v, ok := params.Get("spx"); ok {
		rs.SpiderX = v
	}
	if v, ok := params.Get("privateKey"); ok {
		rs.PrivateKey = v
	}
	if v, ok := params.Get("xver"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			xver := uint32(n)
			rs.XVer = &xver
		}
	}
	return rs
}

// normalizeShortID repairs the short-id values found in the wild: trimmed,
// left-padded with one '0' when odd length, truncated to 16 chars, and
// replaced wholesale with "00" when anything non-hex remains.
func normalizeShortID(shortID string) string {
	s := strings.TrimSpace(shortID)
	if len(s)%2 == 1 {
		s = "0" + s
	}
	if len(s) > 16 {
		s = s[:16]
	}
	for _, c := range s {
		if !isHexDigit(c) {
			return "00"
		}
	}
	return s
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func tlsSettingsFor(params model.Params) *tlsSettings {
	sni, ok := params.Get("sni")
	if !ok {
		return nil
	}
	ts := &tlsSettings{ServerName: sni}
	if v, ok := params.Get("alpn"); ok {
		ts.ALPN = strings.Split(v, ",")
	}
	if v, ok := params.Get("fp"); ok {
		ts.Fingerprint = v
	}
	return ts
}

func applyNetworkSettings(ss *streamSettings, params model.Params, network string) {
	switch network {
	case "ws":
		if path, ok := params.Get("path"); ok {
			ws := &wsSettings{Path: percentDecode(path)}
			if host, ok := params.Get("host"); ok {
				ws.Headers = map[string]string{"Host": host}
			}
			ss.WSSettings = ws
		}
	case "grpc":
		if name, ok := params.Get("serviceName"); ok {
			ss.GRPCSettings = &grpcSettings{ServiceName: name}
		}
	case "xhttp":
		xs := &xhttpSettings{}
		if path, ok := params.Get("path"); ok {
			xs.Path = percentDecode(path)
		}
		if host, ok := params.Get("host"); ok {
			xs.Host = host
		}
		if mode, ok := params.Get("mode"); ok && mode != "auto" {
			xs.Mode = mode
		}
		xs.Extra = xhttpExtra(params)
		if xs.Path != "" || xs.Host != "" || xs.Mode != "" || len(xs.Extra) > 0 {
			ss.XHTTPSettings = xs
		}
	}
}

// xhttpExtra collects the loosely-typed xhttp tuning blob: an embedded
// headers JSON object when it parses, numeric and boolean tuning fields, and
// the scStreamUpServerSecs value passed through as a string.
func xhttpExtra(params model.Params) map[string]any {
	extra := make(map[string]any)

	if raw, ok := params.Get("headers"); ok {
		var headers any
		if err := json.Unmarshal([]byte(raw), &headers); err == nil {
			extra["headers"] = headers
		}
	}

	numericFields := []string{
		"xPaddingBytes",
		"scMaxEachPostBytes",
		"scMinPostsIntervalMs",
		"scMaxBufferedPosts",
	}
	for _, field := range numericFields {
		if v, ok := params.Get(field); ok {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				extra[field] = uint32(n)
			}
		}
	}

	for _, field := range []string{"noGRPCHeader", "noSSEHeader"} {
		if v, ok := params.Get(field); ok {
			extra[field] = v == "true"
		}
	}

	if v, ok := params.Get("scStreamUpServerSecs"); ok {
		extra["scStreamUpServerSecs"] = v
	}

	if len(extra) == 0 {
		return nil
	}
	return extra
}

func truncateAtEq(s string) string {
	head, _, _ := strings.Cut(s, "=")
	return head
}

func percentDecode(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	return s
}
