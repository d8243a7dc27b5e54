// Package parse turns raw source-list lines into candidate endpoint
// descriptors. A line that fails any decode, scheme, or whitelist check is
// simply not a candidate; parsing never returns an error.
package parse

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/proxycheck-go/internal/model"
)

// Filter is a required query parameter: the candidate must carry exactly
// Key=Value to pass the whitelist gate.
type Filter struct {
	Key   string
	Value string
}

// Filters parses a comma-separated "k=v,k2=v2" whitelist spec. Entries
// without '=' are ignored.
func Filters(s string) []Filter {
	var out []Filter
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out = append(out, Filter{Key: k, Value: v})
	}
	return out
}

// Candidate is a pre-resolution endpoint descriptor. Params preserves raw
// query order and may still contain repeated keys; they collapse when the
// resolve stage constructs the Endpoint.
type Candidate struct {
	Protocol string
	User     string
	Host     string
	Port     uint16 // 0 = unset, resolved later from the scheme default
	Params   []model.KV
}

// Line parses one raw line into a candidate for targetScheme. strip lists
// parameter keys removed outright during normalization.
func Line(line, targetScheme string, filters []Filter, strip []string) (*Candidate, bool) {
	// Some sources HTML-escape their URLs; drop the artifact before anything else.
	cleaned := strings.ReplaceAll(line, "amp;", "")

	if targetScheme == "vmess" && strings.HasPrefix(cleaned, "vmess://") {
		return vmessLine(cleaned)
	}

	u, err := url.Parse(cleaned)
	if err != nil || u.Scheme != targetScheme {
		return nil, false
	}

	pairs := queryPairs(u.RawQuery)
	for _, f := range filters {
		if !slices.Contains(pairs, model.KV{Key: f.Key, Value: f.Value}) {
			return nil, false
		}
	}

	params := make([]model.KV, 0, len(pairs))
	for _, kv := range pairs {
		if slices.Contains(strip, kv.Key) {
			continue
		}
		// "none" values and type=tcp are scheme defaults that the forwarding
		// engine misreads when spelled out.
		if kv.Value == "none" || (kv.Key == "type" && kv.Value == "tcp") {
			continue
		}
		// Some sources inject a second '='-delimited suffix into values; only
		// the prefix is valid.
		value, _, _ := strings.Cut(kv.Value, "=")
		params = append(params, model.KV{Key: kv.Key, Value: value})
	}

	var port uint16
	if ps := u.Port(); ps != "" {
		n, err := strconv.ParseUint(ps, 10, 16)
		if err != nil {
			return nil, false
		}
		port = uint16(n)
	}

	return &Candidate{
		Protocol: u.Scheme,
		User:     u.User.Username(),
		Host:     u.Hostname(),
		Port:     port,
		Params:   params,
	}, true
}

// vmessLine handles the vmess:// form, whose payload is a base64-encoded JSON
// object rather than a generic URI.
func vmessLine(line string) (*Candidate, bool) {
	raw, err := decodeB64(strings.TrimPrefix(line, "vmess://"))
	if err != nil || !utf8.Valid(raw) {
		return nil, false
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false
	}

	addr, ok := cfg["add"].(string)
	if !ok || addr == "" {
		return nil, false
	}
	port, ok := cfg["port"].(float64)
	if !ok || port < 1 || port > 65535 {
		return nil, false
	}
	id, ok := cfg["id"].(string)
	if !ok || id == "" {
		return nil, false
	}

	return &Candidate{
		Protocol: "vmess",
		User:     id,
		Host:     addr,
		Port:     uint16(port),
	}, true
}

// queryPairs splits a raw query on '&'/'=' and percent-decodes with path
// semantics. net/url.ParseQuery would decode '+' as space and corrupt base64
// values such as pbk, so the query is parsed manually.
func queryPairs(rawQuery string) []model.KV {
	if rawQuery == "" {
		return nil
	}
	parts := strings.Split(rawQuery, "&")
	out := make([]model.KV, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		if dk, err := url.PathUnescape(k); err == nil {
			k = dk
		}
		if dv, err := url.PathUnescape(v); err == nil {
			v = dv
		}
		out = append(out, model.KV{Key: k, Value: v})
	}
	return out
}

func decodeB64(s string) ([]byte, error) {
	// Try standard alphabet (with padding) first, then URL-safe, then raw (no padding).
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
