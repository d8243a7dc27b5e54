// Package xray compiles a batch of resolved endpoints into the configuration
// document consumed by the xray forwarding engine: one local SOCKS inbound and
// one protocol-specific outbound per endpoint, bound by a routing rule.
package xray

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/John-Robertt/proxycheck-go/internal/model"
)

type GenerateError struct {
	AppError model.AppError
	Cause    error
}

func (e *GenerateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *GenerateError) Unwrap() error { return e.Cause }

type document struct {
	Log       logSettings `json:"log"`
	Inbounds  []inbound   `json:"inbounds"`
	Outbounds []outbound  `json:"outbounds"`
	Routing   routing     `json:"routing"`
}

type logSettings struct {
	LogLevel string `json:"loglevel"`
}

type inbound struct {
	Listen   string          `json:"listen"`
	Port     int             `json:"port"`
	Protocol string          `json:"protocol"`
	Settings inboundSettings `json:"settings"`
	Tag      string          `json:"tag"`
}

type inboundSettings struct {
	Auth string `json:"auth"`
	UDP  bool   `json:"udp"`
}

type outbound struct {
	Protocol       string          `json:"protocol"`
	Settings       any             `json:"settings,omitempty"`
	StreamSettings *streamSettings `json:"streamSettings,omitempty"`
	Tag            string          `json:"tag"`
}

type routing struct {
	DomainStrategy string `json:"domainStrategy"`
	Rules          []rule `json:"rules"`
}

type rule struct {
	Type        string   `json:"type"`
	InboundTag  []string `json:"inboundTag"`
	OutboundTag string   `json:"outboundTag"`
}

// Generate compiles one chunk into a config document. Listener i gets port
// basePort+i. One unsupported protocol fails the whole document; partial
// chunks are never emitted.
func Generate(endpoints []*model.Endpoint, basePort int) ([]byte, error) {
	doc := document{
		Log:     logSettings{LogLevel: "error"},
		Routing: routing{DomainStrategy: "IPIfNonMatch"},
	}

	for i, ep := range endpoints {
		inboundTag := fmt.Sprintf("socks-in-%d", i)
		doc.Inbounds = append(doc.Inbounds, inbound{
			Listen:   "127.0.0.1",
			Port:     basePort + i,
			Protocol: "socks",
			Settings: inboundSettings{Auth: "noauth", UDP: true},
			Tag:      inboundTag,
		})

		out, err := outboundFor(ep, i)
		if err != nil {
			return nil, err
		}
		doc.Outbounds = append(doc.Outbounds, out)
		doc.Routing.Rules = append(doc.Routing.Rules, rule{
			Type:        "field",
			InboundTag:  []string{inboundTag},
			OutboundTag: out.Tag,
		})
	}

	doc.Outbounds = append(doc.Outbounds, outbound{Protocol: "freedom", Tag: "direct"})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, &GenerateError{
			AppError: model.AppError{
				Code:    "CONFIG_MARSHAL_ERROR",
				Message: "failed to serialize engine config",
				Stage:   "generate_config",
			},
			Cause: err,
		}
	}
	return data, nil
}

func outboundFor(ep *model.Endpoint, index int) (outbound, error) {
	switch ep.Protocol {
	case "http", "https":
		return outbound{
			Protocol: "http",
			Settings: serverSettingsFor(ep),
			Tag:      fmt.Sprintf("http-out-%d", index),
		}, nil
	case "socks", "socks5":
		return outbound{
			Protocol: "socks",
			Settings: serverSettingsFor(ep),
			Tag:      fmt.Sprintf("socks-out-%d", index),
		}, nil
	case "ss", "shadowsocks":
		return shadowsocksOutbound(ep, index), nil
	case "trojan":
		settings := serverSettingsFor(ep)
		settings.Password = ep.User
		return outbound{
			Protocol:       "trojan",
			Settings:       settings,
			StreamSettings: streamSettingsFor(ep.Params),
			Tag:            fmt.Sprintf("trojan-out-%d", index),
		}, nil
	case "vless":
		return vlessOutbound(ep, index), nil
	case "vmess":
		return vmessOutbound(ep, index), nil
	default:
		return outbound{}, &GenerateError{
			AppError: model.AppError{
				Code:    "UNSUPPORTED_PROTOCOL",
				Message: fmt.Sprintf("unsupported protocol: %s", ep.Protocol),
				Stage:   "generate_config",
				Snippet: ep.String(),
			},
		}
	}
}

type serverSettings struct {
	Address string `json:"address"`
	Port    int    `json:"port"`

	User  string `json:"user,omitempty"`
	Pass  string `json:"pass,omitempty"`
	Level *int   `json:"level,omitempty"`
	Email string `json:"email,omitempty"`

	// shadowsocks
	Method     string  `json:"method,omitempty"`
	UOT        *bool   `json:"uot,omitempty"`
	UOTVersion *uint32 `json:"UoTVersion,omitempty"`

	// trojan / shadowsocks
	Password string `json:"password,omitempty"`

	// vless
	ID         string `json:"id,omitempty"`
	Encryption string `json:"encryption,omitempty"`
	Flow       string `json:"flow,omitempty"`
}

func serverSettingsFor(ep *model.Endpoint) serverSettings {
	s := serverSettings{
		Address: ep.Address.String(),
		Port:    int(ep.Port),
	}
	if v, ok := ep.Params.Get("user"); ok {
		s.User = v
	}
	if v, ok := ep.Params.Get("pass"); ok {
		s.Pass = v
	}
	if v, ok := ep.Params.Get("level"); ok {
		// An unparsable level degrades to 0, it does not drop the field.
		n, err := strconv.Atoi(v)
		if err != nil {
			n = 0
		}
		s.Level = &n
	}
	if v, ok := ep.Params.Get("email"); ok {
		s.Email = v
	}
	return s
}

func shadowsocksOutbound(ep *model.Endpoint, index int) outbound {
	settings := serverSettingsFor(ep)
	settings.Method = "aes-256-gcm"
	if v, ok := ep.Params.Get("method"); ok {
		settings.Method = v
	}
	settings.Password = ep.User
	if v, ok := ep.Params.Get("uot"); ok {
		uot := v == "true"
		settings.UOT = &uot
	}
	if v, ok := ep.Params.Get("UoTVersion"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			version := uint32(n)
			settings.UOTVersion = &version
		}
	}
	return outbound{
		Protocol: "shadowsocks",
		Settings: settings,
		Tag:      fmt.Sprintf("ss-out-%d", index),
	}
}

func vlessOutbound(ep *model.Endpoint, index int) outbound {
	settings := serverSettingsFor(ep)
	settings.ID = ep.User
	settings.Encryption = "none"
	if v, ok := ep.Params.Get("flow"); ok {
		settings.Flow = v
	}
	return outbound{
		Protocol:       "vless",
		Settings:       settings,
		StreamSettings: streamSettingsFor(ep.Params),
		Tag:            fmt.Sprintf("vless-out-%d", index),
	}
}

type vmessSettings struct {
	Vnext []vnextServer `json:"vnext"`
}

type vnextServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []vmessUser `json:"users"`
}

type vmessUser struct {
	ID       string `json:"id"`
	Security string `json:"security"`
	Level    int    `json:"level"`
}

func vmessOutbound(ep *model.Endpoint, index int) outbound {
	security := "auto"
	if v, ok := ep.Params.Get("security"); ok {
		security = v
	}
	level := 0
	if v, ok := ep.Params.Get("level"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			level = n
		}
	}
	return outbound{
		Protocol: "vmess",
		Settings: vmessSettings{
			Vnext: []vnextServer{{
				Address: ep.Address.String(),
				Port:    int(ep.Port),
				Users: []vmessUser{{
					ID:       ep.User,
					Security: security,
					Level:    level,
				}},
			}},
		},
		StreamSettings: streamSettingsFor(ep.Params),
		Tag:            fmt.Sprintf("vmess-out-%d", index),
	}
}
