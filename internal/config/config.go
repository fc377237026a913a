// Package config loads the redirector's routing configuration.
//
// The configuration is read once at startup from a JSON document (or YAML,
// selected by file extension) and is immutable afterwards:
//
//	{
//	  "local":     "127.0.0.1:1080",
//	  "proxy":     "127.0.0.1:1081",
//	  "proxytype": "socks5",
//	  "autoproxy": true,
//	  "timeout":   200
//	}
//
// timeout is in milliseconds and may be null or omitted.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// ProxyType selects the handshake spoken to the upstream proxy.
type ProxyType string

const (
	// ProxyTypeSOCKS5 tunnels via a SOCKS5 CONNECT request.
	ProxyTypeSOCKS5 ProxyType = "socks5"
	// ProxyTypeHTTP tunnels via an HTTP CONNECT request.
	ProxyTypeHTTP ProxyType = "http"
)

// Config is the routing configuration shared by every connection.
type Config struct {
	// Local is the listen address.
	Local netip.AddrPort
	// Proxy is the upstream proxy address.
	Proxy     netip.AddrPort
	ProxyType ProxyType
	// AutoProxy enables a direct connection attempt before falling back to
	// the proxy.
	AutoProxy bool
	// Timeout bounds the direct connection attempt. Zero means no deadline.
	// Only used when AutoProxy is set.
	Timeout time.Duration
}

// file mirrors the on-disk document.
type file struct {
	Local     string `json:"local" yaml:"local"`
	Proxy     string `json:"proxy" yaml:"proxy"`
	ProxyType string `json:"proxytype" yaml:"proxytype"`
	AutoProxy bool   `json:"autoproxy" yaml:"autoproxy"`
	Timeout   *int64 `json:"timeout" yaml:"timeout"`
}

// Load reads and validates the configuration at path. Files ending in .yaml
// or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path) //nolint:gosec // Path is from the command line.
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f file
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := decodeJSON(b, &f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg, err := f.validate()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a JSON configuration document.
func Parse(b []byte) (*Config, error) {
	var f file
	if err := decodeJSON(b, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return f.validate()
}

func decodeJSON(b []byte, f *file) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(f); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after config object")
	}
	return nil
}

// maxTimeoutMillis is the largest timeout representable as a time.Duration.
const maxTimeoutMillis = math.MaxInt64 / int64(time.Millisecond)

func (f *file) validate() (*Config, error) {
	// Port 0 on local picks an ephemeral port.
	local, err := parseAddrPort("local", f.Local, true)
	if err != nil {
		return nil, err
	}
	proxy, err := parseAddrPort("proxy", f.Proxy, false)
	if err != nil {
		return nil, err
	}

	pt := ProxyType(strings.ToLower(strings.TrimSpace(f.ProxyType)))
	switch pt {
	case ProxyTypeSOCKS5, ProxyTypeHTTP:
	case "":
		return nil, errors.New("proxytype: missing")
	default:
		return nil, fmt.Errorf("proxytype: unsupported %q", f.ProxyType)
	}

	cfg := &Config{
		Local:     local,
		Proxy:     proxy,
		ProxyType: pt,
		AutoProxy: f.AutoProxy,
	}
	if f.Timeout != nil {
		if *f.Timeout < 0 {
			return nil, fmt.Errorf("timeout: must be >= 0, got %d", *f.Timeout)
		}
		if *f.Timeout > maxTimeoutMillis {
			return nil, fmt.Errorf("timeout: must be <= %d, got %d", maxTimeoutMillis, *f.Timeout)
		}
		cfg.Timeout = time.Duration(*f.Timeout) * time.Millisecond
	}
	return cfg, nil
}

func parseAddrPort(field, s string, allowZeroPort bool) (netip.AddrPort, error) {
	if s == "" {
		return netip.AddrPort{}, fmt.Errorf("%s: missing", field)
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%s: %w", field, err)
	}
	if ap.Port() == 0 && !allowZeroPort {
		return netip.AddrPort{}, fmt.Errorf("%s: port must be non-zero", field)
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
