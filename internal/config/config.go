// Package config loads the daemon configuration from YAML.
//
// Example:
//
//	hostname: office-pi
//	instance: Office Pi
//	interfaces: [eth0]
//	ipv6: false
//	log:
//	  level: debug
//	metrics:
//	  addr: ":9153"
//	services:
//	  - type: _http
//	    proto: _tcp
//	    port: 8080
//	    txt: ["path=/", "version=2"]
package config

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/records"
)

// Config is the daemon configuration.
type Config struct {
	// Hostname is advertised as <hostname>.local. Empty makes the daemon
	// resolver-only.
	Hostname string `yaml:"hostname"`

	// Instance is the default service instance name.
	Instance string `yaml:"instance"`

	// Interfaces restricts the daemon to the named interfaces. Empty means
	// every multicast-capable interface that is up.
	Interfaces []string `yaml:"interfaces"`

	IPv4 bool `yaml:"ipv4"`
	IPv6 bool `yaml:"ipv6"`

	// TTL overrides; zero fields keep the RFC 6762 defaults.
	TTL records.TTLs `yaml:"ttl"`

	Log      LogConfig       `yaml:"log"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Services []ServiceConfig `yaml:"services"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// ServiceConfig is a statically declared service.
type ServiceConfig struct {
	Instance string   `yaml:"instance"`
	Type     string   `yaml:"type"`
	Proto    string   `yaml:"proto"`
	Port     uint16   `yaml:"port"`
	Priority uint16   `yaml:"priority"`
	Weight   uint16   `yaml:"weight"`
	TXT      []string `yaml:"txt"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	hostname, _ := os.Hostname()
	if i := strings.IndexByte(hostname, '.'); i > 0 {
		hostname = hostname[:i]
	}
	return &Config{
		Hostname: hostname,
		IPv4:     true,
		IPv6:     true,
		TTL:      records.DefaultTTLs(),
		Log:      LogConfig{Level: "info", Format: "text"},
		Metrics:  MetricsConfig{Path: "/metrics"},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.TTL = c.TTL.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every problem found, combined.
func (c *Config) Validate() error {
	var err error
	if c.Hostname != "" {
		err = multierr.Append(err, records.ValidateName("hostname", c.Hostname))
	}
	if c.Instance != "" {
		err = multierr.Append(err, records.ValidateName("instance", c.Instance))
	}
	if !c.IPv4 && !c.IPv6 {
		err = multierr.Append(err, &errors.ValidationError{Field: "ipv4/ipv6", Value: false, Message: "at least one address family must be enabled"})
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		err = multierr.Append(err, &errors.ValidationError{Field: "log.format", Value: c.Log.Format, Message: "must be text or json"})
	}
	if len(c.Services) > 0 && c.Hostname == "" {
		err = multierr.Append(err, &errors.ValidationError{Field: "hostname", Value: "", Message: "required to advertise services"})
	}

	seen := make(map[string]bool)
	for i := range c.Services {
		svc, serr := c.Services[i].Service()
		if serr != nil {
			err = multierr.Append(err, fmt.Errorf("services[%d]: %w", i, serr))
			continue
		}
		key := strings.ToLower(svc.Type + "." + svc.Proto)
		if seen[key] {
			err = multierr.Append(err, fmt.Errorf("services[%d]: %s: %w", i, key, errors.ErrDuplicateService))
		}
		seen[key] = true
	}
	return err
}

// Service converts s into a validated service record.
func (s ServiceConfig) Service() (*records.Service, error) {
	svc := &records.Service{
		Instance: s.Instance,
		Type:     records.NormalizeLabel(s.Type),
		Proto:    records.NormalizeLabel(s.Proto),
		Port:     s.Port,
		Priority: s.Priority,
		Weight:   s.Weight,
	}
	for _, kv := range s.TXT {
		key, value, _ := strings.Cut(kv, "=")
		if key == "" {
			return nil, &errors.ValidationError{Field: "txt", Value: kv, Message: "empty key"}
		}
		svc.SetTXT(key, value)
	}
	if svc.Port == 0 {
		return nil, &errors.ValidationError{Field: "port", Value: 0, Message: "must not be zero"}
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	return svc, nil
}
