package responder

import (
	"log/slog"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/joshuafuller/mdnsd/internal/engine"
	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/transport"
)

// Option is a functional option for configuring a Responder.
//
// Options are applied in order during New, before any goroutine starts. An
// option returning an error aborts New.
//
// Example:
//
//	resp, err := responder.New(ctx,
//	    responder.WithHostname("mydevice"),
//	    responder.WithInstance("Living Room Speaker"),
//	)
type Option func(*Responder) error

// WithHostname sets the host name advertised in A/AAAA and SRV records.
//
// RFC 6762 §6: the host name is a single label under .local. A trailing
// ".local" (with or without the final dot) is accepted and stripped.
//
// Without a host name the responder only resolves: interfaces go straight to
// running and nothing is probed or announced until SetHostname is called.
//
// Parameters:
//   - hostname: host label, e.g. "mydevice" or "mydevice.local"
func WithHostname(hostname string) Option {
	return func(r *Responder) error {
		r.hostname = trimLocal(hostname)
		return records.ValidateName("hostname", r.hostname)
	}
}

// WithInstance sets the default instance name shared by services that do
// not carry their own (RFC 6763 §4.1).
func WithInstance(instance string) Option {
	return func(r *Responder) error {
		r.instance = instance
		return records.ValidateName("instance", instance)
	}
}

// WithTTLs overrides record TTLs. Zero fields keep the RFC 6762 §10
// defaults: 4500s for PTR and TXT, 120s for SRV and address records.
func WithTTLs(ttls TTLs) Option {
	return func(r *Responder) error {
		r.ttls = ttls
		return nil
	}
}

// WithClock replaces the wall clock. Tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(r *Responder) error {
		r.clock = c
		return nil
	}
}

// WithLogger routes engine logs through l instead of the process default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) error {
		r.logger = l
		return nil
	}
}

// WithInterfaces restricts the responder to the named interfaces. By
// default every up, multicast-capable, non-loopback interface is served.
func WithInterfaces(names ...string) Option {
	return func(r *Responder) error {
		r.interfaces = append([]string(nil), names...)
		return nil
	}
}

// WithIPVersions selects the address families served. Both are enabled by
// default. It shapes the default transport and the interface monitor; a
// transport supplied with WithTransport is used as is.
func WithIPVersions(ipv4, ipv6 bool) Option {
	return func(r *Responder) error {
		if !ipv4 && !ipv6 {
			return &errors.ValidationError{Field: "ip versions", Value: nil, Message: "enable IPv4, IPv6 or both"}
		}
		r.ipv4, r.ipv6 = ipv4, ipv6
		return nil
	}
}

// WithMetrics reports engine activity to m, typically *metrics.Metrics.
func WithMetrics(m engine.Metrics) Option {
	return func(r *Responder) error {
		r.metrics = m
		return nil
	}
}

// WithTransport supplies the sockets. The caller owns t: Close does not
// close it, and the caller runs ServeTransport to feed received datagrams
// to the responder.
func WithTransport(t transport.Transport) Option {
	return func(r *Responder) error {
		r.transport = t
		return nil
	}
}

// WithAddrSource supplies interface addresses. With this option no
// interface monitor runs; the caller reports interfaces through
// InterfaceUp, InterfaceDown and AddressChanged.
func WithAddrSource(a engine.AddrSource) Option {
	return func(r *Responder) error {
		r.addrs = a
		return nil
	}
}

func trimLocal(name string) string {
	name = strings.TrimSuffix(name, ".")
	if i := len(name) - len(".local"); i > 0 && strings.EqualFold(name[i:], ".local") {
		name = name[:i]
	}
	return name
}
