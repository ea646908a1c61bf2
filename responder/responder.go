// Package responder advertises services on the local link with Multicast
// DNS and resolves names and services advertised by others.
//
// ## WHY THIS PACKAGE EXISTS
//
// Devices on a local network need to find each other (printers, web
// consoles, IoT endpoints) without a DNS server or manual configuration.
// This package is the public face of an RFC 6762/6763 engine: it claims a
// host name and service instance names, answers queries for them, defends
// them against conflicting peers, and runs one-shot queries on behalf of
// the application.
//
// ## PRIMARY TECHNICAL AUTHORITY
//
// - RFC 6762 §5-§11: message format, responding, known-answer suppression,
//   probing, announcing, conflict resolution, TTLs
// - RFC 6763 §4-§9: service instance names, TXT records, service type
//   enumeration
// - RFC 1035 §3-§4: DNS message format and name compression
//
// ## DESIGN
//
// All protocol state lives in a single engine goroutine. Public methods
// post actions to it over a bounded channel of 16 entries and, where a
// result is needed, wait for the reply bounded by the caller's context. A
// full channel is reported as ErrQueueFull rather than blocking.
//
// Each interface and IP version pair is an independent slot progressing
// through:
//
//	Off → Init → Probe1 → Probe2 → Probe3 → Announce1 → Announce2 → Announce3 → Running
//
// Probes go out 250ms apart after a random initial delay of 120-247ms
// (RFC 6762 §8.1); announcements go out 1s apart (RFC 6762 §8.3). A slot
// whose peer interface sits on the same subnet is parked as a duplicate and
// stays silent until the peer goes away.
//
// ## KEY CONCEPTS
//
// - Service: a (type, proto) pair such as ("_http", "_tcp") with a port and
//   TXT metadata. At most one Service per pair is registered.
//
// - Instance: the user-visible label of a service, "My Printer" in
//   "My Printer._ipp._tcp.local". A service without its own instance uses
//   the responder instance, else the host name.
//
// - Conflict: another host answers for one of our names with different
//   data. While probing, the loser renames: "name" becomes "name-2",
//   "name-2" becomes "name-3" (RFC 6762 §9).
//
// - Goodbye: a response with TTL 0 that flushes records from peer caches,
//   sent when a service is removed, renamed or the responder closes
//   (RFC 6762 §10.1).
//
// ## EXAMPLE USAGE
//
// Advertise a web server:
//
//	resp, err := responder.New(ctx, responder.WithHostname("mydevice"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer resp.Close()
//
//	err = resp.AddService(ctx, &responder.Service{
//	    Instance: "My Web Server",
//	    Type:     "_http",
//	    Proto:    "_tcp",
//	    Port:     8080,
//	    TXT:      []responder.TXTItem{{Key: "path", Value: "/"}},
//	})
//
// Browse for printers:
//
//	results, err := resp.QueryPTR(ctx, "_ipp", "_tcp", 3*time.Second, 10)
//	for _, r := range results {
//	    fmt.Println(r.Instance, r.Hostname, r.Port, r.Addrs)
//	}
package responder

import (
	"context"
	goerrors "errors"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/joshuafuller/mdnsd/internal/engine"
	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/log"
	"github.com/joshuafuller/mdnsd/internal/netif"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/search"
	"github.com/joshuafuller/mdnsd/internal/state"
	"github.com/joshuafuller/mdnsd/internal/transport"
)

// Public names for the engine's data types.
type (
	// Service is a DNS-SD service to advertise.
	Service = records.Service
	// TXTItem is one key=value pair of a TXT record (RFC 6763 §6).
	TXTItem = records.TXTItem
	// TTLs holds per-record-type TTL overrides.
	TTLs = records.TTLs
	// Result is what a query learned about one instance or host on one
	// interface.
	Result = search.Result
	// RecordType is a DNS resource record type.
	RecordType = protocol.RecordType
	// IPVersion selects IPv4 or IPv6.
	IPVersion = state.IPVersion
	// Snapshot is a point-in-time copy of the responder's state.
	Snapshot = engine.Snapshot
)

// Record types accepted by Query.
const (
	TypeA    = protocol.RecordTypeA
	TypePTR  = protocol.RecordTypePTR
	TypeTXT  = protocol.RecordTypeTXT
	TypeAAAA = protocol.RecordTypeAAAA
	TypeSRV  = protocol.RecordTypeSRV
	TypeANY  = protocol.RecordTypeANY
)

// IP versions.
const (
	IPv4 = state.IPv4
	IPv6 = state.IPv6
)

// Errors callers can match with errors.Is.
var (
	ErrInvalidArgument  = errors.ErrInvalidArgument
	ErrDuplicateService = errors.ErrDuplicateService
	ErrServiceNotFound  = errors.ErrServiceNotFound
	ErrNotRunning       = errors.ErrNotRunning
	ErrQueueFull        = errors.ErrQueueFull
	ErrNoHostname       = errors.ErrNoHostname
	ErrNotFound         = errors.ErrNotFound
)

// Responder advertises services and answers queries on the local link.
//
// RFC 6762 §5-§11: Multicast DNS responder and one-shot resolver
//
// A Responder owns:
//  1. the protocol engine goroutine and its tick goroutine
//  2. a transport, unless one was supplied with WithTransport
//  3. an interface monitor, unless addresses come from WithAddrSource
//
// All methods are safe for concurrent use.
type Responder struct {
	hostname   string
	instance   string
	ttls       TTLs
	clock      clock.Clock
	logger     *slog.Logger
	metrics    engine.Metrics
	interfaces []string
	ipv4       bool
	ipv6       bool
	transport  transport.Transport
	addrs      engine.AddrSource

	engine       *engine.Engine
	monitor      *netif.Monitor
	ownTransport bool
	log          *log.LazyLogger

	cancel context.CancelFunc
	group  *errgroup.Group

	mu     sync.Mutex
	joined map[state.Key]bool

	closed atomic.Bool
}

// New creates and starts a responder.
//
// RFC 6762 §5: the default transport binds UDP port 5353 on IPv4 and IPv6
// and joins 224.0.0.251 and ff02::fb on each usable interface.
//
// New:
//  1. applies opts
//  2. opens the default UDP transport unless WithTransport was given
//  3. starts the protocol engine
//  4. starts the receive loop for its own transport
//  5. brings up the current interfaces and watches them for changes,
//     unless WithAddrSource was given
//
// Parameters:
//   - ctx: bounds the receive loop and the interface monitor
//   - opts: functional options
//
// Returns:
//   - *Responder: the running responder
//   - error: ValidationError for bad options, NetworkError when the
//     sockets cannot be opened
func New(ctx context.Context, opts ...Option) (*Responder, error) {
	r := &Responder{
		clock:  clock.New(),
		ipv4:   true,
		ipv6:   true,
		joined: make(map[state.Key]bool),
		log:    log.Logger("responder"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.logger != nil {
		r.log = log.FromSlog(r.logger, "responder")
	}

	if r.transport == nil {
		t, err := transport.NewUDP(transport.Config{IPv4: r.ipv4, IPv6: r.ipv6, Port: protocol.Port})
		if err != nil {
			return nil, err
		}
		r.transport = t
		r.ownTransport = true
	}

	if r.addrs == nil {
		table := netif.NewTable(nil)
		r.addrs = table
		r.monitor = netif.NewMonitor(r.interfaces, table)
		r.monitor.Clock = r.clock
	}

	e, err := engine.New(engine.Config{
		Hostname: r.hostname,
		Instance: r.instance,
		TTLs:     r.ttls,
		Sender:   r.transport,
		Addrs:    r.addrs,
		Clock:    r.clock,
		Logger:   r.logger,
		Metrics:  r.metrics,
	})
	if err == nil {
		err = e.Start()
	}
	if err != nil {
		if r.ownTransport {
			_ = r.transport.Close()
		}
		return nil, err
	}
	r.engine = e

	ctx, r.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	r.group = g
	if r.ownTransport {
		g.Go(func() error { return r.ServeTransport(gctx) })
	}
	if r.monitor != nil {
		changes, err := r.monitor.Poll()
		if err != nil {
			r.log.Warn("listing interfaces failed", "err", err)
		}
		for _, c := range changes {
			r.applyChange(c)
		}
		g.Go(func() error { return r.monitor.Run(gctx, r.applyChange) })
	}
	return r, nil
}

// Close sends goodbye packets for everything advertised, stops the engine
// and releases the transport if the responder opened it. Close is
// idempotent.
//
// RFC 6762 §10.1: goodbyes carry TTL 0 so peers flush the records at once.
func (r *Responder) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.engine.Close()
	r.cancel()
	err = multierr.Append(err, r.group.Wait())
	if r.ownTransport {
		err = multierr.Append(err, r.transport.Close())
	}
	return err
}

// ServeTransport feeds datagrams from the transport to the engine until ctx
// is done. New runs it for the default transport; callers that supply a
// transport with WithTransport run it themselves.
func (r *Responder) ServeTransport(ctx context.Context) error {
	return r.transport.Serve(ctx, func(slot state.Key, src netip.AddrPort, dst netip.Addr, b []byte) {
		err := r.engine.HandlePacket(engine.Inbound{Slot: slot, Src: src, Dst: dst, Data: b})
		if err != nil && !goerrors.Is(err, errors.ErrQueueFull) {
			r.log.Debug("packet not handled", "slot", slot, "src", src, "err", err)
		}
	})
}

func (r *Responder) applyChange(c netif.Change) {
	if (c.Version == state.IPv4 && !r.ipv4) || (c.Version == state.IPv6 && !r.ipv6) {
		return
	}
	var err error
	switch c.Kind {
	case netif.Up:
		err = r.InterfaceUp(c.Interface.Index, c.Interface.Name, c.Version)
	case netif.Down:
		err = r.InterfaceDown(c.Interface.Index, c.Version)
	case netif.AddressChanged:
		err = r.AddressChanged(c.Interface.Index, c.Version)
	}
	if err != nil {
		r.log.Warn("interface change not applied", "interface", c.Interface.Name, "version", c.Version, "change", c.Kind, "err", err)
	}
}

// InterfaceUp joins the mDNS group on the interface and starts probing
// there (RFC 6762 §8).
//
// Returns a NetworkError if the group cannot be joined, ErrQueueFull if the
// engine is saturated.
func (r *Responder) InterfaceUp(ifIndex int, name string, v IPVersion) error {
	key := state.Key{Interface: ifIndex, Version: v}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.joined[key] {
		if err := r.transport.Join(ifIndex, v); err != nil {
			return err
		}
		r.joined[key] = true
	}
	return r.engine.HandleEvent(engine.Event{Kind: engine.EventUp, Interface: ifIndex, Name: name, Version: v})
}

// InterfaceDown stops serving the interface for v and leaves the group.
func (r *Responder) InterfaceDown(ifIndex int, v IPVersion) error {
	key := state.Key{Interface: ifIndex, Version: v}
	err := r.engine.HandleEvent(engine.Event{Kind: engine.EventDown, Interface: ifIndex, Version: v})
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.joined[key] {
		delete(r.joined, key)
		if lerr := r.transport.Leave(ifIndex, v); lerr != nil {
			r.log.Debug("leaving group failed", "slot", key, "err", lerr)
		}
	}
	return err
}

// AddressChanged re-announces the host on the interface after its address
// for v changed (RFC 6762 §8.4).
func (r *Responder) AddressChanged(ifIndex int, v IPVersion) error {
	return r.engine.HandleEvent(engine.Event{Kind: engine.EventAddressChanged, Interface: ifIndex, Version: v})
}

// SetHostname replaces the host name. Everything advertised under the old
// name is withdrawn with goodbyes and every interface probes again.
func (r *Responder) SetHostname(ctx context.Context, hostname string) error {
	return r.engine.SetHostname(ctx, trimLocal(hostname))
}

// SetInstance replaces the default instance name. Services without their
// own instance are withdrawn and probed again under the new name.
func (r *Responder) SetInstance(ctx context.Context, instance string) error {
	return r.engine.SetInstance(ctx, instance)
}

// AddService registers svc and starts probing it on every running
// interface.
//
// RFC 6762 §8.1: the instance name is probed before it is announced; a
// conflicting peer causes a rename, visible through Snapshot.
//
// Returns ErrDuplicateService if (svc.Type, svc.Proto) is already
// registered, ErrNoHostname if no host name is set, or a ValidationError.
func (r *Responder) AddService(ctx context.Context, svc *Service) error {
	return r.engine.AddService(ctx, svc)
}

// RemoveService withdraws the service with goodbye packets.
func (r *Responder) RemoveService(ctx context.Context, service, proto string) error {
	return r.engine.RemoveService(ctx, service, proto)
}

// RemoveAllServices withdraws every service.
func (r *Responder) RemoveAllServices(ctx context.Context) error {
	return r.engine.RemoveAllServices(ctx)
}

// SetServicePort changes the port and re-announces the SRV record.
func (r *Responder) SetServicePort(ctx context.Context, service, proto string, port uint16) error {
	return r.engine.SetServicePort(ctx, service, proto, port)
}

// SetServiceInstance renames the service. The old name is withdrawn and
// the new one probed.
func (r *Responder) SetServiceInstance(ctx context.Context, service, proto, instance string) error {
	return r.engine.SetServiceInstance(ctx, service, proto, instance)
}

// SetServiceTXT replaces the TXT items and re-announces them without
// probing (RFC 6762 §8.4).
func (r *Responder) SetServiceTXT(ctx context.Context, service, proto string, items []TXTItem) error {
	return r.engine.SetServiceTXT(ctx, service, proto, items)
}

// SetServiceTXTItem sets one TXT key, appending it when absent.
func (r *Responder) SetServiceTXTItem(ctx context.Context, service, proto, key, value string) error {
	return r.engine.SetServiceTXTItem(ctx, service, proto, key, value)
}

// RemoveServiceTXTItem deletes one TXT key.
func (r *Responder) RemoveServiceTXTItem(ctx context.Context, service, proto, key string) error {
	return r.engine.RemoveServiceTXTItem(ctx, service, proto, key)
}

// Snapshot returns the current host identity, services and interface
// states.
func (r *Responder) Snapshot(ctx context.Context) (*Snapshot, error) {
	return r.engine.Snapshot(ctx)
}

// Query sends a one-shot question and collects answers until timeout or
// until maxResults results are known. maxResults 0 means no limit.
//
// RFC 6762 §5.1: the question is repeated once a second while it runs.
//
// Parameters:
//   - name: instance name for SRV and TXT, host name for A, AAAA and ANY;
//     unused for PTR
//   - service, proto: service type, e.g. "_http", "_tcp"; empty for host
//     queries
//   - rt: TypePTR, TypeSRV, TypeTXT, TypeA, TypeAAAA or TypeANY
//
// Returns the results gathered. An empty slice is not an error. If ctx's
// deadline passes before timeout, the results gathered so far are returned;
// cancelling ctx returns ctx.Err().
func (r *Responder) Query(ctx context.Context, name, service, proto string, rt RecordType, timeout time.Duration, maxResults int) ([]*Result, error) {
	q := search.New(name, service, proto, rt, timeout, maxResults)
	return r.engine.Query(ctx, q)
}

// QueryPTR browses for instances of a service type (RFC 6763 §4).
func (r *Responder) QueryPTR(ctx context.Context, service, proto string, timeout time.Duration, maxResults int) ([]*Result, error) {
	return r.Query(ctx, "", service, proto, TypePTR, timeout, maxResults)
}

// QuerySRV resolves the host and port of one instance.
//
// Returns ErrNotFound when nobody answered before timeout.
func (r *Responder) QuerySRV(ctx context.Context, instance, service, proto string, timeout time.Duration) (*Result, error) {
	return r.one(r.Query(ctx, instance, service, proto, TypeSRV, timeout, 1))
}

// QueryTXT fetches the TXT items of one instance.
//
// Returns ErrNotFound when nobody answered before timeout.
func (r *Responder) QueryTXT(ctx context.Context, instance, service, proto string, timeout time.Duration) (*Result, error) {
	return r.one(r.Query(ctx, instance, service, proto, TypeTXT, timeout, 1))
}

// QueryA resolves host.local to an IPv4 address.
func (r *Responder) QueryA(ctx context.Context, host string, timeout time.Duration) (netip.Addr, error) {
	return r.addr(ctx, host, TypeA, timeout, netip.Addr.Is4)
}

// QueryAAAA resolves host.local to an IPv6 address.
func (r *Responder) QueryAAAA(ctx context.Context, host string, timeout time.Duration) (netip.Addr, error) {
	return r.addr(ctx, host, TypeAAAA, timeout, netip.Addr.Is6)
}

func (r *Responder) addr(ctx context.Context, host string, rt RecordType, timeout time.Duration, want func(netip.Addr) bool) (netip.Addr, error) {
	res, err := r.one(r.Query(ctx, trimLocal(host), "", "", rt, timeout, 1))
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range res.Addrs {
		if want(a) {
			return a, nil
		}
	}
	return netip.Addr{}, errors.ErrNotFound
}

func (r *Responder) one(results []*Result, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.ErrNotFound
	}
	return results[0], nil
}
