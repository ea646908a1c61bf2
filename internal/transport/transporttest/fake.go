// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"context"
	"net/netip"
	"sync"

	"github.com/miekg/dns"

	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/state"
	"github.com/joshuafuller/mdnsd/internal/transport"
)

// Sent is one datagram handed to Fake.Send, decoded.
type Sent struct {
	Slot state.Key
	Dst  netip.AddrPort
	Msg  *dns.Msg
}

// Fake records sends and group membership. Datagrams are injected with
// Deliver once Serve is running.
type Fake struct {
	mu      sync.Mutex
	sent    []Sent
	joined  map[state.Key]bool
	handler transport.Handler
	closed  bool

	serving chan struct{}
	once    sync.Once
}

var _ transport.Transport = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{joined: make(map[state.Key]bool), serving: make(chan struct{})}
}

// Send decodes b with miekg/dns so malformed output fails the caller.
func (f *Fake) Send(_ context.Context, slot state.Key, dst netip.AddrPort, b []byte) error {
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Sent{Slot: slot, Dst: dst, Msg: m})
	return nil
}

func (f *Fake) Join(ifIndex int, v state.IPVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[state.Key{Interface: ifIndex, Version: v}] = true
	return nil
}

func (f *Fake) Leave(ifIndex int, v state.IPVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined, state.Key{Interface: ifIndex, Version: v})
	return nil
}

// Serve stores h and blocks until ctx is done.
func (f *Fake) Serve(ctx context.Context, h transport.Handler) error {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	f.once.Do(func() { close(f.serving) })
	<-ctx.Done()
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Joined reports whether the slot's group is joined.
func (f *Fake) Joined(k state.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined[k]
}

// Sent returns a copy of everything sent so far.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Deliver packs m and passes it to the Serve handler as a multicast
// datagram received on slot from src. It waits for Serve to start.
func (f *Fake) Deliver(ctx context.Context, slot state.Key, src netip.AddrPort, m *dns.Msg) error {
	b, err := m.Pack()
	if err != nil {
		return err
	}
	select {
	case <-f.serving:
	case <-ctx.Done():
		return ctx.Err()
	}
	dst := protocol.MulticastGroupIPv4
	if slot.Version == state.IPv6 {
		dst = protocol.MulticastGroupIPv6
	}
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(slot, src, dst, b)
	return nil
}
