// Package netif reports the host's multicast-capable interfaces and their
// addresses, and watches them for changes.
//
// RFC 6762 §15: a responder answers on each interface with the addresses
// of that interface only. The IPv4 address advertised is the first one on
// the interface; the IPv6 address is the first link-local one, falling back
// to any global unicast address.
package netif

import (
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/joshuafuller/mdnsd/internal/state"
)

// Interface is a snapshot of one usable interface.
type Interface struct {
	Index int
	Name  string
	IPv4  netip.Addr
	IPv6  netip.Addr
}

// Addr returns the address for v, if any.
func (i Interface) Addr(v state.IPVersion) (netip.Addr, bool) {
	a := i.IPv4
	if v == state.IPv6 {
		a = i.IPv6
	}
	return a, a.IsValid()
}

// System reads interfaces from the OS. Tests replace Interfaces and Addrs.
type System struct {
	Interfaces func() ([]net.Interface, error)
	Addrs      func(ifc *net.Interface) ([]net.Addr, error)
}

// OS is the System backed by package net.
var OS = System{
	Interfaces: net.Interfaces,
	Addrs:      func(ifc *net.Interface) ([]net.Addr, error) { return ifc.Addrs() },
}

// List returns the interfaces that are up, multicast-capable and not
// loopback, sorted by index. A non-empty allow list keeps only the named
// interfaces.
func (s System) List(allow []string) ([]Interface, error) {
	ifcs, err := s.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []Interface
	for i := range ifcs {
		ifc := &ifcs[i]
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagMulticast == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(allow) > 0 && !slices.ContainsFunc(allow, func(n string) bool { return strings.EqualFold(n, ifc.Name) }) {
			continue
		}
		addrs, err := s.Addrs(ifc)
		if err != nil {
			continue
		}
		it := Interface{Index: ifc.Index, Name: ifc.Name}
		it.IPv4, it.IPv6 = pickAddrs(addrs)
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b Interface) int { return a.Index - b.Index })
	return out, nil
}

func pickAddrs(addrs []net.Addr) (v4, v6 netip.Addr) {
	var global6 netip.Addr
	for _, a := range addrs {
		var ip net.IP
		switch a := a.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		switch {
		case addr.Is4():
			if !v4.IsValid() && !addr.IsLoopback() {
				v4 = addr
			}
		case addr.IsLinkLocalUnicast():
			if !v6.IsValid() {
				v6 = addr
			}
		case addr.IsGlobalUnicast():
			if !global6.IsValid() {
				global6 = addr
			}
		}
	}
	if !v6.IsValid() {
		v6 = global6
	}
	return v4, v6
}

// Table is a concurrency-safe interface snapshot. It implements the
// engine's address source.
type Table struct {
	mu   sync.RWMutex
	byIf map[int]Interface
}

// NewTable returns a table holding ifcs.
func NewTable(ifcs []Interface) *Table {
	t := &Table{}
	t.Replace(ifcs)
	return t
}

// Replace swaps in a new snapshot.
func (t *Table) Replace(ifcs []Interface) {
	m := make(map[int]Interface, len(ifcs))
	for _, i := range ifcs {
		m[i.Index] = i
	}
	t.mu.Lock()
	t.byIf = m
	t.mu.Unlock()
}

// Addr returns the address of ifIndex for v.
func (t *Table) Addr(ifIndex int, v state.IPVersion) (netip.Addr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byIf[ifIndex]
	if !ok {
		return netip.Addr{}, false
	}
	return i.Addr(v)
}

// Lookup returns the interface with index ifIndex.
func (t *Table) Lookup(ifIndex int) (Interface, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byIf[ifIndex]
	return i, ok
}

// All returns the snapshot sorted by index.
func (t *Table) All() []Interface {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Interface, 0, len(t.byIf))
	for _, i := range t.byIf {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b Interface) int { return a.Index - b.Index })
	return out
}
