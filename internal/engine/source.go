package engine

import (
	"net/netip"

	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// source renders outgoing answers from the engine's live state.
type source struct {
	e *Engine
}

func (s source) Host() records.Host { return s.e.host }

func (s source) TTLs() records.TTLs { return s.e.ttls }

// Addrs returns the interface address for rt, followed by the address of a
// duplicate sibling interface so peers on the shared link learn both.
func (s source) Addrs(key state.Key, rt protocol.RecordType) []netip.Addr {
	v := state.IPv4
	if rt == protocol.RecordTypeAAAA {
		v = state.IPv6
	}
	slot, ok := s.e.slots[state.Key{Interface: key.Interface, Version: v}]
	if !ok || (!slot.Active() && slot.State != state.Dup) {
		return nil
	}
	addr, ok := s.e.addrs.Addr(key.Interface, v)
	if !ok || !addr.IsValid() || addr.IsUnspecified() {
		return nil
	}
	out := []netip.Addr{addr}
	if sibling := s.e.duplicatePeer(key.Interface); sibling >= 0 {
		if a, ok := s.e.addrs.Addr(sibling, v); ok && a.IsValid() && !a.IsUnspecified() && a != addr {
			out = append(out, a)
		}
	}
	return out
}

// duplicatePeer returns the interface paired with ifIndex as a duplicate,
// in either direction, or -1.
func (e *Engine) duplicatePeer(ifIndex int) int {
	for _, s := range e.slots {
		if s.State != state.Dup {
			continue
		}
		if s.Key.Interface == ifIndex {
			return s.DupOf
		}
		if s.DupOf == ifIndex {
			return s.Key.Interface
		}
	}
	return -1
}
