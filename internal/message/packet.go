package message

import (
	"net/netip"
	"strings"
	"time"

	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// Section identifies where a record sits in a message.
type Section uint8

const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
)

func (s Section) String() string {
	switch s {
	case SectionAuthority:
		return "authority"
	case SectionAdditional:
		return "additional"
	default:
		return "answer"
	}
}

// Question is an outgoing question.
type Question struct {
	Type    protocol.RecordType
	Unicast bool
	Host    string
	Service string
	Proto   string
	Domain  string
}

// Parts returns the non-empty name parts in wire order.
func (q *Question) Parts() []string {
	parts := make([]string, 0, protocol.MaxNameParts)
	for _, p := range []string{q.Host, q.Service, q.Proto, q.Domain} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func (q *Question) same(o *Question) bool {
	return q.Type == o.Type &&
		strings.EqualFold(q.Host, o.Host) &&
		strings.EqualFold(q.Service, o.Service) &&
		strings.EqualFold(q.Proto, o.Proto)
}

// Answer is an outgoing record.
//
// Answers reference live data: a service answer is rendered from Service at
// send time, a host answer (A, AAAA) from the slot's current addresses.
type Answer struct {
	Type    protocol.RecordType
	Service *records.Service
	Flush   bool
	Bye     bool
}

// Packet is an outgoing message bound to one slot.
type Packet struct {
	Slot  state.Key
	Dst   netip.AddrPort
	Flags uint16

	// Distributed marks a shared answer that may be withdrawn when a peer
	// answers first. It is not written to the wire.
	Distributed bool

	// Tracked marks the probe or announcement that drives the slot's
	// state machine. Other packets are sent and forgotten.
	Tracked bool

	Questions  []*Question
	Answers    []*Answer
	Servers    []*Answer
	Additional []*Answer

	SendAt time.Time
}

// NewPacket returns an empty packet addressed to the mDNS group of the
// slot's IP version.
func NewPacket(slot state.Key) *Packet {
	group := protocol.MulticastGroupIPv4
	if slot.Version == state.IPv6 {
		group = protocol.MulticastGroupIPv6
	}
	return &Packet{
		Slot: slot,
		Dst:  netip.AddrPortFrom(group, protocol.Port),
	}
}

// AddQuestion appends q unless an equivalent question is present.
func (p *Packet) AddQuestion(q *Question) {
	for _, e := range p.Questions {
		if e.same(q) {
			return
		}
	}
	p.Questions = append(p.Questions, q)
}

// Section returns a pointer to the record list for s.
func (p *Packet) Section(s Section) *[]*Answer {
	switch s {
	case SectionAuthority:
		return &p.Servers
	case SectionAdditional:
		return &p.Additional
	default:
		return &p.Answers
	}
}

// AddAnswer appends a record to section s unless one with the same type and
// service is present.
func (p *Packet) AddAnswer(s Section, rt protocol.RecordType, svc *records.Service, flush, bye bool) {
	list := p.Section(s)
	for _, a := range *list {
		if a.Type == rt && a.Service == svc {
			return
		}
	}
	*list = append(*list, &Answer{Type: rt, Service: svc, Flush: flush, Bye: bye})
}

// RemoveAnswer deletes the first record of section s with the given type
// and service, reporting whether one was found.
func (p *Packet) RemoveAnswer(s Section, rt protocol.RecordType, svc *records.Service) bool {
	list := p.Section(s)
	for i, a := range *list {
		if a.Type == rt && a.Service == svc {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// DropService removes every record and question tied to svc.
func (p *Packet) DropService(svc *records.Service) {
	for _, s := range []Section{SectionAnswer, SectionAuthority, SectionAdditional} {
		list := p.Section(s)
		out := (*list)[:0]
		for _, a := range *list {
			if a.Service != svc {
				out = append(out, a)
			}
		}
		*list = out
	}
}

// Empty reports whether the packet carries nothing.
func (p *Packet) Empty() bool {
	return len(p.Questions) == 0 && len(p.Answers) == 0 && len(p.Servers) == 0 && len(p.Additional) == 0
}
