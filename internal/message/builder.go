package message

import (
	"net/netip"

	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// Source supplies the live data answers are rendered from.
type Source interface {
	Host() records.Host
	TTLs() records.TTLs
	// Addrs returns the addresses to advertise on slot for rt (A or AAAA).
	Addrs(slot state.Key, rt protocol.RecordType) []netip.Addr
}

// Build serializes p.
//
// Records that cannot be rendered (no host name, no instance, no address)
// are left out. Only running out of space fails the build.
func Build(p *Packet, src Source) ([]byte, error) {
	w := NewWriter()
	b := builder{w: w, p: p, host: src.Host(), ttls: src.TTLs(), src: src}

	for _, q := range p.Questions {
		if err := b.question(q); err != nil {
			return nil, err
		}
	}

	counts := [3]int{}
	for i, s := range []Section{SectionAnswer, SectionAuthority, SectionAdditional} {
		for _, a := range *p.Section(s) {
			n, err := b.record(a)
			if err != nil {
				return nil, err
			}
			counts[i] += n
		}
	}

	w.SetU16(0, 0)
	w.SetU16(2, p.Flags)
	w.SetU16(4, uint16(len(p.Questions)))
	w.SetU16(6, uint16(counts[0]))
	w.SetU16(8, uint16(counts[1]))
	w.SetU16(10, uint16(counts[2]))
	return w.Bytes(), nil
}

type builder struct {
	w    *Writer
	p    *Packet
	host records.Host
	ttls records.TTLs
	src  Source
}

func (b *builder) question(q *Question) error {
	if err := b.w.AppendName(q.Parts()...); err != nil {
		return err
	}
	if err := b.w.AppendU16(q.Type.Wire()); err != nil {
		return err
	}
	class := protocol.ClassIN
	if q.Unicast {
		class |= protocol.ClassTopBit
	}
	return b.w.AppendU16(class)
}

// header writes name, type, class and TTL of a record, leaving rdlength to
// the caller.
func (b *builder) header(a *Answer, name []string) error {
	if err := b.w.AppendName(name...); err != nil {
		return err
	}
	if err := b.w.AppendU16(a.Type.Wire()); err != nil {
		return err
	}
	class := protocol.ClassIN
	if a.Flush {
		class |= protocol.ClassTopBit
	}
	if err := b.w.AppendU16(class); err != nil {
		return err
	}
	ttl := b.ttls.For(a.Type)
	if a.Bye {
		ttl = protocol.TTLGoodbye
	}
	return b.w.AppendU32(ttl)
}

// rdata writes a length placeholder, runs fn, then patches the length.
func (b *builder) rdata(fn func() error) error {
	at := b.w.Len()
	if err := b.w.AppendU16(0); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	b.w.SetU16(at, uint16(b.w.Len()-at-2))
	return nil
}

// record writes a and returns how many resource records it produced.
func (b *builder) record(a *Answer) (int, error) {
	switch a.Type {
	case protocol.RecordTypeA, protocol.RecordTypeAAAA:
		return b.address(a)
	}

	svc := a.Service
	if svc == nil {
		return 0, nil
	}
	instance := b.host.InstanceName(svc)
	if instance == "" {
		return 0, nil
	}
	typeName := []string{svc.Type, svc.Proto, protocol.DefaultDomain}
	instanceName := []string{instance, svc.Type, svc.Proto, protocol.DefaultDomain}

	var err error
	switch a.Type {
	case protocol.RecordTypePTR:
		if err = b.header(a, typeName); err == nil {
			err = b.rdata(func() error { return b.w.AppendName(instanceName...) })
		}

	case protocol.RecordTypeSDPTR:
		name := []string{protocol.ServicesHost, protocol.ServicesService, protocol.ServicesProto, protocol.DefaultDomain}
		if err = b.header(a, name); err == nil {
			err = b.rdata(func() error { return b.w.AppendName(typeName...) })
		}

	case protocol.RecordTypeSRV:
		if b.host.Hostname == "" {
			return 0, nil
		}
		if err = b.header(a, instanceName); err == nil {
			err = b.rdata(func() error {
				for _, v := range []uint16{svc.Priority, svc.Weight, svc.Port} {
					if err := b.w.AppendU16(v); err != nil {
						return err
					}
				}
				return b.w.AppendName(b.host.Hostname, protocol.DefaultDomain)
			})
		}

	case protocol.RecordTypeTXT:
		if err = b.header(a, instanceName); err == nil {
			err = b.rdata(func() error { return b.w.AppendBytes(records.EncodeTXT(svc.TXT)) })
		}

	default:
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *builder) address(a *Answer) (int, error) {
	if b.host.Hostname == "" {
		return 0, nil
	}
	n := 0
	for _, addr := range b.src.Addrs(b.p.Slot, a.Type) {
		var raw []byte
		switch {
		case a.Type == protocol.RecordTypeA && addr.Is4():
			v := addr.As4()
			raw = v[:]
		case a.Type == protocol.RecordTypeAAAA && addr.Is6() && !addr.Is4In6():
			v := addr.As16()
			raw = v[:]
		default:
			continue
		}
		if err := b.header(a, []string{b.host.Hostname, protocol.DefaultDomain}); err != nil {
			return 0, err
		}
		if err := b.rdata(func() error { return b.w.AppendBytes(raw) }); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
