package message

import (
	"encoding/binary"
	"net/netip"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/records"
)

// SRV is decoded SRV RDATA (RFC 2782).
type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   Name
}

// PTR decodes the target of a PTR record. The target may be compressed
// against any earlier part of the message.
func (m *Message) PTR(r *Record) (Name, error) {
	name, _, err := ReadName(m.raw, r.DataOffset)
	return name, err
}

// SRV decodes an SRV record.
func (m *Message) SRV(r *Record) (SRV, error) {
	if len(r.Data) < 7 {
		return SRV{}, &errors.WireFormatError{Operation: "decode SRV", Offset: r.DataOffset, Message: "rdata too short"}
	}
	target, _, err := ReadName(m.raw, r.DataOffset+6)
	if err != nil {
		return SRV{}, err
	}
	return SRV{
		Priority: binary.BigEndian.Uint16(r.Data[0:]),
		Weight:   binary.BigEndian.Uint16(r.Data[2:]),
		Port:     binary.BigEndian.Uint16(r.Data[4:]),
		Target:   target,
	}, nil
}

// TXT decodes a TXT record.
func (m *Message) TXT(r *Record) ([]records.TXTItem, error) {
	return records.DecodeTXT(r.Data)
}

// Addr decodes an A or AAAA record.
func (m *Message) Addr(r *Record) (netip.Addr, error) {
	addr, ok := netip.AddrFromSlice(r.Data)
	if !ok {
		return netip.Addr{}, &errors.WireFormatError{Operation: "decode address", Offset: r.DataOffset, Message: "rdata is not 4 or 16 bytes"}
	}
	return addr, nil
}
