package records

import "github.com/joshuafuller/mdnsd/internal/protocol"

// TTLs holds the TTL advertised per record family.
//
// RFC 6762 §10: records tied to a host name (SRV, A, AAAA) default to 120
// seconds, other records (PTR, TXT) to 75 minutes.
type TTLs struct {
	PTR     uint32 `yaml:"ptr"`
	TXT     uint32 `yaml:"txt"`
	SRV     uint32 `yaml:"srv"`
	Address uint32 `yaml:"address"`
}

// DefaultTTLs returns the RFC 6762 §10 defaults.
func DefaultTTLs() TTLs {
	return TTLs{
		PTR:     protocol.TTLService,
		TXT:     protocol.TTLService,
		SRV:     protocol.TTLHostname,
		Address: protocol.TTLHostname,
	}
}

// For returns the TTL for rt; SDPTR shares the PTR value.
func (t TTLs) For(rt protocol.RecordType) uint32 {
	switch rt {
	case protocol.RecordTypePTR, protocol.RecordTypeSDPTR:
		return t.PTR
	case protocol.RecordTypeTXT:
		return t.TXT
	case protocol.RecordTypeSRV:
		return t.SRV
	case protocol.RecordTypeA, protocol.RecordTypeAAAA:
		return t.Address
	default:
		return t.Address
	}
}

// Fresh reports whether an observed TTL is above half of ours for rt.
//
// A peer answer this fresh makes a pending answer of ours redundant.
func (t TTLs) Fresh(rt protocol.RecordType, observed uint32) bool {
	return observed > t.For(rt)/2
}

// WithDefaults fills zero fields from DefaultTTLs.
func (t TTLs) WithDefaults() TTLs {
	d := DefaultTTLs()
	if t.PTR == 0 {
		t.PTR = d.PTR
	}
	if t.TXT == 0 {
		t.TXT = d.TXT
	}
	if t.SRV == 0 {
		t.SRV = d.SRV
	}
	if t.Address == 0 {
		t.Address = d.Address
	}
	return t
}
