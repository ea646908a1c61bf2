package records

import (
	"testing"

	"github.com/joshuafuller/mdnsd/internal/protocol"
)

// TestTTLs_For validates the per-type TTL mapping per RFC 6762 §10.
//
// RFC 6762 §10: "The recommended TTL value for Multicast DNS resource
// records with a host name as the resource record's name (e.g., A, AAAA,
// HINFO) or a host name contained within the resource record's rdata (e.g.,
// SRV, reverse mapping PTR record) SHOULD be 120 seconds. The recommended
// TTL value for other Multicast DNS resource records is 75 minutes."
func TestTTLs_For(t *testing.T) {
	ttls := DefaultTTLs()

	tests := []struct {
		rt   protocol.RecordType
		want uint32
	}{
		{protocol.RecordTypePTR, 4500},
		{protocol.RecordTypeSDPTR, 4500},
		{protocol.RecordTypeTXT, 4500},
		{protocol.RecordTypeSRV, 120},
		{protocol.RecordTypeA, 120},
		{protocol.RecordTypeAAAA, 120},
	}

	for _, tt := range tests {
		t.Run(tt.rt.String(), func(t *testing.T) {
			if got := ttls.For(tt.rt); got != tt.want {
				t.Errorf("For(%v) = %d, want %d", tt.rt, got, tt.want)
			}
		})
	}
}

// TestTTLs_Fresh validates the half-TTL threshold used to withdraw answers
// a peer already sent.
func TestTTLs_Fresh(t *testing.T) {
	ttls := DefaultTTLs()

	tests := []struct {
		name     string
		rt       protocol.RecordType
		observed uint32
		want     bool
	}{
		{"SRV above half", protocol.RecordTypeSRV, 61, true},
		{"SRV exactly half", protocol.RecordTypeSRV, 60, false},
		{"SRV below half", protocol.RecordTypeSRV, 10, false},
		{"PTR above half", protocol.RecordTypePTR, 2251, true},
		{"PTR exactly half", protocol.RecordTypePTR, 2250, false},
		{"goodbye", protocol.RecordTypeA, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ttls.Fresh(tt.rt, tt.observed); got != tt.want {
				t.Errorf("Fresh(%v, %d) = %v, want %v", tt.rt, tt.observed, got, tt.want)
			}
		})
	}
}

func TestTTLs_WithDefaults(t *testing.T) {
	got := TTLs{SRV: 30}.WithDefaults()
	want := TTLs{PTR: 4500, TXT: 4500, SRV: 30, Address: 120}
	if got != want {
		t.Errorf("WithDefaults() = %+v, want %+v", got, want)
	}
}
