// Package conflict decides which responder owns a contested unique record.
//
// RFC 6762 §8.2 (simultaneous probe tiebreaking) and §9 (conflict
// resolution): records are compared by class, then by a canonical byte
// encoding of their data.
package conflict

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
)

// Outcome is the result of comparing our record against a peer's.
type Outcome int

const (
	// Tie means both records carry identical data.
	Tie Outcome = iota

	// WeWin means our record takes precedence.
	WeWin

	// TheyWin means the peer's record takes precedence.
	TheyWin

	// Duplicate means the peer's address belongs to a sibling interface of
	// this host: the two interfaces share a link.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case WeWin:
		return "we-win"
	case TheyWin:
		return "they-win"
	case Duplicate:
		return "duplicate"
	default:
		return "tie"
	}
}

// Mirror returns the outcome seen from the peer's side.
func (o Outcome) Mirror() Outcome {
	switch o {
	case WeWin:
		return TheyWin
	case TheyWin:
		return WeWin
	default:
		return o
	}
}

// CheckClass decides on the class field alone. A class above IN beats us,
// class zero loses; ok is false when the data has to be compared.
func CheckClass(class uint16) (o Outcome, ok bool) {
	switch {
	case class > protocol.ClassIN:
		return TheyWin, true
	case class == 0:
		return WeWin, true
	default:
		return Tie, false
	}
}

// Compare compares two canonical encodings. The shorter encoding wins; at
// equal length the lexicographically greater one wins (RFC 6762 §8.2).
func Compare(ours, theirs []byte) Outcome {
	switch {
	case len(ours) < len(theirs):
		return WeWin
	case len(ours) > len(theirs):
		return TheyWin
	}
	switch c := bytes.Compare(ours, theirs); {
	case c > 0:
		return WeWin
	case c < 0:
		return TheyWin
	default:
		return Tie
	}
}

// SRVData returns the canonical SRV encoding: priority, weight and port
// followed by the uncompressed target name.
func SRVData(priority, weight, port uint16, host, domain string) []byte {
	b := make([]byte, 0, 9+len(host)+len(domain))
	b = binary.BigEndian.AppendUint16(b, priority)
	b = binary.BigEndian.AppendUint16(b, weight)
	b = binary.BigEndian.AppendUint16(b, port)
	b = append(b, byte(len(host)))
	b = append(b, host...)
	b = append(b, byte(len(domain)))
	b = append(b, domain...)
	return append(b, 0)
}

// CompareSRV compares our SRV for svc, targeting hostname, against a
// peer's decoded SRV.
func CompareSRV(svc *records.Service, hostname string, priority, weight, port uint16, theirHost, theirDomain string) Outcome {
	ours := SRVData(svc.Priority, svc.Weight, svc.Port, hostname, protocol.DefaultDomain)
	return Compare(ours, SRVData(priority, weight, port, theirHost, theirDomain))
}

// CompareTXT compares our TXT items against a peer's raw TXT RDATA.
func CompareTXT(items []records.TXTItem, theirs []byte) Outcome {
	return Compare(records.EncodeTXT(items), theirs)
}

// CompareAddr compares our address on the receiving interface against a
// peer's address record for our host name.
//
// A zero peer address, or no address of our own, concedes. When ours sorts
// lower, isSibling is consulted: a peer address owned by another of our
// interfaces is reported as Duplicate.
func CompareAddr(ours, theirs netip.Addr, isSibling func(netip.Addr) bool) Outcome {
	if !theirs.IsValid() || theirs.IsUnspecified() || !ours.IsValid() {
		return TheyWin
	}
	o, t := ours.AsSlice(), theirs.AsSlice()
	if len(o) != len(t) {
		return TheyWin
	}
	switch c := bytes.Compare(o, t); {
	case c > 0:
		return WeWin
	case c < 0:
		if isSibling != nil && isSibling(theirs) {
			return Duplicate
		}
		return TheyWin
	default:
		return Tie
	}
}
