// Package protocol defines mDNS wire constants per RFC 6762 and RFC 1035.
//
// Values here are bit-exact: other packages must not redefine them.
package protocol

import (
	"fmt"
	"net/netip"
)

// Network constants per RFC 6762 §5.
const (
	// Port is the UDP port mDNS responders listen on.
	Port = 5353

	// MulticastAddrIPv4 is the IPv4 mDNS group.
	MulticastAddrIPv4 = "224.0.0.251"

	// MulticastAddrIPv6 is the link-local IPv6 mDNS group.
	MulticastAddrIPv6 = "ff02::fb"
)

var (
	// MulticastGroupIPv4 is MulticastAddrIPv4 parsed.
	MulticastGroupIPv4 = netip.MustParseAddr(MulticastAddrIPv4)

	// MulticastGroupIPv6 is MulticastAddrIPv6 parsed.
	MulticastGroupIPv6 = netip.MustParseAddr(MulticastAddrIPv6)
)

// Message layout.
const (
	// MaxPacketSize bounds every outgoing message.
	MaxPacketSize = 1460

	// HeaderSize is the fixed DNS header length.
	HeaderSize = 12

	// MaxLabelLen is the longest label RFC 1035 §2.3.4 allows on the wire.
	MaxLabelLen = 63

	// MaxNameLen bounds each decoded name slot (host, service, proto, domain).
	MaxNameLen = 64

	// MaxNameParts is the number of slots in a decoded name.
	MaxNameParts = 4

	// MaxTXTLen bounds the encoded TXT RDATA of a service.
	MaxTXTLen = 1024

	// PointerMask marks a compression pointer (RFC 1035 §4.1.4).
	PointerMask = 0xC000
)

// Header flag values.
const (
	// FlagsAuthoritative is QR=1, AA=1: every response this responder sends.
	FlagsAuthoritative uint16 = 0x8400

	// FlagsDistributed marks a shared answer that several responders may send.
	FlagsDistributed uint16 = 0x0200
)

// Class values per RFC 1035 §3.2.4 and RFC 6762 §10.2 / §18.12.
const (
	ClassIN  uint16 = 0x0001
	ClassANY uint16 = 0x00FF

	// ClassTopBit is unicast-response in questions, cache-flush in records.
	ClassTopBit uint16 = 0x8000
)

// TTL defaults per RFC 6762 §10, in seconds.
const (
	TTLService  uint32 = 4500 // PTR, TXT
	TTLHostname uint32 = 120  // SRV, A, AAAA
	TTLGoodbye  uint32 = 0
)

// Well-known names.
const (
	DefaultDomain   = "local"
	ReverseDomain   = "arpa"
	SubLabel        = "_sub"
	ServicesHost    = "_services"
	ServicesService = "_dns-sd"
	ServicesProto   = "_udp"
)

// RecordType is a DNS RR type (RFC 1035 §3.2.2).
type RecordType uint16

// Record types handled by the engine.
const (
	RecordTypeA    RecordType = 0x0001
	RecordTypePTR  RecordType = 0x000C
	RecordTypeTXT  RecordType = 0x0010
	RecordTypeAAAA RecordType = 0x001C
	RecordTypeSRV  RecordType = 0x0021
	RecordTypeOPT  RecordType = 0x0029
	RecordTypeNSEC RecordType = 0x002F
	RecordTypeANY  RecordType = 0x00FF

	// RecordTypeSDPTR tags a _services._dns-sd._udp.local PTR answer.
	// It never appears on the wire: the builder writes it as PTR.
	RecordTypeSDPTR RecordType = 0x0032
)

// Wire returns the type value to serialize.
func (t RecordType) Wire() uint16 {
	if t == RecordTypeSDPTR {
		return uint16(RecordTypePTR)
	}
	return uint16(t)
}

// String returns the mnemonic for the type.
func (t RecordType) String() string {
	switch t {
	case RecordTypeA:
		return "A"
	case RecordTypePTR:
		return "PTR"
	case RecordTypeTXT:
		return "TXT"
	case RecordTypeAAAA:
		return "AAAA"
	case RecordTypeSRV:
		return "SRV"
	case RecordTypeOPT:
		return "OPT"
	case RecordTypeNSEC:
		return "NSEC"
	case RecordTypeANY:
		return "ANY"
	case RecordTypeSDPTR:
		return "SDPTR"
	default:
		return fmt.Sprintf("TYPE%d", uint16(t))
	}
}
