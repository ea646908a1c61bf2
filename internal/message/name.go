// Package message implements the mDNS wire format: name compression,
// outgoing message assembly, and inbound message decoding.
//
// RFC 1035 §3.1 / §4.1.4: Domain names and message compression
// RFC 6762 §18: Multicast DNS message format
//
// Names are handled as at most four logical slots (host, service, proto,
// domain) rather than as arbitrary label sequences: every name an mDNS
// responder owns or asks about fits that shape.
package message

import (
	"strings"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/protocol"
)

// Name is a decoded domain name split into logical slots.
//
// Examples after decoding:
//
//	"My Printer._ipp._tcp.local" → Host="My Printer" Service="_ipp" Proto="_tcp" Domain="local"
//	"_ipp._tcp.local"            → Service="_ipp" Proto="_tcp" Domain="local"
//	"printer.local"              → Host="printer" Domain="local"
//	"_color._sub._ipp._tcp.local" → Host="_color" Sub=true Service="_ipp" ...
type Name struct {
	Host    string
	Service string
	Proto   string
	Domain  string
	Sub     bool
}

// IsRoot reports whether the name had no labels.
func (n Name) IsRoot() bool {
	return n.Host == "" && n.Service == "" && n.Proto == "" && n.Domain == ""
}

// String renders the name in dotted form.
func (n Name) String() string {
	parts := make([]string, 0, 5)
	if n.Host != "" {
		parts = append(parts, n.Host)
	}
	if n.Sub {
		parts = append(parts, protocol.SubLabel)
	}
	for _, p := range []string{n.Service, n.Proto, n.Domain} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// rawName is a label sequence before slot promotion.
type rawName struct {
	parts [protocol.MaxNameParts]string
	n     int
	sub   bool
}

// readRawName decodes labels starting at start into raw.
//
// A compression pointer must reference an offset strictly before start, so
// every pointer chain moves backwards and terminates.
func readRawName(msg []byte, start int, raw *rawName) (int, error) {
	i := start
	for {
		if i >= len(msg) {
			return 0, &errors.WireFormatError{Operation: "read name", Offset: i, Message: "truncated name"}
		}
		l := int(msg[i])
		if l == 0 {
			return i + 1, nil
		}
		if raw.n == protocol.MaxNameParts {
			return 0, &errors.WireFormatError{Operation: "read name", Offset: i, Message: "too many labels"}
		}
		i++

		switch l & 0xC0 {
		case 0x00:
			if l > protocol.MaxLabelLen {
				return 0, &errors.WireFormatError{Operation: "read name", Offset: i - 1, Message: "label exceeds 63 bytes"}
			}
			if i+l > len(msg) {
				return 0, &errors.WireFormatError{Operation: "read name", Offset: i, Message: "truncated label"}
			}
			label := string(msg[i : i+l])
			i += l

			switch {
			case raw.n == 1 && !strings.HasPrefix(label, "_") && !isDomainToken(label):
				// multi-label host: "my.host.local" keeps "my.host" in the host slot
				host := raw.parts[0] + "." + label
				if len(host) > protocol.MaxNameLen {
					return 0, &errors.WireFormatError{Operation: "read name", Offset: i, Message: "host exceeds 64 bytes"}
				}
				raw.parts[0] = host
			case strings.EqualFold(label, protocol.SubLabel):
				raw.sub = true
			default:
				raw.parts[raw.n] = label
				raw.n++
			}

		case 0xC0:
			if i >= len(msg) {
				return 0, &errors.WireFormatError{Operation: "read name", Offset: i, Message: "truncated compression pointer"}
			}
			ptr := (l&0x3F)<<8 | int(msg[i])
			i++
			if ptr >= start {
				return 0, &errors.WireFormatError{Operation: "read name", Offset: i - 2, Message: "invalid compression pointer"}
			}
			if _, err := readRawName(msg, ptr, raw); err != nil {
				return 0, err
			}
			return i, nil

		default:
			return 0, &errors.WireFormatError{Operation: "read name", Offset: i - 1, Message: "reserved label type"}
		}
	}
}

func isDomainToken(label string) bool {
	return strings.EqualFold(label, protocol.DefaultDomain) ||
		strings.EqualFold(label, "ip6") ||
		strings.EqualFold(label, "in-addr")
}

// ReadName decodes the name at offset and returns it with the offset of the
// byte following it.
//
// A name whose domain is neither "local" nor "arpa" returns
// errors.ErrForeignDomain together with a valid next offset, so callers can
// skip the one entry and keep decoding the message. Any other error means
// the message cannot be decoded further.
func ReadName(msg []byte, offset int) (Name, int, error) {
	var raw rawName
	next, err := readRawName(msg, offset, &raw)
	if err != nil {
		return Name{}, 0, err
	}

	n := Name{Sub: raw.sub}
	switch raw.n {
	case 0:
		return n, next, nil
	case 1:
		n.Host = raw.parts[0]
	case 2:
		n.Host, n.Domain = raw.parts[0], raw.parts[1]
	case 3:
		n.Service, n.Proto, n.Domain = raw.parts[0], raw.parts[1], raw.parts[2]
	default:
		n.Host, n.Service, n.Proto, n.Domain = raw.parts[0], raw.parts[1], raw.parts[2], raw.parts[3]
	}

	if !strings.EqualFold(n.Domain, protocol.DefaultDomain) && !strings.EqualFold(n.Domain, protocol.ReverseDomain) {
		return n, next, errors.ErrForeignDomain
	}
	return n, next, nil
}

// findName returns the offset of an earlier occurrence of parts in msg.
//
// Candidates are located by the first part's length byte and bytes, then
// confirmed by decoding from the candidate and comparing every slot
// case-insensitively.
func findName(msg []byte, parts []string) (int, bool) {
	first := parts[0]
	l := len(first)
	for i := 0; i+1+l <= len(msg); i++ {
		if int(msg[i]) != l || string(msg[i+1:i+1+l]) != first {
			continue
		}
		if i > 0x3FFF {
			return 0, false
		}
		var raw rawName
		if _, err := readRawName(msg, i, &raw); err != nil {
			continue
		}
		if raw.sub || raw.n != len(parts) {
			continue
		}
		match := true
		for j := range parts {
			if !strings.EqualFold(parts[j], raw.parts[j]) {
				match = false
				break
			}
		}
		if match {
			return i, true
		}
	}
	return 0, false
}
