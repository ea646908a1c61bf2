package message

import (
	"encoding/binary"
	goerrors "errors"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/protocol"
)

// Header is the fixed DNS message header (RFC 1035 §4.1.1).
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Authoritative reports a plain authoritative response.
func (h Header) Authoritative() bool {
	return h.Flags == protocol.FlagsAuthoritative
}

// Distributed reports a message carrying shared answers.
func (h Header) Distributed() bool {
	return h.Flags == protocol.FlagsDistributed
}

// ParsedQuestion is one decoded question.
type ParsedQuestion struct {
	Name    Name
	Type    protocol.RecordType
	Class   uint16
	Unicast bool

	// Foreign is set when the name is outside .local and .arpa.
	Foreign bool
}

// Record is one decoded resource record. Data aliases the message buffer.
type Record struct {
	Name       Name
	Type       protocol.RecordType
	Class      uint16
	CacheFlush bool
	TTL        uint32
	Section    Section
	Data       []byte
	DataOffset int
	Foreign    bool
}

// Message is a decoded inbound message.
type Message struct {
	Header    Header
	Questions []ParsedQuestion
	Records   []Record

	raw []byte
}

// Raw returns the undecoded message.
func (m *Message) Raw() []byte {
	return m.raw
}

// Parse decodes msg.
//
// Entries whose names fall outside .local and .arpa are kept with Foreign
// set so section indices stay aligned with the header counts. Any other
// decoding failure rejects the whole message.
func Parse(msg []byte) (*Message, error) {
	if len(msg) < protocol.HeaderSize {
		return nil, &errors.WireFormatError{Operation: "parse header", Offset: 0, Message: "message shorter than header"}
	}
	m := &Message{
		Header: Header{
			ID:      binary.BigEndian.Uint16(msg[0:]),
			Flags:   binary.BigEndian.Uint16(msg[2:]),
			QDCount: binary.BigEndian.Uint16(msg[4:]),
			ANCount: binary.BigEndian.Uint16(msg[6:]),
			NSCount: binary.BigEndian.Uint16(msg[8:]),
			ARCount: binary.BigEndian.Uint16(msg[10:]),
		},
		raw: msg,
	}

	off := protocol.HeaderSize
	for i := 0; i < int(m.Header.QDCount); i++ {
		name, next, err := ReadName(msg, off)
		foreign := goerrors.Is(err, errors.ErrForeignDomain)
		if err != nil && !foreign {
			return nil, err
		}
		if next+4 > len(msg) {
			return nil, &errors.WireFormatError{Operation: "parse question", Offset: next, Message: "truncated question"}
		}
		class := binary.BigEndian.Uint16(msg[next+2:])
		m.Questions = append(m.Questions, ParsedQuestion{
			Name:    name,
			Type:    protocol.RecordType(binary.BigEndian.Uint16(msg[next:])),
			Class:   class &^ protocol.ClassTopBit,
			Unicast: class&protocol.ClassTopBit != 0,
			Foreign: foreign,
		})
		off = next + 4
	}

	total := int(m.Header.ANCount) + int(m.Header.NSCount) + int(m.Header.ARCount)
	for i := 0; i < total; i++ {
		name, next, err := ReadName(msg, off)
		foreign := goerrors.Is(err, errors.ErrForeignDomain)
		if err != nil && !foreign {
			return nil, err
		}
		if next+10 > len(msg) {
			return nil, &errors.WireFormatError{Operation: "parse record", Offset: next, Message: "truncated record header"}
		}
		class := binary.BigEndian.Uint16(msg[next+2:])
		rdlen := int(binary.BigEndian.Uint16(msg[next+8:]))
		start := next + 10
		if start+rdlen > len(msg) {
			return nil, &errors.WireFormatError{Operation: "parse record", Offset: start, Message: "rdata overruns message"}
		}
		m.Records = append(m.Records, Record{
			Name:       name,
			Type:       protocol.RecordType(binary.BigEndian.Uint16(msg[next:])),
			Class:      class &^ protocol.ClassTopBit,
			CacheFlush: class&protocol.ClassTopBit != 0,
			TTL:        binary.BigEndian.Uint32(msg[next+4:]),
			Section:    m.sectionOf(i),
			Data:       msg[start : start+rdlen],
			DataOffset: start,
			Foreign:    foreign,
		})
		off = start + rdlen
	}
	return m, nil
}

func (m *Message) sectionOf(i int) Section {
	switch {
	case i < int(m.Header.ANCount):
		return SectionAnswer
	case i < int(m.Header.ANCount)+int(m.Header.NSCount):
		return SectionAuthority
	default:
		return SectionAdditional
	}
}
