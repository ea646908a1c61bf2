package message

import (
	"encoding/binary"
	"fmt"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/protocol"
)

// Writer appends wire data to a message bounded by protocol.MaxPacketSize.
//
// The header is reserved on construction. Every append is bounds-checked:
// once an append fails the message is incomplete and must be discarded.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with a zeroed header.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, protocol.HeaderSize, protocol.MaxPacketSize)}
}

// Len returns the number of bytes written, header included.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the message written so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) reserve(n int) error {
	if len(w.buf)+n > protocol.MaxPacketSize {
		return errors.ErrPacketTooLarge
	}
	return nil
}

// AppendU8 appends one byte.
func (w *Writer) AppendU8(v uint8) error {
	if err := w.reserve(1); err != nil {
		return err
	}
	w.buf = append(w.buf, v)
	return nil
}

// AppendU16 appends a big-endian uint16.
func (w *Writer) AppendU16(v uint16) error {
	if err := w.reserve(2); err != nil {
		return err
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	return nil
}

// AppendU32 appends a big-endian uint32.
func (w *Writer) AppendU32(v uint32) error {
	if err := w.reserve(4); err != nil {
		return err
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	return nil
}

// AppendBytes appends raw bytes.
func (w *Writer) AppendBytes(b []byte) error {
	if err := w.reserve(len(b)); err != nil {
		return err
	}
	w.buf = append(w.buf, b...)
	return nil
}

// AppendString appends a length-prefixed character-string (RFC 1035 §3.3).
func (w *Writer) AppendString(s string) error {
	if len(s) > 255 {
		return &errors.ValidationError{Field: "string", Value: len(s), Message: "character-string exceeds 255 bytes"}
	}
	if err := w.reserve(1 + len(s)); err != nil {
		return err
	}
	w.buf = append(w.buf, byte(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// SetU16 overwrites a big-endian uint16 at offset.
func (w *Writer) SetU16(offset int, v uint16) {
	if offset+2 > len(w.buf) {
		return
	}
	binary.BigEndian.PutUint16(w.buf[offset:], v)
}

// AppendName appends a name given as 0–4 parts, compressing against names
// already in the message.
//
// RFC 1035 §4.1.4: the longest suffix already present is replaced by a
// pointer. The first part is looked up as a whole name; on a miss it is
// written literally and the remaining parts are looked up again, so a later
// suffix may still be compressed against a different earlier name.
func (w *Writer) AppendName(parts ...string) error {
	if len(parts) == 0 {
		return w.AppendU8(0)
	}
	if len(parts) > protocol.MaxNameParts {
		return &errors.ValidationError{Field: "name", Value: parts, Message: fmt.Sprintf("more than %d parts", protocol.MaxNameParts)}
	}
	if offset, ok := findName(w.buf, parts); ok {
		return w.AppendU16(uint16(offset) | protocol.PointerMask)
	}
	label := parts[0]
	if label == "" || len(label) > protocol.MaxLabelLen {
		return &errors.ValidationError{Field: "label", Value: label, Message: "label must be 1-63 bytes"}
	}
	if err := w.AppendString(label); err != nil {
		return err
	}
	return w.AppendName(parts[1:]...)
}
