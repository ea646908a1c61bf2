package records

import (
	"strings"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/protocol"
)

// EncodeTXT returns TXT RDATA for items.
//
// RFC 6763 §6.1: each item is a length-prefixed "key=value" string. An empty
// list encodes as a single zero byte (§6.1: "An empty TXT record
// containing zero strings is not allowed").
func EncodeTXT(items []TXTItem) []byte {
	if len(items) == 0 {
		return []byte{0}
	}
	out := make([]byte, 0, TXTLen(items))
	for _, item := range items {
		s := item.String()
		out = append(out, byte(len(s)))
		out = append(out, s...)
	}
	return out
}

// TXTLen returns len(EncodeTXT(items)) without encoding.
func TXTLen(items []TXTItem) int {
	if len(items) == 0 {
		return 1
	}
	n := 0
	for _, item := range items {
		n += 2 + len(item.Key) + len(item.Value)
	}
	return n
}

// DecodeTXT splits TXT RDATA into items.
//
// Empty strings are skipped. A string without '=' is a boolean attribute
// with an empty value (RFC 6763 §6.4).
func DecodeTXT(data []byte) ([]TXTItem, error) {
	var items []TXTItem
	for i := 0; i < len(data); {
		l := int(data[i])
		i++
		if i+l > len(data) {
			return nil, &errors.WireFormatError{Operation: "decode TXT", Offset: i, Message: "string overruns record"}
		}
		s := string(data[i : i+l])
		i += l
		if s == "" {
			continue
		}
		key, value, _ := strings.Cut(s, "=")
		items = append(items, TXTItem{Key: key, Value: value})
	}
	return items, nil
}

// ValidateTXT checks item and total lengths.
func ValidateTXT(items []TXTItem) error {
	for _, item := range items {
		if item.Key == "" {
			return &errors.ValidationError{Field: "txt key", Value: item.Key, Message: "must not be empty"}
		}
		if len(item.Key)+1+len(item.Value) > 255 {
			return &errors.ValidationError{Field: "txt item", Value: item.Key, Message: "exceeds 255 bytes"}
		}
	}
	if n := TXTLen(items); n > protocol.MaxTXTLen {
		return &errors.ValidationError{Field: "txt", Value: n, Message: "record exceeds 1024 bytes"}
	}
	return nil
}
