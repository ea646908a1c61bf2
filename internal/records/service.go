// Package records holds the data a responder advertises: the host identity,
// registered services with their TXT metadata, and record TTLs.
//
// RFC 6763 §4: Service Instance Names
// RFC 6763 §6: Data Syntax for DNS-SD TXT Records
package records

import (
	"strings"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/protocol"
)

// TXTItem is one key/value pair of a service's TXT record.
type TXTItem struct {
	Key   string
	Value string
}

// String renders the item as it appears on the wire.
func (t TXTItem) String() string {
	return t.Key + "=" + t.Value
}

// Service is a registered DNS-SD service.
//
// Type and Proto carry their leading underscore ("_http", "_tcp"). The pair
// identifies the service; at most one Service exists per pair.
type Service struct {
	Instance string
	Type     string
	Proto    string
	Port     uint16
	Priority uint16
	Weight   uint16
	TXT      []TXTItem
}

// Host is the identity shared by all services.
type Host struct {
	Hostname string
	Instance string
}

// InstanceName returns the instance label used for svc: the service's own
// instance, else the host instance, else the host name.
func (h Host) InstanceName(svc *Service) string {
	if svc != nil && svc.Instance != "" {
		return svc.Instance
	}
	if h.Instance != "" {
		return h.Instance
	}
	return h.Hostname
}

// Matches reports whether svc is identified by (serviceType, proto).
func (s *Service) Matches(serviceType, proto string) bool {
	return strings.EqualFold(s.Type, serviceType) && strings.EqualFold(s.Proto, proto)
}

// Clone returns a deep copy.
func (s *Service) Clone() *Service {
	c := *s
	c.TXT = append([]TXTItem(nil), s.TXT...)
	return &c
}

// SetTXT sets key to value, keeping the key's position if it exists and
// appending it otherwise.
func (s *Service) SetTXT(key, value string) {
	for i := range s.TXT {
		if s.TXT[i].Key == key {
			s.TXT[i].Value = value
			return
		}
	}
	s.TXT = append(s.TXT, TXTItem{Key: key, Value: value})
}

// DeleteTXT removes key and reports whether it was present.
func (s *Service) DeleteTXT(key string) bool {
	for i := range s.TXT {
		if s.TXT[i].Key == key {
			s.TXT = append(s.TXT[:i], s.TXT[i+1:]...)
			return true
		}
	}
	return false
}

// NormalizeLabel prefixes a service or proto token with "_" when missing.
func NormalizeLabel(s string) string {
	if s == "" || strings.HasPrefix(s, "_") {
		return s
	}
	return "_" + s
}

// ValidateName checks a host, instance, service or proto token.
func ValidateName(field, value string) error {
	if value == "" {
		return &errors.ValidationError{Field: field, Value: value, Message: "must not be empty"}
	}
	if len(value) > protocol.MaxLabelLen {
		return &errors.ValidationError{Field: field, Value: value, Message: "exceeds 63 bytes"}
	}
	return nil
}

// Validate checks a service before registration.
func (s *Service) Validate() error {
	if err := ValidateName("service", s.Type); err != nil {
		return err
	}
	if err := ValidateName("proto", s.Proto); err != nil {
		return err
	}
	if s.Instance != "" {
		if err := ValidateName("instance", s.Instance); err != nil {
			return err
		}
	}
	return ValidateTXT(s.TXT)
}
