// Package responder holds the responder-side bookkeeping: the registry of
// advertised services.
package responder

import (
	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/records"
)

// Registry is the ordered set of registered services.
//
// Services are unique per (type, proto), compared case-insensitively. New
// services go to the front, so iteration yields the most recent
// registration first.
//
// Registry is not safe for concurrent use: the engine's consumer goroutine
// owns it.
type Registry struct {
	services []*records.Service
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers svc, failing with ErrDuplicateService if its (type, proto)
// pair is already present.
func (r *Registry) Add(svc *records.Service) error {
	if r.Find(svc.Type, svc.Proto) != nil {
		return errors.ErrDuplicateService
	}
	r.services = append([]*records.Service{svc}, r.services...)
	return nil
}

// Find returns the service registered for (serviceType, proto), or nil.
func (r *Registry) Find(serviceType, proto string) *records.Service {
	for _, s := range r.services {
		if s.Matches(serviceType, proto) {
			return s
		}
	}
	return nil
}

// Remove unregisters svc and reports whether it was present.
func (r *Registry) Remove(svc *records.Service) bool {
	for i, s := range r.services {
		if s == svc {
			r.services = append(r.services[:i], r.services[i+1:]...)
			return true
		}
	}
	return false
}

// Clear unregisters everything and returns what was registered.
func (r *Registry) Clear() []*records.Service {
	all := r.services
	r.services = nil
	return all
}

// All returns the registered services in registry order.
func (r *Registry) All() []*records.Service {
	return append([]*records.Service(nil), r.services...)
}

// WithoutInstance returns the services that borrow the host's instance name.
func (r *Registry) WithoutInstance() []*records.Service {
	var out []*records.Service
	for _, s := range r.services {
		if s.Instance == "" {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(r.services)
}

// ServiceTypes returns the distinct "_type._proto" pairs registered.
func (r *Registry) ServiceTypes() []string {
	types := make([]string, 0, len(r.services))
	for _, s := range r.services {
		types = append(types, s.Type+"."+s.Proto)
	}
	return types
}
