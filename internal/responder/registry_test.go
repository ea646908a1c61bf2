package responder

import (
	goerrors "errors"
	"testing"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/records"
)

// TestRegistry_Add tests service registration and lookup.
func TestRegistry_Add(t *testing.T) {
	registry := NewRegistry()

	service := &records.Service{Instance: "My Printer", Type: "_http", Proto: "_tcp", Port: 8080}
	if err := registry.Add(service); err != nil {
		t.Fatalf("Add() error = %v, want nil", err)
	}

	got := registry.Find("_HTTP", "_tcp")
	if got != service {
		t.Fatalf("Find() = %v, want the registered service", got)
	}
}

// TestRegistry_Add_Duplicate tests that re-registering an identical
// (type, proto) pair is rejected and leaves the set unchanged.
func TestRegistry_Add_Duplicate(t *testing.T) {
	registry := NewRegistry()

	first := &records.Service{Type: "_http", Proto: "_tcp", Port: 80}
	if err := registry.Add(first); err != nil {
		t.Fatalf("first Add() error = %v", err)
	}

	second := &records.Service{Type: "_http", Proto: "_TCP", Port: 81}
	err := registry.Add(second)
	if !goerrors.Is(err, errors.ErrDuplicateService) {
		t.Errorf("second Add() error = %v, want ErrDuplicateService", err)
	}
	if registry.Len() != 1 {
		t.Errorf("Len() = %d after duplicate, want 1", registry.Len())
	}
	if registry.Find("_http", "_tcp") != first {
		t.Error("duplicate registration replaced the original service")
	}
}

// TestRegistry_Order tests that new registrations go to the front.
func TestRegistry_Order(t *testing.T) {
	registry := NewRegistry()
	a := &records.Service{Type: "_a", Proto: "_tcp"}
	b := &records.Service{Type: "_b", Proto: "_tcp"}
	c := &records.Service{Type: "_c", Proto: "_udp", Instance: "own"}

	for _, s := range []*records.Service{a, b, c} {
		if err := registry.Add(s); err != nil {
			t.Fatalf("Add(%s) error = %v", s.Type, err)
		}
	}

	all := registry.All()
	if len(all) != 3 || all[0] != c || all[1] != b || all[2] != a {
		t.Errorf("All() order = %v, want [c b a]", registry.ServiceTypes())
	}

	noInstance := registry.WithoutInstance()
	if len(noInstance) != 2 || noInstance[0] != b || noInstance[1] != a {
		t.Errorf("WithoutInstance() = %v, want [b a]", noInstance)
	}
}

func TestRegistry_Remove(t *testing.T) {
	registry := NewRegistry()
	svc := &records.Service{Type: "_http", Proto: "_tcp"}
	_ = registry.Add(svc)

	if !registry.Remove(svc) {
		t.Fatal("Remove() = false, want true")
	}
	if registry.Find("_http", "_tcp") != nil {
		t.Error("Find() after Remove() returned the service")
	}
	if registry.Remove(svc) {
		t.Error("second Remove() = true, want false")
	}
}

func TestRegistry_Clear(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Add(&records.Service{Type: "_a", Proto: "_tcp"})
	_ = registry.Add(&records.Service{Type: "_b", Proto: "_tcp"})

	removed := registry.Clear()
	if len(removed) != 2 {
		t.Errorf("Clear() returned %d services, want 2", len(removed))
	}
	if registry.Len() != 0 {
		t.Errorf("Len() after Clear() = %d", registry.Len())
	}
}

func TestRegistry_ServiceTypes_Empty(t *testing.T) {
	if types := NewRegistry().ServiceTypes(); len(types) != 0 {
		t.Errorf("ServiceTypes() = %v, want empty", types)
	}
}
