// Package state defines the per-interface responder state.
//
// RFC 6762 §8: Probing and Announcing on Startup
//
// Each (interface, IP version) pair owns one Slot. A slot walks an ordered
// sequence of states; the ordering matters, predicates below are defined by
// ranges over it:
//
//	OFF → DUP | INIT → PROBE_1 → PROBE_2 → PROBE_3
//	    → ANNOUNCE_1 → ANNOUNCE_2 → ANNOUNCE_3 → RUNNING
//
// Three probes 250ms apart precede three announcements. A slot whose
// subnet is already served by a sibling interface sits in DUP.
package state

import (
	"fmt"

	"github.com/joshuafuller/mdnsd/internal/records"
)

// State is a slot's position in the probe/announce sequence.
type State uint8

// States in transition order.
const (
	Off State = iota
	Dup
	Init
	Probe1
	Probe2
	Probe3
	Announce1
	Announce2
	Announce3
	Running
)

var stateNames = [...]string{
	Off:       "OFF",
	Dup:       "DUP",
	Init:      "INIT",
	Probe1:    "PROBE_1",
	Probe2:    "PROBE_2",
	Probe3:    "PROBE_3",
	Announce1: "ANNOUNCE_1",
	Announce2: "ANNOUNCE_2",
	Announce3: "ANNOUNCE_3",
	Running:   "RUNNING",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// IsProbing reports any state after OFF and before ANNOUNCE_1.
//
// The range includes DUP; callers that must skip suppressed slots check
// Slot.Active first.
func (s State) IsProbing() bool {
	return s > Off && s < Announce1
}

// IsAnnouncing reports any state after PROBE_3 and before RUNNING.
func (s State) IsAnnouncing() bool {
	return s > Probe3 && s < Running
}

// IsRunning reports the steady state.
func (s State) IsRunning() bool {
	return s == Running
}

// Next returns the following state in the sequence; Running is terminal.
func (s State) Next() State {
	if s >= Running || s < Probe1 {
		return s
	}
	return s + 1
}

// IPVersion selects the address family of a slot.
type IPVersion uint8

const (
	IPv4 IPVersion = iota
	IPv6
)

func (v IPVersion) String() string {
	if v == IPv6 {
		return "v6"
	}
	return "v4"
}

// Other returns the opposite family.
func (v IPVersion) Other() IPVersion {
	if v == IPv6 {
		return IPv4
	}
	return IPv6
}

// Key identifies a slot.
type Key struct {
	Interface int
	Version   IPVersion
}

func (k Key) String() string {
	return fmt.Sprintf("if%d/%s", k.Interface, k.Version)
}

// Slot is the responder state for one (interface, IP version).
//
// A slot is owned by the engine's consumer goroutine; nothing else may read
// or write it.
type Slot struct {
	Key   Key
	State State

	// Name is the interface name, for logs only.
	Name string

	// ProbeServices are the services covered by the probe in flight.
	ProbeServices []*records.Service
	// ProbeIP is set when the probe in flight also claims the host name.
	ProbeIP bool
	// ProbeRunning is set from probe start until the probe turns into an announcement.
	ProbeRunning bool
	// FailedProbes counts conflicts lost while probing.
	FailedProbes int

	// DupOf is the sibling interface serving the same subnet while State is Dup.
	DupOf int
}

// NewSlot returns a slot in the Off state.
func NewSlot(key Key, name string) *Slot {
	return &Slot{Key: key, Name: name, DupOf: -1}
}

// Active reports whether the slot has an open transport (any state but Off and Dup).
func (s *Slot) Active() bool {
	return s.State != Off && s.State != Dup
}

// ResetProbe clears probe bookkeeping.
func (s *Slot) ResetProbe() {
	s.ProbeServices = nil
	s.ProbeIP = false
	s.ProbeRunning = false
}

// MergeProbe records a new probe over services, merging with the probe in
// flight if the slot is still probing.
//
// New services come first; duplicates are dropped. The merged set and
// include-IP flag are returned and stored.
func (s *Slot) MergeProbe(services []*records.Service, includeIP bool) ([]*records.Service, bool) {
	merged := make([]*records.Service, 0, len(services)+len(s.ProbeServices))
	merged = appendUnique(merged, services...)
	if s.State.IsProbing() {
		merged = appendUnique(merged, s.ProbeServices...)
	}
	includeIP = includeIP || s.ProbeIP
	s.ProbeServices = merged
	s.ProbeIP = includeIP
	return merged, includeIP
}

// DropService removes svc from the probe in flight.
func (s *Slot) DropService(svc *records.Service) {
	out := s.ProbeServices[:0]
	for _, p := range s.ProbeServices {
		if p != svc {
			out = append(out, p)
		}
	}
	s.ProbeServices = out
}

func appendUnique(dst []*records.Service, src ...*records.Service) []*records.Service {
next:
	for _, s := range src {
		for _, d := range dst {
			if d == s {
				continue next
			}
		}
		dst = append(dst, s)
	}
	return dst
}
