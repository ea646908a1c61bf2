package engine

import "github.com/joshuafuller/mdnsd/internal/state"

// Metrics observes engine activity. internal/metrics provides the
// Prometheus implementation.
type Metrics interface {
	PacketReceived(slot state.Key)
	PacketSent(slot state.Key)
	PacketDropped(reason string)
	ActionDropped(action string)
	Conflict(record, outcome string)
	SlotState(slot state.Key, s state.State)
}

type nopMetrics struct{}

func (nopMetrics) PacketReceived(state.Key) {}
func (nopMetrics) PacketSent(state.Key) {}
func (nopMetrics) PacketDropped(string) {}
func (nopMetrics) ActionDropped(string) {}
func (nopMetrics) Conflict(string, string) {}
func (nopMetrics) SlotState(state.Key, state.State) {}
