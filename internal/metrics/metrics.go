// Package metrics exports engine activity as Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuafuller/mdnsd/internal/state"
)

const namespace = "mdnsd"

// Metrics implements engine.Metrics.
type Metrics struct {
	received  *prometheus.CounterVec
	sent      *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	actions   *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	slotState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	slotKeys := []string{"interface", "version"}
	m := &Metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "mDNS packets accepted for processing, per slot.",
		}, slotKeys),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "mDNS packets handed to the transport, per slot.",
		}, slotKeys),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Inbound or outbound packets discarded, by reason.",
		}, []string{"reason"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_dropped_total",
			Help:      "Engine actions rejected because the queue was full.",
		}, []string{"action"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Record conflicts detected, by record type and outcome.",
		}, []string{"record", "outcome"}),
		slotState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slot_state",
			Help:      "Current state of each interface slot (0 off, 1 dup, 2 init, 3-5 probing, 6-8 announcing, 9 running).",
		}, slotKeys),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.received, m.sent, m.dropped, m.actions, m.conflicts, m.slotState}
}

func slotLabels(k state.Key) prometheus.Labels {
	return prometheus.Labels{"interface": strconv.Itoa(k.Interface), "version": k.Version.String()}
}

func (m *Metrics) PacketReceived(slot state.Key) {
	m.received.With(slotLabels(slot)).Inc()
}

func (m *Metrics) PacketSent(slot state.Key) {
	m.sent.With(slotLabels(slot)).Inc()
}

func (m *Metrics) PacketDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ActionDropped(action string) {
	m.actions.WithLabelValues(action).Inc()
}

func (m *Metrics) Conflict(record, outcome string) {
	m.conflicts.WithLabelValues(record, outcome).Inc()
}

func (m *Metrics) SlotState(slot state.Key, s state.State) {
	m.slotState.With(slotLabels(slot)).Set(float64(s))
}
