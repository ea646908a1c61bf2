package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/mdnsd/internal/state"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	slot := state.Key{Interface: 3, Version: state.IPv6}
	m.PacketReceived(slot)
	m.PacketReceived(slot)
	m.PacketSent(slot)
	m.PacketDropped("malformed")
	m.ActionDropped("rx-handle")
	m.Conflict("SRV", "they-win")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.received.WithLabelValues("3", "v6")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("3", "v6")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("rx-handle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("SRV", "they-win")))
}

func TestMetrics_SlotState(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	slot := state.Key{Interface: 1, Version: state.IPv4}
	m.SlotState(slot, state.Probe2)
	m.SlotState(slot, state.Running)

	expected := `
# HELP mdnsd_slot_state Current state of each interface slot (0 off, 1 dup, 2 init, 3-5 probing, 6-8 announcing, 9 running).
# TYPE mdnsd_slot_state gauge
mdnsd_slot_state{interface="1",version="v4"} 9
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "mdnsd_slot_state"))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	var already prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &already)
}

func TestNew_NilRegisterer(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	m.PacketDropped("send")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("send")))
}
