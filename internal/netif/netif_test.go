package netif

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/mdnsd/internal/state"
)

func ipnet(s string) *net.IPNet {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

// fakeSystem serves a mutable interface list.
type fakeSystem struct {
	mu    sync.Mutex
	ifcs  []net.Interface
	addrs map[int][]net.Addr
}

func (f *fakeSystem) set(ifcs []net.Interface, addrs map[int][]net.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ifcs, f.addrs = ifcs, addrs
}

func (f *fakeSystem) system() System {
	return System{
		Interfaces: func() ([]net.Interface, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return append([]net.Interface(nil), f.ifcs...), nil
		},
		Addrs: func(ifc *net.Interface) ([]net.Addr, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.addrs[ifc.Index], nil
		},
	}
}

const usable = net.FlagUp | net.FlagMulticast

func TestSystem_List(t *testing.T) {
	f := &fakeSystem{}
	f.set([]net.Interface{
		{Index: 3, Name: "wlan0", Flags: usable},
		{Index: 1, Name: "lo", Flags: usable | net.FlagLoopback},
		{Index: 2, Name: "eth0", Flags: usable},
		{Index: 4, Name: "tun0", Flags: net.FlagUp},
		{Index: 5, Name: "eth1", Flags: net.FlagMulticast},
	}, map[int][]net.Addr{
		2: {ipnet("2001:db8::2/64"), ipnet("192.168.1.2/24"), ipnet("fe80::2/64"), ipnet("10.0.0.2/8")},
		3: {ipnet("192.168.2.3/24")},
	})

	got, err := f.system().List(nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Interface{
		Index: 2,
		Name:  "eth0",
		IPv4:  netip.MustParseAddr("192.168.1.2"),
		IPv6:  netip.MustParseAddr("fe80::2"),
	}, got[0])
	assert.Equal(t, "wlan0", got[1].Name)
	assert.False(t, got[1].IPv6.IsValid())

	got, err = f.system().List([]string{"WLAN0"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Index)
}

func TestPickAddrs_GlobalIPv6Fallback(t *testing.T) {
	v4, v6 := pickAddrs([]net.Addr{ipnet("2001:db8::9/64"), &net.IPAddr{IP: net.ParseIP("127.0.0.1")}})
	assert.False(t, v4.IsValid(), "loopback is never advertised")
	assert.Equal(t, netip.MustParseAddr("2001:db8::9"), v6)
}

func TestTable(t *testing.T) {
	tab := NewTable([]Interface{{Index: 2, Name: "eth0", IPv4: netip.MustParseAddr("192.168.1.2")}})

	a, ok := tab.Addr(2, state.IPv4)
	assert.True(t, ok)
	assert.Equal(t, "192.168.1.2", a.String())

	_, ok = tab.Addr(2, state.IPv6)
	assert.False(t, ok)
	_, ok = tab.Addr(9, state.IPv4)
	assert.False(t, ok)

	tab.Replace(nil)
	assert.Empty(t, tab.All())
}

func TestDiff(t *testing.T) {
	a := netip.MustParseAddr("192.168.1.2")
	b := netip.MustParseAddr("192.168.1.3")
	ll := netip.MustParseAddr("fe80::2")

	tests := []struct {
		name   string
		before []Interface
		after  []Interface
		want   []ChangeKind
	}{
		{name: "nothing", before: []Interface{{Index: 2, IPv4: a}}, after: []Interface{{Index: 2, IPv4: a}}},
		{name: "new interface", after: []Interface{{Index: 2, IPv4: a, IPv6: ll}}, want: []ChangeKind{Up, Up}},
		{name: "address replaced", before: []Interface{{Index: 2, IPv4: a}}, after: []Interface{{Index: 2, IPv4: b}}, want: []ChangeKind{AddressChanged}},
		{name: "ipv6 lost", before: []Interface{{Index: 2, IPv4: a, IPv6: ll}}, after: []Interface{{Index: 2, IPv4: a}}, want: []ChangeKind{Down}},
		{name: "interface gone", before: []Interface{{Index: 2, IPv4: a, IPv6: ll}}, want: []ChangeKind{Down, Down}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var kinds []ChangeKind
			for _, c := range Diff(tt.before, tt.after) {
				kinds = append(kinds, c.Kind)
			}
			assert.Equal(t, tt.want, kinds)
		})
	}
}

func TestMonitor_Run(t *testing.T) {
	f := &fakeSystem{}
	f.set([]net.Interface{{Index: 2, Name: "eth0", Flags: usable}}, map[int][]net.Addr{2: {ipnet("192.168.1.2/24")}})

	clk := clock.NewMock()
	tab := NewTable(nil)
	m := &Monitor{System: f.system(), Clock: clk, Interval: time.Second, Table: tab}

	changes, err := m.Poll()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Up, changes[0].Kind)
	_, ok := tab.Addr(2, state.IPv4)
	assert.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Change, 4)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, func(c Change) { got <- c }) }()

	f.set([]net.Interface{{Index: 2, Name: "eth0", Flags: usable}}, map[int][]net.Addr{2: {ipnet("192.168.1.9/24")}})
	// Give Run a chance to create its ticker before moving the clock.
	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		select {
		case c := <-got:
			assert.Equal(t, AddressChanged, c.Kind)
			assert.Equal(t, "192.168.1.9", c.Interface.IPv4.String())
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestMonitor_PollError(t *testing.T) {
	m := &Monitor{System: System{Interfaces: func() ([]net.Interface, error) { return nil, errors.New("boom") }}}
	_, err := m.Poll()
	assert.EqualError(t, err, "boom")
}
