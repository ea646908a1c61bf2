package netif

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/joshuafuller/mdnsd/internal/log"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// DefaultPollInterval is how often a Monitor rereads the interface list.
const DefaultPollInterval = 5 * time.Second

// ChangeKind classifies a Change.
type ChangeKind int

const (
	// Up means the interface gained an address of the version.
	Up ChangeKind = iota
	// Down means the interface lost its address of the version, or went away.
	Down
	// AddressChanged means the address of the version was replaced.
	AddressChanged
)

func (k ChangeKind) String() string {
	switch k {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "address-changed"
	}
}

// Change is one per-version difference between two snapshots.
type Change struct {
	Kind      ChangeKind
	Interface Interface
	Version   state.IPVersion
}

// Diff lists the changes turning before into after, ordered by interface
// index then version.
func Diff(before, after []Interface) []Change {
	old := make(map[int]Interface, len(before))
	for _, i := range before {
		old[i.Index] = i
	}
	seen := make(map[int]bool, len(after))
	var out []Change
	for _, n := range after {
		seen[n.Index] = true
		o := old[n.Index]
		for _, v := range []state.IPVersion{state.IPv4, state.IPv6} {
			oa, had := o.Addr(v)
			na, has := n.Addr(v)
			switch {
			case !had && has:
				out = append(out, Change{Kind: Up, Interface: n, Version: v})
			case had && !has:
				out = append(out, Change{Kind: Down, Interface: n, Version: v})
			case had && has && oa != na:
				out = append(out, Change{Kind: AddressChanged, Interface: n, Version: v})
			}
		}
	}
	for _, o := range before {
		if seen[o.Index] {
			continue
		}
		for _, v := range []state.IPVersion{state.IPv4, state.IPv6} {
			if _, had := o.Addr(v); had {
				out = append(out, Change{Kind: Down, Interface: o, Version: v})
			}
		}
	}
	return out
}

// Monitor polls the interface list and reports changes. It keeps Table
// current so the address source always reflects the last poll.
type Monitor struct {
	System   System
	Allow    []string
	Clock    clock.Clock
	Interval time.Duration
	Table    *Table

	log  *log.LazyLogger
	last []Interface
}

// NewMonitor returns a monitor over the OS interfaces.
func NewMonitor(allow []string, table *Table) *Monitor {
	return &Monitor{
		System:   OS,
		Allow:    allow,
		Clock:    clock.New(),
		Interval: DefaultPollInterval,
		Table:    table,
		log:      log.Logger("netif"),
	}
}

// Poll rereads the interfaces, updates Table and returns what changed
// since the previous poll. The first poll reports every address as Up.
func (m *Monitor) Poll() ([]Change, error) {
	ifcs, err := m.System.List(m.Allow)
	if err != nil {
		return nil, err
	}
	changes := Diff(m.last, ifcs)
	m.last = ifcs
	if m.Table != nil {
		m.Table.Replace(ifcs)
	}
	return changes, nil
}

// Run polls every Interval and hands each change to fn until ctx is done.
// The caller should Poll once beforehand to bring up the initial set.
func (m *Monitor) Run(ctx context.Context, fn func(Change)) error {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	t := m.Clock.Ticker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			changes, err := m.Poll()
			if err != nil {
				m.logger().Warn("listing interfaces failed", "err", err)
				continue
			}
			for _, c := range changes {
				m.logger().Info("interface changed", "interface", c.Interface.Name, "index", c.Interface.Index, "version", c.Version, "change", c.Kind)
				fn(c)
			}
		}
	}
}

func (m *Monitor) logger() *log.LazyLogger {
	if m.log == nil {
		m.log = log.Logger("netif")
	}
	return m.log
}
