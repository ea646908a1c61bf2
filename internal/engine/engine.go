// Package engine runs the mDNS responder and resolver protocol.
//
// RFC 6762 §8 (probing and announcing), §6 (responding), §7.1 (known-answer
// suppression) and §9 (conflict resolution).
//
// Every piece of protocol state (host identity, services, interface slots,
// the transmit queue and open searches) is owned by a single consumer
// goroutine. Producers, which are the public API, transport receive loops
// and the tick goroutine, only post actions onto a bounded channel. A full
// channel rejects the action with errors.ErrQueueFull.
package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/log"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/responder"
	"github.com/joshuafuller/mdnsd/internal/scheduler"
	"github.com/joshuafuller/mdnsd/internal/search"
	"github.com/joshuafuller/mdnsd/internal/state"
)

const (
	// DefaultQueueSize is the capacity of the action channel.
	DefaultQueueSize = 16

	// DefaultTickInterval is how often the transmit queue and open searches
	// are serviced.
	DefaultTickInterval = 100 * time.Millisecond
)

// Sender transmits a serialized message on a slot.
type Sender interface {
	Send(ctx context.Context, slot state.Key, dst netip.AddrPort, b []byte) error
}

// AddrSource reports the address configured on an interface for an IP
// version: the primary IPv4 address, or the IPv6 link-local address.
type AddrSource interface {
	Addr(ifIndex int, v state.IPVersion) (netip.Addr, bool)
}

// Config configures an Engine.
type Config struct {
	Hostname string
	Instance string
	TTLs     records.TTLs

	Sender Sender
	Addrs  AddrSource

	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Jitter returns a random value; the low 7 bits delay the first probe.
	Jitter func() uint32
	// Logger defaults to the process default logger.
	Logger *slog.Logger
	// Metrics defaults to a no-op implementation.
	Metrics Metrics

	QueueSize    int
	TickInterval time.Duration
}

// Engine is the protocol core.
type Engine struct {
	clock   clock.Clock
	log     *log.LazyLogger
	metrics Metrics
	sender  Sender
	addrs   AddrSource
	jitter  func() uint32
	tickDur time.Duration

	actions chan *action

	// mu is held by the consumer while it executes an action. The tick
	// goroutine takes it to read and set tickPending.
	mu          sync.Mutex
	tickPending bool

	// Owned by the consumer goroutine.
	host     records.Host
	ttls     records.TTLs
	services *responder.Registry
	slots    map[state.Key]*state.Slot
	queue    *scheduler.Queue
	searches []*search.Query
	step     int

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

// New returns an Engine that is not yet running.
func New(cfg Config) (*Engine, error) {
	if cfg.Sender == nil {
		return nil, &errors.ValidationError{Field: "sender", Value: nil, Message: "must not be nil"}
	}
	if cfg.Addrs == nil {
		return nil, &errors.ValidationError{Field: "addrs", Value: nil, Message: "must not be nil"}
	}
	if cfg.Hostname != "" {
		if err := records.ValidateName("hostname", cfg.Hostname); err != nil {
			return nil, err
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Uint32
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	e := &Engine{
		clock:    cfg.Clock,
		log:      log.FromSlog(cfg.Logger, "engine"),
		metrics:  cfg.Metrics,
		sender:   cfg.Sender,
		addrs:    cfg.Addrs,
		jitter:   cfg.Jitter,
		tickDur:  cfg.TickInterval,
		actions:  make(chan *action, cfg.QueueSize),
		host:     records.Host{Hostname: cfg.Hostname, Instance: cfg.Instance},
		ttls:     cfg.TTLs.WithDefaults(),
		services: responder.NewRegistry(),
		slots:    make(map[state.Key]*state.Slot),
		queue:    scheduler.NewQueue(cfg.Clock),
		done:     make(chan struct{}),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Start launches the consumer and tick goroutines.
func (e *Engine) Start() error {
	if e.closed.Load() {
		return errors.ErrNotRunning
	}
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	g, ctx := errgroup.WithContext(e.ctx)
	e.group = g
	g.Go(func() error { return e.run(ctx) })
	g.Go(func() error { return e.tickLoop(ctx) })
	e.log.Debug("engine started", "hostname", e.host.Hostname, "tick", e.tickDur)
	return nil
}

// Close sends goodbyes for everything advertised, stops the goroutines and
// fails any open search. It is safe to call more than once.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !e.started.Load() {
		e.cancel()
		return nil
	}

	// The shutdown action is the last one the consumer executes. If the
	// channel is full the context cancel below still stops the loop.
	select {
	case e.actions <- &action{kind: actionShutdown}:
		select {
		case <-e.done:
		case <-time.After(time.Second):
		}
	default:
	}
	e.cancel()
	err := e.group.Wait()
	e.log.Debug("engine stopped")
	return err
}

// Done is closed once the consumer goroutine has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) run(ctx context.Context) error {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.shutdown()
			e.mu.Unlock()
			return nil
		case a := <-e.actions:
			e.mu.Lock()
			e.execute(a)
			e.mu.Unlock()
			if a.kind == actionShutdown {
				return nil
			}
		}
	}
}

// tickLoop posts a tick action unless one is already queued.
func (e *Engine) tickLoop(ctx context.Context) error {
	t := e.clock.Ticker(e.tickDur)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.mu.Lock()
			if !e.tickPending {
				select {
				case e.actions <- &action{kind: actionTick}:
					e.tickPending = true
				default:
					e.metrics.ActionDropped(actionTick.String())
				}
			}
			e.mu.Unlock()
		}
	}
}

// submit posts a without blocking.
func (e *Engine) submit(a *action) error {
	if !e.started.Load() || e.closed.Load() {
		return errors.ErrNotRunning
	}
	select {
	case e.actions <- a:
		return nil
	default:
		e.metrics.ActionDropped(a.kind.String())
		e.log.Warn("action queue full", "action", a.kind)
		return errors.ErrQueueFull
	}
}

// call posts a and waits for the consumer's reply.
func (e *Engine) call(ctx context.Context, a *action) error {
	a.reply = make(chan error, 1)
	if err := e.submit(a); err != nil {
		return err
	}
	select {
	case err := <-a.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return errors.ErrNotRunning
	}
}

// shutdown withdraws everything still advertised. Called by the consumer.
func (e *Engine) shutdown() {
	e.sendBye(e.services.All(), true)
	e.queue.Clear()
	for _, q := range e.searches {
		q.Finish()
	}
	e.searches = nil
	for _, s := range e.slots {
		s.State = state.Off
	}
}

// slot returns the slot for key, creating it in the Off state.
func (e *Engine) slot(key state.Key) *state.Slot {
	s, ok := e.slots[key]
	if !ok {
		s = state.NewSlot(key, "")
		e.slots[key] = s
	}
	return s
}

// activeSlots returns every slot with an open transport, in key order.
func (e *Engine) activeSlots() []*state.Slot {
	out := make([]*state.Slot, 0, len(e.slots))
	for _, s := range e.slots {
		if s.Active() {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out
}

func (e *Engine) setState(s *state.Slot, st state.State) {
	if s.State == st {
		return
	}
	e.log.Debug("slot state", "slot", s.Key, "from", s.State, "to", st)
	s.State = st
	e.metrics.SlotState(s.Key, st)
}
