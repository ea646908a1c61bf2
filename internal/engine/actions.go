package engine

import (
	"context"
	"net/netip"
	"time"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/log"
	"github.com/joshuafuller/mdnsd/internal/message"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/search"
	"github.com/joshuafuller/mdnsd/internal/state"
)

type actionKind int

const (
	actionHostnameSet actionKind = iota
	actionInstanceSet
	actionServiceAdd
	actionServiceDel
	actionServicesClear
	actionServicePortSet
	actionServiceInstanceSet
	actionServiceTXTReplace
	actionServiceTXTSet
	actionServiceTXTDel
	actionSystemEvent
	actionRxHandle
	actionTick
	actionSearchAdd
	actionSearchCancel
	actionSnapshot
	actionShutdown
)

var actionNames = [...]string{
	actionHostnameSet:        "hostname-set",
	actionInstanceSet:        "instance-set",
	actionServiceAdd:         "service-add",
	actionServiceDel:         "service-del",
	actionServicesClear:      "services-clear",
	actionServicePortSet:     "service-port-set",
	actionServiceInstanceSet: "service-instance-set",
	actionServiceTXTReplace:  "service-txt-replace",
	actionServiceTXTSet:      "service-txt-set",
	actionServiceTXTDel:      "service-txt-del",
	actionSystemEvent:        "system-event",
	actionRxHandle:           "rx-handle",
	actionTick:               "tick",
	actionSearchAdd:          "search-add",
	actionSearchCancel:       "search-cancel",
	actionSnapshot:           "snapshot",
	actionShutdown:           "shutdown",
}

func (k actionKind) String() string {
	if int(k) < len(actionNames) {
		return actionNames[k]
	}
	return "unknown"
}

type action struct {
	kind actionKind

	name    string
	service string
	proto   string
	port    uint16
	svc     *records.Service
	txt     []records.TXTItem
	key     string
	value   string

	event Event
	rx    *inbound
	query *search.Query
	snap  *Snapshot
	reply chan error
}

func (a *action) respond(err error) {
	if a.reply != nil {
		a.reply <- err
	}
}

// EventKind is a change in a host interface.
type EventKind int

const (
	// EventUp reports an interface that can carry the given IP version.
	EventUp EventKind = iota
	// EventDown reports an interface that lost the given IP version.
	EventDown
	// EventAddressChanged reports a new address for the given IP version.
	EventAddressChanged
)

func (k EventKind) String() string {
	switch k {
	case EventDown:
		return "down"
	case EventAddressChanged:
		return "address-changed"
	default:
		return "up"
	}
}

// Event is a host interface notification.
type Event struct {
	Kind      EventKind
	Interface int
	Name      string
	Version   state.IPVersion
}

// Inbound is one received datagram.
type Inbound struct {
	Slot state.Key
	Src  netip.AddrPort
	Dst  netip.Addr
	Data []byte
}

type inbound struct {
	slot state.Key
	src  netip.AddrPort
	dst  netip.Addr
	msg  *message.Message
}

// Snapshot is a copy of the engine's state.
type Snapshot struct {
	Host     records.Host
	Services []*records.Service
	Slots    map[state.Key]state.State
	Queued   int
	Searches int
}

// SetHostname replaces the host name: goodbyes go out for the old name and
// every slot probes the new one.
func (e *Engine) SetHostname(ctx context.Context, hostname string) error {
	if err := records.ValidateName("hostname", hostname); err != nil {
		return err
	}
	return e.call(ctx, &action{kind: actionHostnameSet, name: hostname})
}

// SetInstance replaces the default instance name of services that have
// none of their own.
func (e *Engine) SetInstance(ctx context.Context, instance string) error {
	if err := records.ValidateName("instance", instance); err != nil {
		return err
	}
	return e.call(ctx, &action{kind: actionInstanceSet, name: instance})
}

// AddService registers a copy of svc and starts probing it. It returns once
// the service is registered, not once probing completes.
func (e *Engine) AddService(ctx context.Context, svc *records.Service) error {
	if svc == nil {
		return &errors.ValidationError{Field: "service", Value: nil, Message: "must not be nil"}
	}
	c := svc.Clone()
	c.Type = records.NormalizeLabel(c.Type)
	c.Proto = records.NormalizeLabel(c.Proto)
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Port == 0 {
		return &errors.ValidationError{Field: "port", Value: c.Port, Message: "must not be zero"}
	}
	return e.call(ctx, &action{kind: actionServiceAdd, svc: c})
}

// RemoveService sends goodbyes for a service and unregisters it.
func (e *Engine) RemoveService(ctx context.Context, service, proto string) error {
	a, err := serviceAction(actionServiceDel, service, proto)
	if err != nil {
		return err
	}
	return e.call(ctx, a)
}

// RemoveAllServices sends goodbyes for every service and unregisters them.
func (e *Engine) RemoveAllServices(ctx context.Context) error {
	return e.call(ctx, &action{kind: actionServicesClear})
}

// SetServicePort changes a service's port and re-announces it.
func (e *Engine) SetServicePort(ctx context.Context, service, proto string, port uint16) error {
	if port == 0 {
		return &errors.ValidationError{Field: "port", Value: port, Message: "must not be zero"}
	}
	a, err := serviceAction(actionServicePortSet, service, proto)
	if err != nil {
		return err
	}
	a.port = port
	return e.call(ctx, a)
}

// SetServiceInstance gives a service its own instance name and re-probes it.
func (e *Engine) SetServiceInstance(ctx context.Context, service, proto, instance string) error {
	if err := records.ValidateName("instance", instance); err != nil {
		return err
	}
	a, err := serviceAction(actionServiceInstanceSet, service, proto)
	if err != nil {
		return err
	}
	a.name = instance
	return e.call(ctx, a)
}

// SetServiceTXT replaces a service's TXT items.
func (e *Engine) SetServiceTXT(ctx context.Context, service, proto string, items []records.TXTItem) error {
	if err := records.ValidateTXT(items); err != nil {
		return err
	}
	a, err := serviceAction(actionServiceTXTReplace, service, proto)
	if err != nil {
		return err
	}
	a.txt = append([]records.TXTItem(nil), items...)
	return e.call(ctx, a)
}

// SetServiceTXTItem sets one TXT key, appending it when new.
func (e *Engine) SetServiceTXTItem(ctx context.Context, service, proto, key, value string) error {
	if key == "" {
		return &errors.ValidationError{Field: "txt key", Value: key, Message: "must not be empty"}
	}
	a, err := serviceAction(actionServiceTXTSet, service, proto)
	if err != nil {
		return err
	}
	a.key, a.value = key, value
	return e.call(ctx, a)
}

// RemoveServiceTXTItem deletes one TXT key.
func (e *Engine) RemoveServiceTXTItem(ctx context.Context, service, proto, key string) error {
	if key == "" {
		return &errors.ValidationError{Field: "txt key", Value: key, Message: "must not be empty"}
	}
	a, err := serviceAction(actionServiceTXTDel, service, proto)
	if err != nil {
		return err
	}
	a.key = key
	return e.call(ctx, a)
}

func serviceAction(kind actionKind, service, proto string) (*action, error) {
	service, proto = records.NormalizeLabel(service), records.NormalizeLabel(proto)
	if err := records.ValidateName("service", service); err != nil {
		return nil, err
	}
	if err := records.ValidateName("proto", proto); err != nil {
		return nil, err
	}
	return &action{kind: kind, service: service, proto: proto}, nil
}

// HandleEvent posts a host interface notification.
func (e *Engine) HandleEvent(ev Event) error {
	return e.submit(&action{kind: actionSystemEvent, event: ev})
}

// HandlePacket decodes a datagram and posts it to the consumer. Malformed
// datagrams are counted and dropped here.
func (e *Engine) HandlePacket(in Inbound) error {
	e.metrics.PacketReceived(in.Slot)
	m, err := message.Parse(in.Data)
	if err != nil {
		e.metrics.PacketDropped("malformed")
		e.log.Debug("dropping malformed packet", "slot", in.Slot, "src", in.Src, "err", err)
		return nil
	}
	if e.log.Enabled(log.LevelDebug) {
		e.dumpPacket("received", in.Slot, in.Src.String(), in.Data)
	}
	err = e.submit(&action{kind: actionRxHandle, rx: &inbound{slot: in.Slot, src: in.Src, dst: in.Dst, msg: m}})
	if err != nil {
		e.metrics.PacketDropped("queue-full")
	}
	return err
}

// Query runs q until it times out or collects MaxResults results.
//
// When ctx's deadline passes first, Query returns the results gathered so
// far. Cancelling ctx returns ctx.Err().
func (e *Engine) Query(ctx context.Context, q *search.Query) ([]*search.Result, error) {
	if q == nil {
		return nil, &errors.ValidationError{Field: "query", Value: nil, Message: "must not be nil"}
	}
	if q.Timeout <= 0 {
		return nil, &errors.ValidationError{Field: "timeout", Value: q.Timeout, Message: "must be positive"}
	}
	if q.Type == protocol.RecordTypePTR && (q.Service == "" || q.Proto == "") {
		return nil, &errors.ValidationError{Field: "service", Value: q.Service, Message: "browse needs service and proto"}
	}
	if q.Type != protocol.RecordTypePTR && q.Instance == "" {
		return nil, &errors.ValidationError{Field: "name", Value: q.Instance, Message: "must not be empty"}
	}
	if err := e.submit(&action{kind: actionSearchAdd, query: q}); err != nil {
		return nil, err
	}
	select {
	case <-q.Done():
		return q.Results, nil
	case <-ctx.Done():
		return e.abandonQuery(ctx, q)
	case <-e.done:
		return nil, errors.ErrNotRunning
	}
}

// abandonQuery stops q once ctx has ended. A deadline hands back whatever
// q collected; a cancellation returns the context error.
func (e *Engine) abandonQuery(ctx context.Context, q *search.Query) ([]*search.Result, error) {
	q.Cancel()
	if err := e.submit(&action{kind: actionSearchCancel, query: q}); err != nil {
		// runSearches finishes q on the next tick.
		e.log.Debug("search cancel not queued", "type", q.Type, "err", err)
	}
	select {
	case <-q.Done():
	case <-e.done:
		return nil, errors.ErrNotRunning
	}
	if ctx.Err() == context.DeadlineExceeded {
		return q.Results, nil
	}
	return nil, ctx.Err()
}

// Snapshot returns a copy of the engine's state.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	if err := e.call(ctx, &action{kind: actionSnapshot, snap: snap}); err != nil {
		return nil, err
	}
	return snap, nil
}

// execute runs one action. Called by the consumer with e.mu held.
func (e *Engine) execute(a *action) {
	switch a.kind {
	case actionTick:
		e.tickPending = false
		e.runScheduler()
		e.runSearches()
		return
	case actionRxHandle:
		e.handlePacket(a.rx)
		return
	case actionSystemEvent:
		e.handleEvent(a.event)
		return
	case actionShutdown:
		e.shutdown()
		return
	}
	a.respond(e.executeCall(a))
}

func (e *Engine) executeCall(a *action) error {
	switch a.kind {
	case actionHostnameSet:
		e.sendFinalBye(true)
		e.host.Hostname = a.name
		e.restartAll()

	case actionInstanceSet:
		e.sendByeNoInstance()
		e.host.Instance = a.name
		e.restartNoInstance()

	case actionServiceAdd:
		if e.host.Hostname == "" {
			return errors.ErrNoHostname
		}
		if err := e.services.Add(a.svc); err != nil {
			return err
		}
		e.log.Debug("service added", "service", a.svc.Type, "proto", a.svc.Proto, "port", a.svc.Port)
		e.probeAll([]*records.Service{a.svc}, false, false)

	case actionServiceInstanceSet:
		svc := e.services.Find(a.service, a.proto)
		if svc == nil {
			return errors.ErrServiceNotFound
		}
		if svc.Instance != "" {
			e.sendBye([]*records.Service{svc}, false)
		}
		svc.Instance = a.name
		e.probeAll([]*records.Service{svc}, false, false)

	case actionServicePortSet:
		svc := e.services.Find(a.service, a.proto)
		if svc == nil {
			return errors.ErrServiceNotFound
		}
		svc.Port = a.port
		e.announceAll([]*records.Service{svc}, true)

	case actionServiceTXTReplace:
		svc := e.services.Find(a.service, a.proto)
		if svc == nil {
			return errors.ErrServiceNotFound
		}
		svc.TXT = a.txt
		e.announceAll([]*records.Service{svc}, false)

	case actionServiceTXTSet:
		svc := e.services.Find(a.service, a.proto)
		if svc == nil {
			return errors.ErrServiceNotFound
		}
		next := svc.Clone()
		next.SetTXT(a.key, a.value)
		if err := records.ValidateTXT(next.TXT); err != nil {
			return err
		}
		svc.TXT = next.TXT
		e.announceAll([]*records.Service{svc}, false)

	case actionServiceTXTDel:
		svc := e.services.Find(a.service, a.proto)
		if svc == nil {
			return errors.ErrServiceNotFound
		}
		if svc.DeleteTXT(a.key) {
			e.announceAll([]*records.Service{svc}, false)
		}

	case actionServiceDel:
		svc := e.services.Find(a.service, a.proto)
		if svc == nil {
			return errors.ErrServiceNotFound
		}
		e.sendBye([]*records.Service{svc}, false)
		e.dropService(svc)

	case actionServicesClear:
		e.sendFinalBye(false)
		for _, svc := range e.services.All() {
			e.dropService(svc)
		}

	case actionSearchAdd:
		e.addSearch(a.query)

	case actionSearchCancel:
		e.removeSearch(a.query)

	case actionSnapshot:
		e.fillSnapshot(a.snap)
	}
	return nil
}

// dropService forgets svc everywhere it is referenced.
func (e *Engine) dropService(svc *records.Service) {
	e.services.Remove(svc)
	e.queue.RemoveService(svc)
	for _, s := range e.slots {
		s.DropService(svc)
	}
	e.log.Debug("service removed", "service", svc.Type, "proto", svc.Proto)
}

func (e *Engine) fillSnapshot(snap *Snapshot) {
	snap.Host = e.host
	for _, svc := range e.services.All() {
		snap.Services = append(snap.Services, svc.Clone())
	}
	snap.Slots = make(map[state.Key]state.State, len(e.slots))
	for k, s := range e.slots {
		snap.Slots[k] = s.State
	}
	snap.Queued = e.queue.Len()
	snap.Searches = len(e.searches)
}

// handleEvent applies an interface notification.
func (e *Engine) handleEvent(ev Event) {
	key := state.Key{Interface: ev.Interface, Version: ev.Version}
	e.log.Debug("interface event", "slot", key, "name", ev.Name, "event", ev.Kind)
	switch ev.Kind {
	case EventUp:
		s := e.slot(key)
		if ev.Name != "" {
			s.Name = ev.Name
		}
		e.enableSlot(s)
	case EventDown:
		if s, ok := e.slots[key]; ok {
			e.disableSlot(s)
		}
	case EventAddressChanged:
		e.enableSlot(e.slot(key))
		if other, ok := e.slots[state.Key{Interface: ev.Interface, Version: ev.Version.Other()}]; ok {
			e.announcePCB(other, nil, true)
		}
	}
}

// now returns the engine clock's time.
func (e *Engine) now() time.Time {
	return e.clock.Now()
}
