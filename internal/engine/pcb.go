package engine

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/joshuafuller/mdnsd/internal/log"
	"github.com/joshuafuller/mdnsd/internal/message"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// RFC 6762 §8.1 and §8.3 timings.
const (
	probeDelay        = 120 * time.Millisecond
	probeDelayBackoff = time.Second
	probeInterval     = 250 * time.Millisecond
	announceDelay     = 250 * time.Millisecond
	announceInterval  = time.Second

	// maxFailedProbes is the number of lost probes after which the first
	// probe is delayed by a second (RFC 6762 §8.1 rate limit).
	maxFailedProbes = 5
)

func sortSlots(slots []*state.Slot) {
	slices.SortFunc(slots, func(a, b *state.Slot) int {
		if c := cmp.Compare(a.Key.Interface, b.Key.Interface); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.Version, b.Key.Version)
	})
}

// enableSlot opens a slot and probes every service on it.
func (e *Engine) enableSlot(s *state.Slot) {
	if !s.Active() {
		s.DupOf = -1
		e.setState(s, state.Init)
	}
	e.initProbe(s, e.services.All(), true)
}

// disableSlot closes a slot. A sibling that was suppressed as a duplicate
// of it takes over.
func (e *Engine) disableSlot(s *state.Slot) {
	if s.Active() {
		e.queue.ClearSlot(s.Key)
		s.ResetProbe()
		for _, o := range e.slots {
			if o.State == state.Dup && o.DupOf == s.Key.Interface && o.Key.Version == s.Key.Version {
				e.log.Info("duplicate interface takes over", "slot", o.Key, "from", s.Key)
				e.setState(o, state.Off)
				e.enableSlot(o)
			}
		}
	}
	s.DupOf = -1
	e.setState(s, state.Off)
}

// markDuplicate suppresses every slot of ifIndex whose IP version is also
// served by sibling: both interfaces are attached to the same link.
func (e *Engine) markDuplicate(ifIndex, sibling int) {
	for _, v := range []state.IPVersion{state.IPv4, state.IPv6} {
		other, ok := e.slots[state.Key{Interface: sibling, Version: v}]
		if !ok || !other.Active() {
			continue
		}
		s := e.slot(state.Key{Interface: ifIndex, Version: v})
		if s.Active() {
			e.queue.ClearSlot(s.Key)
			s.ResetProbe()
		}
		s.DupOf = sibling
		e.setState(s, state.Dup)
		e.log.Info("interface is a duplicate", "slot", s.Key, "sibling", other.Key)
		e.announcePCB(other, nil, true)
	}
}

// initProbe starts (or restarts) probing services on s. Anything still
// queued for the slot is discarded.
func (e *Engine) initProbe(s *state.Slot, services []*records.Service, probeIP bool) {
	e.queue.ClearSlot(s.Key)
	if e.host.Hostname == "" {
		e.setState(s, state.Running)
		return
	}

	services, probeIP = s.MergeProbe(services, probeIP)
	p := e.createProbe(s.Key, services, true, probeIP)
	s.ProbeRunning = true

	delay := probeDelay
	if s.FailedProbes > maxFailedProbes {
		delay = probeDelayBackoff
	}
	delay += time.Duration(e.jitter()&0x7F) * time.Millisecond
	e.queue.Schedule(p, delay)
	e.setState(s, state.Probe1)
}

// probeAll probes services on every active slot. clearOld drops the probe
// set in flight instead of merging with it.
func (e *Engine) probeAll(services []*records.Service, probeIP, clearOld bool) {
	for _, s := range e.activeSlots() {
		if clearOld {
			s.ProbeServices = nil
			s.ProbeRunning = false
		}
		e.initProbe(s, services, probeIP)
	}
}

// restartAll drops every pending transmission and probes the host name and
// every service again.
func (e *Engine) restartAll() {
	e.queue.Clear()
	e.probeAll(e.services.All(), true, true)
}

// restartNoInstance re-probes the services named after the host instance.
func (e *Engine) restartNoInstance() {
	services := e.services.WithoutInstance()
	if len(services) == 0 {
		return
	}
	e.probeAll(services, false, true)
}

// announceAll re-announces services on every active slot.
func (e *Engine) announceAll(services []*records.Service, includeIP bool) {
	for _, s := range e.activeSlots() {
		e.announcePCB(s, services, includeIP)
	}
}

// announcePCB re-advertises services on s in a way that fits its state: a
// probing slot restarts its probe, an announcing slot folds the records
// into the pending announcement, a running slot announces afresh.
func (e *Engine) announcePCB(s *state.Slot, services []*records.Service, includeIP bool) {
	if !s.Active() {
		return
	}
	switch {
	case s.State.IsProbing():
		e.initProbe(s, services, includeIP)

	case s.State.IsAnnouncing():
		p := e.queue.Tracked(s.Key)
		if p == nil {
			return
		}
		for _, svc := range services {
			addServiceAnswers(p, svc)
		}
		if includeIP {
			for _, rt := range []protocol.RecordType{protocol.RecordTypeA, protocol.RecordTypeAAAA} {
				p.RemoveAnswer(message.SectionAdditional, rt, nil)
				p.AddAnswer(message.SectionAnswer, rt, nil, true, false)
			}
		}
		e.setState(s, state.Announce1)

	case s.State.IsRunning():
		e.setState(s, state.Announce1)
		e.queue.Schedule(e.createAnnounce(s.Key, services, includeIP), 0)
	}
}

// addServiceAnswers appends the four records advertising svc.
func addServiceAnswers(p *message.Packet, svc *records.Service) {
	p.AddAnswer(message.SectionAnswer, protocol.RecordTypeSDPTR, svc, false, false)
	p.AddAnswer(message.SectionAnswer, protocol.RecordTypePTR, svc, false, false)
	p.AddAnswer(message.SectionAnswer, protocol.RecordTypeSRV, svc, true, false)
	p.AddAnswer(message.SectionAnswer, protocol.RecordTypeTXT, svc, true, false)
}

// createProbe builds a probe query: an ANY question per instance name (and
// the host name when includeIP is set) with the proposed records in the
// authority section (RFC 6762 §8.1, §8.2).
func (e *Engine) createProbe(key state.Key, services []*records.Service, first, includeIP bool) *message.Packet {
	p := message.NewPacket(key)
	p.Tracked = true
	for _, svc := range services {
		p.AddQuestion(&message.Question{
			Type:    protocol.RecordTypeANY,
			Unicast: first,
			Host:    e.host.InstanceName(svc),
			Service: svc.Type,
			Proto:   svc.Proto,
			Domain:  protocol.DefaultDomain,
		})
		p.AddAnswer(message.SectionAuthority, protocol.RecordTypeSRV, svc, false, false)
	}
	if includeIP {
		p.AddQuestion(&message.Question{
			Type:    protocol.RecordTypeANY,
			Unicast: first,
			Host:    e.host.Hostname,
			Domain:  protocol.DefaultDomain,
		})
		if s, ok := e.slots[state.Key{Interface: key.Interface, Version: state.IPv4}]; ok && s.Active() {
			p.AddAnswer(message.SectionAuthority, protocol.RecordTypeA, nil, false, false)
		}
		if s, ok := e.slots[state.Key{Interface: key.Interface, Version: state.IPv6}]; ok && s.Active() {
			p.AddAnswer(message.SectionAuthority, protocol.RecordTypeAAAA, nil, false, false)
		}
	}
	return p
}

// createAnnounce builds an unsolicited announcement (RFC 6762 §8.3).
func (e *Engine) createAnnounce(key state.Key, services []*records.Service, includeIP bool) *message.Packet {
	p := message.NewPacket(key)
	p.Flags = protocol.FlagsAuthoritative
	p.Tracked = true
	for _, svc := range services {
		addServiceAnswers(p, svc)
	}
	if includeIP {
		p.AddAnswer(message.SectionAnswer, protocol.RecordTypeA, nil, true, false)
		p.AddAnswer(message.SectionAnswer, protocol.RecordTypeAAAA, nil, true, false)
	}
	return p
}

// announceFromProbe turns a finished probe into the first announcement of
// the records it claimed.
func (e *Engine) announceFromProbe(probe *message.Packet) *message.Packet {
	p := message.NewPacket(probe.Slot)
	p.Flags = protocol.FlagsAuthoritative
	p.Tracked = true
	for _, a := range probe.Servers {
		switch a.Type {
		case protocol.RecordTypeSRV:
			if a.Service != nil {
				addServiceAnswers(p, a.Service)
			}
		case protocol.RecordTypeA, protocol.RecordTypeAAAA:
			p.AddAnswer(message.SectionAnswer, a.Type, nil, true, false)
		}
	}
	return p
}

// pcbSendBye sends goodbyes (TTL 0) for services, and the host addresses
// when includeIP is set, on one slot.
func (e *Engine) pcbSendBye(s *state.Slot, services []*records.Service, includeIP bool) {
	p := message.NewPacket(s.Key)
	p.Flags = protocol.FlagsAuthoritative
	for _, svc := range services {
		p.AddAnswer(message.SectionAnswer, protocol.RecordTypePTR, svc, true, true)
	}
	if includeIP {
		p.AddAnswer(message.SectionAnswer, protocol.RecordTypeA, nil, true, true)
		p.AddAnswer(message.SectionAnswer, protocol.RecordTypeAAAA, nil, true, true)
	}
	e.dispatch(p)
}

// sendBye sends goodbyes on every running slot.
func (e *Engine) sendBye(services []*records.Service, includeIP bool) {
	if len(services) == 0 && !includeIP {
		return
	}
	for _, s := range e.activeSlots() {
		if s.State.IsRunning() {
			e.pcbSendBye(s, services, includeIP)
		}
	}
}

// sendFinalBye withdraws every service, and the host addresses when
// includeIP is set.
func (e *Engine) sendFinalBye(includeIP bool) {
	e.sendBye(e.services.All(), includeIP)
}

// sendByeNoInstance withdraws the services named after the host instance.
func (e *Engine) sendByeNoInstance() {
	e.sendBye(e.services.WithoutInstance(), false)
}

// runScheduler transmits every due packet.
func (e *Engine) runScheduler() {
	now := e.now()
	for p := e.queue.PopDue(now); p != nil; p = e.queue.PopDue(now) {
		e.handleTx(p)
	}
}

// handleTx sends p and, if it drives its slot, advances the slot through
// the probe and announce sequence.
func (e *Engine) handleTx(p *message.Packet) {
	s, ok := e.slots[p.Slot]
	if !ok || !s.Active() {
		return
	}
	e.dispatch(p)
	if !p.Tracked {
		return
	}

	switch s.State {
	case state.Probe1:
		for _, q := range p.Questions {
			q.Unicast = false
		}
		fallthrough
	case state.Probe2:
		e.queue.Schedule(p, probeInterval)
		e.setState(s, s.State.Next())

	case state.Probe3:
		a := e.announceFromProbe(p)
		s.ResetProbe()
		s.FailedProbes = 0
		e.queue.Schedule(a, announceDelay)
		e.setState(s, state.Announce1)
		e.log.Debug("probe complete", "slot", s.Key, "hostname", e.host.Hostname)

	case state.Announce1, state.Announce2:
		e.queue.Schedule(p, announceInterval)
		e.setState(s, s.State.Next())

	case state.Announce3:
		e.setState(s, state.Running)
	}
}

// dispatch serializes p and hands it to the transport. Empty packets are
// not sent.
func (e *Engine) dispatch(p *message.Packet) {
	if p.Empty() {
		return
	}
	b, err := message.Build(p, source{e})
	if err != nil {
		e.metrics.PacketDropped("build")
		e.log.Debug("dropping outgoing packet", "slot", p.Slot, "err", err)
		return
	}
	if e.log.Enabled(log.LevelDebug) {
		e.dumpPacket("sending", p.Slot, p.Dst.String(), b)
	}
	if err := e.sender.Send(context.WithoutCancel(e.ctx), p.Slot, p.Dst, b); err != nil {
		e.metrics.PacketDropped("send")
		e.log.Debug("send failed", "slot", p.Slot, "dst", p.Dst, "err", err)
		return
	}
	e.metrics.PacketSent(p.Slot)
}
