package engine

import (
	"net/netip"
	"strings"
	"time"

	"github.com/joshuafuller/mdnsd/internal/conflict"
	"github.com/joshuafuller/mdnsd/internal/message"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// sharedDelayStep spaces shared answers (RFC 6762 §6: 20-120ms).
const sharedDelayStep = 25 * time.Millisecond

// parsedQuestion is a question kept for answering.
type parsedQuestion struct {
	typ     protocol.RecordType
	unicast bool
	name    message.Name
}

// parsedPacket is what the engine keeps of an inbound message while it
// handles it.
type parsedPacket struct {
	slot state.Key
	src  netip.AddrPort

	authoritative bool
	distributed   bool
	discovery     bool
	probe         bool
	doNotReply    bool

	questions []*parsedQuestion
}

func isDiscovery(n message.Name) bool {
	return strings.EqualFold(n.Host, protocol.ServicesHost) &&
		strings.EqualFold(n.Service, protocol.ServicesService) &&
		strings.EqualFold(n.Proto, protocol.ServicesProto) &&
		strings.EqualFold(n.Domain, protocol.DefaultDomain)
}

// nameIsOurs reports whether n is our host name, one of our service types,
// or one of our service instances.
func (e *Engine) nameIsOurs(n message.Name) bool {
	if !strings.EqualFold(n.Domain, protocol.DefaultDomain) {
		return false
	}
	if n.Service == "" && n.Proto == "" {
		return n.Host != "" && e.host.Hostname != "" && strings.EqualFold(n.Host, e.host.Hostname)
	}
	if n.Service == "" || n.Proto == "" {
		return false
	}
	svc := e.services.Find(n.Service, n.Proto)
	if svc == nil {
		return false
	}
	if n.Host == "" {
		return true
	}
	return strings.EqualFold(n.Host, e.host.InstanceName(svc))
}

// questionMatches reports whether q asks for the record rt of svc.
func (e *Engine) questionMatches(q *parsedQuestion, rt protocol.RecordType, svc *records.Service) bool {
	if q.typ != rt {
		return false
	}
	switch rt {
	case protocol.RecordTypeA, protocol.RecordTypeAAAA:
		return true
	case protocol.RecordTypePTR, protocol.RecordTypeSDPTR:
		return svc != nil && svc.Matches(q.name.Service, q.name.Proto) &&
			strings.EqualFold(q.name.Domain, protocol.DefaultDomain)
	case protocol.RecordTypeSRV, protocol.RecordTypeTXT:
		return svc != nil && svc.Matches(q.name.Service, q.name.Proto) &&
			strings.EqualFold(q.name.Domain, protocol.DefaultDomain) &&
			strings.EqualFold(q.name.Host, e.host.InstanceName(svc))
	}
	return false
}

// removeQuestion drops the first question the querier already holds an
// answer for (RFC 6762 §7.1).
func (e *Engine) removeQuestion(pp *parsedPacket, rt protocol.RecordType, svc *records.Service) {
	for i, q := range pp.questions {
		if e.questionMatches(q, rt, svc) {
			pp.questions = append(pp.questions[:i], pp.questions[i+1:]...)
			return
		}
	}
}

// handlePacket processes one inbound message on its slot.
func (e *Engine) handlePacket(in *inbound) {
	s, ok := e.slots[in.slot]
	if !ok || !s.Active() {
		e.metrics.PacketDropped("inactive")
		return
	}
	m := in.msg
	h := m.Header
	if h.Authoritative() && in.src.Port() != protocol.Port {
		e.metrics.PacketDropped("bad-source-port")
		return
	}

	pp := &parsedPacket{
		slot:          in.slot,
		src:           in.src,
		authoritative: h.Authoritative(),
		distributed:   h.Distributed(),
	}
	for i := range m.Questions {
		e.parseQuestion(pp, &m.Questions[i])
	}
	if h.QDCount > 0 && len(pp.questions) == 0 && !pp.discovery {
		return
	}

	for i := range m.Records {
		if !e.handleRecord(s, pp, m, &m.Records[i]) {
			return
		}
	}

	if !pp.doNotReply && s.State > state.Probe3 && (len(pp.questions) > 0 || pp.discovery) {
		e.createAnswer(pp)
	}
}

func (e *Engine) parseQuestion(pp *parsedPacket, q *message.ParsedQuestion) {
	if q.Foreign || q.Class != protocol.ClassIN {
		return
	}
	if q.Type == protocol.RecordTypePTR && isDiscovery(q.Name) {
		pp.discovery = true
		for _, svc := range e.services.All() {
			pp.questions = append(pp.questions, &parsedQuestion{
				typ:     protocol.RecordTypeSDPTR,
				unicast: q.Unicast,
				name:    message.Name{Service: svc.Type, Proto: svc.Proto, Domain: protocol.DefaultDomain},
			})
		}
		return
	}
	if q.Name.Sub || !e.nameIsOurs(q.Name) {
		return
	}
	if q.Type == protocol.RecordTypeANY {
		pp.probe = true
	}
	pp.questions = append(pp.questions, &parsedQuestion{typ: q.Type, unicast: q.Unicast, name: q.Name})
}

// handleRecord applies one answer, authority or additional record. It
// returns false when the rest of the message must be ignored.
func (e *Engine) handleRecord(s *state.Slot, pp *parsedPacket, m *message.Message, r *message.Record) bool {
	if r.Foreign || r.Type == protocol.RecordTypeNSEC || r.Type == protocol.RecordTypeOPT {
		return true
	}

	var (
		svc          *records.Service
		discovery    bool
		ours         bool
		searchResult bool
	)
	switch {
	case pp.discovery && isDiscovery(r.Name):
		discovery = true
	case !r.Name.Sub && e.nameIsOurs(r.Name):
		ours = true
		if r.Name.Service != "" && r.Name.Proto != "" {
			svc = e.services.Find(r.Name.Service, r.Name.Proto)
		}
	default:
		if !e.searchRunning() || m.Header.QDCount > 0 || !pp.authoritative || r.Section == message.SectionAuthority {
			return true
		}
		searchResult = true
	}

	switch r.Type {
	case protocol.RecordTypePTR:
		target, err := m.PTR(r)
		if err != nil {
			e.log.Debug("skipping PTR record", "slot", pp.slot, "name", r.Name, "err", err)
			return true
		}
		if searchResult {
			e.offerPTR(pp.slot, r.Name, target)
			return true
		}
		if !(discovery || ours) || target.Sub || !e.nameIsOurs(target) {
			return true
		}
		switch {
		case discovery:
			if t := e.services.Find(target.Service, target.Proto); t != nil {
				e.removeQuestion(pp, protocol.RecordTypeSDPTR, t)
			}
		case len(pp.questions) > 0 && !pp.probe:
			e.removeQuestion(pp, protocol.RecordTypePTR, svc)
		case e.ttls.Fresh(protocol.RecordTypePTR, r.TTL):
			e.queue.RemoveAnswer(pp.slot, protocol.RecordTypePTR, svc)
		}

	case protocol.RecordTypeSRV:
		srv, err := m.SRV(r)
		if err != nil {
			e.log.Debug("skipping SRV record", "slot", pp.slot, "name", r.Name, "err", err)
			return true
		}
		if searchResult {
			e.offerSRV(pp.slot, r.Name, srv)
			return true
		}
		if !ours || svc == nil {
			return true
		}
		e.handleSRV(s, pp, r, svc, srv)

	case protocol.RecordTypeTXT:
		items, err := m.TXT(r)
		if err != nil {
			// A bad TXT length leaves the rest of the message unreliable.
			return false
		}
		if searchResult {
			e.offerTXT(pp.slot, r.Name, items)
			return true
		}
		if !ours || svc == nil {
			return true
		}
		e.handleTXT(s, pp, r, svc)

	case protocol.RecordTypeA, protocol.RecordTypeAAAA:
		addr, err := m.Addr(r)
		if err != nil || (r.Type == protocol.RecordTypeA) != addr.Is4() {
			return true
		}
		if searchResult {
			e.offerAddr(pp.slot, r.Name, r.Type, addr)
			return true
		}
		if !ours {
			return true
		}
		return e.handleAddr(s, pp, r, addr)
	}
	return true
}

// handleSRV applies an SRV record for one of our instances.
func (e *Engine) handleSRV(s *state.Slot, pp *parsedPacket, r *message.Record, svc *records.Service, srv message.SRV) {
	if len(pp.questions) > 0 && !pp.probe {
		e.removeQuestion(pp, protocol.RecordTypeSRV, svc)
		return
	}
	if pp.distributed {
		e.queue.RemoveAnswer(pp.slot, protocol.RecordTypeSRV, svc)
		return
	}

	col, ok := conflict.CheckClass(r.Class)
	if !ok {
		col = conflict.CompareSRV(svc, e.host.Hostname, srv.Priority, srv.Weight, srv.Port, srv.Target.Host, srv.Target.Domain)
	}
	switch {
	case col != conflict.Tie && (pp.probe || pp.authoritative):
		if col != conflict.TheyWin {
			return
		}
		pp.doNotReply = true
		e.metrics.Conflict(protocol.RecordTypeSRV.String(), col.String())
		if s.ProbeRunning {
			e.probeLost(s, svc)
			return
		}
		e.log.Info("service record contested, probing again", "slot", s.Key, "service", svc.Type, "proto", svc.Proto)
		e.pcbSendBye(s, []*records.Service{svc}, false)
		e.initProbe(s, []*records.Service{svc}, false)

	case col == conflict.Tie && !pp.authoritative && !pp.probe && len(pp.questions) == 0 &&
		e.ttls.Fresh(protocol.RecordTypeSRV, r.TTL):
		e.queue.RemoveAnswer(pp.slot, protocol.RecordTypeSRV, svc)
	}
}

// handleTXT applies a TXT record for one of our instances.
func (e *Engine) handleTXT(s *state.Slot, pp *parsedPacket, r *message.Record, svc *records.Service) {
	if len(pp.questions) > 0 && !pp.probe {
		e.removeQuestion(pp, protocol.RecordTypeTXT, svc)
		return
	}

	col, ok := conflict.CheckClass(r.Class)
	if !ok {
		col = conflict.CompareTXT(svc.TXT, r.Data)
	}
	switch {
	case col != conflict.Tie && !s.ProbeRunning:
		pp.doNotReply = true
		e.metrics.Conflict(protocol.RecordTypeTXT.String(), col.String())
		e.log.Info("TXT record differs, probing again", "slot", s.Key, "service", svc.Type, "proto", svc.Proto)
		e.initProbe(s, []*records.Service{svc}, true)

	case col == conflict.Tie && !pp.authoritative && !pp.probe && len(pp.questions) == 0 && !s.ProbeRunning &&
		e.ttls.Fresh(protocol.RecordTypeTXT, r.TTL):
		e.queue.RemoveAnswer(pp.slot, protocol.RecordTypeTXT, svc)
	}
}

// handleAddr applies an A or AAAA record for our host name. It returns
// false when the receiving interface turned out to be a duplicate.
func (e *Engine) handleAddr(s *state.Slot, pp *parsedPacket, r *message.Record, addr netip.Addr) bool {
	if len(pp.questions) > 0 && !pp.probe {
		e.removeQuestion(pp, r.Type, nil)
		return true
	}

	v := state.IPv4
	if r.Type == protocol.RecordTypeAAAA {
		v = state.IPv6
	}
	sibling := -1
	col, ok := conflict.CheckClass(r.Class)
	if !ok {
		own, _ := e.addrs.Addr(pp.slot.Interface, v)
		col = conflict.CompareAddr(own, addr, func(a netip.Addr) bool {
			sibling = e.siblingWithAddr(pp.slot.Interface, v, a)
			return sibling >= 0
		})
	}

	switch {
	case col == conflict.Duplicate:
		e.metrics.Conflict(r.Type.String(), col.String())
		e.markDuplicate(pp.slot.Interface, sibling)
		return false

	case col == conflict.TheyWin:
		pp.doNotReply = true
		e.metrics.Conflict(r.Type.String(), col.String())
		if !s.ProbeRunning {
			e.log.Info("address record contested, probing host name", "slot", s.Key, "peer", addr)
			e.initProbe(s, nil, true)
		} else if pp.probe || pp.authoritative {
			e.probeLost(s, nil)
		}

	case col == conflict.Tie && !pp.authoritative && !pp.probe && len(pp.questions) == 0 && !s.ProbeRunning &&
		e.ttls.Fresh(r.Type, r.TTL):
		e.queue.RemoveAnswer(pp.slot, r.Type, nil)
	}
	return true
}

// siblingWithAddr returns another interface owning addr for version v, or
// -1.
func (e *Engine) siblingWithAddr(ifIndex int, v state.IPVersion, addr netip.Addr) int {
	for _, s := range e.activeSlots() {
		if s.Key.Interface == ifIndex || s.Key.Version != v {
			continue
		}
		if a, ok := e.addrs.Addr(s.Key.Interface, v); ok && a == addr {
			return s.Key.Interface
		}
	}
	return -1
}

// probeLost renames whatever the lost probe claimed and probes again
// (RFC 6762 §9): the service's own instance, else the shared instance,
// else the host name.
func (e *Engine) probeLost(s *state.Slot, svc *records.Service) {
	s.FailedProbes++
	switch {
	case svc != nil && svc.Instance != "":
		old := svc.Instance
		svc.Instance = records.MangleName(old)
		e.log.Info("instance name conflict", "slot", s.Key, "from", old, "to", svc.Instance)
		e.probeAll([]*records.Service{svc}, false, false)
	case svc != nil && e.host.Instance != "":
		old := e.host.Instance
		e.host.Instance = records.MangleName(old)
		e.log.Info("instance name conflict", "slot", s.Key, "from", old, "to", e.host.Instance)
		e.restartNoInstance()
	default:
		old := e.host.Hostname
		e.host.Hostname = records.MangleName(old)
		e.log.Info("host name conflict", "slot", s.Key, "from", old, "to", e.host.Hostname)
		e.restartAll()
	}
}

// createAnswer builds and sends (or schedules) the reply to pp.
func (e *Engine) createAnswer(pp *parsedPacket) {
	sendFlush := pp.src.Port() == protocol.Port
	p := message.NewPacket(pp.slot)
	p.Flags = protocol.FlagsAuthoritative
	p.Distributed = pp.distributed

	var unicast, shared bool
	addrSection := func() message.Section {
		if shared {
			return message.SectionAdditional
		}
		return message.SectionAnswer
	}
	addAddrs := func(s message.Section) {
		p.AddAnswer(s, protocol.RecordTypeA, nil, sendFlush, false)
		p.AddAnswer(s, protocol.RecordTypeAAAA, nil, sendFlush, false)
	}

	for _, q := range pp.questions {
		var svc *records.Service
		if q.name.Service != "" && q.name.Proto != "" {
			if svc = e.services.Find(q.name.Service, q.name.Proto); svc == nil {
				continue
			}
		}
		if q.unicast {
			unicast = true
		}

		if svc == nil {
			switch q.typ {
			case protocol.RecordTypeANY, protocol.RecordTypeA, protocol.RecordTypeAAAA:
				addAddrs(message.SectionAnswer)
			}
			continue
		}

		switch q.typ {
		case protocol.RecordTypePTR, protocol.RecordTypeANY:
			if q.typ == protocol.RecordTypePTR {
				shared = true
			}
			p.AddAnswer(message.SectionAnswer, protocol.RecordTypePTR, svc, false, false)
			p.AddAnswer(message.SectionAnswer, protocol.RecordTypeSRV, svc, sendFlush, false)
			p.AddAnswer(message.SectionAnswer, protocol.RecordTypeTXT, svc, sendFlush, false)
			addAddrs(addrSection())
		case protocol.RecordTypeSRV:
			p.AddAnswer(message.SectionAnswer, protocol.RecordTypeSRV, svc, sendFlush, false)
			addAddrs(message.SectionAdditional)
		case protocol.RecordTypeTXT:
			p.AddAnswer(message.SectionAnswer, protocol.RecordTypeTXT, svc, sendFlush, false)
		case protocol.RecordTypeSDPTR:
			shared = true
			p.AddAnswer(message.SectionAnswer, protocol.RecordTypeSDPTR, svc, false, false)
		}
	}

	if len(p.Answers) == 0 {
		return
	}
	if unicast || !sendFlush {
		p.Dst = pp.src
	}
	if shared {
		e.queue.Schedule(p, sharedDelayStep+time.Duration(e.step)*sharedDelayStep)
		e.step = (e.step + 1) & 3
		return
	}
	e.dispatch(p)
}
