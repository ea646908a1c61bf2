// Package search tracks one-shot queries and the answers collected for them.
//
// RFC 6762 §5.2 (continuous querying is not used: a query is re-sent about
// once a second until it times out or has enough results) and RFC 6763 §4
// (browsing by PTR, then resolving SRV, TXT and addresses).
//
// A Query is owned by the engine's consumer goroutine while it runs. The
// caller only reads Results after Done is closed.
package search

import (
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuafuller/mdnsd/internal/message"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// ResendInterval is the delay between retransmissions of a running query.
const ResendInterval = time.Second

// State is the lifecycle of a query.
type State int

const (
	StateInit State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "init"
	}
}

// Result is what was learned about one instance or host on one slot.
type Result struct {
	Slot     state.Key
	Instance string
	Service  string
	Proto    string
	Hostname string
	Port     uint16
	TXT      []records.TXTItem
	Addrs    []netip.Addr
}

// AddAddr appends addr unless it is already listed.
func (r *Result) AddAddr(addr netip.Addr) bool {
	for _, a := range r.Addrs {
		if a == addr {
			return false
		}
	}
	r.Addrs = append(r.Addrs, addr)
	return true
}

// Query is a one-shot question and its accumulated results.
//
// For PTR queries Service and Proto select the service type. SRV and TXT
// queries also name the Instance. A, AAAA and ANY queries carry the host
// name in Instance.
type Query struct {
	Instance   string
	Service    string
	Proto      string
	Type       protocol.RecordType
	Timeout    time.Duration
	MaxResults int

	State     State
	StartedAt time.Time
	SentAt    time.Time
	Results   []*Result

	done      chan struct{}
	once      sync.Once
	cancelled atomic.Bool
}

// New returns a query in StateInit.
func New(instance, service, proto string, rt protocol.RecordType, timeout time.Duration, maxResults int) *Query {
	return &Query{
		Instance:   instance,
		Service:    records.NormalizeLabel(service),
		Proto:      records.NormalizeLabel(proto),
		Type:       rt,
		Timeout:    timeout,
		MaxResults: maxResults,
		done:       make(chan struct{}),
	}
}

// Done is closed when the query finishes.
func (q *Query) Done() <-chan struct{} {
	return q.done
}

// Start marks the query running at now.
func (q *Query) Start(now time.Time) {
	q.State = StateRunning
	q.StartedAt = now
}

// Finish marks the query finished and releases the waiting caller.
func (q *Query) Finish() {
	q.State = StateFinished
	q.once.Do(func() { close(q.done) })
}

// Cancel asks the engine to finish q on its next pass. Safe to call from
// any goroutine.
func (q *Query) Cancel() {
	q.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (q *Query) Cancelled() bool {
	return q.cancelled.Load()
}

// Expired reports whether the timeout has elapsed at now.
func (q *Query) Expired(now time.Time) bool {
	return now.Sub(q.StartedAt) >= q.Timeout
}

// ResendDue reports whether the question should go out again at now.
func (q *Query) ResendDue(now time.Time) bool {
	return q.SentAt.IsZero() || now.Sub(q.SentAt) >= ResendInterval
}

// Full reports whether MaxResults has been reached. Zero means unlimited.
func (q *Query) Full() bool {
	return q.MaxResults > 0 && len(q.Results) >= q.MaxResults
}

// Question returns the question to send for q.
func (q *Query) Question() *message.Question {
	mq := &message.Question{Type: q.Type, Domain: protocol.DefaultDomain}
	switch q.Type {
	case protocol.RecordTypePTR:
		mq.Service, mq.Proto = q.Service, q.Proto
	case protocol.RecordTypeSRV, protocol.RecordTypeTXT:
		mq.Host, mq.Service, mq.Proto = q.Instance, q.Service, q.Proto
	default:
		mq.Host = q.Instance
	}
	return mq
}

func (q *Query) isAddressQuery() bool {
	switch q.Type {
	case protocol.RecordTypeA, protocol.RecordTypeAAAA, protocol.RecordTypeANY:
		return true
	}
	return false
}

func (q *Query) serviceMatches(n message.Name) bool {
	return q.Service != "" &&
		strings.EqualFold(n.Service, q.Service) &&
		strings.EqualFold(n.Proto, q.Proto)
}

// Matches reports whether a record of type rt named n answers q.
func (q *Query) Matches(n message.Name, rt protocol.RecordType) bool {
	if n.Sub {
		return false
	}
	switch rt {
	case protocol.RecordTypeA, protocol.RecordTypeAAAA:
		if q.isAddressQuery() {
			if q.Type != protocol.RecordTypeANY && q.Type != rt {
				return false
			}
			return n.Service == "" && strings.EqualFold(n.Host, q.Instance)
		}
		return q.hasHost(n.Host)
	case protocol.RecordTypePTR:
		return q.Type == protocol.RecordTypePTR && q.serviceMatches(n)
	case protocol.RecordTypeSRV, protocol.RecordTypeTXT:
		if !q.serviceMatches(n) {
			return false
		}
		if q.Type == protocol.RecordTypePTR {
			return true
		}
		return (q.Type == rt || q.Type == protocol.RecordTypeANY) && strings.EqualFold(n.Host, q.Instance)
	}
	return false
}

// hasHost reports whether a result already resolved to hostname.
func (q *Query) hasHost(hostname string) bool {
	for _, r := range q.Results {
		if r.Hostname != "" && strings.EqualFold(r.Hostname, hostname) {
			return true
		}
	}
	return false
}

func (q *Query) byInstance(slot state.Key, instance string) *Result {
	for _, r := range q.Results {
		if r.Slot == slot && strings.EqualFold(r.Instance, instance) {
			return r
		}
	}
	return nil
}

func (q *Query) byHost(slot state.Key, hostname string) *Result {
	for _, r := range q.Results {
		if r.Slot == slot && r.Instance == "" && strings.EqualFold(r.Hostname, hostname) {
			return r
		}
	}
	return nil
}

// instanceResult finds or, unless the query is full, creates the result for
// instance on slot.
func (q *Query) instanceResult(slot state.Key, n message.Name, instance string) *Result {
	if r := q.byInstance(slot, instance); r != nil {
		return r
	}
	if q.Full() {
		return nil
	}
	r := &Result{Slot: slot, Instance: instance, Service: n.Service, Proto: n.Proto}
	q.Results = append(q.Results, r)
	return r
}

// AddPTR records a browse answer: owner is the service type, target the
// instance it points at.
func (q *Query) AddPTR(slot state.Key, owner, target message.Name) {
	if !q.Matches(owner, protocol.RecordTypePTR) || target.Host == "" {
		return
	}
	q.instanceResult(slot, owner, target.Host)
}

// AddSRV records an SRV answer for the instance named by owner.
func (q *Query) AddSRV(slot state.Key, owner message.Name, srv message.SRV) {
	if !q.Matches(owner, protocol.RecordTypeSRV) {
		return
	}
	r := q.attach(slot, owner)
	if r == nil {
		return
	}
	r.Hostname = srv.Target.Host
	r.Port = srv.Port
}

// AddTXT records a TXT answer for the instance named by owner.
func (q *Query) AddTXT(slot state.Key, owner message.Name, items []records.TXTItem) {
	if !q.Matches(owner, protocol.RecordTypeTXT) {
		return
	}
	if r := q.attach(slot, owner); r != nil {
		r.TXT = items
	}
}

// attach returns the result an SRV or TXT record belongs to. A browse only
// fills instances it has seen a PTR for; point queries create their result.
func (q *Query) attach(slot state.Key, owner message.Name) *Result {
	if q.Type == protocol.RecordTypePTR {
		return q.byInstance(slot, owner.Host)
	}
	return q.instanceResult(slot, owner, owner.Host)
}

// AddAddr records an address for the host named by owner.
func (q *Query) AddAddr(slot state.Key, owner message.Name, rt protocol.RecordType, addr netip.Addr) {
	if !q.Matches(owner, rt) {
		return
	}
	if q.isAddressQuery() {
		r := q.byHost(slot, owner.Host)
		if r == nil {
			if q.Full() {
				return
			}
			r = &Result{Slot: slot, Hostname: owner.Host}
			q.Results = append(q.Results, r)
		}
		r.AddAddr(addr)
		return
	}
	for _, r := range q.Results {
		if r.Slot == slot && strings.EqualFold(r.Hostname, owner.Host) {
			r.AddAddr(addr)
		}
	}
}
