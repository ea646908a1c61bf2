package engine

import (
	"net/netip"

	"github.com/joshuafuller/mdnsd/internal/message"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/search"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// addSearch opens q and sends its first question.
func (e *Engine) addSearch(q *search.Query) {
	now := e.now()
	q.Start(now)
	e.searches = append(e.searches, q)
	e.log.Debug("search started", "type", q.Type, "name", q.Question().Parts(), "timeout", q.Timeout)
	e.sendSearch(q)
	q.SentAt = now
}

// removeSearch closes q early.
func (e *Engine) removeSearch(q *search.Query) {
	for i, s := range e.searches {
		if s == q {
			e.searches = append(e.searches[:i], e.searches[i+1:]...)
			break
		}
	}
	q.Finish()
}

// runSearches finishes expired or satisfied searches and re-sends the
// rest once per interval.
func (e *Engine) runSearches() {
	if len(e.searches) == 0 {
		return
	}
	now := e.now()
	kept := e.searches[:0]
	for _, q := range e.searches {
		if q.Full() || q.Expired(now) || q.Cancelled() {
			e.log.Debug("search finished", "type", q.Type, "results", len(q.Results))
			q.Finish()
			continue
		}
		if q.ResendDue(now) {
			e.sendSearch(q)
			q.SentAt = now
		}
		kept = append(kept, q)
	}
	for i := len(kept); i < len(e.searches); i++ {
		e.searches[i] = nil
	}
	e.searches = kept
}

// sendSearch multicasts q's question on every active slot.
func (e *Engine) sendSearch(q *search.Query) {
	for _, s := range e.activeSlots() {
		p := message.NewPacket(s.Key)
		p.AddQuestion(q.Question())
		e.dispatch(p)
	}
}

func (e *Engine) searchRunning() bool {
	for _, q := range e.searches {
		if q.State == search.StateRunning {
			return true
		}
	}
	return false
}

// offer hands a record to every running search and finishes the ones it
// fills up.
func (e *Engine) offer(fn func(q *search.Query)) {
	kept := e.searches[:0]
	for _, q := range e.searches {
		if q.State == search.StateRunning {
			fn(q)
		}
		if q.Full() {
			q.Finish()
			continue
		}
		kept = append(kept, q)
	}
	for i := len(kept); i < len(e.searches); i++ {
		e.searches[i] = nil
	}
	e.searches = kept
}

func (e *Engine) offerPTR(slot state.Key, owner, target message.Name) {
	e.offer(func(q *search.Query) { q.AddPTR(slot, owner, target) })
}

func (e *Engine) offerSRV(slot state.Key, owner message.Name, srv message.SRV) {
	e.offer(func(q *search.Query) { q.AddSRV(slot, owner, srv) })
}

func (e *Engine) offerTXT(slot state.Key, owner message.Name, items []records.TXTItem) {
	e.offer(func(q *search.Query) { q.AddTXT(slot, owner, items) })
}

func (e *Engine) offerAddr(slot state.Key, owner message.Name, rt protocol.RecordType, addr netip.Addr) {
	e.offer(func(q *search.Query) { q.AddAddr(slot, owner, rt, addr) })
}
