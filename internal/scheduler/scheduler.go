// Package scheduler holds outgoing messages until they are due.
//
// The queue is ordered by due time; packets due at the same instant leave
// in the order they were scheduled. It is not safe for concurrent use: the
// engine's consumer goroutine owns it.
package scheduler

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/joshuafuller/mdnsd/internal/message"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// Queue is a time-ordered list of pending packets.
type Queue struct {
	clock   clock.Clock
	packets []*message.Packet
}

// NewQueue returns an empty queue reading time from clk.
func NewQueue(clk clock.Clock) *Queue {
	return &Queue{clock: clk}
}

// Schedule stamps p with now+delay and inserts it after every packet due at
// or before that time.
func (q *Queue) Schedule(p *message.Packet, delay time.Duration) {
	p.SendAt = q.clock.Now().Add(delay)
	i := len(q.packets)
	for i > 0 && q.packets[i-1].SendAt.After(p.SendAt) {
		i--
	}
	q.packets = append(q.packets, nil)
	copy(q.packets[i+1:], q.packets[i:])
	q.packets[i] = p
}

// PopDue removes and returns the head packet if it is due at now.
func (q *Queue) PopDue(now time.Time) *message.Packet {
	if len(q.packets) == 0 || q.packets[0].SendAt.After(now) {
		return nil
	}
	p := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	return p
}

// Peek returns the head packet without removing it.
func (q *Queue) Peek() *message.Packet {
	if len(q.packets) == 0 {
		return nil
	}
	return q.packets[0]
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	return len(q.packets)
}

// Clear drops every packet.
func (q *Queue) Clear() {
	q.packets = nil
}

// ClearSlot drops every packet bound to slot.
func (q *Queue) ClearSlot(slot state.Key) {
	out := q.packets[:0]
	for _, p := range q.packets {
		if p.Slot != slot {
			out = append(out, p)
		}
	}
	for i := len(out); i < len(q.packets); i++ {
		q.packets[i] = nil
	}
	q.packets = out
}

// First returns the earliest packet bound to slot.
func (q *Queue) First(slot state.Key) *message.Packet {
	for _, p := range q.packets {
		if p.Slot == slot {
			return p
		}
	}
	return nil
}

// Tracked returns the probe or announcement driving slot's state, if queued.
func (q *Queue) Tracked(slot state.Key) *message.Packet {
	for _, p := range q.packets {
		if p.Slot == slot && p.Tracked {
			return p
		}
	}
	return nil
}

// RemoveAnswer deletes the first answer of type rt for svc from every
// distributed packet bound to slot. A peer has already sent it.
func (q *Queue) RemoveAnswer(slot state.Key, rt protocol.RecordType, svc *records.Service) int {
	n := 0
	for _, p := range q.packets {
		if p.Slot == slot && p.Distributed && p.RemoveAnswer(message.SectionAnswer, rt, svc) {
			n++
		}
	}
	return n
}

// RemoveService drops every record referring to svc. Packets stay queued
// even when emptied: their due time still drives the slot's state machine.
func (q *Queue) RemoveService(svc *records.Service) {
	for _, p := range q.packets {
		p.DropService(svc)
	}
}
