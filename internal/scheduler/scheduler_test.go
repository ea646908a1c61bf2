package scheduler

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/joshuafuller/mdnsd/internal/message"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/state"
)

var (
	slotA = state.Key{Interface: 1, Version: state.IPv4}
	slotB = state.Key{Interface: 1, Version: state.IPv6}
)

func TestQueue_TimeOrderWithFIFOTies(t *testing.T) {
	clk := clock.NewMock()
	q := NewQueue(clk)

	late := message.NewPacket(slotA)
	first := message.NewPacket(slotA)
	second := message.NewPacket(slotB)
	early := message.NewPacket(slotB)

	q.Schedule(late, 300*time.Millisecond)
	q.Schedule(first, 100*time.Millisecond)
	q.Schedule(second, 100*time.Millisecond)
	q.Schedule(early, 0)

	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}
	if p := q.PopDue(clk.Now()); p != early {
		t.Fatalf("PopDue(now) = %p, want the packet scheduled without delay", p)
	}
	if p := q.PopDue(clk.Now()); p != nil {
		t.Fatalf("PopDue returned a packet before it was due")
	}

	clk.Add(100 * time.Millisecond)
	if p := q.PopDue(clk.Now()); p != first {
		t.Errorf("equal due times must leave in scheduling order")
	}
	if p := q.PopDue(clk.Now()); p != second {
		t.Errorf("expected the second packet")
	}

	clk.Add(time.Second)
	if p := q.PopDue(clk.Now()); p != late {
		t.Errorf("expected the late packet")
	}
	if q.Peek() != nil || q.Len() != 0 {
		t.Error("queue should be empty")
	}
}

func TestQueue_SlotOperations(t *testing.T) {
	clk := clock.NewMock()
	q := NewQueue(clk)

	a1 := message.NewPacket(slotA)
	b1 := message.NewPacket(slotB)
	a2 := message.NewPacket(slotA)
	q.Schedule(a1, 10*time.Millisecond)
	q.Schedule(b1, 5*time.Millisecond)
	q.Schedule(a2, 20*time.Millisecond)

	if q.First(slotA) != a1 || q.First(slotB) != b1 {
		t.Error("First returned the wrong packet")
	}

	q.ClearSlot(slotA)
	if q.Len() != 1 || q.First(slotA) != nil || q.Peek() != b1 {
		t.Errorf("after ClearSlot: len=%d", q.Len())
	}

	q.Clear()
	if q.Len() != 0 {
		t.Error("Clear left packets behind")
	}
}

func TestQueue_RemoveAnswer_OnlyDistributed(t *testing.T) {
	clk := clock.NewMock()
	q := NewQueue(clk)
	svc := &records.Service{Type: "_http", Proto: "_tcp"}

	shared := message.NewPacket(slotA)
	shared.Distributed = true
	shared.AddAnswer(message.SectionAnswer, protocol.RecordTypeSRV, svc, true, false)
	shared.AddAnswer(message.SectionAnswer, protocol.RecordTypeTXT, svc, true, false)

	unique := message.NewPacket(slotA)
	unique.AddAnswer(message.SectionAnswer, protocol.RecordTypeSRV, svc, true, false)

	other := message.NewPacket(slotB)
	other.Distributed = true
	other.AddAnswer(message.SectionAnswer, protocol.RecordTypeSRV, svc, true, false)

	q.Schedule(shared, 25*time.Millisecond)
	q.Schedule(unique, 0)
	q.Schedule(other, 50*time.Millisecond)

	if n := q.RemoveAnswer(slotA, protocol.RecordTypeSRV, svc); n != 1 {
		t.Errorf("RemoveAnswer removed %d answers, want 1", n)
	}
	if len(shared.Answers) != 1 || shared.Answers[0].Type != protocol.RecordTypeTXT {
		t.Errorf("shared packet answers = %+v", shared.Answers)
	}
	if len(unique.Answers) != 1 {
		t.Error("non-distributed packet must be left alone")
	}
	if len(other.Answers) != 1 {
		t.Error("packet of another slot must be left alone")
	}
}

func TestQueue_RemoveService_KeepsPackets(t *testing.T) {
	q := NewQueue(clock.NewMock())
	svc := &records.Service{Type: "_http", Proto: "_tcp"}

	p := message.NewPacket(slotA)
	p.AddAnswer(message.SectionAuthority, protocol.RecordTypeSRV, svc, false, false)
	q.Schedule(p, 250*time.Millisecond)

	q.RemoveService(svc)
	if q.Len() != 1 || !p.Empty() {
		t.Errorf("len=%d empty=%v", q.Len(), p.Empty())
	}
}

func TestQueue_Tracked(t *testing.T) {
	q := NewQueue(clock.NewMock())

	answer := message.NewPacket(slotA)
	probe := message.NewPacket(slotA)
	probe.Tracked = true
	q.Schedule(answer, 0)
	q.Schedule(probe, 120*time.Millisecond)

	if q.First(slotA) != answer {
		t.Error("First should return the earliest packet")
	}
	if q.Tracked(slotA) != probe {
		t.Error("Tracked should skip untracked packets")
	}
	if q.Tracked(slotB) != nil {
		t.Error("Tracked returned a packet for an idle slot")
	}
}
