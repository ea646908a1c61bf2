package engine

import (
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"

	"github.com/joshuafuller/mdnsd/internal/message"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/records"
	"github.com/joshuafuller/mdnsd/internal/search"
	"github.com/joshuafuller/mdnsd/internal/state"
)

func ptrQuery(t *testing.T, distributed bool, known ...dnsmessage.Resource) []byte {
	return pack(t, dnsmessage.Message{
		Header: dnsmessage.Header{Truncated: distributed},
		Questions: []dnsmessage.Question{{
			Name:  name("_http._tcp.local."),
			Type:  dnsmessage.TypePTR,
			Class: dnsmessage.ClassINET,
		}},
		Answers: known,
	})
}

func ptrRecord(owner, target string, ttl uint32) dnsmessage.Resource {
	return dnsmessage.Resource{
		Header: dnsmessage.ResourceHeader{Name: name(owner), Type: dnsmessage.TypePTR, Class: dnsmessage.ClassINET, TTL: ttl},
		Body:   &dnsmessage.PTRResource{PTR: name(target)},
	}
}

func TestAnswer_PTRQuery(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(httpService())

	h.receive(if1v4, peer, ptrQuery(t, false))
	assert.Empty(t, h.sender.sent(), "shared answers are delayed")

	h.advance(30 * time.Millisecond)
	sent := h.sender.sent()
	require.Len(t, sent, 1)
	m := sent[0].msg
	assert.Equal(t, group4, sent[0].dst)
	assert.True(t, m.Response && m.Authoritative)

	require.Len(t, m.Answer, 3)
	ptr := m.Answer[0].(*dns.PTR)
	assert.Equal(t, "_http._tcp.local.", ptr.Hdr.Name)
	assert.Equal(t, "myhost._http._tcp.local.", ptr.Ptr)
	assert.Equal(t, uint16(dns.ClassINET), ptr.Hdr.Class)
	assert.Equal(t, uint32(4500), ptr.Hdr.Ttl)

	srv := m.Answer[1].(*dns.SRV)
	assert.Equal(t, uint16(0x8001), srv.Hdr.Class)
	assert.Equal(t, uint16(8080), srv.Port)
	assert.Equal(t, "myhost.local.", srv.Target)
	assert.Equal(t, uint32(120), srv.Hdr.Ttl)

	txt := m.Answer[2].(*dns.TXT)
	assert.Equal(t, []string{"path=/"}, txt.Txt)
	assert.Equal(t, uint16(0x8001), txt.Hdr.Class)

	require.Len(t, m.Extra, 1)
	a := m.Extra[0].(*dns.A)
	assert.Equal(t, "192.168.1.10", a.A.String())
	assert.Equal(t, uint16(0x8001), a.Hdr.Class)
}

func TestAnswer_SharedStagger(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(httpService())

	h.receive(if1v4, peer, ptrQuery(t, false))
	h.receive(if1v4, peer, ptrQuery(t, false))
	assert.Equal(t, 2, h.e.step)

	h.advance(30 * time.Millisecond)
	assert.Len(t, h.sender.sent(), 1, "first answer after 25ms")
	h.advance(30 * time.Millisecond)
	assert.Len(t, h.sender.sent(), 2, "second answer after 50ms")

	h.receive(if1v4, peer, ptrQuery(t, false))
	h.receive(if1v4, peer, ptrQuery(t, false))
	assert.Equal(t, 0, h.e.step, "the delay step wraps after four answers")
}

func TestAnswer_TTLWithdrawal(t *testing.T) {
	tests := []struct {
		name     string
		ttl      uint32
		withdraw bool
	}{
		{name: "fresh peer answer", ttl: 4500, withdraw: true},
		{name: "above half", ttl: 2251, withdraw: true},
		{name: "exactly half", ttl: 2250, withdraw: false},
		{name: "stale peer answer", ttl: 100, withdraw: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "myhost")
			h.running(httpService())

			h.receive(if1v4, peer, ptrQuery(t, true))
			response := pack(t, dnsmessage.Message{
				Header:  dnsmessage.Header{Response: true, Authoritative: true},
				Answers: []dnsmessage.Resource{ptrRecord("_http._tcp.local.", "myhost._http._tcp.local.", tt.ttl)},
			})
			h.receive(if1v4, netip.MustParseAddrPort("192.168.1.30:5353"), response)
			h.advance(30 * time.Millisecond)

			sent := h.sender.sent()
			require.Len(t, sent, 1)
			hasPTR := false
			for _, rr := range sent[0].msg.Answer {
				if rr.Header().Rrtype == dns.TypePTR {
					hasPTR = true
				}
			}
			assert.Equal(t, !tt.withdraw, hasPTR)
		})
	}
}

// The SRV check only applies to non-authoritative answers from a peer that
// is not probing.
func TestAnswer_SRVTTLWithdrawal(t *testing.T) {
	tests := []struct {
		name     string
		ttl      uint32
		withdraw bool
	}{
		{name: "fresh peer answer", ttl: 120, withdraw: true},
		{name: "just above threshold", ttl: 61, withdraw: true},
		{name: "at threshold", ttl: 60, withdraw: false},
		{name: "stale peer answer", ttl: 30, withdraw: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "myhost")
			h.running(httpService())

			h.receive(if1v4, peer, ptrQuery(t, false))
			response := pack(t, dnsmessage.Message{
				Header: dnsmessage.Header{Response: true},
				Answers: []dnsmessage.Resource{{
					Header: dnsmessage.ResourceHeader{Name: name("myhost._http._tcp.local."), Type: dnsmessage.TypeSRV, Class: dnsmessage.Class(0x8001), TTL: tt.ttl},
					Body:   &dnsmessage.SRVResource{Port: 8080, Target: name("myhost.local.")},
				}},
			})
			h.receive(if1v4, netip.MustParseAddrPort("192.168.1.30:5353"), response)
			h.advance(30 * time.Millisecond)

			sent := h.sender.sent()
			require.Len(t, sent, 1)
			hasSRV := false
			for _, rr := range sent[0].msg.Answer {
				if rr.Header().Rrtype == dns.TypeSRV {
					hasSRV = true
				}
			}
			assert.Equal(t, !tt.withdraw, hasSRV)
		})
	}
}

func TestInbound_BadRecordDataSkipsOnlyThatRecord(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(nil)

	q := search.New("", "_ipp", "_tcp", protocol.RecordTypePTR, time.Minute, 0)
	require.NoError(t, h.do(&action{kind: actionSearchAdd, query: q}))

	b := []byte{
		0x00, 0x00, 0x84, 0x00, // id, flags: response, authoritative
		0x00, 0x00, 0x00, 0x02, // qd 0, an 2
		0x00, 0x00, 0x00, 0x00, // ns 0, ar 0
		// offset 12: _ipp._tcp.local.
		4, '_', 'i', 'p', 'p', 4, '_', 't', 'c', 'p', 5, 'l', 'o', 'c', 'a', 'l', 0,
		0x00, 0x0c, 0x00, 0x01, 0x00, 0x00, 0x11, 0x94, 0x00, 0x02,
		// data at offset 39 points forward to offset 41
		0xc0, 41,
		// offset 41: second PTR, owner compressed to offset 12
		0xc0, 12,
		0x00, 0x0c, 0x00, 0x01, 0x00, 0x00, 0x11, 0x94, 0x00, 0x0c,
		9, 'p', 'r', 'i', 'n', 't', 'e', 'r', '-', '1', 0xc0, 12,
	}
	h.receive(if1v4, printerPeer, b)

	require.Len(t, q.Results, 1, "the record after the bad one still counts")
	assert.Equal(t, "printer-1", q.Results[0].Instance)
}

func TestAnswer_ServiceDiscovery(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(httpService())

	q := pack(t, dnsmessage.Message{
		Questions: []dnsmessage.Question{{
			Name:  name("_services._dns-sd._udp.local."),
			Type:  dnsmessage.TypePTR,
			Class: dnsmessage.ClassINET,
		}},
	})
	h.receive(if1v4, peer, q)
	h.advance(30 * time.Millisecond)

	sent := h.sender.sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].msg.Answer, 1)
	ptr := sent[0].msg.Answer[0].(*dns.PTR)
	assert.Equal(t, "_services._dns-sd._udp.local.", ptr.Hdr.Name)
	assert.Equal(t, "_http._tcp.local.", ptr.Ptr)
	assert.Equal(t, uint16(dns.ClassINET), ptr.Hdr.Class)
}

func TestAnswer_DiscoveryKnownAnswer(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(httpService())

	q := pack(t, dnsmessage.Message{
		Questions: []dnsmessage.Question{{
			Name:  name("_services._dns-sd._udp.local."),
			Type:  dnsmessage.TypePTR,
			Class: dnsmessage.ClassINET,
		}},
		Answers: []dnsmessage.Resource{ptrRecord("_services._dns-sd._udp.local.", "_http._tcp.local.", 4500)},
	})
	h.receive(if1v4, peer, q)
	h.advance(100 * time.Millisecond)
	assert.Empty(t, h.sender.sent())
}

func TestAnswer_KnownAnswerSuppression(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(httpService())

	h.receive(if1v4, peer, ptrQuery(t, false, ptrRecord("_http._tcp.local.", "myhost._http._tcp.local.", 4500)))
	h.advance(200 * time.Millisecond)
	assert.Empty(t, h.sender.sent())

	h.receive(if1v4, peer, ptrQuery(t, false, ptrRecord("_http._tcp.local.", "other._http._tcp.local.", 4500)))
	h.advance(200 * time.Millisecond)
	assert.Len(t, h.sender.sent(), 1, "a known answer for someone else's instance does not suppress")
}

func TestAnswer_LegacyUnicast(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(httpService())

	q := pack(t, dnsmessage.Message{
		Questions: []dnsmessage.Question{{Name: name("myhost.local."), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}},
	})
	h.receive(if1v4, legacyPeer, q)

	sent := h.sender.sent()
	require.Len(t, sent, 1, "non-shared answers go out immediately")
	assert.Equal(t, legacyPeer, sent[0].dst)
	require.Len(t, sent[0].msg.Answer, 1)
	a := sent[0].msg.Answer[0].(*dns.A)
	assert.Equal(t, uint16(dns.ClassINET), a.Hdr.Class, "no cache-flush bit towards legacy resolvers")
}

func TestAnswer_UnicastQuestion(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(httpService())

	q := pack(t, dnsmessage.Message{
		Questions: []dnsmessage.Question{{Name: name("myhost._http._tcp.local."), Type: dnsmessage.TypeSRV, Class: dnsmessage.Class(0x8001)}},
	})
	h.receive(if1v4, peer, q)

	sent := h.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, peer, sent[0].dst)
	require.Len(t, sent[0].msg.Answer, 1)
	assert.Equal(t, dns.TypeSRV, sent[0].msg.Answer[0].Header().Rrtype)
	require.Len(t, sent[0].msg.Extra, 1)
}

func TestAnswer_Ignored(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(httpService())

	tests := map[string][]byte{
		"not ours": pack(t, dnsmessage.Message{
			Questions: []dnsmessage.Question{{Name: name("_ipp._tcp.local."), Type: dnsmessage.TypePTR, Class: dnsmessage.ClassINET}},
		}),
		"chaos class": pack(t, dnsmessage.Message{
			Questions: []dnsmessage.Question{{Name: name("myhost.local."), Type: dnsmessage.TypeA, Class: dnsmessage.ClassCHAOS}},
		}),
		"foreign domain": pack(t, dnsmessage.Message{
			Questions: []dnsmessage.Question{{Name: name("myhost.example."), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}},
		}),
		"subtype": pack(t, dnsmessage.Message{
			Questions: []dnsmessage.Question{{Name: name("_printer._sub._http._tcp.local."), Type: dnsmessage.TypePTR, Class: dnsmessage.ClassINET}},
		}),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			h.receive(if1v4, peer, b)
			h.advance(200 * time.Millisecond)
			assert.Empty(t, h.sender.sent())
		})
	}
}

func TestInbound_AuthoritativeFromWrongPort(t *testing.T) {
	h := newHarness(t, "myhost")
	h.up(if1v4)
	h.addService(&records.Service{Type: "_http", Proto: "_tcp", Port: 8080, Instance: "web"})
	h.advance(130 * time.Millisecond)

	b := pack(t, dnsmessage.Message{
		Header: dnsmessage.Header{Response: true, Authoritative: true},
		Answers: []dnsmessage.Resource{{
			Header: dnsmessage.ResourceHeader{Name: name("web._http._tcp.local."), Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET, TTL: 120},
			Body:   &dnsmessage.SRVResource{Port: 1, Target: name("a.local.")},
		}},
	})
	h.receive(if1v4, legacyPeer, b)
	assert.Equal(t, "web", h.e.services.Find("_http", "_tcp").Instance)
}

func TestConflict_ProbeLostRenamesInstance(t *testing.T) {
	h := newHarness(t, "myhost")
	h.up(if1v4)
	h.addService(&records.Service{Type: "_http", Proto: "_tcp", Port: 8080, Instance: "web"})
	h.advance(130 * time.Millisecond)
	require.Equal(t, state.Probe2, h.state(if1v4))

	peerProbe := pack(t, dnsmessage.Message{
		Questions: []dnsmessage.Question{{Name: name("web._http._tcp.local."), Type: dnsmessage.TypeALL, Class: dnsmessage.ClassINET}},
		Authorities: []dnsmessage.Resource{{
			Header: dnsmessage.ResourceHeader{Name: name("web._http._tcp.local."), Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET, TTL: 120},
			Body:   &dnsmessage.SRVResource{Port: 9999, Target: name("other.local.")},
		}},
	})
	h.receive(if1v4, peer, peerProbe)

	svc := h.e.services.Find("_http", "_tcp")
	assert.Equal(t, "web-2", svc.Instance)
	assert.Equal(t, 1, h.e.slots[if1v4].FailedProbes)
	assert.Equal(t, state.Probe1, h.state(if1v4))

	h.sender.reset()
	h.advance(130 * time.Millisecond)
	sent := h.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "web-2._http._tcp.local.", sent[0].msg.Question[0].Name)
}

func TestConflict_ProbeWon(t *testing.T) {
	h := newHarness(t, "myhost")
	h.up(if1v4)
	h.addService(&records.Service{Type: "_http", Proto: "_tcp", Port: 8080, Instance: "web"})
	h.advance(130 * time.Millisecond)

	peerProbe := pack(t, dnsmessage.Message{
		Questions: []dnsmessage.Question{{Name: name("web._http._tcp.local."), Type: dnsmessage.TypeALL, Class: dnsmessage.ClassINET}},
		Authorities: []dnsmessage.Resource{{
			Header: dnsmessage.ResourceHeader{Name: name("web._http._tcp.local."), Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET, TTL: 120},
			Body:   &dnsmessage.SRVResource{Port: 9999, Target: name("a-much-longer-name.local.")},
		}},
	})
	h.receive(if1v4, peer, peerProbe)

	assert.Equal(t, "web", h.e.services.Find("_http", "_tcp").Instance)
	assert.Equal(t, state.Probe2, h.state(if1v4))
}

func TestConflict_HostAddressLost(t *testing.T) {
	h := newHarness(t, "myhost")
	h.up(if1v4)
	h.advance(130 * time.Millisecond)

	b := pack(t, dnsmessage.Message{
		Header: dnsmessage.Header{Response: true, Authoritative: true},
		Answers: []dnsmessage.Resource{{
			Header: dnsmessage.ResourceHeader{Name: name("myhost.local."), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: 120},
			Body:   &dnsmessage.AResource{A: [4]byte{192, 168, 1, 200}},
		}},
	})
	h.receive(if1v4, peer, b)
	assert.Equal(t, "myhost-2", h.e.host.Hostname)
}

func TestConflict_DuplicateInterface(t *testing.T) {
	h := newHarness(t, "myhost")
	h.up(if1v4)
	h.up(if2v4)
	h.advance(3 * time.Second)
	require.Equal(t, state.Running, h.state(if1v4))
	require.Equal(t, state.Running, h.state(if2v4))
	h.sender.reset()

	// if2's announcement heard on if1: the two share a link.
	b := pack(t, dnsmessage.Message{
		Header: dnsmessage.Header{Response: true, Authoritative: true},
		Answers: []dnsmessage.Resource{{
			Header: dnsmessage.ResourceHeader{Name: name("myhost.local."), Type: dnsmessage.TypeA, Class: dnsmessage.Class(0x8001), TTL: 120},
			Body:   &dnsmessage.AResource{A: [4]byte{192, 168, 1, 11}},
		}},
	})
	h.receive(if1v4, netip.MustParseAddrPort("192.168.1.11:5353"), b)

	assert.Equal(t, state.Dup, h.state(if1v4))
	assert.Equal(t, 2, h.e.slots[if1v4].DupOf)
	assert.Equal(t, state.Announce1, h.state(if2v4))
	assert.Equal(t, "myhost", h.e.host.Hostname, "a duplicate is not a conflict")

	addrs := source{h.e}.Addrs(if2v4, protocol.RecordTypeA)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.1.11"), netip.MustParseAddr("192.168.1.10")}, addrs)

	h.advance(10 * time.Millisecond)
	sent := h.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, if2v4, sent[0].slot)
	assert.Len(t, sent[0].msg.Answer, 2, "the announcement carries both addresses")
}

func TestAnswer_PerInterfaceAddress(t *testing.T) {
	h := newHarness(t, "myhost")
	h.up(if1v4)
	h.up(if2v4)
	h.advance(3 * time.Second)
	h.sender.reset()

	q := pack(t, dnsmessage.Message{
		Questions: []dnsmessage.Question{{Name: name("myhost.local."), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}},
	})
	h.receive(if2v4, peer, q)
	h.advance(200 * time.Millisecond)

	sent := h.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, if2v4, sent[0].slot)
	require.Len(t, sent[0].msg.Answer, 1)
	assert.Equal(t, "192.168.1.11", sent[0].msg.Answer[0].(*dns.A).A.String())
}

func TestInbound_DupSlotIgnoresTraffic(t *testing.T) {
	h := newHarness(t, "myhost")
	h.running(httpService())
	h.e.slots[if1v4].State = state.Dup

	h.receive(if1v4, peer, ptrQuery(t, false))
	h.advance(200 * time.Millisecond)
	assert.Empty(t, h.sender.sent())
}

func TestNameIsOurs(t *testing.T) {
	h := newHarness(t, "myhost")
	h.addService(httpService())
	h.addService(&records.Service{Type: "_ipp", Proto: "_tcp", Port: 631, Instance: "printer"})

	tests := []struct {
		name message.Name
		want bool
	}{
		{message.Name{Host: "myhost", Domain: "local"}, true},
		{message.Name{Host: "MYHOST", Domain: "LOCAL"}, true},
		{message.Name{Host: "other", Domain: "local"}, false},
		{message.Name{Host: "myhost", Domain: "arpa"}, false},
		{message.Name{Service: "_http", Proto: "_tcp", Domain: "local"}, true},
		{message.Name{Service: "_http", Domain: "local"}, false},
		{message.Name{Service: "_smb", Proto: "_tcp", Domain: "local"}, false},
		{message.Name{Host: "myhost", Service: "_http", Proto: "_tcp", Domain: "local"}, true},
		{message.Name{Host: "printer", Service: "_ipp", Proto: "_tcp", Domain: "local"}, true},
		{message.Name{Host: "myhost", Service: "_ipp", Proto: "_tcp", Domain: "local"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, h.e.nameIsOurs(tt.name))
		})
	}
}
