package querier

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/state"
	"github.com/joshuafuller/mdnsd/internal/transport/transporttest"
	"github.com/joshuafuller/mdnsd/responder"
)

var slot4 = state.Key{Interface: 2, Version: state.IPv4}

type staticAddrs map[state.Key]netip.Addr

func (s staticAddrs) Addr(ifIndex int, v state.IPVersion) (netip.Addr, bool) {
	a, ok := s[state.Key{Interface: ifIndex, Version: v}]
	return a, ok
}

func newTestQuerier(t *testing.T, opts ...Option) (*Querier, *transporttest.Fake, *clock.Mock) {
	t.Helper()
	ft := transporttest.New()
	clk := clock.NewMock()
	opts = append(opts, WithResponderOptions(
		responder.WithTransport(ft),
		responder.WithAddrSource(staticAddrs{slot4: netip.MustParseAddr("192.168.1.10")}),
		responder.WithClock(clk),
	))
	q, err := New(opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- q.Responder().ServeTransport(ctx) }()
	t.Cleanup(func() {
		_ = q.Close()
		cancel()
		<-served
	})
	require.NoError(t, q.Responder().InterfaceUp(slot4.Interface, "eth0", responder.IPv4))
	return q, ft, clk
}

func rrHeader(name string, rtype uint16, ttl uint32) dns.RR_Header {
	return dns.RR_Header{Name: name, Rrtype: rtype, Class: dns.ClassINET, Ttl: ttl}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		rt      RecordType
		want    [3]string
		wantErr bool
	}{
		{name: "host", in: "printer.local", rt: RecordTypeA, want: [3]string{"printer", "", ""}},
		{name: "host with root dot", in: "printer.local.", rt: RecordTypeAAAA, want: [3]string{"printer", "", ""}},
		{name: "service type", in: "_http._tcp.local", rt: RecordTypePTR, want: [3]string{"", "_http", "_tcp"}},
		{name: "instance", in: "web._http._tcp.LOCAL", rt: RecordTypeSRV, want: [3]string{"web", "_http", "_tcp"}},
		{name: "dotted instance", in: "My v1.2 Server._http._tcp.local", rt: RecordTypeTXT, want: [3]string{"My v1.2 Server", "_http", "_tcp"}},
		{name: "empty", in: "", rt: RecordTypeA, wantErr: true},
		{name: "not local", in: "printer.example.com", rt: RecordTypeA, wantErr: true},
		{name: "bare local", in: "local", rt: RecordTypeA, wantErr: true},
		{name: "dotted host", in: "a.b.local", rt: RecordTypeA, wantErr: true},
		{name: "browse without proto", in: "_http.local", rt: RecordTypePTR, wantErr: true},
		{name: "srv without instance", in: "_http._tcp.local", rt: RecordTypeSRV, wantErr: true},
		{name: "unsupported type", in: "printer.local", rt: RecordType(99), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, s, p, err := splitName(tt.in, tt.rt)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, [3]string{i, s, p})
		})
	}
}

func TestWithTimeout(t *testing.T) {
	_, err := New(WithTimeout(0))
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestQuery_Validation(t *testing.T) {
	q, _, _ := newTestQuerier(t)

	_, err := q.Query(context.Background(), "", RecordTypeA)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = q.Query(ctx, "printer.local", RecordTypeA)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQuery_Browse(t *testing.T) {
	q, ft, clk := newTestQuerier(t, WithTimeout(time.Second))

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := q.Query(context.Background(), "_ipp._tcp.local", RecordTypePTR)
		done <- outcome{resp, err}
	}()

	require.Eventually(t, func() bool { return len(ft.Sent()) > 0 }, 2*time.Second, time.Millisecond)
	question := ft.Sent()[0].Msg.Question
	require.Len(t, question, 1)
	assert.Equal(t, "_ipp._tcp.local.", question[0].Name)
	assert.Equal(t, dns.TypePTR, question[0].Qtype)

	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.Answer = []dns.RR{
		&dns.PTR{Hdr: rrHeader("_ipp._tcp.local.", dns.TypePTR, 4500), Ptr: "office._ipp._tcp.local."},
		&dns.SRV{Hdr: rrHeader("office._ipp._tcp.local.", dns.TypeSRV, 120), Port: 631, Target: "printer.local."},
		&dns.TXT{Hdr: rrHeader("office._ipp._tcp.local.", dns.TypeTXT, 4500), Txt: []string{"rp=ipp/print"}},
	}
	m.Extra = []dns.RR{
		&dns.A{Hdr: rrHeader("printer.local.", dns.TypeA, 120), A: net.ParseIP("192.168.1.50").To4()},
	}
	require.NoError(t, ft.Deliver(context.Background(), slot4, netip.MustParseAddrPort("192.168.1.50:5353"), m))

	var got outcome
	require.Eventually(t, func() bool {
		select {
		case got = <-done:
			return true
		default:
			clk.Add(100 * time.Millisecond)
			return false
		}
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, got.err)

	byType := map[RecordType]*ResourceRecord{}
	for _, rr := range got.resp.Records {
		rr := rr
		assert.Equal(t, slot4.Interface, rr.Interface)
		byType[rr.Type] = &rr
	}
	require.Len(t, byType, 4)
	assert.Equal(t, "office._ipp._tcp.local", byType[RecordTypePTR].AsPTR())
	srv := byType[RecordTypeSRV].AsSRV()
	require.NotNil(t, srv)
	assert.Equal(t, "printer.local", srv.Target)
	assert.Equal(t, uint16(631), srv.Port)
	assert.Equal(t, []string{"rp=ipp/print"}, byType[RecordTypeTXT].AsTXT())
	assert.Equal(t, "192.168.1.50", byType[RecordTypeA].AsA().String())
}

func TestQuery_ContextDeadlineKeepsResults(t *testing.T) {
	q, ft, _ := newTestQuerier(t, WithTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := q.Query(ctx, "_ipp._tcp.local", RecordTypePTR)
		done <- outcome{resp, err}
	}()

	require.Eventually(t, func() bool { return len(ft.Sent()) > 0 }, 2*time.Second, time.Millisecond)
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.Answer = []dns.RR{
		&dns.PTR{Hdr: rrHeader("_ipp._tcp.local.", dns.TypePTR, 4500), Ptr: "office._ipp._tcp.local."},
	}
	require.NoError(t, ft.Deliver(context.Background(), slot4, netip.MustParseAddrPort("192.168.1.50:5353"), m))

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Len(t, got.resp.Records, 1)
		assert.Equal(t, "office._ipp._tcp.local", got.resp.Records[0].AsPTR())
	case <-time.After(3 * time.Second):
		t.Fatal("Query did not return after the context deadline")
	}
}

func TestQuery_Cancelled(t *testing.T) {
	q, ft, _ := newTestQuerier(t, WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Query(ctx, "_ipp._tcp.local", RecordTypePTR)
		done <- err
	}()
	require.Eventually(t, func() bool { return len(ft.Sent()) > 0 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Query did not return after cancel")
	}
}

func TestQuery_NoAnswerIsEmpty(t *testing.T) {
	q, _, clk := newTestQuerier(t, WithTimeout(500*time.Millisecond))

	done := make(chan *Response, 1)
	go func() {
		resp, err := q.Query(context.Background(), "nobody.local", RecordTypeAAAA)
		assert.NoError(t, err)
		done <- resp
	}()
	require.Eventually(t, func() bool {
		select {
		case resp := <-done:
			require.NotNil(t, resp)
			assert.Empty(t, resp.Records)
			return true
		default:
			clk.Add(100 * time.Millisecond)
			return false
		}
	}, 5*time.Second, time.Millisecond)
}

func TestToResponse_Dedup(t *testing.T) {
	addr := netip.MustParseAddr("192.168.1.50")
	results := []*responder.Result{
		{Slot: slot4, Hostname: "printer", Addrs: []netip.Addr{addr, netip.MustParseAddr("fe80::50")}},
		{Slot: slot4, Hostname: "Printer", Addrs: []netip.Addr{addr}},
	}
	resp := toResponse(results, RecordTypeA)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "printer.local", resp.Records[0].Name)
	assert.Equal(t, "192.168.1.50", resp.Records[0].AsA().String())

	resp = toResponse(results, RecordTypeAAAA)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "fe80::50", resp.Records[0].AsAAAA().String())
}

// TestResourceRecordAccessors validates the type-safe accessor methods.
//
// Accessors return nil/empty for the wrong record type and for malformed
// data.
func TestResourceRecordAccessors(t *testing.T) {
	tests := []struct {
		name       string
		record     ResourceRecord
		expectA    bool
		expectAAAA bool
		expectPTR  bool
		expectSRV  bool
		expectTXT  bool
	}{
		{
			name:    "A record",
			record:  ResourceRecord{Name: "test.local", Type: RecordTypeA, Data: net.IPv4(192, 168, 1, 1)},
			expectA: true,
		},
		{
			name:       "AAAA record",
			record:     ResourceRecord{Name: "test.local", Type: RecordTypeAAAA, Data: net.ParseIP("fe80::1")},
			expectAAAA: true,
		},
		{
			name:      "PTR record",
			record:    ResourceRecord{Name: "test.local", Type: RecordTypePTR, Data: "target.local"},
			expectPTR: true,
		},
		{
			name: "SRV record",
			record: ResourceRecord{
				Name: "test.local",
				Type: RecordTypeSRV,
				Data: SRVData{Target: "server.local", Port: 8080},
			},
			expectSRV: true,
		},
		{
			name:      "TXT record",
			record:    ResourceRecord{Name: "test.local", Type: RecordTypeTXT, Data: []string{"key=value", "version=1"}},
			expectTXT: true,
		},
		{
			name:   "A record with wrong data type",
			record: ResourceRecord{Name: "test.local", Type: RecordTypeA, Data: "not an IP"},
		},
		{
			name:   "SRV record with wrong data type",
			record: ResourceRecord{Name: "test.local", Type: RecordTypeSRV, Data: "not SRVData"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectA, tt.record.AsA() != nil, "AsA")
			assert.Equal(t, tt.expectAAAA, tt.record.AsAAAA() != nil, "AsAAAA")
			assert.Equal(t, tt.expectPTR, tt.record.AsPTR() != "", "AsPTR")
			assert.Equal(t, tt.expectSRV, tt.record.AsSRV() != nil, "AsSRV")
			assert.Equal(t, tt.expectTXT, tt.record.AsTXT() != nil, "AsTXT")
		})
	}
}

// TestRecordTypeString verifies RecordType.String() returns correct names.
func TestRecordTypeString(t *testing.T) {
	tests := []struct {
		recordType RecordType
		expected   string
	}{
		{RecordTypeA, "A"},
		{RecordTypeAAAA, "AAAA"},
		{RecordTypePTR, "PTR"},
		{RecordTypeSRV, "SRV"},
		{RecordTypeTXT, "TXT"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.recordType.String(); got != tt.expected {
				t.Errorf("RecordType(%d).String() = %q, want %q", tt.recordType, got, tt.expected)
			}
		})
	}
}
