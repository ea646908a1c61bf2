package transport

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sync/errgroup"

	"github.com/joshuafuller/mdnsd/internal/errors"
	"github.com/joshuafuller/mdnsd/internal/log"
	"github.com/joshuafuller/mdnsd/internal/protocol"
	"github.com/joshuafuller/mdnsd/internal/state"
)

// multicastTTL is the IP TTL and hop limit of every mDNS packet (RFC 6762 §11).
const multicastTTL = 255

// readBufferSize is the socket receive buffer requested from the kernel.
const readBufferSize = 64 * 1024

var (
	group4 = &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4)}
	group6 = &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6)}
)

// Config selects the address families and port of a UDP transport.
type Config struct {
	IPv4 bool
	IPv6 bool

	// Port is the UDP port to bind. Zero picks an ephemeral port, which is
	// only useful in tests.
	Port int
}

// DefaultConfig binds both families on the mDNS port.
func DefaultConfig() Config {
	return Config{IPv4: true, IPv6: true, Port: protocol.Port}
}

// UDP is the production Transport: one socket per address family, bound
// with SO_REUSEADDR (and SO_REUSEPORT where available) so it can coexist
// with other responders on the host.
type UDP struct {
	raw4  net.PacketConn
	raw6  net.PacketConn
	conn4 *ipv4.PacketConn
	conn6 *ipv6.PacketConn

	// mu serializes multicast sends: the outgoing interface is a socket
	// option set right before each write.
	mu sync.Mutex

	ifMu sync.Mutex
	ifcs map[int]*net.Interface

	closed atomic.Bool
	log    *log.LazyLogger
}

var _ Transport = (*UDP)(nil)

// NewUDP opens the sockets selected by cfg.
//
// Returns a NetworkError when a socket cannot be created. Control-message
// support is best-effort: without it datagrams arrive with interface index
// 0 and are dropped.
func NewUDP(cfg Config) (*UDP, error) {
	if !cfg.IPv4 && !cfg.IPv6 {
		return nil, &errors.ValidationError{Field: "transport", Value: cfg, Message: "no address family enabled"}
	}
	t := &UDP{ifcs: make(map[int]*net.Interface), log: log.Logger("transport")}

	if cfg.IPv4 {
		raw, err := listen("udp4", cfg.Port)
		if err != nil {
			return nil, err
		}
		t.raw4 = raw
		t.conn4 = ipv4.NewPacketConn(raw)
		if err := t.conn4.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
			t.log.Debug("IPv4 control messages unavailable", "err", err)
		}
		if err := multierr.Combine(
			t.conn4.SetMulticastTTL(multicastTTL),
			t.conn4.SetTTL(multicastTTL),
			t.conn4.SetMulticastLoopback(true),
		); err != nil {
			_ = t.Close()
			return nil, &errors.NetworkError{Operation: "configure socket", Err: err, Details: "udp4"}
		}
	}

	if cfg.IPv6 {
		raw, err := listen("udp6", cfg.Port)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		t.raw6 = raw
		t.conn6 = ipv6.NewPacketConn(raw)
		if err := t.conn6.SetControlMessage(ipv6.FlagInterface|ipv6.FlagDst, true); err != nil {
			t.log.Debug("IPv6 control messages unavailable", "err", err)
		}
		if err := multierr.Combine(
			t.conn6.SetMulticastHopLimit(multicastTTL),
			t.conn6.SetHopLimit(multicastTTL),
			t.conn6.SetMulticastLoopback(true),
		); err != nil {
			_ = t.Close()
			return nil, &errors.NetworkError{Operation: "configure socket", Err: err, Details: "udp6"}
		}
	}
	return t, nil
}

func listen(network string, port int) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: control}
	addr := net.JoinHostPort("", strconv.Itoa(port))
	pc, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind %s %s", network, addr),
		}
	}
	if uc, ok := pc.(*net.UDPConn); ok {
		if err := uc.SetReadBuffer(readBufferSize); err != nil {
			_ = pc.Close()
			return nil, &errors.NetworkError{Operation: "configure socket", Err: err, Details: "failed to set read buffer size"}
		}
	}
	return pc, nil
}

// control applies setSocketOptions before bind.
func control(_, _ string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) { serr = setSocketOptions(fd) }); err != nil {
		return err
	}
	return serr
}

// LocalPort returns the bound port of the v socket, or 0.
func (t *UDP) LocalPort(v state.IPVersion) int {
	raw := t.raw4
	if v == state.IPv6 {
		raw = t.raw6
	}
	if raw == nil {
		return 0
	}
	if a, ok := raw.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

func (t *UDP) iface(ifIndex int) (*net.Interface, error) {
	t.ifMu.Lock()
	defer t.ifMu.Unlock()
	if ifc, ok := t.ifcs[ifIndex]; ok {
		return ifc, nil
	}
	ifc, err := net.InterfaceByIndex(ifIndex)
	if err != nil {
		return nil, err
	}
	t.ifcs[ifIndex] = ifc
	return ifc, nil
}

func familyDisabled(op string, v state.IPVersion) error {
	return &errors.NetworkError{Operation: op, Err: errors.ErrInvalidArgument, Details: "IP" + v.String() + " transport disabled"}
}

// Join subscribes ifIndex to the mDNS group of v.
func (t *UDP) Join(ifIndex int, v state.IPVersion) error {
	ifc, err := t.iface(ifIndex)
	if err != nil {
		return &errors.NetworkError{Operation: "join group", Err: err, Details: fmt.Sprintf("interface %d", ifIndex)}
	}
	switch {
	case v == state.IPv4 && t.conn4 != nil:
		err = t.conn4.JoinGroup(ifc, group4)
	case v == state.IPv6 && t.conn6 != nil:
		err = t.conn6.JoinGroup(ifc, group6)
	default:
		return familyDisabled("join group", v)
	}
	if err != nil {
		return &errors.NetworkError{Operation: "join group", Err: err, Details: fmt.Sprintf("%s on %s", v, ifc.Name)}
	}
	return nil
}

// Leave drops the group subscription of ifIndex for v.
func (t *UDP) Leave(ifIndex int, v state.IPVersion) error {
	ifc, err := t.iface(ifIndex)
	if err != nil {
		return &errors.NetworkError{Operation: "leave group", Err: err, Details: fmt.Sprintf("interface %d", ifIndex)}
	}
	switch {
	case v == state.IPv4 && t.conn4 != nil:
		err = t.conn4.LeaveGroup(ifc, group4)
	case v == state.IPv6 && t.conn6 != nil:
		err = t.conn6.LeaveGroup(ifc, group6)
	default:
		return familyDisabled("leave group", v)
	}
	t.ifMu.Lock()
	delete(t.ifcs, ifIndex)
	t.ifMu.Unlock()
	if err != nil {
		return &errors.NetworkError{Operation: "leave group", Err: err, Details: fmt.Sprintf("%s on %s", v, ifc.Name)}
	}
	return nil
}

// Send transmits b on slot to dst.
//
// RFC 6762 §5: multicast goes out of the slot's interface; unicast replies
// (legacy queries, QU questions) go straight to the peer.
func (t *UDP) Send(ctx context.Context, slot state.Key, dst netip.AddrPort, b []byte) error {
	if t.closed.Load() {
		return &errors.NetworkError{Operation: "send", Err: errors.ErrNotRunning, Details: "transport closed"}
	}
	select {
	case <-ctx.Done():
		return &errors.NetworkError{Operation: "send", Err: ctx.Err(), Details: "context canceled before send"}
	default:
	}

	to := net.UDPAddrFromAddrPort(dst)
	multicast := dst.Addr().IsMulticast()
	var ifc *net.Interface
	if multicast {
		var err error
		if ifc, err = t.iface(slot.Interface); err != nil {
			return &errors.NetworkError{Operation: "send", Err: err, Details: fmt.Sprintf("interface %d", slot.Interface)}
		}
	}

	var (
		n   int
		err error
	)
	switch {
	case slot.Version == state.IPv4 && t.conn4 != nil:
		if multicast {
			t.mu.Lock()
			if err = t.conn4.SetMulticastInterface(ifc); err == nil {
				n, err = t.conn4.WriteTo(b, nil, to)
			}
			t.mu.Unlock()
		} else {
			n, err = t.conn4.WriteTo(b, nil, to)
		}
	case slot.Version == state.IPv6 && t.conn6 != nil:
		if multicast {
			t.mu.Lock()
			if err = t.conn6.SetMulticastInterface(ifc); err == nil {
				n, err = t.conn6.WriteTo(b, nil, to)
			}
			t.mu.Unlock()
		} else {
			n, err = t.conn6.WriteTo(b, nil, to)
		}
	default:
		return familyDisabled("send", slot.Version)
	}
	if err != nil {
		return &errors.NetworkError{
			Operation: "send",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s on %s", len(b), dst, slot),
		}
	}
	if n != len(b) {
		return &errors.NetworkError{
			Operation: "send",
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, len(b)),
			Details:   "incomplete transmission",
		}
	}
	return nil
}

// Serve runs one read loop per socket until ctx is done or the transport
// is closed.
func (t *UDP) Serve(ctx context.Context, h Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		now := time.Now()
		if t.raw4 != nil {
			_ = t.raw4.SetReadDeadline(now)
		}
		if t.raw6 != nil {
			_ = t.raw6.SetReadDeadline(now)
		}
	})
	defer stop()

	if t.conn4 != nil {
		g.Go(func() error {
			return t.readLoop(ctx, state.IPv4, func(b []byte) (int, int, net.IP, net.Addr, error) {
				n, cm, src, err := t.conn4.ReadFrom(b)
				if cm == nil {
					return n, 0, nil, src, err
				}
				return n, cm.IfIndex, cm.Dst, src, err
			}, h)
		})
	}
	if t.conn6 != nil {
		g.Go(func() error {
			return t.readLoop(ctx, state.IPv6, func(b []byte) (int, int, net.IP, net.Addr, error) {
				n, cm, src, err := t.conn6.ReadFrom(b)
				if cm == nil {
					return n, 0, nil, src, err
				}
				return n, cm.IfIndex, cm.Dst, src, err
			}, h)
		})
	}
	return g.Wait()
}

type readFunc func(b []byte) (n, ifIndex int, dst net.IP, src net.Addr, err error)

func (t *UDP) readLoop(ctx context.Context, v state.IPVersion, read readFunc, h Handler) error {
	for {
		bufPtr := GetBuffer()
		n, ifIndex, dstIP, src, err := read(*bufPtr)
		if err != nil {
			PutBuffer(bufPtr)
			if ctx.Err() != nil || t.closed.Load() || goerrors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if goerrors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return &errors.NetworkError{Operation: "receive", Err: err, Details: "read " + v.String() + " socket"}
		}

		data := make([]byte, n)
		copy(data, (*bufPtr)[:n])
		PutBuffer(bufPtr)

		if ifIndex == 0 {
			t.log.Debug("dropping datagram with unknown interface", "version", v, "src", src)
			continue
		}
		ua, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		ap := ua.AddrPort()
		srcAP := netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
		var dst netip.Addr
		if a, ok := netip.AddrFromSlice(dstIP); ok {
			dst = a.Unmap()
		}
		h(state.Key{Interface: ifIndex, Version: v}, srcAP, dst, data)
	}
}

// Close releases both sockets. Safe to call more than once.
func (t *UDP) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	var err error
	if t.raw4 != nil {
		err = multierr.Append(err, t.raw4.Close())
	}
	if t.raw6 != nil {
		err = multierr.Append(err, t.raw6.Close())
	}
	if err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err, Details: "failed to close UDP connection"}
	}
	return nil
}
