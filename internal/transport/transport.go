// Package transport moves mDNS datagrams between the engine and the
// network.
//
// RFC 6762 §5: responders bind UDP port 5353 and join 224.0.0.251 and
// ff02::fb on every interface they serve. RFC 6762 §11: multicast packets
// carry IP TTL (hop limit) 255.
//
// RFC 6762 §15: each received datagram is tagged with the interface it
// arrived on, read from IP_PKTINFO (IPV6_PKTINFO) or IP_RECVIF control
// messages, so answers carry the addresses of that interface only.
package transport

import (
	"context"
	"net/netip"

	"github.com/joshuafuller/mdnsd/internal/state"
)

// Handler receives every datagram read by a Transport. b is owned by the
// handler.
type Handler func(slot state.Key, src netip.AddrPort, dst netip.Addr, b []byte)

// Transport abstracts the mDNS sockets.
//
// Implementations:
//   - UDP: production multicast transport over IPv4 and IPv6
//   - transporttest.Fake: in-memory double for tests
type Transport interface {
	// Send transmits b out of the interface and address family named by
	// slot. dst is the multicast group or, for unicast replies, the peer.
	Send(ctx context.Context, slot state.Key, dst netip.AddrPort, b []byte) error

	// Join subscribes the interface to the mDNS group of version v.
	Join(ifIndex int, v state.IPVersion) error

	// Leave drops the subscription made by Join.
	Leave(ifIndex int, v state.IPVersion) error

	// Serve reads datagrams and passes them to h until ctx is done or the
	// transport is closed.
	Serve(ctx context.Context, h Handler) error

	// Close releases the sockets. Errors from every socket are combined.
	Close() error
}
