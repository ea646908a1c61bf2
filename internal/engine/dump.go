package engine

import (
	"github.com/miekg/dns"

	"github.com/joshuafuller/mdnsd/internal/state"
)

// dumpPacket logs a decoded rendering of b at debug level.
func (e *Engine) dumpPacket(direction string, slot state.Key, peer string, b []byte) {
	var m dns.Msg
	if err := m.Unpack(b); err != nil {
		e.log.Debug(direction+" undecodable packet", "slot", slot, "peer", peer, "len", len(b), "err", err)
		return
	}
	e.log.Debug(direction+" packet", "slot", slot, "peer", peer, "len", len(b), "msg", m.String())
}
