package ecconet

import (
	"log/slog"

	"github.com/ecconet-fw/ecconet/address"
	"github.com/ecconet-fw/ecconet/proto"
)

// routeToken implements the Router of spec.md §4.8: every decoded token
// feeds the address allocator; InputStatus/OutputStatus tokens feed the
// rule engine once our address is valid; Command-prefixed tokens feed the
// sequencer controller; every token reaches the application callback.
// Tokens explicitly addressed to a virtual component (rule engine 132,
// sequencers 133..138) are delivered to it in addition to the ordinary
// dispatch, per SPEC_FULL.md §D.
func (c *Core) routeToken(tok proto.Token) {
	c.alloc.HandleToken(tok, c)

	if c.alloc.State() == address.Assigned {
		switch tok.Key.Prefix() {
		case proto.PrefixInputStatus, proto.PrefixOutputStatus:
			c.rules.Observe(tok)
		}
	}
	if tok.Address == proto.VirtualRuleEngine {
		c.rules.Observe(tok)
	}

	if tok.Key.Prefix() == proto.PrefixCommand {
		c.seq.HandleToken(tok, c.nowMS)
	}

	c.host.TokenCallback(tok)
}

// DecodedToken implements receiver.Dispatch: a fully reassembled token
// arrived over the bus. The sender's address feeds the allocator's
// impersonation check (spec.md §4.1) before the token is routed.
func (c *Core) DecodedToken(tok proto.Token) {
	c.alloc.ObserveSender(tok.Address)
	c.routeToken(tok)
}

// PatternSync implements receiver.Dispatch for the dedicated PatternSync
// message class, per spec.md §4.3/§4.6.
func (c *Core) PatternSync(sender uint8, value uint8) {
	c.seq.HandleSync(sender, uint16(value), c.nowMS)
}

// FTPClientMessage implements receiver.Dispatch, handing a response
// addressed to this node's FTP client half to the shared ftp.Node, tagged
// with the tick's current time for its 1000ms response deadline.
func (c *Core) FTPClientMessage(sender uint8, body []byte) {
	c.ftp.HandleClientMessage(sender, body, c.nowMS)
}

// FTPServerMessage implements receiver.Dispatch, handing a request
// addressed to this node's FTP server half to the shared ftp.Node.
func (c *Core) FTPServerMessage(sender uint8, body []byte) {
	c.ftp.HandleServerMessage(sender, body, c.nowMS)
}

// SendToken implements address.Sender: it composes a single-token message
// and queues its frames on the transmitter's outbound ring for the next
// Tick to flush, used only by the address allocator's broadcast
// proposals/claims.
func (c *Core) SendToken(destAddr uint8, key proto.TokenKey, value int32) {
	c.sendEventOrOnce(destAddr, key, value)
}

// sendEventOrOnce composes a single-token message addressed to dest and
// queues its frames on the transmitter's outbound ring; Tick flushes them
// to the host. Per spec.md §4.2, an InputStatus/OutputStatus key advances the
// event index once and is transmitted three times; every other key is
// stamped with the current index and sent once.
func (c *Core) sendEventOrOnce(dest uint8, key proto.TokenKey, value int32) {
	idx := c.ei.Value()
	copies := 1
	if proto.IsEventKey(key) {
		idx = c.ei.Next()
		copies = 3
	}
	for i := 0; i < copies; i++ {
		if err := c.xmit.Start(dest, key, idx); err != nil {
			c.log.Warn("token message dropped: transmitter busy", slog.Int("key", int(key)))
			return
		}
		c.xmit.AddValue(key, value)
		c.xmit.Finish()
	}
}

// Emit implements sequencer.Dispatch: a sequencer step produced an output
// token. Sequencer output is local to this node — there is no separate
// network transport for it beyond the application callback and whatever the
// Router's ordinary Command-prefixed handling already does with it — so it
// is routed exactly like any other token, per spec.md §4.8's "all tokens
// feed the application callback."
func (c *Core) Emit(tok proto.Token) {
	tok.Address = c.Address()
	c.routeToken(tok)
}

// SendSync implements sequencer.Dispatch, broadcasting a pattern's position
// so peers with a matching sync window can restart, per spec.md §4.6.
func (c *Core) SendSync(patternID uint16) {
	key := proto.NewTokenKey(proto.PrefixPatternSync, patternID&0x1FFF)
	if err := c.xmit.Start(proto.AddressBroadcast, key, c.ei.Value()); err != nil {
		c.log.Warn("pattern sync dropped: transmitter busy", slog.Int("pattern", int(patternID)))
		return
	}
	c.xmit.Finish()
}
