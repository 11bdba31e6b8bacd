package ecconet

import (
	"github.com/ecconet-fw/ecconet/codec"
	"github.com/ecconet-fw/ecconet/proto"
)

// broadcastPeriodMS returns the address-offset-paced broadcast interval of
// spec.md §4.8: (1000 - 60 + our_address) ms, spreading simultaneous boots
// across the bus deterministically.
func broadcastPeriodMS(addr uint8) uint32 {
	return uint32(1000 - 60 + int(addr))
}

// runOrchestrator implements spec.md §4.8's Orchestrator: once our address
// is valid, the rule engine has broadcast-flagged tokens, and no sender
// filter is active, it opens a broadcast message every broadcastPeriodMS
// and compresses the rule engine's exposed tokens into it.
func (c *Core) runOrchestrator(nowMS uint32) {
	addr := c.Address()
	if !proto.IsValidWorkingAddress(addr) {
		return
	}
	if !c.rules.HasBroadcastTokens() {
		return
	}
	if c.recv.FilterActive() {
		return
	}

	if !c.haveBroadcastDeadline {
		c.nextBroadcastMS = nowMS + broadcastPeriodMS(addr)
		c.haveBroadcastDeadline = true
		return
	}
	if !proto.DeadlineExpired(nowMS, c.nextBroadcastMS) {
		return
	}
	c.nextBroadcastMS = nowMS + broadcastPeriodMS(addr)
	c.broadcastRuleTokens()
}

func (c *Core) broadcastRuleTokens() {
	tokens := c.rules.Exposed()
	if len(tokens) == 0 {
		return
	}
	out := codec.Compress(tokens)
	if len(out) == 0 {
		return
	}

	if err := c.xmit.StartRaw(proto.AddressBroadcast, c.ei.Value(), false); err != nil {
		c.log.Warn("rule-engine broadcast dropped: transmitter busy")
		return
	}
	for _, b := range out {
		c.xmit.AddByte(b)
	}
	c.xmit.Finish()
}
