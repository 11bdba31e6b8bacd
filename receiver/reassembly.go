package receiver

import (
	"github.com/ecconet-fw/ecconet/codec"
	"github.com/ecconet-fw/ecconet/proto"
)

// ProcessMessages walks the front buffer oldest-first, reassembles
// complete messages, verifies their CRC16 when multi-frame, and routes
// each complete message's payload per spec.md §4.3. ei is the node's local
// event index, used for expiry decisions and updated on accepted messages.
func (r *Receiver) ProcessMessages(ei *proto.EventIndex, dispatch Dispatch) {
	i := 0
	for i < len(r.front) {
		if r.front[i].free() {
			i++
			continue
		}

		if r.front[i].Flags == proto.FrameFlagsSingle {
			r.deliverSingle(i, ei, dispatch)
			r.removeRange(i, i+1)
			continue
		}

		end, complete := r.findMultiFrameRun(i)
		if !complete {
			i++
			continue
		}
		r.deliverMultiFrame(i, end, ei, dispatch)
		r.removeRange(i, end+1)
	}
}

// findMultiFrameRun reports whether the run starting at start terminates in
// a LAST slot with at least two frames accumulated, per spec.md §4.3; when
// it does, end is the inclusive index of that LAST slot.
func (r *Receiver) findMultiFrameRun(start int) (end int, complete bool) {
	sender := r.front[start].SenderAddr
	j := start
	for j < len(r.front) && !r.front[j].free() && r.front[j].SenderAddr == sender {
		if j > start && !contiguousIndex(r.front[j-1].FrameIndex, r.front[j].FrameIndex) {
			break
		}
		if r.front[j].Flags == proto.FrameFlagsLast {
			return j, j-start+1 >= 2
		}
		j++
	}
	return j, false
}

// contiguousIndex reports whether next immediately follows prev under
// mod-32 arithmetic.
func contiguousIndex(prev, next uint8) bool {
	return (next-prev)&0x1F == 1
}

func (r *Receiver) deliverSingle(i int, ei *proto.EventIndex, dispatch Dispatch) {
	slot := r.front[i]
	payload := append([]byte{}, slot.Data[:slot.DataSize]...)
	r.route(payload, slot.SenderAddr, slot.IsEvent, ei, dispatch)
}

func (r *Receiver) deliverMultiFrame(start, end int, ei *proto.EventIndex, dispatch Dispatch) {
	var payload []byte
	for k := start; k <= end; k++ {
		s := r.front[k]
		payload = append(payload, s.Data[:s.DataSize]...)
	}
	if !proto.ValidCRC16(payload) {
		return
	}
	payload = payload[:len(payload)-2]
	r.route(payload, r.front[start].SenderAddr, r.front[start].IsEvent, ei, dispatch)
}

// route dispatches a complete message's payload per spec.md §4.3:
//
//	eventIndex(1) || keyHi(1) || keyLo(1) || valueBytes(0..4) [|| …]
func (r *Receiver) route(msg []byte, sender uint8, isEvent bool, ei *proto.EventIndex, dispatch Dispatch) {
	if len(msg) < 3 {
		return
	}
	eventIdx := msg[0]
	key := proto.TokenKey(uint16(msg[1])<<8 | uint16(msg[2]))
	body := key.Body()

	switch {
	case key.Prefix() == proto.PrefixPatternSync:
		dispatch.PatternSync(sender, uint8(body))
		return
	case proto.IsFTPResponse(body):
		dispatch.FTPClientMessage(sender, msg[1:])
		return
	case proto.IsFTPRequest(body):
		dispatch.FTPServerMessage(sender, msg[1:])
		return
	}

	isCommand := key.Prefix() == proto.PrefixCommand && len(msg) == 3+int(proto.KeyValueSize(key))
	if !(isEvent || isCommand || !ei.IsExpired(eventIdx)) {
		return
	}

	ei.Observe(eventIdx)
	_ = codec.Decompress(msg[1:], sender, func(tok proto.Token) {
		dispatch.DecodedToken(tok)
	})
}

// removeRange clears front[start:end) and shifts the remainder left,
// head-preserving, mirroring evictStale's shift discipline.
func (r *Receiver) removeRange(start, end int) {
	n := end - start
	copy(r.front[start:], r.front[end:])
	for i := len(r.front) - n; i < len(r.front); i++ {
		r.front[i] = Slot{}
	}
}
