// Package sequencer implements ECCONet's token-pattern sequencer
// controller: N independent, nestable step programs driving output tokens
// from a compiled pattern table, with network sync, per spec.md §4.6.
package sequencer

import (
	"github.com/ecconet-fw/ecconet/codec"
	"github.com/ecconet-fw/ecconet/proto"
)

// MaxStackDepth is the sequencer pattern-stack depth bound of spec.md's
// invariant (iii).
const MaxStackDepth = 3

// Sentinels for the sync-range fields, per spec.md §4.6's "bottom ==
// SYNC_EXACT" and "syncRangeTop != SYNC_NONE" conditions. Spec.md does not
// fix their numeric values; chosen out of the 16-bit sync-range field's
// otherwise-unused top of range (documented in DESIGN.md).
const (
	SyncNone  uint16 = 0xFFFF
	SyncExact uint16 = 0xFFFE
)

// Dispatch receives a sequencer's output tokens and its pattern-sync
// broadcasts, per spec.md §4.6.
type Dispatch interface {
	Emit(tok proto.Token)
	SendSync(patternID uint16)
}

type frame struct {
	patternID          uint16
	data               []byte
	hasCommonKey       bool
	commonKey          proto.TokenKey
	patternCounter     uint8
	firstStepPos       int
	currentPos         int
	defaultStateOffset int
	repeatedSectionPos int
	sectionCounter     uint8
	stepDeadline       uint32
	syncEnable         bool
}

// sequencerState is one of the Controller's N independent sequencers.
type sequencerState struct {
	stack     [MaxStackDepth]frame
	depth     int
	intensity uint8
	syncBottom uint16
	syncTop    uint16
}

// Controller owns N independent sequencers sharing one pattern source and
// output dispatch.
type Controller struct {
	seqs     []sequencerState
	source   PatternSource
	dispatch Dispatch
	ourAddr  uint8
}

// New constructs a Controller with n sequencers (n should be >= 6 per
// spec.md §2).
func New(n int, source PatternSource, dispatch Dispatch) *Controller {
	seqs := make([]sequencerState, n)
	for i := range seqs {
		seqs[i].intensity = 100
		seqs[i].syncTop = SyncNone
	}
	return &Controller{seqs: seqs, source: source, dispatch: dispatch}
}

// SetOurAddress updates the address used to judge "a peer whose CAN address
// is higher than ours" for sync acceptance.
func (c *Controller) SetOurAddress(addr uint8) { c.ourAddr = addr }

// Count returns the number of sequencers the Controller manages.
func (c *Controller) Count() int { return len(c.seqs) }

// StartPattern begins patternID on sequencer seqIndex, ignoring the request
// if that sequencer's root pattern is already patternID, per spec.md §4.6.
func (c *Controller) StartPattern(seqIndex uint8, patternID uint16, nowMS uint32) {
	if int(seqIndex) >= len(c.seqs) {
		return
	}
	s := &c.seqs[seqIndex]
	if s.depth > 0 && s.stack[0].patternID == patternID {
		return
	}
	c.popAll(s)
	c.push(s, patternID, nowMS)
}

// Stop pops a sequencer's whole pattern stack, emitting each level's
// all-off default state, per spec.md §4.6's Pattern_Stop.
func (c *Controller) Stop(seqIndex uint8) {
	if int(seqIndex) >= len(c.seqs) {
		return
	}
	c.popAll(&c.seqs[seqIndex])
}

// SetSyncRange sets a sequencer's [bottom, top] sync acceptance window from
// a packed KeyTokenSequencerSyncRange value.
func (c *Controller) SetSyncRange(seqIndex uint8, value int32) {
	if int(seqIndex) >= len(c.seqs) {
		return
	}
	s := &c.seqs[seqIndex]
	s.syncBottom = uint16(value)
	s.syncTop = uint16(uint32(value) >> 16)
}

// SetIntensity sets a sequencer's output intensity (0..100).
func (c *Controller) SetIntensity(seqIndex uint8, value int32) {
	if int(seqIndex) >= len(c.seqs) {
		return
	}
	c.seqs[seqIndex].intensity = uint8(value)
}

// HandleSync processes an incoming KeyTokenSequencerSync from fromAddr,
// restarting a sequencer's root pattern when the sync value matches its
// acceptance window, per spec.md §4.6.
func (c *Controller) HandleSync(fromAddr uint8, value uint16, nowMS uint32) {
	if fromAddr <= c.ourAddr {
		return
	}
	for i := range c.seqs {
		s := &c.seqs[i]
		if s.depth == 0 {
			continue
		}
		root := &s.stack[0]
		matches := (s.syncBottom != SyncExact && value >= s.syncBottom && value <= s.syncTop) ||
			(s.syncBottom == SyncExact && uint16(root.patternID) == value)
		if !matches {
			continue
		}
		root.currentPos = root.firstStepPos
		root.stepDeadline = nowMS
		c.stepOne(s, nowMS)
	}
}

// maxStepsPerTick bounds how many steps a single sequencer may execute
// within one Tick call, so a zero-period pattern step cannot hang tick.
const maxStepsPerTick = 64

// Tick advances every sequencer whose current step deadline has passed.
func (c *Controller) Tick(nowMS uint32) {
	for i := range c.seqs {
		s := &c.seqs[i]
		for n := 0; n < maxStepsPerTick && s.depth > 0 && proto.DeadlineExpired(nowMS, s.stack[s.depth-1].stepDeadline); n++ {
			c.stepOne(s, nowMS)
		}
	}
}

func (c *Controller) push(s *sequencerState, patternID uint16, nowMS uint32) {
	if s.depth >= MaxStackDepth {
		return
	}
	data, stepCount, ok := c.source.Pattern(patternID)
	if !ok || len(data) < 2 || data[0]&0xF0 != byte(TagPatternWithRepeats) {
		return
	}

	repeatCount := data[0] & 0x0F
	mode := commonKeyMode(data[1] >> 6)
	pos := 2
	hasCommonKey := mode != modeMulti
	var commonKey proto.TokenKey
	if hasCommonKey {
		if len(data) < 4 {
			return
		}
		commonKey = proto.TokenKey(uint16(data[2])<<8 | uint16(data[3]))
		pos = 4
	}

	defaultStateOffset := -1
	if pos < len(data) && data[pos]&0xF0 == byte(TagStepWithAllOff) && pos+1 < len(data) {
		defaultStateOffset = pos
		payloadLen := int(data[pos+1])
		pos += 2 + payloadLen
	}

	f := frame{
		patternID:          patternID,
		data:               data,
		hasCommonKey:       hasCommonKey,
		commonKey:          commonKey,
		patternCounter:     repeatCount,
		firstStepPos:       pos,
		currentPos:         pos,
		defaultStateOffset: defaultStateOffset,
		repeatedSectionPos: -1,
		stepDeadline:       nowMS,
		syncEnable:         stepCount > 1 && s.syncTop != SyncNone,
	}
	s.stack[s.depth] = f
	s.depth++
}

// popAll tears down every active stack level, emitting each one's all-off
// default state before discarding it.
func (c *Controller) popAll(s *sequencerState) {
	for s.depth > 0 {
		c.emitDefaultState(s, &s.stack[s.depth-1])
		s.depth--
	}
}

// stepOne executes one timed step of the sequencer's current (innermost
// active) pattern, transparently walking section markers and pattern-end
// bookkeeping first, per spec.md §4.6.
func (c *Controller) stepOne(s *sequencerState, nowMS uint32) {
	for s.depth > 0 {
		top := &s.stack[s.depth-1]

		if top.currentPos >= len(top.data) {
			if top.patternCounter == 0 {
				top.currentPos = top.firstStepPos
				continue
			}
			top.patternCounter--
			if top.patternCounter > 0 {
				top.currentPos = top.firstStepPos
				continue
			}
			c.emitDefaultState(s, top)
			s.depth--
			continue
		}

		tagByte := top.data[top.currentPos]
		switch EntryTag(tagByte & 0xF0) {
		case TagSectionStartWithRepeats:
			top.sectionCounter = tagByte & 0x0F
			top.currentPos++
			top.repeatedSectionPos = top.currentPos
			continue
		case TagSectionEnd:
			if top.sectionCounter > 0 {
				top.sectionCounter--
				if top.sectionCounter > 0 {
					top.currentPos = top.repeatedSectionPos
					continue
				}
			}
			top.currentPos++
			continue
		case TagStepWithPeriod:
			if top.currentPos+4 > len(top.data) {
				s.depth--
				return
			}
			isFirstStep := s.depth == 1 && top.currentPos == top.firstStepPos
			period := (uint16(top.data[top.currentPos+1])<<8 | uint16(top.data[top.currentPos+2])) & 0x0FFF
			payloadLen := int(top.data[top.currentPos+3])
			payloadStart := top.currentPos + 4
			if payloadStart+payloadLen > len(top.data) {
				s.depth--
				return
			}
			payload := top.data[payloadStart : payloadStart+payloadLen]
			top.currentPos = payloadStart + payloadLen
			top.stepDeadline += uint32(period)

			if isFirstStep && top.syncEnable {
				c.dispatch.SendSync(top.patternID)
			}
			c.emitPayload(s, top, payload, false)
			return
		case TagStepWithRepeatsOfNestedPattern:
			if top.currentPos+3 > len(top.data) {
				s.depth--
				return
			}
			nestedID := uint16(top.data[top.currentPos+1])<<8 | uint16(top.data[top.currentPos+2])
			counter := tagByte & 0x0F
			top.currentPos += 3
			c.push(s, nestedID, nowMS)
			if s.depth > 0 {
				s.stack[s.depth-1].patternCounter = counter
			}
			return
		default:
			s.depth--
			return
		}
	}
}

func (c *Controller) emitPayload(s *sequencerState, top *frame, payload []byte, defaultState bool) {
	if top.hasCommonKey {
		value := readBigEndianSigned(payload, proto.KeyValueSize(top.commonKey))
		scaled := value | int32(s.intensity)<<16
		flags := proto.TokenFlags(0)
		if defaultState {
			flags = proto.FlagDefaultState
		}
		c.dispatch.Emit(proto.Token{Key: top.commonKey, Value: scaled, Flags: flags})
		return
	}
	_ = codec.Decompress(payload, 0, func(tok proto.Token) {
		if defaultState {
			tok.Flags |= proto.FlagDefaultState
		} else {
			tok.Value = tok.Value * int32(s.intensity) / 100
		}
		c.dispatch.Emit(tok)
	})
}

func (c *Controller) emitDefaultState(s *sequencerState, top *frame) {
	if top.defaultStateOffset < 0 {
		return
	}
	payloadLen := int(top.data[top.defaultStateOffset+1])
	start := top.defaultStateOffset + 2
	if start+payloadLen > len(top.data) {
		return
	}
	c.emitPayload(s, top, top.data[start:start+payloadLen], true)
}

// readBigEndianSigned reads size bytes big-endian and sign-extends to
// int32, mirroring the codec reader's value decoding.
func readBigEndianSigned(b []byte, size uint8) int32 {
	if size == 0 || len(b) < int(size) {
		return 0
	}
	var u uint32
	for i := 0; i < int(size); i++ {
		u = u<<8 | uint32(b[i])
	}
	signBit := uint32(1) << (size*8 - 1)
	if u&signBit != 0 {
		u |= ^uint32(0) << (size * 8)
	}
	return int32(u)
}

// HandleToken routes a decoded Command-prefixed token to the appropriate
// sequencer operation, resolving the target sequencer from either the
// token's address (a virtual sequencer address) or its key (an indexed
// form), per spec.md §4.6.
func (c *Controller) HandleToken(tok proto.Token, nowMS uint32) {
	switch tok.Key {
	case proto.KeyTokenSequencerPattern:
		if idx, ok := seqIndexFromAddress(tok.Address); ok {
			c.StartPattern(idx, uint16(tok.Value), nowMS)
		}
		return
	case proto.KeyTokenSequencerSyncRange:
		if idx, ok := seqIndexFromAddress(tok.Address); ok {
			c.SetSyncRange(idx, tok.Value)
		}
		return
	case proto.KeyTokenSequencerIntensity:
		if idx, ok := seqIndexFromAddress(tok.Address); ok {
			c.SetIntensity(idx, tok.Value)
		}
		return
	case proto.KeyPatternStop:
		if idx, ok := seqIndexFromAddress(tok.Address); ok {
			c.Stop(idx)
		}
		return
	}

	body := tok.Key.Body()
	switch {
	case body >= proto.IndexedSequencerBase && body < proto.IndexedSequencerBase+proto.NumSequencers:
		c.StartPattern(uint8(body-proto.IndexedSequencerBase), uint16(tok.Value), nowMS)
	case body >= proto.IndexedTokenSequencerPatternBase && body < proto.IndexedTokenSequencerPatternBase+proto.NumSequencers:
		c.StartPattern(uint8(body-proto.IndexedTokenSequencerPatternBase), uint16(tok.Value), nowMS)
	}
}

func seqIndexFromAddress(addr uint8) (uint8, bool) {
	if addr < proto.VirtualSequencerBase || addr >= proto.VirtualSequencerBase+proto.NumSequencers {
		return 0, false
	}
	return addr - proto.VirtualSequencerBase, true
}
