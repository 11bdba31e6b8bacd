// Package receiver implements ECCONet's two-region ring buffer: a back
// buffer filled by the host CAN ISR and a front buffer drained, reassembled,
// and routed by the cooperative tick loop, per spec.md §4.3 and §5.
package receiver

import (
	"sync/atomic"

	"github.com/ecconet-fw/ecconet/proto"
)

const (
	// MinBackSize is the minimum back-buffer capacity required by spec.md §4.3.
	MinBackSize = 20
	// MinFrontSize is the minimum front-buffer capacity required by spec.md §4.3.
	MinFrontSize = 72

	shelfLifeMS        = 750
	senderFilterMS     = 1000
	sortSearchWindow   = 15
)

// Slot is a received-frame record. A slot with Flags == FrameFlagsNone is
// free.
type Slot struct {
	SenderAddr uint8
	FrameIndex uint8
	Flags      proto.FrameFlags
	IsEvent    bool
	DataSize   uint8
	Timestamp  uint32
	Data       [8]byte
}

func (s Slot) free() bool { return s.Flags == proto.FrameFlagsNone }

// Dispatch receives the outcome of routing a reassembled message, per
// spec.md §4.3's routing table.
type Dispatch interface {
	PatternSync(sender uint8, value uint8)
	FTPClientMessage(sender uint8, body []byte)
	FTPServerMessage(sender uint8, body []byte)
	DecodedToken(proto.Token)
}

// Receiver owns the back ring (written by the ISR path) and the front
// sorted stream (written only by Drain/ProcessMessages, called from tick).
type Receiver struct {
	back []Slot
	front []Slot

	writeIndex atomic.Uint32
	readIndex  uint32 // touched only by the tick-side consumer

	workingAddr  atomic.Uint32
	filterAddr   atomic.Uint32
	filterActive atomic.Bool
	filterExpiry atomic.Uint32
}

// New constructs a Receiver with the given back and front capacities.
// Capacities below the spec minimums are raised to the minimum.
func New(backSize, frontSize int) *Receiver {
	if backSize < MinBackSize {
		backSize = MinBackSize
	}
	if frontSize < MinFrontSize {
		frontSize = MinFrontSize
	}
	return &Receiver{
		back:  make([]Slot, backSize),
		front: make([]Slot, frontSize),
	}
}

// SetWorkingAddress updates the address the ingestion path accepts frames
// for. It is safe to call concurrently with Ingest.
func (r *Receiver) SetWorkingAddress(addr uint8) {
	r.workingAddr.Store(uint32(addr))
}

// SetSenderFilter arms a transient filter limiting accepted multi-frame
// messages to src, auto-releasing after 1000ms (spec.md §4.3, §5).
func (r *Receiver) SetSenderFilter(src uint8, nowMS uint32) {
	r.filterAddr.Store(uint32(src))
	r.filterExpiry.Store(nowMS + senderFilterMS)
	r.filterActive.Store(true)
}

// ClearSenderFilter releases the sender filter immediately.
func (r *Receiver) ClearSenderFilter() {
	r.filterActive.Store(false)
}

// FilterActive reports whether a sender filter currently gates multi-frame
// admission, per spec.md §4.8's Orchestrator broadcast-pacing precondition.
func (r *Receiver) FilterActive() bool {
	return r.filterActive.Load()
}

// Ingest records one incoming CAN frame. It may be called from ISR context
// concurrently with Drain/ProcessMessages: it writes only to the back ring
// and only advances writeIndex, per spec.md §5.
func (r *Receiver) Ingest(id proto.FrameID, data []byte, nowMS uint32) bool {
	if !id.FrameType.IsValid() {
		return false
	}

	multiFrame := id.FrameType != proto.FrameTypeSingle
	if multiFrame && r.filterActive.Load() {
		if id.SrcAddr != uint8(r.filterAddr.Load()) {
			return false
		}
	}

	working := uint8(r.workingAddr.Load())
	if id.DestAddr != 0 && id.DestAddr != working {
		return false
	}

	slot := Slot{
		SenderAddr: id.SrcAddr,
		FrameIndex: id.FrameIndex,
		Flags:      proto.FlagsForType(id.FrameType),
		IsEvent:    id.IsEvent,
		DataSize:   proto.ValidateDataSize(len(data)),
		Timestamp:  nowMS,
	}
	copy(slot.Data[:], data)

	widx := r.writeIndex.Load()
	r.back[int(widx)%len(r.back)] = slot
	r.writeIndex.Store(widx + 1)
	return true
}

// Drain moves newly ingested frames from the back ring into the sorted
// front buffer and evicts stale slots. It must only be called from tick.
func (r *Receiver) Drain(nowMS uint32) {
	widx := r.writeIndex.Load()
	numNew := int(widx - r.readIndex)
	if numNew > len(r.back) {
		// Overrun: the ISR lapped the consumer. Oldest frames are already
		// gone; resynchronize to the oldest still-present frame.
		r.readIndex = widx - uint32(len(r.back))
		numNew = len(r.back)
	}

	for i := 0; i < numNew; i++ {
		pos := int(r.readIndex) % len(r.back)
		r.insertSorted(r.back[pos])
		r.readIndex++
	}

	r.evictStale(nowMS)
	if r.filterActive.Load() && proto.DeadlineExpired(nowMS, r.filterExpiry.Load()) {
		r.filterActive.Store(false)
	}
}

// insertSorted places a newly drained frame into the front buffer so that
// each sender's slots remain in ascending mod-32 frameIndex order
// (Testable Property 7), replacing a same-frameIndex slot in place when the
// frame is a retransmission. This is a best-effort equivalent of the
// original's bounded backward search (spec.md §9 open question): it is not
// required to be idempotent under adversarial re-entry, only to leave each
// sender's visible sub-sequence correctly ordered afterward.
func (r *Receiver) insertSorted(s Slot) {
	// Search backward up to sortSearchWindow live slots for this sender.
	scanned := 0
	insertAfter := -1
	replaceAt := -1
	beforeFirst := -1

	for i := len(r.front) - 1; i >= 0 && scanned < sortSearchWindow; i-- {
		if r.front[i].free() {
			continue
		}
		if r.front[i].SenderAddr != s.SenderAddr {
			continue
		}
		scanned++

		if r.front[i].FrameIndex == s.FrameIndex {
			replaceAt = i
			break
		}
		if halfSpaceOlder(s.FrameIndex, r.front[i].FrameIndex) {
			if insertAfter == -1 {
				insertAfter = i
			}
		} else {
			beforeFirst = i
		}
	}

	switch {
	case replaceAt != -1:
		r.front[replaceAt] = s
	case insertAfter != -1:
		r.insertAt(insertAfter+1, s)
	case beforeFirst != -1:
		r.insertAt(beforeFirst, s)
	default:
		r.insertAt(len(r.front), s)
	}
}

// insertAt places s immediately before the slot currently at pos, shifting
// front[1:pos] one place toward the head and discarding the oldest (index
// 0) slot; with pos 0, s overwrites front[0] — the front buffer's ring
// discipline per spec.md §4.3.
func (r *Receiver) insertAt(pos int, s Slot) {
	if pos > len(r.front) {
		pos = len(r.front)
	}
	if pos == 0 {
		r.front[0] = s
		return
	}
	copy(r.front[0:pos-1], r.front[1:pos])
	r.front[pos-1] = s
}

// halfSpaceOlder reports whether oldIdx is strictly "older" than newIdx
// (newIdx strictly newer) under the 5-bit mod-32 half-space comparison of
// spec.md §4.3.
func halfSpaceOlder(newIdx, oldIdx uint8) bool {
	return ((newIdx-oldIdx)&0x1F) < 16 && newIdx != oldIdx
}

// evictStale removes slots whose timestamp is more than 750ms old,
// head-preserving-shifting the rest down, per spec.md §4.3.
func (r *Receiver) evictStale(nowMS uint32) {
	for i := 0; i < len(r.front); {
		if r.front[i].free() || nowMS-r.front[i].Timestamp <= shelfLifeMS {
			i++
			continue
		}
		copy(r.front[i:], r.front[i+1:])
		r.front[len(r.front)-1] = Slot{}
	}
}
