// Package transmitter implements ECCONet's outbound message framing: a byte
// FIFO with an 8-byte lookahead that lazily classifies frames as SINGLE,
// BODY, or LAST as bytes accumulate, accruing a CRC16 for any message that
// turns out to span more than one frame. Grounded on
// interleavedPacketizer.Packetize's "accumulate payload, slice into MTU
// chunks, mark the last one" shape, adapted from whole-payload batching to a
// byte-at-a-time producer since a tick-driven node composes a message field
// by field rather than handing over one full buffer (spec.md §4.4).
package transmitter

import (
	"errors"

	"github.com/ecconet-fw/ecconet/proto"
)

// ErrBusy is returned by Start when a message is already in progress.
var ErrBusy = errors.New("transmitter: message already in progress")

// ErrNotStarted is returned by the Add* methods and Finish when no message
// is in progress.
var ErrNotStarted = errors.New("transmitter: no message in progress")

// Frame is one fully classified outbound CAN frame.
type Frame struct {
	ID   proto.FrameID
	Data []byte
}

// Transmitter accumulates one outbound message at a time into CAN frames and
// queues them on an outbound ring for the host to drain during tick.
type Transmitter struct {
	srcAddr uint8

	active     bool
	destAddr   uint8
	isEvent    bool
	frameIndex uint8

	fifo           []byte
	crc            uint16
	haveFlushedAny bool

	ring []Frame
}

// New constructs a Transmitter whose frames carry srcAddr as their source
// address.
func New(srcAddr uint8) *Transmitter {
	return &Transmitter{srcAddr: srcAddr}
}

// SetSourceAddress updates the address stamped on every subsequently
// composed frame, tracking an address allocator's current working address.
func (t *Transmitter) SetSourceAddress(addr uint8) {
	t.srcAddr = addr
}

// Start begins composing a new message addressed to dest, carrying key and
// eventIdx. isEvent is derived from key, not supplied by the caller: it is
// set iff key is an InputStatus or OutputStatus key, per spec.md §4.4's
// "sets isEvent iff key is an InputStatus or OutputStatus key". Callers that
// need the triple-transmission-on-a-fresh-index behavior spec.md §4.2 ties
// to isEvent must drive that themselves (see Core.sendEventOrOnce);
// Start only stamps the frame id. Address-negotiation keys are always
// stamped with event index 0, per spec.md §4.4.
func (t *Transmitter) Start(dest uint8, key proto.TokenKey, eventIdx uint8) error {
	if t.active {
		return ErrBusy
	}
	if err := (proto.FrameID{DestAddr: dest, FrameType: proto.FrameTypeSingle}).Validate(); err != nil {
		return err
	}
	t.active = true
	t.destAddr = dest
	t.isEvent = proto.IsEventKey(key)
	t.fifo = t.fifo[:0]
	t.crc = 0
	t.haveFlushedAny = false

	stamp := eventIdx
	if proto.IsAddressNegotiationKey(key) {
		stamp = 0
	}
	t.addByte(stamp)
	t.AddU16(uint16(key))
	return nil
}

// StartRaw begins composing a new message addressed to dest, stamped with
// eventIdx, without writing any key: the caller supplies the entire
// remaining payload itself via AddByte. Used by the Orchestrator's
// broadcast message, whose body is the codec's already-serialized
// compressed token stream rather than a single named key/value pair, per
// spec.md §4.8 ("opens a broadcast message ... delivering bytes to
// Transmitter.add_byte").
func (t *Transmitter) StartRaw(dest uint8, eventIdx uint8, isEvent bool) error {
	if t.active {
		return ErrBusy
	}
	t.active = true
	t.destAddr = dest
	t.isEvent = isEvent
	t.fifo = t.fifo[:0]
	t.crc = 0
	t.haveFlushedAny = false
	t.addByte(eventIdx)
	return nil
}

// AddByte appends one payload byte.
func (t *Transmitter) AddByte(b byte) error {
	if !t.active {
		return ErrNotStarted
	}
	t.addByte(b)
	return nil
}

// AddU16 appends a big-endian 16-bit value.
func (t *Transmitter) AddU16(v uint16) error {
	if !t.active {
		return ErrNotStarted
	}
	t.addByte(byte(v >> 8))
	t.addByte(byte(v))
	return nil
}

// AddU32 appends a big-endian 32-bit value.
func (t *Transmitter) AddU32(v uint32) error {
	if !t.active {
		return ErrNotStarted
	}
	t.addByte(byte(v >> 24))
	t.addByte(byte(v >> 16))
	t.addByte(byte(v >> 8))
	t.addByte(byte(v))
	return nil
}

// AddToken appends key as 2 big-endian bytes followed by value's low
// valueSize bytes, big-endian, per the region table's byte width for key
// (spec.md §3). A PatternSync key always
// carries a 1-byte value regardless of its region, per spec.md §4.4. Used to
// append a second or further token to a message whose first token was
// already written by Start.
func (t *Transmitter) AddToken(key proto.TokenKey, value int32) error {
	if !t.active {
		return ErrNotStarted
	}
	if err := t.AddU16(uint16(key)); err != nil {
		return err
	}
	return t.AddValue(key, value)
}

// AddValue appends value's low valueSize bytes, big-endian, for a key whose
// 2-byte header was already written (by Start, or by the caller directly).
// Used to complete a single-token message started with Start.
func (t *Transmitter) AddValue(key proto.TokenKey, value int32) error {
	if !t.active {
		return ErrNotStarted
	}
	size := proto.KeyValueSize(key)
	if key.Prefix() == proto.PrefixPatternSync {
		size = 1
	}
	switch size {
	case 1:
		t.addByte(byte(value))
	case 2:
		t.addByte(byte(value >> 8))
		t.addByte(byte(value))
	case 3:
		t.addByte(byte(value >> 16))
		t.addByte(byte(value >> 8))
		t.addByte(byte(value))
	case 4:
		t.addByte(byte(value >> 24))
		t.addByte(byte(value >> 16))
		t.addByte(byte(value >> 8))
		t.addByte(byte(value))
	}
	return nil
}

// maxStringLen is the cap spec.md §4.4 places on add_string, including its
// terminating NUL.
const maxStringLen = 256

// AddString appends s's bytes followed by a terminating NUL, truncating s
// to fit within maxStringLen total bytes, per spec.md §4.4.
func (t *Transmitter) AddString(s string) error {
	if !t.active {
		return ErrNotStarted
	}
	if len(s) > maxStringLen-1 {
		s = s[:maxStringLen-1]
	}
	for i := 0; i < len(s); i++ {
		t.addByte(s[i])
	}
	t.addByte(0)
	return nil
}

// addByte appends b to the lookahead FIFO, rolling it into the CRC
// accumulator, and flushes the oldest 8 bytes as a BODY frame once the FIFO
// holds proof that more data follows it (spec.md §4.4).
func (t *Transmitter) addByte(b byte) {
	t.fifo = append(t.fifo, b)
	t.crc = proto.UpdateCRC16(t.crc, []byte{b})

	if len(t.fifo) > 8 {
		t.emit(proto.FrameTypeBody, t.fifo[:8])
		t.fifo = append([]byte{}, t.fifo[8:]...)
		t.haveFlushedAny = true
	}
}

// Finish closes out the in-progress message: a message that never exceeded
// 8 bytes is emitted whole as a SINGLE frame with no trailing CRC; any
// longer message gets a big-endian CRC16 of its full payload appended before
// the remaining bytes are flushed as BODY frames with the tail frame marked
// LAST, per spec.md §4.3-§4.4.
func (t *Transmitter) Finish() error {
	if !t.active {
		return ErrNotStarted
	}

	if !t.haveFlushedAny {
		t.emit(proto.FrameTypeSingle, t.fifo)
		t.active = false
		return nil
	}

	t.fifo = append(t.fifo, byte(t.crc>>8), byte(t.crc))
	for len(t.fifo) > 8 {
		t.emit(proto.FrameTypeBody, t.fifo[:8])
		t.fifo = t.fifo[8:]
	}
	t.emit(proto.FrameTypeLast, t.fifo)
	t.active = false
	return nil
}

// Abort discards an in-progress message without emitting any frame for its
// final partial chunk.
func (t *Transmitter) Abort() {
	t.active = false
	t.fifo = t.fifo[:0]
}

func (t *Transmitter) emit(ft proto.FrameType, data []byte) {
	id := proto.FrameID{
		FrameIndex: t.frameIndex,
		DestAddr:   t.destAddr,
		IsEvent:    t.isEvent,
		SrcAddr:    t.srcAddr,
		FrameType:  ft,
	}
	frame := Frame{ID: id, Data: append([]byte{}, data...)}
	t.ring = append(t.ring, frame)
	t.frameIndex = (t.frameIndex + 1) & 0x1F
}

// Pending reports how many fully formed frames are waiting to be sent.
func (t *Transmitter) Pending() int {
	return len(t.ring)
}

// Next pops the oldest queued frame. ok is false when the ring is empty.
func (t *Transmitter) Next() (frame Frame, ok bool) {
	if len(t.ring) == 0 {
		return Frame{}, false
	}
	frame = t.ring[0]
	t.ring = t.ring[1:]
	return frame, true
}

// Flush drains every queued frame to sender in order, stopping at the first
// error. It is the host-facing convenience used by the tick loop to push
// the outbound ring onto the CAN controller's mailboxes.
func (t *Transmitter) Flush(sender proto.CANSender) error {
	for {
		frame, ok := t.Next()
		if !ok {
			return nil
		}
		status, err := sender.SendCAN(frame.ID.Encode(), frame.Data)
		if err != nil {
			return err
		}
		if status != proto.SendOK {
			t.ring = append([]Frame{frame}, t.ring...)
			return nil
		}
	}
}
