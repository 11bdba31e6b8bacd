package ecconet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecconet-fw/ecconet/fs"
	"github.com/ecconet-fw/ecconet/proto"
	"github.com/ecconet-fw/ecconet/sequencer"
)

// fakeHost is an in-memory Host: flash backed by a byte slice per volume,
// CAN frames captured into sent, and every token delivered to the
// application callback recorded into received. Mirrors fs_test.go's
// fakeFlash wiring one level up.
type fakeHost struct {
	guid [4]uint32
	mem  map[uint16][]byte

	sent     []sentFrame
	received []proto.Token
}

type sentFrame struct {
	id   uint32
	data []byte
}

func newFakeHost(guid [4]uint32, volumeSize uint32) *fakeHost {
	buf := make([]byte, volumeSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &fakeHost{guid: guid, mem: map[uint16][]byte{0: buf}}
}

func (h *fakeHost) GUID() [4]uint32 { return h.guid }

func (h *fakeHost) SendCAN(id uint32, data []byte) (proto.SendStatus, error) {
	h.sent = append(h.sent, sentFrame{id: id, data: append([]byte{}, data...)})
	return proto.SendOK, nil
}

func (h *fakeHost) FlashRead(volume uint16, addr uint32, buf []byte) (proto.FlashStatus, error) {
	vol := h.mem[volume]
	if addr+uint32(len(buf)) > uint32(len(vol)) {
		return proto.FlashError, nil
	}
	copy(buf, vol[addr:])
	return proto.FlashOK, nil
}

func (h *fakeHost) FlashWrite(volume uint16, addr uint32, buf []byte) (proto.FlashStatus, error) {
	vol := h.mem[volume]
	if addr+uint32(len(buf)) > uint32(len(vol)) {
		return proto.FlashError, nil
	}
	copy(vol[addr:], buf)
	return proto.FlashOK, nil
}

func (h *fakeHost) FlashErase(volume uint16, addr uint32, length uint32) (proto.FlashStatus, error) {
	vol := h.mem[volume]
	for i := addr; i < addr+length && i < uint32(len(vol)); i++ {
		vol[i] = 0xFF
	}
	return proto.FlashOK, nil
}

func (h *fakeHost) TokenCallback(tok proto.Token) {
	h.received = append(h.received, tok)
}

func (h *fakeHost) FTPReadHandler(requester uint8, info proto.FileInfo) proto.FTPReadOverride {
	return proto.FTPReadDefault
}

func (h *fakeHost) FileToVolume(name string) uint16 { return 0 }

// decodeSingleFrame splits a frame matching Transmitter's single-frame wire
// layout (stamp || keyHi || keyLo || value) into its key and value,
// assuming the key's region value size.
func decodeSingleFrame(t *testing.T, data []byte) (key proto.TokenKey, value int32) {
	t.Helper()
	require.GreaterOrEqual(t, len(data), 3)
	key = proto.TokenKey(uint16(data[1])<<8 | uint16(data[2]))
	size := proto.KeyValueSize(key)
	v := uint32(0)
	for i := 0; i < int(size); i++ {
		v = v<<8 | uint32(data[3+i])
	}
	if size > 0 && size < 4 {
		signBit := uint32(1) << (size*8 - 1)
		if v&signBit != 0 {
			v |= ^uint32(0) << (size * 8)
		}
	}
	return key, int32(v)
}

var scenarioAGUID = [4]uint32{0xEE4CAD97, 0x331CE9EC, 0x9E957DBC, 0xA4A69FE5}

// TestScenarioAAddressNegotiationCollision drives spec.md §8 Scenario A end
// to end through Core: an empty bus, a collision response forcing a second
// proposal, and an unanswered claim producing an assigned address.
func TestScenarioAAddressNegotiationCollision(t *testing.T) {
	host := newFakeHost(scenarioAGUID, defaultVolume0Size)
	core := New(host, Options{})
	require.NoError(t, core.Reset(0))

	core.Tick(0)
	require.Len(t, host.sent, 1)
	key, firstProposal := decodeSingleFrame(t, host.sent[0].data)
	assert.Equal(t, proto.KeyRequestAddress, key)
	assert.GreaterOrEqual(t, firstProposal, int32(1))
	assert.LessOrEqual(t, firstProposal, int32(120))
	assert.Equal(t, uint8(0), core.Address())

	// A peer reports our candidate is already in use.
	collisionID := proto.FrameID{
		FrameIndex: 0,
		DestAddr:   proto.AddressBroadcast,
		SrcAddr:    50,
		FrameType:  proto.FrameTypeSingle,
	}.Encode()
	collisionBody := []byte{
		0,
		byte(uint16(proto.KeyResponseAddressInUse) >> 8), byte(uint16(proto.KeyResponseAddressInUse)),
		byte(firstProposal),
	}
	core.ReceiveCANFrame(collisionID, collisionBody, 10)
	core.Tick(10)

	require.Len(t, host.sent, 2)
	key, secondProposal := decodeSingleFrame(t, host.sent[1].data)
	assert.Equal(t, proto.KeyRequestAddress, key)
	assert.NotEqual(t, firstProposal, secondProposal)
	assert.Equal(t, uint8(0), core.Address())

	// No further collision: the claim timer has not yet fired.
	core.Tick(109)
	assert.Equal(t, uint8(0), core.Address())

	// Claim timer fires: the proposal is adopted as the working address.
	core.Tick(110)
	require.Len(t, host.sent, 3)
	key, claimed := decodeSingleFrame(t, host.sent[2].data)
	assert.Equal(t, proto.KeyResponseAddressInUse, key)
	assert.Equal(t, secondProposal, claimed)
	assert.Equal(t, uint8(claimed), core.Address())
}

// TestScenarioDSequencerPatternStart drives spec.md §8 Scenario D: a
// two-step, 500ms-per-step pattern delivers its first step's token within
// the tick that starts it, and its second step's token 500ms later.
//
// The common-key sink packs the sequencer's intensity into bits 16..22 of
// the emitted value per spec.md §4.6 ("packs intensity into bits 16..22"),
// so the asserted values below are masked to the low 16 bits rather than
// compared against the raw payload byte.
func TestScenarioDSequencerPatternStart(t *testing.T) {
	outputKey := proto.NewTokenKey(proto.PrefixOutputStatus, 500)

	const patternID = 7
	patternBody := []byte{
		byte(sequencer.TagPatternWithRepeats) | 1, // one full pass
		0x40,                                      // common-key mode (dictionary key)
		byte(uint16(outputKey) >> 8), byte(uint16(outputKey)),
		byte(sequencer.TagStepWithPeriod), 0x01, 0xF4, 1, 100, // step 1: 500ms, value 100
		byte(sequencer.TagStepWithPeriod), 0x01, 0xF4, 1, 0, // step 2: 500ms, value 0
	}
	table := []byte{0, patternID, 0, 2, byte(len(patternBody) >> 8), byte(len(patternBody))}
	table = append(table, patternBody...)

	host := newFakeHost([4]uint32{1, 2, 3, 4}, defaultVolume0Size)
	fsys, err := fs.Mount(host, 0, defaultVolume0Size)
	require.NoError(t, err)
	require.NoError(t, fsys.Write("patterns.tbl", table, 0))

	core := New(host, Options{StaticAddress: 10})
	require.NoError(t, core.Reset(0))

	core.TokenIn(proto.Token{
		Address: proto.VirtualSequencerBase,
		Key:     proto.KeyTokenSequencerPattern,
		Value:   patternID,
	})
	core.Tick(0)

	require.NotEmpty(t, host.received)
	first := host.received[len(host.received)-1]
	assert.Equal(t, outputKey, first.Key)
	assert.Equal(t, int32(100), first.Value&0xFFFF)
	assert.False(t, first.Flags.Has(proto.FlagDefaultState))

	core.Tick(500)
	require.NotEmpty(t, host.received)
	second := host.received[len(host.received)-1]
	assert.Equal(t, outputKey, second.Key)
	assert.Equal(t, int32(0), second.Value&0xFFFF)
}

// TestTokenInTransmitsInputEventThreeTimes drives spec.md §4.2's event
// mechanism end to end: a locally injected InputStatus token must reach the
// bus three times, each frame carrying the same freshly advanced event
// index and the frame id's isEvent bit set.
func TestTokenInTransmitsInputEventThreeTimes(t *testing.T) {
	host := newFakeHost([4]uint32{5, 6, 7, 8}, defaultVolume0Size)
	core := New(host, Options{StaticAddress: 42})
	require.NoError(t, core.Reset(0))

	inputKey := proto.NewTokenKey(proto.PrefixInputStatus, 10)
	before := core.EventIndex()

	core.TokenIn(proto.Token{Address: 42, Key: inputKey, Value: 1})
	// TokenIn only queues the frames; the next Tick flushes them.
	core.Tick(0)

	require.Len(t, host.sent, 3)
	assert.NotEqual(t, before, core.EventIndex())
	for _, frame := range host.sent {
		id := proto.DecodeFrameID(frame.id)
		assert.True(t, id.IsEvent)
		assert.Equal(t, core.EventIndex(), frame.data[0])
		key, value := decodeSingleFrame(t, frame.data)
		assert.Equal(t, inputKey, key)
		assert.Equal(t, int32(1), value)
	}
}
