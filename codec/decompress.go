package codec

import (
	"errors"

	"github.com/ecconet-fw/ecconet/proto"
)

// ErrUnderrun is returned when the decode stream pointer would read past
// the end of the supplied bytes. Per spec.md §4.5, any output already
// delivered to the sink before the underrun is retained.
var ErrUnderrun = errors.New("codec: underrun")

// Sink receives each token decoded from a compressed stream.
type Sink func(proto.Token)

// Decompress decodes a byte stream produced by Compress (or an equivalent
// encoder), delivering each token to sink with Address set to sender.
func Decompress(data []byte, sender uint8, sink Sink) error {
	r := &reader{buf: data}

	for r.pos < len(r.buf) {
		prefixByte, ok := r.readByte()
		if !ok {
			return ErrUnderrun
		}

		switch proto.Prefix(prefixByte & 0xE0) {
		case proto.PrefixBinaryRepeat:
			if err := decodeBinaryRun(r, prefixByte, sender, sink); err != nil {
				return err
			}
		case proto.PrefixAnalogRepeat:
			if err := decodeAnalogRun(r, prefixByte, sender, sink); err != nil {
				return err
			}
		default:
			if err := decodeSingle(r, prefixByte, sender, sink); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeBinaryRun(r *reader, prefixByte byte, sender uint8, sink Sink) error {
	runLen := int(prefixByte&0x1F) + 1

	key, ok := r.readKey()
	if !ok {
		return ErrUnderrun
	}
	size := proto.KeyValueSize(key)

	commonValue, ok := r.readValue(size)
	if !ok {
		return ErrUnderrun
	}

	bitmapLen := (runLen + 7) / 8
	bitmap, ok := r.readBytes(bitmapLen)
	if !ok {
		return ErrUnderrun
	}

	for i := 0; i < runLen; i++ {
		value := int32(0)
		if bitmap[i/8]>>uint(i%8)&1 != 0 {
			value = commonValue
		}
		sink(proto.Token{Address: sender, Key: key.Add(uint16(i)), Value: value})
	}
	return nil
}

func decodeAnalogRun(r *reader, prefixByte byte, sender uint8, sink Sink) error {
	runLen := int(prefixByte&0x1F) + 1

	key, ok := r.readKey()
	if !ok {
		return ErrUnderrun
	}
	size := proto.KeyValueSize(key)

	for i := 0; i < runLen; i++ {
		value, ok := r.readValue(size)
		if !ok {
			return ErrUnderrun
		}
		sink(proto.Token{Address: sender, Key: key.Add(uint16(i)), Value: value})
	}
	return nil
}

func decodeSingle(r *reader, firstByte byte, sender uint8, sink Sink) error {
	secondByte, ok := r.readByte()
	if !ok {
		return ErrUnderrun
	}
	key := proto.TokenKey(uint16(firstByte)<<8 | uint16(secondByte))
	size := proto.KeyValueSize(key)

	if size == 0 {
		sink(proto.Token{Address: sender, Key: key})
		return nil
	}

	value, ok := r.readValue(size)
	if !ok {
		return ErrUnderrun
	}
	sink(proto.Token{Address: sender, Key: key, Value: value})
	return nil
}

// reader is a small bounds-checked cursor over a decode buffer.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) readByte() (byte, bool) {
	if r.pos >= len(r.buf) {
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

func (r *reader) readBytes(n int) ([]byte, bool) {
	if r.pos+n > len(r.buf) {
		return nil, false
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, true
}

func (r *reader) readKey() (proto.TokenKey, bool) {
	b, ok := r.readBytes(2)
	if !ok {
		return 0, false
	}
	return proto.TokenKey(uint16(b[0])<<8 | uint16(b[1])), true
}

// readValue reads size bytes big-endian and sign-extends to int32.
func (r *reader) readValue(size uint8) (int32, bool) {
	if size == 0 {
		return 0, true
	}
	b, ok := r.readBytes(int(size))
	if !ok {
		return 0, false
	}

	var u uint32
	for _, byt := range b {
		u = u<<8 | uint32(byt)
	}

	signBit := uint32(1) << (size*8 - 1)
	if u&signBit != 0 {
		u |= ^uint32(0) << (size * 8)
	}
	return int32(u), true
}
