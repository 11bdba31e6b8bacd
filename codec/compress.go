// Package codec implements ECCONet's token compression codec: a run-length
// scheme with binary and analog prefixes over a sorted sequence of tokens,
// per spec.md §4.5. It is modeled the same way the teacher splits encode
// and decode concerns across Payloader and Depacketizer (rtp/payloads.go,
// rtp/depacketizer.go): a pure encode function here, and a sink-driven
// decode function in decompress.go.
package codec

import "github.com/ecconet-fw/ecconet/proto"

const maxRunLookahead = 32

// Compress encodes tokens into a byte stream using SINGLE / BinaryRepeat /
// AnalogRepeat prefixes. tokens must already be sorted ascending by key;
// tokens not flagged ShouldBroadcast are skipped.
func Compress(tokens []proto.Token) []byte {
	broadcast := make([]proto.Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Flags.Has(proto.FlagShouldBroadcast) {
			broadcast = append(broadcast, tok)
		}
	}

	var out []byte
	for i := 0; i < len(broadcast); {
		out, i = compressOne(out, broadcast, i)
	}
	return out
}

// compressOne emits the encoding for the run starting at broadcast[i] and
// returns the updated buffer and the index of the next unconsumed token.
func compressOne(out []byte, broadcast []proto.Token, i int) ([]byte, int) {
	tok := broadcast[i]
	size := proto.KeyValueSize(tok.Key)

	if size == 0 {
		return appendKey(out, tok.Key), i + 1
	}

	runLen := contiguousRunLength(broadcast, i, size)
	if runLen == 1 {
		out = appendKey(out, tok.Key)
		out = appendValue(out, tok.Value, size)
		return out, i + 1
	}

	numBinary, commonValue := binaryPrefixLength(broadcast, i, runLen)
	if numBinary >= 1 && numBinary < maxRunLookahead {
		return encodeBinaryRun(out, broadcast, i, numBinary, size, commonValue), i + numBinary
	}

	return encodeAnalogRun(out, broadcast, i, runLen, size), i + runLen
}

// contiguousRunLength returns the length (capped at maxRunLookahead) of the
// run of tokens starting at i that share size and have strictly
// consecutive keys.
func contiguousRunLength(broadcast []proto.Token, i int, size uint8) int {
	base := broadcast[i].Key
	n := 1
	for n < maxRunLookahead && i+n < len(broadcast) {
		next := broadcast[i+n]
		if proto.KeyValueSize(next.Key) != size || next.Key != base.Add(uint16(n)) {
			break
		}
		n++
	}
	return n
}

// binaryPrefixLength scans the leading elements of the run for the longest
// prefix where every value is zero or equal to the run's first non-zero
// value, per spec.md §4.5 step 3.
func binaryPrefixLength(broadcast []proto.Token, i, runLen int) (int, int32) {
	var common int32
	for k := 0; k < runLen; k++ {
		if v := broadcast[i+k].Value; v != 0 {
			common = v
			break
		}
	}

	n := 0
	for n < runLen {
		v := broadcast[i+n].Value
		if v != 0 && v != common {
			break
		}
		n++
	}
	return n, common
}

func encodeBinaryRun(out []byte, broadcast []proto.Token, i, numBinary int, size uint8, commonValue int32) []byte {
	base := broadcast[i].Key
	out = append(out, byte(proto.PrefixBinaryRepeat)|byte(numBinary-1))
	out = appendKey(out, base)
	out = appendValue(out, commonValue, size)

	bitmapLen := (numBinary + 7) / 8
	bitmap := make([]byte, bitmapLen)
	for k := 0; k < numBinary; k++ {
		if broadcast[i+k].Value != 0 {
			bitmap[k/8] |= 1 << uint(k%8)
		}
	}
	return append(out, bitmap...)
}

func encodeAnalogRun(out []byte, broadcast []proto.Token, i, runLen int, size uint8) []byte {
	base := broadcast[i].Key
	out = append(out, byte(proto.PrefixAnalogRepeat)|byte(runLen-1))
	out = appendKey(out, base)
	for k := 0; k < runLen; k++ {
		out = appendValue(out, broadcast[i+k].Value, size)
	}
	return out
}

func appendKey(out []byte, key proto.TokenKey) []byte {
	return append(out, byte(uint16(key)>>8), byte(uint16(key)))
}

// appendValue appends the low `size` bytes of value, big-endian.
func appendValue(out []byte, value int32, size uint8) []byte {
	for shift := int(size) - 1; shift >= 0; shift-- {
		out = append(out, byte(uint32(value)>>uint(shift*8)))
	}
	return out
}
