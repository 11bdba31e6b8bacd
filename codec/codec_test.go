package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecconet-fw/ecconet/proto"
)

func broadcastToken(key uint16, value int32) proto.Token {
	return proto.Token{
		Key:   proto.TokenKey(key),
		Value: value,
		Flags: proto.FlagShouldBroadcast,
	}
}

// TestCompressBinaryRunScenarioC reproduces spec.md §8 scenario C exactly.
func TestCompressBinaryRunScenarioC(t *testing.T) {
	tokens := []proto.Token{
		broadcastToken(1000, 0),
		broadcastToken(1001, 0),
		broadcastToken(1002, 50),
		broadcastToken(1003, 0),
		broadcastToken(1004, 50),
	}

	out := Compress(tokens)
	want := []byte{0x64, 0x03, 0xE8, 0x32, 0b00010100}
	assert.Equal(t, want, out)
}

// TestCodecRoundTrip exercises Testable Property 4.
func TestCodecRoundTrip(t *testing.T) {
	tokens := []proto.Token{
		broadcastToken(1000, 0),
		broadcastToken(1001, 0),
		broadcastToken(1002, 50),
		broadcastToken(1003, 0),
		broadcastToken(1004, 50),
		broadcastToken(1010, 7),
		broadcastToken(5000, 1234),
		broadcastToken(5001, -1),
		broadcastToken(8000, 0),
		broadcastToken(7000, -1000000),
	}

	out := Compress(tokens)

	var got []proto.Token
	err := Decompress(out, 42, func(tok proto.Token) { got = append(got, tok) })
	require.NoError(t, err)

	require.Len(t, got, len(tokens))
	for i, tok := range tokens {
		assert.Equal(t, tok.Key, got[i].Key, "index %d", i)
		assert.Equal(t, tok.Value, got[i].Value, "index %d", i)
		assert.Equal(t, uint8(42), got[i].Address)
	}
}

func TestDecompressUnderrunOnMissingBitmap(t *testing.T) {
	// A binary run claiming 5 entries but missing its bitmap byte.
	data := []byte{0x64, 0x03, 0xE8, 0x32}

	var got []proto.Token
	err := Decompress(data, 1, func(tok proto.Token) { got = append(got, tok) })
	assert.ErrorIs(t, err, ErrUnderrun)
	assert.Empty(t, got)
}

func TestDecompressPartialOutputBeforeUnderrun(t *testing.T) {
	binaryRun := Compress([]proto.Token{
		broadcastToken(1000, 0),
		broadcastToken(1001, 0),
		broadcastToken(1002, 50),
	})
	truncated := append(binaryRun, []byte{0x20, 0x01}...)[:len(binaryRun)+1]

	var got []proto.Token
	err := Decompress(truncated, 1, func(tok proto.Token) { got = append(got, tok) })
	assert.ErrorIs(t, err, ErrUnderrun)
	assert.Len(t, got, 3)
}

func TestCompressZeroValueSizeEmitsBareKey(t *testing.T) {
	out := Compress([]proto.Token{broadcastToken(8000, 0)})
	assert.Equal(t, []byte{0x1F, 0x40}, out)
}

func TestCompressIgnoresNonBroadcastTokens(t *testing.T) {
	tokens := []proto.Token{
		{Key: proto.TokenKey(1000), Value: 1},
		broadcastToken(1001, 2),
	}
	out := Compress(tokens)

	var got []proto.Token
	require.NoError(t, Decompress(out, 0, func(tok proto.Token) { got = append(got, tok) }))
	require.Len(t, got, 1)
	assert.Equal(t, proto.TokenKey(1001), got[0].Key)
}
