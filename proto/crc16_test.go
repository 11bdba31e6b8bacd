package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16Empty(t *testing.T) {
	assert.Equal(t, uint16(0), CRC16(nil))
	assert.Equal(t, uint16(0), CRC16([]byte{}))
}

func TestCRC16Incremental(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	whole := CRC16(data)

	var acc uint16
	for _, b := range data {
		acc = UpdateCRC16(acc, []byte{b})
	}
	assert.Equal(t, whole, acc)
}

func TestValidCRC16(t *testing.T) {
	body := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	crc := CRC16(body)
	msg := append(append([]byte{}, body...), byte(crc>>8), byte(crc))
	assert.True(t, ValidCRC16(msg))

	msg[0] ^= 0x01
	assert.False(t, ValidCRC16(msg))
}

func TestValidCRC16TooShort(t *testing.T) {
	assert.False(t, ValidCRC16([]byte{0x01}))
}
