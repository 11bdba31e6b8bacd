package ecconet

import (
	"encoding/binary"
	"errors"

	"github.com/ecconet-fw/ecconet/sequencer"
)

// ErrMalformedPatternTable is returned by loadPatternTable when
// patterns.tbl is truncated or internally inconsistent.
var ErrMalformedPatternTable = errors.New("ecconet: malformed pattern table")

type patternEntry struct {
	data      []byte
	stepCount uint16
}

// patternTable implements sequencer.PatternSource over patterns.tbl's
// contents: a prologue listing each pattern's id, declared step count, and
// body length, ahead of the body bytes themselves. This split (prologue
// scan here, step-tag stream interpreted by sequencer.Controller) is this
// implementation's own choice — spec.md names patterns.tbl only as bytes
// the sequencer consumes — recorded as an Open Question decision in
// DESIGN.md.
type patternTable struct {
	byID map[uint16]patternEntry
}

var _ sequencer.PatternSource = (*patternTable)(nil)

// loadPatternTable parses a patterns.tbl blob: repeated
// {id u16, stepCount u16, bodyLen u16, body[bodyLen]} records until the
// bytes are exhausted.
func loadPatternTable(data []byte) (*patternTable, error) {
	t := &patternTable{byID: make(map[uint16]patternEntry)}
	off := 0
	for off < len(data) {
		if off+6 > len(data) {
			return nil, ErrMalformedPatternTable
		}
		id := binary.BigEndian.Uint16(data[off : off+2])
		stepCount := binary.BigEndian.Uint16(data[off+2 : off+4])
		bodyLen := int(binary.BigEndian.Uint16(data[off+4 : off+6]))
		off += 6
		if off+bodyLen > len(data) {
			return nil, ErrMalformedPatternTable
		}
		t.byID[id] = patternEntry{data: data[off : off+bodyLen], stepCount: stepCount}
		off += bodyLen
	}
	return t, nil
}

// Pattern implements sequencer.PatternSource.
func (t *patternTable) Pattern(id uint16) ([]byte, uint16, bool) {
	e, ok := t.byID[id]
	if !ok {
		return nil, 0, false
	}
	return e.data, e.stepCount, true
}
