package proto

// region describes a contiguous, inclusive range of key bodies sharing a
// value size, per spec.md §3's fixed region table.
type region struct {
	low, high uint16
	size      uint8
}

// regionTable is ordered low-to-high and must not overlap.
//
// The four 1/2/4/0-byte sub-bands of the 1..199 local-variable region are
// not subdivided by spec.md; this implementation splits the band into four
// equal-ish quarters in size order 1,2,4,0 (documented as an Open Question
// decision in DESIGN.md). FTP request/response bodies are sized at the
// Token value's full 4 bytes since individual FTP message fields are
// interpreted by the ftp package itself, not by the codec's run-length
// compression.
var regionTable = []region{
	{1, 50, 1},      // local variables, 1-byte
	{51, 100, 2},     // local variables, 2-byte
	{101, 150, 4},    // local variables, 4-byte
	{151, 199, 0},    // local variables, 0-byte (flags)
	{200, 499, 1},    // indexed inputs
	{500, 999, 1},    // indexed outputs
	{1000, 4999, 1},  // named, 1-byte
	{5000, 6999, 2},  // named, 2-byte
	{7000, 7999, 4},  // named, 4-byte
	{8000, 8149, 0},  // named, 0-byte
	{8150, 8159, 3},  // indexed sequencer
	{8160, 8169, 4},  // FTP request
	{8170, 8191, 4},  // FTP response
}

// ValueSize returns the wire value size in bytes (0..4) for a
// prefix-stripped key body, per the region table of spec.md §3. Bodies
// outside every known region resolve to the maximal 4-byte size so that an
// unrecognized key is never silently truncated.
func ValueSize(body uint16) uint8 {
	for _, r := range regionTable {
		if body >= r.low && body <= r.high {
			return r.size
		}
	}
	return 4
}

// KeyValueSize is a convenience wrapper returning ValueSize(key.Body()).
func KeyValueSize(key TokenKey) uint8 {
	return ValueSize(key.Body())
}

// IsFTPRequest reports whether body falls in the FTP request region.
func IsFTPRequest(body uint16) bool { return body >= 8160 && body <= 8169 }

// IsFTPResponse reports whether body falls in the FTP response region.
func IsFTPResponse(body uint16) bool { return body >= 8170 && body <= 8191 }
