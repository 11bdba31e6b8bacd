package proto

// Addresses, per spec.md §3.
const (
	AddressBroadcast = 0
	AddressMin       = 1
	AddressMax       = 120
	AddressReservedLow = 121
	AddressReservedHigh = 127

	// MatrixVehicleBusAddress is the reserved address whose traffic is
	// specially event-flagged for reasons spec.md §9 leaves undocumented;
	// this implementation does not special-case it (see DESIGN.md).
	MatrixVehicleBusAddress = 121

	// VirtualRuleEngine is the intra-node virtual address of the rule
	// engine.
	VirtualRuleEngine = 132
	// VirtualSequencerBase is the intra-node virtual address of
	// sequencer 0; sequencers 0..5 occupy VirtualSequencerBase..+5.
	VirtualSequencerBase = 133
	// NumSequencers is the minimum sequencer count required by spec.md §4.6.
	NumSequencers = 6
)

// IsValidWorkingAddress reports whether addr is a valid working address
// (self-assigned or static), excluding broadcast and reserved addresses.
func IsValidWorkingAddress(addr uint8) bool {
	return addr >= AddressMin && addr <= AddressMax
}

// Named command keys used by the address negotiation protocol (spec.md
// §4.1). These live in the "named 1-byte" region (1000..4999).
const (
	bodyKeyRequestAddress      = 1000
	bodyKeyResponseAddressInUse = 1001
)

var (
	// KeyRequestAddress carries a candidate address as its value.
	KeyRequestAddress = NewTokenKey(PrefixCommand, bodyKeyRequestAddress)
	// KeyResponseAddressInUse carries the defended/adopted address.
	KeyResponseAddressInUse = NewTokenKey(PrefixCommand, bodyKeyResponseAddressInUse)
)

// IsAddressNegotiationKey reports whether key is one of the address
// negotiation keys, which are stamped with event index 0 rather than the
// live event index, per spec.md §4.4.
func IsAddressNegotiationKey(key TokenKey) bool {
	return key == KeyRequestAddress || key == KeyResponseAddressInUse
}

// IsEventKey reports whether key is an InputStatus or OutputStatus key:
// per spec.md §4.4, start(destAddr, key) sets isEvent iff this holds, which
// in turn causes the event index to advance and the message to be
// transmitted three times (spec.md §4.2).
func IsEventKey(key TokenKey) bool {
	switch key.Prefix() {
	case PrefixInputStatus, PrefixOutputStatus:
		return true
	default:
		return false
	}
}

// Sequencer command keys (spec.md §4.6), in the "named 2-byte" region
// (single, address-targeted form; the sync range, whose value packs bottom
// and top into 32 bits, sits in the "named 4-byte" region) and the
// "indexed 3-byte sequencer" region 8150..8159 (key-targeted form:
// body-8150 selects the sequencer).
const (
	bodyTokenSequencerPattern   = 5000
	bodyTokenSequencerSync      = 5001
	bodyTokenSequencerSyncRange = 7000
	bodyTokenSequencerIntensity = 5003
	bodyPatternStop             = 5004

	IndexedSequencerBase             = 8150
	IndexedTokenSequencerPatternBase = 8156
)

var (
	// KeyTokenSequencerPattern starts a pattern on the sequencer reached
	// via the token's Address (a virtual sequencer address).
	KeyTokenSequencerPattern = NewTokenKey(PrefixCommand, bodyTokenSequencerPattern)
	// KeyTokenSequencerSync is a peer's pattern position broadcast.
	KeyTokenSequencerSync = NewTokenKey(PrefixCommand, bodyTokenSequencerSync)
	// KeyTokenSequencerSyncRange sets a sequencer's [bottom, top] sync window.
	KeyTokenSequencerSyncRange = NewTokenKey(PrefixCommand, bodyTokenSequencerSyncRange)
	// KeyTokenSequencerIntensity sets a sequencer's output intensity.
	KeyTokenSequencerIntensity = NewTokenKey(PrefixCommand, bodyTokenSequencerIntensity)
	// KeyPatternStop pops a sequencer's whole pattern stack.
	KeyPatternStop = NewTokenKey(PrefixCommand, bodyPatternStop)
)

// KeyIndexedSequencer returns the key-targeted pattern-start key for
// sequencer index i (0..5): body IndexedSequencerBase+i, in the
// "indexed 3-byte sequencer" region.
func KeyIndexedSequencer(i uint8) TokenKey {
	return NewTokenKey(PrefixCommand, IndexedSequencerBase+uint16(i))
}

// KeyIndexedTokenSequencerWithPattern is a second key-targeted addressing
// convenience sharing the same indexed region's remaining slots.
func KeyIndexedTokenSequencerWithPattern(i uint8) TokenKey {
	return NewTokenKey(PrefixCommand, IndexedTokenSequencerPatternBase+uint16(i))
}

// FTP request keys, region 8160..8169 (spec.md §3).
const (
	bodyFTPReqFileInfo             = 8160
	bodyFTPReqFileReadStart        = 8161
	bodyFTPReqFileReadSegment      = 8162
	bodyFTPReqFileWriteStart       = 8163
	bodyFTPReqFileWriteSegment     = 8164
	bodyFTPReqFileDelete           = 8165
	bodyFTPReqFileTransferComplete = 8166
)

var (
	KeyRequestFileInfo             = NewTokenKey(PrefixCommand, bodyFTPReqFileInfo)
	KeyRequestFileReadStart        = NewTokenKey(PrefixCommand, bodyFTPReqFileReadStart)
	KeyRequestFileReadSegment      = NewTokenKey(PrefixCommand, bodyFTPReqFileReadSegment)
	KeyRequestFileWriteStart       = NewTokenKey(PrefixCommand, bodyFTPReqFileWriteStart)
	KeyRequestFileWriteSegment     = NewTokenKey(PrefixCommand, bodyFTPReqFileWriteSegment)
	KeyRequestFileDelete           = NewTokenKey(PrefixCommand, bodyFTPReqFileDelete)
	KeyRequestFileTransferComplete = NewTokenKey(PrefixCommand, bodyFTPReqFileTransferComplete)
)

// FTP response keys, region 8170..8191 (spec.md §3).
const (
	bodyFTPRespFileInfo              = 8170
	bodyFTPRespFileReadStart         = 8171
	bodyFTPRespFileReadSegment       = 8172
	bodyFTPRespFileWriteStart        = 8173
	bodyFTPRespFileWriteSegmentAck   = 8174
	bodyFTPRespFileDeleted           = 8175
	bodyFTPRespFtpClientError        = 8176
	bodyFTPRespFileReadComplete      = 8177
	bodyFTPRespFileWriteComplete     = 8178
	bodyFTPRespFtpTransactionTimedOut = 8179
	bodyFTPRespFileChecksumError     = 8180
)

var (
	KeyResponseFileInfo               = NewTokenKey(PrefixCommand, bodyFTPRespFileInfo)
	KeyResponseFileReadStart          = NewTokenKey(PrefixCommand, bodyFTPRespFileReadStart)
	KeyResponseFileReadSegment        = NewTokenKey(PrefixCommand, bodyFTPRespFileReadSegment)
	KeyResponseFileWriteStart         = NewTokenKey(PrefixCommand, bodyFTPRespFileWriteStart)
	KeyResponseFileWriteSegmentAck    = NewTokenKey(PrefixCommand, bodyFTPRespFileWriteSegmentAck)
	KeyResponseFileDeleted            = NewTokenKey(PrefixCommand, bodyFTPRespFileDeleted)
	KeyResponseFtpClientError         = NewTokenKey(PrefixCommand, bodyFTPRespFtpClientError)
	KeyResponseFileReadComplete       = NewTokenKey(PrefixCommand, bodyFTPRespFileReadComplete)
	KeyResponseFileWriteComplete      = NewTokenKey(PrefixCommand, bodyFTPRespFileWriteComplete)
	KeyResponseFtpTransactionTimedOut = NewTokenKey(PrefixCommand, bodyFTPRespFtpTransactionTimedOut)
	KeyResponseFileChecksumError      = NewTokenKey(PrefixCommand, bodyFTPRespFileChecksumError)
)
