package sequencer

// EntryTag is the top 4 bits of a pattern-table entry's first byte,
// selecting its shape, per spec.md §3.
type EntryTag uint8

const (
	TagPatternWithRepeats             EntryTag = 0xA0
	TagStepWithPeriod                 EntryTag = 0xB0
	TagStepWithRepeatsOfNestedPattern EntryTag = 0xC0
	TagStepWithAllOff                 EntryTag = 0xD0
	TagSectionStartWithRepeats        EntryTag = 0xE0
	TagSectionEnd                     EntryTag = 0xF0
)

// PatternSource resolves a pattern enumeration value to its compiled body
// bytes (the entry stream following the magic-key/step-count prologue of
// spec.md §3's pattern table) and its declared step count. Modeled as a
// host capability interface rather than a full patterns.tbl parser in this
// package, since spec.md specifies the file only as bytes the sequencer
// consumes — the prologue scan that splits a patterns.tbl blob into
// per-pattern slices belongs to the fs/loader boundary, not the stepping
// engine (documented as an Open Question decision in DESIGN.md).
type PatternSource interface {
	Pattern(id uint16) (data []byte, stepCount uint16, ok bool)
}

// commonKeyMode is the pattern header's second-byte top-2-bit field, per
// spec.md §3 and the DESIGN.md decision resolving the 0x20/0x40 ambiguity.
type commonKeyMode uint8

const (
	modeMulti            commonKeyMode = 0
	modeStepDictionaryKey commonKeyMode = 1
	modeLedMatrixKey      commonKeyMode = 2
)
