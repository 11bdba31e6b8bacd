// Package ruleengine is the minimal concrete form of the contract-only
// collaborator spec.md §4.8 and §4.6 name ("rule engine's exposed tokens",
// "rule engine outputs"): a table of {key, value, shouldBroadcast} rows
// observing InputStatus/OutputStatus tokens the Router feeds it and
// exposing the broadcast-flagged subset to the Orchestrator. The bytecode
// expression evaluator itself is out of scope per spec.md §1.
package ruleengine

import (
	"encoding/binary"
	"errors"

	"github.com/ecconet-fw/ecconet/proto"
)

// ErrMalformedHeader is returned by LoadHeader when equation.btc's
// token-exposure header is truncated or inconsistent.
var ErrMalformedHeader = errors.New("ruleengine: malformed token-exposure header")

// Row is one tracked token: its last-observed value and whether the
// Orchestrator should periodically broadcast it.
type Row struct {
	Key             proto.TokenKey
	Value           int32
	ShouldBroadcast bool
}

const rowSize = 2 + 4 + 1 // key(u16) + value(i32) + flags(u8)

const flagShouldBroadcast = 1 << 0

// LoadHeader parses equation.btc's token-exposure header: a u16 row count
// followed by that many {key u16, value i32, flags u8} records. The
// bytecode body that follows the header is opaque to this package, per
// spec.md §1. This layout is this implementation's own choice — spec.md
// never fixes equation.btc's byte format — documented as an Open Question
// decision in DESIGN.md.
func LoadHeader(data []byte) ([]Row, error) {
	if len(data) < 2 {
		return nil, ErrMalformedHeader
	}
	count := binary.BigEndian.Uint16(data[0:2])
	want := 2 + int(count)*rowSize
	if len(data) < want {
		return nil, ErrMalformedHeader
	}

	rows := make([]Row, count)
	off := 2
	for i := range rows {
		key := proto.TokenKey(binary.BigEndian.Uint16(data[off : off+2]))
		value := int32(binary.BigEndian.Uint32(data[off+2 : off+6]))
		flags := data[off+6]
		rows[i] = Row{Key: key, Value: value, ShouldBroadcast: flags&flagShouldBroadcast != 0}
		off += rowSize
	}
	return rows, nil
}

// Engine tracks a fixed set of rows, updating their values as matching
// tokens are observed and exposing the broadcast-flagged subset.
type Engine struct {
	rows  []Row
	byKey map[proto.TokenKey]int
}

// New constructs an Engine from rows (typically produced by LoadHeader).
func New(rows []Row) *Engine {
	e := &Engine{rows: append([]Row{}, rows...), byKey: make(map[proto.TokenKey]int, len(rows))}
	for i, r := range rows {
		e.byKey[r.Key] = i
	}
	return e
}

// Observe updates a tracked row's value from an InputStatus/OutputStatus
// token the Router has dispatched here, per spec.md §4.8. Tokens for keys
// outside the table, or carrying any other prefix, are ignored.
func (e *Engine) Observe(tok proto.Token) {
	if tok.Key.Prefix() != proto.PrefixInputStatus && tok.Key.Prefix() != proto.PrefixOutputStatus {
		return
	}
	if i, ok := e.byKey[tok.Key]; ok {
		e.rows[i].Value = tok.Value
	}
}

// Exposed returns the current value of every broadcast-flagged row, each
// stamped with FlagShouldBroadcast, for the Orchestrator's periodic
// broadcast per spec.md §4.8.
func (e *Engine) Exposed() []proto.Token {
	var out []proto.Token
	for _, r := range e.rows {
		if !r.ShouldBroadcast {
			continue
		}
		out = append(out, proto.Token{Key: r.Key, Value: r.Value, Flags: proto.FlagShouldBroadcast})
	}
	return out
}

// HasBroadcastTokens reports whether any row is broadcast-flagged, letting
// the Orchestrator skip compressing an empty table.
func (e *Engine) HasBroadcastTokens() bool {
	for _, r := range e.rows {
		if r.ShouldBroadcast {
			return true
		}
	}
	return false
}
