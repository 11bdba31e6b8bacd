// Package address implements ECCONet's distributed self-assigning address
// protocol: a GUID-derived candidate search, broadcast probing, and
// defended-collision restart, per spec.md §4.1. Modeled as a small closed
// state machine the way the teacher models its frame-type enums: named
// states, exhaustive switch, no implicit "in-between" state.
package address

import "github.com/ecconet-fw/ecconet/proto"

const (
	claimTimeoutMS = 100
	seedRotation   = 0x64
)

// State is the allocator's closed state set, per spec.md §4.1.
type State uint8

const (
	Unassigned State = iota
	Proposing
	Assigned
)

// Sender is the allocator's narrow view of the transmitter: it only ever
// needs to broadcast a single-token message.
type Sender interface {
	SendToken(destAddr uint8, key proto.TokenKey, value int32)
}

// Allocator derives and defends a working address for the node.
type Allocator struct {
	guid   [4]uint32
	static bool

	state   State
	address uint8

	xorIndex      uint8
	addressOffset uint8
	candidate     uint8

	claimDeadline uint32
}

// New constructs an Allocator for the given device identity. If static is
// true and addr is a valid working address, the allocator starts Assigned
// and never re-enters self-assignment.
func New(guid [4]uint32, static bool, addr uint8) *Allocator {
	a := &Allocator{guid: guid, static: static}
	if static && proto.IsValidWorkingAddress(addr) {
		a.address = addr
		a.state = Assigned
	}
	return a
}

// State reports the allocator's current state.
func (a *Allocator) State() State { return a.state }

// Address returns the current working address; 0 while Unassigned or
// Proposing.
func (a *Allocator) Address() uint8 {
	if a.state == Assigned {
		return a.address
	}
	return 0
}

// rotateRight7 rotates v (treated as a 7-bit value) right by n bits within
// the 7-bit field, per spec.md §4.1's rotate_right_in_7_bits.
func rotateRight7(v uint8, n uint8) uint8 {
	n %= 7
	vv := uint32(v & 0x7F)
	if n == 0 {
		return uint8(vv)
	}
	return uint8((vv>>n | vv<<(7-n)) & 0x7F)
}

// guidBytes decomposes the 128-bit GUID into its 16 constituent bytes. Byte
// order within each word does not affect the candidate search: every byte
// contributes to a plain sum, which is order-independent.
func guidBytes(guid [4]uint32) [16]byte {
	var b [16]byte
	for i, w := range guid {
		b[i*4+0] = byte(w >> 24)
		b[i*4+1] = byte(w >> 16)
		b[i*4+2] = byte(w >> 8)
		b[i*4+3] = byte(w)
	}
	return b
}

// nextCandidate advances (xorIndex, addressOffset) to the next retry point
// and returns the resulting 7-bit address, guaranteed in 1..120, per
// spec.md §4.1 and Testable Property 6.
func (a *Allocator) nextCandidate() uint8 {
	bytes := guidBytes(a.guid)
	for {
		xorValue := rotateRight7(seedRotation, a.xorIndex)
		var sum uint8
		for _, b := range bytes {
			sum += b ^ xorValue
		}
		candidate := (sum + a.addressOffset) & 0x7F

		a.xorIndex++
		if a.xorIndex == 7 {
			a.xorIndex = 0
			a.addressOffset++
		}

		if candidate != 0 && candidate <= proto.AddressMax {
			return candidate
		}
	}
}

// Tick drives the allocator's proposal/claim timer. It must be called every
// tick regardless of state.
func (a *Allocator) Tick(nowMS uint32, sender Sender) {
	switch a.state {
	case Unassigned:
		if a.static {
			return
		}
		a.candidate = a.nextCandidate()
		sender.SendToken(proto.AddressBroadcast, proto.KeyRequestAddress, int32(a.candidate))
		a.claimDeadline = nowMS + claimTimeoutMS
		a.state = Proposing
	case Proposing:
		if proto.DeadlineExpired(nowMS, a.claimDeadline) {
			a.address = a.candidate
			sender.SendToken(proto.AddressBroadcast, proto.KeyResponseAddressInUse, int32(a.address))
			a.state = Assigned
		}
	case Assigned:
	}
}

// HandleToken processes a decoded token that may bear on address
// negotiation, per spec.md §4.1. Every decoded token, not just these two
// keys, should also be run through ObserveSender.
func (a *Allocator) HandleToken(tok proto.Token, sender Sender) {
	switch tok.Key {
	case proto.KeyRequestAddress:
		if a.state == Assigned && uint8(tok.Value) == a.address {
			sender.SendToken(proto.AddressBroadcast, proto.KeyResponseAddressInUse, int32(a.address))
		}
	case proto.KeyResponseAddressInUse:
		switch {
		case a.state == Proposing && uint8(tok.Value) == a.candidate:
			a.restart()
		case a.state == Assigned && !a.static && uint8(tok.Value) == a.address:
			a.restart()
		}
	}
}

// ObserveSender resets the allocator if src is our own working, non-static
// address — some other node is transmitting with our identity, per
// spec.md §4.1.
func (a *Allocator) ObserveSender(src uint8) {
	if a.state == Assigned && !a.static && src == a.address {
		a.restart()
	}
}

func (a *Allocator) restart() {
	a.state = Unassigned
	a.address = 0
}
