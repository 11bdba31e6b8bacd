package ecconet

import (
	"log/slog"

	"github.com/ecconet-fw/ecconet/receiver"
)

// Options configures a Core at construction, following the teacher's
// constructor-parameter style (NewInterleavedPacketizer's explicit
// mtu/pt/ssrc/payloader/sequencer/clockRate list) rather than a file-based
// configuration system spec.md has no analogue for.
type Options struct {
	// Logger receives structured diagnostics at drop/error sites (bad CRC,
	// buffer overrun, FTP errors); never on the hot per-frame/per-tick path.
	// Defaults to slog.Default() when nil, mirroring socketcanring.Bus's
	// *slog.Logger field.
	Logger *slog.Logger

	// BackSize and FrontSize size the receiver's two ring buffers; both are
	// raised to receiver.MinBackSize/MinFrontSize if smaller.
	BackSize  int
	FrontSize int

	// NumSequencers is the sequencer controller's sequencer count; raised to
	// proto.NumSequencers if smaller.
	NumSequencers int

	// StaticAddress, when non-zero, skips self-assignment and fixes the
	// node's working address, per spec.md §4.1. Overridden by address.can's
	// stored address when that file is present and marks it static.
	StaticAddress uint8

	// Volume0Size is the byte size of the flash volume holding address.can,
	// product.inf, equation.btc, and patterns.tbl. Defaults to
	// defaultVolume0Size when zero.
	Volume0Size uint32
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) backSize() int {
	if o.BackSize > 0 {
		return o.BackSize
	}
	return receiver.MinBackSize
}

func (o Options) frontSize() int {
	if o.FrontSize > 0 {
		return o.FrontSize
	}
	return receiver.MinFrontSize
}
