package ecconet

import (
	"log/slog"

	"github.com/ecconet-fw/ecconet/address"
	"github.com/ecconet-fw/ecconet/fs"
	"github.com/ecconet-fw/ecconet/ftp"
	"github.com/ecconet-fw/ecconet/proto"
	"github.com/ecconet-fw/ecconet/receiver"
	"github.com/ecconet-fw/ecconet/ruleengine"
	"github.com/ecconet-fw/ecconet/sequencer"
	"github.com/ecconet-fw/ecconet/transmitter"
)

// volume0 is the flash volume holding address.can, product.inf,
// equation.btc, and patterns.tbl, per spec.md §6.
const volume0 = 0

// defaultVolume0Size is used when Options.Volume0Size is left zero.
const defaultVolume0Size = 64 * 1024

// Core owns every sub-component of one ECCONet node and exposes the
// entry points of spec.md §6: Reset, Tick, ReceiveCANFrame, TokenIn,
// SendSync, and accessors for the working address and event index.
//
// Scheduling is cooperative single-thread plus one asynchronous producer
// (ReceiveCANFrame, called from the host's CAN receive callback): Tick is
// guarded by a re-entrancy flag so overlapping calls are dropped rather
// than interleaved, per spec.md §5.
type Core struct {
	host Host
	opts Options
	log  *slog.Logger

	recv *receiver.Receiver
	xmit *transmitter.Transmitter

	alloc    *address.Allocator
	ei       proto.EventIndex
	seq      *sequencer.Controller
	rules    *ruleengine.Engine
	fsys     *fs.FS
	ftp      *ftp.Node
	patterns *patternTable

	busy  bool
	nowMS uint32

	haveBroadcastDeadline bool
	nextBroadcastMS       uint32
}

// New constructs a Core bound to host. Reset must be called once before
// Tick or ReceiveCANFrame are used.
func New(host Host, opts Options) *Core {
	return &Core{
		host: host,
		opts: opts,
		log:  opts.logger(),
		recv: receiver.New(opts.backSize(), opts.frontSize()),
		xmit: transmitter.New(0),
	}
}

func (o Options) numSequencers() int {
	if o.NumSequencers > proto.NumSequencers {
		return o.NumSequencers
	}
	return proto.NumSequencers
}

func (o Options) volume0Size() uint32 {
	if o.Volume0Size > 0 {
		return o.Volume0Size
	}
	return defaultVolume0Size
}

// Reset mounts the flash file system, loads address.can/equation.btc/
// patterns.tbl, and (re)builds every sub-component from scratch, per
// spec.md §6's reset(host_table, now_ms) entry point.
func (c *Core) Reset(nowMS uint32) error {
	fsys, err := fs.Mount(c.host, volume0, c.opts.volume0Size())
	if err != nil {
		return err
	}
	c.fsys = fsys

	addr, static := c.loadAddressFile()
	if !static && c.opts.StaticAddress != 0 {
		addr, static = c.opts.StaticAddress, true
	}
	c.alloc = address.New(c.host.GUID(), static, addr)

	c.rules = ruleengine.New(c.loadRuleRows())
	c.patterns = c.loadPatternsTable()
	c.seq = sequencer.New(c.opts.numSequencers(), c.patterns, c)
	c.ftp = ftp.New(c.alloc.Address(), c.fsys, c.host, c.xmit, c.recv)

	c.ei = proto.EventIndex{}
	c.busy = false
	c.nowMS = nowMS
	c.haveBroadcastDeadline = false

	c.applyAddress()
	return nil
}

func (c *Core) loadAddressFile() (addr uint8, static bool) {
	data, err := c.fsys.ReadAll("address.can")
	if err != nil || len(data) < 2 {
		return 0, false
	}
	return data[0], data[1] != 0
}

func (c *Core) loadRuleRows() []ruleengine.Row {
	data, err := c.fsys.ReadAll("equation.btc")
	if err != nil {
		return nil
	}
	rows, err := ruleengine.LoadHeader(data)
	if err != nil {
		c.log.Warn("equation.btc malformed, rule engine has no rows", slog.String("error", err.Error()))
		return nil
	}
	return rows
}

func (c *Core) loadPatternsTable() *patternTable {
	data, err := c.fsys.ReadAll("patterns.tbl")
	if err != nil {
		t, _ := loadPatternTable(nil)
		return t
	}
	t, err := loadPatternTable(data)
	if err != nil {
		c.log.Warn("patterns.tbl malformed, sequencer has no patterns", slog.String("error", err.Error()))
		t, _ = loadPatternTable(nil)
	}
	return t
}

// applyAddress propagates the allocator's current working address to every
// component that stamps or filters on it.
func (c *Core) applyAddress() {
	addr := c.Address()
	c.recv.SetWorkingAddress(addr)
	c.xmit.SetSourceAddress(addr)
	c.seq.SetOurAddress(addr)
	c.ftp.SetOurAddress(addr)
}

// Address returns the node's current working address (0 while unassigned
// or proposing), per spec.md §6's CAN-address accessor.
func (c *Core) Address() uint8 { return c.alloc.Address() }

// EventIndex returns the node's local event index, per spec.md §6's
// event-index accessor.
func (c *Core) EventIndex() uint8 { return c.ei.Value() }

// ReceiveCANFrame implements the CAN receive callback of spec.md §6: it may
// be invoked at any time relative to Tick, and only ever touches the
// receiver's back buffer, per spec.md §5's concurrency model.
func (c *Core) ReceiveCANFrame(id uint32, data []byte, nowMS uint32) {
	c.recv.Ingest(proto.DecodeFrameID(id), data, nowMS)
}

// TokenIn implements spec.md §6's token_in(token) entry point: the
// application injects a token as if it had been locally produced, routed
// exactly like a decoded network token. InputStatus/OutputStatus tokens are
// additionally broadcast onto the bus as event messages (spec.md §4.2,
// §4.4): this is the only path by which a local input/output state change
// reaches peers, since the Orchestrator only ever broadcasts the rule
// engine's own exposed tokens.
func (c *Core) TokenIn(tok proto.Token) {
	c.routeToken(tok)
	if proto.IsEventKey(tok.Key) {
		c.sendEventOrOnce(proto.AddressBroadcast, tok.Key, tok.Value)
	}
}

// Tick implements spec.md §6's tick(now_ms) entry point: it drains and
// routes received frames, advances address negotiation, the sequencer, and
// FTP timeouts, runs the Orchestrator's broadcast pacing, and flushes the
// transmitter's outbound ring. Re-entrant calls are dropped, per spec.md §5.
func (c *Core) Tick(nowMS uint32) {
	if c.busy {
		return
	}
	c.busy = true
	defer func() { c.busy = false }()

	c.nowMS = nowMS

	c.recv.Drain(nowMS)
	c.recv.ProcessMessages(&c.ei, c)

	c.alloc.Tick(nowMS, c)
	c.applyAddress()

	c.seq.Tick(nowMS)
	c.ftp.Tick(nowMS)

	c.runOrchestrator(nowMS)

	if err := c.xmit.Flush(c.host); err != nil {
		c.log.Warn("flush to CAN driver failed", slog.String("error", err.Error()))
	}
}
