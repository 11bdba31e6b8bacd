// Package ecconet ties the protocol-core subpackages into a single
// cooperative node: Core owns the receiver, transmitter, address allocator,
// sequencer controller, rule engine, flash file system, and FTP node, and
// exposes the tick/receive_can_frame/token_in entry points spec.md §6 names.
package ecconet

import (
	"github.com/ecconet-fw/ecconet/proto"
)

// Host is the capability set the embedder provides, per spec.md §6's host
// interface table: CAN transmit, flash access, device identity, the
// application token sink, the FTP read override, and the file-to-volume
// map. Re-expressed as one Go interface rather than a function-pointer
// table, per spec.md §9.
type Host interface {
	proto.CANSender
	proto.FlashDevice
	proto.GUIDProvider
	proto.TokenSink
	proto.FTPReadHandler
	proto.VolumeResolver
}
