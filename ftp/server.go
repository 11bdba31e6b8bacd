package ftp

import (
	"github.com/ecconet-fw/ecconet/fs"
	"github.com/ecconet-fw/ecconet/proto"
)

// HandleServerMessage processes one FTP request addressed to this node's
// server half, per spec.md §4.7's 7-step server state machine. body is
// keyHi || keyLo || request-specific payload, as delivered by
// receiver.Dispatch.FTPServerMessage.
func (n *Node) HandleServerMessage(sender uint8, body []byte, nowMS uint32) {
	if len(body) < 2 {
		return
	}
	key := proto.TokenKey(uint16(body[0])<<8 | uint16(body[1]))
	rest := body[2:]

	if n.cliState != clientIdle {
		// Invariant (iv): a node never acts as both FTP client and server.
		return
	}
	if n.srvState == serverActive && sender != n.srvClient {
		return
	}

	n.srvState = serverActive
	n.srvClient = sender
	n.srvRequest = key
	n.srvDeadline = nowMS + responseTimeoutMS
	n.filter.SetSenderFilter(sender, nowMS)

	switch key {
	case proto.KeyRequestFileInfo:
		n.serveFileInfo(rest)
	case proto.KeyRequestFileReadStart:
		n.serveFileReadStart(rest)
	case proto.KeyRequestFileReadSegment:
		n.serveFileReadSegment(rest)
	case proto.KeyRequestFileWriteStart:
		n.serveFileWriteStart(rest)
	case proto.KeyRequestFileWriteSegment:
		n.serveFileWriteSegment(rest)
	case proto.KeyRequestFileDelete:
		n.serveFileDelete(rest)
	case proto.KeyRequestFileTransferComplete:
		n.serveFileTransferComplete()
	default:
		n.sendError(sender, ReasonMalformed)
	}
}

func (n *Node) serveFileInfo(rest []byte) {
	name, ok := parseString(rest)
	if !ok {
		n.sendError(n.srvClient, ReasonMalformed)
		return
	}
	info, err := n.store.Stat(name)
	if err != nil {
		n.sendError(n.srvClient, reasonFor(err))
		return
	}
	n.sendMessage(n.srvClient, proto.KeyResponseFileInfo, func() {
		n.sender.AddU32(info.Size)
		n.sender.AddU16(info.Checksum)
		n.sender.AddU32(info.Timestamp)
		if name == "product.inf" {
			guid := n.guid.GUID()
			for _, w := range guid {
				n.sender.AddU32(w)
			}
		}
	})
}

func (n *Node) serveFileReadStart(rest []byte) {
	name, ok := parseString(rest)
	if !ok {
		n.sendError(n.srvClient, ReasonMalformed)
		return
	}
	info, err := n.store.Stat(name)
	if err != nil {
		n.sendError(n.srvClient, reasonFor(err))
		return
	}
	n.srvFileName = name
	n.sendMessage(n.srvClient, proto.KeyResponseFileReadStart, func() {
		n.sender.AddU32(info.Size)
		n.sender.AddU16(info.Checksum)
	})
}

func (n *Node) serveFileReadSegment(rest []byte) {
	if len(rest) < 2 || n.srvFileName == "" {
		n.sendError(n.srvClient, ReasonMalformed)
		return
	}
	segIdx := beU16(rest)
	offset := uint32(segIdx) * SegmentSize
	buf := make([]byte, SegmentSize)
	count, err := n.store.Read(n.srvFileName, offset, buf)
	if err != nil {
		n.sendError(n.srvClient, reasonFor(err))
		return
	}
	n.sendMessage(n.srvClient, proto.KeyResponseFileReadSegment, func() {
		for _, b := range buf[:count] {
			n.sender.AddByte(b)
		}
	})
}

func (n *Node) serveFileWriteStart(rest []byte) {
	if len(rest) < 4+4+2+4 {
		n.sendError(n.srvClient, ReasonMalformed)
		return
	}
	accessCode := beU32(rest[0:4])
	size := beU32(rest[4:8])
	checksum := beU16(rest[8:10])
	timestamp := beU32(rest[10:14])
	name, ok := parseString(rest[14:])
	if !ok {
		n.sendError(n.srvClient, ReasonMalformed)
		return
	}
	if accessCode != AccessCode(n.guid.GUID()) {
		n.sendError(n.srvClient, ReasonAccessDenied)
		return
	}
	n.srvFileName = name
	n.srvWriteSize = size
	n.srvWriteChecksum = checksum
	n.srvWriteTimestamp = timestamp
	n.srvWriteBuf = make([]byte, size)
	n.sendMessage(n.srvClient, proto.KeyResponseFileWriteStart, func() {
		n.sender.AddString(name)
	})
}

func (n *Node) serveFileWriteSegment(rest []byte) {
	if len(rest) < 2 || n.srvWriteBuf == nil {
		n.sendError(n.srvClient, ReasonMalformed)
		return
	}
	segIdx := beU16(rest[0:2])
	data := rest[2:]
	offset := uint32(segIdx) * SegmentSize
	if offset+uint32(len(data)) > uint32(len(n.srvWriteBuf)) {
		n.sendError(n.srvClient, ReasonMalformed)
		return
	}
	copy(n.srvWriteBuf[offset:], data)
	n.sendMessage(n.srvClient, proto.KeyResponseFileWriteSegmentAck, func() {
		n.sender.AddU16(segIdx)
	})
}

func (n *Node) serveFileDelete(rest []byte) {
	if len(rest) < 4 {
		n.sendError(n.srvClient, ReasonMalformed)
		return
	}
	accessCode := beU32(rest[0:4])
	name, ok := parseString(rest[4:])
	if !ok {
		n.sendError(n.srvClient, ReasonMalformed)
		return
	}
	if accessCode != AccessCode(n.guid.GUID()) {
		n.sendError(n.srvClient, ReasonAccessDenied)
		return
	}
	if err := n.store.Delete(name); err != nil {
		n.sendError(n.srvClient, reasonFor(err))
		return
	}
	n.sendMessage(n.srvClient, proto.KeyResponseFileDeleted, func() {
		n.sender.AddString(name)
	})
}

func (n *Node) serveFileTransferComplete() {
	if n.srvWriteBuf != nil {
		if proto.CRC16(n.srvWriteBuf) == n.srvWriteChecksum {
			n.store.Write(n.srvFileName, n.srvWriteBuf, n.srvWriteTimestamp)
		}
	}
	n.resetServer()
}

// reasonFor maps a FileStore error to the wire Reason a client sees, per
// spec.md §7's FileNotFound/DiskFull/BadChecksum FTP-reply kinds.
func reasonFor(err error) Reason {
	switch err {
	case fs.ErrFileNotFound:
		return ReasonNotFound
	case fs.ErrDiskFull:
		return ReasonDiskFull
	case fs.ErrBadChecksum:
		return ReasonBadChecksum
	}
	return ReasonMalformed
}
