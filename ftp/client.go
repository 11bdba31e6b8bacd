package ftp

import (
	"github.com/ecconet-fw/ecconet/fs"
	"github.com/ecconet-fw/ecconet/proto"
)

func (n *Node) canStartClient() error {
	if n.srvState != serverIdle {
		return ErrServerBusy
	}
	if n.cliState != clientIdle {
		return ErrClientBusy
	}
	return nil
}

func (n *Node) beginClient(serverAddr uint8, mode transferMode, name string, expect proto.TokenKey, nowMS uint32, callback func(Result)) {
	n.cliState = clientAwaiting
	n.cliMode = mode
	n.cliServer = serverAddr
	n.cliFileName = name
	n.cliExpected = expect
	n.cliDeadline = nowMS + responseTimeoutMS
	n.cliCallback = callback
	n.filter.SetSenderFilter(serverAddr, nowMS)
}

// FileInfo requests name's metadata from serverAddr.
//
// State is armed before the request is sent: the fake, synchronous
// transports used in tests can deliver the response before Start/Finish
// returns, and a real bus delivers it on the very next tick either way, so
// HandleClientMessage must already see an awaiting transaction.
func (n *Node) FileInfo(serverAddr uint8, name string, nowMS uint32, callback func(Result)) error {
	if err := n.canStartClient(); err != nil {
		return err
	}
	n.beginClient(serverAddr, modeInfo, name, proto.KeyResponseFileInfo, nowMS, callback)
	return n.sendMessage(serverAddr, proto.KeyRequestFileInfo, func() { n.sender.AddString(name) })
}

// ReadFile starts a read transfer of name from serverAddr; callback
// receives the full file bytes on completion.
func (n *Node) ReadFile(serverAddr uint8, name string, nowMS uint32, callback func(Result)) error {
	if err := n.canStartClient(); err != nil {
		return err
	}
	n.beginClient(serverAddr, modeRead, name, proto.KeyResponseFileReadStart, nowMS, callback)
	n.cliReadBuf = nil
	n.cliSegIdx = 0
	return n.sendMessage(serverAddr, proto.KeyRequestFileReadStart, func() { n.sender.AddString(name) })
}

// WriteFile starts a write transfer of data as name on serverAddr, gated by
// the GUID-derived access code.
func (n *Node) WriteFile(serverAddr uint8, name string, data []byte, timestamp, nowMS uint32, callback func(Result)) error {
	if err := n.canStartClient(); err != nil {
		return err
	}
	checksum := proto.CRC16(data)
	accessCode := AccessCode(n.guid.GUID())

	n.beginClient(serverAddr, modeWrite, name, proto.KeyResponseFileWriteStart, nowMS, callback)
	n.cliWriteData = data
	n.cliWriteTimestamp = timestamp
	n.cliSegIdx = 0

	return n.sendMessage(serverAddr, proto.KeyRequestFileWriteStart, func() {
		n.sender.AddU32(accessCode)
		n.sender.AddU32(uint32(len(data)))
		n.sender.AddU16(checksum)
		n.sender.AddU32(timestamp)
		n.sender.AddString(name)
	})
}

// DeleteFile requests deletion of name on serverAddr, gated by the
// GUID-derived access code.
func (n *Node) DeleteFile(serverAddr uint8, name string, nowMS uint32, callback func(Result)) error {
	if err := n.canStartClient(); err != nil {
		return err
	}
	accessCode := AccessCode(n.guid.GUID())
	n.beginClient(serverAddr, modeDelete, name, proto.KeyResponseFileDeleted, nowMS, callback)
	return n.sendMessage(serverAddr, proto.KeyRequestFileDelete, func() {
		n.sender.AddU32(accessCode)
		n.sender.AddString(name)
	})
}

// HandleClientMessage processes one FTP response addressed to this node's
// client half, per spec.md §4.7's client state machine. body is
// keyHi || keyLo || response-specific payload, as delivered by
// receiver.Dispatch.FTPClientMessage.
func (n *Node) HandleClientMessage(sender uint8, body []byte, nowMS uint32) {
	if len(body) < 2 || n.cliState != clientAwaiting || sender != n.cliServer {
		return
	}
	key := proto.TokenKey(uint16(body[0])<<8 | uint16(body[1]))
	rest := body[2:]

	if key != n.cliExpected {
		n.finishClient(key, nil, proto.FileInfo{}, responseError(key, rest))
		return
	}

	switch n.cliMode {
	case modeInfo:
		n.onFileInfoResponse(rest)
	case modeRead:
		n.onReadResponse(key, rest, nowMS)
	case modeWrite:
		n.onWriteResponse(key, rest, nowMS)
	case modeDelete:
		n.finishClient(proto.KeyResponseFileDeleted, nil, proto.FileInfo{}, nil)
	}
}

func (n *Node) onFileInfoResponse(rest []byte) {
	if len(rest) < 10 {
		n.finishClient(proto.KeyResponseFileInfo, nil, proto.FileInfo{}, errMalformedResponse)
		return
	}
	info := proto.FileInfo{
		Name:      n.cliFileName,
		Size:      beU32(rest[0:4]),
		Checksum:  beU16(rest[4:6]),
		Timestamp: beU32(rest[6:10]),
	}
	n.finishClient(proto.KeyResponseFileInfo, nil, info, nil)
}

func (n *Node) onReadResponse(key proto.TokenKey, rest []byte, nowMS uint32) {
	switch key {
	case proto.KeyResponseFileReadStart:
		if len(rest) < 6 {
			n.finishClient(key, nil, proto.FileInfo{}, errMalformedResponse)
			return
		}
		n.cliReadSize = beU32(rest[0:4])
		n.cliReadChecksum = beU16(rest[4:6])
		n.cliReadBuf = make([]byte, 0, n.cliReadSize)
		n.cliSegIdx = 0
		if n.cliReadSize == 0 {
			n.finishClient(proto.KeyResponseFileReadComplete, nil, proto.FileInfo{}, nil)
			return
		}
		n.requestNextReadSegment(nowMS)
	case proto.KeyResponseFileReadSegment:
		n.cliReadBuf = append(n.cliReadBuf, rest...)
		n.cliSegIdx++
		if uint32(len(n.cliReadBuf)) >= n.cliReadSize {
			data := n.cliReadBuf[:n.cliReadSize]
			if proto.CRC16(data) != n.cliReadChecksum {
				n.finishClient(proto.KeyResponseFileChecksumError, nil, proto.FileInfo{}, fs.ErrBadChecksum)
				return
			}
			n.finishClient(proto.KeyResponseFileReadComplete, data, proto.FileInfo{}, nil)
			return
		}
		n.requestNextReadSegment(nowMS)
	}
}

func (n *Node) requestNextReadSegment(nowMS uint32) {
	segIdx := n.cliSegIdx
	n.cliExpected = proto.KeyResponseFileReadSegment
	n.cliDeadline = nowMS + responseTimeoutMS
	n.filter.SetSenderFilter(n.cliServer, nowMS)
	if err := n.sendMessage(n.cliServer, proto.KeyRequestFileReadSegment, func() { n.sender.AddU16(segIdx) }); err != nil {
		n.finishClient(proto.KeyResponseFtpClientError, nil, proto.FileInfo{}, err)
	}
}

func (n *Node) onWriteResponse(key proto.TokenKey, rest []byte, nowMS uint32) {
	switch key {
	case proto.KeyResponseFileWriteStart:
		n.sendNextWriteSegment(nowMS)
	case proto.KeyResponseFileWriteSegmentAck:
		offset := uint32(n.cliSegIdx) * SegmentSize
		if offset >= uint32(len(n.cliWriteData)) {
			n.finishClient(proto.KeyResponseFileWriteComplete, nil, proto.FileInfo{}, nil)
			return
		}
		n.sendNextWriteSegment(nowMS)
	}
}

func (n *Node) sendNextWriteSegment(nowMS uint32) {
	offset := uint32(n.cliSegIdx) * SegmentSize
	if offset >= uint32(len(n.cliWriteData)) {
		n.finishClient(proto.KeyResponseFileWriteComplete, nil, proto.FileInfo{}, nil)
		return
	}
	end := offset + SegmentSize
	if end > uint32(len(n.cliWriteData)) {
		end = uint32(len(n.cliWriteData))
	}
	chunk := n.cliWriteData[offset:end]
	segIdx := n.cliSegIdx
	n.cliSegIdx++
	n.cliExpected = proto.KeyResponseFileWriteSegmentAck
	n.cliDeadline = nowMS + responseTimeoutMS
	n.filter.SetSenderFilter(n.cliServer, nowMS)
	err := n.sendMessage(n.cliServer, proto.KeyRequestFileWriteSegment, func() {
		n.sender.AddU16(segIdx)
		for _, b := range chunk {
			n.sender.AddByte(b)
		}
	})
	if err != nil {
		n.finishClient(proto.KeyResponseFtpClientError, nil, proto.FileInfo{}, err)
	}
}

// finishClient ends the in-progress client transaction, always notifying
// the server so it frees its slot, per spec.md §4.7.
func (n *Node) finishClient(status proto.TokenKey, data []byte, info proto.FileInfo, err error) {
	cb := n.cliCallback
	server := n.cliServer

	n.filter.ClearSenderFilter()
	n.cliState = clientIdle
	n.cliMode = modeNone
	n.cliCallback = nil
	n.cliExpected = nullKey

	n.sendMessage(server, proto.KeyRequestFileTransferComplete, nil)

	if cb != nil {
		cb(Result{Status: status, Data: data, Info: info, Err: err})
	}
}
