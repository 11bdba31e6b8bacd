// Package ftp implements ECCONet's two-ended file-transfer state machine:
// a client half and a server half sharing one node's transmitter and
// receiver, per spec.md §4.7. Request/response dispatch is modeled after
// GoAethereal/modbus's Common.Request/Common.Respond pairing of a request
// builder with its matching response validator, adapted from Modbus
// function codes to ECCONet's FTP request/response token-key pairs.
package ftp

import (
	"errors"

	"github.com/ecconet-fw/ecconet/proto"
)

// ErrClientBusy is returned when a new client request is started while one
// is already in flight.
var ErrClientBusy = errors.New("ftp: client transfer already in progress")

// ErrServerBusy is returned when a client request is started while this
// node's server half has an active transaction, per spec.md §4.7's
// invariant that a node is never client and server at once.
var ErrServerBusy = errors.New("ftp: server transaction in progress, cannot act as client")

// errMalformedResponse is reported when a peer's response body is too
// short to contain the fields its key promises.
var errMalformedResponse = errors.New("ftp: malformed response")

// responseError turns an unexpected response key into an error for the
// requester callback: an FtpClientError response carries a Reason byte,
// and every other terminal response key is self-explanatory.
func responseError(key proto.TokenKey, rest []byte) error {
	if key == proto.KeyResponseFtpClientError && len(rest) >= 1 {
		return Reason(rest[0])
	}
	return errors.New("ftp: unexpected response " + keyName(key))
}

func keyName(key proto.TokenKey) string {
	switch key {
	case proto.KeyResponseFileChecksumError:
		return "FileChecksumError"
	case proto.KeyResponseFtpTransactionTimedOut:
		return "FtpTransactionTimedOut"
	case proto.KeyResponseFtpClientError:
		return "FtpClientError"
	default:
		return "unknown"
	}
}

const responseTimeoutMS = 1000

// nullKey is the sentinel for "no request in progress"; body 0 of the
// Command prefix is never assigned to any named key.
var nullKey = proto.TokenKey(0)

// FileStore is the flash file system capability the ftp package consumes.
// *fs.FS satisfies it directly.
type FileStore interface {
	Stat(name string) (proto.FileInfo, error)
	Read(name string, offset uint32, buf []byte) (int, error)
	Write(name string, data []byte, timestamp uint32) error
	Delete(name string) error
}

// Sender is the outbound-message capability ftp composes requests and
// responses with. *transmitter.Transmitter satisfies it.
type Sender interface {
	Start(dest uint8, key proto.TokenKey, eventIdx uint8) error
	AddByte(b byte) error
	AddU16(v uint16) error
	AddU32(v uint32) error
	AddString(s string) error
	Finish() error
}

// SenderFilter is the receiver capability restricting multi-frame reception
// to the in-flight transaction's peer. *receiver.Receiver satisfies it.
type SenderFilter interface {
	SetSenderFilter(src uint8, nowMS uint32)
	ClearSenderFilter()
}

// Result is delivered to a client request's callback when its transaction
// ends, successfully or not.
type Result struct {
	// Status is the response key that ended the transaction (one of the
	// KeyResponse* constants), or KeyResponseFtpTransactionTimedOut.
	Status proto.TokenKey
	// Data holds the file bytes for a completed read, or file metadata
	// bytes are decoded into Info instead.
	Data []byte
	Info proto.FileInfo
	Err  error
}

type serverState uint8

const (
	serverIdle serverState = iota
	serverActive
)

type clientState uint8

const (
	clientIdle clientState = iota
	clientAwaiting
)

type transferMode uint8

const (
	modeNone transferMode = iota
	modeInfo
	modeRead
	modeWrite
	modeDelete
)

// Node owns both halves of spec.md §4.7's shared FTP state machine.
type Node struct {
	ourAddr uint8
	store   FileStore
	guid    proto.GUIDProvider
	sender  Sender
	filter  SenderFilter

	srvState   serverState
	srvClient  uint8
	srvRequest proto.TokenKey
	srvDeadline uint32
	srvFileName string

	srvWriteSize      uint32
	srvWriteChecksum  uint16
	srvWriteTimestamp uint32
	srvWriteBuf       []byte

	cliState    clientState
	cliMode     transferMode
	cliServer   uint8
	cliExpected proto.TokenKey
	cliDeadline uint32
	cliFileName string
	cliCallback func(Result)

	cliReadBuf      []byte
	cliReadSize     uint32
	cliReadChecksum uint16
	cliSegIdx       uint16

	cliWriteData      []byte
	cliWriteTimestamp uint32
}

// New constructs a Node bound to store for file access, guid for the
// access-code hash, sender for outbound messages, and filter for the
// receiver's sender-exclusion window.
func New(ourAddr uint8, store FileStore, guid proto.GUIDProvider, sender Sender, filter SenderFilter) *Node {
	return &Node{ourAddr: ourAddr, store: store, guid: guid, sender: sender, filter: filter,
		srvRequest: nullKey, cliExpected: nullKey}
}

// SetOurAddress updates the address this node identifies itself by.
func (n *Node) SetOurAddress(addr uint8) { n.ourAddr = addr }

// Tick expires a stalled server transaction or an unanswered client
// request, per spec.md §4.7/§5's 1000ms response timeout.
func (n *Node) Tick(nowMS uint32) {
	if n.srvState == serverActive && proto.DeadlineExpired(nowMS, n.srvDeadline) {
		n.resetServer()
	}
	if n.cliState == clientAwaiting && proto.DeadlineExpired(nowMS, n.cliDeadline) {
		n.finishClient(proto.KeyResponseFtpTransactionTimedOut, nil, proto.FileInfo{}, errors.New("ftp: transaction timed out"))
	}
}

func (n *Node) resetServer() {
	n.srvState = serverIdle
	n.srvClient = 0
	n.srvRequest = nullKey
	n.srvFileName = ""
	n.srvWriteBuf = nil
	n.filter.ClearSenderFilter()
}

func (n *Node) sendMessage(dest uint8, key proto.TokenKey, write func()) error {
	if err := n.sender.Start(dest, key, 0); err != nil {
		return err
	}
	if write != nil {
		write()
	}
	return n.sender.Finish()
}

func (n *Node) sendError(dest uint8, reason Reason) {
	_ = n.sendMessage(dest, proto.KeyResponseFtpClientError, func() {
		n.sender.AddByte(byte(reason))
	})
}
