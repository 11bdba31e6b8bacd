package proto

// SendStatus is the result of a host CAN transmit attempt.
type SendStatus int

const (
	// SendOK means the driver accepted the frame.
	SendOK SendStatus = iota
	// SendBusy means the driver could not accept the frame; the
	// Transmitter must retry the same frame on the next tick.
	SendBusy
)

// FlashStatus is the result of a host flash operation.
type FlashStatus int

const (
	FlashOK FlashStatus = iota
	FlashError
)

// CANSender is the host capability for placing a frame on the bus.
type CANSender interface {
	SendCAN(id uint32, data []byte) (SendStatus, error)
}

// FlashDevice is the host capability for reading, writing, and erasing a
// flash volume. Offsets and lengths are byte addresses within volume;
// ECCONet never retains a raw pointer into flash (spec.md §9).
type FlashDevice interface {
	FlashRead(volume uint16, addr uint32, buf []byte) (FlashStatus, error)
	FlashWrite(volume uint16, addr uint32, buf []byte) (FlashStatus, error)
	FlashErase(volume uint16, addr uint32, length uint32) (FlashStatus, error)
}

// GUIDProvider is the host capability exposing the node's 128-bit device
// identity, used by the address allocator and the FTP access-code hash.
type GUIDProvider interface {
	GUID() [4]uint32
}

// TokenSink is the host capability receiving every token the Router
// dispatches to the local application.
type TokenSink interface {
	TokenCallback(Token)
}

// FTPReadOverride lets the embedder intercept a file read before the FTP
// server serves it from flash, per spec.md §6's ftp_read_handler.
type FTPReadOverride int

const (
	// FTPReadDefault means the server should serve the file from flash
	// as usual.
	FTPReadDefault FTPReadOverride = iota
	// FTPReadOverridden means the handler has already produced the
	// response and the server should not consult the flash file system.
	FTPReadOverridden
)

// FTPReadHandler is the host capability that may override a file read
// before it reaches the flash file system.
type FTPReadHandler interface {
	FTPReadHandler(requester uint8, info FileInfo) FTPReadOverride
}

// VolumeResolver is the host capability mapping a filename to the flash
// volume that stores it.
type VolumeResolver interface {
	FileToVolume(name string) uint16
}

// FileInfo is the metadata ECCONet's flash file system and FTP server
// exchange about a file: enough to answer FileInfo/FileReadStart requests
// without exposing the file system's internal header layout.
type FileInfo struct {
	Name      string
	Size      uint32
	Checksum  uint16
	Timestamp uint32
	Deleted   bool
}

// Clock is the host capability exposing the platform millisecond clock.
// ECCONet never calls it directly outside of tests; production callers
// pass now_ms into Tick explicitly per spec.md §6.
type Clock interface {
	NowMS() uint32
}
