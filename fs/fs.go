// Package fs implements ECCONet's flash-backed file system: a
// log-structured directory of fixed-format headers followed by file data,
// appended sequentially to a flash volume and periodically compacted, per
// spec.md §1/§6. Errors are a small typed-exception value with an Error()
// method, grounded on GoAethereal/modbus's Exception pattern in the
// other_examples pack, adapted from Modbus exception codes to file system
// error kinds.
package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/ecconet-fw/ecconet/proto"
)

// Error is a file system exception, satisfying the builtin error interface.
type Error byte

const (
	ErrFileNotFound Error = 1
	ErrDiskFull     Error = 2
	ErrBadChecksum  Error = 3
	ErrBadName      Error = 4
	ErrDeviceFault  Error = 5
)

func (e Error) Error() string {
	prefix := "fs: "
	switch e {
	case ErrFileNotFound:
		return prefix + "file not found"
	case ErrDiskFull:
		return prefix + "disk full"
	case ErrBadChecksum:
		return prefix + "bad checksum"
	case ErrBadName:
		return prefix + "bad file name"
	case ErrDeviceFault:
		return prefix + "device fault"
	}
	return prefix + fmt.Sprintf("exception %d", byte(e))
}

// headerMagic marks the start of a valid directory header; an erased flash
// region reads back as 0xFF bytes, which never matches it.
const headerMagic = 0x5A

// headerSize is the on-flash byte width of one directory header: magic(1) +
// name(12) + size(4) + checksum(2) + timestamp(4) + deleted(1).
const headerSize = 1 + 12 + 4 + 2 + 4 + 1

const maxNameLen = 12

// record is the in-memory directory entry built by scanning the volume's
// header log.
type record struct {
	name       string
	dataOffset uint32
	size       uint32
	checksum   uint16
	timestamp  uint32
	deleted    bool
}

// FS is a single flash volume's log-structured directory.
type FS struct {
	dev        proto.FlashDevice
	volume     uint16
	volumeSize uint32

	writeOffset uint32
	byName      map[string]*record
}

// Mount scans volume from offset 0, rebuilding the in-memory directory from
// its header log. An empty or freshly erased volume mounts as empty.
func Mount(dev proto.FlashDevice, volume uint16, volumeSize uint32) (*FS, error) {
	f := &FS{dev: dev, volume: volume, volumeSize: volumeSize, byName: map[string]*record{}}

	var offset uint32
	hdr := make([]byte, headerSize)
	for offset+headerSize <= volumeSize {
		status, err := dev.FlashRead(volume, offset, hdr)
		if err != nil {
			return nil, err
		}
		if status != proto.FlashOK || hdr[0] != headerMagic {
			break
		}

		name := trimName(hdr[1:13])
		size := binary.BigEndian.Uint32(hdr[13:17])
		checksum := binary.BigEndian.Uint16(hdr[17:19])
		timestamp := binary.BigEndian.Uint32(hdr[19:23])
		deleted := hdr[23] != 0

		dataOffset := offset + headerSize
		f.byName[name] = &record{
			name: name, dataOffset: dataOffset, size: size,
			checksum: checksum, timestamp: timestamp, deleted: deleted,
		}
		offset = dataOffset + size
	}
	f.writeOffset = offset
	return f, nil
}

// ValidName reports whether name satisfies spec.md §6's file name rule:
// 1..12 characters, exactly one '.' with at least one character before it
// (position >= 2, counting from 1), and a 1..3 character extension.
func ValidName(name string) bool {
	if len(name) < 1 || len(name) > maxNameLen {
		return false
	}
	dot := -1
	for i, c := range name {
		if c == '.' {
			if dot != -1 {
				return false
			}
			dot = i
		}
	}
	if dot < 1 {
		return false
	}
	ext := len(name) - dot - 1
	return ext >= 1 && ext <= 3
}

func trimName(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// Stat returns the metadata for name, or ErrFileNotFound if it is absent or
// tombstoned.
func (f *FS) Stat(name string) (proto.FileInfo, error) {
	r, ok := f.byName[name]
	if !ok || r.deleted {
		return proto.FileInfo{}, ErrFileNotFound
	}
	return proto.FileInfo{Name: r.name, Size: r.size, Checksum: r.checksum, Timestamp: r.timestamp, Deleted: r.deleted}, nil
}

// Read copies up to len(buf) bytes starting at offset within name's data
// into buf, returning the number of bytes copied.
func (f *FS) Read(name string, offset uint32, buf []byte) (int, error) {
	r, ok := f.byName[name]
	if !ok || r.deleted {
		return 0, ErrFileNotFound
	}
	if offset >= r.size {
		return 0, nil
	}
	n := uint32(len(buf))
	if offset+n > r.size {
		n = r.size - offset
	}
	status, err := f.dev.FlashRead(f.volume, r.dataOffset+offset, buf[:n])
	if err != nil {
		return 0, err
	}
	if status != proto.FlashOK {
		return 0, ErrDeviceFault
	}
	return int(n), nil
}

// ReadAll reads name's full contents and verifies them against the stored
// checksum, returning ErrBadChecksum if flash data has been corrupted.
func (f *FS) ReadAll(name string) ([]byte, error) {
	r, ok := f.byName[name]
	if !ok || r.deleted {
		return nil, ErrFileNotFound
	}
	buf := make([]byte, r.size)
	if _, err := f.Read(name, 0, buf); err != nil {
		return nil, err
	}
	if proto.CRC16(buf) != r.checksum {
		return nil, ErrBadChecksum
	}
	return buf, nil
}

// Write appends a new header and data for name, superseding any prior
// record of the same name (log-structured: the latest header wins).
func (f *FS) Write(name string, data []byte, timestamp uint32) error {
	if !ValidName(name) {
		return ErrBadName
	}
	checksum := proto.CRC16(data)
	if err := f.appendHeader(name, uint32(len(data)), checksum, timestamp, false); err != nil {
		return err
	}
	if len(data) > 0 {
		status, err := f.dev.FlashWrite(f.volume, f.writeOffset, data)
		if err != nil {
			return err
		}
		if status != proto.FlashOK {
			return ErrDeviceFault
		}
	}
	f.byName[name] = &record{
		name: name, dataOffset: f.writeOffset, size: uint32(len(data)),
		checksum: checksum, timestamp: timestamp,
	}
	f.writeOffset += uint32(len(data))
	return nil
}

// Delete appends a tombstone header for name.
func (f *FS) Delete(name string) error {
	r, ok := f.byName[name]
	if !ok || r.deleted {
		return ErrFileNotFound
	}
	if err := f.appendHeader(name, 0, 0, r.timestamp, true); err != nil {
		return err
	}
	r.deleted = true
	return nil
}

// appendHeader writes one header record at the current write offset and
// advances it past the header (not the data, which the caller appends).
func (f *FS) appendHeader(name string, size uint32, checksum uint16, timestamp uint32, deleted bool) error {
	if f.writeOffset+headerSize > f.volumeSize {
		return ErrDiskFull
	}
	hdr := make([]byte, headerSize)
	hdr[0] = headerMagic
	copy(hdr[1:13], name)
	binary.BigEndian.PutUint32(hdr[13:17], size)
	binary.BigEndian.PutUint16(hdr[17:19], checksum)
	binary.BigEndian.PutUint32(hdr[19:23], timestamp)
	if deleted {
		hdr[23] = 1
	}

	status, err := f.dev.FlashWrite(f.volume, f.writeOffset, hdr)
	if err != nil {
		return err
	}
	if status != proto.FlashOK {
		return ErrDeviceFault
	}
	f.writeOffset += headerSize
	return nil
}

// Compact erases the volume and rewrites every live (non-deleted) file
// packed from offset 0, reclaiming space consumed by tombstones and
// superseded versions.
func (f *FS) Compact() error {
	type live struct {
		r    *record
		data []byte
	}
	var keep []live
	for _, r := range f.byName {
		if r.deleted {
			continue
		}
		buf := make([]byte, r.size)
		if r.size > 0 {
			status, err := f.dev.FlashRead(f.volume, r.dataOffset, buf)
			if err != nil {
				return err
			}
			if status != proto.FlashOK {
				return ErrDeviceFault
			}
		}
		keep = append(keep, live{r: r, data: buf})
	}

	status, err := f.dev.FlashErase(f.volume, 0, f.volumeSize)
	if err != nil {
		return err
	}
	if status != proto.FlashOK {
		return ErrDeviceFault
	}

	f.writeOffset = 0
	f.byName = map[string]*record{}
	for _, l := range keep {
		if err := f.Write(l.r.name, l.data, l.r.timestamp); err != nil {
			return err
		}
	}
	return nil
}
