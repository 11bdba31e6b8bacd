package ftp

import "fmt"

// Reason is the one-byte payload carried by a KeyResponseFtpClientError
// reply, naming why a request was refused. Grounded on
// GoAethereal/modbus's Exception type: a small value type with an
// Error() string method, prefix + switch + numeric fallback.
type Reason byte

const (
	ReasonMalformed    Reason = 1
	ReasonAccessDenied Reason = 2
	ReasonNotFound     Reason = 3
	ReasonDiskFull     Reason = 4
	ReasonBadChecksum  Reason = 5
)

func (r Reason) Error() string {
	prefix := "ftp: "
	switch r {
	case ReasonMalformed:
		return prefix + "malformed request"
	case ReasonAccessDenied:
		return prefix + "access denied"
	case ReasonNotFound:
		return prefix + "file not found"
	case ReasonDiskFull:
		return prefix + "disk full"
	case ReasonBadChecksum:
		return prefix + "checksum mismatch"
	}
	return prefix + fmt.Sprintf("reason %d", byte(r))
}
