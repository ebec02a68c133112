package journal

import "errors"

var (
	// ErrChecksumMismatch means a record's stored checksum does not match
	// its contents — the tail of the file was torn by a crash mid-write.
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")
	// ErrClosed is returned by Append/Record* calls made after Close.
	ErrClosed = errors.New("journal: closed")
)
