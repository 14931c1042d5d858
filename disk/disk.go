// Package disk provides the byte-positioned storage a volume image lives on.
package disk

import (
	"errors"
)

// ErrShortIO reports a read or write that moved fewer bytes than asked,
// e.g. a read past the end of the image.
var ErrShortIO = errors.New("short disk i/o")

// Disk provides positioned access to a volume image.
type Disk interface {
	// ReadAt fills b with the bytes starting at byte offset off.
	ReadAt(b []byte, off uint64) error

	// WriteAt stores b at byte offset off, growing the image if needed.
	WriteAt(b []byte, off uint64) error

	// Size reports how big the image is, in bytes
	Size() (uint64, error)

	// Truncate sets the image size to sz bytes.
	Truncate(sz uint64) error

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}
