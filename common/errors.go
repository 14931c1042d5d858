package common

import "errors"

var (
	// ErrInvalidConfig reports a volume size, inode count or record size
	// that cannot produce a valid layout.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrOutOfRange reports an inode or block index outside the volume.
	ErrOutOfRange = errors.New("index out of range")

	// ErrExhausted reports that a bitmap has no free entry left. Callers
	// are expected to handle it; it is not fatal.
	ErrExhausted = errors.New("no free entry")

	// ErrCorrupt reports on-disk metadata that contradicts itself.
	ErrCorrupt = errors.New("metadata corrupted")

	ErrDoubleFree = errors.New("entry already free")
	ErrProtected  = errors.New("entry is reserved")
)
