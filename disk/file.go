package disk

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-sifs/util"
)

var _ Disk = (*FileDisk)(nil)

// FileDisk is a volume image backed by a regular file or a device node.
type FileDisk struct {
	fd   int
	path string
}

// NewFileDisk opens path for reading and writing, creating it if needed. With
// truncate the existing contents are discarded.
func NewFileDisk(path string, truncate bool) (*FileDisk, error) {
	flags := unix.O_RDWR | unix.O_CREAT | unix.O_CLOEXEC
	if truncate {
		flags |= unix.O_TRUNC
	}
	fd, err := unix.Open(path, flags, 0666)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	util.DPrintf(3, "NewFileDisk: %s fd %d truncate %v\n", path, fd, truncate)
	return &FileDisk{fd: fd, path: path}, nil
}

func (d *FileDisk) ReadAt(b []byte, off uint64) error {
	done := 0
	for done < len(b) {
		n, err := unix.Pread(d.fd, b[done:], int64(off)+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s at %d: %w", d.path, off, err)
		}
		if n == 0 {
			return fmt.Errorf("reading %s at %d: %w (%d of %d bytes)",
				d.path, off, ErrShortIO, done, len(b))
		}
		done += n
	}
	return nil
}

func (d *FileDisk) WriteAt(b []byte, off uint64) error {
	done := 0
	for done < len(b) {
		n, err := unix.Pwrite(d.fd, b[done:], int64(off)+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("writing %s at %d: %w", d.path, off, err)
		}
		if n == 0 {
			return fmt.Errorf("writing %s at %d: %w", d.path, off, ErrShortIO)
		}
		done += n
	}
	util.DPrintf(5, "write: %s %d bytes at %d\n", d.path, len(b), off)
	return nil
}

func (d *FileDisk) Size() (uint64, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(d.fd, &stat); err != nil {
		return 0, fmt.Errorf("stat %s: %w", d.path, err)
	}
	return uint64(stat.Size), nil
}

func (d *FileDisk) Truncate(sz uint64) error {
	if err := unix.Ftruncate(d.fd, int64(sz)); err != nil {
		return fmt.Errorf("truncating %s to %d: %w", d.path, sz, err)
	}
	return nil
}

func (d *FileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; the correct replacement is fcntl with F_FULLFSYNC.
	if err := unix.Fsync(d.fd); err != nil {
		return fmt.Errorf("syncing %s: %w", d.path, err)
	}
	return nil
}

func (d *FileDisk) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return fmt.Errorf("closing %s: %w", d.path, err)
	}
	return nil
}
