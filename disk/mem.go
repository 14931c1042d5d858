package disk

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-sifs/util"
)

var _ Disk = (*MemDisk)(nil)

// MemDisk keeps the whole image in memory.
type MemDisk struct {
	l    *sync.RWMutex
	data []byte
}

func NewMemDisk(sz uint64) *MemDisk {
	return &MemDisk{l: new(sync.RWMutex), data: make([]byte, sz)}
}

func (d *MemDisk) ReadAt(b []byte, off uint64) error {
	d.l.RLock()
	defer d.l.RUnlock()
	if util.SumOverflows(off, uint64(len(b))) || off+uint64(len(b)) > uint64(len(d.data)) {
		return fmt.Errorf("reading %d bytes at %d of %d: %w",
			len(b), off, len(d.data), ErrShortIO)
	}
	copy(b, d.data[off:])
	return nil
}

func (d *MemDisk) WriteAt(b []byte, off uint64) error {
	d.l.Lock()
	defer d.l.Unlock()
	if util.SumOverflows(off, uint64(len(b))) {
		return fmt.Errorf("writing %d bytes at %d: %w", len(b), off, ErrShortIO)
	}
	end := off + uint64(len(b))
	if end > uint64(len(d.data)) {
		d.resize(end)
	}
	copy(d.data[off:end], b)
	return nil
}

func (d *MemDisk) resize(sz uint64) {
	if sz <= uint64(cap(d.data)) {
		old := uint64(len(d.data))
		d.data = d.data[:sz]
		for i := old; i < sz; i++ {
			d.data[i] = 0
		}
		return
	}
	data := make([]byte, sz)
	copy(data, d.data)
	d.data = data
}

func (d *MemDisk) Size() (uint64, error) {
	d.l.RLock()
	defer d.l.RUnlock()
	return uint64(len(d.data)), nil
}

func (d *MemDisk) Truncate(sz uint64) error {
	d.l.Lock()
	defer d.l.Unlock()
	d.resize(sz)
	return nil
}

// Bytes returns a copy of the image.
func (d *MemDisk) Bytes() []byte {
	d.l.RLock()
	defer d.l.RUnlock()
	b := make([]byte, len(d.data))
	copy(b, d.data)
	return b
}

func (d *MemDisk) Barrier() error { return nil }

func (d *MemDisk) Close() error { return nil }
