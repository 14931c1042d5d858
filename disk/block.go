package disk

import (
	"fmt"
	"sync"

	gdisk "github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-sifs/util"
)

var _ Disk = (*BlockDisk)(nil)

// BlockDisk exposes a fixed-size goose block device as a byte-positioned
// image. Partial-block writes read the block, install the bytes and write it
// back.
type BlockDisk struct {
	mu *sync.Mutex
	d  gdisk.Disk
}

func NewBlockDisk(d gdisk.Disk) *BlockDisk {
	return &BlockDisk{mu: new(sync.Mutex), d: d}
}

func (bd *BlockDisk) size() uint64 {
	return bd.d.Size() * gdisk.BlockSize
}

func (bd *BlockDisk) check(n int, off uint64) error {
	if util.SumOverflows(off, uint64(n)) || off+uint64(n) > bd.size() {
		return fmt.Errorf("block device access [%d,%d) beyond %d: %w",
			off, off+uint64(n), bd.size(), ErrShortIO)
	}
	return nil
}

func (bd *BlockDisk) ReadAt(b []byte, off uint64) error {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	if err := bd.check(len(b), off); err != nil {
		return err
	}
	done := uint64(0)
	for done < uint64(len(b)) {
		pos := off + done
		a := pos / gdisk.BlockSize
		boff := pos % gdisk.BlockSize
		blk := bd.d.Read(a)
		done += uint64(copy(b[done:], blk[boff:]))
	}
	return nil
}

func (bd *BlockDisk) WriteAt(b []byte, off uint64) error {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	if err := bd.check(len(b), off); err != nil {
		return err
	}
	done := uint64(0)
	for done < uint64(len(b)) {
		pos := off + done
		a := pos / gdisk.BlockSize
		boff := pos % gdisk.BlockSize
		var blk gdisk.Block
		if boff == 0 && uint64(len(b))-done >= gdisk.BlockSize {
			blk = make(gdisk.Block, gdisk.BlockSize)
		} else {
			blk = bd.d.Read(a)
		}
		done += uint64(copy(blk[boff:], b[done:]))
		bd.d.Write(a, blk)
	}
	return nil
}

func (bd *BlockDisk) Size() (uint64, error) {
	return bd.size(), nil
}

// Truncate cannot resize a block device; it only checks that sz fits.
func (bd *BlockDisk) Truncate(sz uint64) error {
	if sz > bd.size() {
		return fmt.Errorf("block device holds %d bytes, need %d: %w",
			bd.size(), sz, ErrShortIO)
	}
	return nil
}

func (bd *BlockDisk) Barrier() error {
	bd.d.Barrier()
	return nil
}

func (bd *BlockDisk) Close() error {
	bd.d.Close()
	return nil
}
