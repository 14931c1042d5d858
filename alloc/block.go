package alloc

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-sifs/addr"
	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/super"
	"github.com/mit-pdos/go-sifs/util"
)

// BlockAlloc owns the block bitmap and sb.NFreeBlock. Only blocks in
// [DataStart, NBlock) are handed out or freed.
type BlockAlloc struct {
	mu *sync.Mutex
	sb *super.FsSuper
	a  *Alloc
}

func MkBlockAlloc(sb *super.FsSuper, bitmap []byte) *BlockAlloc {
	if uint64(len(bitmap)) != sb.Bytes(sb.NBlockBitmap()) {
		panic(fmt.Sprintf("MkBlockAlloc: bitmap %d bytes, region %d blocks",
			len(bitmap), sb.NBlockBitmap()))
	}
	return &BlockAlloc{
		mu: new(sync.Mutex),
		sb: sb,
		a:  MkAlloc(bitmap, uint64(sb.DataStart), uint64(sb.NBlock)),
	}
}

// Init clears the bitmap, marks every metadata block and resets the free
// counter.
func (ba *BlockAlloc) Init() {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.a.Reset()
	for _, r := range ba.sb.Regions() {
		for bn := r.Start; bn < r.Start+r.Len; bn++ {
			ba.a.MarkUsed(uint64(bn))
		}
	}
	ba.sb.NFreeBlock = uint32(ba.sb.NData())
}

func (ba *BlockAlloc) Bitmap() []byte {
	return ba.a.bitmap
}

func (ba *BlockAlloc) Addr(bn common.Bnum) addr.Addr {
	return Bit(common.Bnum(ba.sb.BlockBitmapStart), uint64(bn), uint64(ba.sb.BlockSize))
}

// IsAllocated is true for anything past the last block.
func (ba *BlockAlloc) IsAllocated(bn common.Bnum) bool {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return ba.a.IsUsed(uint64(bn))
}

func (ba *BlockAlloc) Alloc() (common.Bnum, error) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	n, ok := ba.a.AllocNum()
	if !ok {
		return common.NULLBNUM, fmt.Errorf("alloc block: %w", common.ErrExhausted)
	}
	ba.sb.NFreeBlock--
	util.DPrintf(5, "alloc block %d (%d free)\n", n, ba.sb.NFreeBlock)
	return common.Bnum(n), nil
}

// Free releases data block bn. Metadata, out-of-range and already-free
// blocks leave the bitmap and counter untouched.
func (ba *BlockAlloc) Free(bn common.Bnum) error {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	if err := ba.a.FreeNum(uint64(bn)); err != nil {
		util.DPrintf(1, "free block: %v\n", err)
		return fmt.Errorf("block: %w", err)
	}
	ba.sb.NFreeBlock++
	util.DPrintf(5, "free block %d (%d free)\n", bn, ba.sb.NFreeBlock)
	return nil
}

// CountUsed scans the whole bitmap for entries in use, reserved ones
// included.
func (ba *BlockAlloc) CountUsed() uint64 {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return ba.a.NumUsed(0, ba.a.max)
}

// CountFree scans the data region. Metadata blocks are used by definition
// and never counted, whatever their bits say.
func (ba *BlockAlloc) CountFree() uint64 {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return ba.a.NumFree()
}

// VerifyMetadata checks that every metadata block is marked in use.
func (ba *BlockAlloc) VerifyMetadata() error {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	for _, r := range ba.sb.Regions() {
		for bn := r.Start; bn < r.Start+r.Len; bn++ {
			if !ba.a.IsUsed(uint64(bn)) {
				return fmt.Errorf("block bitmap: %s block %d free: %w",
					r.Name, bn, common.ErrCorrupt)
			}
		}
	}
	return nil
}

func (ba *BlockAlloc) Audit() error {
	if err := ba.VerifyMetadata(); err != nil {
		return err
	}
	ba.mu.Lock()
	defer ba.mu.Unlock()
	n := ba.a.NumFree()
	if n != uint64(ba.sb.NFreeBlock) {
		return CountMismatchError{Which: "blocks", Cached: uint64(ba.sb.NFreeBlock), Scanned: n}
	}
	return nil
}
