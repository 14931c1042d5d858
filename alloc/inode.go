package alloc

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-sifs/addr"
	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/super"
	"github.com/mit-pdos/go-sifs/util"
)

// InodeAlloc owns the inode bitmap and sb.NFreeInode. Inode 0 is never handed
// out; the root is taken by Init.
type InodeAlloc struct {
	mu *sync.Mutex
	sb *super.FsSuper
	a  *Alloc
}

// MkInodeAlloc wraps bitmap, which must span the superblock's inode bitmap
// region.
func MkInodeAlloc(sb *super.FsSuper, bitmap []byte) *InodeAlloc {
	if uint64(len(bitmap)) != sb.Bytes(sb.NInodeBitmap()) {
		panic(fmt.Sprintf("MkInodeAlloc: bitmap %d bytes, region %d blocks",
			len(bitmap), sb.NInodeBitmap()))
	}
	return &InodeAlloc{
		mu: new(sync.Mutex),
		sb: sb,
		a:  MkAlloc(bitmap, 1, uint64(sb.NInode)),
	}
}

// Init clears the bitmap, reserves inode 0 and the root, and resets the free
// counter.
func (ia *InodeAlloc) Init() {
	ia.mu.Lock()
	defer ia.mu.Unlock()
	ia.a.Reset()
	ia.a.MarkUsed(uint64(common.NULLINUM))
	ia.a.MarkUsed(uint64(ia.sb.RootInum))
	ia.sb.NFreeInode = ia.sb.NInode - uint32(common.NRESERVEDINODES)
}

func (ia *InodeAlloc) Bitmap() []byte {
	return ia.a.bitmap
}

// Addr is the disk location of inum's bit.
func (ia *InodeAlloc) Addr(inum common.Inum) addr.Addr {
	return Bit(common.Bnum(ia.sb.InodeBitmapStart), uint64(inum), uint64(ia.sb.BlockSize))
}

// IsAllocated is true for inode 0 and for anything past the last inode.
func (ia *InodeAlloc) IsAllocated(inum common.Inum) bool {
	ia.mu.Lock()
	defer ia.mu.Unlock()
	if inum == common.NULLINUM {
		return true
	}
	return ia.a.IsUsed(uint64(inum))
}

func (ia *InodeAlloc) Alloc() (common.Inum, error) {
	ia.mu.Lock()
	defer ia.mu.Unlock()
	n, ok := ia.a.AllocNum()
	if !ok {
		return common.NULLINUM, fmt.Errorf("alloc inode: %w", common.ErrExhausted)
	}
	ia.sb.NFreeInode--
	util.DPrintf(5, "alloc inode %d (%d free)\n", n, ia.sb.NFreeInode)
	return common.Inum(n), nil
}

// Free releases inum. Inode 0, the root, out-of-range and already-free
// inodes leave the bitmap and counter untouched.
func (ia *InodeAlloc) Free(inum common.Inum) error {
	ia.mu.Lock()
	defer ia.mu.Unlock()
	if inum == common.Inum(ia.sb.RootInum) {
		util.DPrintf(1, "free inode: root %d\n", inum)
		return fmt.Errorf("inode: free root %d: %w", inum, common.ErrProtected)
	}
	if err := ia.a.FreeNum(uint64(inum)); err != nil {
		util.DPrintf(1, "free inode: %v\n", err)
		return fmt.Errorf("inode: %w", err)
	}
	ia.sb.NFreeInode++
	util.DPrintf(5, "free inode %d (%d free)\n", inum, ia.sb.NFreeInode)
	return nil
}

// CountUsed scans the whole bitmap for entries in use, reserved ones
// included.
func (ia *InodeAlloc) CountUsed() uint64 {
	ia.mu.Lock()
	defer ia.mu.Unlock()
	return ia.a.NumUsed(0, ia.a.max)
}

// CountFree scans inodes [1, NInode) without consulting the counter.
func (ia *InodeAlloc) CountFree() uint64 {
	ia.mu.Lock()
	defer ia.mu.Unlock()
	return ia.a.NumFree()
}

// Audit compares the counter with the bitmap and checks that the reserved
// inodes are marked. Nothing is repaired.
func (ia *InodeAlloc) Audit() error {
	ia.mu.Lock()
	defer ia.mu.Unlock()
	if !ia.a.IsUsed(uint64(common.NULLINUM)) {
		return fmt.Errorf("inode bitmap: inode 0 not reserved: %w", common.ErrCorrupt)
	}
	if !ia.a.IsUsed(uint64(ia.sb.RootInum)) {
		return fmt.Errorf("inode bitmap: root %d free: %w", ia.sb.RootInum, common.ErrCorrupt)
	}
	n := ia.a.NumFree()
	if n != uint64(ia.sb.NFreeInode) {
		return CountMismatchError{Which: "inodes", Cached: uint64(ia.sb.NFreeInode), Scanned: n}
	}
	return nil
}
