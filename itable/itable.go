// Package itable reads and writes inode records in an in-memory copy of the
// inode table region.
package itable

import (
	"fmt"
	"time"

	"github.com/mit-pdos/go-sifs/addr"
	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/inode"
	"github.com/mit-pdos/go-sifs/lockmap"
	"github.com/mit-pdos/go-sifs/super"
	"github.com/mit-pdos/go-sifs/util"
)

type Table struct {
	sb    *super.FsSuper
	data  []byte
	locks *lockmap.LockMap

	// Now stamps ctime on every write.
	Now func() time.Time
}

// MkTable wraps data, which must span the superblock's inode table region.
func MkTable(sb *super.FsSuper, data []byte) *Table {
	if uint64(len(data)) != sb.Bytes(sb.NInodeTable()) {
		panic(fmt.Sprintf("MkTable: table %d bytes, region %d blocks",
			len(data), sb.NInodeTable()))
	}
	return &Table{
		sb:    sb,
		data:  data,
		locks: lockmap.MkLockMap(),
		Now:   time.Now,
	}
}

func (t *Table) Data() []byte {
	return t.data
}

func (t *Table) NDirect() uint64 {
	return inode.NDirect(uint64(t.sb.InodeSize))
}

// MkInode returns a fresh record sized for this table.
func (t *Table) MkInode(mode uint32, uid uint32, gid uint32) *inode.Inode {
	return inode.MkInode(mode, uid, gid, t.NDirect(), t.Now())
}

// Position returns the table block holding inum and the byte offset of its
// record within that block. A block past the end of the table means the
// superblock is inconsistent; the result is then slot 0 along with an
// error.
func (t *Table) Position(inum common.Inum) (common.Bnum, uint64, error) {
	bs := uint64(t.sb.BlockSize)
	off := uint64(inum) * uint64(t.sb.InodeSize)
	blk := off / bs
	if blk >= t.sb.NInodeTable() {
		util.DPrintf(1, "Position: inode %d in table block %d of %d\n",
			inum, blk, t.sb.NInodeTable())
		return 0, 0, fmt.Errorf("%w: inode %d maps to table block %d of %d",
			common.ErrCorrupt, inum, blk, t.sb.NInodeTable())
	}
	return common.Bnum(blk), off % bs, nil
}

// Addr is the disk address of inum's record.
func (t *Table) Addr(inum common.Inum) (addr.Addr, error) {
	if _, _, err := t.Position(inum); err != nil {
		return addr.MkAddr(common.Bnum(t.sb.InodeTableStart), 0), err
	}
	return addr.MkByteAddr(common.Bnum(t.sb.InodeTableStart),
		uint64(inum)*uint64(t.sb.InodeSize), uint64(t.sb.BlockSize)), nil
}

func (t *Table) checkRange(inum common.Inum) error {
	if inum == common.NULLINUM || inum >= t.sb.MaxInum() {
		return fmt.Errorf("inode %d: %w (table has %d)", inum, common.ErrOutOfRange, t.sb.NInode)
	}
	return nil
}

func (t *Table) slot(inum common.Inum) ([]byte, error) {
	blk, off, err := t.Position(inum)
	if err != nil {
		return nil, err
	}
	start := t.sb.Pos(blk) + off
	return t.data[start : start+uint64(t.sb.InodeSize)], nil
}

// Read returns a copy of inum's record. A record without the inode magic is
// reported as corrupt.
func (t *Table) Read(inum common.Inum) (*inode.Inode, error) {
	if err := t.checkRange(inum); err != nil {
		return nil, err
	}
	t.locks.Acquire(uint64(inum))
	defer t.locks.Release(uint64(inum))
	b, err := t.slot(inum)
	if err != nil {
		return nil, err
	}
	ip := inode.Decode(b)
	if ip.Magic != inode.MAGIC {
		util.DPrintf(1, "Read: inode %d magic %#x\n", inum, ip.Magic)
		return nil, fmt.Errorf("inode %d: %w", inum, inode.BadMagicError{Found: ip.Magic})
	}
	return ip, nil
}

// Write stores ip at inum, setting ip.Ctime to the table's clock first.
func (t *Table) Write(inum common.Inum, ip *inode.Inode) error {
	if err := t.checkRange(inum); err != nil {
		return err
	}
	if uint64(len(ip.Direct)) != t.NDirect() {
		return fmt.Errorf("%w: inode with %d direct pointers, table holds %d",
			common.ErrInvalidConfig, len(ip.Direct), t.NDirect())
	}
	t.locks.Acquire(uint64(inum))
	defer t.locks.Release(uint64(inum))
	b, err := t.slot(inum)
	if err != nil {
		return err
	}
	ip.Ctime = uint64(t.Now().Unix())
	copy(b, ip.Encode(uint64(t.sb.InodeSize)))
	return nil
}

// Init zeroes the table and writes a directory root at sb.RootInum.
func (t *Table) Init(perm uint32, uid uint32, gid uint32) error {
	for i := range t.data {
		t.data[i] = 0
	}
	root := inode.MkRootInode(perm, uid, gid, t.NDirect(), t.Now())
	return t.Write(common.Inum(t.sb.RootInum), root)
}
