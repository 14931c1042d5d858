// Package super holds the superblock: the record at block 0 that describes a
// volume's geometry and free-space counters. Bitmaps and the inode table carry
// no headers of their own; they are only meaningful relative to it.
package super

import (
	"bytes"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/util"
)

// SUPERSZ is the encoded size of the superblock; the rest of block 0 is zero.
const SUPERSZ uint64 = 4 + common.NAMELEN + 4*6 + 4*4 + 4 + 8 + 1

type FsSuper struct {
	Magic uint32
	Name  [common.NAMELEN]byte

	BlockSize uint32
	InodeSize uint32

	NInode     uint32
	NFreeInode uint32
	NBlock     uint32
	NFreeBlock uint32

	// first block of each region
	InodeBitmapStart uint32
	BlockBitmapStart uint32
	InodeTableStart  uint32
	DataStart        uint32

	RootInum  uint32
	LastMount uint64
	Clean     bool
}

// BadMagicError reports a block 0 that does not hold a SIFS superblock.
type BadMagicError struct {
	Found uint32
}

func (err BadMagicError) Error() string {
	return fmt.Sprintf("bad superblock magic: wanted `%#08x`; found `%#08x`",
		common.MAGIC, err.Found)
}

func (err BadMagicError) Unwrap() error {
	return common.ErrCorrupt
}

// Region is a run of blocks holding one kind of metadata.
type Region struct {
	Name  string
	Start common.Bnum
	Len   uint64
}

func (sb *FsSuper) NInodeBitmap() uint64 {
	return uint64(sb.BlockBitmapStart - sb.InodeBitmapStart)
}

func (sb *FsSuper) NBlockBitmap() uint64 {
	return uint64(sb.InodeTableStart - sb.BlockBitmapStart)
}

func (sb *FsSuper) NInodeTable() uint64 {
	return uint64(sb.DataStart - sb.InodeTableStart)
}

// NMeta counts the superblock, both bitmaps and the inode table.
func (sb *FsSuper) NMeta() uint64 {
	return uint64(sb.DataStart)
}

func (sb *FsSuper) NData() uint64 {
	return uint64(sb.NBlock) - sb.NMeta()
}

func (sb *FsSuper) MaxBnum() common.Bnum {
	return common.Bnum(sb.NBlock)
}

func (sb *FsSuper) MaxInum() common.Inum {
	return common.Inum(sb.NInode)
}

// Regions lists the metadata regions in on-disk order.
func (sb *FsSuper) Regions() []Region {
	return []Region{
		{"superblock", 0, 1},
		{"inode bitmap", common.Bnum(sb.InodeBitmapStart), sb.NInodeBitmap()},
		{"block bitmap", common.Bnum(sb.BlockBitmapStart), sb.NBlockBitmap()},
		{"inode table", common.Bnum(sb.InodeTableStart), sb.NInodeTable()},
	}
}

// Pos is the byte position of block bn in the image.
func (sb *FsSuper) Pos(bn common.Bnum) uint64 {
	return uint64(bn) * uint64(sb.BlockSize)
}

// Bytes is the size of n blocks.
func (sb *FsSuper) Bytes(n uint64) uint64 {
	return n * uint64(sb.BlockSize)
}

func (sb *FsSuper) NameString() string {
	return string(bytes.TrimRight(sb.Name[:], "\x00"))
}

func (sb *FsSuper) String() string {
	return fmt.Sprintf("%s: %d blocks of %d bytes (%d free), %d inodes of %d bytes (%d free); "+
		"[0] superblock, [%d] inode bitmap (%d), [%d] block bitmap (%d), "+
		"[%d] inode table (%d), [%d] data (%d)",
		sb.NameString(), sb.NBlock, sb.BlockSize, sb.NFreeBlock,
		sb.NInode, sb.InodeSize, sb.NFreeInode,
		sb.InodeBitmapStart, sb.NInodeBitmap(),
		sb.BlockBitmapStart, sb.NBlockBitmap(),
		sb.InodeTableStart, sb.NInodeTable(),
		sb.DataStart, sb.NData())
}

// Encode returns block 0 of the volume.
func (sb *FsSuper) Encode() []byte {
	enc := marshal.NewEnc(uint64(sb.BlockSize))
	enc.PutInt32(sb.Magic)
	enc.PutBytes(sb.Name[:])
	enc.PutInt32(sb.BlockSize)
	enc.PutInt32(sb.InodeSize)
	enc.PutInt32(sb.NInode)
	enc.PutInt32(sb.NFreeInode)
	enc.PutInt32(sb.NBlock)
	enc.PutInt32(sb.NFreeBlock)
	enc.PutInt32(sb.InodeBitmapStart)
	enc.PutInt32(sb.BlockBitmapStart)
	enc.PutInt32(sb.InodeTableStart)
	enc.PutInt32(sb.DataStart)
	enc.PutInt32(sb.RootInum)
	enc.PutInt(sb.LastMount)
	var clean byte
	if sb.Clean {
		clean = 1
	}
	enc.PutBytes([]byte{clean})
	return enc.Finish()
}

// Decode parses and validates a superblock from the start of b.
func Decode(b []byte) (*FsSuper, error) {
	if uint64(len(b)) < SUPERSZ {
		return nil, fmt.Errorf("decoding superblock: %w: %d bytes", common.ErrCorrupt, len(b))
	}
	dec := marshal.NewDec(b[:SUPERSZ])
	sb := &FsSuper{}
	sb.Magic = dec.GetInt32()
	if sb.Magic != common.MAGIC {
		return nil, fmt.Errorf("decoding superblock: %w", BadMagicError{sb.Magic})
	}
	copy(sb.Name[:], dec.GetBytes(common.NAMELEN))
	sb.BlockSize = dec.GetInt32()
	sb.InodeSize = dec.GetInt32()
	sb.NInode = dec.GetInt32()
	sb.NFreeInode = dec.GetInt32()
	sb.NBlock = dec.GetInt32()
	sb.NFreeBlock = dec.GetInt32()
	sb.InodeBitmapStart = dec.GetInt32()
	sb.BlockBitmapStart = dec.GetInt32()
	sb.InodeTableStart = dec.GetInt32()
	sb.DataStart = dec.GetInt32()
	sb.RootInum = dec.GetInt32()
	sb.LastMount = dec.GetInt()
	sb.Clean = dec.GetBytes(1)[0] != 0
	if err := sb.Validate(); err != nil {
		return nil, fmt.Errorf("decoding superblock: %w", err)
	}
	util.DPrintf(3, "Decode: %v\n", sb)
	return sb, nil
}

// Validate checks that the recorded geometry is the one the solver would
// produce for this block count, inode count and record size.
func (sb *FsSuper) Validate() error {
	corrupt := func(format string, a ...interface{}) error {
		return fmt.Errorf("%w: %s", common.ErrCorrupt, fmt.Sprintf(format, a...))
	}
	if sb.Magic != common.MAGIC {
		return BadMagicError{sb.Magic}
	}
	bsz := uint64(sb.BlockSize)
	if err := checkSizes(bsz, uint64(sb.InodeSize)); err != nil {
		return corrupt("%v", err)
	}
	if uint64(sb.NBlock) < common.MINBLOCKS || uint64(sb.NInode) < common.MININODES {
		return corrupt("%d blocks, %d inodes", sb.NBlock, sb.NInode)
	}
	g := measure(uint64(sb.NBlock), uint64(sb.NInode), bsz, uint64(sb.InodeSize))
	if sb.InodeBitmapStart != 1 ||
		uint64(sb.BlockBitmapStart) != 1+g.nibitmap ||
		uint64(sb.InodeTableStart) != 1+g.nibitmap+g.nbbitmap ||
		uint64(sb.DataStart) != g.nmeta() {
		return corrupt("region starts %d/%d/%d/%d do not match geometry",
			sb.InodeBitmapStart, sb.BlockBitmapStart, sb.InodeTableStart, sb.DataStart)
	}
	if sb.DataStart > sb.NBlock {
		return corrupt("data starts at %d past %d blocks", sb.DataStart, sb.NBlock)
	}
	if uint64(sb.NFreeBlock) > sb.NData() {
		return corrupt("%d free blocks, %d data blocks", sb.NFreeBlock, sb.NData())
	}
	if uint64(sb.NFreeInode) > uint64(sb.NInode)-common.NRESERVEDINODES {
		return corrupt("%d free inodes of %d", sb.NFreeInode, sb.NInode)
	}
	if common.Inum(sb.RootInum) != common.ROOTINUM {
		return corrupt("root inode %d", sb.RootInum)
	}
	return nil
}
