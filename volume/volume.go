// Package volume loads a formatted image into memory so that it can be
// inspected, checked and written back.
package volume

import (
	"fmt"

	"github.com/mit-pdos/go-sifs/alloc"
	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/disk"
	"github.com/mit-pdos/go-sifs/inode"
	"github.com/mit-pdos/go-sifs/itable"
	"github.com/mit-pdos/go-sifs/super"
	"github.com/mit-pdos/go-sifs/util"
)

type Volume struct {
	d    disk.Disk
	meta []byte // blocks [0, DataStart)

	Super  *super.FsSuper
	Inodes *alloc.InodeAlloc
	Blocks *alloc.BlockAlloc
	Table  *itable.Table
}

func (v *Volume) region(start common.Bnum, n uint64) []byte {
	lo := v.Super.Pos(start)
	return v.meta[lo : lo+v.Super.Bytes(n)]
}

// Load reads the superblock and every metadata region of the image on d.
func Load(d disk.Disk) (*Volume, error) {
	hdr := make([]byte, super.SUPERSZ)
	if err := d.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	sb, err := super.Decode(hdr)
	if err != nil {
		return nil, err
	}
	sz, err := d.Size()
	if err != nil {
		return nil, err
	}
	if want := sb.Bytes(uint64(sb.NBlock)); sz < want {
		return nil, fmt.Errorf("%w: image is %d bytes, superblock describes %d",
			common.ErrCorrupt, sz, want)
	}

	v := &Volume{d: d, Super: sb, meta: make([]byte, sb.Bytes(sb.NMeta()))}
	if err := d.ReadAt(v.meta, 0); err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	v.Inodes = alloc.MkInodeAlloc(sb, v.region(common.Bnum(sb.InodeBitmapStart), sb.NInodeBitmap()))
	v.Blocks = alloc.MkBlockAlloc(sb, v.region(common.Bnum(sb.BlockBitmapStart), sb.NBlockBitmap()))
	v.Table = itable.MkTable(sb, v.region(common.Bnum(sb.InodeTableStart), sb.NInodeTable()))
	util.DPrintf(1, "Load: %v\n", sb)
	return v, nil
}

// Open loads the image at path. Close releases it.
func Open(path string) (*Volume, error) {
	d, err := disk.NewFileDisk(path, false)
	if err != nil {
		return nil, err
	}
	v, err := Load(d)
	if err != nil {
		d.Close()
		return nil, err
	}
	return v, nil
}

// ReadBlock reads block bn straight from the image.
func (v *Volume) ReadBlock(bn common.Bnum) ([]byte, error) {
	if bn >= v.Super.MaxBnum() {
		return nil, fmt.Errorf("block %d: %w", bn, common.ErrOutOfRange)
	}
	b := make([]byte, v.Super.BlockSize)
	if err := v.d.ReadAt(b, v.Super.Pos(bn)); err != nil {
		return nil, fmt.Errorf("reading block %d: %w", bn, err)
	}
	return b, nil
}

// Flush writes the superblock, both bitmaps and the inode table back, in
// that order, and waits for them to be durable.
func (v *Volume) Flush() error {
	copy(v.region(0, 1), v.Super.Encode())
	for _, r := range v.Super.Regions() {
		if err := v.d.WriteAt(v.region(r.Start, r.Len), v.Super.Pos(r.Start)); err != nil {
			return fmt.Errorf("writing %s: %w", r.Name, err)
		}
	}
	return v.d.Barrier()
}

func (v *Volume) Close() error {
	return v.d.Close()
}

// checkPointer reports a block pointer of inum that leaves the data region
// or names a block the bitmap says is free.
func (v *Volume) checkPointer(inum common.Inum, what string, bn common.Bnum) error {
	if bn == common.NULLBNUM {
		return nil
	}
	if bn < common.Bnum(v.Super.DataStart) || bn >= v.Super.MaxBnum() {
		return fmt.Errorf("%w: inode %d %s points at block %d outside data region",
			common.ErrCorrupt, inum, what, bn)
	}
	if !v.Blocks.IsAllocated(bn) {
		return fmt.Errorf("%w: inode %d %s points at free block %d",
			common.ErrCorrupt, inum, what, bn)
	}
	return nil
}

func (v *Volume) checkInode(inum common.Inum) []error {
	ip, err := v.Table.Read(inum)
	if err != nil {
		return []error{err}
	}
	if err := ip.Valid(); err != nil {
		return []error{fmt.Errorf("inode %d: %w", inum, err)}
	}
	var errs []error
	bs := uint64(v.Super.BlockSize)
	for i, bn := range ip.Direct {
		if err := v.checkPointer(inum, fmt.Sprintf("direct[%d]", i), common.Bnum(bn)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.checkPointer(inum, "indirect", common.Bnum(ip.Indirect)); err != nil {
		return append(errs, err)
	}
	if ip.Indirect == 0 {
		return errs
	}
	var indblk []byte
	read := func(bn common.Bnum) ([]byte, error) {
		if indblk == nil {
			b, err := v.ReadBlock(bn)
			if err != nil {
				return nil, err
			}
			indblk = b
		}
		return indblk, nil
	}
	n := util.RoundUp(uint64(ip.Size), bs)
	for i := uint64(len(ip.Direct)); i < util.Min(n, ip.MaxBlocks(bs)); i++ {
		bn, err := ip.Bmap(i, bs, read)
		if err != nil {
			return append(errs, fmt.Errorf("inode %d block %d: %w", inum, i, err))
		}
		if err := v.checkPointer(inum, fmt.Sprintf("block %d", i), bn); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Check returns every inconsistency it finds; none means the image is
// consistent. Nothing is repaired.
func (v *Volume) Check() []error {
	var errs []error
	sb := v.Super
	if err := v.Inodes.Audit(); err != nil {
		errs = append(errs, err)
	}
	if err := v.Blocks.VerifyMetadata(); err != nil {
		errs = append(errs, err)
	}
	if n := v.Blocks.CountFree(); n != uint64(sb.NFreeBlock) {
		errs = append(errs, alloc.CountMismatchError{
			Which: "blocks", Cached: uint64(sb.NFreeBlock), Scanned: n})
	}

	// read failures are reported with the other allocated inodes below
	if root, err := v.Table.Read(common.Inum(sb.RootInum)); err == nil && !root.IsDir() {
		errs = append(errs, fmt.Errorf("%w: root inode is a %s", common.ErrCorrupt, root.TypeString()))
	}

	for inum := common.ROOTINUM; inum < sb.MaxInum(); inum++ {
		if !v.Inodes.IsAllocated(inum) {
			continue
		}
		errs = append(errs, v.checkInode(inum)...)
	}
	for _, err := range errs {
		util.DPrintf(1, "Check: %v\n", err)
	}
	return errs
}

// Stat summarizes the image for display.
type Stat struct {
	Super      *super.FsSuper
	Root       *inode.Inode
	UsedInodes uint64
	UsedBlocks uint64
}

func (v *Volume) Stat() (Stat, error) {
	root, err := v.Table.Read(common.Inum(v.Super.RootInum))
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Super:      v.Super,
		Root:       root,
		UsedInodes: v.Inodes.CountUsed(),
		UsedBlocks: v.Blocks.CountUsed(),
	}, nil
}
