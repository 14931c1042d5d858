// Package mkfs writes a fresh, self-consistent volume: superblock, inode
// bitmap, block bitmap and inode table, in that order.
package mkfs

import (
	"fmt"
	"time"

	"github.com/mit-pdos/go-sifs/alloc"
	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/disk"
	"github.com/mit-pdos/go-sifs/itable"
	"github.com/mit-pdos/go-sifs/super"
	"github.com/mit-pdos/go-sifs/util"
)

const DEFAULTROOTPERM uint32 = 0755

type Options struct {
	super.Params

	RootUid  uint32
	RootGid  uint32
	RootPerm uint32 // permission bits of the root directory, used as given

	// Now supplies every timestamp written. Fixing it makes formatting
	// reproducible.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{RootPerm: DEFAULTROOTPERM, Now: time.Now}
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Format lays out a volume of size bytes on d and returns its superblock.
// Writes are not atomic: a failure part way leaves a torn image, and the
// remedy is to format again.
func Format(d disk.Disk, size uint64, opts Options) (*super.FsSuper, error) {
	opts = opts.withDefaults()
	sb, err := super.MkFsSuper(size, opts.Params)
	if err != nil {
		return nil, err
	}

	a := mkArena(sb)
	defer a.release()

	ia := alloc.MkInodeAlloc(sb, a.region(common.Bnum(sb.InodeBitmapStart), sb.NInodeBitmap()))
	ba := alloc.MkBlockAlloc(sb, a.region(common.Bnum(sb.BlockBitmapStart), sb.NBlockBitmap()))
	tbl := itable.MkTable(sb, a.region(common.Bnum(sb.InodeTableStart), sb.NInodeTable()))
	tbl.Now = opts.Now

	ia.Init()
	ba.Init()
	if err := tbl.Init(opts.RootPerm, opts.RootUid, opts.RootGid); err != nil {
		return nil, err
	}
	if err := ia.Audit(); err != nil {
		return nil, err
	}
	if err := ba.Audit(); err != nil {
		return nil, err
	}
	copy(a.region(0, 1), sb.Encode())

	for _, r := range sb.Regions() {
		util.DPrintf(3, "Format: %s at block %d, %d blocks\n", r.Name, r.Start, r.Len)
		if err := d.WriteAt(a.region(r.Start, r.Len), sb.Pos(r.Start)); err != nil {
			return nil, fmt.Errorf("writing %s: %w", r.Name, err)
		}
	}
	if err := d.Truncate(sb.Bytes(uint64(sb.NBlock))); err != nil {
		return nil, fmt.Errorf("sizing image: %w", err)
	}
	if err := d.Barrier(); err != nil {
		return nil, err
	}
	util.DPrintf(1, "Format: %v\n", sb)
	return sb, nil
}

// FormatFile formats the image at path, replacing whatever was there.
func FormatFile(path string, size uint64, opts Options) (sb *super.FsSuper, err error) {
	d, err := disk.NewFileDisk(path, true)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := d.Close(); cerr != nil && err == nil {
			sb, err = nil, cerr
		}
	}()
	return Format(d, size, opts)
}
