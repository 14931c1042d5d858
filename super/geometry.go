package super

import (
	"fmt"
	"math"

	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/inode"
	"github.com/mit-pdos/go-sifs/util"
)

// Params selects the geometry of a new volume. Zero fields take defaults.
type Params struct {
	BlockSize uint64
	InodeSize uint64
	// NInode is the exact number of inodes, including inode 0. Zero picks one
	// inode per four blocks, shrunk until the metadata fits.
	NInode uint64
	Name   string
}

func (p Params) withDefaults() Params {
	if p.BlockSize == 0 {
		p.BlockSize = common.DEFAULTBLOCKSZ
	}
	if p.InodeSize == 0 {
		p.InodeSize = common.DEFAULTINODESZ
	}
	if p.Name == "" {
		p.Name = common.FSNAME
	}
	return p
}

// BitmapBlocks is the number of blocks a bitmap of n bits occupies.
func BitmapBlocks(n uint64, blockSz uint64) uint64 {
	return util.RoundUp(n, common.NBitBlock(blockSz))
}

// InodeTableBlocks is the number of blocks ninode records of inodeSz bytes
// occupy.
func InodeTableBlocks(ninode uint64, inodeSz uint64, blockSz uint64) uint64 {
	return util.RoundUp(ninode*inodeSz, blockSz)
}

type geometry struct {
	nblock   uint64
	ninode   uint64
	nibitmap uint64
	nbbitmap uint64
	nitable  uint64
}

func (g geometry) nmeta() uint64 {
	return 1 + g.nibitmap + g.nbbitmap + g.nitable
}

func measure(nblock, ninode, blockSz, inodeSz uint64) geometry {
	return geometry{
		nblock:   nblock,
		ninode:   ninode,
		nibitmap: BitmapBlocks(ninode, blockSz),
		nbbitmap: BitmapBlocks(nblock, blockSz),
		nitable:  InodeTableBlocks(ninode, inodeSz, blockSz),
	}
}

// solve finds an inode count whose metadata leaves at least one data block.
//
// Both the inode bitmap and the inode table cost are monotonic in ninode, so
// lowering ninode never grows the metadata; the loop runs at most
// ninode-MININODES times.
func solve(nblock, ninode, blockSz, inodeSz uint64, shrink bool) (geometry, error) {
	for {
		g := measure(nblock, ninode, blockSz, inodeSz)
		util.DPrintf(4, "solve: %d inodes -> %d metadata blocks of %d\n",
			ninode, g.nmeta(), nblock)
		if g.nmeta() < nblock {
			return g, nil
		}
		if !shrink || ninode <= common.MININODES {
			return g, fmt.Errorf("%w: %d inodes need %d metadata blocks, volume has %d",
				common.ErrInvalidConfig, ninode, g.nmeta(), nblock)
		}
		ninode--
	}
}

func isPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func checkSizes(blockSz uint64, inodeSz uint64) error {
	if !isPow2(blockSz) || blockSz < common.MINBLOCKSZ || blockSz > common.MAXBLOCKSZ {
		return fmt.Errorf("%w: block size %d", common.ErrInvalidConfig, blockSz)
	}
	if inodeSz < inode.MINSZ || inodeSz > blockSz {
		return fmt.Errorf("%w: inode size %d, must be in [%d, %d]",
			common.ErrInvalidConfig, inodeSz, inode.MINSZ, blockSz)
	}
	return nil
}

// MkFsSuper lays out a volume of size bytes: the superblock, the inode
// bitmap, the block bitmap, the inode table and then data, contiguously and
// in that order. The free counts assume only inode 0, the root inode and the
// metadata blocks are in use.
func MkFsSuper(size uint64, p Params) (*FsSuper, error) {
	p = p.withDefaults()
	if err := checkSizes(p.BlockSize, p.InodeSize); err != nil {
		return nil, err
	}
	if len(p.Name) > common.NAMELEN {
		return nil, fmt.Errorf("%w: name %q longer than %d bytes",
			common.ErrInvalidConfig, p.Name, common.NAMELEN)
	}

	nblock := util.RoundUp(size, p.BlockSize)
	if nblock < common.MINBLOCKS {
		return nil, fmt.Errorf("%w: %d bytes is %d blocks, need at least %d",
			common.ErrInvalidConfig, size, nblock, common.MINBLOCKS)
	}
	if nblock > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d blocks do not fit the superblock",
			common.ErrInvalidConfig, nblock)
	}

	shrink := p.NInode == 0
	ninode := p.NInode
	if shrink {
		ninode = nblock / 4
		if ninode < common.MININODES {
			ninode = common.MININODES
		}
	} else if ninode < common.MININODES || ninode > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d inodes", common.ErrInvalidConfig, ninode)
	}

	g, err := solve(nblock, ninode, p.BlockSize, p.InodeSize, shrink)
	if err != nil {
		return nil, err
	}

	sb := &FsSuper{
		Magic:      common.MAGIC,
		BlockSize:  uint32(p.BlockSize),
		InodeSize:  uint32(p.InodeSize),
		NInode:     uint32(g.ninode),
		NFreeInode: uint32(g.ninode - common.NRESERVEDINODES),
		NBlock:     uint32(g.nblock),
		NFreeBlock: uint32(g.nblock - g.nmeta()),
		RootInum:   uint32(common.ROOTINUM),
		Clean:      true,
	}
	copy(sb.Name[:], p.Name)
	sb.InodeBitmapStart = 1
	sb.BlockBitmapStart = sb.InodeBitmapStart + uint32(g.nibitmap)
	sb.InodeTableStart = sb.BlockBitmapStart + uint32(g.nbbitmap)
	sb.DataStart = sb.InodeTableStart + uint32(g.nitable)

	util.DPrintf(1, "MkFsSuper: %v\n", sb)
	return sb, nil
}
