package common

const (
	// Magic identifies a SIFS superblock ("SIFS").
	MAGIC uint32 = 0x53494653
	// FSNAME is recorded in the superblock of every new volume.
	FSNAME  = "SIFS v1.0"
	NAMELEN = 32

	DEFAULTBLOCKSZ uint64 = 512
	MINBLOCKSZ     uint64 = 512
	MAXBLOCKSZ     uint64 = 65536
	DEFAULTINODESZ uint64 = 128

	MINBLOCKS uint64 = 10
	MININODES uint64 = 2

	// inode 0 and the root directory
	NRESERVEDINODES uint64 = 2

	// superblock + both bitmaps + inode table, per region
	NMETAREGIONS = 4
)

type Inum uint64
type Bnum = uint64

const (
	NULLINUM Inum = 0
	ROOTINUM Inum = 1
	NULLBNUM Bnum = 0
)

// NBitBlock is the number of bitmap bits a block of sz bytes holds.
func NBitBlock(sz uint64) uint64 {
	return sz * 8
}
