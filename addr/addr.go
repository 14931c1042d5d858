package addr

import (
	"fmt"

	"github.com/mit-pdos/go-sifs/common"
)

// Addr identifies the start of a disk object.
//
// Blkno is the block number containing the object, and Off is the location of
// the object within the block (expressed as a bit offset). The size of the
// object is determined by the context in which Addr is used: a single bit for
// bitmap entries, one inode record for inode table slots.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // offset in bits
}

func (a Addr) String() string {
	return fmt.Sprintf("%d:%d", a.Blkno, a.Off)
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkBitAddr returns the address of bit n of a bitmap that starts at block
// start.
func MkBitAddr(start common.Bnum, n uint64, blockSz uint64) Addr {
	nbit := common.NBitBlock(blockSz)
	bit := n % nbit
	i := n / nbit
	return MkAddr(start+common.Bnum(i), bit)
}

// MkByteAddr returns the address of byte off of a region that starts at
// block start.
func MkByteAddr(start common.Bnum, off uint64, blockSz uint64) Addr {
	return MkAddr(start+common.Bnum(off/blockSz), (off%blockSz)*8)
}
