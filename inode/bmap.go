package inode

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/util"
)

// NINDIRECT is the number of block pointers an indirect block of blockSz
// bytes holds.
func NINDIRECT(blockSz uint64) uint64 {
	return blockSz / 4
}

// MaxBlocks is the number of data blocks a file can address.
func (ip *Inode) MaxBlocks(blockSz uint64) uint64 {
	return uint64(len(ip.Direct)) + NINDIRECT(blockSz)
}

// NBlocks returns how many blocks the file occupies: its data blocks, plus
// the indirect block once the direct pointers are exhausted.
func (ip *Inode) NBlocks(blockSz uint64) uint64 {
	n := util.RoundUp(uint64(ip.Size), blockSz)
	if n > uint64(len(ip.Direct)) {
		n++
	}
	return n
}

// BlockReader reads one whole block of the volume.
type BlockReader func(bn common.Bnum) ([]byte, error)

// Bmap translates logical block i of the file into a volume block number.
// Blocks past the direct pointers are looked up in the indirect block through
// read. An unset pointer maps to NULLBNUM.
func (ip *Inode) Bmap(i uint64, blockSz uint64, read BlockReader) (common.Bnum, error) {
	if i < uint64(len(ip.Direct)) {
		return common.Bnum(ip.Direct[i]), nil
	}
	if i >= ip.MaxBlocks(blockSz) {
		return common.NULLBNUM, fmt.Errorf("%w: logical block %d, file holds at most %d",
			common.ErrOutOfRange, i, ip.MaxBlocks(blockSz))
	}
	if ip.Indirect == 0 {
		util.DPrintf(5, "Bmap: no indirect block for %d\n", i)
		return common.NULLBNUM, nil
	}
	blk, err := read(common.Bnum(ip.Indirect))
	if err != nil {
		return common.NULLBNUM, fmt.Errorf("reading indirect block %d: %w", ip.Indirect, err)
	}
	if uint64(len(blk)) != blockSz {
		panic("Bmap: reader returned a partial block")
	}
	off := (i - uint64(len(ip.Direct))) * 4
	dec := marshal.NewDec(blk[off : off+4])
	return common.Bnum(dec.GetInt32()), nil
}

// SetBmap records bn as logical block i. For indices past the direct
// pointers, indblk is the contents of the indirect block, which the caller
// must have allocated (ip.Indirect) and is responsible for writing back;
// SetBmap reports whether it modified indblk.
func (ip *Inode) SetBmap(i uint64, bn common.Bnum, blockSz uint64, indblk []byte) (bool, error) {
	if i < uint64(len(ip.Direct)) {
		ip.Direct[i] = uint32(bn)
		return false, nil
	}
	if i >= ip.MaxBlocks(blockSz) {
		return false, fmt.Errorf("%w: logical block %d, file holds at most %d",
			common.ErrOutOfRange, i, ip.MaxBlocks(blockSz))
	}
	if ip.Indirect == 0 || uint64(len(indblk)) != blockSz {
		return false, fmt.Errorf("%w: logical block %d needs an indirect block",
			common.ErrInvalidConfig, i)
	}
	off := (i - uint64(len(ip.Direct))) * 4
	enc := marshal.NewEnc(4)
	enc.PutInt32(uint32(bn))
	copy(indblk[off:off+4], enc.Finish())
	return true, nil
}
