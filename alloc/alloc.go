// Package alloc hands out inode and block numbers from on-disk bitmaps.
//
// Bit n of a bitmap (bit n%8 of byte n/8) is 1 when number n is in use.
// InodeAlloc and BlockAlloc keep the superblock's free counters in step with
// their bitmaps and serialize their callers; Alloc itself does neither.
package alloc

import (
	"fmt"

	"github.com/mit-pdos/go-sifs/addr"
	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/util"
)

// zeroBits[b] is the number of clear bits in b.
var zeroBits = mkZeroBits()

func mkZeroBits() [256]uint8 {
	var t [256]uint8
	for i := 0; i < 256; i++ {
		n := uint8(8)
		for b := i; b != 0; b >>= 1 {
			n -= uint8(b & 1)
		}
		t[i] = n
	}
	return t
}

func popCnt(b byte) uint64 {
	return 8 - uint64(zeroBits[b])
}

// Offset locates the bit for number n.
func Offset(n uint64) (uint64, uint8) {
	return n / 8, uint8(n % 8)
}

// Index is the inverse of Offset.
func Index(byteOff uint64, bit uint8) uint64 {
	return byteOff*8 + uint64(bit)
}

// Bit is the disk address of the bit for n in a bitmap region that starts
// at block start.
func Bit(start common.Bnum, n uint64, blockSz uint64) addr.Addr {
	return addr.MkBitAddr(start, n, blockSz)
}

// countZeros counts the clear bits for numbers in [lo, hi). Bits of the first
// and last byte outside the range are masked off, so padding past the last
// entity never counts as free.
func countZeros(bitmap []byte, lo uint64, hi uint64) uint64 {
	if lo >= hi {
		return 0
	}
	first, firstBit := Offset(lo)
	last, lastBit := Offset(hi - 1)
	var n uint64
	for i := first; i <= last; i++ {
		b := bitmap[i]
		if i == first {
			b |= byte(1)<<firstBit - 1
		}
		if i == last {
			b |= ^(byte(1)<<(lastBit+1) - 1)
		}
		n += uint64(zeroBits[b])
	}
	return n
}

// Alloc manages numbers [0, max) of a bitmap, handing out those in
// [start, max).
type Alloc struct {
	bitmap []byte
	start  uint64
	max    uint64
}

func MkAlloc(bitmap []byte, start uint64, max uint64) *Alloc {
	if uint64(len(bitmap))*8 < max {
		panic(fmt.Sprintf("MkAlloc: %d-byte bitmap for %d entries", len(bitmap), max))
	}
	return &Alloc{
		bitmap: bitmap,
		start:  start,
		max:    max,
	}
}

// MkMaxAlloc returns an allocator over a fresh bitmap for [0, max) with 0
// reserved.
func MkMaxAlloc(max uint64) *Alloc {
	a := MkAlloc(make([]byte, util.RoundUp(max, 8)), 1, max)
	a.MarkUsed(0)
	return a
}

// Reset clears the whole bitmap, padding included.
func (a *Alloc) Reset() {
	for i := range a.bitmap {
		a.bitmap[i] = 0
	}
}

// IsUsed reports whether n is taken. Numbers past the end count as taken.
func (a *Alloc) IsUsed(n uint64) bool {
	if n >= a.max {
		return true
	}
	byteOff, bit := Offset(n)
	return a.bitmap[byteOff]&(1<<bit) != 0
}

func (a *Alloc) MarkUsed(n uint64) {
	if n >= a.max {
		panic(fmt.Sprintf("MarkUsed: %d of %d", n, a.max))
	}
	byteOff, bit := Offset(n)
	a.bitmap[byteOff] |= 1 << bit
}

func (a *Alloc) markFree(n uint64) {
	byteOff, bit := Offset(n)
	a.bitmap[byteOff] &^= 1 << bit
}

// AllocNum takes the lowest free number at or above start.
func (a *Alloc) AllocNum() (uint64, bool) {
	n := a.start
	for n < a.max {
		byteOff, bit := Offset(n)
		b := a.bitmap[byteOff]
		if bit == 0 && b == 0xff {
			n += 8
			continue
		}
		if b&(1<<bit) == 0 {
			a.bitmap[byteOff] = b | 1<<bit
			util.DPrintf(10, "AllocNum: %d byte 0x%x\n", n, a.bitmap[byteOff])
			return n, true
		}
		n++
	}
	return 0, false
}

// FreeNum releases n. Numbers below start, past the end, or already free are
// left alone and reported.
func (a *Alloc) FreeNum(n uint64) error {
	if n < a.start {
		return fmt.Errorf("free %d: %w (below %d)", n, common.ErrProtected, a.start)
	}
	if n >= a.max {
		return fmt.Errorf("free %d: %w (max %d)", n, common.ErrOutOfRange, a.max)
	}
	if !a.IsUsed(n) {
		return fmt.Errorf("free %d: %w", n, common.ErrDoubleFree)
	}
	a.markFree(n)
	return nil
}

// NumFree scans the bitmap for free numbers in [start, max).
func (a *Alloc) NumFree() uint64 {
	return countZeros(a.bitmap, a.start, a.max)
}

// NumUsed counts the taken numbers in [lo, hi).
func (a *Alloc) NumUsed(lo uint64, hi uint64) uint64 {
	if hi > a.max {
		hi = a.max
	}
	if lo >= hi {
		return 0
	}
	return hi - lo - countZeros(a.bitmap, lo, hi)
}
