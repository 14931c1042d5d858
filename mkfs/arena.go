package mkfs

import (
	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/super"
)

// arena holds the in-memory copy of blocks [0, DataStart) while a volume is
// being formatted. Each metadata region is a window into it.
type arena struct {
	sb  *super.FsSuper
	buf []byte
}

func mkArena(sb *super.FsSuper) *arena {
	return &arena{
		sb:  sb,
		buf: make([]byte, sb.Bytes(sb.NMeta())),
	}
}

func (a *arena) region(start common.Bnum, n uint64) []byte {
	lo := a.sb.Pos(start)
	return a.buf[lo : lo+a.sb.Bytes(n)]
}

// release drops the buffer; the region slices handed out must not be used
// afterwards.
func (a *arena) release() {
	a.buf = nil
}
