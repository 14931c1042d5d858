package itable

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/inode"
	"github.com/mit-pdos/go-sifs/super"
)

var epoch = time.Unix(1700000000, 0)

func mkTable(t *testing.T, size uint64, p super.Params) *Table {
	sb, err := super.MkFsSuper(size, p)
	require.NoError(t, err)
	tbl := MkTable(sb, make([]byte, sb.Bytes(sb.NInodeTable())))
	tbl.Now = func() time.Time { return epoch }
	return tbl
}

func TestInitRoot(t *testing.T) {
	assert := assert.New(t)
	tbl := mkTable(t, 10*512, super.Params{InodeSize: 64, NInode: 2})
	require.NoError(t, tbl.Init(0755, 0, 0))

	root, err := tbl.Read(common.ROOTINUM)
	require.NoError(t, err)
	assert.True(root.IsDir())
	assert.Equal(uint32(2), root.Links)
	assert.Equal(uint32(0), root.Size)
	assert.Equal(uint32(inode.S_IFDIR|0755), root.Mode)
	assert.Equal(uint64(epoch.Unix()), root.Ctime)
	assert.Len(root.Direct, 3)
	assert.NoError(root.Valid())
}

func TestInitZeroes(t *testing.T) {
	tbl := mkTable(t, 100*512, super.Params{NInode: 37})
	for i := range tbl.Data() {
		tbl.Data()[i] = 0xaa
	}
	require.NoError(t, tbl.Init(0700, 1, 1))
	_, err := tbl.Read(2)
	assert.ErrorIs(t, err, common.ErrCorrupt)
	assert.Equal(t, byte(0), tbl.Data()[0], "slot 0 stays zero")
}

func TestRange(t *testing.T) {
	tbl := mkTable(t, 100*512, super.Params{NInode: 37})
	require.NoError(t, tbl.Init(0755, 0, 0))
	for _, inum := range []common.Inum{common.NULLINUM, 37, 1 << 40} {
		_, err := tbl.Read(inum)
		assert.ErrorIs(t, err, common.ErrOutOfRange, "read %d", inum)
		assert.ErrorIs(t, tbl.Write(inum, tbl.MkInode(inode.S_IFREG, 0, 0)),
			common.ErrOutOfRange, "write %d", inum)
	}
}

func TestMagicMismatch(t *testing.T) {
	tbl := mkTable(t, 100*512, super.Params{NInode: 37})
	require.NoError(t, tbl.Init(0755, 0, 0))

	_, err := tbl.Read(5)
	var bad inode.BadMagicError
	require.True(t, errors.As(err, &bad))
	assert.Equal(t, uint32(0), bad.Found)
	assert.NotErrorIs(t, err, common.ErrOutOfRange)

	// overwrite the root's magic tag
	tbl.Data()[128] ^= 0xff
	_, err = tbl.Read(common.ROOTINUM)
	assert.ErrorIs(t, err, common.ErrCorrupt)
}

func TestWriteRead(t *testing.T) {
	assert := assert.New(t)
	tbl := mkTable(t, 100*512, super.Params{NInode: 37})
	require.NoError(t, tbl.Init(0755, 0, 0))

	ip := tbl.MkInode(inode.S_IFREG|0644, 1000, 100)
	ip.Size = 3000
	ip.Direct[0] = 40
	ip.Direct[5] = 45
	ip.Indirect = 90
	tbl.Now = func() time.Time { return epoch.Add(time.Hour) }
	require.NoError(t, tbl.Write(36, ip))
	assert.Equal(uint64(epoch.Add(time.Hour).Unix()), ip.Ctime)

	ip2, err := tbl.Read(36)
	require.NoError(t, err)
	assert.Equal(ip, ip2)

	root, err := tbl.Read(common.ROOTINUM)
	require.NoError(t, err)
	assert.True(root.IsDir(), "neighbors untouched")
}

func TestWriteWrongCapacity(t *testing.T) {
	tbl := mkTable(t, 100*512, super.Params{NInode: 37})
	ip := inode.MkInode(inode.S_IFREG, 0, 0, 3, epoch)
	assert.ErrorIs(t, tbl.Write(2, ip), common.ErrInvalidConfig)
}

func TestPosition(t *testing.T) {
	assert := assert.New(t)
	tbl := mkTable(t, 100*512, super.Params{NInode: 37})

	blk, off, err := tbl.Position(3)
	assert.NoError(err)
	assert.Equal(common.Bnum(0), blk)
	assert.Equal(uint64(384), off)

	blk, off, err = tbl.Position(4)
	assert.NoError(err)
	assert.Equal(common.Bnum(1), blk)
	assert.Equal(uint64(0), off)

	blk, off, err = tbl.Position(36)
	assert.NoError(err)
	assert.Equal(common.Bnum(9), blk)
	assert.Equal(uint64(0), off)

	a, err := tbl.Addr(5)
	assert.NoError(err)
	assert.Equal(common.Bnum(tbl.sb.InodeTableStart)+1, a.Blkno)
	assert.Equal(uint64(128*8), a.Off)
}

func TestPositionClamped(t *testing.T) {
	tbl := mkTable(t, 100*512, super.Params{NInode: 37})
	require.NoError(t, tbl.Init(0755, 0, 0))
	// a superblock claiming more inodes than its table holds
	tbl.sb.NInode = 100

	blk, off, err := tbl.Position(60)
	assert.ErrorIs(t, err, common.ErrCorrupt)
	assert.Equal(t, common.Bnum(0), blk)
	assert.Equal(t, uint64(0), off)

	_, err = tbl.Read(60)
	assert.ErrorIs(t, err, common.ErrCorrupt)
	assert.ErrorIs(t, tbl.Write(60, tbl.MkInode(inode.S_IFREG, 0, 0)), common.ErrCorrupt)
}

func TestConcurrentWrites(t *testing.T) {
	tbl := mkTable(t, 100*512, super.Params{NInode: 37})
	require.NoError(t, tbl.Init(0755, 0, 0))
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for inum := common.Inum(2); inum < 37; inum++ {
				ip := tbl.MkInode(inode.S_IFREG|0600, uint32(g), 0)
				ip.Size = uint32(inum)
				assert.NoError(t, tbl.Write(inum, ip))
			}
		}(g)
	}
	wg.Wait()
	for inum := common.Inum(2); inum < 37; inum++ {
		ip, err := tbl.Read(inum)
		require.NoError(t, err)
		assert.Equal(t, uint32(inum), ip.Size)
		assert.NoError(t, ip.Valid())
	}
}
