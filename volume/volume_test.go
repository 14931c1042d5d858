package volume

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-sifs/alloc"
	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/disk"
	"github.com/mit-pdos/go-sifs/inode"
	"github.com/mit-pdos/go-sifs/mkfs"
	"github.com/mit-pdos/go-sifs/super"
)

var epoch = time.Unix(1700000000, 0)

type VolumeSuite struct {
	suite.Suite
	d *disk.MemDisk
	v *Volume
}

func (suite *VolumeSuite) SetupTest() {
	suite.d = disk.NewMemDisk(0)
	opts := mkfs.DefaultOptions()
	opts.NInode = 37
	opts.Now = func() time.Time { return epoch }
	_, err := mkfs.Format(suite.d, 100*512, opts)
	suite.Require().NoError(err)
	suite.v = suite.load()
}

func (suite *VolumeSuite) load() *Volume {
	v, err := Load(suite.d)
	suite.Require().NoError(err)
	return v
}

func (suite *VolumeSuite) reload() {
	suite.Require().NoError(suite.v.Flush())
	suite.v = suite.load()
}

func TestVolumeSuite(t *testing.T) {
	suite.Run(t, new(VolumeSuite))
}

func (suite *VolumeSuite) TestFresh() {
	suite.Empty(suite.v.Check())
	st, err := suite.v.Stat()
	suite.Require().NoError(err)
	suite.Equal(uint64(2), st.UsedInodes)
	suite.Equal(uint64(suite.v.Super.DataStart), st.UsedBlocks)
	suite.True(st.Root.IsDir())
	suite.Equal(uint32(2), st.Root.Links)
}

func (suite *VolumeSuite) TestFreeRoot() {
	err := suite.v.Inodes.Free(common.ROOTINUM)
	suite.ErrorIs(err, common.ErrProtected)
	suite.True(suite.v.Inodes.IsAllocated(common.ROOTINUM))
	suite.reload()
	suite.Empty(suite.v.Check())
	st, err := suite.v.Stat()
	suite.Require().NoError(err)
	suite.Equal(uint64(2), st.UsedInodes)
}

func (suite *VolumeSuite) mkFile(nblocks uint64) (common.Inum, *inode.Inode) {
	v := suite.v
	inum, err := v.Inodes.Alloc()
	suite.Require().NoError(err)
	ip := v.Table.MkInode(inode.S_IFREG|0644, 1000, 1000)
	bs := uint64(v.Super.BlockSize)
	var indblk []byte
	for i := uint64(0); i < nblocks; i++ {
		if i == uint64(len(ip.Direct)) {
			ind, err := v.Blocks.Alloc()
			suite.Require().NoError(err)
			ip.Indirect = uint32(ind)
			indblk = make([]byte, bs)
		}
		bn, err := v.Blocks.Alloc()
		suite.Require().NoError(err)
		_, err = ip.SetBmap(i, bn, bs, indblk)
		suite.Require().NoError(err)
	}
	ip.Size = uint32(nblocks * bs)
	if indblk != nil {
		suite.Require().NoError(suite.d.WriteAt(indblk, v.Super.Pos(common.Bnum(ip.Indirect))))
	}
	suite.Require().NoError(v.Table.Write(inum, ip))
	return inum, ip
}

func (suite *VolumeSuite) TestFlushRoundTrip() {
	inum, ip := suite.mkFile(3)
	suite.Empty(suite.v.Check())
	suite.reload()

	suite.Empty(suite.v.Check())
	ip2, err := suite.v.Table.Read(inum)
	suite.Require().NoError(err)
	suite.Equal(ip, ip2)
	suite.Equal(uint32(37-3), suite.v.Super.NFreeInode)
	suite.Equal(uint32(suite.v.Super.NData()-3), suite.v.Super.NFreeBlock)
}

func (suite *VolumeSuite) TestIndirect() {
	_, ip := suite.mkFile(21)
	suite.reload()
	suite.Empty(suite.v.Check())

	bs := uint64(suite.v.Super.BlockSize)
	suite.Equal(uint64(22), ip.NBlocks(bs))
	bn, err := ip.Bmap(20, bs, suite.v.ReadBlock)
	suite.Require().NoError(err)
	suite.True(suite.v.Blocks.IsAllocated(bn))

	// freeing a block the file still maps is a leak the checker catches
	suite.Require().NoError(suite.v.Blocks.Free(bn))
	errs := suite.v.Check()
	suite.Require().Len(errs, 1)
	suite.ErrorIs(errs[0], common.ErrCorrupt)
	suite.Contains(errs[0].Error(), "free block")
}

func (suite *VolumeSuite) TestCountMismatch() {
	suite.v.Super.NFreeBlock--
	suite.reload()
	errs := suite.v.Check()
	suite.Require().Len(errs, 1)
	var mismatch alloc.CountMismatchError
	suite.Require().True(errors.As(errs[0], &mismatch))
	suite.Equal("blocks", mismatch.Which)
	suite.Equal(mismatch.Cached+1, mismatch.Scanned)
}

func (suite *VolumeSuite) TestMetadataBitCleared() {
	bm := suite.v.Blocks.Bitmap()
	bm[0] &^= 1 << 3
	errs := suite.v.Check()
	suite.Require().Len(errs, 1)
	suite.ErrorIs(errs[0], common.ErrCorrupt)
}

func (suite *VolumeSuite) TestUnwrittenSlot() {
	inum, err := suite.v.Inodes.Alloc()
	suite.Require().NoError(err)
	errs := suite.v.Check()
	suite.Require().Len(errs, 1)
	var bad inode.BadMagicError
	suite.True(errors.As(errs[0], &bad))
	suite.Contains(errs[0].Error(), "inode 2")
	suite.Equal(common.Inum(2), inum)
}

func (suite *VolumeSuite) TestBadPointers() {
	inum, ip := suite.mkFile(1)
	ip.Direct[1] = 3   // inode table
	ip.Direct[2] = 99  // free data block
	ip.Direct[3] = 100 // past the end
	suite.Require().NoError(suite.v.Table.Write(inum, ip))
	errs := suite.v.Check()
	suite.Len(errs, 3)
	for _, err := range errs {
		suite.ErrorIs(err, common.ErrCorrupt)
	}
}

func (suite *VolumeSuite) TestRootNotDir() {
	root, err := suite.v.Table.Read(common.ROOTINUM)
	suite.Require().NoError(err)
	root.Mode = inode.S_IFREG | 0644
	suite.Require().NoError(suite.v.Table.Write(common.ROOTINUM, root))
	errs := suite.v.Check()
	suite.Require().Len(errs, 1)
	suite.Contains(errs[0].Error(), "root inode is a file")
}

func (suite *VolumeSuite) TestTruncatedImage() {
	suite.Require().NoError(suite.d.Truncate(50 * 512))
	_, err := Load(suite.d)
	suite.ErrorIs(err, common.ErrCorrupt)
}

func (suite *VolumeSuite) TestReadBlockRange() {
	_, err := suite.v.ReadBlock(100)
	suite.ErrorIs(err, common.ErrOutOfRange)
	b, err := suite.v.ReadBlock(99)
	suite.NoError(err)
	suite.Len(b, 512)
}

func TestLoadBlank(t *testing.T) {
	_, err := Load(disk.NewMemDisk(10 * 512))
	var bad super.BadMagicError
	assert.True(t, errors.As(err, &bad))
	assert.ErrorIs(t, err, common.ErrCorrupt)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	_, err := mkfs.FormatFile(path, 1<<20, mkfs.DefaultOptions())
	require.NoError(t, err)

	v, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, v.Check())
	inum, err := v.Inodes.Alloc()
	require.NoError(t, err)
	require.NoError(t, v.Table.Write(inum, v.Table.MkInode(inode.S_IFDIR|0700, 0, 0)))
	require.NoError(t, v.Flush())
	require.NoError(t, v.Close())

	v, err = Open(path)
	require.NoError(t, err)
	defer v.Close()
	assert.Empty(t, v.Check())
	ip, err := v.Table.Read(inum)
	require.NoError(t, err)
	assert.True(t, ip.IsDir())
}
