// Package inode defines the fixed-size on-disk inode record.
//
// A record is, in order: magic, size, mode, link count, access, modify and
// status-change times, N direct block pointers, one indirect block pointer,
// owner uid and gid, then zero padding up to the volume's inode record size.
// N is fixed per volume and follows from the record size (see NDirect).
package inode

import (
	"fmt"
	"time"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-sifs/common"
	"github.com/mit-pdos/go-sifs/util"
)

const (
	// MAGIC tags every written record ("INOD").
	MAGIC uint32 = 0x494E4F44

	// FIXEDSZ is the encoded size of everything but the direct pointers.
	FIXEDSZ uint64 = 4*4 + 3*8 + 3*4
	// MINSZ holds a record with a single direct pointer.
	MINSZ = FIXEDSZ + 4
)

const (
	S_IFMT  uint32 = 0xF000
	S_IFREG uint32 = 0x8000
	S_IFDIR uint32 = 0x4000
	S_IFLNK uint32 = 0xA000

	S_IRUSR uint32 = 0400
	S_IWUSR uint32 = 0200
	S_IXUSR uint32 = 0100
	S_IRGRP uint32 = 040
	S_IWGRP uint32 = 020
	S_IXGRP uint32 = 010
	S_IROTH uint32 = 04
	S_IWOTH uint32 = 02
	S_IXOTH uint32 = 01

	S_IRWXU = S_IRUSR | S_IWUSR | S_IXUSR
	S_IRWXG = S_IRGRP | S_IWGRP | S_IXGRP
	S_IRWXO = S_IROTH | S_IWOTH | S_IXOTH

	PERMMASK = S_IRWXU | S_IRWXG | S_IRWXO
)

// Access bits for CanAccess.
const (
	MAY_READ  uint32 = 4
	MAY_WRITE uint32 = 2
	MAY_EXEC  uint32 = 1
)

type Inode struct {
	Magic uint32
	Size  uint32
	Mode  uint32
	Links uint32

	Atime uint64
	Mtime uint64
	Ctime uint64

	Direct   []uint32
	Indirect uint32

	Uid uint32
	Gid uint32
}

// BadMagicError reports a record whose tag is not MAGIC, i.e. a slot that
// was never written or has been overwritten.
type BadMagicError struct {
	Found uint32
}

func (err BadMagicError) Error() string {
	return fmt.Sprintf("bad inode magic: wanted `%#08x`; found `%#08x`",
		MAGIC, err.Found)
}

func (err BadMagicError) Unwrap() error {
	return common.ErrCorrupt
}

// NDirect is the number of direct pointers a record of sz bytes holds.
func NDirect(sz uint64) uint64 {
	if sz < MINSZ {
		return 0
	}
	return (sz - FIXEDSZ) / 4
}

// MkInode returns a fresh record. Directories start with two links, for
// their own entry and their parent's.
func MkInode(mode uint32, uid uint32, gid uint32, ndirect uint64, now time.Time) *Inode {
	t := uint64(now.Unix())
	ip := &Inode{
		Magic:  MAGIC,
		Mode:   mode,
		Links:  1,
		Atime:  t,
		Mtime:  t,
		Ctime:  t,
		Direct: make([]uint32, ndirect),
		Uid:    uid,
		Gid:    gid,
	}
	if ip.IsDir() {
		ip.Links = 2
	}
	util.DPrintf(5, "MkInode: %s perm %03o uid %d gid %d links %d\n",
		ip.TypeString(), mode&PERMMASK, uid, gid, ip.Links)
	return ip
}

// MkRootInode returns the root directory record, owned by uid and gid.
func MkRootInode(perm uint32, uid uint32, gid uint32, ndirect uint64, now time.Time) *Inode {
	return MkInode(S_IFDIR|(perm&PERMMASK), uid, gid, ndirect, now)
}

// Encode returns the record padded to sz bytes.
func (ip *Inode) Encode(sz uint64) []byte {
	if uint64(len(ip.Direct)) != NDirect(sz) {
		panic(fmt.Sprintf("inode has %d direct pointers, record of %d bytes holds %d",
			len(ip.Direct), sz, NDirect(sz)))
	}
	enc := marshal.NewEnc(sz)
	enc.PutInt32(ip.Magic)
	enc.PutInt32(ip.Size)
	enc.PutInt32(ip.Mode)
	enc.PutInt32(ip.Links)
	enc.PutInt(ip.Atime)
	enc.PutInt(ip.Mtime)
	enc.PutInt(ip.Ctime)
	for _, bn := range ip.Direct {
		enc.PutInt32(bn)
	}
	enc.PutInt32(ip.Indirect)
	enc.PutInt32(ip.Uid)
	enc.PutInt32(ip.Gid)
	return enc.Finish()
}

// Decode parses a record of len(b) bytes without validating it.
func Decode(b []byte) *Inode {
	n := NDirect(uint64(len(b)))
	if n == 0 {
		panic(fmt.Sprintf("inode record of %d bytes is too small", len(b)))
	}
	dec := marshal.NewDec(b)
	ip := &Inode{}
	ip.Magic = dec.GetInt32()
	ip.Size = dec.GetInt32()
	ip.Mode = dec.GetInt32()
	ip.Links = dec.GetInt32()
	ip.Atime = dec.GetInt()
	ip.Mtime = dec.GetInt()
	ip.Ctime = dec.GetInt()
	ip.Direct = make([]uint32, n)
	for i := range ip.Direct {
		ip.Direct[i] = dec.GetInt32()
	}
	ip.Indirect = dec.GetInt32()
	ip.Uid = dec.GetInt32()
	ip.Gid = dec.GetInt32()
	return ip
}

func (ip *Inode) Type() uint32 {
	return ip.Mode & S_IFMT
}

func (ip *Inode) IsDir() bool {
	return ip.Type() == S_IFDIR
}

func (ip *Inode) IsReg() bool {
	return ip.Type() == S_IFREG
}

func (ip *Inode) IsLnk() bool {
	return ip.Type() == S_IFLNK
}

func (ip *Inode) TypeString() string {
	switch ip.Type() {
	case S_IFREG:
		return "file"
	case S_IFDIR:
		return "directory"
	case S_IFLNK:
		return "symlink"
	default:
		return "unknown"
	}
}

// Valid checks what every allocated record must satisfy.
func (ip *Inode) Valid() error {
	if ip.Magic != MAGIC {
		return BadMagicError{Found: ip.Magic}
	}
	switch ip.Type() {
	case S_IFREG, S_IFDIR, S_IFLNK:
	default:
		return fmt.Errorf("%w: inode type %#x", common.ErrCorrupt, ip.Type())
	}
	if ip.Links == 0 {
		return fmt.Errorf("%w: allocated inode with no links", common.ErrCorrupt)
	}
	return nil
}

func (ip *Inode) TouchAtime(now time.Time) {
	ip.Atime = uint64(now.Unix())
}

func (ip *Inode) TouchMtime(now time.Time) {
	ip.Mtime = uint64(now.Unix())
}

// CanAccess reports whether uid/gid may perform every access in want
// (MAY_READ, MAY_WRITE, MAY_EXEC). uid 0 may do anything.
func (ip *Inode) CanAccess(uid uint32, gid uint32, want uint32) bool {
	if uid == 0 {
		return true
	}
	var perm uint32
	if ip.Uid == uid {
		perm = (ip.Mode & S_IRWXU) >> 6
	} else if ip.Gid == gid {
		perm = (ip.Mode & S_IRWXG) >> 3
	} else {
		perm = ip.Mode & S_IRWXO
	}
	ok := perm&want == want
	util.DPrintf(5, "CanAccess: uid %d gid %d want %o have %o: %v\n",
		uid, gid, want, perm, ok)
	return ok
}
