// Package vfsinode implements the filesystem metadata record (Stats) and the
// on-disk inode record, per spec 3 and 4.C.
package vfsinode

import (
	"encoding/binary"
	"fmt"
)

// NodeType is the type of a filesystem entity, stored in the top 4 bits of
// a mode value.
type NodeType uint16

const (
	TypeFile      NodeType = 1
	TypeDirectory NodeType = 2
	TypeSymlink   NodeType = 3
)

const (
	typeShift = 12
	typeMask  = 0xF << typeShift
	permMask  = 0x0FFF
)

// ModeOf builds a mode value from a type and permission bits.
func ModeOf(t NodeType, perm uint16) uint16 {
	return uint16(t)<<typeShift | (perm & permMask)
}

// TypeOf extracts the type from the upper 4 bits of a mode value.
func TypeOf(mode uint16) NodeType {
	return NodeType(mode & typeMask >> typeShift)
}

// PermOf extracts the permission bits (lower 12 bits) of a mode value.
func PermOf(mode uint16) uint16 {
	return mode & permMask
}

// Stats is the file metadata record returned by stat/fstat/lstat.
type Stats struct {
	Size        int64
	Mode        uint16
	AtimeMs     float64
	MtimeMs     float64
	CtimeMs     float64
	BirthtimeMs float64
	UID         uint32
	GID         uint32
	Nlink       uint32
	Blksize     uint32
	Dev         uint32
	Ino         uint32
	Rdev        uint32
}

// NewStats builds a Stats record with the fixed defaults spec 3 mandates:
// nlink=1, blksize=4096, dev=ino=rdev=0, blocks derived from size.
func NewStats(t NodeType, perm uint16, uid, gid uint32, nowMs float64) Stats {
	return Stats{
		Mode:        ModeOf(t, perm),
		AtimeMs:     nowMs,
		MtimeMs:     nowMs,
		CtimeMs:     nowMs,
		BirthtimeMs: nowMs,
		UID:         uid,
		GID:         gid,
		Nlink:       1,
		Blksize:     4096,
	}
}

// Type returns the node type encoded in Mode.
func (s Stats) Type() NodeType { return TypeOf(s.Mode) }

// IsFile reports whether s describes a regular file.
func (s Stats) IsFile() bool { return s.Type() == TypeFile }

// IsDirectory reports whether s describes a directory.
func (s Stats) IsDirectory() bool { return s.Type() == TypeDirectory }

// IsSymlink reports whether s describes a symbolic link.
func (s Stats) IsSymlink() bool { return s.Type() == TypeSymlink }

// Blocks returns ceil(size/512), per spec 3.
func (s Stats) Blocks() int64 {
	if s.Size <= 0 {
		return 0
	}
	return (s.Size + 511) / 512
}

// Chmod sets the permission bits of s while preserving the type bits, per
// spec 3's invariant ("type bits are preserved across chmod").
func (s Stats) Chmod(perm uint16) Stats {
	s.Mode = ModeOf(s.Type(), perm)
	return s
}

// Chown sets uid/gid unless the values are non-finite or out of u32 range,
// per spec 3 ("chown ignores non-finite or out-of-u32 values"). Since Go's
// uint32 parameters can't carry NaN/Inf, the guard is expressed as an
// accept/reject pair of int64 inputs so callers coming from a
// dynamically-typed boundary (e.g. the FUSE adapter) can reject bad input
// before it ever reaches this type.
func (s Stats) Chown(uid, gid int64) (Stats, bool) {
	if uid < 0 || uid > 0xFFFFFFFF || gid < 0 || gid > 0xFFFFFFFF {
		return s, false
	}
	s.UID = uint32(uid)
	s.GID = uint32(gid)
	return s, true
}

// serializedStatsLen is the Stats wire length: u32 size, u32 mode, f64
// atime, f64 mtime, f64 ctime, u32 uid, u32 gid, 40 bytes in all.
const serializedStatsLen = 4 + 4 + 8 + 8 + 8 + 4 + 4

// Serialize encodes the little-endian wire form: u32 size, u32 mode, f64
// atime, f64 mtime, f64 ctime, u32 uid, u32 gid.
func (s Stats) Serialize() []byte {
	buf := make([]byte, serializedStatsLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.Size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.Mode))
	binary.LittleEndian.PutUint64(buf[8:16], f64bits(s.AtimeMs))
	binary.LittleEndian.PutUint64(buf[16:24], f64bits(s.MtimeMs))
	binary.LittleEndian.PutUint64(buf[24:32], f64bits(s.CtimeMs))
	binary.LittleEndian.PutUint32(buf[32:36], s.UID)
	binary.LittleEndian.PutUint32(buf[36:40], s.GID)
	return buf
}

// DeserializeStats decodes the wire form written by Serialize.
func DeserializeStats(buf []byte) (Stats, error) {
	if len(buf) < serializedStatsLen {
		return Stats{}, fmt.Errorf("vfsinode: short stats buffer: %d bytes", len(buf))
	}
	var s Stats
	s.Size = int64(binary.LittleEndian.Uint32(buf[0:4]))
	s.Mode = uint16(binary.LittleEndian.Uint32(buf[4:8]))
	s.AtimeMs = f64frombits(binary.LittleEndian.Uint64(buf[8:16]))
	s.MtimeMs = f64frombits(binary.LittleEndian.Uint64(buf[16:24]))
	s.CtimeMs = f64frombits(binary.LittleEndian.Uint64(buf[24:32]))
	s.UID = binary.LittleEndian.Uint32(buf[32:36])
	s.GID = binary.LittleEndian.Uint32(buf[36:40])
	s.Nlink = 1
	s.Blksize = 4096
	return s, nil
}
