package vfsinode

import (
	"encoding/binary"
	"fmt"

	"github.com/objectfs/vfscore/pkg/vfscred"
)

// RootID is the fixed inode id of the filesystem root, per spec 3.
const RootID = "/"

const serializedInodeFixedLen = 4 + 2 + 8 + 8 + 8 + 4 + 4 // == 38, per spec 4.C

// Inode is the metadata record for a filesystem entity, stored under its own
// id and referencing a data-blob keyed by that same id.
type Inode struct {
	ID      string
	Size    uint32
	Mode    uint16
	AtimeMs float64
	MtimeMs float64
	CtimeMs float64
	UID     uint32
	GID     uint32
}

// NewInode builds an Inode with the given id, type, permission bits, owner
// and timestamp (all three times set to nowMs).
func NewInode(id string, t NodeType, perm uint16, size uint32, uid, gid uint32, nowMs float64) Inode {
	return Inode{
		ID:      id,
		Size:    size,
		Mode:    ModeOf(t, perm),
		AtimeMs: nowMs,
		MtimeMs: nowMs,
		CtimeMs: nowMs,
		UID:     uid,
		GID:     gid,
	}
}

// Type returns the node type encoded in Mode.
func (n Inode) Type() NodeType { return TypeOf(n.Mode) }

// IsFile reports whether n describes a regular file.
func (n Inode) IsFile() bool { return n.Type() == TypeFile }

// IsDirectory reports whether n describes a directory.
func (n Inode) IsDirectory() bool { return n.Type() == TypeDirectory }

// IsSymlink reports whether n describes a symbolic link.
func (n Inode) IsSymlink() bool { return n.Type() == TypeSymlink }

// ToStats extracts a Stats record from the inode.
func (n Inode) ToStats() Stats {
	return Stats{
		Size:        int64(n.Size),
		Mode:        n.Mode,
		AtimeMs:     n.AtimeMs,
		MtimeMs:     n.MtimeMs,
		CtimeMs:     n.CtimeMs,
		UID:         n.UID,
		GID:         n.GID,
		Nlink:       1,
		Blksize:     4096,
	}
}

// Update syncs size, mode, and the three timestamps from a Stats record,
// returning whether anything actually changed (used by the key-value engine
// to avoid an unnecessary inode write, spec 4.G's _sync). Unlike the
// teacher-language source's bug (comparing uid twice instead of uid then
// gid, noted in spec 9), this compares both uid and gid.
func (n *Inode) Update(s Stats) bool {
	changed := false
	if n.Size != uint32(s.Size) {
		n.Size = uint32(s.Size)
		changed = true
	}
	if n.Mode != s.Mode {
		n.Mode = s.Mode
		changed = true
	}
	if n.AtimeMs != s.AtimeMs {
		n.AtimeMs = s.AtimeMs
		changed = true
	}
	if n.MtimeMs != s.MtimeMs {
		n.MtimeMs = s.MtimeMs
		changed = true
	}
	if n.CtimeMs != s.CtimeMs {
		n.CtimeMs = s.CtimeMs
		changed = true
	}
	if n.UID != s.UID {
		n.UID = s.UID
		changed = true
	}
	if n.GID != s.GID {
		n.GID = s.GID
		changed = true
	}
	return changed
}

// Serialize encodes the wire form: 38 fixed little-endian bytes (u32 size,
// u16 mode, f64 atime, f64 mtime, f64 ctime, u32 uid, u32 gid) followed by
// the utf-8 id.
func (n Inode) Serialize() []byte {
	buf := make([]byte, serializedInodeFixedLen+len(n.ID))
	binary.LittleEndian.PutUint32(buf[0:4], n.Size)
	binary.LittleEndian.PutUint16(buf[4:6], n.Mode)
	binary.LittleEndian.PutUint64(buf[6:14], f64bits(n.AtimeMs))
	binary.LittleEndian.PutUint64(buf[14:22], f64bits(n.MtimeMs))
	binary.LittleEndian.PutUint64(buf[22:30], f64bits(n.CtimeMs))
	binary.LittleEndian.PutUint32(buf[30:34], n.UID)
	binary.LittleEndian.PutUint32(buf[34:38], n.GID)
	copy(buf[38:], n.ID)
	return buf
}

// Deserialize decodes the wire form written by Serialize.
func Deserialize(buf []byte) (Inode, error) {
	if len(buf) < serializedInodeFixedLen {
		return Inode{}, fmt.Errorf("vfsinode: short inode buffer: %d bytes", len(buf))
	}
	var n Inode
	n.Size = binary.LittleEndian.Uint32(buf[0:4])
	n.Mode = binary.LittleEndian.Uint16(buf[4:6])
	n.AtimeMs = f64frombits(binary.LittleEndian.Uint64(buf[6:14]))
	n.MtimeMs = f64frombits(binary.LittleEndian.Uint64(buf[14:22]))
	n.CtimeMs = f64frombits(binary.LittleEndian.Uint64(buf[22:30]))
	n.UID = binary.LittleEndian.Uint32(buf[30:34])
	n.GID = binary.LittleEndian.Uint32(buf[34:38])
	n.ID = string(buf[38:])
	return n, nil
}

// Access bits, matching the lower 12 mode bits' rwx-per-class layout.
const (
	ownerRead  = 0o400
	ownerWrite = 0o200
	groupRead  = 0o040
	groupWrite = 0o020
	otherRead  = 0o004
	otherWrite = 0o002
)

// HasAccess reports whether cred may perform the requested access (read,
// and/or write) against a node with the given mode and ownership. Root
// (EUID 0) always has access.
func HasAccess(mode uint16, uid, gid uint32, cred vfscred.Credentials, write bool) bool {
	if cred.IsRoot() {
		return true
	}
	perm := PermOf(mode)
	var bit uint16
	switch {
	case cred.EUID == uid:
		if write {
			bit = ownerWrite
		} else {
			bit = ownerRead
		}
	case cred.EGID == gid:
		if write {
			bit = groupWrite
		} else {
			bit = groupRead
		}
	default:
		if write {
			bit = otherWrite
		} else {
			bit = otherRead
		}
	}
	return perm&bit != 0
}
