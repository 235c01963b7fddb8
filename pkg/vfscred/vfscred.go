// Package vfscred defines the six-field credential record used for POSIX
// permission checks throughout the VFS kernel (spec 4.B).
package vfscred

// Credentials carries the real/saved/effective uid and gid pair used by
// permission checks. Only the effective pair (EUID/EGID) is consulted by
// HasAccess; the others are carried for completeness and future
// setuid/setgid-style checks.
type Credentials struct {
	UID  uint32
	GID  uint32
	SUID uint32
	SGID uint32
	EUID uint32
	EGID uint32
}

// Root is the credential set representing the superuser: all fields zero.
var Root = Credentials{}

// IsRoot reports whether the credentials' effective uid is 0.
func (c Credentials) IsRoot() bool {
	return c.EUID == 0
}

// New builds a Credentials with all six fields set to the given uid/gid
// (no distinction between real/saved/effective).
func New(uid, gid uint32) Credentials {
	return Credentials{UID: uid, GID: gid, SUID: uid, SGID: gid, EUID: uid, EGID: gid}
}
