// Package vfsflag parses open-mode flag strings (and POSIX O_* numeric
// combinations) into a FileFlag carrying the derived read/write/append/
// sync/exclusive/truncate traits and the exists/not-exists action table,
// per spec 4.D.
package vfsflag

import (
	"syscall"

	"github.com/objectfs/vfscore/pkg/vfserr"
)

// Action is what open() should do when the target path does or doesn't
// exist.
type Action int

const (
	ActionNone Action = iota
	ActionThrow
	ActionCreateFile
	ActionTruncateFile
	ActionNop
)

// FileFlag is a parsed open-mode flag.
type FileFlag struct {
	flagString string

	read      bool
	write     bool
	append    bool
	sync      bool
	exclusive bool
	truncate  bool
}

// validFlagStrings is the twelve-member valid set from spec 4.D.
var validFlagStrings = map[string]FileFlag{
	"r":   {read: true},
	"r+":  {read: true, write: true},
	"rs":  {read: true, sync: true},
	"rs+": {read: true, write: true, sync: true},
	"w":   {write: true, truncate: true},
	"wx":  {write: true, truncate: true, exclusive: true},
	"w+":  {read: true, write: true, truncate: true},
	"wx+": {read: true, write: true, truncate: true, exclusive: true},
	"a":   {write: true, append: true},
	"ax":  {write: true, append: true, exclusive: true},
	"a+":  {read: true, write: true, append: true},
	"ax+": {read: true, write: true, append: true, exclusive: true},
}

// Parse parses one of the twelve valid flag strings.
func Parse(s string) (FileFlag, error) {
	f, ok := validFlagStrings[s]
	if !ok {
		return FileFlag{}, vfserr.Newf(vfserr.EINVAL, "invalid flag string: %q", s)
	}
	f.flagString = s
	return f, nil
}

// ParseNumeric maps a POSIX O_* bit combination to a FileFlag, per spec
// 4.D's "standard POSIX O_* bit combinations".
func ParseNumeric(n int) (FileFlag, error) {
	var f FileFlag

	switch n & (syscall.O_RDONLY | syscall.O_WRONLY | syscall.O_RDWR) {
	case syscall.O_RDONLY:
		f.read = true
	case syscall.O_WRONLY:
		f.write = true
	case syscall.O_RDWR:
		f.read = true
		f.write = true
	default:
		return FileFlag{}, vfserr.Newf(vfserr.EINVAL, "invalid access mode in numeric flag %#o", n)
	}

	f.append = n&syscall.O_APPEND != 0
	f.sync = n&syscall.O_SYNC != 0
	f.exclusive = n&syscall.O_EXCL != 0
	f.truncate = n&syscall.O_TRUNC != 0

	if f.append {
		f.write = true
	}

	f.flagString = f.deriveString()
	if f.flagString == "" {
		return FileFlag{}, vfserr.Newf(vfserr.EINVAL, "numeric flag %#o has no equivalent flag string", n)
	}
	return f, nil
}

// deriveString recovers the canonical flag string for a numeric-derived
// FileFlag, so GetFlagString is consistent regardless of origin.
func (f FileFlag) deriveString() string {
	for s, candidate := range validFlagStrings {
		if candidate.read == f.read && candidate.write == f.write &&
			candidate.append == f.append && candidate.exclusive == f.exclusive &&
			candidate.truncate == f.truncate {
			// sync doesn't gate the string table (only "r"/"rs" differ by it)
			if s == "rs" || s == "rs+" {
				if f.sync {
					return s
				}
				continue
			}
			if f.sync && (s == "r" || s == "r+") {
				continue
			}
			return s
		}
	}
	return ""
}

// GetFlagString returns the original (or derived) flag string.
func (f FileFlag) GetFlagString() string { return f.flagString }

func (f FileFlag) IsReadable() bool  { return f.read }
func (f FileFlag) IsWriteable() bool { return f.write }
func (f FileFlag) IsAppendable() bool { return f.append }
func (f FileFlag) IsSynchronous() bool { return f.sync }
func (f FileFlag) IsExclusive() bool  { return f.exclusive }
func (f FileFlag) IsTruncating() bool { return f.truncate }

// PathExistsAction returns what open() should do when the path exists, per
// the spec 4.D table.
func (f FileFlag) PathExistsAction() Action {
	switch {
	case f.exclusive:
		return ActionThrow
	case f.truncate:
		return ActionTruncateFile
	case f.append:
		return ActionNop
	default:
		// covers "r" and "r+"
		return ActionNop
	}
}

// PathNotExistsAction returns what open() should do when the path doesn't
// exist, per the spec 4.D table.
func (f FileFlag) PathNotExistsAction() Action {
	switch {
	case f.exclusive, f.truncate, f.append:
		return ActionCreateFile
	default:
		// "r" and "r+"
		return ActionThrow
	}
}

// DerivedMode returns the access-check mode bits spec 4.D describes for
// open-time permission checks: readable sets 0o4, writable sets 0o2, and
// execute (0o1) is always 0.
func (f FileFlag) DerivedMode() uint16 {
	var m uint16
	if f.read {
		m |= 0o4
	}
	if f.write {
		m |= 0o2
	}
	return m
}
