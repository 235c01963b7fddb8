// Package vfsbackend defines the FileSystem contract every backend engine
// (kvstore, overlay, mirror, folderfs) implements, plus the default
// read/write/append helpers built atop Open, per spec 4.F.
package vfsbackend

import (
	"context"

	"github.com/objectfs/vfscore/internal/vfsfile"
	"github.com/objectfs/vfscore/pkg/vfscred"
	"github.com/objectfs/vfscore/pkg/vfserr"
	"github.com/objectfs/vfscore/pkg/vfsflag"
	"github.com/objectfs/vfscore/pkg/vfsinode"
)

// Metadata describes a backend's static capabilities. The overlay engine
// ANDs its two layers' Synchronous flags, the mirror engine takes its sync
// side's Name and forces Synchronous, and folderfs checks ReadOnly. The
// mount table and LockedFS do not read it (LockedFS detects the sync call
// surface through SyncCapable instead).
type Metadata struct {
	Name          string
	Synchronous   bool
	ReadOnly      bool
	CaseSensitive bool
}

// FileSystem is the contract every storage engine implements: the kv store
// engine over memkv/s3kv, the overlay union, the async mirror, and the
// folder adapter all satisfy this interface, and the mount table dispatches
// purely against it.
type FileSystem interface {
	Metadata() Metadata

	Stat(ctx context.Context, path string) (vfsinode.Stats, error)
	Exists(ctx context.Context, path string) bool
	ReadDir(ctx context.Context, path string) ([]string, error)

	Mkdir(ctx context.Context, path string, perm uint16, cred vfscred.Credentials) error
	Rmdir(ctx context.Context, path string, cred vfscred.Credentials) error
	Unlink(ctx context.Context, path string, cred vfscred.Credentials) error
	Rename(ctx context.Context, oldPath, newPath string, cred vfscred.Credentials) error

	Open(ctx context.Context, path string, flag vfsflag.FileFlag, perm uint16, cred vfscred.Credentials) (*vfsfile.PreloadFile, error)

	Chmod(ctx context.Context, path string, perm uint16, cred vfscred.Credentials) error
	Chown(ctx context.Context, path string, uid, gid uint32, cred vfscred.Credentials) error
	Utimes(ctx context.Context, path string, atimeMs, mtimeMs float64, cred vfscred.Credentials) error
	Truncate(ctx context.Context, path string, size int64, cred vfscred.Credentials) error

	Link(ctx context.Context, oldPath, newPath string, cred vfscred.Credentials) error
	Symlink(ctx context.Context, target, linkPath string, cred vfscred.Credentials) error
	Readlink(ctx context.Context, path string) (string, error)
}

// SyncCapable is implemented by backends whose Metadata().Synchronous is
// true (the in-memory kv engine, the mirror engine's shadow side). LockedFS
// uses it to serve the "*Sync" call surface described in spec 4.I without
// taking the per-path mutex.
type SyncCapable interface {
	FileSystem
	OpenSync(path string, flag vfsflag.FileFlag, perm uint16, cred vfscred.Credentials) (*vfsfile.PreloadFile, error)
	StatSync(path string) (vfsinode.Stats, error)
}

// ReadFile opens path for reading, reads the whole buffer, and closes it —
// the default convenience built atop Open, per spec 4.F.
func ReadFile(ctx context.Context, fs FileSystem, path string, cred vfscred.Credentials) ([]byte, error) {
	flag, err := vfsflag.Parse("r")
	if err != nil {
		return nil, err
	}
	f, err := fs.Open(ctx, path, flag, 0, cred)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	data := f.Bytes()
	return data, nil
}

// WriteFile opens (creating/truncating) path for writing, writes data, and
// closes it.
func WriteFile(ctx context.Context, fs FileSystem, path string, data []byte, perm uint16, cred vfscred.Credentials) error {
	flag, err := vfsflag.Parse("w")
	if err != nil {
		return err
	}
	f, err := fs.Open(ctx, path, flag, perm, cred)
	if err != nil {
		return err
	}
	if _, err := f.Write(data, 0); err != nil {
		f.Close(ctx)
		return err
	}
	return f.Close(ctx)
}

// AppendFile opens (creating if needed) path in append mode and writes data.
func AppendFile(ctx context.Context, fs FileSystem, path string, data []byte, perm uint16, cred vfscred.Credentials) error {
	flag, err := vfsflag.Parse("a")
	if err != nil {
		return err
	}
	f, err := fs.Open(ctx, path, flag, perm, cred)
	if err != nil {
		return err
	}
	if _, err := f.Write(data, -1); err != nil {
		f.Close(ctx)
		return err
	}
	return f.Close(ctx)
}

// TruncateFile truncates path to size through the backend's own Truncate,
// without opening a file handle here.
func TruncateFile(ctx context.Context, fs FileSystem, path string, size int64, cred vfscred.Credentials) error {
	return fs.Truncate(ctx, path, size, cred)
}

// Realpath resolves "." and ".." segments and collapses repeated slashes
// without consulting the backend (pure path arithmetic), matching spec
// 4.F/4.M's realpath contract. Backends that support symlinks override
// resolution through Readlink at the mount-table layer.
func Realpath(path string) string {
	if path == "" {
		return "/"
	}
	segs := make([]string, 0, 8)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			seg := path[start:i]
			start = i + 1
			switch seg {
			case "", ".":
				// skip
			case "..":
				if len(segs) > 0 {
					segs = segs[:len(segs)-1]
				}
			default:
				segs = append(segs, seg)
			}
		}
	}
	out := "/"
	for i, s := range segs {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

// ErrReadOnly is returned by mutating operations on a read-only backend.
func ErrReadOnly(path string) error {
	return vfserr.New(vfserr.EROFS, "filesystem is read-only").WithPath(path)
}
