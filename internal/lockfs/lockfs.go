package lockfs

import (
	"context"

	"github.com/objectfs/vfscore/internal/vfsbackend"
	"github.com/objectfs/vfscore/internal/vfsfile"
	"github.com/objectfs/vfscore/pkg/vfscred"
	"github.com/objectfs/vfscore/pkg/vfserr"
	"github.com/objectfs/vfscore/pkg/vfsflag"
	"github.com/objectfs/vfscore/pkg/vfsinode"
)

// LockedFS wraps a FileSystem F, serializing every operation by the
// per-path mutex on its primary path (for rename/link/symlink, the source
// path), per spec 4.I. If the wrapped backend also implements SyncCapable,
// its "*Sync" twin methods refuse with EBUSY ("invalid sync call") whenever
// the path is currently locked, instead of taking the mutex themselves.
type LockedFS struct {
	inner vfsbackend.FileSystem
	sync  vfsbackend.SyncCapable // nil if the wrapped backend has no sync twins
	mu    *PathMutex
}

// New wraps inner. If inner also implements vfsbackend.SyncCapable, its
// sync call surface is exposed through LockedFS's *Sync methods.
func New(inner vfsbackend.FileSystem) *LockedFS {
	syncCapable, _ := inner.(vfsbackend.SyncCapable)
	return &LockedFS{inner: inner, sync: syncCapable, mu: NewPathMutex()}
}

func (l *LockedFS) withLock(path string, fn func() error) error {
	l.mu.Lock(path)
	defer l.mu.Unlock(path)
	return fn()
}

func (l *LockedFS) Metadata() vfsbackend.Metadata { return l.inner.Metadata() }

func (l *LockedFS) Stat(ctx context.Context, path string) (vfsinode.Stats, error) {
	var stat vfsinode.Stats
	err := l.withLock(path, func() error {
		var err error
		stat, err = l.inner.Stat(ctx, path)
		return err
	})
	return stat, err
}

func (l *LockedFS) Exists(ctx context.Context, path string) bool {
	var exists bool
	l.withLock(path, func() error {
		exists = l.inner.Exists(ctx, path)
		return nil
	})
	return exists
}

func (l *LockedFS) ReadDir(ctx context.Context, path string) ([]string, error) {
	var names []string
	err := l.withLock(path, func() error {
		var err error
		names, err = l.inner.ReadDir(ctx, path)
		return err
	})
	return names, err
}

func (l *LockedFS) Mkdir(ctx context.Context, path string, perm uint16, cred vfscred.Credentials) error {
	return l.withLock(path, func() error { return l.inner.Mkdir(ctx, path, perm, cred) })
}

func (l *LockedFS) Rmdir(ctx context.Context, path string, cred vfscred.Credentials) error {
	return l.withLock(path, func() error { return l.inner.Rmdir(ctx, path, cred) })
}

func (l *LockedFS) Unlink(ctx context.Context, path string, cred vfscred.Credentials) error {
	return l.withLock(path, func() error { return l.inner.Unlink(ctx, path, cred) })
}

// Rename locks the source path, per spec 4.I's "for two-path operations,
// on the source path".
func (l *LockedFS) Rename(ctx context.Context, oldPath, newPath string, cred vfscred.Credentials) error {
	return l.withLock(oldPath, func() error { return l.inner.Rename(ctx, oldPath, newPath, cred) })
}

func (l *LockedFS) Open(ctx context.Context, path string, flag vfsflag.FileFlag, perm uint16, cred vfscred.Credentials) (*vfsfile.PreloadFile, error) {
	var f *vfsfile.PreloadFile
	err := l.withLock(path, func() error {
		var err error
		f, err = l.inner.Open(ctx, path, flag, perm, cred)
		return err
	})
	return f, err
}

func (l *LockedFS) Chmod(ctx context.Context, path string, perm uint16, cred vfscred.Credentials) error {
	return l.withLock(path, func() error { return l.inner.Chmod(ctx, path, perm, cred) })
}

func (l *LockedFS) Chown(ctx context.Context, path string, uid, gid uint32, cred vfscred.Credentials) error {
	return l.withLock(path, func() error { return l.inner.Chown(ctx, path, uid, gid, cred) })
}

func (l *LockedFS) Utimes(ctx context.Context, path string, atimeMs, mtimeMs float64, cred vfscred.Credentials) error {
	return l.withLock(path, func() error { return l.inner.Utimes(ctx, path, atimeMs, mtimeMs, cred) })
}

func (l *LockedFS) Truncate(ctx context.Context, path string, size int64, cred vfscred.Credentials) error {
	return l.withLock(path, func() error { return l.inner.Truncate(ctx, path, size, cred) })
}

func (l *LockedFS) Link(ctx context.Context, oldPath, newPath string, cred vfscred.Credentials) error {
	return l.withLock(oldPath, func() error { return l.inner.Link(ctx, oldPath, newPath, cred) })
}

func (l *LockedFS) Symlink(ctx context.Context, target, linkPath string, cred vfscred.Credentials) error {
	return l.withLock(target, func() error { return l.inner.Symlink(ctx, target, linkPath, cred) })
}

func (l *LockedFS) Readlink(ctx context.Context, path string) (string, error) {
	var target string
	err := l.withLock(path, func() error {
		var err error
		target, err = l.inner.Readlink(ctx, path)
		return err
	})
	return target, err
}

// errInvalidSyncCall is spec 4.I's "invalid sync call" rejection.
func errInvalidSyncCall(path string) error {
	return vfserr.New(vfserr.EBUSY, "invalid sync call").WithPath(path)
}

// StatSync delegates directly to the wrapped SyncCapable backend without
// taking the mutex, refusing if path is currently locked by a concurrent
// async operation.
func (l *LockedFS) StatSync(path string) (vfsinode.Stats, error) {
	if l.sync == nil {
		return vfsinode.Stats{}, vfserr.New(vfserr.ENOTSUP, "wrapped backend has no sync call surface").WithPath(path)
	}
	if l.mu.IsLocked(path) {
		return vfsinode.Stats{}, errInvalidSyncCall(path)
	}
	return l.sync.StatSync(path)
}

// OpenSync delegates directly to the wrapped SyncCapable backend without
// taking the mutex, refusing if path is currently locked.
func (l *LockedFS) OpenSync(path string, flag vfsflag.FileFlag, perm uint16, cred vfscred.Credentials) (*vfsfile.PreloadFile, error) {
	if l.sync == nil {
		return nil, vfserr.New(vfserr.ENOTSUP, "wrapped backend has no sync call surface").WithPath(path)
	}
	if l.mu.IsLocked(path) {
		return nil, errInvalidSyncCall(path)
	}
	return l.sync.OpenSync(path, flag, perm, cred)
}
