// Package folderfs implements FolderAdapter (spec 4.L): a filesystem scoped
// to a fixed subtree of a wrapped backend, joining every path argument to
// the folder prefix and rewriting any error's path back out of absolute
// inner-FS terms into the caller's scoped terms. Named and shaped after the
// teacher's internal/adapter.Adapter (a thin wrapper struct built by a
// validating constructor), though the path-prefixing/rewriting logic itself
// has no teacher analogue and follows spec.md directly.
package folderfs

import (
	"context"
	"strings"

	"github.com/objectfs/vfscore/internal/vfsbackend"
	"github.com/objectfs/vfscore/internal/vfsfile"
	"github.com/objectfs/vfscore/pkg/vfscred"
	"github.com/objectfs/vfscore/pkg/vfserr"
	"github.com/objectfs/vfscore/pkg/vfsflag"
	"github.com/objectfs/vfscore/pkg/vfsinode"
)

// Adapter scopes every operation to folder within the wrapped FileSystem.
type Adapter struct {
	inner  vfsbackend.FileSystem
	folder string
}

// New builds an Adapter rooted at folder. If inner is read-only, folder
// must already exist; otherwise it is created (mkdir 0o777), per spec 4.L.
func New(ctx context.Context, inner vfsbackend.FileSystem, folder string, cred vfscred.Credentials) (*Adapter, error) {
	folder = normalizeFolder(folder)
	a := &Adapter{inner: inner, folder: folder}

	if inner.Metadata().ReadOnly {
		if !inner.Exists(ctx, folder) {
			return nil, vfserr.New(vfserr.ENOENT, "folder does not exist on read-only backend").WithPath(folder)
		}
		return a, nil
	}
	if !inner.Exists(ctx, folder) {
		if err := inner.Mkdir(ctx, folder, 0o777, cred); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func normalizeFolder(folder string) string {
	if folder == "" || folder == "/" {
		return "/"
	}
	if !strings.HasPrefix(folder, "/") {
		folder = "/" + folder
	}
	return strings.TrimSuffix(folder, "/")
}

// join maps a caller-scoped path onto the wrapped FS's absolute path.
func (a *Adapter) join(p string) string {
	if p == "/" {
		return a.folder
	}
	if a.folder == "/" {
		return p
	}
	return a.folder + p
}

// unjoin rewrites an inner absolute path back to the caller's scoped view,
// stripping a.folder and replacing it with "/".
func (a *Adapter) unjoin(inner string) string {
	if a.folder == "/" {
		return inner
	}
	if inner == a.folder {
		return "/"
	}
	if rest := strings.TrimPrefix(inner, a.folder); rest != inner {
		return rest
	}
	return inner
}

// rewriteErr rewrites the path carried on a *vfserr.Error from inner-FS
// terms back to the scoped view, per spec 4.L.
func (a *Adapter) rewriteErr(err error) error {
	if err == nil {
		return nil
	}
	verr, ok := vfserr.As(err)
	if !ok || a.folder == "/" {
		return err
	}
	rewritten := verr.RewritePath(a.folder, "")
	if rewritten.Path == "" {
		rewritten = rewritten.WithPath("/")
	}
	return rewritten
}

func (a *Adapter) Metadata() vfsbackend.Metadata {
	m := a.inner.Metadata()
	m.Name = "folder(" + a.folder + ")@" + m.Name
	return m
}

func (a *Adapter) Stat(ctx context.Context, p string) (vfsinode.Stats, error) {
	stat, err := a.inner.Stat(ctx, a.join(p))
	return stat, a.rewriteErr(err)
}

func (a *Adapter) Exists(ctx context.Context, p string) bool {
	return a.inner.Exists(ctx, a.join(p))
}

func (a *Adapter) ReadDir(ctx context.Context, p string) ([]string, error) {
	names, err := a.inner.ReadDir(ctx, a.join(p))
	return names, a.rewriteErr(err)
}

func (a *Adapter) Mkdir(ctx context.Context, p string, perm uint16, cred vfscred.Credentials) error {
	return a.rewriteErr(a.inner.Mkdir(ctx, a.join(p), perm, cred))
}

func (a *Adapter) Rmdir(ctx context.Context, p string, cred vfscred.Credentials) error {
	return a.rewriteErr(a.inner.Rmdir(ctx, a.join(p), cred))
}

func (a *Adapter) Unlink(ctx context.Context, p string, cred vfscred.Credentials) error {
	return a.rewriteErr(a.inner.Unlink(ctx, a.join(p), cred))
}

func (a *Adapter) Rename(ctx context.Context, oldPath, newPath string, cred vfscred.Credentials) error {
	return a.rewriteErr(a.inner.Rename(ctx, a.join(oldPath), a.join(newPath), cred))
}

func (a *Adapter) Open(ctx context.Context, p string, flag vfsflag.FileFlag, perm uint16, cred vfscred.Credentials) (*vfsfile.PreloadFile, error) {
	f, err := a.inner.Open(ctx, a.join(p), flag, perm, cred)
	if err != nil {
		return nil, a.rewriteErr(err)
	}
	return f, nil
}

func (a *Adapter) Chmod(ctx context.Context, p string, perm uint16, cred vfscred.Credentials) error {
	return a.rewriteErr(a.inner.Chmod(ctx, a.join(p), perm, cred))
}

func (a *Adapter) Chown(ctx context.Context, p string, uid, gid uint32, cred vfscred.Credentials) error {
	return a.rewriteErr(a.inner.Chown(ctx, a.join(p), uid, gid, cred))
}

func (a *Adapter) Utimes(ctx context.Context, p string, atimeMs, mtimeMs float64, cred vfscred.Credentials) error {
	return a.rewriteErr(a.inner.Utimes(ctx, a.join(p), atimeMs, mtimeMs, cred))
}

func (a *Adapter) Truncate(ctx context.Context, p string, size int64, cred vfscred.Credentials) error {
	return a.rewriteErr(a.inner.Truncate(ctx, a.join(p), size, cred))
}

func (a *Adapter) Link(ctx context.Context, oldPath, newPath string, cred vfscred.Credentials) error {
	return a.rewriteErr(a.inner.Link(ctx, a.join(oldPath), a.join(newPath), cred))
}

func (a *Adapter) Symlink(ctx context.Context, target, linkPath string, cred vfscred.Credentials) error {
	// target is a path argument too, per spec 4.L's "first two arguments are
	// paths" for symlink. A relative target resolves the same regardless of
	// this adapter's scoping (it's relative to the link's own directory, not
	// to this folder's root) and passes through unjoined; an absolute target
	// is expressed in the caller's scoped view and must be translated into
	// inner-FS terms the same way linkPath is.
	joinedTarget := target
	if strings.HasPrefix(target, "/") {
		joinedTarget = a.join(target)
	}
	return a.rewriteErr(a.inner.Symlink(ctx, joinedTarget, a.join(linkPath), cred))
}

func (a *Adapter) Readlink(ctx context.Context, p string) (string, error) {
	target, err := a.inner.Readlink(ctx, a.join(p))
	return target, a.rewriteErr(err)
}
