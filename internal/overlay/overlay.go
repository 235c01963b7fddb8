// Package overlay implements the union filesystem (spec 4.J): a read-write
// upper layer shadows a lower layer, copy-on-write moves a file to upper the
// first time it is mutated, and files removed from the union while they
// still exist on lower are recorded in a deletion log rather than actually
// deleted from lower. Grounded on the upper/lower layering in
// seanrobmerriam-webos's pkg/vfs/overlayfs (copy-up on write, upper-first
// stat/open precedence), adapted to this kernel's FileSystem contract,
// PreloadFile buffering, and the deletion-log persistence spec.md's overlay
// actually specifies (the teacher's corpus has no deletion-log analogue;
// the single-writer coalescing around it is hand-written, see DESIGN.md).
package overlay

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/objectfs/vfscore/internal/obslog"
	"github.com/objectfs/vfscore/internal/vfsbackend"
	"github.com/objectfs/vfscore/internal/vfsfile"
	"github.com/objectfs/vfscore/pkg/vfscred"
	"github.com/objectfs/vfscore/pkg/vfserr"
	"github.com/objectfs/vfscore/pkg/vfsflag"
	"github.com/objectfs/vfscore/pkg/vfsinode"
)

// deleteLogPath is read at init and appended to as files are removed while
// still present on lower.
const deleteLogPath = "/.deletedFiles.log"

// Engine wraps (upper, lower); upper must be writable. All mutations land on
// upper; lower is never written to directly except via copy-up.
type Engine struct {
	upper vfsbackend.FileSystem
	lower vfsbackend.FileSystem

	mu                sync.Mutex
	initialized       bool
	deletedFiles      map[string]bool
	writePending      bool
	needsAnotherWrite bool
	deleteLogErr      error

	log *obslog.Logger
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(l *obslog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New builds an uninitialized Engine. Init must be called (and succeed)
// before any other operation, per spec 4.J.
func New(upper, lower vfsbackend.FileSystem, opts ...Option) *Engine {
	e := &Engine{upper: upper, lower: lower, deletedFiles: make(map[string]bool), log: obslog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init reads the deletion log from upper, swallowing ENOENT (a fresh
// overlay has no log yet).
func (e *Engine) Init(ctx context.Context) error {
	data, err := vfsbackend.ReadFile(ctx, e.upper, deleteLogPath, vfscred.Root)
	if err != nil && !vfserr.Is(err, vfserr.ENOENT) {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.deletedFiles = make(map[string]bool)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if line == "" {
				continue
			}
			e.deletedFiles[line[1:]] = line[0] == 'd'
		}
	}
	e.initialized = true
	return nil
}

// Metadata reports the AND of both layers' synchronous/case-sensitive
// traits, per spec 4.J.
func (e *Engine) Metadata() vfsbackend.Metadata {
	um, lm := e.upper.Metadata(), e.lower.Metadata()
	return vfsbackend.Metadata{
		Name:          "overlay(" + um.Name + "," + lm.Name + ")",
		Synchronous:   um.Synchronous && lm.Synchronous,
		ReadOnly:      false,
		CaseSensitive: um.CaseSensitive && lm.CaseSensitive,
	}
}

// checkInitialized enforces "must complete before any operation; otherwise
// EPERM" and surfaces a latched delete-log write failure, per spec 4.J.
func (e *Engine) checkInitialized() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return vfserr.New(vfserr.EPERM, "overlay engine used before initialization")
	}
	if e.deleteLogErr != nil {
		return e.deleteLogErr
	}
	return nil
}

func (e *Engine) isDeleted(p string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deletedFiles[p]
}

func (e *Engine) markDeleted(p string) {
	e.mu.Lock()
	e.deletedFiles[p] = true
	e.mu.Unlock()
	e.scheduleDeleteLogWrite()
}

// scheduleDeleteLogWrite serializes the background log rewrite: a write
// already in flight just flips needsAnotherWrite rather than queueing a
// second writer, per spec 4.J.
func (e *Engine) scheduleDeleteLogWrite() {
	e.mu.Lock()
	if e.writePending {
		e.needsAnotherWrite = true
		e.mu.Unlock()
		return
	}
	e.writePending = true
	e.mu.Unlock()
	go e.runDeleteLogWriter()
}

func (e *Engine) runDeleteLogWriter() {
	ctx := context.Background()
	for {
		e.mu.Lock()
		lines := make([]string, 0, len(e.deletedFiles))
		for p, deleted := range e.deletedFiles {
			if deleted {
				lines = append(lines, "d"+p)
			}
		}
		e.mu.Unlock()

		data := []byte(strings.Join(lines, "\n"))
		if len(lines) > 0 {
			data = append(data, '\n')
		}
		err := vfsbackend.WriteFile(ctx, e.upper, deleteLogPath, data, 0o644, vfscred.Root)

		e.mu.Lock()
		if err != nil {
			e.deleteLogErr = err
			e.writePending = false
			e.needsAnotherWrite = false
			e.mu.Unlock()
			e.log.Error("deletion log write failed for %s: %v", deleteLogPath, err)
			return
		}
		if e.needsAnotherWrite {
			e.needsAnotherWrite = false
			e.mu.Unlock()
			continue
		}
		e.writePending = false
		e.mu.Unlock()
		return
	}
}

// Exists reports upper.exists(p) || (lower.exists(p) && not deleted).
func (e *Engine) Exists(ctx context.Context, p string) bool {
	if err := e.checkInitialized(); err != nil {
		return false
	}
	if e.upper.Exists(ctx, p) {
		return true
	}
	return e.lower.Exists(ctx, p) && !e.isDeleted(p)
}

// Stat prefers upper; else, if deleted, ENOENT; else a clone of lower's
// stats with the mode upgraded to writable (type bits preserved).
func (e *Engine) Stat(ctx context.Context, p string) (vfsinode.Stats, error) {
	if err := e.checkInitialized(); err != nil {
		return vfsinode.Stats{}, err
	}
	if stat, err := e.upper.Stat(ctx, p); err == nil {
		return stat, nil
	}
	if e.isDeleted(p) {
		return vfsinode.Stats{}, vfserr.New(vfserr.ENOENT, "no such file or directory").WithPath(p)
	}
	stat, err := e.lower.Stat(ctx, p)
	if err != nil {
		return vfsinode.Stats{}, err
	}
	stat.Mode |= 0o222
	return stat, nil
}

func (e *Engine) mkdirParents(ctx context.Context, p string, cred vfscred.Credentials) error {
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return nil
	}
	if e.upper.Exists(ctx, dir) {
		return nil
	}
	if err := e.mkdirParents(ctx, dir, cred); err != nil {
		return err
	}
	mode := uint16(0o777)
	if stat, err := e.lowerOrUpperStat(ctx, dir); err == nil {
		mode = vfsinode.PermOf(stat.Mode)
	}
	err := e.upper.Mkdir(ctx, dir, mode, cred)
	if err != nil && !vfserr.Is(err, vfserr.EEXIST) {
		return err
	}
	return nil
}

func (e *Engine) lowerOrUpperStat(ctx context.Context, p string) (vfsinode.Stats, error) {
	if stat, err := e.upper.Stat(ctx, p); err == nil {
		return stat, nil
	}
	return e.lower.Stat(ctx, p)
}

// copyToWritable materializes p on upper if it currently exists only on
// lower (copy-up), per spec 4.J.
func (e *Engine) copyToWritable(ctx context.Context, p string, cred vfscred.Credentials) error {
	if e.upper.Exists(ctx, p) {
		return nil
	}
	stat, err := e.lower.Stat(ctx, p)
	if err != nil {
		return err
	}
	if err := e.mkdirParents(ctx, p, cred); err != nil {
		return err
	}
	if stat.IsDirectory() {
		return e.upper.Mkdir(ctx, p, vfsinode.PermOf(stat.Mode), cred)
	}
	data, err := vfsbackend.ReadFile(ctx, e.lower, p, cred)
	if err != nil {
		return err
	}
	return vfsbackend.WriteFile(ctx, e.upper, p, data, vfsinode.PermOf(stat.Mode), cred)
}

// Open implements the four-way exists/absent x upper/lower open table from
// spec 4.J.
func (e *Engine) Open(ctx context.Context, p string, flag vfsflag.FileFlag, perm uint16, cred vfscred.Credentials) (*vfsfile.PreloadFile, error) {
	if err := e.checkInitialized(); err != nil {
		return nil, err
	}
	if p == deleteLogPath {
		return nil, vfserr.New(vfserr.EACCES, "permission denied").WithPath(p)
	}

	exists := e.Exists(ctx, p)
	var action vfsflag.Action
	if exists {
		action = flag.PathExistsAction()
	} else {
		action = flag.PathNotExistsAction()
	}

	switch action {
	case vfsflag.ActionTruncateFile:
		if err := e.mkdirParents(ctx, p, cred); err != nil {
			return nil, err
		}
		return e.upper.Open(ctx, p, flag, perm, cred)
	case vfsflag.ActionCreateFile:
		if err := e.mkdirParents(ctx, p, cred); err != nil {
			return nil, err
		}
		return e.upper.Open(ctx, p, flag, perm, cred)
	case vfsflag.ActionThrow:
		if exists {
			return nil, vfserr.New(vfserr.EEXIST, "file exists").WithPath(p)
		}
		return nil, vfserr.New(vfserr.ENOENT, "no such file or directory").WithPath(p)
	default: // ActionNop
		if !exists {
			return nil, vfserr.New(vfserr.ENOENT, "no such file or directory").WithPath(p)
		}
		if e.upper.Exists(ctx, p) {
			return e.upper.Open(ctx, p, flag, perm, cred)
		}
		return e.openOverlayFile(ctx, p, flag, perm, cred)
	}
}

// openOverlayFile serves a read against lower's contents while making any
// write-through copy up to upper on sync, per spec 4.J's "overlay file".
func (e *Engine) openOverlayFile(ctx context.Context, p string, flag vfsflag.FileFlag, perm uint16, cred vfscred.Credentials) (*vfsfile.PreloadFile, error) {
	data, err := vfsbackend.ReadFile(ctx, e.lower, p, cred)
	if err != nil {
		return nil, err
	}
	stat, err := e.lower.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	stat.Mode = vfsinode.ModeOf(stat.Type(), perm)

	var f *vfsfile.PreloadFile
	persist := func(ctx context.Context, p string, data []byte, stats vfsinode.Stats) error {
		if !f.Dirty() {
			return nil
		}
		if err := e.mkdirParents(ctx, p, cred); err != nil {
			return err
		}
		return vfsbackend.WriteFile(ctx, e.upper, p, data, vfsinode.PermOf(stats.Mode), cred)
	}
	f = vfsfile.New(p, flag, stat, data, persist)
	return f, nil
}

// mutate copies p up to upper if needed, then runs fn against upper.
func (e *Engine) mutate(ctx context.Context, p string, cred vfscred.Credentials, fn func() error) error {
	if err := e.checkInitialized(); err != nil {
		return err
	}
	if err := e.copyToWritable(ctx, p, cred); err != nil {
		return err
	}
	return fn()
}

func (e *Engine) Chmod(ctx context.Context, p string, perm uint16, cred vfscred.Credentials) error {
	return e.mutate(ctx, p, cred, func() error { return e.upper.Chmod(ctx, p, perm, cred) })
}

func (e *Engine) Chown(ctx context.Context, p string, uid, gid uint32, cred vfscred.Credentials) error {
	return e.mutate(ctx, p, cred, func() error { return e.upper.Chown(ctx, p, uid, gid, cred) })
}

func (e *Engine) Utimes(ctx context.Context, p string, atimeMs, mtimeMs float64, cred vfscred.Credentials) error {
	return e.mutate(ctx, p, cred, func() error { return e.upper.Utimes(ctx, p, atimeMs, mtimeMs, cred) })
}

func (e *Engine) Truncate(ctx context.Context, p string, size int64, cred vfscred.Credentials) error {
	return e.mutate(ctx, p, cred, func() error { return e.upper.Truncate(ctx, p, size, cred) })
}

func (e *Engine) Mkdir(ctx context.Context, p string, perm uint16, cred vfscred.Credentials) error {
	err := e.mkdir(ctx, p, perm, cred)
	if err != nil {
		e.log.Warn("mkdir failed for %s: %v", p, err)
	}
	return err
}

func (e *Engine) mkdir(ctx context.Context, p string, perm uint16, cred vfscred.Credentials) error {
	if err := e.checkInitialized(); err != nil {
		return err
	}
	if err := e.mkdirParents(ctx, p, cred); err != nil {
		return err
	}
	return e.upper.Mkdir(ctx, p, perm, cred)
}

// Unlink removes p from upper (if present there) and, if it still exists on
// lower, marks it deleted in the log instead of touching lower.
func (e *Engine) Unlink(ctx context.Context, p string, cred vfscred.Credentials) error {
	if err := e.checkInitialized(); err != nil {
		return err
	}
	if e.upper.Exists(ctx, p) {
		if err := e.upper.Unlink(ctx, p, cred); err != nil {
			return err
		}
	}
	if e.lower.Exists(ctx, p) {
		e.markDeleted(p)
	}
	return nil
}

// Rmdir is Unlink with an emptiness check, per spec 4.J.
func (e *Engine) Rmdir(ctx context.Context, p string, cred vfscred.Credentials) error {
	if err := e.checkInitialized(); err != nil {
		return err
	}
	names, err := e.ReadDir(ctx, p)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return vfserr.New(vfserr.ENOTEMPTY, "directory not empty").WithPath(p)
	}
	if e.upper.Exists(ctx, p) {
		if err := e.upper.Rmdir(ctx, p, cred); err != nil {
			return err
		}
	}
	if e.lower.Exists(ctx, p) {
		e.markDeleted(p)
	}
	return nil
}

// ReadDir unions upper's listing with lower's listing filtered by the
// deletion log, de-duplicated preserving first occurrence.
func (e *Engine) ReadDir(ctx context.Context, p string) ([]string, error) {
	names, err := e.readDir(ctx, p)
	if err != nil {
		e.log.Warn("readdir failed for %s: %v", p, err)
	}
	return names, err
}

func (e *Engine) readDir(ctx context.Context, p string) ([]string, error) {
	if err := e.checkInitialized(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string

	if e.upper.Exists(ctx, p) {
		names, err := e.upper.ReadDir(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
	}

	if e.lower.Exists(ctx, p) {
		names, err := e.lower.ReadDir(ctx, p)
		if err != nil {
			return nil, err
		}
		prefix := p
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		for _, n := range names {
			if e.isDeleted(prefix + n) {
				continue
			}
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
	}

	if len(out) == 0 && !e.upper.Exists(ctx, p) && !e.lower.Exists(ctx, p) {
		return nil, vfserr.New(vfserr.ENOENT, "no such file or directory").WithPath(p)
	}
	return out, nil
}

// Rename recursively renames oldPath to newPath, materializing copy-ups and
// deletion marks for every descendant, per spec 4.J.
func (e *Engine) Rename(ctx context.Context, oldPath, newPath string, cred vfscred.Credentials) error {
	if err := e.checkInitialized(); err != nil {
		return err
	}

	oldStat, err := e.Stat(ctx, oldPath)
	if err != nil {
		return err
	}

	if oldStat.IsDirectory() {
		if e.Exists(ctx, newPath) {
			newStat, err := e.Stat(ctx, newPath)
			if err != nil {
				return err
			}
			if !newStat.IsDirectory() {
				return vfserr.New(vfserr.ENOTDIR, "not a directory").WithPath(newPath)
			}
			children, err := e.ReadDir(ctx, newPath)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				return vfserr.New(vfserr.ENOTEMPTY, "directory not empty").WithPath(newPath)
			}
		} else {
			if err := e.mkdirParents(ctx, newPath, cred); err != nil {
				return err
			}
			if err := e.upper.Mkdir(ctx, newPath, 0o777, cred); err != nil && !vfserr.Is(err, vfserr.EEXIST) {
				return err
			}
		}

		if e.upper.Exists(ctx, oldPath) {
			names, err := e.upper.ReadDir(ctx, oldPath)
			if err != nil {
				return err
			}
			for _, name := range names {
				if err := e.Rename(ctx, joinPath(oldPath, name), joinPath(newPath, name), cred); err != nil {
					return err
				}
			}
		}
		if e.lower.Exists(ctx, oldPath) {
			names, err := e.lower.ReadDir(ctx, oldPath)
			if err != nil {
				return err
			}
			for _, name := range names {
				child := joinPath(oldPath, name)
				if e.isDeleted(child) {
					continue
				}
				if err := e.Rename(ctx, child, joinPath(newPath, name), cred); err != nil {
					return err
				}
			}
		}
	} else {
		if e.Exists(ctx, newPath) {
			newStat, err := e.Stat(ctx, newPath)
			if err != nil {
				return err
			}
			if newStat.IsDirectory() {
				return vfserr.New(vfserr.EISDIR, "is a directory").WithPath(newPath)
			}
		}
		data, err := vfsbackend.ReadFile(ctx, e, oldPath, cred)
		if err != nil {
			return err
		}
		if err := vfsbackend.WriteFile(ctx, e, newPath, data, vfsinode.PermOf(oldStat.Mode), cred); err != nil {
			return err
		}
	}

	if e.Exists(ctx, oldPath) {
		if oldStat.IsDirectory() {
			return e.Rmdir(ctx, oldPath, cred)
		}
		return e.Unlink(ctx, oldPath, cred)
	}
	return nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// Link, Symlink and Readlink are not supported by the overlay itself; the
// underlying layers may or may not support them, but spec 4.J only grants
// symlink emulation via the overlay explicitly when both layers carry it,
// which neither the kvstore nor folderfs layers this module ships do.
func (e *Engine) Link(ctx context.Context, oldPath, newPath string, cred vfscred.Credentials) error {
	return vfserr.New(vfserr.ENOTSUP, "overlay does not support hard links").WithPath(newPath)
}

func (e *Engine) Symlink(ctx context.Context, target, linkPath string, cred vfscred.Credentials) error {
	return vfserr.New(vfserr.ENOTSUP, "overlay does not support symlinks").WithPath(linkPath)
}

func (e *Engine) Readlink(ctx context.Context, p string) (string, error) {
	return "", vfserr.New(vfserr.ENOTSUP, "overlay does not support symlinks").WithPath(p)
}
