package vfs

import (
	"sync"

	"github.com/objectfs/vfscore/internal/vfsfile"
	"github.com/objectfs/vfscore/pkg/vfserr"
)

// firstFd is the first integer the fd table hands out, per spec 4.M.
const firstFd = 100

// fdTable is the process-wide open-file-handle table: open/openSync
// allocate a new integer >= 100, close destroys it. Grounded on the
// teacher's FileSystem.openFiles map[uint64]*OpenFile + nextHandle counter,
// generalized to hold a *vfsfile.PreloadFile directly (this kernel's
// equivalent of OpenFile).
type fdTable struct {
	mu      sync.Mutex
	handles map[int]*vfsfile.PreloadFile
	next    int
}

func newFdTable() *fdTable {
	return &fdTable{handles: make(map[int]*vfsfile.PreloadFile), next: firstFd}
}

// allocate stores f under a fresh fd and returns it.
func (t *fdTable) allocate(f *vfsfile.PreloadFile) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.handles[fd] = f
	return fd
}

// lookup returns the handle for fd, or EBADF if unknown.
func (t *fdTable) lookup(fd int) (*vfsfile.PreloadFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.handles[fd]
	if !ok {
		return nil, vfserr.New(vfserr.EBADF, "bad file descriptor")
	}
	return f, nil
}

// count returns the number of fds currently allocated.
func (t *fdTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// release removes fd from the table, returning its handle (or EBADF).
func (t *fdTable) release(fd int) (*vfsfile.PreloadFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.handles[fd]
	if !ok {
		return nil, vfserr.New(vfserr.EBADF, "bad file descriptor")
	}
	delete(t.handles, fd)
	return f, nil
}
