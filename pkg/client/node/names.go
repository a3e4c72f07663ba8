package node

import (
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// maxNameDepth bounds the parent walk used by file handle recovery.
const maxNameDepth = 256

// Name is one (parent, name) edge under which a file was seen. Attr marks
// a name inside the parent's named-attribute directory.
type Name struct {
	Parent *FileNames
	Name   string
	Attr   bool
}

// FileNames is the identity of a remote object as the mount knows it: its
// file id, current handle, attribute directory handle and every name it
// was reached through. It is shared by the node and the mount's name
// registry so a handle refreshed by recovery is seen by both.
type FileNames struct {
	fileID uint64

	mu      sync.RWMutex
	handle  types.FileHandle
	attrDir types.FileHandle
	names   []Name
}

// NewFileNames creates the identity of fileID with its current handle.
func NewFileNames(fileID uint64, handle types.FileHandle) *FileNames {
	return &FileNames{fileID: fileID, handle: handle}
}

func (f *FileNames) FileID() uint64 { return f.fileID }

func (f *FileNames) Handle() types.FileHandle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.handle
}

func (f *FileNames) SetHandle(fh types.FileHandle) {
	f.mu.Lock()
	f.handle = fh
	f.mu.Unlock()
}

// AttrDir returns the named-attribute directory handle, invalid until
// loaded.
func (f *FileNames) AttrDir() types.FileHandle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.attrDir
}

func (f *FileNames) SetAttrDir(fh types.FileHandle) {
	f.mu.Lock()
	f.attrDir = fh
	f.mu.Unlock()
}

// AddName records n and reports whether it was new.
func (f *FileNames) AddName(n Name) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slices.Contains(f.names, n) {
		return false
	}
	f.names = append(f.names, n)
	return true
}

// RemoveName forgets n and reports whether it was recorded.
func (f *FileNames) RemoveName(n Name) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.Index(f.names, n)
	if i < 0 {
		return false
	}
	f.names = slices.Delete(f.names, i, i+1)
	return true
}

// Names returns a copy of the recorded names, oldest first.
func (f *FileNames) Names() []Name {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.names)
}

// First returns the oldest recorded name.
func (f *FileNames) First() (Name, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.names) == 0 {
		return Name{}, false
	}
	return f.names[0], true
}

// Step is one hop of a path from the mount root. Node is the object the
// hop reaches; the first step is the root itself and has no name.
type Step struct {
	Node *FileNames
	Name string
	Attr bool
}

// Ancestry returns the path from the root to f following the first
// recorded name of every ancestor.
func (f *FileNames) Ancestry() ([]Step, error) {
	var steps []Step
	seen := make(map[*FileNames]bool)
	cur := f
	for {
		if seen[cur] {
			return nil, fmt.Errorf("name cycle at file %d: %w", cur.fileID, unix.ELOOP)
		}
		if len(seen) >= maxNameDepth {
			return nil, fmt.Errorf("file %d nested deeper than %d: %w", f.fileID, maxNameDepth, unix.ELOOP)
		}
		seen[cur] = true

		n, ok := cur.First()
		if !ok || n.Parent == nil {
			steps = append(steps, Step{Node: cur})
			break
		}
		steps = append(steps, Step{Node: cur, Name: n.Name, Attr: n.Attr})
		cur = n.Parent
	}
	slices.Reverse(steps)
	return steps, nil
}
