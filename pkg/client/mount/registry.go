package mount

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/node"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

type reclaim struct {
	st   *state.OpenState
	node *node.Inode
}

// AddName records link for fileID. The names of a file are created on
// first sight and shared from then on.
func (m *Mount) AddName(fileID uint64, handle types.FileHandle, link node.Name) *node.FileNames {
	m.namesMu.Lock()
	defer m.namesMu.Unlock()

	names, ok := m.names[fileID]
	if !ok {
		names = node.NewFileNames(fileID, handle)
		m.names[fileID] = names
	} else if handle.IsValid() {
		names.SetHandle(handle)
	}
	if link.Parent != nil {
		names.AddName(link)
	}
	return names
}

// RemoveName forgets link. A file left with no name and no live node is
// dropped from the registry.
func (m *Mount) RemoveName(fileID uint64, link node.Name) {
	m.namesMu.Lock()
	names, ok := m.names[fileID]
	if !ok {
		m.namesMu.Unlock()
		return
	}
	names.RemoveName(link)
	orphan := len(names.Names()) == 0
	m.namesMu.Unlock()

	if !orphan {
		return
	}
	m.inodesMu.Lock()
	_, live := m.inodes[fileID]
	m.inodesMu.Unlock()
	if !live {
		m.namesMu.Lock()
		if len(names.Names()) == 0 {
			delete(m.names, fileID)
		}
		m.namesMu.Unlock()
	}
}

func (m *Mount) lookupNames(fileID uint64) (*node.FileNames, bool) {
	m.namesMu.Lock()
	defer m.namesMu.Unlock()
	names, ok := m.names[fileID]
	return names, ok
}

// GetInode returns the live node for fileID, creating it from the
// recorded names. Concurrent callers for the same id share one creation.
func (m *Mount) GetInode(ctx context.Context, fileID uint64) (*node.Inode, error) {
	m.inodesMu.Lock()
	n, ok := m.inodes[fileID]
	m.inodesMu.Unlock()
	if ok {
		return n, nil
	}

	v, err, _ := m.creating.Do(strconv.FormatUint(fileID, 10), func() (any, error) {
		m.inodesMu.Lock()
		n, ok := m.inodes[fileID]
		m.inodesMu.Unlock()
		if ok {
			return n, nil
		}

		names, ok := m.lookupNames(fileID)
		if !ok {
			return nil, fmt.Errorf("file %d was never looked up: %w", fileID, unix.ENOENT)
		}
		if !names.Handle().IsValid() {
			if err := node.NewNFS4Inode(m, names).ResolveHandle(ctx); err != nil {
				return nil, err
			}
		}
		n, err := node.CreateInode(ctx, m, names, node.KindNode)
		if err != nil {
			return nil, err
		}
		m.inodesMu.Lock()
		m.inodes[fileID] = n
		m.inodesMu.Unlock()
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*node.Inode), nil
}

// Forget drops the live node for fileID once the VFS no longer references
// it. The root is never forgotten.
func (m *Mount) Forget(ctx context.Context, fileID uint64) error {
	m.inodesMu.Lock()
	n, ok := m.inodes[fileID]
	if !ok || n == m.root {
		m.inodesMu.Unlock()
		return nil
	}
	delete(m.inodes, fileID)
	m.inodesMu.Unlock()

	logger.DebugCtx(ctx, "forgetting node", logger.FileID(fileID))
	return n.Destroy(ctx)
}

// Inodes returns the number of live nodes.
func (m *Mount) Inodes() int {
	m.inodesMu.Lock()
	defer m.inodesMu.Unlock()
	return len(m.inodes)
}

func (m *Mount) AddOpenState(st *state.OpenState, n *node.Inode) {
	m.statesMu.Lock()
	m.states[st] = n
	m.statesMu.Unlock()
}

func (m *Mount) RemoveOpenState(st *state.OpenState) {
	m.statesMu.Lock()
	delete(m.states, st)
	m.statesMu.Unlock()
}

func (m *Mount) AddDelegation(d *state.Delegation, n *node.Inode) {
	m.statesMu.Lock()
	m.delegs[d] = n
	m.statesMu.Unlock()
}

func (m *Mount) RemoveDelegation(d *state.Delegation) {
	m.statesMu.Lock()
	delete(m.delegs, d)
	m.statesMu.Unlock()
}

// OpenStates returns the number of registered open states.
func (m *Mount) OpenStates() int {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	return len(m.states)
}

// Delegations returns the number of held delegations.
func (m *Mount) Delegations() int {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	return len(m.delegs)
}

// RecallDelegation returns the delegation held on fileID, as the server
// asks through a recall. truncate skips flushing data about to be
// discarded.
func (m *Mount) RecallDelegation(ctx context.Context, fileID uint64, truncate bool) error {
	m.statesMu.Lock()
	var target *node.Inode
	for d, n := range m.delegs {
		if d.FileID() == fileID {
			target = n
			break
		}
	}
	m.statesMu.Unlock()
	if target == nil {
		return nil
	}
	return target.RecallDelegation(ctx, truncate)
}
