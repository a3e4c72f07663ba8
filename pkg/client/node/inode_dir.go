package node

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/client/dircache"
	"github.com/marmos91/nfs4client/pkg/client/notify"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

func (n *Inode) cacheFor(attr bool) *dircache.Cache {
	if attr {
		return n.attrCache
	}
	return n.dirCache
}

func (n *Inode) requireDir() error {
	if !n.isDir() {
		return fmt.Errorf("file %d: %w", n.FileID(), unix.ENOTDIR)
	}
	return nil
}

// LookUp resolves name in the directory. Cached entries are served
// without contacting the server.
func (n *Inode) LookUp(ctx context.Context, name string) (*Inode, error) {
	if !n.isDir() {
		if name == ".." && n.isFile() {
			res, err := n.ManualLookUpUp(ctx)
			if err != nil {
				return nil, err
			}
			return n.fs.GetInode(ctx, res.FileID)
		}
		return nil, n.requireDir()
	}
	return n.lookUp(ctx, name, false)
}

// LookUpAttr resolves the named attribute name, given in local form.
func (n *Inode) LookUpAttr(ctx context.Context, name string) (*Inode, error) {
	if err := n.attrDir(ctx, false); err != nil {
		if hasNoAttrDir(err) {
			return nil, fmt.Errorf("attribute %q: %w", name, unix.ENODATA)
		}
		return nil, err
	}
	return n.lookUp(ctx, UnescapeAttrName(name), true)
}

func (n *Inode) lookUp(ctx context.Context, name string, attr bool) (*Inode, error) {
	if name == "." && !attr {
		return n, nil
	}

	cache := n.cacheFor(attr)
	cache.Lock()
	if cache.Valid() {
		if id, ok := cache.Lookup(name); ok {
			cache.Unlock()
			return n.fs.GetInode(ctx, id)
		}
	}
	cache.Unlock()

	res, err := n.NFS4Inode.LookUp(ctx, name, attr)
	if err != nil {
		// The root has no parent to go up to.
		if name == ".." && types.IsStatus(err, types.NFS4ERR_NOENT) {
			return n, nil
		}
		return nil, err
	}
	if name == ".." {
		n.fs.AddName(res.FileID, res.Handle, Name{})
		return n.fs.GetInode(ctx, res.FileID)
	}

	n.fs.AddName(res.FileID, res.Handle, Name{Parent: n.names, Name: name, Attr: attr})
	cache.Lock()
	if !cache.Valid() {
		cache.Reset()
		cache.SetChangeInfo(res.Change)
	} else {
		cache.ValidateChangeInfo(res.Change)
	}
	cache.AddEntry(name, res.FileID)
	cache.Unlock()

	return n.fs.GetInode(ctx, res.FileID)
}

// Create creates and opens the regular file name and returns it with the
// descriptor cookie.
func (n *Inode) Create(ctx context.Context, name string, flags int, perm uint32) (*Inode, *state.Cookie, error) {
	if err := n.requireDir(); err != nil {
		return nil, nil, err
	}
	return n.create(ctx, name, flags, perm, false)
}

// CreateAttr creates and opens the named attribute name, given in local
// form. The attribute directory is created when missing.
func (n *Inode) CreateAttr(ctx context.Context, name string, flags int, perm uint32) (*Inode, *state.Cookie, error) {
	if err := n.attrDir(ctx, true); err != nil {
		return nil, nil, err
	}
	return n.create(ctx, UnescapeAttrName(name), flags, perm, true)
}

func (n *Inode) create(ctx context.Context, name string, flags int, perm uint32, attr bool) (*Inode, *state.Cookie, error) {
	res, err := n.CreateFile(ctx, name, flags, perm, attr)
	if err != nil {
		return nil, nil, err
	}
	n.makeInfoInvalid()

	n.fs.AddName(res.FileID, res.Handle, Name{Parent: n.names, Name: name, Attr: attr})
	child, err := n.fs.GetInode(ctx, res.FileID)
	if err != nil {
		if cerr := n.CloseFile(ctx, res.State); cerr != nil {
			logger.WarnCtx(ctx, "close of orphaned open failed", logger.Filename(name), logger.Err(cerr))
		}
		return nil, nil, err
	}
	st := child.adoptState(ctx, res.State, res.Delegation)

	n.cacheFor(attr).Patch(res.ChangeInfo, func(c *dircache.Cache) { c.AddEntry(name, res.FileID) })
	if attr {
		n.fs.Notifier().AttributeChanged(ctx, n.fs.DevID(), n.FileID(), EscapeAttrName(name), notify.AttrCreated)
	} else {
		n.fs.Notifier().EntryCreated(ctx, n.fs.DevID(), n.FileID(), name, res.FileID)
	}

	if flags&unix.O_TRUNC != 0 {
		child.fileCacheMu.Lock()
		child.maxFileSize = 0
		if child.fileCache != nil {
			err = child.fileCache.SetSize(0)
		}
		child.fileCacheMu.Unlock()
		child.meta.InvalidateStat()
	} else {
		err = child.RevalidateFileCache(ctx)
	}
	cookie := state.NewCookie(st, flags)
	if err != nil {
		if cerr := child.Close(ctx, cookie); cerr != nil {
			logger.WarnCtx(ctx, "close after failed create", logger.FileID(child.FileID()), logger.Err(cerr))
		}
		return nil, nil, err
	}
	return child, cookie, nil
}

// Mkdir creates the directory name and returns its file id.
func (n *Inode) Mkdir(ctx context.Context, name string, mode uint32) (uint64, error) {
	return n.createObject(ctx, name, types.NF4DIR, mode, "")
}

// Symlink creates the symbolic link name pointing at target.
func (n *Inode) Symlink(ctx context.Context, name, target string) (uint64, error) {
	return n.createObject(ctx, name, types.NF4LNK, 0o777, target)
}

func (n *Inode) createObject(ctx context.Context, name string, typ, mode uint32, link string) (uint64, error) {
	if err := n.requireDir(); err != nil {
		return 0, err
	}
	res, err := n.CreateObject(ctx, name, typ, mode, link)
	if err != nil {
		return 0, err
	}
	n.makeInfoInvalid()
	n.fs.AddName(res.FileID, res.Handle, Name{Parent: n.names, Name: name})
	n.dirCache.Patch(res.ChangeInfo, func(c *dircache.Cache) { c.AddEntry(name, res.FileID) })
	n.fs.Notifier().EntryCreated(ctx, n.fs.DevID(), n.FileID(), name, res.FileID)
	return res.FileID, nil
}

// Link adds the name name in dir for the file n.
func (n *Inode) Link(ctx context.Context, dir *Inode, name string) error {
	if err := dir.requireDir(); err != nil {
		return err
	}
	ci, err := n.NFS4Inode.Link(ctx, &dir.NFS4Inode, name)
	if err != nil {
		return err
	}
	n.makeInfoInvalid()
	n.meta.InvalidateStat()
	n.fs.AddName(n.FileID(), types.InvalidFileHandle, Name{Parent: dir.names, Name: name})
	dir.dirCache.Patch(ci, func(c *dircache.Cache) { c.AddEntry(name, n.FileID()) })
	n.fs.Notifier().EntryCreated(ctx, n.fs.DevID(), dir.FileID(), name, n.FileID())
	return nil
}

// Remove removes name from the directory. isDir selects rmdir semantics.
func (n *Inode) Remove(ctx context.Context, name string, isDir bool) error {
	if err := n.requireDir(); err != nil {
		return err
	}
	return n.remove(ctx, name, isDir, false)
}

// RemoveAttr removes the named attribute name, given in local form.
func (n *Inode) RemoveAttr(ctx context.Context, name string) error {
	if err := n.attrDir(ctx, false); err != nil {
		if hasNoAttrDir(err) {
			return fmt.Errorf("attribute %q: %w", name, unix.ENODATA)
		}
		return err
	}
	return n.remove(ctx, UnescapeAttrName(name), false, true)
}

func (n *Inode) remove(ctx context.Context, name string, isDir, attr bool) error {
	cache := n.cacheFor(attr)
	res, err := n.RemoveObject(ctx, name, isDir, attr)
	if err != nil {
		return err
	}
	n.makeInfoInvalid()

	id := res.FileID
	if attr {
		cache.Lock()
		id, _ = cache.Lookup(name)
		cache.Unlock()
	}
	if id != 0 {
		n.fs.RemoveName(id, Name{Parent: n.names, Name: name, Attr: attr})
	}
	cache.Patch(res.ChangeInfo, func(c *dircache.Cache) { c.RemoveEntry(name) })

	if attr {
		n.fs.Notifier().AttributeChanged(ctx, n.fs.DevID(), n.FileID(), EscapeAttrName(name), notify.AttrRemoved)
	} else {
		n.fs.Notifier().EntryRemoved(ctx, n.fs.DevID(), n.FileID(), name, id)
	}
	return nil
}

// Rename moves fromName in n to toName in to, replacing an existing
// target.
func (n *Inode) Rename(ctx context.Context, fromName string, to *Inode, toName string) error {
	if err := n.requireDir(); err != nil {
		return err
	}
	if err := to.requireDir(); err != nil {
		return err
	}
	return n.rename(ctx, fromName, to, toName, false)
}

// RenameAttr renames the named attribute fromName to toName, both in
// local form.
func (n *Inode) RenameAttr(ctx context.Context, fromName, toName string) error {
	if err := n.attrDir(ctx, false); err != nil {
		if hasNoAttrDir(err) {
			return fmt.Errorf("attribute %q: %w", fromName, unix.ENODATA)
		}
		return err
	}
	return n.rename(ctx, UnescapeAttrName(fromName), n, UnescapeAttrName(toName), true)
}

func (n *Inode) rename(ctx context.Context, fromName string, to *Inode, toName string, attr bool) error {
	fromCache, toCache := n.cacheFor(attr), to.cacheFor(attr)
	replaced, hasReplaced := to.entryID(ctx, toName, attr)
	movedID := uint64(0)
	if attr {
		fromCache.Lock()
		movedID, _ = fromCache.Lookup(fromName)
		fromCache.Unlock()
	}

	res, err := n.RenameNode(ctx, fromName, &to.NFS4Inode, toName, attr)
	if err != nil {
		return err
	}
	n.makeInfoInvalid()
	if !attr {
		movedID = res.FileID
	}

	toLink := Name{Parent: to.names, Name: toName, Attr: attr}
	if hasReplaced && replaced != movedID {
		n.fs.RemoveName(replaced, toLink)
	}
	if movedID != 0 {
		n.fs.AddName(movedID, types.InvalidFileHandle, toLink)
		n.fs.RemoveName(movedID, Name{Parent: n.names, Name: fromName, Attr: attr})
	}

	fromCache.Patch(res.From, func(c *dircache.Cache) {
		c.RemoveEntry(fromName)
		if to == n {
			c.RemoveEntry(toName)
			if movedID != 0 {
				c.AddEntry(toName, movedID)
			} else {
				c.Trash()
			}
		}
	})
	if to != n {
		toCache.Patch(res.To, func(c *dircache.Cache) { c.AddEntry(toName, movedID) })
	}

	if attr {
		dev := n.fs.DevID()
		n.fs.Notifier().AttributeChanged(ctx, dev, n.FileID(), EscapeAttrName(fromName), notify.AttrRemoved)
		n.fs.Notifier().AttributeChanged(ctx, dev, n.FileID(), EscapeAttrName(toName), notify.AttrCreated)
	} else {
		n.fs.Notifier().EntryMoved(ctx, n.fs.DevID(), n.FileID(), fromName, to.FileID(), toName, movedID)
	}
	return nil
}

// entryID returns the id name maps to, from the cache when it can answer
// and from the server otherwise.
func (n *Inode) entryID(ctx context.Context, name string, attr bool) (uint64, bool) {
	cache := n.cacheFor(attr)
	cache.Lock()
	if cache.Valid() {
		if id, ok := cache.Lookup(name); ok {
			cache.Unlock()
			return id, true
		}
		if cache.Complete() {
			cache.Unlock()
			return 0, false
		}
	}
	cache.Unlock()

	res, err := n.NFS4Inode.LookUp(ctx, name, attr)
	if err != nil {
		if !types.IsStatus(err, types.NFS4ERR_NOENT) {
			logger.DebugCtx(ctx, "rename target lookup failed", logger.Filename(name), logger.Err(err))
		}
		return 0, false
	}
	return res.FileID, true
}

// ReadDir lists the directory, filling the cache when it does not hold a
// complete listing.
func (n *Inode) ReadDir(ctx context.Context) ([]dircache.Entry, error) {
	if err := n.requireDir(); err != nil {
		return nil, err
	}
	return n.readDir(ctx, false)
}

// ReadAttrDir lists the named attributes in local form.
func (n *Inode) ReadAttrDir(ctx context.Context) ([]dircache.Entry, error) {
	if err := n.attrDir(ctx, false); err != nil {
		if hasNoAttrDir(err) {
			return nil, nil
		}
		return nil, err
	}
	entries, err := n.readDir(ctx, true)
	for i := range entries {
		entries[i].Name = EscapeAttrName(entries[i].Name)
	}
	return entries, err
}

func (n *Inode) readDir(ctx context.Context, attr bool) ([]dircache.Entry, error) {
	cache := n.cacheFor(attr)
	cache.Lock()
	if cache.Valid() && cache.Complete() {
		defer cache.Unlock()
		return cache.Entries(), nil
	}
	cache.Unlock()

	entries, err := n.FillDirCache(ctx, attr)
	if err != nil {
		return nil, err
	}
	out := make([]dircache.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, dircache.Entry{Name: e.Name, ID: e.FileID})
	}
	return out, nil
}

// FillDirCache lists the whole directory and replaces the cache with the
// listing. A listing the directory changed under is restarted a bounded
// number of times.
func (n *Inode) FillDirCache(ctx context.Context, attr bool) ([]DirEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFillDirCache)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.FileID(n.FileID()))

	restarts := n.fs.Options().FillDirRestarts
	for attempt := 0; ; attempt++ {
		cursor, entries, err := n.listAll(ctx, attr)
		if errors.Is(err, ErrDirectoryChanged) && attempt < restarts {
			logger.DebugCtx(ctx, "directory changed while listing, restarting",
				logger.FileID(n.FileID()), logger.Attempt(attempt))
			continue
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, err
		}

		cache := n.cacheFor(attr)
		cache.Lock()
		cache.Reset()
		cache.SetChangeInfo(cursor.Change)
		for _, e := range entries {
			cache.AddEntry(e.Name, e.FileID)
		}
		cache.MarkComplete()
		cache.Unlock()

		for _, e := range entries {
			n.fs.AddName(e.FileID, e.Handle, Name{Parent: n.names, Name: e.Name, Attr: attr})
		}
		logger.DebugCtx(ctx, "directory cache filled",
			logger.FileID(n.FileID()), logger.Entries(len(entries)), logger.Change(cursor.Change))
		return entries, nil
	}
}

func (n *Inode) listAll(ctx context.Context, attr bool) (ReadDirCursor, []DirEntry, error) {
	var (
		cursor ReadDirCursor
		all    []DirEntry
	)
	for {
		page, eof, err := n.ReadDirOnce(ctx, &cursor, attr)
		if err != nil {
			return cursor, nil, err
		}
		all = append(all, page...)
		if eof {
			return cursor, all, nil
		}
	}
}
