// Package notify delivers filesystem change events produced by the node
// layer to whoever watches the mount.
package notify

import (
	"context"
	"sync"

	"github.com/marmos91/nfs4client/internal/logger"
)

// AttrCause says what happened to a named attribute.
type AttrCause int

const (
	AttrCreated AttrCause = iota
	AttrRemoved
	AttrChanged
)

func (c AttrCause) String() string {
	switch c {
	case AttrCreated:
		return "created"
	case AttrRemoved:
		return "removed"
	}
	return "changed"
}

// Notifier receives change events keyed by device and node ids.
type Notifier interface {
	EntryCreated(ctx context.Context, dev, dir uint64, name string, node uint64)
	EntryRemoved(ctx context.Context, dev, dir uint64, name string, node uint64)
	EntryMoved(ctx context.Context, dev, fromDir uint64, fromName string, toDir uint64, toName string, node uint64)
	AttributeChanged(ctx context.Context, dev, node uint64, name string, cause AttrCause)
}

// Nop discards every event.
type Nop struct{}

func (Nop) EntryCreated(context.Context, uint64, uint64, string, uint64)               {}
func (Nop) EntryRemoved(context.Context, uint64, uint64, string, uint64)               {}
func (Nop) EntryMoved(context.Context, uint64, uint64, string, uint64, string, uint64) {}
func (Nop) AttributeChanged(context.Context, uint64, uint64, string, AttrCause)        {}

// Logging writes every event at DEBUG level.
type Logging struct{}

func (Logging) EntryCreated(ctx context.Context, dev, dir uint64, name string, node uint64) {
	logger.DebugCtx(ctx, "entry created", "dev", dev, "dir", dir, logger.KeyFilename, name, logger.KeyFileID, node)
}

func (Logging) EntryRemoved(ctx context.Context, dev, dir uint64, name string, node uint64) {
	logger.DebugCtx(ctx, "entry removed", "dev", dev, "dir", dir, logger.KeyFilename, name, logger.KeyFileID, node)
}

func (Logging) EntryMoved(ctx context.Context, dev, fromDir uint64, fromName string, toDir uint64, toName string, node uint64) {
	logger.DebugCtx(ctx, "entry moved", "dev", dev, "from_dir", fromDir, logger.KeyFilename, fromName,
		"to_dir", toDir, logger.KeyNewName, toName, logger.KeyFileID, node)
}

func (Logging) AttributeChanged(ctx context.Context, dev, node uint64, name string, cause AttrCause) {
	logger.DebugCtx(ctx, "attribute changed", "dev", dev, logger.KeyFileID, node, logger.KeyFilename, name, "cause", cause.String())
}

// Kind names an event type recorded by Recorder.
type Kind string

const (
	KindCreated Kind = "created"
	KindRemoved Kind = "removed"
	KindMoved   Kind = "moved"
	KindAttr    Kind = "attr"
)

// Event is one recorded notification.
type Event struct {
	Kind   Kind
	Dev    uint64
	Dir    uint64
	Name   string
	ToDir  uint64
	ToName string
	Node   uint64
	Cause  AttrCause
}

// Recorder keeps every event in memory, in delivery order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) EntryCreated(_ context.Context, dev, dir uint64, name string, node uint64) {
	r.add(Event{Kind: KindCreated, Dev: dev, Dir: dir, Name: name, Node: node})
}

func (r *Recorder) EntryRemoved(_ context.Context, dev, dir uint64, name string, node uint64) {
	r.add(Event{Kind: KindRemoved, Dev: dev, Dir: dir, Name: name, Node: node})
}

func (r *Recorder) EntryMoved(_ context.Context, dev, fromDir uint64, fromName string, toDir uint64, toName string, node uint64) {
	r.add(Event{Kind: KindMoved, Dev: dev, Dir: fromDir, Name: fromName, ToDir: toDir, ToName: toName, Node: node})
}

func (r *Recorder) AttributeChanged(_ context.Context, dev, node uint64, name string, cause AttrCause) {
	r.add(Event{Kind: KindAttr, Dev: dev, Node: node, Name: name, Cause: cause})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
