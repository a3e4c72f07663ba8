package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for client-side structured logging. Use them
// consistently so log lines from different node operations can be joined.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Operation and target
	KeyOperation = "operation" // node-level operation: LookUp, Rename, AcquireLock
	KeyOp        = "op"        // NFSv4 operation inside a compound: OPEN, LOCK
	KeyServer    = "server"
	KeyHandle    = "handle" // file handle, hex encoded
	KeyFileID    = "file_id"
	KeyFilename  = "filename"
	KeyNewName   = "new_name"
	KeyType      = "type"
	KeySize      = "size"

	// Protocol status and retries
	KeyStatus   = "status"
	KeyAttempt  = "attempt"
	KeyRecovery = "recovery"
	KeyWait     = "wait"

	// Coherency
	KeyChange       = "change"
	KeyChangeBefore = "change_before"
	KeyChangeAfter  = "change_after"
	KeyAtomic       = "atomic"

	// State
	KeyClientID  = "client_id"
	KeyDelegType = "deleg_type"
	KeyRefs      = "refs"

	// I/O
	KeyCount = "count"

	// Directory listing
	KeyEntries = "entries"

	// Locking
	KeyLockOffset = "lock_offset"
	KeyLockLength = "lock_length"
	KeyLockOwner  = "lock_owner"

	// Misc
	KeyError      = "error"
	KeyDurationMs = "duration_ms"
	KeyProvider   = "provider"
)

// Handle returns a slog.Attr for a file handle (formatted as hex)
func Handle(h []byte) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("%x", h))
}

// FileID returns a slog.Attr for a file id
func FileID(id uint64) slog.Attr {
	return slog.Uint64(KeyFileID, id)
}

// Filename returns a slog.Attr for a directory entry name
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Op returns a slog.Attr for an NFSv4 operation name
func Op(name string) slog.Attr {
	return slog.String(KeyOp, name)
}

// Status returns a slog.Attr for an NFSv4 status code
func Status(code uint32) slog.Attr {
	return slog.Any(KeyStatus, code)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Change returns a slog.Attr for a change attribute value
func Change(c uint64) slog.Attr {
	return slog.Uint64(KeyChange, c)
}

// ChangeInfo returns the three attributes describing a change_info4
func ChangeInfo(before, after uint64, atomic bool) []any {
	return []any{KeyChangeBefore, before, KeyChangeAfter, after, KeyAtomic, atomic}
}

// ClientID returns a slog.Attr for the NFSv4 client id
func ClientID(id uint64) slog.Attr {
	return slog.String(KeyClientID, fmt.Sprintf("%016x", id))
}

// Entries returns a slog.Attr for number of directory entries
func Entries(n int) slog.Attr {
	return slog.Int(KeyEntries, n)
}

// LockOffset returns a slog.Attr for lock range start
func LockOffset(off uint64) slog.Attr {
	return slog.Uint64(KeyLockOffset, off)
}

// LockLength returns a slog.Attr for lock range length
func LockLength(n uint64) slog.Attr {
	return slog.Uint64(KeyLockLength, n)
}

// LockOwner returns a slog.Attr for lock owner identifier
func LockOwner(owner uint32) slog.Attr {
	return slog.Any(KeyLockOwner, owner)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
