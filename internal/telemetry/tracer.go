package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for client-side NFSv4 spans.
const (
	AttrServer    = "nfs4.server"
	AttrOperation = "nfs4.operation" // node-level operation
	AttrOps       = "nfs4.ops"       // ops carried by the compound
	AttrHandle    = "nfs4.handle"
	AttrFileID    = "nfs4.file_id"
	AttrFilename  = "nfs4.filename"
	AttrStatus    = "nfs4.status"
	AttrAttempts  = "nfs4.attempts"
	AttrChange    = "nfs4.change"
	AttrOffset    = "nfs4.offset"
	AttrCount     = "nfs4.count"
	AttrSeqid     = "nfs4.seqid"
	AttrDelegType = "nfs4.deleg_type"

	AttrCacheHit    = "cache.hit"
	AttrCacheResult = "cache.result"
)

// Span names. Node-layer operations are named nfs4.<Operation>.
const (
	SpanPrefix = "nfs4."

	SpanMount           = "nfs4.Mount"
	SpanRecoverClientID = "nfs4.RecoverClientID"
	SpanRecoverHandle   = "nfs4.RecoverFileHandle"
	SpanReclaimState    = "nfs4.ReclaimOpenState"
	SpanFillDirCache    = "nfs4.FillDirCache"
	SpanRevalidate      = "nfs4.RevalidateFileCache"
	SpanSyncAndCommit   = "nfs4.SyncAndCommit"
)

// OperationSpanName returns the span name for a node-layer operation.
func OperationSpanName(op string) string {
	return SpanPrefix + op
}

// StartOperation starts a span for a node-layer operation on fileID.
func StartOperation(ctx context.Context, op string, fileID uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(AttrOperation, op), FileID(fileID))
	return StartSpan(ctx, OperationSpanName(op), trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

// Server returns an attribute for the server address
func Server(addr string) attribute.KeyValue {
	return attribute.String(AttrServer, addr)
}

// Handle returns an attribute for a file handle
func Handle(handle []byte) attribute.KeyValue {
	return attribute.String(AttrHandle, fmt.Sprintf("%x", handle))
}

// FileID returns an attribute for a file id
func FileID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrFileID, int64(id))
}

// Filename returns an attribute for a directory entry name
func Filename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

// Status returns an attribute for an NFSv4 status
func Status(status uint32) attribute.KeyValue {
	return attribute.Int64(AttrStatus, int64(status))
}

// Attempts returns an attribute for the number of sends an operation took
func Attempts(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempts, n)
}

// Change returns an attribute for a change attribute value
func Change(c uint64) attribute.KeyValue {
	return attribute.Int64(AttrChange, int64(c))
}

// Offset returns an attribute for an I/O offset
func Offset(off uint64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, int64(off))
}

// Count returns an attribute for an I/O byte count
func Count(n uint32) attribute.KeyValue {
	return attribute.Int64(AttrCount, int64(n))
}

// DelegType returns an attribute for a delegation type
func DelegType(t uint32) attribute.KeyValue {
	return attribute.Int64(AttrDelegType, int64(t))
}

// CacheHit returns an attribute for cache hit status
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// CacheResult returns an attribute describing what a cache update did
func CacheResult(result string) attribute.KeyValue {
	return attribute.String(AttrCacheResult, result)
}
