// Package mount ties the node layer to one NFSv4 server export. A Mount
// owns the client id and the open owner shared by every node, serializes
// open-owner sequenced operations, keeps the registries of names, live
// nodes, open states and delegations, and runs client id and open state
// recovery when the server loses our state.
package mount

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/client/compound"
	"github.com/marmos91/nfs4client/pkg/client/contentcache"
	"github.com/marmos91/nfs4client/pkg/client/metrics"
	"github.com/marmos91/nfs4client/pkg/client/node"
	"github.com/marmos91/nfs4client/pkg/client/notify"
	"github.com/marmos91/nfs4client/pkg/client/retry"
	"github.com/marmos91/nfs4client/pkg/client/state"
)

// localFileIDBase is where ids synthesized for objects without FILEID
// start, far above anything a server hands out in practice.
const localFileIDBase = 1 << 62

// Config describes one mount.
type Config struct {
	// Server is the server address, used in logs, spans and the client id.
	Server string
	// ClientName identifies this host in the nfs_client_id4 string.
	ClientName string
	// DevID is the local device number reported in Stat.
	DevID uint64

	Node  node.Options
	Retry *retry.Policy

	ContentCache contentcache.Provider
	Notifier     notify.Notifier
	Metrics      *metrics.Metrics

	// RenewInterval overrides the RENEW period. Zero uses a third of the
	// server's lease; a negative value disables renewal.
	RenewInterval time.Duration
}

// Mount is a mounted export. It implements node.FileSystem.
type Mount struct {
	cfg       Config
	transport compound.Transport

	openOwner []byte
	clientStr []byte
	verifier  [types.NFS4_VERIFIER_SIZE]byte

	fsid       types.FSID4
	supported  attrs.Bitmap
	expireType uint32
	lease      time.Duration

	nextFileID atomic.Uint64

	clientMu sync.Mutex
	clientID atomic.Uint64

	seqMu sync.Mutex
	seqid uint32

	recoverMu sync.Mutex

	namesMu sync.Mutex
	names   map[uint64]*node.FileNames

	inodesMu sync.Mutex
	inodes   map[uint64]*node.Inode
	creating singleflight.Group

	statesMu sync.Mutex
	states   map[*state.OpenState]*node.Inode
	delegs   map[*state.Delegation]*node.Inode

	root *node.Inode

	stopRenew context.CancelFunc
	renewDone chan struct{}
}

var _ node.FileSystem = (*Mount)(nil)

// New establishes a client id with the server behind transport and loads
// the export root.
func New(ctx context.Context, transport compound.Transport, cfg Config) (*Mount, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanMount)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.Server(cfg.Server))

	cfg = withDefaults(cfg)
	id := uuid.New()
	m := &Mount{
		cfg:       cfg,
		transport: transport,
		openOwner: []byte("open-" + id.String()),
		clientStr: []byte(fmt.Sprintf("%s/%s/%s", cfg.ClientName, cfg.Server, id)),
		names:     make(map[uint64]*node.FileNames),
		inodes:    make(map[uint64]*node.Inode),
		states:    make(map[*state.OpenState]*node.Inode),
		delegs:    make(map[*state.Delegation]*node.Inode),
	}
	copy(m.verifier[:], id[:])
	m.nextFileID.Store(localFileIDBase)

	if err := m.establishClientID(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("establish client id with %s: %w", cfg.Server, err)
	}

	rootID, rootFH, err := m.loadRoot(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("load export root: %w", err)
	}
	names := m.AddName(rootID, rootFH, node.Name{})
	root, err := node.CreateInode(ctx, m, names, node.KindRoot)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("create root node: %w", err)
	}
	m.root = root
	m.inodes[rootID] = root

	m.startRenew()
	logger.InfoCtx(ctx, "mounted",
		logger.KeyServer, cfg.Server, logger.ClientID(m.ClientID()), logger.FileID(rootID),
		"lease", m.lease, logger.KeyProvider, cfg.ContentCache.Name())
	return m, nil
}

func withDefaults(cfg Config) Config {
	if cfg.ClientName == "" {
		cfg.ClientName = "nfs4client"
	}
	if cfg.Node == (node.Options{}) {
		cfg.Node = node.DefaultOptions()
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.ContentCache == nil {
		cfg.ContentCache = contentcache.NewMemory(uint64(cfg.Node.IOSize))
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	return cfg
}

var rootAttrs = []uint32{
	attrs.FATTR4_SUPPORTED_ATTRS,
	attrs.FATTR4_FH_EXPIRE_TYPE,
	attrs.FATTR4_LEASE_TIME,
	attrs.FATTR4_FSID,
	attrs.FATTR4_FILEID,
}

// loadRoot fetches the root handle and the export-wide attributes.
func (m *Mount) loadRoot(ctx context.Context) (uint64, types.FileHandle, error) {
	reply, err := m.transport.Send(ctx, compound.NewRequest().PutRootFH().GetFH().GetAttr(rootAttrs...))
	if err != nil {
		return 0, types.InvalidFileHandle, err
	}
	in := reply.Interpreter()
	if err := in.PutRootFH(); err != nil {
		return 0, types.InvalidFileHandle, err
	}
	fh, err := in.GetFH()
	if err != nil {
		return 0, types.InvalidFileHandle, err
	}
	values, err := in.GetAttr()
	if err != nil {
		return 0, types.InvalidFileHandle, err
	}

	var fileID uint64
	for _, v := range values {
		switch v.Attribute {
		case attrs.FATTR4_SUPPORTED_ATTRS:
			m.supported = v.Bitmap
		case attrs.FATTR4_FH_EXPIRE_TYPE:
			m.expireType = v.Uint32
		case attrs.FATTR4_LEASE_TIME:
			m.lease = time.Duration(v.Uint32) * time.Second
		case attrs.FATTR4_FSID:
			m.fsid = v.FSID
		case attrs.FATTR4_FILEID:
			fileID = v.Uint64
		}
	}
	if fileID == 0 {
		fileID = m.AllocFileID()
	}
	return fileID, fh, nil
}

// Unmount stops lease renewal, returns every delegation and closes every
// open state still registered, then tears the nodes down.
func (m *Mount) Unmount(ctx context.Context) error {
	if m.stopRenew != nil {
		m.stopRenew()
		<-m.renewDone
	}

	var errs []error
	m.statesMu.Lock()
	delegs := make(map[*state.Delegation]*node.Inode, len(m.delegs))
	for d, n := range m.delegs {
		delegs[d] = n
	}
	m.statesMu.Unlock()
	for _, n := range delegs {
		if err := n.RecallDelegation(ctx, false); err != nil {
			errs = append(errs, err)
		}
	}

	m.statesMu.Lock()
	states := make(map[*state.OpenState]*node.Inode, len(m.states))
	for st, n := range m.states {
		states[st] = n
	}
	m.statesMu.Unlock()
	for st, n := range states {
		if err := n.CloseFile(ctx, st); err != nil {
			errs = append(errs, err)
		}
		m.RemoveOpenState(st)
	}

	m.inodesMu.Lock()
	inodes := m.inodes
	m.inodes = make(map[uint64]*node.Inode)
	m.inodesMu.Unlock()
	for _, n := range inodes {
		if err := n.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	logger.InfoCtx(ctx, "unmounted", logger.KeyServer, m.cfg.Server, logger.Err(err))
	return err
}

func (m *Mount) Transport() compound.Transport { return m.transport }
func (m *Mount) Server() string                { return m.cfg.Server }
func (m *Mount) Root() *node.Inode             { return m.root }
func (m *Mount) DevID() uint64                 { return m.cfg.DevID }
func (m *Mount) FsID() types.FSID4             { return m.fsid }
func (m *Mount) OpenOwner() []byte             { return m.openOwner }
func (m *Mount) ExpireType() uint32            { return m.expireType }
func (m *Mount) ClientID() uint64              { return m.clientID.Load() }
func (m *Mount) RetryPolicy() *retry.Policy    { return m.cfg.Retry }
func (m *Mount) Options() node.Options         { return m.cfg.Node }

func (m *Mount) ContentCache() contentcache.Provider { return m.cfg.ContentCache }
func (m *Mount) Notifier() notify.Notifier           { return m.cfg.Notifier }
func (m *Mount) Metrics() *metrics.Metrics           { return m.cfg.Metrics }

// Lease is the lease period the server advertised.
func (m *Mount) Lease() time.Duration { return m.lease }

// AllocFileID returns a fresh local id for an object the server reported
// no FILEID for.
func (m *Mount) AllocFileID() uint64 { return m.nextFileID.Add(1) }

// IsAttrSupported reports whether the server listed attr in
// SUPPORTED_ATTRS.
func (m *Mount) IsAttrSupported(attr uint32) bool { return m.supported.IsSet(attr) }

// OpenOwnerSequenceLock serializes open-owner sequenced operations and
// returns the seqid to use.
func (m *Mount) OpenOwnerSequenceLock() uint32 {
	m.seqMu.Lock()
	return m.seqid
}

// OpenOwnerSequenceUnlock stores the advanced seqid and lets the next
// sequenced operation run.
func (m *Mount) OpenOwnerSequenceUnlock(seq uint32) {
	m.seqid = seq
	m.seqMu.Unlock()
}
