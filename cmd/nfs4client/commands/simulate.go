package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/marmos91/nfs4client/internal/bytesize"
	"github.com/marmos91/nfs4client/internal/cli/output"
	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/compound/compoundtest"
	"github.com/marmos91/nfs4client/pkg/client/idmap"
	"github.com/marmos91/nfs4client/pkg/client/metrics"
	"github.com/marmos91/nfs4client/pkg/client/mount"
	"github.com/marmos91/nfs4client/pkg/client/node"
	"github.com/marmos91/nfs4client/pkg/client/notify"
	"github.com/marmos91/nfs4client/pkg/config"
)

var (
	simFiles       int
	simSize        string
	simDelegations string
	simHold        bool
	simOutput      string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a workload against an in-process NFSv4 server",
	Long: `Mount an in-process NFSv4.0 server with the configured caches, retry
policy and identity mapping, and run a small workload through the node
layer: create a directory, write and read back files, list, lock, rename
and remove them. Prints the operations the server received.

With metrics enabled the Prometheus endpoint serves the client metrics;
--hold keeps it up until interrupted.

Examples:
  nfs4client simulate --files 16 --size 256Ki
  nfs4client simulate --delegations write --output json`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simFiles, "files", 8, "Number of files to create")
	simulateCmd.Flags().StringVar(&simSize, "size", "64Ki", "Size of each file")
	simulateCmd.Flags().StringVar(&simDelegations, "delegations", "none", "Delegations the server grants (none|read|write)")
	simulateCmd.Flags().BoolVar(&simHold, "hold", false, "Keep the mount and metrics endpoint up until interrupted")
	simulateCmd.Flags().StringVarP(&simOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func delegationType(s string) (uint32, error) {
	switch s {
	case "", "none":
		return types.OPEN_DELEGATE_NONE, nil
	case "read":
		return types.OPEN_DELEGATE_READ, nil
	case "write":
		return types.OPEN_DELEGATE_WRITE, nil
	}
	return 0, fmt.Errorf("invalid delegation type %q (valid: none, read, write)", s)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(simOutput)
	if err != nil {
		return err
	}
	size, err := bytesize.Parse(simSize)
	if err != nil {
		return fmt.Errorf("invalid --size: %w", err)
	}
	deleg, err := delegationType(simDelegations)
	if err != nil {
		return err
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopTelemetry, err := InitTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	if cfg.Metrics.Enabled {
		ms, err := metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), reg)
		if err != nil {
			return err
		}
		go func() {
			if err := ms.Serve(ctx); err != nil {
				logger.Error("metrics server", logger.Err(err))
			}
		}()
	}

	cache, err := cfg.ContentCache(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	srv := compoundtest.New()
	srv.GrantDelegations(deleg)

	m, err := mount.New(ctx, srv, cfg.MountConfig(cache, met, notify.Logging{}))
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Unmount(context.Background()); err != nil {
			logger.Error("unmount", logger.Err(err))
		}
	}()

	w := workload{m: m, mapper: cfg.IDMapper(), files: simFiles, size: uint64(size)}
	if err := w.run(ctx); err != nil {
		return err
	}

	if err := output.NewPrinter(cmd.OutOrStdout(), format).Print(opCounts(srv)); err != nil {
		return err
	}

	if simHold {
		logger.Info("holding mount, press Ctrl+C to stop")
		<-ctx.Done()
	}
	return nil
}

type workload struct {
	m      *mount.Mount
	mapper idmap.Mapper
	files  int
	size   uint64
}

func (w workload) run(ctx context.Context) error {
	root := w.m.Root()
	if _, err := root.Mkdir(ctx, "sim", 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	dir, err := root.LookUp(ctx, "sim")
	if err != nil {
		return fmt.Errorf("lookup sim: %w", err)
	}

	data := bytes.Repeat([]byte{'x'}, int(w.size))
	for i := 0; i < w.files; i++ {
		name := "f" + strconv.Itoa(i)
		if err := w.writeFile(ctx, dir, name, data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	entries, err := dir.ReadDir(ctx)
	if err != nil {
		return fmt.Errorf("readdir: %w", err)
	}
	if len(entries) != w.files {
		return fmt.Errorf("readdir returned %d entries, want %d", len(entries), w.files)
	}

	for _, e := range entries {
		if err := w.verifyFile(ctx, dir, e.Name, data); err != nil {
			return fmt.Errorf("verify %s: %w", e.Name, err)
		}
		if err := dir.Rename(ctx, e.Name, dir, e.Name+".old"); err != nil {
			return fmt.Errorf("rename %s: %w", e.Name, err)
		}
		if err := dir.Remove(ctx, e.Name+".old", false); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name, err)
		}
	}
	return root.Remove(ctx, "sim", true)
}

func (w workload) writeFile(ctx context.Context, dir *node.Inode, name string, data []byte) error {
	f, c, err := dir.Create(ctx, name, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	fl := unix.Flock_t{Type: unix.F_WRLCK, Start: 0, Len: 0, Pid: int32(os.Getpid())}
	if err := f.AcquireLock(ctx, c, &fl, false); err != nil {
		_ = f.Close(ctx, c)
		return err
	}
	if _, err := f.Write(ctx, c, 0, data); err != nil {
		_ = f.Close(ctx, c)
		return err
	}
	if err := f.ReleaseLock(ctx, c, &fl); err != nil {
		_ = f.Close(ctx, c)
		return err
	}
	return f.Close(ctx, c)
}

func (w workload) verifyFile(ctx context.Context, dir *node.Inode, name string, want []byte) error {
	f, err := dir.LookUp(ctx, name)
	if err != nil {
		return err
	}
	st, err := f.Stat(ctx, w.mapper)
	if err != nil {
		return err
	}
	if st.Size != uint64(len(want)) {
		return fmt.Errorf("size %d, want %d", st.Size, len(want))
	}

	c, err := f.Open(ctx, unix.O_RDONLY)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close(ctx, c) }()

	got := make([]byte, len(want))
	var off int
	for off < len(got) {
		n, err := f.Read(ctx, c, uint64(off), got[off:])
		off += n
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if err != nil || n == 0 {
			break
		}
	}
	if !bytes.Equal(got[:off], want) {
		return fmt.Errorf("content mismatch after %d bytes", off)
	}
	return nil
}

type opCount struct {
	Op    string `json:"op" yaml:"op"`
	Count int    `json:"count" yaml:"count"`
}

type opCountList []opCount

func (l opCountList) Headers() []string { return []string{"Operation", "Count"} }

func (l opCountList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, c := range l {
		rows = append(rows, []string{c.Op, strconv.Itoa(c.Count)})
	}
	return rows
}

func opCounts(srv *compoundtest.Server) opCountList {
	var out opCountList
	for op := uint32(types.OP_ACCESS); op <= types.OP_RELEASE_LOCKOWNER; op++ {
		if n := srv.Count(op); n > 0 {
			out = append(out, opCount{Op: types.OpName(op), Count: n})
		}
	}
	return out
}
