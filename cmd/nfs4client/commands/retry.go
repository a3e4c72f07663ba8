package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfs4client/internal/cli/output"
	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4client/pkg/client/retry"
	"github.com/marmos91/nfs4client/pkg/config"
)

var retryOutput string

var retryCmd = &cobra.Command{
	Use:   "retry-table",
	Short: "Print how each NFSv4 status is retried",
	Long: `Print the retry classification table: for every nfsstat4 the client
handles, whether the operation fails, is resent, or is resent after a
recovery step, and how long it waits.

Delays come from the retry section of the configuration.

Examples:
  nfs4client retry-table
  nfs4client retry-table --output json`,
	RunE: runRetryTable,
}

func init() {
	retryCmd.Flags().StringVarP(&retryOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

type retryRow struct {
	Status    string `json:"status" yaml:"status"`
	Code      uint32 `json:"code" yaml:"code"`
	Action    string `json:"action" yaml:"action"`
	Recovery  string `json:"recovery" yaml:"recovery"`
	Backoff   string `json:"backoff" yaml:"backoff"`
	Unbounded bool   `json:"unbounded,omitempty" yaml:"unbounded,omitempty"`
}

type retryRows []retryRow

func (r retryRows) Headers() []string {
	return []string{"Status", "Code", "Action", "Recovery", "Backoff", "Unbounded"}
}

func (r retryRows) Rows() [][]string {
	out := make([][]string, 0, len(r))
	for _, row := range r {
		out = append(out, []string{
			row.Status,
			strconv.FormatUint(uint64(row.Code), 10),
			row.Action,
			row.Recovery,
			row.Backoff,
			strconv.FormatBool(row.Unbounded),
		})
	}
	return out
}

func retryTable(p *retry.Policy) retryRows {
	entries := p.Table()
	rows := make(retryRows, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, retryRow{
			Status:    types.StatusName(e.Status),
			Code:      e.Status,
			Action:    e.Rule.Action.String(),
			Recovery:  e.Rule.Recovery.String(),
			Backoff:   e.Rule.Backoff.String(),
			Unbounded: e.Rule.Unbounded,
		})
	}
	return rows
}

func runRetryTable(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(retryOutput)
	if err != nil {
		return err
	}
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format).Print(retryTable(cfg.RetryPolicy()))
}
