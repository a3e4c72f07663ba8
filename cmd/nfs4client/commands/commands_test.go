package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := GetRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.yaml")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nfs4client "+Version)
}

func TestRetryTable(t *testing.T) {
	out, err := execute(t, "retry-table", "--config", missingConfig(t), "--output", "json")
	require.NoError(t, err)

	var rows []retryRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	byStatus := make(map[string]retryRow)
	for _, r := range rows {
		byStatus[r.Status] = r
	}
	assert.Equal(t, "retry", byStatus["NFS4ERR_DELAY"].Action)
	assert.Equal(t, "recover", byStatus["NFS4ERR_STALE_CLIENTID"].Action)
	assert.Equal(t, "client_id", byStatus["NFS4ERR_STALE_CLIENTID"].Recovery)

	out, err = execute(t, "retry-table", "--config", missingConfig(t), "--output", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "NFS4ERR_GRACE")
}

func TestSimulate(t *testing.T) {
	for _, deleg := range []string{"none", "read"} {
		t.Run(deleg, func(t *testing.T) {
			out, err := execute(t, "simulate", "--config", missingConfig(t),
				"--files", "3", "--size", "4Ki", "--delegations", deleg, "--output", "json")
			require.NoError(t, err)

			var counts []opCount
			require.NoError(t, json.Unmarshal([]byte(out), &counts))
			byOp := make(map[string]int)
			for _, c := range counts {
				byOp[c.Op] = c.Count
			}
			assert.GreaterOrEqual(t, byOp["OPEN"], 3)
			assert.GreaterOrEqual(t, byOp["REMOVE"], 4)
			assert.Equal(t, 3, byOp["RENAME"])
		})
	}
}

func TestSimulateRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "simulate", "--config", missingConfig(t), "--delegations", "exclusive")
	assert.Error(t, err)

	_, err = execute(t, "simulate", "--config", missingConfig(t), "--delegations", "none", "--size", "lots")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	out, err = execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Validation: OK")
	assert.Contains(t, out, "localhost:2049")

	out, err = execute(t, "config", "show", "--config", path, "--output", "json")
	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Contains(t, shown, "Server")

	out, err = execute(t, "config", "schema", "--output", "")
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "server")
	assert.Contains(t, props, "retry")
}

func TestConfigValidateMissingFile(t *testing.T) {
	_, err := execute(t, "config", "validate", "--config", missingConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config init")
}
