package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "", want: FormatTable},
		{input: "  table ", want: FormatTable},
		{input: "JSON", want: FormatJSON},
		{input: "yml", want: FormatYAML},
		{input: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type row struct {
	Status string `json:"status" yaml:"status"`
	Action string `json:"action" yaml:"action"`
}

func TestPrinter(t *testing.T) {
	table := NewTable("Status", "Action")
	table.AddRow("NFS4ERR_DELAY", "retry")
	table.AddRow("NFS4ERR_STALE", "recover")

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(table))
	out := buf.String()
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "NFS4ERR_DELAY")
	assert.Contains(t, out, "recover")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatJSON).Print([]row{{"NFS4ERR_DELAY", "retry"}}))
	assert.Contains(t, buf.String(), `"status": "NFS4ERR_DELAY"`)

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatYAML).Print(row{"NFS4ERR_DELAY", "retry"}))
	assert.Contains(t, buf.String(), "action: retry")

	// Values without a table rendering fall back to JSON.
	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(row{"NFS4_OK", "none"}))
	assert.Contains(t, buf.String(), `"action": "none"`)
}

func TestPrintPairs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintPairs(&buf, [][2]string{{"Server", "nfs:2049"}, {"Content cache", "badger"}}))
	assert.Contains(t, buf.String(), "Server")
	assert.Contains(t, buf.String(), "badger")
}
