package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by values that print as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

func newTable(w io.Writer, sep string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(sep)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// PrintTable writes data as a borderless table.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := newTable(w, "")
	table.SetAutoFormatHeaders(true)
	table.SetHeader(data.Headers())
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// PrintPairs writes a two-column "key: value" listing.
func PrintPairs(w io.Writer, pairs [][2]string) error {
	table := newTable(w, ":")
	table.SetAutoFormatHeaders(false)
	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
	return nil
}

// Table is an ad-hoc TableRenderer.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable returns an empty table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row.
func (t *Table) AddRow(row ...string) { t.rows = append(t.rows, row) }

func (t *Table) Headers() []string { return t.headers }
func (t *Table) Rows() [][]string  { return t.rows }
