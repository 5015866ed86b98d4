package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableData accumulates rows for a column-aligned listing.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData creates a table with the given column headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

// AddRow appends a row to the table.
func (t *TableData) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

// Headers returns the column headers.
func (t *TableData) Headers() []string {
	return t.headers
}

// Rows returns the accumulated rows.
func (t *TableData) Rows() [][]string {
	return t.rows
}

// PrintTable renders the table to the writer without borders, in the
// style of "kubectl get" listings.
func PrintTable(w io.Writer, data *TableData) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(data.Headers())

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range data.Rows() {
		table.Append(row)
	}

	table.Render()
	return nil
}
