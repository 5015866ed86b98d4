package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableData(t *testing.T) {
	table := NewTableData("ID", "Filename", "Size")

	assert.Equal(t, []string{"ID", "Filename", "Size"}, table.Headers())
	assert.Empty(t, table.Rows())

	table.AddRow("abc", "report.pdf", "12KiB")
	table.AddRow("def", "logo.png", "4KiB")

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"abc", "report.pdf", "12KiB"}, rows[0])
	assert.Equal(t, []string{"def", "logo.png", "4KiB"}, rows[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Name", "Value")
	table.AddRow("key1", "value1")
	table.AddRow("key2", "value2")

	var buf bytes.Buffer
	err := PrintTable(&buf, table)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "NAME")
	assert.Contains(t, output, "VALUE")
	assert.Contains(t, output, "key1")
	assert.Contains(t, output, "value1")
	assert.Contains(t, output, "key2")
	assert.Contains(t, output, "value2")
}
