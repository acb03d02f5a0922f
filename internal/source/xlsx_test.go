package source

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, cells := range rows {
			row := sheet.AddRow()
			for _, v := range cells {
				row.AddCell().SetString(v)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX_Records(t *testing.T) {
	path := writeTestXLSX(t, map[string][][]string{
		"Leads": {
			{"RadarID", "City", "EquityPercent"},
			{"P1", "Austin", "55.5"},
			{"", "", ""},
			{"P2", "Dallas"},
		},
	})

	records, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "55.5", records[0]["EquityPercent"])
	assert.Equal(t, "Dallas", records[1]["City"])
	assert.Equal(t, "", records[1]["EquityPercent"])
}

func TestReadXLSX_SheetSelection(t *testing.T) {
	path := writeTestXLSX(t, map[string][][]string{
		"Summary": {{"note"}},
		"Leads":   {{"RadarID"}, {"P9"}},
	})

	records, err := ReadXLSX(path, XLSXOptions{SheetName: "Leads"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "P9", records[0]["RadarID"])

	_, err = ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	assert.ErrorContains(t, err, "not found")
	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 5})
	assert.ErrorContains(t, err, "out of range")
}

func TestReadXLSX_BadFile(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "missing.xlsx"), XLSXOptions{})
	assert.ErrorContains(t, err, "xlsx: open file")
}
