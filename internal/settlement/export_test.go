package settlement

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func exportSummary(t *testing.T) *MonthlySummary {
	t.Helper()
	orders, products, partners := marketplaceFixture()
	summary, err := testCalculator(t).CalculateMonthlySettlements(orders, products, partners, 8, 2024)
	require.NoError(t, err)
	return summary
}

func TestParseExportFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    ExportFormat
		wantErr bool
	}{
		{in: "", want: ExportCSV},
		{in: "csv", want: ExportCSV},
		{in: "xlsx", want: ExportXLSX},
		{in: "excel", want: ExportXLSX},
		{in: "pdf", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseExportFormat(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedFormat)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestExportFormat_Metadata(t *testing.T) {
	summary := &MonthlySummary{Month: 3, Year: 2025}
	assert.Equal(t, "settlements-2025-03.csv", ExportCSV.Filename(summary))
	assert.Equal(t, "settlements-2025-03.xlsx", ExportXLSX.Filename(summary))
	assert.Equal(t, "text/csv", ExportCSV.ContentType())
	assert.Contains(t, ExportXLSX.ContentType(), "spreadsheetml")
}

func TestExportMonthlyCSV(t *testing.T) {
	summary := exportSummary(t)

	var buf bytes.Buffer
	require.NoError(t, ExportMonthlyCSV(&buf, summary))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, settlementHeader, records[0])
	assert.Equal(t, []string{
		"PA", "Alpha Goods", "August 2024", "290.00",
		"200.00", "80.00", "90.00", "90.00",
		"170.00", "9.01", "160.99", "2", "0",
	}, records[1])
	assert.Equal(t, "PB", records[2][0])

	totals := records[3]
	assert.Equal(t, "TOTAL", totals[0])
	assert.Equal(t, "August 2024", totals[2])
	assert.Equal(t, summary.TotalGatewayFees.StringFixed(2), totals[9])
	assert.Equal(t, "241.18", totals[10])
}

func TestExportMonthlyCSV_Empty(t *testing.T) {
	summary, err := testCalculator(t).CalculateMonthlySettlements(nil, nil, nil, 8, 2024)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ExportMonthlyCSV(&buf, summary))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "0.00", records[1][10])
}

func TestExportMonthlyXLSX(t *testing.T) {
	summary := exportSummary(t)

	var buf bytes.Buffer
	require.NoError(t, ExportMonthlyXLSX(&buf, summary))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Settlements", "Breakdown"}, f.GetSheetList())

	rows, err := f.GetRows("Settlements")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, settlementHeader, rows[0])
	assert.Equal(t, "PA", rows[1][0])
	assert.Equal(t, "160.99", rows[1][10])
	assert.Equal(t, "TOTAL", rows[3][0])
	assert.Equal(t, "241.18", rows[3][10])

	// Money columns are stored as numbers.
	cellType, err := f.GetCellType("Settlements", "K2")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, cellType)
	assert.NotEqual(t, excelize.CellTypeInlineString, cellType)

	breakdown, err := f.GetRows("Breakdown")
	require.NoError(t, err)
	require.Len(t, breakdown, 5)
	assert.Equal(t, breakdownHeader, breakdown[0])
	assert.Equal(t, "PA", breakdown[1][0])
	assert.Equal(t, "O1", breakdown[1][1])
	assert.Equal(t, "main-supplied", breakdown[1][5])
	assert.Equal(t, "120", breakdown[1][7])
}
