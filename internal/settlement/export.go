package settlement

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseExportFormat accepts "csv" and "xlsx". Empty selects CSV.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", ExportCSV:
		return ExportCSV, nil
	case ExportXLSX, "excel":
		return ExportXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f ExportFormat) ContentType() string {
	switch f {
	case ExportXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Filename is e.g. "settlements-2024-08.csv".
func (f ExportFormat) Filename(summary *MonthlySummary) string {
	return fmt.Sprintf("settlements-%04d-%02d.%s", summary.Year, summary.Month, f)
}

var settlementHeader = []string{
	"partner_id", "partner_name", "period", "total_sales",
	"platform_product_sales", "platform_product_margin",
	"partner_product_sales", "partner_product_revenue",
	"gross_earnings", "payment_gateway_fees", "net_settlement_amount",
	"transaction_count", "skipped_line_count",
}

var breakdownHeader = []string{
	"partner_id", "order_id", "order_number", "product_id", "product_name",
	"product_type", "sale_amount", "wholesale_cost", "partner_earning",
	"gateway_fee", "order_date",
}

func settlementRow(calc *Calculation) []string {
	return []string{
		calc.PartnerID,
		calc.PartnerName,
		calc.Period,
		calc.TotalSales.StringFixed(2),
		calc.PlatformProductSales.StringFixed(2),
		calc.PlatformProductMargin.StringFixed(2),
		calc.PartnerProductSales.StringFixed(2),
		calc.PartnerProductRevenue.StringFixed(2),
		calc.GrossEarnings.StringFixed(2),
		calc.PaymentGatewayFees.StringFixed(2),
		calc.NetSettlementAmount.StringFixed(2),
		strconv.Itoa(calc.TransactionCount),
		strconv.Itoa(calc.SkippedLineCount),
	}
}

func breakdownRow(partnerID string, entry BreakdownEntry) []string {
	wholesale := ""
	if entry.WholesaleCost != nil {
		wholesale = entry.WholesaleCost.StringFixed(2)
	}
	return []string{
		partnerID,
		entry.OrderID,
		entry.OrderNumber,
		entry.ProductID,
		entry.ProductName,
		string(entry.ProductType),
		entry.SaleAmount.StringFixed(2),
		wholesale,
		entry.PartnerEarning.StringFixed(2),
		entry.GatewayFee.StringFixed(2),
		entry.OrderDate.Format(time.RFC3339),
	}
}

// ExportMonthlyCSV writes one row per partner settlement followed by a totals row.
func ExportMonthlyCSV(w io.Writer, summary *MonthlySummary) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(settlementHeader); err != nil {
		return err
	}
	for _, calc := range summary.Settlements {
		if err := cw.Write(settlementRow(calc)); err != nil {
			return err
		}
	}

	totals := make([]string, len(settlementHeader))
	totals[0] = "TOTAL"
	totals[2] = summary.Period
	totals[9] = summary.TotalGatewayFees.StringFixed(2)
	totals[10] = summary.TotalAmount.StringFixed(2)
	if err := cw.Write(totals); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

// ExportMonthlyXLSX writes a workbook with a "Settlements" sheet and a
// "Breakdown" sheet holding every line entry.
func ExportMonthlyXLSX(w io.Writer, summary *MonthlySummary) error {
	f := excelize.NewFile()
	defer f.Close()

	const (
		settlementsSheet = "Settlements"
		breakdownSheet   = "Breakdown"
	)
	if err := f.SetSheetName("Sheet1", settlementsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(breakdownSheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	row := 1
	if err := writeXLSXRow(f, settlementsSheet, row, settlementHeader); err != nil {
		return err
	}
	for _, calc := range summary.Settlements {
		row++
		if err := writeXLSXRow(f, settlementsSheet, row, xlsxValues(settlementRow(calc), 3, 12)); err != nil {
			return err
		}
	}
	row++
	if err := writeXLSXRow(f, settlementsSheet, row, []interface{}{
		"TOTAL", "", summary.Period, "", "", "", "", "", "",
		summary.TotalGatewayFees.InexactFloat64(), summary.TotalAmount.InexactFloat64(),
		"", "",
	}); err != nil {
		return err
	}

	row = 1
	if err := writeXLSXRow(f, breakdownSheet, row, breakdownHeader); err != nil {
		return err
	}
	for _, calc := range summary.Settlements {
		for _, entry := range calc.Breakdown {
			row++
			if err := writeXLSXRow(f, breakdownSheet, row, xlsxValues(breakdownRow(calc.PartnerID, entry), 6, 9)); err != nil {
				return err
			}
		}
	}

	for _, sheet := range []string{settlementsSheet, breakdownSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, "A", "M", 18); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// xlsxValues converts the money columns in [from, to] to numbers so that
// spreadsheets can sum them. Empty cells stay empty.
func xlsxValues(cells []string, from, to int) []interface{} {
	values := make([]interface{}, len(cells))
	for i, cell := range cells {
		values[i] = cell
		if i < from || i > to || cell == "" {
			continue
		}
		if d, err := decimal.NewFromString(cell); err == nil {
			values[i] = d.InexactFloat64()
		}
	}
	return values
}

func writeXLSXRow[T any](f *excelize.File, sheet string, row int, values []T) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
