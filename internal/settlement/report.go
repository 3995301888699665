package settlement

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/ksred/marketplace-settlements/internal/types"
	"github.com/shopspring/decimal"
)

const DefaultEmailTemplate = `Dear {{.PartnerName}},

Your monthly settlement has been processed for {{.Period}}.

Settlement Summary:
• Total Sales: {{.TotalSales}}
• Gross Earnings: {{.GrossEarnings}}
• Payment Gateway Fees: {{.GatewayFees}}
• Net Settlement Amount: {{.NetAmount}}
• Total Transactions: {{.TransactionCount}}

Product Breakdown:
• Platform Product Sales: {{.PlatformSales}}
• Platform Product Margins: {{.PlatformMargin}}
• Partner Product Sales: {{.PartnerSales}}
• Partner Product Revenue: {{.PartnerRevenue}}

The settlement amount will be deposited to your registered bank account within 3-5 business days.

For any queries, please contact our support team.

Best regards,
Marketplace Team
`

// Report is the rendered settlement of one partner: a flat summary, the
// display breakdown and the email body.
type Report struct {
	Subject   string        `json:"subject"`
	Summary   ReportSummary `json:"summary"`
	Breakdown []ReportLine  `json:"breakdown"`
	EmailBody string        `json:"email_body"`
}

type ReportSummary struct {
	Partner          string          `json:"partner"`
	Period           string          `json:"period"`
	TotalSales       decimal.Decimal `json:"total_sales"`
	GrossEarnings    decimal.Decimal `json:"gross_earnings"`
	GatewayFees      decimal.Decimal `json:"pg_fees"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	TransactionCount int             `json:"transaction_count"`
}

type ReportLine struct {
	Order   string            `json:"order"`
	Product string            `json:"product"`
	Type    types.ProductType `json:"type"`
	Sales   decimal.Decimal   `json:"sales"`
	Earning decimal.Decimal   `json:"earning"`
	Fee     decimal.Decimal   `json:"pg_fee"`
	Date    time.Time         `json:"date"`
}

// EmailData holds the variables available to email templates. Amounts are
// pre-rendered with a currency sign and exactly two decimals.
type EmailData struct {
	PartnerID        string
	PartnerName      string
	Period           string
	TotalSales       string
	GrossEarnings    string
	GatewayFees      string
	NetAmount        string
	PlatformSales    string
	PlatformMargin   string
	PartnerSales     string
	PartnerRevenue   string
	TransactionCount int
}

func NewEmailData(calc *Calculation) EmailData {
	return EmailData{
		PartnerID:        calc.PartnerID,
		PartnerName:      calc.PartnerName,
		Period:           calc.Period,
		TotalSales:       FormatMoney(calc.TotalSales),
		GrossEarnings:    FormatMoney(calc.GrossEarnings),
		GatewayFees:      FormatMoney(calc.PaymentGatewayFees),
		NetAmount:        FormatMoney(calc.NetSettlementAmount),
		PlatformSales:    FormatMoney(calc.PlatformProductSales),
		PlatformMargin:   FormatMoney(calc.PlatformProductMargin),
		PartnerSales:     FormatMoney(calc.PartnerProductSales),
		PartnerRevenue:   FormatMoney(calc.PartnerProductRevenue),
		TransactionCount: calc.TransactionCount,
	}
}

// FormatMoney renders d as dollars with two decimals, e.g. "$1234.50".
func FormatMoney(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

type ReportGenerator struct {
	tmpl *template.Template
}

// NewReportGenerator parses an email template and renders it once against
// sample data, so unknown fields fail here instead of at batch time. Empty
// text selects DefaultEmailTemplate.
func NewReportGenerator(text string) (*ReportGenerator, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultEmailTemplate
	}
	tmpl, err := template.New("settlement-email").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}
	if err := tmpl.Execute(io.Discard, sampleEmailData); err != nil {
		return nil, fmt.Errorf("invalid email template: %w", err)
	}
	return &ReportGenerator{tmpl: tmpl}, nil
}

var sampleEmailData = EmailData{
	PartnerID:        "PARTNER",
	PartnerName:      "Sample Partner",
	Period:           "January 2024",
	TotalSales:       "$0.00",
	GrossEarnings:    "$0.00",
	GatewayFees:      "$0.00",
	NetAmount:        "$0.00",
	PlatformSales:    "$0.00",
	PlatformMargin:   "$0.00",
	PartnerSales:     "$0.00",
	PartnerRevenue:   "$0.00",
	TransactionCount: 0,
}

var defaultGenerator = func() *ReportGenerator {
	g, err := NewReportGenerator(DefaultEmailTemplate)
	if err != nil {
		panic(err)
	}
	return g
}()

// GenerateReport renders calc with the default template.
func GenerateReport(calc *Calculation) *Report {
	report, err := defaultGenerator.Generate(calc)
	if err != nil {
		panic(fmt.Sprintf("settlement: default email template failed: %v", err))
	}
	return report
}

// Generate reshapes calc for display and renders its email body. Nothing is
// recomputed.
func (g *ReportGenerator) Generate(calc *Calculation) (*Report, error) {
	var body bytes.Buffer
	if err := g.tmpl.Execute(&body, NewEmailData(calc)); err != nil {
		return nil, fmt.Errorf("failed to render report for partner %s: %w", calc.PartnerID, err)
	}

	lines := make([]ReportLine, 0, len(calc.Breakdown))
	for _, entry := range calc.Breakdown {
		lines = append(lines, ReportLine{
			Order:   entry.OrderNumber,
			Product: entry.ProductName,
			Type:    entry.ProductType,
			Sales:   entry.SaleAmount,
			Earning: entry.PartnerEarning,
			Fee:     entry.GatewayFee,
			Date:    entry.OrderDate,
		})
	}

	return &Report{
		Subject: "Settlement Report - " + calc.Period,
		Summary: ReportSummary{
			Partner:          calc.PartnerName,
			Period:           calc.Period,
			TotalSales:       calc.TotalSales,
			GrossEarnings:    calc.GrossEarnings,
			GatewayFees:      calc.PaymentGatewayFees,
			NetAmount:        calc.NetSettlementAmount,
			TransactionCount: calc.TransactionCount,
		},
		Breakdown: lines,
		EmailBody: body.String(),
	}, nil
}
