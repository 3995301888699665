package settlement

import (
	"encoding/json"
	"time"

	"github.com/ksred/marketplace-settlements/internal/types"
	"github.com/shopspring/decimal"
)

// Calculation is the settlement of one partner for one period. It is built
// fresh on every call and never mutated afterwards.
type Calculation struct {
	PartnerID             string           `json:"partner_id"`
	PartnerName           string           `json:"partner_name"`
	Period                string           `json:"period"`
	TotalSales            decimal.Decimal  `json:"total_sales"`
	PlatformProductSales  decimal.Decimal  `json:"platform_product_sales"`
	PartnerProductSales   decimal.Decimal  `json:"partner_product_sales"`
	PlatformProductMargin decimal.Decimal  `json:"platform_product_margin"`
	PartnerProductRevenue decimal.Decimal  `json:"partner_product_revenue"`
	GrossEarnings         decimal.Decimal  `json:"gross_earnings"`
	PaymentGatewayFees    decimal.Decimal  `json:"payment_gateway_fees"`
	NetSettlementAmount   decimal.Decimal  `json:"net_settlement_amount"`
	TransactionCount      int              `json:"transaction_count"`
	SkippedLineCount      int              `json:"skipped_line_count"`
	SkippedLines          []SkippedLine    `json:"skipped_lines,omitempty"`
	Breakdown             []BreakdownEntry `json:"breakdown"`
}

// BreakdownEntry is one order line's contribution to a Calculation.
type BreakdownEntry struct {
	OrderID        string            `json:"order_id"`
	OrderNumber    string            `json:"order_number"`
	ProductID      string            `json:"product_id"`
	ProductName    string            `json:"product_name"`
	ProductType    types.ProductType `json:"product_type"`
	SaleAmount     decimal.Decimal   `json:"sale_amount"`
	WholesaleCost  *decimal.Decimal  `json:"wholesale_cost,omitempty"` // platform-supplied lines only
	PartnerEarning decimal.Decimal   `json:"partner_earning"`
	GatewayFee     decimal.Decimal   `json:"gateway_fee"`
	OrderDate      time.Time         `json:"order_date"`
}

// SkippedLine is an order line left out of every total.
type SkippedLine struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

// MonthlySummary aggregates the calculations of every partner with sales in
// a period.
type MonthlySummary struct {
	Period           string          `json:"period"`
	Month            int             `json:"month"`
	Year             int             `json:"year"`
	TotalPartners    int             `json:"total_partners"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TotalGatewayFees decimal.Decimal `json:"total_gateway_fees"`
	Settlements      []*Calculation  `json:"settlements"`
}

// TotalSettlements always equals TotalPartners: one settlement per partner.
func (s *MonthlySummary) TotalSettlements() int {
	return s.TotalPartners
}

func (s *MonthlySummary) MarshalJSON() ([]byte, error) {
	type alias MonthlySummary
	return json.Marshal(struct {
		*alias
		TotalSettlements int `json:"total_settlements"`
	}{
		alias:            (*alias)(s),
		TotalSettlements: s.TotalSettlements(),
	})
}

// PartnerReport pairs a generated report with the partner it is for.
type PartnerReport struct {
	PartnerID string  `json:"partner_id"`
	Report    *Report `json:"report"`
}

// PartnerFailure records a partner whose report could not be produced.
type PartnerFailure struct {
	PartnerID string `json:"partner_id"`
	Error     string `json:"error"`
}

// BatchResult is the output of one monthly batch.
type BatchResult struct {
	Calculations []*Calculation   `json:"calculations"`
	Reports      []PartnerReport  `json:"reports"`
	Failures     []PartnerFailure `json:"failures,omitempty"`
	Summary      *MonthlySummary  `json:"summary"`
}

// RunStatus is the lifecycle state of a persisted batch run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// Finished reports whether the run reached a completed state.
func (s RunStatus) Finished() bool {
	return s == RunStatusSuccess || s == RunStatusPartial || s == RunStatusFailed
}

type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
)

// RunRecord is the persisted history of one monthly batch run.
type RunRecord struct {
	ID                uint            `gorm:"primaryKey" json:"-"`
	RunID             string          `gorm:"uniqueIndex" json:"run_id"`
	Period            string          `json:"period"`
	Month             int             `gorm:"index:idx_run_period" json:"month"`
	Year              int             `gorm:"index:idx_run_period" json:"year"`
	Trigger           RunTrigger      `gorm:"column:run_trigger" json:"trigger"`
	Status            RunStatus       `gorm:"index" json:"status"`
	Progress          int             `json:"progress"`
	PartnersProcessed int             `json:"partners_processed"`
	TotalAmount       decimal.Decimal `gorm:"type:decimal(14,2)" json:"total_amount"`
	TotalGatewayFees  decimal.Decimal `gorm:"type:decimal(14,2)" json:"total_gateway_fees"`
	EmailsSent        int             `json:"emails_sent"`
	EmailsSkipped     int             `json:"emails_skipped"`
	Errors            string          `json:"-"` // JSON array of messages
	IdempotencyKey    *string         `gorm:"uniqueIndex" json:"-"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"-"`
	UpdatedAt         time.Time       `json:"-"`

	// Replayed is set when a reused idempotency key returned this run.
	Replayed bool `gorm:"-" json:"replayed,omitempty"`
}

// ErrorList decodes the stored error messages.
func (r *RunRecord) ErrorList() []string {
	if r.Errors == "" {
		return []string{}
	}
	var errs []string
	if err := json.Unmarshal([]byte(r.Errors), &errs); err != nil {
		return []string{r.Errors}
	}
	return errs
}

func (r *RunRecord) setErrors(errs []string) {
	if len(errs) == 0 {
		r.Errors = ""
		return
	}
	b, _ := json.Marshal(errs)
	r.Errors = string(b)
}

func (r *RunRecord) MarshalJSON() ([]byte, error) {
	type alias RunRecord
	return json.Marshal(struct {
		*alias
		Errors []string `json:"errors"`
	}{
		alias:  (*alias)(r),
		Errors: r.ErrorList(),
	})
}
