package settlement

import (
	"errors"
	"time"

	"github.com/ksred/marketplace-settlements/internal/types"
)

// Automation composes the monthly aggregator with the report generator. It
// does no I/O; scheduling and dispatch live in Service and Processor.
type Automation struct {
	calc    *Calculator
	reports *ReportGenerator
}

func NewAutomation(calc *Calculator, reports *ReportGenerator) (*Automation, error) {
	if calc == nil {
		return nil, errors.New("calculator is required")
	}
	if reports == nil {
		reports = defaultGenerator
	}
	return &Automation{calc: calc, reports: reports}, nil
}

// RunMonthlyBatch settles the calendar month before now and renders one
// report per included partner. A partner whose report fails is listed in
// Failures and the rest of the batch continues.
func (a *Automation) RunMonthlyBatch(orders []types.Order, products []types.Product, partners []types.Partner, now time.Time) (*BatchResult, error) {
	return a.runPeriod(orders, products, partners, PreviousPeriod(now.In(a.calc.cfg.Location)))
}

func (a *Automation) runPeriod(orders []types.Order, products []types.Product, partners []types.Partner, period Period) (*BatchResult, error) {
	summary := a.calc.summarize(orders, products, partners, period)
	reports, failures := a.render(summary)
	return &BatchResult{
		Calculations: summary.Settlements,
		Reports:      reports,
		Failures:     failures,
		Summary:      summary,
	}, nil
}

func (a *Automation) render(summary *MonthlySummary) ([]PartnerReport, []PartnerFailure) {
	reports := make([]PartnerReport, 0, len(summary.Settlements))
	var failures []PartnerFailure
	for _, calc := range summary.Settlements {
		report, err := a.reports.Generate(calc)
		if err != nil {
			failures = append(failures, PartnerFailure{PartnerID: calc.PartnerID, Error: err.Error()})
			continue
		}
		reports = append(reports, PartnerReport{PartnerID: calc.PartnerID, Report: report})
	}
	return reports, failures
}
