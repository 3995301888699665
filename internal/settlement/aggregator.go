package settlement

import (
	"github.com/ksred/marketplace-settlements/internal/types"
	"github.com/shopspring/decimal"
)

// CalculateMonthlySettlements settles every partner for the given month and
// keeps only partners with sales in it. Partner order is preserved.
func (c *Calculator) CalculateMonthlySettlements(orders []types.Order, products []types.Product, partners []types.Partner, month, year int) (*MonthlySummary, error) {
	period, err := NewPeriod(month, year)
	if err != nil {
		return nil, err
	}
	return c.summarize(orders, products, partners, period), nil
}

func (c *Calculator) summarize(orders []types.Order, products []types.Product, partners []types.Partner, period Period) *MonthlySummary {
	summary := &MonthlySummary{
		Period:           period.String(),
		Month:            int(period.Month),
		Year:             period.Year,
		TotalAmount:      decimal.Zero,
		TotalGatewayFees: decimal.Zero,
		Settlements:      []*Calculation{},
	}

	for _, partner := range partners {
		calc := c.CalculateSettlement(partner.PartnerID, partner.Name, orders, products, period)
		if !calc.TotalSales.IsPositive() {
			continue
		}
		summary.Settlements = append(summary.Settlements, calc)
		summary.TotalAmount = summary.TotalAmount.Add(calc.NetSettlementAmount)
		summary.TotalGatewayFees = summary.TotalGatewayFees.Add(calc.PaymentGatewayFees)
	}
	summary.TotalPartners = len(summary.Settlements)

	return summary
}
