package settlement

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// CalculateFee returns the payment gateway fee for a transaction amount:
// amount * pct/100 + fixed, rounded half-up to cents.
func CalculateFee(cfg Config, amount decimal.Decimal) decimal.Decimal {
	percentageFee := amount.Mul(cfg.FeePercentage).Div(hundred)
	return percentageFee.Add(cfg.FixedFee).Round(2)
}
