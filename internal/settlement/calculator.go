package settlement

import (
	"fmt"

	"github.com/ksred/marketplace-settlements/internal/types"
	"github.com/shopspring/decimal"
)

const (
	SkipReasonUnknownProduct = "product not found"
)

// Calculator computes partner settlements from order and product snapshots.
// It holds no state besides its config and is safe for concurrent use.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

func (c *Calculator) Config() Config {
	return c.cfg
}

func (c *Calculator) CalculateFee(amount decimal.Decimal) decimal.Decimal {
	return CalculateFee(c.cfg, amount)
}

// CalculateSettlement settles one partner for one period. Orders from other
// partners or outside the period are ignored. Lines that cannot be priced are
// recorded in SkippedLines and contribute nothing to any total.
func (c *Calculator) CalculateSettlement(partnerID, partnerName string, orders []types.Order, products []types.Product, period Period) *Calculation {
	calc := &Calculation{
		PartnerID:             partnerID,
		PartnerName:           partnerName,
		Period:                period.String(),
		TotalSales:            decimal.Zero,
		PlatformProductSales:  decimal.Zero,
		PartnerProductSales:   decimal.Zero,
		PlatformProductMargin: decimal.Zero,
		PartnerProductRevenue: decimal.Zero,
		GrossEarnings:         decimal.Zero,
		PaymentGatewayFees:    decimal.Zero,
		NetSettlementAmount:   decimal.Zero,
		Breakdown:             []BreakdownEntry{},
	}

	catalog := indexProducts(products)

	for _, order := range orders {
		if order.PartnerID != partnerID || !period.Contains(order.CreatedAt, c.cfg.Location) {
			continue
		}
		calc.TransactionCount++

		for _, item := range order.Items {
			product, ok := catalog[item.ProductID]
			if !ok {
				calc.skip(order, item, SkipReasonUnknownProduct)
				continue
			}
			ownership, err := product.Ownership()
			if err != nil {
				calc.skip(order, item, err.Error())
				continue
			}

			saleAmount := item.Total()
			fee := c.CalculateFee(saleAmount)
			entry := BreakdownEntry{
				OrderID:     order.OrderID,
				OrderNumber: order.OrderNumber,
				ProductID:   product.ProductID,
				ProductName: product.Name,
				ProductType: ownership.Type(),
				SaleAmount:  saleAmount,
				GatewayFee:  fee,
				OrderDate:   order.CreatedAt,
			}

			switch o := ownership.(type) {
			case types.PlatformSupplied:
				quantity := decimal.NewFromInt(item.Quantity)
				wholesale := o.WholesaleCost.Mul(quantity)
				entry.WholesaleCost = &wholesale
				entry.PartnerEarning = item.Price.Sub(o.WholesaleCost).Mul(quantity)
				calc.PlatformProductSales = calc.PlatformProductSales.Add(saleAmount)
				calc.PlatformProductMargin = calc.PlatformProductMargin.Add(entry.PartnerEarning)
			case types.PartnerSupplied:
				entry.PartnerEarning = saleAmount
				calc.PartnerProductSales = calc.PartnerProductSales.Add(saleAmount)
				calc.PartnerProductRevenue = calc.PartnerProductRevenue.Add(entry.PartnerEarning)
			default:
				panic(fmt.Sprintf("settlement: unhandled ownership %T", ownership))
			}

			calc.PaymentGatewayFees = calc.PaymentGatewayFees.Add(fee)
			calc.Breakdown = append(calc.Breakdown, entry)
		}
	}

	calc.TotalSales = calc.PlatformProductSales.Add(calc.PartnerProductSales)
	calc.GrossEarnings = calc.PlatformProductMargin.Add(calc.PartnerProductRevenue)
	calc.NetSettlementAmount = decimal.Max(decimal.Zero, calc.GrossEarnings.Sub(calc.PaymentGatewayFees))

	return calc
}

// CalculateSettlementForLabel is CalculateSettlement with a "Month Year" label.
func (c *Calculator) CalculateSettlementForLabel(partnerID, partnerName string, orders []types.Order, products []types.Product, label string) (*Calculation, error) {
	period, err := ParsePeriod(label)
	if err != nil {
		return nil, err
	}
	return c.CalculateSettlement(partnerID, partnerName, orders, products, period), nil
}

func (calc *Calculation) skip(order types.Order, item types.OrderItem, reason string) {
	calc.SkippedLineCount++
	calc.SkippedLines = append(calc.SkippedLines, SkippedLine{
		OrderID:   order.OrderID,
		ProductID: item.ProductID,
		Reason:    reason,
	})
}

// indexProducts keys products by id. The first record wins on duplicates.
func indexProducts(products []types.Product) map[string]types.Product {
	catalog := make(map[string]types.Product, len(products))
	for _, p := range products {
		if _, exists := catalog[p.ProductID]; !exists {
			catalog[p.ProductID] = p
		}
	}
	return catalog
}
