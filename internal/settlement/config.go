package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("invalid settlement config")

// Config holds the payment gateway fee schedule and the location used to
// decide which calendar month an order belongs to.
type Config struct {
	FeePercentage decimal.Decimal
	FixedFee      decimal.Decimal
	Location      *time.Location
}

// DefaultConfig returns 2.9% + 0.30 per line, matched in local time.
func DefaultConfig() Config {
	return Config{
		FeePercentage: decimal.RequireFromString("2.9"),
		FixedFee:      decimal.RequireFromString("0.30"),
		Location:      time.Local,
	}
}

func (c Config) Validate() error {
	if c.FeePercentage.IsNegative() {
		return fmt.Errorf("%w: fee percentage %s is negative", ErrInvalidConfig, c.FeePercentage)
	}
	if c.FixedFee.IsNegative() {
		return fmt.Errorf("%w: fixed fee %s is negative", ErrInvalidConfig, c.FixedFee)
	}
	if c.Location == nil {
		return fmt.Errorf("%w: location is required", ErrInvalidConfig)
	}
	return nil
}
