package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ProductType is the wire value of a product's ownership classification.
type ProductType string

const (
	ProductTypePlatformSupplied ProductType = "main-supplied"
	ProductTypePartnerUploaded  ProductType = "partner-uploaded"
)

var (
	ErrUnknownProductType   = errors.New("unknown product type")
	ErrMissingWholesaleCost = errors.New("platform-supplied product has no wholesale cost")
)

// Valid reports whether t is one of the known ownership classifications.
func (t ProductType) Valid() bool {
	return t == ProductTypePlatformSupplied || t == ProductTypePartnerUploaded
}

// Ownership is the resolved classification of a product. The only
// implementations are PlatformSupplied and PartnerSupplied.
type Ownership interface {
	Type() ProductType
	sealed()
}

// PlatformSupplied is inventory sourced by the marketplace operator. The
// partner earns the markup over WholesaleCost.
type PlatformSupplied struct {
	WholesaleCost decimal.Decimal
}

func (PlatformSupplied) Type() ProductType { return ProductTypePlatformSupplied }
func (PlatformSupplied) sealed()           {}

// PartnerSupplied is inventory owned by the partner, who keeps the full sale.
type PartnerSupplied struct{}

func (PartnerSupplied) Type() ProductType { return ProductTypePartnerUploaded }
func (PartnerSupplied) sealed()           {}

// Ownership resolves the product's classification. Wholesale cost is only
// read for platform-supplied products.
func (p Product) Ownership() (Ownership, error) {
	switch p.Type {
	case ProductTypePlatformSupplied:
		if !p.WholesaleCost.Valid {
			return nil, fmt.Errorf("product %s: %w", p.ProductID, ErrMissingWholesaleCost)
		}
		return PlatformSupplied{WholesaleCost: p.WholesaleCost.Decimal}, nil
	case ProductTypePartnerUploaded:
		return PartnerSupplied{}, nil
	default:
		return nil, fmt.Errorf("product %s: %w %q", p.ProductID, ErrUnknownProductType, p.Type)
	}
}
