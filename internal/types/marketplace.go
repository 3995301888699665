package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Partner is a marketplace seller. Settlements are computed per partner.
type Partner struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	PartnerID string    `gorm:"uniqueIndex" json:"id" binding:"required"`
	Name      string    `json:"name" binding:"required"`
	Email     string    `json:"email"`
	Status    string    `json:"status"` // active, pending, suspended, inactive
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Product struct {
	ID            uint                `gorm:"primaryKey" json:"-"`
	ProductID     string              `gorm:"uniqueIndex" json:"id" binding:"required"`
	Name          string              `json:"name"`
	Type          ProductType         `gorm:"index" json:"type" binding:"required"`
	Price         decimal.Decimal     `gorm:"type:decimal(12,2)" json:"price"`
	WholesaleCost decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"wholesale_cost"`
	PartnerID     string              `gorm:"index" json:"partner_id,omitempty"` // owner of partner-uploaded products
	CreatedAt     time.Time           `json:"-"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Order is a placed purchase. CreatedAt is the time the customer placed it
// and is what settlement periods are matched against.
type Order struct {
	ID          uint        `gorm:"primaryKey" json:"-"`
	OrderID     string      `gorm:"uniqueIndex" json:"id" binding:"required"`
	OrderNumber string      `json:"order_number"`
	PartnerID   string      `gorm:"index" json:"partner_id" binding:"required"`
	PartnerName string      `json:"partner_name"`
	Items       []OrderItem `gorm:"foreignKey:OrderID;references:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt   time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	OrderID   string          `gorm:"index" json:"-"`
	ProductID string          `json:"product_id" binding:"required"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	Quantity  int64           `json:"quantity"`
}

// Total is unit price times quantity.
func (i OrderItem) Total() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(i.Quantity))
}
