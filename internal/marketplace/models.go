package marketplace

import (
	"encoding/json"
	"time"

	"github.com/ksred/marketplace-settlements/internal/types"
)

const (
	ResourcePartners = "partners"
	ResourceProducts = "products"
	ResourceOrders   = "orders"

	IdempotencyTTL = 24 * time.Hour
)

// IdempotencyRecord remembers the result of one ingestion request.
type IdempotencyRecord struct {
	ID             uint      `gorm:"primaryKey"`
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceType   string    `json:"resource_type"`
	ResourceIDs    string    `json:"-"` // JSON array
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

func (r *IdempotencyRecord) IDs() []string {
	var ids []string
	if r.ResourceIDs == "" || json.Unmarshal([]byte(r.ResourceIDs), &ids) != nil {
		return []string{}
	}
	return ids
}

type UpsertPartnersRequest struct {
	Partners []types.Partner `json:"partners" binding:"required,dive"`
}

type UpsertProductsRequest struct {
	Products []types.Product `json:"products" binding:"required,dive"`
}

type UpsertOrdersRequest struct {
	Orders []types.Order `json:"orders" binding:"required,dive"`
}

// IngestResult reports what an ingestion request stored.
type IngestResult struct {
	ResourceType string   `json:"resource_type"`
	Count        int      `json:"count"`
	IDs          []string `json:"ids"`
	Replayed     bool     `json:"replayed"`
}
