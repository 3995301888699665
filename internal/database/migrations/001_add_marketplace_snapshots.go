package migrations

import (
	"github.com/ksred/marketplace-settlements/internal/marketplace"
	"github.com/ksred/marketplace-settlements/internal/types"
	"gorm.io/gorm"
)

// AddMarketplaceSnapshots creates the partner, product and order snapshot
// tables and the indexes settlement queries rely on.
func AddMarketplaceSnapshots(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&types.Partner{},
		&types.Product{},
		&types.Order{},
		&types.OrderItem{},
		&marketplace.IdempotencyRecord{},
	); err != nil {
		return err
	}

	indexes := []string{
		// Orders for one partner in a period
		`CREATE INDEX IF NOT EXISTS idx_orders_partner_created_at
		 ON orders(partner_id, created_at)`,

		// Items by product, for catalog integrity checks
		`CREATE INDEX IF NOT EXISTS idx_order_items_product_id
		 ON order_items(product_id)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
