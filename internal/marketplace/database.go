package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ksred/marketplace-settlements/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetIdempotencyRecord returns nil, nil when the key has not been seen.
func (d *Database) GetIdempotencyRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// withIdempotency runs write and stores an idempotency record for its ids in
// the same transaction. An expired record under the same key is replaced.
func (d *Database) withIdempotency(ctx context.Context, key, resourceType string, ids []string, write func(tx *gorm.DB) error) error {
	// Begin transaction
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := write(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Where("idempotency_key = ? AND expires_at <= ?", key, time.Now()).
		Delete(&IdempotencyRecord{}).Error; err != nil {
		tx.Rollback()
		return err
	}

	encoded, err := json.Marshal(ids)
	if err != nil {
		tx.Rollback()
		return err
	}

	record := IdempotencyRecord{
		IdempotencyKey: key,
		ResourceType:   resourceType,
		ResourceIDs:    string(encoded),
		ExpiresAt:      time.Now().Add(IdempotencyTTL),
	}
	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) UpsertPartners(ctx context.Context, partners []types.Partner, key string) error {
	ids := make([]string, len(partners))
	for i := range partners {
		ids[i] = partners[i].PartnerID
	}
	return d.withIdempotency(ctx, key, ResourcePartners, ids, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "status", "updated_at"}),
		}).Create(&partners).Error
	})
}

func (d *Database) UpsertProducts(ctx context.Context, products []types.Product, key string) error {
	ids := make([]string, len(products))
	for i := range products {
		ids[i] = products[i].ProductID
	}
	return d.withIdempotency(ctx, key, ResourceProducts, ids, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "type", "price", "wholesale_cost", "partner_id", "updated_at"}),
		}).Create(&products).Error
	})
}

// UpsertOrders stores orders and replaces the items of orders already known.
func (d *Database) UpsertOrders(ctx context.Context, orders []types.Order, key string) error {
	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].OrderID
	}
	return d.withIdempotency(ctx, key, ResourceOrders, ids, func(tx *gorm.DB) error {
		for i := range orders {
			order := &orders[i]
			if err := tx.Omit("Items").Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "order_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"order_number", "partner_id", "partner_name", "created_at", "updated_at"}),
			}).Create(order).Error; err != nil {
				return err
			}

			if err := tx.Where("order_id = ?", order.OrderID).Delete(&types.OrderItem{}).Error; err != nil {
				return err
			}
			if len(order.Items) == 0 {
				continue
			}
			for j := range order.Items {
				order.Items[j].ID = 0
				order.Items[j].OrderID = order.OrderID
			}
			if err := tx.Create(&order.Items).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) ListPartners(ctx context.Context) ([]types.Partner, error) {
	var partners []types.Partner
	if err := d.db.WithContext(ctx).Order("partner_id").Find(&partners).Error; err != nil {
		return nil, err
	}
	return partners, nil
}

// GetPartner returns nil, nil for an unknown partner.
func (d *Database) GetPartner(ctx context.Context, partnerID string) (*types.Partner, error) {
	var partner types.Partner
	if err := d.db.WithContext(ctx).Where("partner_id = ?", partnerID).First(&partner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &partner, nil
}

func (d *Database) ListProducts(ctx context.Context) ([]types.Product, error) {
	var products []types.Product
	if err := d.db.WithContext(ctx).Order("product_id").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// ListOrders returns orders created in [from, to) with their items, oldest
// first. Timestamps are stored in UTC.
func (d *Database) ListOrders(ctx context.Context, from, to time.Time) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at, order_id").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.WithContext(ctx).Preload("Items").Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}
