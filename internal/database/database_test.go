package database

import (
	"testing"

	"github.com/ksred/marketplace-settlements/internal/config"
	"github.com/ksred/marketplace-settlements/internal/marketplace"
	"github.com/ksred/marketplace-settlements/internal/settlement"
	"github.com/ksred/marketplace-settlements/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestOpen_RunsMigrations(t *testing.T) {
	db, err := Open(sqlite.Open("file:migrations?mode=memory&cache=shared"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	m := db.Migrator()
	for _, model := range []interface{}{
		&types.Partner{},
		&types.Product{},
		&types.Order{},
		&types.OrderItem{},
		&marketplace.IdempotencyRecord{},
		&settlement.RunRecord{},
	} {
		assert.True(t, m.HasTable(model), "%T", model)
	}

	assert.True(t, m.HasIndex(&types.Order{}, "idx_orders_partner_created_at"))
	assert.True(t, m.HasIndex(&types.OrderItem{}, "idx_order_items_product_id"))
	assert.True(t, m.HasIndex(&settlement.RunRecord{}, "idx_run_records_period_status"))
	assert.True(t, m.HasColumn(&settlement.RunRecord{}, "run_trigger"))

	// Migrations are safe to run again on an existing schema.
	_, err = Open(sqlite.Open("file:migrations?mode=memory&cache=shared"))
	assert.NoError(t, err)
}

func TestOpen_TranslatesDuplicateKey(t *testing.T) {
	db, err := Open(sqlite.Open("file:duplicates?mode=memory&cache=shared"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	require.NoError(t, db.Create(&types.Partner{PartnerID: "PA", Name: "Alpha Goods"}).Error)
	err = db.Create(&types.Partner{PartnerID: "PA", Name: "Alpha Again"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(config.DatabaseConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, `unsupported database driver "mysql"`)
}
