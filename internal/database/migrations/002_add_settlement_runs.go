package migrations

import (
	"github.com/ksred/marketplace-settlements/internal/settlement"
	"gorm.io/gorm"
)

// AddSettlementRuns creates the batch run history table
func AddSettlementRuns(db *gorm.DB) error {
	if err := db.AutoMigrate(&settlement.RunRecord{}); err != nil {
		return err
	}

	indexes := []string{
		// Latest runs first
		`CREATE INDEX IF NOT EXISTS idx_run_records_started_at
		 ON run_records(started_at)`,

		// Completed runs for a period
		`CREATE INDEX IF NOT EXISTS idx_run_records_period_status
		 ON run_records(year, month, status)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
