package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("settlement run not found")

// Database is the gorm-backed RunStore.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateRun(ctx context.Context, run *RunRecord) error {
	return d.db.WithContext(ctx).Create(run).Error
}

func (d *Database) UpdateRun(ctx context.Context, run *RunRecord) error {
	result := d.db.WithContext(ctx).Model(&RunRecord{}).
		Where("run_id = ?", run.RunID).
		Updates(map[string]interface{}{
			"status":             run.Status,
			"progress":           run.Progress,
			"partners_processed": run.PartnersProcessed,
			"total_amount":       run.TotalAmount,
			"total_gateway_fees": run.TotalGatewayFees,
			"emails_sent":        run.EmailsSent,
			"emails_skipped":     run.EmailsSkipped,
			"errors":             run.Errors,
			"completed_at":       run.CompletedAt,
			"updated_at":         time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.RunID)
	}

	return nil
}

func (d *Database) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var run RunRecord
	if err := d.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to fetch run: %w", err)
	}
	return &run, nil
}

func (d *Database) GetRunByIdempotencyKey(ctx context.Context, key string) (*RunRecord, error) {
	var run RunRecord
	if err := d.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to fetch run by idempotency key: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (d *Database) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var runs []RunRecord
	if err := d.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// LastCompletedRun returns the latest successful or partial run for period,
// or ErrRunNotFound.
func (d *Database) LastCompletedRun(ctx context.Context, period Period) (*RunRecord, error) {
	var run RunRecord
	err := d.db.WithContext(ctx).
		Where("year = ? AND month = ?", period.Year, int(period.Month)).
		Where("status IN ?", []RunStatus{RunStatusSuccess, RunStatusPartial}).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}
