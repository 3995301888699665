package settlement

import (
	"context"
	"time"

	"github.com/ksred/marketplace-settlements/internal/types"
)

// OrderSource provides the marketplace snapshots a settlement is computed
// from. ListOrders returns orders created in [from, to) with their items.
// GetPartner returns nil, nil for an unknown partner.
//
//go:generate mockgen -destination=mocks/mock_interface.go -source=interface.go
type OrderSource interface {
	ListOrders(ctx context.Context, from, to time.Time) ([]types.Order, error)
	ListProducts(ctx context.Context) ([]types.Product, error)
	ListPartners(ctx context.Context) ([]types.Partner, error)
	GetPartner(ctx context.Context, partnerID string) (*types.Partner, error)
}

// RunStore persists batch run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	UpdateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	GetRunByIdempotencyKey(ctx context.Context, key string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	LastCompletedRun(ctx context.Context, period Period) (*RunRecord, error)
}

// Mailer delivers settlement reports to partners.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}
