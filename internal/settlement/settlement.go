package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/marketplace-settlements/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrRunInProgress    = errors.New("a settlement run for this period is already in progress")
	ErrForbiddenPartner = errors.New("not allowed to access this partner's settlements")
	ErrPartnerNotFound  = errors.New("partner not found")
	ErrInvalidAmount    = errors.New("invalid amount")
)

const (
	ProgressDataCollected = 20
	ProgressCalculated    = 40
	ProgressReported      = 60
	ProgressDispatching   = 80
	ProgressDone          = 100
)

// Service drives the settlement engine against the marketplace snapshot
// store and records monthly batch runs.
type Service struct {
	calc       *Calculator
	automation *Automation
	reports    *ReportGenerator
	source     OrderSource
	runs       RunStore
	mailer     Mailer
	now        func() time.Time
	retryDelay time.Duration

	mu       sync.Mutex
	inFlight map[Period]string // period -> run id
	settings AutomationSettings

	logger zerolog.Logger
}

type ServiceOption func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithRetryDelay sets the pause between email attempts.
func WithRetryDelay(d time.Duration) ServiceOption {
	return func(s *Service) { s.retryDelay = d }
}

func NewService(calc *Calculator, reports *ReportGenerator, source OrderSource, runs RunStore, mailer Mailer, settings AutomationSettings, opts ...ServiceOption) (*Service, error) {
	if source == nil || runs == nil {
		return nil, errors.New("order source and run store are required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	automation, err := NewAutomation(calc, reports)
	if err != nil {
		return nil, err
	}

	s := &Service{
		calc:       calc,
		automation: automation,
		reports:    automation.reports,
		source:     source,
		runs:       runs,
		mailer:     mailer,
		now:        time.Now,
		retryDelay: 2 * time.Second,
		inFlight:   make(map[Period]string),
		settings:   settings,
		logger:     log.With().Str("service", "settlement").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FeeQuote is the gateway fee for a single amount under the active config.
type FeeQuote struct {
	Amount        decimal.Decimal `json:"amount"`
	FeePercentage decimal.Decimal `json:"fee_percentage"`
	FixedFee      decimal.Decimal `json:"fixed_fee"`
	Fee           decimal.Decimal `json:"fee"`
}

func (s *Service) QuoteFee(amount decimal.Decimal) (*FeeQuote, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidAmount)
	}
	return &FeeQuote{
		Amount:        amount,
		FeePercentage: s.calc.cfg.FeePercentage,
		FixedFee:      s.calc.cfg.FixedFee,
		Fee:           s.calc.CalculateFee(amount),
	}, nil
}

// PartnerSettlement computes one partner's settlement for a "Month Year" label.
func (s *Service) PartnerSettlement(ctx context.Context, partnerID, label string) (*Calculation, error) {
	period, err := ParsePeriod(label)
	if err != nil {
		return nil, err
	}

	partner, err := s.source.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if partner == nil {
		return nil, fmt.Errorf("%w: %s", ErrPartnerNotFound, partnerID)
	}

	orders, products, err := s.collect(ctx, period)
	if err != nil {
		return nil, err
	}

	calc := s.calc.CalculateSettlement(partner.PartnerID, partner.Name, orders, products, period)
	s.logSkipped(calc)
	return calc, nil
}

// PartnerReport renders the settlement report for one partner and period.
func (s *Service) PartnerReport(ctx context.Context, partnerID, label string) (*Report, error) {
	calc, err := s.PartnerSettlement(ctx, partnerID, label)
	if err != nil {
		return nil, err
	}
	return s.reports.Generate(calc)
}

// MonthlySettlements settles every partner with sales in the given month.
func (s *Service) MonthlySettlements(ctx context.Context, month, year int) (*MonthlySummary, error) {
	period, err := NewPeriod(month, year)
	if err != nil {
		return nil, err
	}

	orders, products, err := s.collect(ctx, period)
	if err != nil {
		return nil, err
	}
	partners, err := s.source.ListPartners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}

	summary := s.calc.summarize(orders, products, partners, period)
	for _, calc := range summary.Settlements {
		s.logSkipped(calc)
	}
	return summary, nil
}

// collect loads the orders around period and the full product catalog. The
// order window is padded by a day on each side so that period matching in the
// configured location stays exact regardless of how the store keys time.
func (s *Service) collect(ctx context.Context, period Period) ([]types.Order, []types.Product, error) {
	start, end := period.Bounds(s.calc.cfg.Location)
	orders, err := s.source.ListOrders(ctx, start.AddDate(0, 0, -1), end.AddDate(0, 0, 1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list orders: %w", err)
	}
	products, err := s.source.ListProducts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list products: %w", err)
	}
	return orders, products, nil
}

func (s *Service) logSkipped(calc *Calculation) {
	if calc.SkippedLineCount == 0 {
		return
	}
	for _, line := range calc.SkippedLines {
		s.logger.Warn().
			Str("partner_id", calc.PartnerID).
			Str("period", calc.Period).
			Str("order_id", line.OrderID).
			Str("product_id", line.ProductID).
			Str("reason", line.Reason).
			Msg("order line skipped from settlement")
	}
}

// RunBatch runs the monthly batch for the month before now, dispatches the
// reports and persists the run. At most one run per period is in flight at a
// time. A non-empty idempotency key that was already used returns that run.
func (s *Service) RunBatch(ctx context.Context, now time.Time, trigger RunTrigger, idempotencyKey string) (*RunRecord, error) {
	if idempotencyKey != "" {
		existing, err := s.runs.GetRunByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			existing.Replayed = true
			return existing, nil
		}
		if !errors.Is(err, ErrRunNotFound) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	period := PreviousPeriod(now.In(s.calc.cfg.Location))
	settings := s.Settings()

	run := &RunRecord{
		RunID:            "RUN_" + uuid.New().String(),
		Period:           period.String(),
		Month:            int(period.Month),
		Year:             period.Year,
		Trigger:          trigger,
		Status:           RunStatusRunning,
		TotalAmount:      decimal.Zero,
		TotalGatewayFees: decimal.Zero,
		StartedAt:        s.now(),
	}
	if idempotencyKey != "" {
		run.IdempotencyKey = &idempotencyKey
	}

	if err := s.acquire(period, run.RunID); err != nil {
		return nil, err
	}
	defer s.release(period)

	logger := s.logger.With().
		Str("run_id", run.RunID).
		Str("period", run.Period).
		Str("trigger", string(trigger)).
		Logger()

	if err := s.runs.CreateRun(ctx, run); err != nil {
		logger.Error().Err(err).Msg("failed to create run record")
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}
	logger.Info().Msg("starting monthly settlement run")

	var errs []string

	orders, products, err := s.collect(ctx, period)
	var partners []types.Partner
	if err == nil {
		partners, err = s.source.ListPartners(ctx)
		if err != nil {
			err = fmt.Errorf("failed to list partners: %w", err)
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to collect settlement data")
		errs = append(errs, err.Error())
		return s.finish(ctx, logger, run, RunStatusFailed, errs)
	}
	s.advance(ctx, logger, run, ProgressDataCollected)

	summary := s.calc.summarize(orders, products, partners, period)
	for _, calc := range summary.Settlements {
		s.logSkipped(calc)
	}
	run.PartnersProcessed = summary.TotalPartners
	run.TotalAmount = summary.TotalAmount
	run.TotalGatewayFees = summary.TotalGatewayFees
	s.advance(ctx, logger, run, ProgressCalculated)

	reports, failures := s.automation.render(summary)
	for _, f := range failures {
		logger.Error().Str("partner_id", f.PartnerID).Str("error", f.Error).Msg("failed to generate settlement report")
		errs = append(errs, fmt.Sprintf("report for partner %s: %s", f.PartnerID, f.Error))
	}
	s.advance(ctx, logger, run, ProgressReported)

	if settings.EmailEnabled && s.mailer != nil {
		s.advance(ctx, logger, run, ProgressDispatching)
		errs = append(errs, s.dispatch(ctx, logger, run, summary, reports, partners, settings)...)
	}

	status := RunStatusSuccess
	if len(errs) > 0 {
		status = RunStatusPartial
	}
	return s.finish(ctx, logger, run, status, errs)
}

func (s *Service) acquire(period Period, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active, ok := s.inFlight[period]; ok {
		return fmt.Errorf("%w: %s (run %s)", ErrRunInProgress, period, active)
	}
	s.inFlight[period] = runID
	return nil
}

func (s *Service) release(period Period) {
	s.mu.Lock()
	delete(s.inFlight, period)
	s.mu.Unlock()
}

func (s *Service) advance(ctx context.Context, logger zerolog.Logger, run *RunRecord, progress int) {
	run.Progress = progress
	if err := s.runs.UpdateRun(ctx, run); err != nil {
		logger.Error().Err(err).Int("progress", progress).Msg("failed to record run progress")
		return
	}
	logger.Debug().Int("progress", progress).Msg("settlement run progressed")
}

func (s *Service) finish(ctx context.Context, logger zerolog.Logger, run *RunRecord, status RunStatus, errs []string) (*RunRecord, error) {
	completedAt := s.now()
	run.Status = status
	run.Progress = ProgressDone
	run.CompletedAt = &completedAt
	run.setErrors(errs)

	if err := s.runs.UpdateRun(ctx, run); err != nil {
		logger.Error().Err(err).Msg("failed to save completed run")
		return nil, fmt.Errorf("failed to save completed run: %w", err)
	}

	logger.Info().
		Str("status", string(run.Status)).
		Int("partners_processed", run.PartnersProcessed).
		Str("total_amount", run.TotalAmount.StringFixed(2)).
		Int("emails_sent", run.EmailsSent).
		Int("emails_skipped", run.EmailsSkipped).
		Int("error_count", len(errs)).
		Msg("monthly settlement run completed")

	return run, nil
}

// dispatch emails each report. Settlements below the minimum amount are
// skipped, not failed. It returns one message per failed partner.
func (s *Service) dispatch(ctx context.Context, logger zerolog.Logger, run *RunRecord, summary *MonthlySummary, reports []PartnerReport, partners []types.Partner, settings AutomationSettings) []string {
	emails := make(map[string]string, len(partners))
	for _, p := range partners {
		emails[p.PartnerID] = p.Email
	}
	amounts := make(map[string]decimal.Decimal, len(summary.Settlements))
	for _, calc := range summary.Settlements {
		amounts[calc.PartnerID] = calc.NetSettlementAmount
	}

	var errs []string
	for _, pr := range reports {
		if amounts[pr.PartnerID].LessThan(settings.MinSettlementAmount) {
			run.EmailsSkipped++
			logger.Info().Str("partner_id", pr.PartnerID).Msg("settlement below minimum amount, email skipped")
			continue
		}

		to := emails[pr.PartnerID]
		if to == "" {
			errs = append(errs, fmt.Sprintf("partner %s has no email address", pr.PartnerID))
			continue
		}

		if err := s.sendWithRetry(ctx, to, pr.Report, settings.RetryAttempts); err != nil {
			logger.Error().Err(err).Str("partner_id", pr.PartnerID).Msg("failed to send settlement email")
			errs = append(errs, fmt.Sprintf("email to partner %s: %v", pr.PartnerID, err))
			continue
		}
		run.EmailsSent++
	}
	return errs
}

func (s *Service) sendWithRetry(ctx context.Context, to string, report *Report, retries int) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
		if err = s.mailer.Send(ctx, to, report.Subject, report.EmailBody); err == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", retries+1, err)
}

func (s *Service) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.runs.ListRuns(ctx, limit)
}

func (s *Service) Run(ctx context.Context, runID string) (*RunRecord, error) {
	return s.runs.GetRun(ctx, runID)
}

// PeriodSettled reports whether a successful or partial run exists for period.
func (s *Service) PeriodSettled(ctx context.Context, period Period) (bool, error) {
	_, err := s.runs.LastCompletedRun(ctx, period)
	if errors.Is(err, ErrRunNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Settings() AutomationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Service) UpdateSettings(settings AutomationSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.logger.Info().
		Bool("enabled", settings.Enabled).
		Int("day_of_month", settings.DayOfMonth).
		Str("time_of_day", settings.TimeOfDay).
		Msg("automation settings updated")
	return nil
}

// AutomationStatus is the scheduler view shown to platform admins.
type AutomationStatus struct {
	Settings   AutomationSettings `json:"settings"`
	Running    bool               `json:"running"`
	ActiveRuns []string           `json:"active_runs"`
	LastRun    *RunRecord         `json:"last_run,omitempty"`
	NextRun    *time.Time         `json:"next_run,omitempty"`
}

func (s *Service) Status(ctx context.Context) (*AutomationStatus, error) {
	s.mu.Lock()
	status := &AutomationStatus{
		Settings:   s.settings,
		ActiveRuns: make([]string, 0, len(s.inFlight)),
	}
	for _, runID := range s.inFlight {
		status.ActiveRuns = append(status.ActiveRuns, runID)
	}
	s.mu.Unlock()
	status.Running = len(status.ActiveRuns) > 0

	runs, err := s.runs.ListRuns(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to load last run: %w", err)
	}
	if len(runs) > 0 {
		status.LastRun = &runs[0]
	}
	if status.Settings.Enabled {
		next := status.Settings.NextRun(s.now().In(s.calc.cfg.Location))
		status.NextRun = &next
	}
	return status, nil
}
