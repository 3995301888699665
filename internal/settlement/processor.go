package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor triggers the monthly batch when the automation schedule is due.
type Processor struct {
	service      *Service
	processDelay time.Duration // Time between schedule checks
	retryBackoff time.Duration // Wait after a failed run before trying again

	lastFailure map[Period]time.Time
}

func NewProcessor(service *Service, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Processor{
		service:      service,
		processDelay: interval,
		retryBackoff: 15 * time.Minute,
		lastFailure:  make(map[Period]time.Time),
	}
}

// Start begins the scheduling loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Dur("interval", p.processDelay).Msg("starting settlement processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if _, err := p.tick(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduled settlement run failed")
			}
		}
	}
}

// tick runs the batch for the period of the most recent scheduled slot if
// that period has not been settled yet, so a slot missed by a slow ticker or
// a restart is picked up on the next check. It returns the run it started,
// if any.
func (p *Processor) tick(ctx context.Context) (*RunRecord, error) {
	logger := log.With().Str("component", "settlement_processor").Logger()

	settings := p.service.Settings()
	if !settings.Enabled {
		return nil, nil
	}

	now := p.service.now().In(p.service.calc.cfg.Location)
	scheduled := settings.LastRun(now)
	period := PreviousPeriod(scheduled)
	if failedAt, ok := p.lastFailure[period]; ok && now.Sub(failedAt) < p.retryBackoff {
		return nil, nil
	}

	settled, err := p.service.PeriodSettled(ctx, period)
	if err != nil {
		return nil, err
	}
	if settled {
		return nil, nil
	}

	logger.Info().
		Str("period", period.String()).
		Time("scheduled_at", scheduled).
		Msg("automation schedule due, starting monthly run")

	run, err := p.service.RunBatch(ctx, scheduled, TriggerScheduled, "")
	if errors.Is(err, ErrRunInProgress) {
		logger.Debug().Str("period", period.String()).Msg("run already in progress")
		return nil, nil
	}
	if err != nil {
		p.lastFailure[period] = now
		return nil, err
	}
	if run.Status == RunStatusFailed {
		p.lastFailure[period] = now
	} else {
		delete(p.lastFailure, period)
	}
	return run, nil
}
