package payments

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/entities"
)

// SweepReport summarises one sweep run.
type SweepReport struct {
	Checked int `json:"checked"`
	Applied int `json:"applied"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"` // Provider or store errors, retried next run
}

// SweepStale asks the provider about payments that have stayed initiated for
// longer than age and reconciles whatever it reports. It covers lost webhooks
// and buyers who never came back through the return redirect.
func (s *Service) SweepStale(ctx context.Context, age time.Duration, limit int) (SweepReport, error) {
	var report SweepReport

	stale, err := s.store.ListStaleInitiated(ctx, s.now().Add(-age), limit)
	if err != nil {
		return report, err
	}

	for _, p := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		providerCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		status, err := s.provider.SessionStatus(providerCtx, p.ProviderReference)
		cancel()
		if err != nil {
			report.Failed++
			s.logger.Warn("sweep could not query provider",
				zap.String("reference", p.ProviderReference),
				zap.Error(err))
			continue
		}

		result, err := s.Reconcile(ctx, Confirmation{
			Reference: p.ProviderReference,
			Status:    status,
			Source:    entities.SourceSweep,
		})
		if err != nil {
			report.Failed++
			s.logger.Warn("sweep could not reconcile payment",
				zap.String("reference", p.ProviderReference),
				zap.Error(err))
			continue
		}

		switch result.Outcome {
		case OutcomeApplied:
			report.Applied++
		case OutcomePending:
			report.Pending++
		}
	}

	if report.Checked > 0 {
		s.logger.Info("payment sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("applied", report.Applied),
			zap.Int("pending", report.Pending),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}
