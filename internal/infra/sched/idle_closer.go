package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"marketplace-bargain/internal/usecase"
)

// IdleCloser periodically closes negotiations that have gone quiet. Closure
// runs through the coordinator, so it is just another terminal transition
// under the same CAS discipline; a session that saw activity mid-sweep
// loses the race and is skipped.
type IdleCloser struct {
	interval time.Duration
	idleTTL  time.Duration
	uc       usecase.NegotiationUseCase
	log      *zerolog.Logger
}

func NewIdleCloser(interval, idleTTL time.Duration, uc usecase.NegotiationUseCase, logger *zerolog.Logger) *IdleCloser {
	l := logger.With().Str("component", "IdleCloser").Logger()
	return &IdleCloser{interval: interval, idleTTL: idleTTL, uc: uc, log: &l}
}

func (w *IdleCloser) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("idle_ttl", w.idleTTL).Msg("starting idle closer")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping idle closer")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.uc.CloseIdle(ctx, w.idleTTL)
			if err != nil {
				w.log.Error().Err(err).Msg("idle sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("idle negotiations closed")
			}
		}
	}
}
