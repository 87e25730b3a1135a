package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kmorozov/buyback-system/internal/model"
	"github.com/kmorozov/buyback-system/internal/repository"
)

// sweepBatchSize ограничивает число просроченных предложений за один проход.
const sweepBatchSize = 100

// StartExpirationSweep запускает фоновую обработку просроченных предложений.
func (s *Service) StartExpirationSweep(ctx context.Context) {
	if s.sweepInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processExpiredBatch(ctx)
			}
		}
	}()
}

// processExpiredBatch разрешает один пакет просроченных предложений.
// Зафиксированные продлеваются с возвратом к живым ценам, незафиксированные
// принимаются от имени системы по текущим котировкам. Сбой одного заказа не
// прерывает обработку остальных.
func (s *Service) processExpiredBatch(ctx context.Context) {
	now := s.now()

	expired, err := s.repo.GetExpiredOffers(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("select expired offers failed", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	// Котировки нужны только для автопринятия и запрашиваются один раз на
	// пакет, до открытия каких-либо транзакций.
	var quotes []model.SpotQuote
	needQuotes := false
	for _, e := range expired {
		if !e.SpotsLocked {
			needQuotes = true
			break
		}
	}
	if needQuotes {
		quotes, err = s.feed.GetCurrentQuotes(ctx)
		if err != nil {
			s.logger.Error("spot feed unavailable, auto-accept postponed", zap.Error(err))
			quotes = nil
		}
	}

	for _, e := range expired {
		var resolveErr error

		if e.SpotsLocked {
			resolveErr = s.repo.ExtendExpiredOffer(ctx, e.ID, now)
		} else {
			if quotes == nil {
				continue
			}
			resolveErr = s.repo.AcceptExpiredOffer(ctx, e.ID, quotes, now, systemActor)
		}

		switch {
		case resolveErr == nil:
			s.logger.Info("expired offer resolved",
				zap.Int64("orderID", e.ID), zap.Bool("spotsLocked", e.SpotsLocked))
		case errors.Is(resolveErr, repository.ErrPreconditionFailed):
			// Заказ успел измениться параллельным действием пользователя.
			s.logger.Info("expired offer already resolved concurrently",
				zap.Int64("orderID", e.ID))
		default:
			s.logger.Error("resolve expired offer failed",
				zap.Int64("orderID", e.ID), zap.Error(resolveErr))
		}
	}
}
