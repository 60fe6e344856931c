package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/academy-shop/internal/model"
)

const healthTimeout = 2 * time.Second

// Health проверяет доступность базы данных и хранилища блокировок.
func (s *Service) Health(ctx context.Context) model.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var status model.HealthStatus

	if err := s.repo.Ping(ctx); err != nil {
		s.logger.Warn("database health check failed", zap.Error(err))
	} else {
		status.Database = true
	}

	if err := s.locker.Ping(ctx); err != nil {
		s.logger.Warn("cache health check failed", zap.Error(err))
	} else {
		status.Cache = true
	}

	return status
}
