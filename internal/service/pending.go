package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/metrics"
	"plate-lookup/internal/repository"
	"plate-lookup/internal/store"
)

const pendingKeyPrefix = "plates:pending:"

// PendingTracker 待查车牌（householdCode == "-"）数量，缓存在 KV
// 每次变更后重新统计
type PendingTracker struct {
	store   repository.PlateStore
	kv      store.KV
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewPendingTracker(plateStore repository.PlateStore, kv store.KV, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *PendingTracker {
	return &PendingTracker{store: plateStore, kv: kv, ttl: ttl, metrics: m, logger: logger}
}

func pendingKey(c domain.Community) string { return pendingKeyPrefix + c.Suffix }

// Count 优先读缓存，未命中时重新统计
func (t *PendingTracker) Count(ctx context.Context, c domain.Community) (int, error) {
	if t.kv != nil {
		val, err := t.kv.Get(ctx, pendingKey(c))
		if err == nil {
			if n, convErr := strconv.Atoi(val); convErr == nil {
				return n, nil
			}
		} else if !errors.Is(err, store.ErrMiss) {
			t.logger.Warn("Pending count cache read failed", zap.String("community", c.Suffix), zap.Error(err))
		}
	}
	return t.Recount(ctx, c)
}

// Recount 从存储重新统计并写回缓存
func (t *PendingTracker) Recount(ctx context.Context, c domain.Community) (int, error) {
	n, err := t.store.CountPlatesByHousehold(ctx, c, domain.PendingHouseholdCode)
	if err != nil {
		t.logger.Error("Pending count failed", zap.String("community", c.Suffix), zap.Error(err))
		return 0, ErrQueryFailed
	}
	t.remember(ctx, c, n)
	return n, nil
}

func (t *PendingTracker) remember(ctx context.Context, c domain.Community, n int) {
	t.metrics.SetPending(c.Suffix, n)
	if t.kv == nil {
		return
	}
	if err := t.kv.Set(ctx, pendingKey(c), strconv.Itoa(n), t.ttl); err != nil {
		t.logger.Warn("Pending count cache write failed", zap.String("community", c.Suffix), zap.Error(err))
		t.metrics.IncBestEffortError("pending_cache")
	}
}

// afterMutation 变更后的重新统计，失败不影响主操作
func (t *PendingTracker) afterMutation(ctx context.Context, c domain.Community) {
	if t == nil {
		return
	}
	if _, err := t.Recount(ctx, c); err != nil {
		t.logger.Warn("Pending recount after mutation failed", zap.String("community", c.Suffix), zap.Error(err))
		// 旧计数已过期，删掉让下次 Count 回源
		if t.kv == nil {
			return
		}
		if err := t.kv.Delete(ctx, pendingKey(c)); err != nil {
			t.logger.Warn("Pending count cache delete failed", zap.String("community", c.Suffix), zap.Error(err))
			t.metrics.IncBestEffortError("pending_cache")
		}
	}
}
