package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/events"
	"plate-lookup/internal/index"
	"plate-lookup/internal/metrics"
	"plate-lookup/internal/repository"
)

// ParkingSyncService 车位索引维护
type ParkingSyncService struct {
	store     repository.PlateStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewParkingSyncService(plateStore repository.PlateStore, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger) *ParkingSyncService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &ParkingSyncService{store: plateStore, publisher: publisher, metrics: m, logger: logger, now: time.Now}
}

type SyncResponse struct {
	Count       int    `json:"count"`
	Deleted     int    `json:"deleted"`
	Destructive bool   `json:"destructive"`
	Message     string `json:"message"`
}

// RebuildParkingIndex 扫描全部住户，为每个车位写入索引（标注系统自动维护）
// 只增不删：不会清理已无住户对应的索引
func (s *ParkingSyncService) RebuildParkingIndex(ctx context.Context, c domain.Community) (*SyncResponse, error) {
	return s.sync(ctx, c, false)
}

// ResyncParkingIndex 先清空该社区全部车位索引，再按住户重建（同一批次）
func (s *ParkingSyncService) ResyncParkingIndex(ctx context.Context, c domain.Community) (*SyncResponse, error) {
	return s.sync(ctx, c, true)
}

func (s *ParkingSyncService) sync(ctx context.Context, c domain.Community, destructive bool) (*SyncResponse, error) {
	kind := "rebuild"
	action := events.ActionParkingRebuilt
	if destructive {
		kind = "resync"
		action = events.ActionParkingResynced
	}
	logger := s.logger.With(zap.String("community", c.Suffix), zap.String("kind", kind))

	households, err := s.store.ListHouseholds(ctx, c)
	if err != nil {
		logger.Error("Parking sync: household scan failed", zap.Error(err))
		s.metrics.ObserveMutation("parking_"+kind, err)
		return nil, ErrSyncFailed
	}

	batch := s.store.NewBatch(c)
	resp := &SyncResponse{Destructive: destructive}
	if destructive {
		existing, err := s.store.ListParking(ctx, c)
		if err != nil {
			logger.Error("Parking sync: index scan failed", zap.Error(err))
			s.metrics.ObserveMutation("parking_"+kind, err)
			return nil, ErrSyncFailed
		}
		for _, l := range existing {
			batch.DeleteParking(l.Spot)
		}
		resp.Deleted = len(existing)
	}

	now := s.now()
	for _, h := range households {
		for _, k := range index.SpotKeys(h.ParkingNumber) {
			batch.UpsertParking(&domain.ParkingLookup{
				Spot:      k,
				OwnerID:   h.ID,
				UpdatedAt: now,
				Note:      domain.SystemMaintainedNote,
			})
			resp.Count++
		}
	}

	if err := batch.Commit(ctx); err != nil {
		logger.Error("Parking sync commit failed", zap.Error(err))
		s.metrics.ObserveMutation("parking_"+kind, err)
		return nil, ErrSyncFailed
	}
	s.metrics.ObserveMutation("parking_"+kind, nil)
	s.metrics.AddParkingSynced(kind, resp.Count)
	resp.Message = msgSynced(resp.Count)
	logger.Info("Parking index synced", zap.Int("count", resp.Count), zap.Int("deleted", resp.Deleted))

	ev := events.NewMutationEvent(action, c.Suffix)
	ev.Count = resp.Count
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.Warn("Mutation event not published", zap.Error(err))
		s.metrics.IncBestEffortError("event_publish")
	}
	return resp, nil
}
