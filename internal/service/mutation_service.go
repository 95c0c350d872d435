package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/events"
	"plate-lookup/internal/imagestore"
	"plate-lookup/internal/index"
	"plate-lookup/internal/metrics"
	"plate-lookup/internal/repository"
)

// MutationService 车牌 / 住户的写操作，每个操作一次原子批量提交
// 同一住户被两人同时编辑时以最后提交为准（无跨会话锁）
type MutationService struct {
	store     repository.PlateStore
	search    *SearchService
	pending   *PendingTracker
	images    imagestore.ImageStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewMutationService(
	plateStore repository.PlateStore,
	search *SearchService,
	pending *PendingTracker,
	images imagestore.ImageStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *MutationService {
	if images == nil {
		images = imagestore.Nop{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &MutationService{
		store:     plateStore,
		search:    search,
		pending:   pending,
		images:    images,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *MutationService) publish(ctx context.Context, ev events.MutationEvent) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("Mutation event not published", zap.String("action", string(ev.Action)), zap.Error(err))
		s.metrics.IncBestEffortError("event_publish")
	}
}

// SaveEditRequest 编辑车牌（含住户信息与车位）
type SaveEditRequest struct {
	Community     domain.Community
	PlateID       string
	HouseholdCode string
	Notes         string
	HouseholdInfo domain.HouseholdInfo
	Operator      string
}

// SaveEditResponse 编辑结果
type SaveEditResponse struct {
	PlateID       string         `json:"plate_id"`
	HouseholdCode string         `json:"household_code"`
	Parking       []string       `json:"parking"`
	Spots         index.SpotDiff `json:"spots"`
	Message       string         `json:"message"`
}

// SaveEdit 在一个批次内：
//   - 更新车牌的 householdCode / notes / 审计字段
//   - merge 写入住户描述与 parking_number
//   - 删除不再属于该住户的车位索引，新增该住户的新车位索引
//
// 旧车位集合以存储中该住户当前的 parking_number 为准
func (s *MutationService) SaveEdit(ctx context.Context, req SaveEditRequest) (*SaveEditResponse, error) {
	plateID := index.NormalizePlateID(req.PlateID)
	if plateID == "" {
		return nil, newValidationError("plate_id", msgEmptyPlate)
	}
	code := normalizeCode(req.HouseholdCode)
	if code == "" {
		return nil, newValidationError("household_code", msgEmptyHousehold)
	}

	logger := s.logger.With(
		zap.String("community", req.Community.Suffix),
		zap.String("plate_id", plateID),
		zap.String("household", code),
	)
	now := s.now()
	defer s.pending.afterMutation(ctx, req.Community)

	batch := s.store.NewBatch(req.Community)
	batch.UpdatePlate(plateID, domain.PlateUpdate{
		HouseholdCode: code,
		Notes:         req.Notes,
		LastUpdatedBy: req.Operator,
		UpdatedAt:     now,
	})

	resp := &SaveEditResponse{PlateID: plateID, HouseholdCode: code, Parking: []string{}, Message: msgSaved}

	// 待查车牌没有对应住户，只更新车牌本身
	if code != domain.PendingHouseholdCode {
		oldParking := ""
		current, err := s.store.GetHousehold(ctx, req.Community, code)
		switch {
		case err == nil:
			oldParking = current.ParkingNumber
		case errors.Is(err, repository.ErrNotFound):
		default:
			logger.Error("Save edit: household read failed", zap.Error(err))
			s.metrics.ObserveMutation("save_edit", err)
			return nil, ErrSaveFailed
		}

		owned, err := s.store.ListParkingByOwner(ctx, req.Community, code)
		if err != nil {
			logger.Error("Save edit: parking index read failed", zap.Error(err))
			s.metrics.ObserveMutation("save_edit", err)
			return nil, ErrSaveFailed
		}

		newParking := strings.TrimSpace(req.HouseholdInfo.ParkingNumber)
		spots := index.ParseSpots(newParking)
		resp.Parking = spots
		resp.Spots = index.DiffSpots(oldParking, newParking)

		batch.MergeHousehold(&domain.HouseholdRecord{
			ID:            code,
			Name:          req.HouseholdInfo.Name,
			Features:      req.HouseholdInfo.Features,
			ParkingNumber: newParking,
			Parking:       spots,
		})
		applyParkingIndex(batch, code, index.SpotKeys(newParking), owned, now)
	}

	if err := batch.Commit(ctx); err != nil {
		s.metrics.ObserveMutation("save_edit", err)
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("Save edit on missing plate", zap.Error(err))
			return nil, ErrPlateNotFound
		}
		logger.Error("Save edit commit failed", zap.Error(err))
		return nil, ErrSaveFailed
	}
	s.metrics.ObserveMutation("save_edit", nil)
	logger.Info("Plate saved",
		zap.Strings("spots_added", resp.Spots.Added),
		zap.Strings("spots_removed", resp.Spots.Removed),
	)

	ev := events.NewMutationEvent(events.ActionPlateUpdated, req.Community.Suffix)
	ev.PlateID, ev.Household, ev.Actor = plateID, code, req.Operator
	s.publish(ctx, ev)
	return resp, nil
}

// applyParkingIndex 让 ownerID 名下的车位索引与 wanted 一致：
// 多余的删除，缺少的（或属于别户的）写入，已一致的不动
func applyParkingIndex(batch repository.Batch, ownerID string, wanted []string, owned []*domain.ParkingLookup, now time.Time) {
	wantedSet := make(map[string]struct{}, len(wanted))
	for _, k := range wanted {
		wantedSet[k] = struct{}{}
	}
	ownedSet := make(map[string]struct{}, len(owned))
	for _, l := range owned {
		ownedSet[l.Spot] = struct{}{}
		if _, ok := wantedSet[l.Spot]; !ok {
			batch.DeleteParking(l.Spot)
		}
	}
	for _, k := range wanted {
		if _, ok := ownedSet[k]; ok {
			continue
		}
		batch.UpsertParking(&domain.ParkingLookup{Spot: k, OwnerID: ownerID, UpdatedAt: now})
	}
}

// CreatePlateRequest 新增车牌
type CreatePlateRequest struct {
	Community     domain.Community
	PlateID       string
	HouseholdCode string
	Notes         string
	Operator      string
}

// CreatePlateResponse 新增结果，附带新增后自动查询的结果
type CreatePlateResponse struct {
	PlateID string           `json:"plate_id"`
	Message string           `json:"message"`
	Search  *ResolveResponse `json:"search,omitempty"`
}

// CreatePlate 写入新车牌；已存在时直接覆盖（不检查是否存在）
func (s *MutationService) CreatePlate(ctx context.Context, req CreatePlateRequest) (*CreatePlateResponse, error) {
	plateID := index.NormalizePlateID(req.PlateID)
	if plateID == "" {
		return nil, newValidationError("plate_id", msgEmptyPlate)
	}
	code := normalizeCode(req.HouseholdCode)
	if code == "" {
		code = domain.PendingHouseholdCode
	}
	logger := s.logger.With(zap.String("community", req.Community.Suffix), zap.String("plate_id", plateID))
	defer s.pending.afterMutation(ctx, req.Community)

	batch := s.store.NewBatch(req.Community)
	batch.SetPlate(&domain.PlateRecord{
		ID:             plateID,
		HouseholdCode:  code,
		Notes:          req.Notes,
		SearchKeywords: index.Keywords(plateID),
		ImageURL:       "",
		CreatedBy:      req.Operator,
		CreatedAt:      s.now(),
	})
	if err := batch.Commit(ctx); err != nil {
		logger.Error("Create plate failed", zap.Error(err))
		s.metrics.ObserveMutation("create_plate", err)
		return nil, ErrCreateFailed
	}
	s.metrics.ObserveMutation("create_plate", nil)
	logger.Info("Plate created", zap.String("household", code))

	ev := events.NewMutationEvent(events.ActionPlateCreated, req.Community.Suffix)
	ev.PlateID, ev.Household, ev.Actor = plateID, code, req.Operator
	s.publish(ctx, ev)

	resp := &CreatePlateResponse{PlateID: plateID, Message: msgPlateCreated(plateID)}
	if s.search != nil {
		search, err := s.search.Resolve(ctx, ResolveRequest{
			Community: req.Community,
			Mode:      domain.ModePlate,
			Input:     plateID,
		})
		if err != nil {
			logger.Warn("Follow-up search after create failed", zap.Error(err))
		} else {
			resp.Search = search
		}
	}
	return resp, nil
}

// CreateHouseholdRequest 新增住户，可带车位
type CreateHouseholdRequest struct {
	Community     domain.Community
	ID            string
	Name          string
	Features      string
	ParkingNumber string
	Operator      string
}

type CreateHouseholdResponse struct {
	ID      string   `json:"id"`
	Parking []string `json:"parking"`
	Message string   `json:"message"`
}

// CreateHousehold 写入住户（覆盖写）；带 parking_number 时同批写入车位索引
func (s *MutationService) CreateHousehold(ctx context.Context, req CreateHouseholdRequest) (*CreateHouseholdResponse, error) {
	id := normalizeCode(req.ID)
	if id == "" {
		return nil, newValidationError("id", msgEmptyHousehold)
	}
	logger := s.logger.With(zap.String("community", req.Community.Suffix), zap.String("household", id))
	defer s.pending.afterMutation(ctx, req.Community)

	parkingNumber := strings.TrimSpace(req.ParkingNumber)
	spots := index.ParseSpots(parkingNumber)
	now := s.now()

	batch := s.store.NewBatch(req.Community)
	batch.SetHousehold(&domain.HouseholdRecord{
		ID:            id,
		Name:          req.Name,
		Features:      req.Features,
		ParkingNumber: parkingNumber,
		Parking:       spots,
	})
	for _, k := range index.SpotKeys(parkingNumber) {
		batch.UpsertParking(&domain.ParkingLookup{Spot: k, OwnerID: id, UpdatedAt: now})
	}
	if err := batch.Commit(ctx); err != nil {
		logger.Error("Create household failed", zap.Error(err))
		s.metrics.ObserveMutation("create_household", err)
		return nil, ErrHouseholdCreateFailed
	}
	s.metrics.ObserveMutation("create_household", nil)
	logger.Info("Household created", zap.Int("spots", len(spots)))

	ev := events.NewMutationEvent(events.ActionHouseholdCreated, req.Community.Suffix)
	ev.Household, ev.Actor, ev.Count = id, req.Operator, len(spots)
	s.publish(ctx, ev)

	if spots == nil {
		spots = []string{}
	}
	return &CreateHouseholdResponse{ID: id, Parking: spots, Message: msgHouseholdCreated(id)}, nil
}

// DeletePlateRequest 删除车牌
type DeletePlateRequest struct {
	Community domain.Community
	PlateID   string
	Operator  string
}

type DeletePlateResponse struct {
	PlateID      string   `json:"plate_id"`
	RemovedSpots []string `json:"removed_spots"`
	ImageDeleted bool     `json:"image_deleted"`
	Message      string   `json:"message"`
}

// DeletePlate 同一批次删除车牌及其住户名下的车位索引；照片在提交后尽力删除，失败只记录
func (s *MutationService) DeletePlate(ctx context.Context, req DeletePlateRequest) (*DeletePlateResponse, error) {
	plateID := index.NormalizePlateID(req.PlateID)
	if plateID == "" {
		return nil, newValidationError("plate_id", msgEmptyPlate)
	}
	logger := s.logger.With(zap.String("community", req.Community.Suffix), zap.String("plate_id", plateID))
	defer s.pending.afterMutation(ctx, req.Community)

	fail := func(msg string, err error) (*DeletePlateResponse, error) {
		logger.Error(msg, zap.Error(err))
		s.metrics.ObserveMutation("delete_plate", err)
		return nil, ErrDeleteFailed
	}

	plate, err := s.store.GetPlate(ctx, req.Community, plateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlateNotFound
		}
		return fail("Delete plate: plate read failed", err)
	}

	batch := s.store.NewBatch(req.Community)
	removed := []string{}
	if code := plate.HouseholdCode; code != "" && code != domain.PendingHouseholdCode {
		household, err := s.store.GetHousehold(ctx, req.Community, code)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fail("Delete plate: household read failed", err)
		}
		if household != nil {
			owned, err := s.store.ListParkingByOwner(ctx, req.Community, code)
			if err != nil {
				return fail("Delete plate: parking index read failed", err)
			}
			ownedSet := make(map[string]struct{}, len(owned))
			for _, l := range owned {
				ownedSet[l.Spot] = struct{}{}
			}
			for _, k := range index.SpotKeys(household.ParkingNumber) {
				if _, ok := ownedSet[k]; ok {
					batch.DeleteParking(k)
					removed = append(removed, k)
				}
			}
		}
	}
	batch.DeletePlate(plateID)

	if err := batch.Commit(ctx); err != nil {
		return fail("Delete plate commit failed", err)
	}
	s.metrics.ObserveMutation("delete_plate", nil)
	logger.Info("Plate deleted", zap.Strings("spots_removed", removed))

	resp := &DeletePlateResponse{PlateID: plateID, RemovedSpots: removed, Message: msgDeleted}
	if plate.ImageURL != "" {
		if err := s.images.DeleteByURL(ctx, plate.ImageURL); err != nil {
			logger.Warn("Plate image not deleted", zap.String("image_url", plate.ImageURL), zap.Error(err))
			s.metrics.IncBestEffortError("image_delete")
		} else {
			resp.ImageDeleted = true
		}
	}

	ev := events.NewMutationEvent(events.ActionPlateDeleted, req.Community.Suffix)
	ev.PlateID, ev.Household, ev.Actor = plateID, plate.HouseholdCode, req.Operator
	s.publish(ctx, ev)
	return resp, nil
}
