package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/index"
	"plate-lookup/internal/metrics"
	"plate-lookup/internal/repository"
)

// Announcer 语音播报（voice.Session 实现）
type Announcer interface {
	Announce(ctx context.Context, text string, isResult bool)
}

// Outcome 查询结果分支
type Outcome string

const (
	OutcomeSelected        Outcome = "selected"         // 唯一结果，已自动选中
	OutcomeList            Outcome = "list"             // 多笔结果
	OutcomeNoData          Outcome = "no_data"          // 模糊/戶號查询无结果
	OutcomeCreatePlate     Outcome = "create_plate"     // 精确车牌未命中，待建车牌
	OutcomeCreateHousehold Outcome = "create_household" // 戶號无车牌，待建住户
	OutcomeParkingNotFound Outcome = "parking_not_found"
)

// StagedCreate 预填的新增表单，不会自动写入
type StagedCreate struct {
	Kind string `json:"kind"` // plate | household
	ID   string `json:"id"`
}

// PlateDetail 车牌 + 住户信息
type PlateDetail struct {
	domain.PlateRecord
	HouseholdInfo *domain.HouseholdRecord `json:"householdInfo,omitempty"`
	Summary       string                  `json:"summary"`
}

// SearchService 查询链 + 详情加载 + 待查清单
type SearchService struct {
	store   repository.PlateStore
	pending *PendingTracker
	metrics *metrics.Metrics
	logger  *zap.Logger

	announcerMu sync.RWMutex
	announcer   Announcer
}

func NewSearchService(plateStore repository.PlateStore, pending *PendingTracker, m *metrics.Metrics, logger *zap.Logger) *SearchService {
	return &SearchService{
		store:   plateStore,
		pending: pending,
		metrics: m,
		logger:  logger,
	}
}

// SetAnnouncer 语音会话启动后注入；nil 表示不播报
// 语音 goroutine 与 HTTP 请求并发读写，须加锁
func (s *SearchService) SetAnnouncer(a Announcer) {
	s.announcerMu.Lock()
	s.announcer = a
	s.announcerMu.Unlock()
}

func (s *SearchService) announce(ctx context.Context, voice bool, text string, isResult bool) {
	if !voice {
		return
	}
	s.announcerMu.RLock()
	a := s.announcer
	s.announcerMu.RUnlock()
	if a != nil {
		a.Announce(ctx, text, isResult)
	}
}

// ResolveRequest 查询请求
type ResolveRequest struct {
	Community domain.Community
	Mode      domain.SearchMode
	Input     string
	Voice     bool // 来自语音，需要播报
}

// ResolveResponse 查询结果
type ResolveResponse struct {
	Input         string                `json:"input"`
	Mode          domain.SearchMode     `json:"mode"`
	EffectiveMode domain.SearchMode     `json:"effective_mode"`
	ResolvedID    string                `json:"resolved_id"`
	Outcome       Outcome               `json:"outcome"`
	Results       []*domain.PlateRecord `json:"results"`
	Selected      *PlateDetail          `json:"selected,omitempty"`
	Staged        *StagedCreate         `json:"staged,omitempty"`
	Message       string                `json:"message"`
}

// Resolve 查询链：
//  1. parking：车位 -> 戶號，转为 household 查询；车位不存在直接结束
//  2. household：按 householdCode 查车牌，无结果则预填新增住户
//  3. plate：含 "-" 且无空格走精确查询，否则按关键字模糊查询
//  4. 结果：0 笔提示无资料，1 笔自动选中，多笔返回列表
func (s *SearchService) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResponse, error) {
	input := index.NormalizePlateID(req.Input)
	if input == "" {
		return nil, newValidationError("input", msgEmptyQuery)
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModePlate
	}

	started := time.Now()
	resp, err := s.resolve(ctx, req, input, mode)
	if err != nil {
		s.logger.Error("Resolve failed",
			zap.String("community", req.Community.Suffix),
			zap.String("mode", string(mode)),
			zap.String("input", input),
			zap.Error(err),
		)
		s.metrics.ObserveResolve(string(mode), "error", started)
		s.announce(ctx, req.Voice, msgSearchFailedVoice, false)
		return nil, ErrQueryFailed
	}
	s.metrics.ObserveResolve(string(mode), string(resp.Outcome), started)
	return resp, nil
}

func (s *SearchService) resolve(ctx context.Context, req ResolveRequest, input string, mode domain.SearchMode) (*ResolveResponse, error) {
	resp := &ResolveResponse{
		Input:         input,
		Mode:          mode,
		EffectiveMode: mode,
		ResolvedID:    input,
		Results:       []*domain.PlateRecord{},
	}
	c := req.Community

	if mode == domain.ModeParking {
		lookup, err := s.store.GetParking(ctx, c, input)
		if errors.Is(err, repository.ErrNotFound) {
			resp.Outcome = OutcomeParkingNotFound
			resp.Message = msgParkingMiss(input)
			s.announce(ctx, req.Voice, resp.Message, false)
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		resp.ResolvedID = lookup.OwnerID
		resp.EffectiveMode = domain.ModeHousehold
		resp.Message = msgParkingHit(lookup.OwnerID)
		s.announce(ctx, req.Voice, resp.Message, false)
	}

	var (
		results []*domain.PlateRecord
		err     error
	)
	if resp.EffectiveMode == domain.ModeHousehold {
		results, err = s.store.ListPlatesByHousehold(ctx, c, resp.ResolvedID)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			resp.Outcome = OutcomeCreateHousehold
			resp.Staged = &StagedCreate{Kind: "household", ID: resp.ResolvedID}
			resp.Message = msgHouseholdMiss(resp.ResolvedID)
			s.announce(ctx, req.Voice, resp.Message, false)
			return resp, nil
		}
	} else if index.LooksExact(resp.ResolvedID) {
		plate, err := s.store.GetPlate(ctx, c, resp.ResolvedID)
		if errors.Is(err, repository.ErrNotFound) {
			resp.Outcome = OutcomeCreatePlate
			resp.Staged = &StagedCreate{Kind: "plate", ID: resp.ResolvedID}
			resp.Message = msgPlateMiss(resp.ResolvedID)
			s.announce(ctx, req.Voice, resp.Message, false)
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		results = []*domain.PlateRecord{plate}
	} else {
		results, err = s.store.ListPlatesByKeywords(ctx, c, index.SearchTerms(resp.ResolvedID))
		if err != nil {
			return nil, err
		}
	}

	switch len(results) {
	case 0:
		resp.Outcome = OutcomeNoData
		resp.Message = msgNoData(input)
		s.announce(ctx, req.Voice, resp.Message, false)
	case 1:
		resp.Results = results
		resp.Outcome = OutcomeSelected
		resp.Selected = s.loadDetail(ctx, c, results[0])
		resp.Message = ""
		s.announce(ctx, req.Voice, resp.Selected.Summary, true)
	default:
		resp.Results = results
		resp.Outcome = OutcomeList
		resp.Message = msgFound(len(results))
		s.announce(ctx, req.Voice, resp.Message, false)
	}
	return resp, nil
}

// loadDetail 补充住户信息；住户不存在或读取失败都不算错误
func (s *SearchService) loadDetail(ctx context.Context, c domain.Community, plate *domain.PlateRecord) *PlateDetail {
	detail := &PlateDetail{PlateRecord: *plate}
	if plate.HouseholdCode != "" {
		household, err := s.store.GetHousehold(ctx, c, plate.HouseholdCode)
		switch {
		case err == nil:
			detail.HouseholdInfo = household
		case errors.Is(err, repository.ErrNotFound):
		default:
			s.logger.Warn("Household detail not loaded",
				zap.String("community", c.Suffix),
				zap.String("household", plate.HouseholdCode),
				zap.Error(err),
			)
		}
	}
	name := ""
	if detail.HouseholdInfo != nil {
		name = detail.HouseholdInfo.Name
	}
	detail.Summary = detailSummary(plate.ID, plate.HouseholdCode, name)
	return detail
}

// SelectRequest 选中某个车牌
type SelectRequest struct {
	Community domain.Community
	PlateID   string
	Voice     bool
}

// Select 详情加载：读取车牌并补充住户信息
func (s *SearchService) Select(ctx context.Context, req SelectRequest) (*PlateDetail, error) {
	plateID := index.NormalizePlateID(req.PlateID)
	if plateID == "" {
		return nil, newValidationError("plate_id", msgEmptyPlate)
	}
	plate, err := s.store.GetPlate(ctx, req.Community, plateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlateNotFound
		}
		s.logger.Error("Plate detail failed",
			zap.String("community", req.Community.Suffix),
			zap.String("plate_id", plateID),
			zap.Error(err),
		)
		return nil, ErrQueryFailed
	}
	detail := s.loadDetail(ctx, req.Community, plate)
	s.announce(ctx, req.Voice, detail.Summary, true)
	return detail, nil
}

// PendingResponse 待查清单
type PendingResponse struct {
	Items   []*domain.PlateRecord `json:"items"`
	Total   int                   `json:"total"`
	Message string                `json:"message"`
}

// ListPending 列出 householdCode 为 "-" 的车牌
func (s *SearchService) ListPending(ctx context.Context, c domain.Community) (*PendingResponse, error) {
	items, err := s.store.ListPlatesByHousehold(ctx, c, domain.PendingHouseholdCode)
	if err != nil {
		s.logger.Error("Pending list failed", zap.String("community", c.Suffix), zap.Error(err))
		return nil, ErrLoadFailed
	}
	if s.pending != nil {
		s.pending.remember(ctx, c, len(items))
	}
	resp := &PendingResponse{Items: items, Total: len(items), Message: msgNoPending}
	if len(items) > 0 {
		resp.Message = msgPendingFound(len(items))
	}
	return resp, nil
}

// PendingCount 待查数量（缓存优先）
func (s *SearchService) PendingCount(ctx context.Context, c domain.Community) (int, error) {
	if s.pending == nil {
		n, err := s.store.CountPlatesByHousehold(ctx, c, domain.PendingHouseholdCode)
		if err != nil {
			return 0, ErrQueryFailed
		}
		return n, nil
	}
	return s.pending.Count(ctx, c)
}

// ModeState 切换模式后的界面状态
type ModeState struct {
	Mode         domain.SearchMode `json:"mode"`
	NumericInput bool              `json:"numeric_input"`
	Message      string            `json:"message"`
	PendingCount *int              `json:"pending_count,omitempty"`
}

// ChangeMode household / parking 使用英数键盘，其余使用数字键盘
func (s *SearchService) ChangeMode(mode string) (*ModeState, error) {
	m, err := domain.ParseSearchMode(mode)
	if err != nil {
		return nil, newValidationError("mode", err.Error())
	}
	return &ModeState{Mode: m, NumericInput: m.NumericInput()}, nil
}

// SwitchCommunity 切换社区：模式重置为 plate，并重新统计待查数量
func (s *SearchService) SwitchCommunity(ctx context.Context, c domain.Community) (*ModeState, error) {
	state := &ModeState{Mode: domain.ModePlate, NumericInput: domain.ModePlate.NumericInput()}
	var (
		n   int
		err error
	)
	if s.pending != nil {
		n, err = s.pending.Recount(ctx, c)
	} else {
		n, err = s.store.CountPlatesByHousehold(ctx, c, domain.PendingHouseholdCode)
	}
	if err != nil {
		s.logger.Warn("Pending recount on community switch failed", zap.String("community", c.Suffix), zap.Error(err))
		return state, nil
	}
	state.PendingCount = &n
	return state, nil
}

// RecountPending 批量导入等绕过 MutationService 的写入之后调用
func (s *SearchService) RecountPending(ctx context.Context, c domain.Community) (int, error) {
	if s.pending == nil {
		return s.PendingCount(ctx, c)
	}
	return s.pending.Recount(ctx, c)
}
