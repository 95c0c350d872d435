package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/importer"
	"plate-lookup/internal/service"
)

const (
	apiPrefix      = "/plates/api/v1"
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 10 << 20
)

// PlateIO 批量导入 / 导出
type PlateIO interface {
	Import(ctx context.Context, c domain.Community, rows []importer.Row) (*importer.Result, error)
	Export(ctx context.Context, c domain.Community) ([]byte, error)
}

// PlateHandler 车牌查询 / 编辑 API
type PlateHandler struct {
	search           *service.SearchService
	mutation         *service.MutationService
	parkingSync      *service.ParkingSyncService
	plateIO          PlateIO
	defaultCommunity domain.Community
	defaultOperator  string
	logger           *zap.Logger
}

func NewPlateHandler(
	search *service.SearchService,
	mutation *service.MutationService,
	parkingSync *service.ParkingSyncService,
	plateIO PlateIO,
	defaultCommunity domain.Community,
	defaultOperator string,
	logger *zap.Logger,
) *PlateHandler {
	return &PlateHandler{
		search:           search,
		mutation:         mutation,
		parkingSync:      parkingSync,
		plateIO:          plateIO,
		defaultCommunity: defaultCommunity,
		defaultOperator:  defaultOperator,
		logger:           logger,
	}
}

// ServeHTTP 路由：
//   - GET    /plates/api/v1/search?mode=&q=&voice=
//   - GET    /plates/api/v1/mode?mode=
//   - POST   /plates/api/v1/community
//   - POST   /plates/api/v1/plates
//   - GET|PUT|DELETE /plates/api/v1/plates/:id
//   - GET    /plates/api/v1/pending
//   - GET    /plates/api/v1/pending/count
//   - POST   /plates/api/v1/households
//   - POST   /plates/api/v1/parking/rebuild?destructive=
//   - GET    /plates/api/v1/export
//   - POST   /plates/api/v1/import
func (h *PlateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, apiPrefix), "/")

	if id, ok := strings.CutPrefix(path, "/plates/"); ok {
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.GetPlate(w, r, id)
		case http.MethodPut:
			h.SaveEdit(w, r, id)
		case http.MethodDelete:
			h.DeletePlate(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	type route struct {
		method string
		fn     func(http.ResponseWriter, *http.Request)
	}
	routes := map[string]route{
		"/search":          {http.MethodGet, h.Search},
		"/mode":            {http.MethodGet, h.ChangeMode},
		"/community":       {http.MethodPost, h.SwitchCommunity},
		"/plates":          {http.MethodPost, h.CreatePlate},
		"/pending":         {http.MethodGet, h.ListPending},
		"/pending/count":   {http.MethodGet, h.PendingCount},
		"/households":      {http.MethodPost, h.CreateHousehold},
		"/parking/rebuild": {http.MethodPost, h.RebuildParking},
		"/export":          {http.MethodGet, h.Export},
		"/import":          {http.MethodPost, h.Import},
	}
	rt, ok := routes[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != rt.method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rt.fn(w, r)
}

// communityFromReq ?community=_b，缺省使用配置的社区
func (h *PlateHandler) communityFromReq(r *http.Request) domain.Community {
	if v, ok := r.URL.Query()["community"]; ok && len(v) > 0 {
		return domain.Community{Suffix: strings.TrimSpace(v[0])}
	}
	return h.defaultCommunity
}

func (h *PlateHandler) operatorFromReq(r *http.Request) string {
	if op := strings.TrimSpace(r.Header.Get("X-Operator")); op != "" {
		return op
	}
	return h.defaultOperator
}

// writeErr service 层错误已是可展示的文字；其他错误不外露细节
func (h *PlateHandler) writeErr(w http.ResponseWriter, op string, err error) {
	var v *service.ValidationError
	switch {
	case errors.As(err, &v):
		writeJSON(w, http.StatusOK, Fail(v.Message))
	case errors.Is(err, service.ErrQueryFailed),
		errors.Is(err, service.ErrLoadFailed),
		errors.Is(err, service.ErrSaveFailed),
		errors.Is(err, service.ErrCreateFailed),
		errors.Is(err, service.ErrHouseholdCreateFailed),
		errors.Is(err, service.ErrDeleteFailed),
		errors.Is(err, service.ErrSyncFailed),
		errors.Is(err, service.ErrPlateNotFound):
		writeJSON(w, http.StatusOK, Fail(err.Error()))
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("%s failed", op)))
	}
}

// Search 查询链
// GET /plates/api/v1/search?mode=plate&q=1234&voice=false
func (h *PlateHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := domain.ParseSearchMode(q.Get("mode"))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	resp, err := h.search.Resolve(r.Context(), service.ResolveRequest{
		Community: h.communityFromReq(r),
		Mode:      mode,
		Input:     q.Get("q"),
		Voice:     parseBool(q.Get("voice"), false),
	})
	if err != nil {
		h.writeErr(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, OkWithMessage(resp.Message, resp))
}

// ChangeMode GET /plates/api/v1/mode?mode=parking
func (h *PlateHandler) ChangeMode(w http.ResponseWriter, r *http.Request) {
	state, err := h.search.ChangeMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeErr(w, "change mode", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(state))
}

// SwitchCommunity POST /plates/api/v1/community?community=_b
func (h *PlateHandler) SwitchCommunity(w http.ResponseWriter, r *http.Request) {
	state, err := h.search.SwitchCommunity(r.Context(), h.communityFromReq(r))
	if err != nil {
		h.writeErr(w, "switch community", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(state))
}

// GetPlate 详情加载 GET /plates/api/v1/plates/:id
func (h *PlateHandler) GetPlate(w http.ResponseWriter, r *http.Request, id string) {
	detail, err := h.search.Select(r.Context(), service.SelectRequest{
		Community: h.communityFromReq(r),
		PlateID:   id,
		Voice:     parseBool(r.URL.Query().Get("voice"), false),
	})
	if err != nil {
		h.writeErr(w, "get plate", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(detail))
}

type createPlatePayload struct {
	PlateID       string `json:"plate_id"`
	HouseholdCode string `json:"household_code"`
	Notes         string `json:"notes"`
}

// CreatePlate POST /plates/api/v1/plates
func (h *PlateHandler) CreatePlate(w http.ResponseWriter, r *http.Request) {
	var p createPlatePayload
	if err := readBodyJSON(r, maxBodyBytes, &p); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	resp, err := h.mutation.CreatePlate(r.Context(), service.CreatePlateRequest{
		Community:     h.communityFromReq(r),
		PlateID:       p.PlateID,
		HouseholdCode: p.HouseholdCode,
		Notes:         p.Notes,
		Operator:      h.operatorFromReq(r),
	})
	if err != nil {
		h.writeErr(w, "create plate", err)
		return
	}
	writeJSON(w, http.StatusOK, OkWithMessage(resp.Message, resp))
}

type saveEditPayload struct {
	HouseholdCode string               `json:"household_code"`
	Notes         string               `json:"notes"`
	HouseholdInfo domain.HouseholdInfo `json:"household_info"`
}

// SaveEdit PUT /plates/api/v1/plates/:id
func (h *PlateHandler) SaveEdit(w http.ResponseWriter, r *http.Request, id string) {
	var p saveEditPayload
	if err := readBodyJSON(r, maxBodyBytes, &p); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	resp, err := h.mutation.SaveEdit(r.Context(), service.SaveEditRequest{
		Community:     h.communityFromReq(r),
		PlateID:       id,
		HouseholdCode: p.HouseholdCode,
		Notes:         p.Notes,
		HouseholdInfo: p.HouseholdInfo,
		Operator:      h.operatorFromReq(r),
	})
	if err != nil {
		h.writeErr(w, "save edit", err)
		return
	}
	writeJSON(w, http.StatusOK, OkWithMessage(resp.Message, resp))
}

// DeletePlate DELETE /plates/api/v1/plates/:id
func (h *PlateHandler) DeletePlate(w http.ResponseWriter, r *http.Request, id string) {
	resp, err := h.mutation.DeletePlate(r.Context(), service.DeletePlateRequest{
		Community: h.communityFromReq(r),
		PlateID:   id,
		Operator:  h.operatorFromReq(r),
	})
	if err != nil {
		h.writeErr(w, "delete plate", err)
		return
	}
	writeJSON(w, http.StatusOK, OkWithMessage(resp.Message, resp))
}

// ListPending GET /plates/api/v1/pending
func (h *PlateHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	resp, err := h.search.ListPending(r.Context(), h.communityFromReq(r))
	if err != nil {
		h.writeErr(w, "list pending", err)
		return
	}
	writeJSON(w, http.StatusOK, OkWithMessage(resp.Message, resp))
}

// PendingCount GET /plates/api/v1/pending/count
func (h *PlateHandler) PendingCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.search.PendingCount(r.Context(), h.communityFromReq(r))
	if err != nil {
		h.writeErr(w, "pending count", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"count": n}))
}

type createHouseholdPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Features      string `json:"features"`
	ParkingNumber string `json:"parking_number"`
}

// CreateHousehold POST /plates/api/v1/households
func (h *PlateHandler) CreateHousehold(w http.ResponseWriter, r *http.Request) {
	var p createHouseholdPayload
	if err := readBodyJSON(r, maxBodyBytes, &p); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	resp, err := h.mutation.CreateHousehold(r.Context(), service.CreateHouseholdRequest{
		Community:     h.communityFromReq(r),
		ID:            p.ID,
		Name:          p.Name,
		Features:      p.Features,
		ParkingNumber: p.ParkingNumber,
		Operator:      h.operatorFromReq(r),
	})
	if err != nil {
		h.writeErr(w, "create household", err)
		return
	}
	writeJSON(w, http.StatusOK, OkWithMessage(resp.Message, resp))
}

// RebuildParking POST /plates/api/v1/parking/rebuild?destructive=true
func (h *PlateHandler) RebuildParking(w http.ResponseWriter, r *http.Request) {
	c := h.communityFromReq(r)
	var (
		resp *service.SyncResponse
		err  error
	)
	if parseBool(r.URL.Query().Get("destructive"), false) {
		resp, err = h.parkingSync.ResyncParkingIndex(r.Context(), c)
	} else {
		resp, err = h.parkingSync.RebuildParkingIndex(r.Context(), c)
	}
	if err != nil {
		h.writeErr(w, "rebuild parking", err)
		return
	}
	writeJSON(w, http.StatusOK, OkWithMessage(resp.Message, resp))
}

// Export GET /plates/api/v1/export
func (h *PlateHandler) Export(w http.ResponseWriter, r *http.Request) {
	c := h.communityFromReq(r)
	data, err := h.plateIO.Export(r.Context(), c)
	if err != nil {
		h.logger.Error("Plate export failed", zap.String("community", c.Suffix), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to generate export"))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=plates%s.xlsx", c.Suffix))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Import POST /plates/api/v1/import（multipart，字段 file，.csv 或 .xlsx）
func (h *PlateHandler) Import(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("file not found in request"))
		return
	}
	defer file.Close()

	rows, err := importer.ReadFile(header.Filename, file)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	c := h.communityFromReq(r)
	res, err := h.plateIO.Import(r.Context(), c, rows)
	if err != nil {
		h.logger.Error("Plate import failed", zap.String("community", c.Suffix), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to import"))
		return
	}
	if _, err := h.search.RecountPending(r.Context(), c); err != nil {
		h.logger.Warn("Pending recount after import failed", zap.String("community", c.Suffix), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, Ok(res))
}
