package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/importer"
	"plate-lookup/internal/metrics"
	"plate-lookup/internal/repository"
	"plate-lookup/internal/service"
	"plate-lookup/internal/store"
)

var testCommunity = domain.Community{Suffix: "_east"}

type rawResult struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newTestRouter(t *testing.T) (*Router, *repository.MemoryPlateStore) {
	t.Helper()
	logger := zap.NewNop()
	mem := repository.NewMemoryPlateStore()
	m := metrics.New()
	pending := service.NewPendingTracker(mem, store.NewMemoryKV(), time.Minute, m, logger)
	search := service.NewSearchService(mem, pending, m, logger)
	mutation := service.NewMutationService(mem, search, pending, nil, nil, m, logger)
	parkingSync := service.NewParkingSyncService(mem, nil, m, logger)

	h := NewPlateHandler(search, mutation, parkingSync, importer.New(mem, logger), testCommunity, "gate", logger)
	r := NewRouter(logger)
	r.RegisterPlateRoutes(h)
	r.RegisterMetrics(m.Handler())
	r.RegisterHealth()
	return r, mem
}

func do(t *testing.T, r http.Handler, method, target string, body any) (*httptest.ResponseRecorder, rawResult) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("X-Operator", "guard@gate")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var res rawResult
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	}
	return w, res
}

func TestPlateRoutes_CreateSearchEditDelete(t *testing.T) {
	r, mem := newTestRouter(t)
	ctx := context.Background()

	_, res := do(t, r, http.MethodPost, "/plates/api/v1/households", map[string]any{
		"id": "b-3", "name": "王先生", "parking_number": "A1 / A2",
	})
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "戶號「B-3」建立成功！", res.Message)

	_, res = do(t, r, http.MethodPost, "/plates/api/v1/plates", map[string]any{
		"plate_id": "1234-ab", "household_code": "B-3",
	})
	require.Equal(t, ResultSuccess, res.Code)
	p, err := mem.GetPlate(ctx, testCommunity, "1234-AB")
	require.NoError(t, err)
	assert.Equal(t, "guard@gate", p.CreatedBy)

	_, res = do(t, r, http.MethodGet, "/plates/api/v1/search?mode=parking&q=a2", nil)
	require.Equal(t, ResultSuccess, res.Code)
	var resolved service.ResolveResponse
	require.NoError(t, json.Unmarshal(res.Result, &resolved))
	assert.Equal(t, service.OutcomeSelected, resolved.Outcome)
	assert.Equal(t, domain.ModeHousehold, resolved.EffectiveMode)
	assert.Equal(t, "B-3", resolved.ResolvedID)

	_, res = do(t, r, http.MethodPut, "/plates/api/v1/plates/1234-AB", map[string]any{
		"household_code": "B-3",
		"notes":          "黑色",
		"household_info": map[string]any{"name": "王先生", "parking_number": "A2"},
	})
	require.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "資料儲存成功！", res.Message)
	_, err = mem.GetParking(ctx, testCommunity, "A1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, res = do(t, r, http.MethodGet, "/plates/api/v1/plates/1234-AB", nil)
	require.Equal(t, ResultSuccess, res.Code)
	var detail service.PlateDetail
	require.NoError(t, json.Unmarshal(res.Result, &detail))
	assert.Equal(t, "黑色", detail.Notes)

	_, res = do(t, r, http.MethodDelete, "/plates/api/v1/plates/1234-AB", nil)
	require.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "刪除成功", res.Message)

	_, res = do(t, r, http.MethodGet, "/plates/api/v1/plates/1234-AB", nil)
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, "查無此車牌", res.Message)
}

func TestPlateRoutes_ValidationAndRouting(t *testing.T) {
	r, _ := newTestRouter(t)

	w, res := do(t, r, http.MethodGet, "/plates/api/v1/search?q=", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, "請輸入查詢內容！", res.Message)

	_, res = do(t, r, http.MethodGet, "/plates/api/v1/search?mode=vin&q=1", nil)
	assert.Equal(t, ResultError, res.Code)

	w, _ = do(t, r, http.MethodGet, "/plates/api/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodGet, "/plates/api/v1/households", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w, _ = do(t, r, http.MethodPatch, "/plates/api/v1/plates/ABC-1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w, _ = do(t, r, http.MethodGet, "/plates/api/v1/plates/a/b", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlateRoutes_PendingModeAndCommunity(t *testing.T) {
	r, _ := newTestRouter(t)

	do(t, r, http.MethodPost, "/plates/api/v1/plates?community=_b", map[string]any{"plate_id": "ZZ-1"})

	_, res := do(t, r, http.MethodGet, "/plates/api/v1/pending?community=_b", nil)
	require.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "查詢完成，共有 1 筆待查資料。", res.Message)

	_, res = do(t, r, http.MethodGet, "/plates/api/v1/pending/count", nil)
	assert.JSONEq(t, `{"count":0}`, string(res.Result))

	_, res = do(t, r, http.MethodGet, "/plates/api/v1/mode?mode=parking", nil)
	assert.JSONEq(t, `{"mode":"parking","numeric_input":false,"message":""}`, string(res.Result))

	_, res = do(t, r, http.MethodPost, "/plates/api/v1/community?community=_b", nil)
	assert.JSONEq(t, `{"mode":"plate","numeric_input":true,"message":"","pending_count":1}`, string(res.Result))
}

func TestPlateRoutes_ParkingRebuild(t *testing.T) {
	r, mem := newTestRouter(t)
	ctx := context.Background()
	b := mem.NewBatch(testCommunity)
	b.SetHousehold(&domain.HouseholdRecord{ID: "H1", ParkingNumber: "A1 / A2"})
	b.UpsertParking(&domain.ParkingLookup{Spot: "Z9", OwnerID: "H7"})
	require.NoError(t, b.Commit(ctx))

	_, res := do(t, r, http.MethodPost, "/plates/api/v1/parking/rebuild", nil)
	assert.Equal(t, "同步完成！共處理 2 個車位。", res.Message)
	_, err := mem.GetParking(ctx, testCommunity, "Z9")
	assert.NoError(t, err)

	_, res = do(t, r, http.MethodPost, "/plates/api/v1/parking/rebuild?destructive=true", nil)
	assert.Equal(t, ResultSuccess, res.Code)
	_, err = mem.GetParking(ctx, testCommunity, "Z9")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPlateRoutes_ImportAndExport(t *testing.T) {
	r, mem := newTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "plates.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("DocumentID,HouseholdCode,Notes\nABC-1,-,\n,,\nABC-2,H1,白色\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/plates/api/v1/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var res rawResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, ResultSuccess, res.Code)
	assert.JSONEq(t, `{"total":3,"imported":2,"skipped":[3]}`, string(res.Result))

	plates, err := mem.ListPlates(context.Background(), testCommunity)
	require.NoError(t, err)
	assert.Len(t, plates, 2)

	_, res = do(t, r, http.MethodGet, "/plates/api/v1/pending/count", nil)
	assert.JSONEq(t, `{"count":1}`, string(res.Result))

	w, _ = do(t, r, http.MethodGet, "/plates/api/v1/export", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attachment; filename=plates_east.xlsx", w.Header().Get("Content-Disposition"))
	rows, err := importer.ReadXLSX(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMetricsAndHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	do(t, r, http.MethodGet, "/plates/api/v1/search?q=ABC", nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plate_resolutions_total")

	w, res := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ResultSuccess, res.Code)
}
