package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/repository"
)

func TestResolve_ExactIdentifierHit(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlate(t, "1234-AB", "B-3")
	env.seedHousehold(t, "B-3", "王先生", "A12")

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Mode: domain.ModePlate, Input: " 1234-ab ", Voice: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSelected, resp.Outcome)
	require.Len(t, resp.Results, 1)
	assert.Nil(t, resp.Staged)
	require.NotNil(t, resp.Selected)
	assert.Equal(t, "王先生", resp.Selected.HouseholdInfo.Name)
	assert.Equal(t, "查詢成功。車牌 1234-AB。屬於 B-3 ，住戶 王先生", resp.Selected.Summary)

	require.Len(t, env.announcer.items, 1)
	assert.True(t, env.announcer.items[0].isResult)
}

func TestResolve_ExactIdentifierMissStagesCreatePlate(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Mode: domain.ModePlate, Input: "1234-AB", Voice: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreatePlate, resp.Outcome)
	assert.Empty(t, resp.Results)
	assert.Equal(t, &StagedCreate{Kind: "plate", ID: "1234-AB"}, resp.Staged)
	assert.Equal(t, "查無車牌 1234-AB", resp.Message)
	assert.Equal(t, []string{"查無車牌 1234-AB"}, env.announcer.texts())

	// 不自动新增
	_, err = env.mem.GetPlate(context.Background(), community, "1234-AB")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResolve_NoSeparatorAlwaysFuzzy(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlate(t, "1668", "A1")
	env.seedPlate(t, "ABC-1668", "A2")
	env.seedPlate(t, "XYZ-9", "A3")

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Input: "1668", Voice: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ModePlate, resp.Mode)
	assert.Equal(t, OutcomeList, resp.Outcome)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "找到 2 筆資料", resp.Message)
	assert.Equal(t, []string{"找到 2 筆資料"}, env.announcer.texts())
}

func TestResolve_SpaceForcesFuzzyAcrossTerms(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlate(t, "ABC-1234", "A1")
	env.seedPlate(t, "XYZ-9", "A3")

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Input: "XYZ-9 1234",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSelected, resp.Outcome)
	assert.Equal(t, "ABC-1234", resp.Selected.ID)
	assert.Empty(t, env.announcer.texts())
}

func TestResolve_FuzzyNoData(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Input: "9999", Voice: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, resp.Outcome)
	assert.Nil(t, resp.Staged)
	assert.Equal(t, []string{"查無 9999 的資料"}, env.announcer.texts())
}

func TestResolve_ParkingToEmptyHouseholdStagesCreateHousehold(t *testing.T) {
	env := newTestEnv(t)
	env.seedLookup(t, "A12", "B-3", "")

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Mode: domain.ModeParking, Input: "a12", Voice: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeParking, resp.Mode)
	assert.Equal(t, domain.ModeHousehold, resp.EffectiveMode)
	assert.Equal(t, "B-3", resp.ResolvedID)
	assert.Equal(t, OutcomeCreateHousehold, resp.Outcome)
	assert.Equal(t, &StagedCreate{Kind: "household", ID: "B-3"}, resp.Staged)
	assert.Equal(t, []string{"車位搜尋成功，正在導向戶號：B-3", "查無戶號 B-3"}, env.announcer.texts())
}

func TestResolve_ParkingToHouseholdWithPlate(t *testing.T) {
	env := newTestEnv(t)
	env.seedLookup(t, "A12", "B-3", "")
	env.seedPlate(t, "1234-AB", "B-3")

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Mode: domain.ModeParking, Input: "A12",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSelected, resp.Outcome)
	assert.Equal(t, "1234-AB", resp.Selected.ID)
	assert.Nil(t, resp.Selected.HouseholdInfo)
	assert.Equal(t, "查詢成功。車牌 1234-AB。屬於 B-3 ", resp.Selected.Summary)
}

func TestResolve_ParkingMissTerminates(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Mode: domain.ModeParking, Input: "Z9", Voice: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeParkingNotFound, resp.Outcome)
	assert.Nil(t, resp.Staged)
	assert.Equal(t, "查無車位「Z9」", resp.Message)
	assert.Equal(t, []string{"查無車位「Z9」"}, env.announcer.texts())
}

func TestResolve_HouseholdModeList(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlate(t, "AAA-1", "B-3")
	env.seedPlate(t, "AAA-2", "B-3")

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Mode: domain.ModeHousehold, Input: "b-3",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeList, resp.Outcome)
	assert.Len(t, resp.Results, 2)
}

func TestResolve_EmptyInputIsValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.search.Resolve(context.Background(), ResolveRequest{Community: community, Input: "   "})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "請輸入查詢內容！", err.Error())
}

func TestResolve_StoreFailureIsGeneric(t *testing.T) {
	env := newTestEnvWithStore(t, repository.NewMemoryPlateStore(), func(ps repository.PlateStore) repository.PlateStore {
		return &failingStore{PlateStore: ps, failReads: true}
	})

	resp, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Input: "ABC-1234", Voice: true,
	})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.NotContains(t, err.Error(), errBackend.Error())
	assert.Equal(t, []string{"系統查詢出錯"}, env.announcer.texts())
}

func TestSelect_DetailLoader(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlate(t, "ABC-1", "")

	detail, err := env.search.Select(context.Background(), SelectRequest{Community: community, PlateID: "abc-1", Voice: true})
	require.NoError(t, err)
	assert.Equal(t, "查詢成功。車牌 ABC-1。屬於 尚未登記戶號 ", detail.Summary)
	require.Len(t, env.announcer.items, 1)
	assert.True(t, env.announcer.items[0].isResult)

	_, err = env.search.Select(context.Background(), SelectRequest{Community: community, PlateID: "NOPE-1"})
	assert.ErrorIs(t, err, ErrPlateNotFound)
}

func TestListPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.search.ListPending(ctx, community)
	require.NoError(t, err)
	assert.Equal(t, "目前沒有待查資料。", resp.Message)
	assert.Empty(t, resp.Items)

	env.seedPlate(t, "AAA-1", domain.PendingHouseholdCode)
	env.seedPlate(t, "AAA-2", domain.PendingHouseholdCode)
	env.seedPlate(t, "AAA-3", "B-3")

	resp, err = env.search.ListPending(ctx, community)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "查詢完成，共有 2 筆待查資料。", resp.Message)

	cached, err := env.kv.Get(ctx, "plates:pending:_east")
	require.NoError(t, err)
	assert.Equal(t, "2", cached)
}

func TestChangeMode(t *testing.T) {
	env := newTestEnv(t)

	state, err := env.search.ChangeMode("household")
	require.NoError(t, err)
	assert.False(t, state.NumericInput)
	assert.Empty(t, state.Message)

	state, err = env.search.ChangeMode("pending")
	require.NoError(t, err)
	assert.True(t, state.NumericInput)

	_, err = env.search.ChangeMode("vin")
	assert.True(t, IsValidation(err))
}

func TestSwitchCommunity(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlate(t, "AAA-1", domain.PendingHouseholdCode)

	state, err := env.search.SwitchCommunity(context.Background(), community)
	require.NoError(t, err)
	assert.Equal(t, domain.ModePlate, state.Mode)
	require.NotNil(t, state.PendingCount)
	assert.Equal(t, 1, *state.PendingCount)
}

func TestSetAnnouncer_ConcurrentWithVoiceResolve(t *testing.T) {
	env := newTestEnv(t)
	env.seedPlate(t, "1234-AB", "B-3")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				env.search.SetAnnouncer(&recordingAnnouncer{})
			} else {
				env.search.SetAnnouncer(nil)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, err := env.search.Resolve(context.Background(), ResolveRequest{
				Community: community, Mode: domain.ModePlate, Input: "1234-AB", Voice: true,
			})
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	env.search.SetAnnouncer(env.announcer)
	_, err := env.search.Resolve(context.Background(), ResolveRequest{
		Community: community, Mode: domain.ModePlate, Input: "1234-AB", Voice: true,
	})
	require.NoError(t, err)
	assert.Len(t, env.announcer.texts(), 1)
}
