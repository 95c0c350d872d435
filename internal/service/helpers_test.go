package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/events"
	"plate-lookup/internal/index"
	"plate-lookup/internal/metrics"
	"plate-lookup/internal/repository"
	"plate-lookup/internal/store"
)

var community = domain.Community{Suffix: "_east"}

var errBackend = errors.New("backend unavailable")

type announcement struct {
	text     string
	isResult bool
}

type recordingAnnouncer struct {
	mu    sync.Mutex
	items []announcement
}

func (r *recordingAnnouncer) Announce(_ context.Context, text string, isResult bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, announcement{text: text, isResult: isResult})
}

func (r *recordingAnnouncer) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.items))
	for i, a := range r.items {
		out[i] = a.text
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.MutationEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.MutationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) actions() []events.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Action, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Action
	}
	return out
}

type fakeImages struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeImages) DeleteByURL(_ context.Context, rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, rawURL)
	return f.err
}

// failingStore 读或提交时返回错误
type failingStore struct {
	repository.PlateStore
	failReads  bool
	failCommit bool
}

func (f *failingStore) GetPlate(ctx context.Context, c domain.Community, id string) (*domain.PlateRecord, error) {
	if f.failReads {
		return nil, errBackend
	}
	return f.PlateStore.GetPlate(ctx, c, id)
}

func (f *failingStore) ListPlatesByKeywords(ctx context.Context, c domain.Community, terms []string) ([]*domain.PlateRecord, error) {
	if f.failReads {
		return nil, errBackend
	}
	return f.PlateStore.ListPlatesByKeywords(ctx, c, terms)
}

func (f *failingStore) ListPlatesByHousehold(ctx context.Context, c domain.Community, code string) ([]*domain.PlateRecord, error) {
	if f.failReads {
		return nil, errBackend
	}
	return f.PlateStore.ListPlatesByHousehold(ctx, c, code)
}

func (f *failingStore) ListHouseholds(ctx context.Context, c domain.Community) ([]*domain.HouseholdRecord, error) {
	if f.failReads {
		return nil, errBackend
	}
	return f.PlateStore.ListHouseholds(ctx, c)
}

func (f *failingStore) GetParking(ctx context.Context, c domain.Community, spot string) (*domain.ParkingLookup, error) {
	if f.failReads {
		return nil, errBackend
	}
	return f.PlateStore.GetParking(ctx, c, spot)
}

func (f *failingStore) NewBatch(c domain.Community) repository.Batch {
	b := f.PlateStore.NewBatch(c)
	if f.failCommit {
		return failingBatch{Batch: b}
	}
	return b
}

type failingBatch struct{ repository.Batch }

func (failingBatch) Commit(context.Context) error { return errBackend }

type testEnv struct {
	mem       *repository.MemoryPlateStore
	kv        *store.MemoryKV
	pending   *PendingTracker
	search    *SearchService
	mutation  *MutationService
	sync      *ParkingSyncService
	announcer *recordingAnnouncer
	publisher *recordingPublisher
	images    *fakeImages
	metrics   *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, repository.NewMemoryPlateStore(), nil)
}

// newTestEnvWithStore wrap 可替换 service 看到的 store（用于注入错误）
func newTestEnvWithStore(t *testing.T, mem *repository.MemoryPlateStore, wrap func(repository.PlateStore) repository.PlateStore) *testEnv {
	t.Helper()
	var ps repository.PlateStore = mem
	if wrap != nil {
		ps = wrap(mem)
	}
	logger := zap.NewNop()
	m := metrics.New()
	kv := store.NewMemoryKV()
	pending := NewPendingTracker(ps, kv, time.Minute, m, logger)
	search := NewSearchService(ps, pending, m, logger)
	announcer := &recordingAnnouncer{}
	search.SetAnnouncer(announcer)
	publisher := &recordingPublisher{}
	images := &fakeImages{}
	mutation := NewMutationService(ps, search, pending, images, publisher, m, logger)
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	mutation.now = func() time.Time { return fixed }
	parkingSync := NewParkingSyncService(ps, publisher, m, logger)
	parkingSync.now = mutation.now
	return &testEnv{
		mem:       mem,
		kv:        kv,
		pending:   pending,
		search:    search,
		mutation:  mutation,
		sync:      parkingSync,
		announcer: announcer,
		publisher: publisher,
		images:    images,
		metrics:   m,
	}
}

func (e *testEnv) seedPlate(t *testing.T, id, household string) {
	t.Helper()
	b := e.mem.NewBatch(community)
	b.SetPlate(&domain.PlateRecord{ID: id, HouseholdCode: household, SearchKeywords: index.Keywords(id)})
	require.NoError(t, b.Commit(context.Background()))
}

func (e *testEnv) seedHousehold(t *testing.T, id, name, parking string) {
	t.Helper()
	b := e.mem.NewBatch(community)
	b.SetHousehold(&domain.HouseholdRecord{ID: id, Name: name, ParkingNumber: parking, Parking: index.ParseSpots(parking)})
	require.NoError(t, b.Commit(context.Background()))
}

func (e *testEnv) seedLookup(t *testing.T, spot, owner, note string) {
	t.Helper()
	b := e.mem.NewBatch(community)
	b.UpsertParking(&domain.ParkingLookup{Spot: spot, OwnerID: owner, Note: note})
	require.NoError(t, b.Commit(context.Background()))
}

// ownedSpots ownerID 名下的车位索引
func (e *testEnv) ownedSpots(t *testing.T, owner string) []string {
	t.Helper()
	owned, err := e.mem.ListParkingByOwner(context.Background(), community, owner)
	require.NoError(t, err)
	out := make([]string, 0, len(owned))
	for _, l := range owned {
		out = append(out, l.Spot)
	}
	return out
}
