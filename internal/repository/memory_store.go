package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"plate-lookup/internal/domain"
)

// MemoryPlateStore: DB 未就绪时使用的内存实现（联测 / 单元测试）
// - 按社区隔离
// - Commit 在副本上执行全部操作，成功后整体替换，保证原子性
type MemoryPlateStore struct {
	mu          sync.RWMutex
	communities map[string]*memoryCommunity // suffix -> data
}

type memoryCommunity struct {
	plates     map[string]domain.PlateRecord
	households map[string]domain.HouseholdRecord
	parking    map[string]domain.ParkingLookup
}

func newMemoryCommunity() *memoryCommunity {
	return &memoryCommunity{
		plates:     map[string]domain.PlateRecord{},
		households: map[string]domain.HouseholdRecord{},
		parking:    map[string]domain.ParkingLookup{},
	}
}

func (m *memoryCommunity) clone() *memoryCommunity {
	out := newMemoryCommunity()
	for k, v := range m.plates {
		out.plates[k] = v
	}
	for k, v := range m.households {
		out.households[k] = v
	}
	for k, v := range m.parking {
		out.parking[k] = v
	}
	return out
}

func NewMemoryPlateStore() *MemoryPlateStore {
	return &MemoryPlateStore{communities: map[string]*memoryCommunity{}}
}

// community 调用方需持有锁
func (s *MemoryPlateStore) community(c domain.Community) *memoryCommunity {
	data, ok := s.communities[c.Suffix]
	if !ok {
		data = newMemoryCommunity()
		s.communities[c.Suffix] = data
	}
	return data
}

func (s *MemoryPlateStore) read(c domain.Community) *memoryCommunity {
	if data, ok := s.communities[c.Suffix]; ok {
		return data
	}
	return newMemoryCommunity()
}

func copyPlate(p domain.PlateRecord) *domain.PlateRecord {
	p.SearchKeywords = append([]string(nil), p.SearchKeywords...)
	return &p
}

func copyHousehold(h domain.HouseholdRecord) *domain.HouseholdRecord {
	h.Parking = append([]string(nil), h.Parking...)
	return &h
}

func sortPlates(items []*domain.PlateRecord) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

// ---- reads ----

func (s *MemoryPlateStore) GetPlate(_ context.Context, c domain.Community, plateID string) (*domain.PlateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.read(c).plates[plateID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPlate(p), nil
}

func (s *MemoryPlateStore) ListPlatesByHousehold(_ context.Context, c domain.Community, householdCode string) ([]*domain.PlateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.PlateRecord{}
	for _, p := range s.read(c).plates {
		if p.HouseholdCode == householdCode {
			out = append(out, copyPlate(p))
		}
	}
	sortPlates(out)
	return out, nil
}

func (s *MemoryPlateStore) ListPlatesByKeywords(_ context.Context, c domain.Community, terms []string) ([]*domain.PlateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}
	out := []*domain.PlateRecord{}
	for _, p := range s.read(c).plates {
		for _, kw := range p.SearchKeywords {
			if _, ok := want[kw]; ok {
				out = append(out, copyPlate(p))
				break
			}
		}
	}
	sortPlates(out)
	return out, nil
}

func (s *MemoryPlateStore) ListPlates(_ context.Context, c domain.Community) ([]*domain.PlateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.PlateRecord, 0, len(s.read(c).plates))
	for _, p := range s.read(c).plates {
		out = append(out, copyPlate(p))
	}
	sortPlates(out)
	return out, nil
}

func (s *MemoryPlateStore) CountPlatesByHousehold(_ context.Context, c domain.Community, householdCode string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.read(c).plates {
		if p.HouseholdCode == householdCode {
			n++
		}
	}
	return n, nil
}

func (s *MemoryPlateStore) GetHousehold(_ context.Context, c domain.Community, householdID string) (*domain.HouseholdRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.read(c).households[householdID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyHousehold(h), nil
}

func (s *MemoryPlateStore) ListHouseholds(_ context.Context, c domain.Community) ([]*domain.HouseholdRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.HouseholdRecord, 0, len(s.read(c).households))
	for _, h := range s.read(c).households {
		out = append(out, copyHousehold(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryPlateStore) GetParking(_ context.Context, c domain.Community, spot string) (*domain.ParkingLookup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.read(c).parking[spot]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (s *MemoryPlateStore) ListParking(_ context.Context, c domain.Community) ([]*domain.ParkingLookup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ParkingLookup, 0, len(s.read(c).parking))
	for _, l := range s.read(c).parking {
		l := l
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spot < out[j].Spot })
	return out, nil
}

func (s *MemoryPlateStore) ListParkingByOwner(_ context.Context, c domain.Community, ownerID string) ([]*domain.ParkingLookup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.ParkingLookup{}
	for _, l := range s.read(c).parking {
		if l.OwnerID != ownerID {
			continue
		}
		l := l
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spot < out[j].Spot })
	return out, nil
}

// ---- batch ----

func (s *MemoryPlateStore) NewBatch(c domain.Community) Batch {
	return &memoryBatch{store: s, community: c}
}

type memoryBatch struct {
	opList
	store     *MemoryPlateStore
	community domain.Community
	committed bool
}

func (b *memoryBatch) Commit(_ context.Context) error {
	if b.committed {
		return fmt.Errorf("batch already committed")
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	next := b.store.community(b.community).clone()
	for _, op := range b.ops {
		if err := applyMemoryOp(next, op); err != nil {
			return err
		}
	}
	b.store.communities[b.community.Suffix] = next
	b.committed = true
	return nil
}

func applyMemoryOp(data *memoryCommunity, op batchOp) error {
	switch op.kind {
	case opSetPlate:
		data.plates[op.key] = *copyPlate(*op.plate)
	case opUpdatePlate:
		p, ok := data.plates[op.key]
		if !ok {
			return fmt.Errorf("update plate %s: %w", op.key, ErrNotFound)
		}
		p.HouseholdCode = op.update.HouseholdCode
		p.Notes = op.update.Notes
		p.LastUpdatedBy = op.update.LastUpdatedBy
		p.UpdatedAt = op.update.UpdatedAt
		data.plates[op.key] = p
	case opDeletePlate:
		delete(data.plates, op.key)
	case opSetHousehold, opMergeHousehold:
		data.households[op.key] = *copyHousehold(*op.household)
	case opUpsertParking:
		next := *op.parking
		if prev, ok := data.parking[op.key]; ok && next.Note == "" {
			next.Note = prev.Note
		}
		data.parking[op.key] = next
	case opDeleteParking:
		delete(data.parking, op.key)
	default:
		return fmt.Errorf("unknown batch op %d", op.kind)
	}
	return nil
}
