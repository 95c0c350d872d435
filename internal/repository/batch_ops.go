package repository

import "plate-lookup/internal/domain"

type opKind int

const (
	opSetPlate opKind = iota
	opUpdatePlate
	opDeletePlate
	opSetHousehold
	opMergeHousehold
	opUpsertParking
	opDeleteParking
)

// batchOp 批量写中的一条操作；memory / postgres 两种实现共用
type batchOp struct {
	kind      opKind
	key       string
	plate     *domain.PlateRecord
	update    domain.PlateUpdate
	household *domain.HouseholdRecord
	parking   *domain.ParkingLookup
}

type opList struct {
	ops []batchOp
}

func (l *opList) SetPlate(p *domain.PlateRecord) {
	cp := *p
	cp.SearchKeywords = append([]string(nil), p.SearchKeywords...)
	l.ops = append(l.ops, batchOp{kind: opSetPlate, key: p.ID, plate: &cp})
}

func (l *opList) UpdatePlate(plateID string, u domain.PlateUpdate) {
	l.ops = append(l.ops, batchOp{kind: opUpdatePlate, key: plateID, update: u})
}

func (l *opList) DeletePlate(plateID string) {
	l.ops = append(l.ops, batchOp{kind: opDeletePlate, key: plateID})
}

func (l *opList) SetHousehold(h *domain.HouseholdRecord) {
	cp := *h
	cp.Parking = append([]string(nil), h.Parking...)
	l.ops = append(l.ops, batchOp{kind: opSetHousehold, key: h.ID, household: &cp})
}

func (l *opList) MergeHousehold(h *domain.HouseholdRecord) {
	cp := *h
	cp.Parking = append([]string(nil), h.Parking...)
	l.ops = append(l.ops, batchOp{kind: opMergeHousehold, key: h.ID, household: &cp})
}

func (l *opList) UpsertParking(p *domain.ParkingLookup) {
	cp := *p
	l.ops = append(l.ops, batchOp{kind: opUpsertParking, key: p.Spot, parking: &cp})
}

func (l *opList) DeleteParking(spot string) {
	l.ops = append(l.ops, batchOp{kind: opDeleteParking, key: spot})
}

func (l *opList) Len() int { return len(l.ops) }
