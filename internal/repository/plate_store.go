package repository

import (
	"context"
	"errors"

	"plate-lookup/internal/domain"
)

// ErrNotFound 文档不存在
var ErrNotFound = errors.New("document not found")

// PlateStore 车牌 / 住户 / 车位索引三个集合的文档存储
// 所有操作都以社区（collection 后缀）为分区
type PlateStore interface {
	// 车牌
	GetPlate(ctx context.Context, c domain.Community, plateID string) (*domain.PlateRecord, error)
	ListPlatesByHousehold(ctx context.Context, c domain.Community, householdCode string) ([]*domain.PlateRecord, error)
	// ListPlatesByKeywords searchKeywords 与 terms 有交集（array-contains-any）
	ListPlatesByKeywords(ctx context.Context, c domain.Community, terms []string) ([]*domain.PlateRecord, error)
	ListPlates(ctx context.Context, c domain.Community) ([]*domain.PlateRecord, error)
	CountPlatesByHousehold(ctx context.Context, c domain.Community, householdCode string) (int, error)

	// 住户
	GetHousehold(ctx context.Context, c domain.Community, householdID string) (*domain.HouseholdRecord, error)
	ListHouseholds(ctx context.Context, c domain.Community) ([]*domain.HouseholdRecord, error)

	// 车位索引
	GetParking(ctx context.Context, c domain.Community, spot string) (*domain.ParkingLookup, error)
	ListParking(ctx context.Context, c domain.Community) ([]*domain.ParkingLookup, error)
	ListParkingByOwner(ctx context.Context, c domain.Community, ownerID string) ([]*domain.ParkingLookup, error)

	// NewBatch 原子批量写：Commit 要么全部生效要么全部不生效
	NewBatch(c domain.Community) Batch
}

// Batch 原子批量写
type Batch interface {
	// SetPlate 覆盖写
	SetPlate(p *domain.PlateRecord)
	// UpdatePlate 部分更新，车牌不存在时 Commit 返回 ErrNotFound
	UpdatePlate(plateID string, u domain.PlateUpdate)
	DeletePlate(plateID string)

	// SetHousehold 覆盖写
	SetHousehold(h *domain.HouseholdRecord)
	// MergeHousehold 合并写（不存在则创建）
	MergeHousehold(h *domain.HouseholdRecord)

	// UpsertParking 合并写：Note 为空时保留原备注
	UpsertParking(l *domain.ParkingLookup)
	DeleteParking(spot string)

	Len() int
	Commit(ctx context.Context) error
}
