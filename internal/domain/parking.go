package domain

import "time"

// SystemMaintainedNote 全量同步写入的车位索引备注
const SystemMaintainedNote = "系統自動維護"

// ParkingLookup 车位反向索引（key 为大写车位号）
type ParkingLookup struct {
	Spot      string    `json:"spot"`
	OwnerID   string    `json:"ownerId"`
	UpdatedAt time.Time `json:"updatedAt"`
	Note      string    `json:"note,omitempty"`
}
