package domain

import "time"

// PendingHouseholdCode 待查车牌的户号占位符
const PendingHouseholdCode = "-"

// PlateSeparator 车牌号分段符（如 "1234-AB"）
const PlateSeparator = "-"

// PlateRecord 车牌记录（以规范化车牌号为 key）
type PlateRecord struct {
	ID             string    `json:"id"`
	HouseholdCode  string    `json:"householdCode"`
	Notes          string    `json:"notes"`
	SearchKeywords []string  `json:"searchKeywords"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	CreatedBy      string    `json:"createdBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	LastUpdatedBy  string    `json:"lastUpdatedBy,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// IsPending 户号尚未登记
func (p *PlateRecord) IsPending() bool {
	return p.HouseholdCode == PendingHouseholdCode
}

// PlateUpdate 编辑时写回车牌文档的字段（update 语义：文档必须存在）
type PlateUpdate struct {
	HouseholdCode string
	Notes         string
	LastUpdatedBy string
	UpdatedAt     time.Time
}
