package domain

// ParkingSeparator parking_number 中车位之间的分隔符（如 "A1 / A2"）
const ParkingSeparator = "/"

// HouseholdRecord 住户记录（以户号为 key）
// ParkingNumber 是车位的唯一事实来源，Parking 为其派生列表
type HouseholdRecord struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Features      string   `json:"features"`
	ParkingNumber string   `json:"parking_number"`
	Parking       []string `json:"parking"`
}

// HouseholdInfo 编辑表单中的住户字段
type HouseholdInfo struct {
	Name          string `json:"name"`
	Features      string `json:"features"`
	ParkingNumber string `json:"parking_number"`
}
