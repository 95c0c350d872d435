package domain

import "fmt"

// SearchMode 查询模式
type SearchMode string

const (
	ModePlate        SearchMode = "plate"
	ModeHousehold    SearchMode = "household"
	ModeParking      SearchMode = "parking"
	ModeResidentList SearchMode = "residentList"
	ModePending      SearchMode = "pending"
)

// ParseSearchMode 空字符串视为 plate
func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(s) {
	case "":
		return ModePlate, nil
	case ModePlate, ModeHousehold, ModeParking, ModeResidentList, ModePending:
		return SearchMode(s), nil
	}
	return "", fmt.Errorf("unknown search mode %q", s)
}

// NumericInput household / parking 需要英数键盘，其余模式默认数字键盘
func (m SearchMode) NumericInput() bool {
	return m != ModeHousehold && m != ModeParking
}
