package service

import "fmt"

const (
	msgEmptyQuery        = "請輸入查詢內容！"
	msgEmptyPlate        = "車牌不能為空！"
	msgEmptyHousehold    = "戶號不能為空！"
	msgUnregistered      = "尚未登記戶號"
	msgNoPending         = "目前沒有待查資料。"
	msgSaved             = "資料儲存成功！"
	msgDeleted           = "刪除成功"
	msgSearchFailedVoice = "系統查詢出錯"
)

func msgParkingHit(owner string) string {
	return fmt.Sprintf("車位搜尋成功，正在導向戶號：%s", owner)
}
func msgParkingMiss(spot string) string   { return fmt.Sprintf("查無車位「%s」", spot) }
func msgHouseholdMiss(code string) string { return fmt.Sprintf("查無戶號 %s", code) }
func msgPlateMiss(id string) string       { return fmt.Sprintf("查無車牌 %s", id) }
func msgNoData(input string) string       { return fmt.Sprintf("查無 %s 的資料", input) }
func msgFound(n int) string               { return fmt.Sprintf("找到 %d 筆資料", n) }
func msgPendingFound(n int) string {
	return fmt.Sprintf("查詢完成，共有 %d 筆待查資料。", n)
}
func msgPlateCreated(id string) string     { return fmt.Sprintf("車牌「%s」新增成功！", id) }
func msgHouseholdCreated(id string) string { return fmt.Sprintf("戶號「%s」建立成功！", id) }
func msgSynced(n int) string               { return fmt.Sprintf("同步完成！共處理 %d 個車位。", n) }

// detailSummary 选中车牌后的播报内容
func detailSummary(plateID, householdCode, name string) string {
	if plateID == "" {
		plateID = "未知車牌"
	}
	if householdCode == "" {
		householdCode = msgUnregistered
	}
	resident := ""
	if name != "" {
		resident = "，住戶 " + name
	}
	return fmt.Sprintf("查詢成功。車牌 %s。屬於 %s %s", plateID, householdCode, resident)
}
