package service

import "errors"

// 对外的通用错误；存储层原始错误只写日志，不向上传递
var (
	ErrQueryFailed           = errors.New("系統查詢出錯")
	ErrLoadFailed            = errors.New("載入失敗")
	ErrSaveFailed            = errors.New("儲存失敗")
	ErrCreateFailed          = errors.New("新增失敗")
	ErrHouseholdCreateFailed = errors.New("建立住戶失敗")
	ErrDeleteFailed          = errors.New("刪除失敗")
	ErrSyncFailed            = errors.New("同步失敗")

	ErrPlateNotFound = errors.New("查無此車牌")
)

// ValidationError 输入校验失败，在任何 I/O 之前返回
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation 判断是否为输入校验错误
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
