package utils

import (
	"regexp"
	"strings"
	"unicode"
)

// 路径中的资源 ID:uuid 或由字母数字、下划线、连字符组成
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxIDLength = 64

// ValidateID 校验路径中的资源 ID
func ValidateID(id string) error {
	switch {
	case id == "":
		return ErrEmptyID
	case len(id) > maxIDLength:
		return ErrIDTooLong
	case !idPattern.MatchString(id):
		return ErrInvalidIDFormat
	}
	return nil
}

// CleanText 整理审核意见与取消原因:去除首尾空白和控制字符,保留换行与制表符
// 内容原样保存,HTML 转义由展示端负责
func CleanText(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s))
}

var (
	ErrEmptyID         = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrInvalidIDFormat = &ValidationError{Code: "INVALID_ID_FORMAT", Message: "id contains invalid characters"}
	ErrIDTooLong       = &ValidationError{Code: "ID_TOO_LONG", Message: "id exceeds maximum length"}
)

// ValidationError 参数校验错误
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
