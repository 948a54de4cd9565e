package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var columnPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateSortField 校验排序字段,只允许白名单中的列名
// allowed 为空时只做格式校验
func ValidateSortField(field string, allowed ...string) error {
	if field == "" {
		return fmt.Errorf("sort field cannot be empty")
	}
	if !columnPattern.MatchString(field) {
		return fmt.Errorf("invalid sort field %q", field)
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if a == field {
			return nil
		}
	}
	return fmt.Errorf("sort field %q is not one of %s", field, strings.Join(allowed, ", "))
}

// ValidateSortOrder 校验排序方向
func ValidateSortOrder(order string) error {
	switch strings.ToUpper(strings.TrimSpace(order)) {
	case "ASC", "DESC":
		return nil
	}
	return fmt.Errorf("sort order must be ASC or DESC")
}
