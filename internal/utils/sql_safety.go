package utils

import (
	"errors"
	"regexp"
	"strings"
)

var (
	sortFieldPattern = regexp.MustCompile(`^[a-zA-Z0-9_.]+$`)
	// 按 . 拆分后逐段比较,created_at 这类包含关键字片段的字段不受影响
	sqlKeywords = map[string]bool{
		"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
		"ALTER": true, "CREATE": true, "EXEC": true, "EXECUTE": true, "UNION": true,
		"DECLARE": true, "CAST": true, "CONVERT": true, "FROM": true, "WHERE": true,
		"ORDER": true, "BY": true, "GROUP": true, "HAVING": true, "JOIN": true,
		"ON": true, "AS": true, "AND": true, "OR": true, "NOT": true, "IN": true,
	}
)

// ValidateSortField 校验排序字段,只允许字母、数字、下划线和点（表名.字段名）
func ValidateSortField(field string) error {
	if field == "" {
		return errors.New("sort field cannot be empty")
	}
	if !sortFieldPattern.MatchString(field) {
		return errors.New("invalid sort field format")
	}
	for _, part := range strings.Split(strings.ToUpper(field), ".") {
		if sqlKeywords[part] {
			return errors.New("sort field contains SQL keyword")
		}
	}
	return nil
}

// ValidateSortOrder 排序方向只能是 ASC 或 DESC,大小写不敏感
func ValidateSortOrder(order string) error {
	switch strings.ToUpper(strings.TrimSpace(order)) {
	case "ASC", "DESC":
		return nil
	}
	return errors.New("sort order must be ASC or DESC")
}
