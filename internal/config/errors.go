package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// listField 拼接数组字段路径，输出 Classify.Season[1] 形式。
func listField(field string, idx int) string {
	return fmt.Sprintf("%s[%d]", field, idx)
}
