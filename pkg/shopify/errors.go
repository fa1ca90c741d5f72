package shopify

import (
	"errors"
	"fmt"
	"strings"
)

// GraphQLError 顶层 errors
type GraphQLError struct {
	Operation string
	StoreID   int64
	Messages  []string
}

func (e *GraphQLError) Error() string {
	return fmt.Sprintf("shopify %s (store %d): %s", e.Operation, e.StoreID, strings.Join(e.Messages, "; "))
}

// HTTPError 非 200 响应
type HTTPError struct {
	Operation  string
	StoreID    int64
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("shopify %s (store %d): http %d: %s", e.Operation, e.StoreID, e.StatusCode, e.Body)
}

// UserError mutation 返回的字段级错误
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

// UserErrors 一次 mutation 的全部 userErrors
type UserErrors struct {
	Operation string
	Errors    []UserError
}

func (e *UserErrors) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ue := range e.Errors {
		if len(ue.Field) > 0 {
			msgs = append(msgs, fmt.Sprintf("%s: %s", strings.Join(ue.Field, "."), ue.Message))
		} else {
			msgs = append(msgs, ue.Message)
		}
	}
	return fmt.Sprintf("shopify %s user errors: %s", e.Operation, strings.Join(msgs, "; "))
}

// checkUserErrors 非空时返回 *UserErrors
func checkUserErrors(op string, errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	return &UserErrors{Operation: op, Errors: errs}
}

func userErrorMatch(err error, fn func(UserError) bool) bool {
	var ue *UserErrors
	if !errors.As(err, &ue) {
		return false
	}
	for _, e := range ue.Errors {
		if fn(e) {
			return true
		}
	}
	return false
}

// IsDuplicateHandle handle 已被占用
func IsDuplicateHandle(err error) bool {
	return userErrorMatch(err, func(e UserError) bool {
		msg := strings.ToLower(e.Message)
		fieldHandle := len(e.Field) > 0 && strings.EqualFold(e.Field[len(e.Field)-1], "handle")
		mentionsHandle := fieldHandle || strings.Contains(msg, "handle")
		return mentionsHandle && (strings.Contains(msg, "already") || strings.Contains(msg, "taken") || strings.Contains(msg, "in use"))
	})
}

// IsAlreadyExists 变体/选项组合已存在，可走读取-映射补偿
func IsAlreadyExists(err error) bool {
	return userErrorMatch(err, func(e UserError) bool {
		if strings.Contains(strings.ToUpper(e.Code), "ALREADY_EXISTS") {
			return true
		}
		return strings.Contains(strings.ToLower(e.Message), "already exists")
	})
}

// IsAlreadyActive 仓库已激活
func IsAlreadyActive(err error) bool {
	return userErrorMatch(err, func(e UserError) bool {
		msg := strings.ToLower(e.Message)
		return strings.Contains(msg, "already active") || strings.Contains(msg, "already stocked")
	})
}
