package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"shopify_sync_v1/pkg/shopify"
)

// ErrorKind 错误分类，决定 HTTP 状态码与是否重试
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindRemote     ErrorKind = "remote"
	KindTransient  ErrorKind = "transient"
	KindConflict   ErrorKind = "conflict"
	KindInternal   ErrorKind = "internal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVariantNotFound = errors.New("variant not found")
	ErrStoreNotFound   = errors.New("store not found")
	ErrStoreIDMissing  = errors.New("Store ID not found for this product")
)

// SyncError 带分类的业务错误
type SyncError struct {
	Kind    ErrorKind
	Op      string
	StoreID int64
	Err     error
}

func (e *SyncError) Error() string {
	if e.StoreID > 0 {
		return fmt.Sprintf("%s (store %d): %v", e.Op, e.StoreID, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

// Validationf 参数校验错误
func Validationf(format string, args ...interface{}) error {
	return &SyncError{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// remoteError 包装远端调用错误，带上操作名和店铺
func remoteError(op string, storeID int64, err error) error {
	if err == nil {
		return nil
	}
	kind := KindRemote
	if shopify.IsAlreadyExists(err) {
		kind = KindConflict
	}
	return &SyncError{Kind: kind, Op: op, StoreID: storeID, Err: err}
}

// notFound gorm.ErrRecordNotFound 转为业务哨兵错误
func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(KindNotFound, "", sentinel)
	}
	return err
}

// KindOf 取错误分类，未分类的统一视为 internal
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrVariantNotFound), errors.Is(err, ErrStoreNotFound):
		return KindNotFound
	case errors.Is(err, ErrStoreIDMissing):
		return KindValidation
	}
	return KindInternal
}
