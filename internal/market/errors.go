package market

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示存储中不存在请求的记录（区别于空窗口）。
var ErrNotFound = errors.New("record not found")

// AdapterError 包装交易所适配层失败（网络/鉴权/限频），由调用方决定是否重试。
type AdapterError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// StoreError 包装存储层失败（I/O、约束冲突），对触发调用致命且必须向上传播。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError 表示在任何 I/O 之前即被拒绝的入参（未知交易所、非法区间等）。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ProducerError 表示信号生成失败；在回测/分析场景按可恢复处理（记录并跳过）。
type ProducerError struct {
	Step int64
	Err  error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("producer at step %d: %v", e.Step, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// IsAdapterError 判断 err 链中是否包含适配层错误。
func IsAdapterError(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae)
}

// IsValidationError 判断 err 链中是否包含入参校验错误。
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
