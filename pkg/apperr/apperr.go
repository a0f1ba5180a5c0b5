// Package apperr 定义了帧检索各流程共享的错误分类。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 表示错误所属的类别，决定调用方是跳过、中止还是继续。
type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindDecode        Kind = "decode"        // 单张图片/帧解码失败
	KindConfiguration Kind = "configuration" // 尺寸等配置缺失或不一致，整个操作中止
	KindStore         Kind = "store"         // 存储连接或写入失败
	KindNotFound      Kind = "not_found"
)

// Error 是带有分类与操作名的错误类型。
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s]", e.Kind)
	if e.Op != "" {
		s += " " + e.Op + ":"
	}
	if e.Msg != "" {
		s += " " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap 返回底层错误，以便 errors.Is/As 使用。
func (e *Error) Unwrap() error { return e.Err }

// New 创建一个新的分类错误。
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf 使用格式化消息创建分类错误。
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 用分类错误包装已有错误。err 为 nil 时返回 nil。
func Wrap(err error, kind Kind, op, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Wrapf 与 Wrap 相同，但使用格式化消息。
func Wrapf(err error, kind Kind, op, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 返回错误链上第一个分类错误的类别。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind 判断错误链上是否存在指定类别的错误。
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
