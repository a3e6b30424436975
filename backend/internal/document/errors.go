// Package document 是批注引擎依赖的宿主文档：节点树、mark、多段选区、事务和插件钩子。
package document

import "errors"

var (
	// ErrInvalidPosition 位置不在任何段落的内容区内
	ErrInvalidPosition = errors.New("document: position out of bounds")

	// ErrInvalidRange from > to
	ErrInvalidRange = errors.New("document: invalid range")

	// ErrDocMismatch 事务不是基于当前文档创建的
	ErrDocMismatch = errors.New("document: transaction does not match document")

	// ErrInvalidJSON 快照结构不合法
	ErrInvalidJSON = errors.New("document: invalid snapshot")
)
