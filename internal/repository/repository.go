// Package repository implements the document-store side of the platform on
// PostgreSQL. All writers use field-scoped statements (never full-row
// rewrites) so concurrent handlers touching disjoint fields of the same
// device do not clobber each other.
package repository

import "errors"

// ErrNotFound 表示记录不存在（调用方决定这是否是错误）
var ErrNotFound = errors.New("repository: not found")
