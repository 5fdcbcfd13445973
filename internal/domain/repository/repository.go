// Package repository 定义数据访问层接口
package repository

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pagination 分页参数，页码从 1 开始
type Pagination struct {
	Page     int
	PageSize int
}

// NewPagination 越界的页码与页大小被夹回合法范围
func NewPagination(page, pageSize int) Pagination {
	page = max(page, 1)
	switch {
	case pageSize < 1:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

func (p Pagination) Offset() int { return (p.Page - 1) * p.PageSize }

func (p Pagination) Limit() int { return p.PageSize }

// PagedResult 一页数据及总数
type PagedResult[T any] struct {
	Pagination
	Items []T
	Total int64
}

func NewPagedResult[T any](items []T, total int64, p Pagination) *PagedResult[T] {
	return &PagedResult[T]{Pagination: p, Items: items, Total: total}
}

// TotalPages 总页数
func (r *PagedResult[T]) TotalPages() int {
	if r.PageSize <= 0 {
		return 0
	}
	return int((r.Total + int64(r.PageSize) - 1) / int64(r.PageSize))
}
