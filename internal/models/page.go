package models

import (
	"math"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type SortField string

const (
	SortByUpdatedAt         SortField = "updatedAt"
	SortByCreatedAt         SortField = "createdAt"
	SortByEstimatedDelivery SortField = "estimatedDelivery"
	SortByStatus            SortField = "status"
	SortByID                SortField = "id"
)

var sortFields = map[SortField]struct{}{
	SortByUpdatedAt:         {},
	SortByCreatedAt:         {},
	SortByEstimatedDelivery: {},
	SortByStatus:            {},
	SortByID:                {},
}

type Sort struct {
	Field SortField
	Desc  bool
}

// DefaultSort is updatedAt descending.
func DefaultSort() Sort {
	return Sort{Field: SortByUpdatedAt, Desc: true}
}

// ParseSort reads the "field,direction" form, e.g. "updatedAt,desc". Direction defaults to asc
// when a field is given, and the whole sort defaults to DefaultSort when empty.
func ParseSort(raw string) (Sort, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultSort(), nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) > 2 {
		return Sort{}, NewValidationError("sort", "expected field[,asc|desc]")
	}
	f := SortField(strings.TrimSpace(parts[0]))
	if _, ok := sortFields[f]; !ok {
		return Sort{}, NewValidationError("sort", "unsupported sort field "+string(f))
	}
	s := Sort{Field: f}
	if len(parts) == 2 {
		switch strings.ToLower(strings.TrimSpace(parts[1])) {
		case "asc":
		case "desc":
			s.Desc = true
		default:
			return Sort{}, NewValidationError("sort", "direction must be asc or desc")
		}
	}
	return s, nil
}

type PageRequest struct {
	Page int
	Size int
	Sort Sort
}

// Validate checks bounds and fills the default sort. Size has no default here:
// callers substitute DefaultPageSize when the client omits it.
func (p *PageRequest) Validate() error {
	if p.Size < 1 || p.Size > MaxPageSize {
		return NewValidationError("size", "must be between 1 and 100")
	}
	if p.Page < 0 {
		return NewValidationError("page", "must not be negative")
	}
	if p.Page > math.MaxInt32/p.Size {
		return NewValidationError("page", "out of range")
	}
	if p.Sort.Field == "" {
		p.Sort = DefaultSort()
	}
	return nil
}

func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Size          int   `json:"size"`
	Number        int   `json:"number"`
}

func NewPage[T any](content []T, req PageRequest, total int64) Page[T] {
	if content == nil {
		content = []T{}
	}
	pages := 0
	if req.Size > 0 {
		pages = int((total + int64(req.Size) - 1) / int64(req.Size))
	}
	return Page[T]{
		Content:       content,
		TotalElements: total,
		TotalPages:    pages,
		Size:          req.Size,
		Number:        req.Page,
	}
}

// MapPage converts page content keeping the counters.
func MapPage[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, 0, len(p.Content))
	for _, v := range p.Content {
		out = append(out, fn(v))
	}
	return Page[U]{
		Content:       out,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
		Size:          p.Size,
		Number:        p.Number,
	}
}
