// Package pagination carries page windows and ORDER BY choices from the list
// endpoints (invitations, audit trails) down to the SQL repositories.
package pagination

import "strings"

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Pagination is a 1-based page window.
type Pagination struct {
	Page    int
	PerPage int
}

// New returns the window for page, clamping perPage into 1..MaxPerPage.
// Non-positive values fall back to page 1 and DefaultPerPage.
func New(page, perPage int) Pagination {
	switch {
	case perPage < 1:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	return Pagination{Page: max(page, 1), PerPage: perPage}
}

// Offset is the number of rows before the window.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Limit is the window size.
func (p Pagination) Limit() int {
	return p.PerPage
}

// Direction is an ORDER BY direction.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// SortOption is a caller-chosen ORDER BY restricted to a whitelist that maps
// request field names to columns. Columns never come from user input.
type SortOption struct {
	columns map[string]string
	terms   []string
}

// NewSortOption accepts only the keys of columns.
func NewSortOption(columns map[string]string) *SortOption {
	return &SortOption{columns: columns}
}

// Parse reads input such as "-expires_at,email". A leading "-" sorts
// descending and "+" is accepted for ascending. Fields outside the whitelist
// are ignored.
func (s *SortOption) Parse(input string) *SortOption {
	for _, field := range strings.Split(input, ",") {
		field = strings.TrimSpace(field)
		dir := Ascending
		if rest, ok := strings.CutPrefix(field, "-"); ok {
			field, dir = rest, Descending
		} else {
			field = strings.TrimPrefix(field, "+")
		}
		if column, ok := s.columns[field]; ok && field != "" {
			s.terms = append(s.terms, column+" "+string(dir))
		}
	}
	return s
}

// IsEmpty reports whether no accepted field was parsed.
func (s *SortOption) IsEmpty() bool {
	return len(s.terms) == 0
}

// SQL is the ORDER BY list without the keyword, e.g. "i.expires_at DESC,
// i.email ASC", or empty.
func (s *SortOption) SQL() string {
	return strings.Join(s.terms, ", ")
}

// SQLWithDefault is SQL, or fallback when nothing was parsed.
func (s *SortOption) SQLWithDefault(fallback string) string {
	if s.IsEmpty() {
		return fallback
	}
	return s.SQL()
}

// Result is one page of items plus the totals the list responses report.
type Result[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

// NewResult wraps data for window p. Data is never nil so it encodes as [].
func NewResult[T any](data []T, total int64, p Pagination) Result[T] {
	if data == nil {
		data = []T{}
	}
	var pages int
	if p.PerPage > 0 {
		pages = int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
	}
	return Result[T]{Data: data, Total: total, Page: p.Page, PerPage: p.PerPage, TotalPages: pages}
}
