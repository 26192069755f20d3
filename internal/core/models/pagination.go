package models

import "math"

const (
	DefaultPage    = 1
	DefaultPerPage = 10
	MaxPerPage     = 100
)

type SortOrder string

const (
	SortDescending SortOrder = "desc"
	SortAscending  SortOrder = "asc"
)

func (s SortOrder) Normalize() SortOrder {
	if s == SortAscending {
		return SortAscending
	}
	return SortDescending
}

type PageRequest struct {
	Page int `json:"page"`
	Per  int `json:"per"`
}

func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Per < 1 {
		p.Per = DefaultPerPage
	}
	if p.Per > MaxPerPage {
		p.Per = MaxPerPage
	}
	if p.Page > math.MaxInt/p.Per {
		p.Page = math.MaxInt / p.Per
	}
	return p
}

func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Per
}

type PageMetadata struct {
	Page  int   `json:"page"`
	Per   int   `json:"per"`
	Total int64 `json:"total"`
}

func (m PageMetadata) PageCount() int64 {
	if m.Per == 0 {
		return 0
	}
	pages := m.Total / int64(m.Per)
	if m.Total%int64(m.Per) > 0 {
		pages++
	}
	return pages
}

type Page[T any] struct {
	Items    []T          `json:"items"`
	Metadata PageMetadata `json:"metadata"`
}
