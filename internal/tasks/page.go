package tasks

import (
	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// Page is one page of tasks with its pagination metadata.
type Page struct {
	Data        []domain.Task `json:"data"`
	Total       int           `json:"total"`
	PerPage     int           `json:"per_page"`
	CurrentPage int           `json:"current_page"`
	LastPage    int           `json:"last_page"`
	// From and To are the 1-based positions of the first and last row on this
	// page, nil when the page is empty.
	From *int `json:"from"`
	To   *int `json:"to"`
}

// LastPage is the number of the final non-empty page, never less than 1.
func LastPage(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}

// NewPage converts a store page into the list response shape.
func NewPage(p repo.TaskPage) Page {
	out := Page{
		Data:        p.Rows,
		Total:       p.Total,
		PerPage:     p.PerPage,
		CurrentPage: p.Page,
		LastPage:    LastPage(p.Total, p.PerPage),
	}
	if out.Data == nil {
		out.Data = []domain.Task{}
	}
	if n := len(out.Data); n > 0 {
		from := (p.Page-1)*p.PerPage + 1
		to := from + n - 1
		out.From, out.To = &from, &to
	}
	return out
}

// HasPrev reports whether a page before p exists. Page carries no methods so it
// can be embedded in API response bodies.
func HasPrev(p Page) bool { return p.CurrentPage > 1 }

// HasNext reports whether a later page holds rows.
func HasNext(p Page) bool { return p.CurrentPage < p.LastPage }
