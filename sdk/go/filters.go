package taskboardsdk

import (
	"net/url"
	"strconv"
)

const (
	DirectionAsc   = "asc"
	DirectionDesc  = "desc"
	DefaultPerPage = 10
)

// Filters is the client-side list state: what a list view sends and keeps
// between pages.
type Filters struct {
	Status        string
	Priority      string
	SortBy        string
	SortDirection string
	PerPage       int
}

// ServerFilters is the configuration echoed by the server, after resolution.
type ServerFilters struct {
	Status        *string `json:"status"`
	Priority      *string `json:"priority"`
	SortBy        *string `json:"sort_by"`
	SortDirection string  `json:"sort_direction"`
	PerPage       int     `json:"per_page"`
}

func DefaultFilters() Filters {
	return Filters{SortDirection: DirectionAsc, PerPage: DefaultPerPage}
}

// FromServer rebuilds client state from the filters the server actually applied.
func FromServer(s ServerFilters) Filters {
	f := DefaultFilters()
	if s.Status != nil {
		f.Status = *s.Status
	}
	if s.Priority != nil {
		f.Priority = *s.Priority
	}
	if s.SortBy != nil {
		f.SortBy = *s.SortBy
	}
	if s.SortDirection != "" {
		f.SortDirection = s.SortDirection
	}
	if s.PerPage > 0 {
		f.PerPage = s.PerPage
	}
	return f
}

// SetSorting sorts by column. Choosing the current column again flips the
// direction; a new column starts ascending.
func (f *Filters) SetSorting(sortBy string) {
	if f.SortBy == sortBy {
		if f.SortDirection == DirectionAsc {
			f.SortDirection = DirectionDesc
		} else {
			f.SortDirection = DirectionAsc
		}
		return
	}
	f.SortBy = sortBy
	f.SortDirection = DirectionAsc
}

// SetSortingDirection sorts by column in an explicit direction.
func (f *Filters) SetSortingDirection(sortBy, direction string) {
	f.SortBy = sortBy
	f.SortDirection = direction
}

// Clear resets every filter and the sort to defaults.
func (f *Filters) Clear() {
	*f = DefaultFilters()
}

// HasActive reports whether a status or priority filter or an explicit sort is set.
func (f Filters) HasActive() bool {
	return f.Status != "" || f.Priority != "" || f.SortBy != ""
}

// Values encodes the non-empty fields plus page (when positive) as query parameters.
func (f Filters) Values(page int) url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("status", f.Status)
	set("priority", f.Priority)
	set("sort_by", f.SortBy)
	set("sort_direction", f.SortDirection)
	if f.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(f.PerPage))
	}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	return v
}
