// Package tasks turns untrusted list-view parameters into a validated
// filter/sort/pagination configuration and applies it to the task store.
//
// Resolution never fails: every malformed or unknown value falls back to
// "absent" or to the field default, so a list view keeps working whatever
// query string it receives.
package tasks

import (
	"net/url"
	"strconv"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// SortField is a column the list can be ordered by.
type SortField string

const (
	SortDueDate   SortField = "due_date"
	SortCreatedAt SortField = "created_at"
	SortPriority  SortField = "priority"
)

func (f SortField) IsValid() bool {
	switch f {
	case SortDueDate, SortCreatedAt, SortPriority:
		return true
	default:
		return false
	}
}

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

const (
	DefaultPerPage   = 10
	MinPerPage       = 5
	MaxPerPage       = 50
	DefaultPage      = 1
	DefaultDirection = Asc
)

// Raw parameter names.
const (
	ParamStatus        = "status"
	ParamPriority      = "priority"
	ParamSortBy        = "sort_by"
	ParamSortDirection = "sort_direction"
	ParamPerPage       = "per_page"
	ParamPage          = "page"
)

// Filters is the resolved configuration of one list request. Nil pointers mean
// the filter or sort is absent.
type Filters struct {
	Status        *domain.Status   `json:"status"`
	Priority      *domain.Priority `json:"priority"`
	SortBy        *SortField       `json:"sort_by"`
	SortDirection Direction        `json:"sort_direction" enum:"asc,desc"`
	PerPage       int              `json:"per_page"`
}

// ListQuery is a resolved configuration plus the requested page.
type ListQuery struct {
	Filters
	Page int
}

// DefaultFilters returns the configuration used when no parameters are given.
func DefaultFilters() Filters {
	return Filters{SortDirection: DefaultDirection, PerPage: DefaultPerPage}
}

// Resolve builds a ListQuery from raw parameters. Each field is resolved on its
// own; an invalid value for one never affects another.
func Resolve(raw url.Values) ListQuery {
	return ListQuery{
		Filters: Filters{
			Status:        ResolveStatus(raw.Get(ParamStatus)),
			Priority:      ResolvePriority(raw.Get(ParamPriority)),
			SortBy:        ResolveSortBy(raw.Get(ParamSortBy)),
			SortDirection: ResolveDirection(raw.Get(ParamSortDirection)),
			PerPage:       ResolvePerPage(raw.Get(ParamPerPage)),
		},
		Page: ResolvePage(raw.Get(ParamPage)),
	}
}

func ResolveStatus(v string) *domain.Status {
	s := domain.Status(v)
	if !s.IsValid() {
		return nil
	}
	return &s
}

func ResolvePriority(v string) *domain.Priority {
	p := domain.Priority(v)
	if !p.IsValid() {
		return nil
	}
	return &p
}

func ResolveSortBy(v string) *SortField {
	f := SortField(v)
	if !f.IsValid() {
		return nil
	}
	return &f
}

func ResolveDirection(v string) Direction {
	switch Direction(v) {
	case Asc, Desc:
		return Direction(v)
	default:
		return DefaultDirection
	}
}

// ResolvePerPage accepts base-10 integers in [MinPerPage, MaxPerPage].
func ResolvePerPage(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < MinPerPage || n > MaxPerPage {
		return DefaultPerPage
	}
	return n
}

// ResolvePage accepts any positive integer. It is not clamped to the last page.
func ResolvePage(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return DefaultPage
	}
	return n
}

// Apply adds the filters and ordering to q.
func (f Filters) Apply(q *repo.TaskQuery) *repo.TaskQuery {
	if f.Status != nil {
		q = q.WhereEqual("status", string(*f.Status))
	}
	if f.Priority != nil {
		q = q.WhereEqual("priority", string(*f.Priority))
	}
	dir := repo.Asc
	if f.SortDirection == Desc {
		dir = repo.Desc
	}
	switch {
	case f.SortBy == nil:
		return q.OrderBy("created_at", repo.Desc)
	case *f.SortBy == SortPriority:
		return q.OrderByOrdinal("priority", PriorityRanking(), dir)
	default:
		return q.OrderBy(string(*f.SortBy), dir)
	}
}

// PriorityRanking lists the priorities in Rank order, the sequence the
// ordinal sort assigns 1, 2, 3 to. Unlisted values sort after all of them.
func PriorityRanking() []string {
	ranked := make([]string, len(domain.Priorities))
	for _, p := range domain.Priorities {
		ranked[p.Rank()-1] = string(p)
	}
	return ranked
}

// Values encodes the resolved filters as query parameters for page. Absent
// filters are omitted, so the result only ever carries validated values.
func (f Filters) Values(page int) url.Values {
	v := url.Values{}
	if f.Status != nil {
		v.Set(ParamStatus, string(*f.Status))
	}
	if f.Priority != nil {
		v.Set(ParamPriority, string(*f.Priority))
	}
	if f.SortBy != nil {
		v.Set(ParamSortBy, string(*f.SortBy))
	}
	v.Set(ParamSortDirection, string(f.SortDirection))
	v.Set(ParamPerPage, strconv.Itoa(f.PerPage))
	if page > 0 {
		v.Set(ParamPage, strconv.Itoa(page))
	}
	return v
}
