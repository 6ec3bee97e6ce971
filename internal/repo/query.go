package repo

import (
	"context"
	"fmt"
	"math"
	"strings"

	"taskboard/internal/domain"
)

// Direction is a SQL sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

func (d Direction) sql() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// Columns that may appear in a task query. Anything else is rejected so caller
// input can never reach the SQL text.
var taskQueryColumns = map[string]bool{
	"status":     true,
	"priority":   true,
	"due_date":   true,
	"created_at": true,
}

// TaskQuery builds a filtered, ordered, paginated read over the tasks table.
type TaskQuery struct {
	repo    Repo
	clauses []string
	args    []any
	orders  []string
	// orderArgs are bound after the WHERE args.
	orderArgs []any
	tieDir    Direction
	err       error
}

// TaskPage is one page of a task query plus the size of the whole filtered set.
type TaskPage struct {
	Rows    []domain.Task
	Total   int
	PerPage int
	Page    int
}

// Tasks starts a query over every task.
func (r Repo) Tasks() *TaskQuery {
	return &TaskQuery{repo: r, tieDir: Desc}
}

func (q *TaskQuery) checkColumn(col string) bool {
	if q.err != nil {
		return false
	}
	if !taskQueryColumns[col] {
		q.err = fmt.Errorf("unsupported task column %q", col)
		return false
	}
	return true
}

// WhereEqual restricts the query to rows whose column equals value.
func (q *TaskQuery) WhereEqual(col, value string) *TaskQuery {
	if !q.checkColumn(col) {
		return q
	}
	q.clauses = append(q.clauses, col+"=?")
	q.args = append(q.args, value)
	return q
}

// OrderBy appends an ordering on a column.
func (q *TaskQuery) OrderBy(col string, dir Direction) *TaskQuery {
	if !q.checkColumn(col) {
		return q
	}
	q.orders = append(q.orders, col+" "+dir.sql())
	q.tieDir = dir
	return q
}

// OrderByOrdinal orders by the position of the column value in ranked: the first
// value sorts as 1, the next as 2, and any value not listed sorts after all of them.
func (q *TaskQuery) OrderByOrdinal(col string, ranked []string, dir Direction) *TaskQuery {
	if !q.checkColumn(col) {
		return q
	}
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(col)
	for i, v := range ranked {
		b.WriteString(" WHEN ? THEN ")
		fmt.Fprintf(&b, "%d", i+1)
		q.orderArgs = append(q.orderArgs, v)
	}
	fmt.Fprintf(&b, " ELSE %d END %s", len(ranked)+1, dir.sql())
	q.orders = append(q.orders, b.String())
	q.tieDir = dir
	return q
}

func (q *TaskQuery) where() string {
	if len(q.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.clauses, " AND ")
}

// Paginate returns page (1-based) of perPage rows plus the total number of rows
// matching the filters. Pages past the end yield no rows. Rows that compare equal
// under the requested ordering keep insertion order so pages never overlap.
func (q *TaskQuery) Paginate(ctx context.Context, perPage, page int) (TaskPage, error) {
	if q.err != nil {
		return TaskPage{}, q.err
	}
	if perPage <= 0 {
		return TaskPage{}, fmt.Errorf("per page must be positive, got %d", perPage)
	}
	if page < 1 {
		page = 1
	}
	res := TaskPage{Rows: []domain.Task{}, PerPage: perPage, Page: page}

	tx, err := q.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+q.where(), q.args...).Scan(&res.Total); err != nil {
		return res, fmt.Errorf("count tasks: %w", err)
	}

	offset := int64(math.MaxInt64)
	if int64(page-1) <= math.MaxInt64/int64(perPage) {
		offset = int64(page-1) * int64(perPage)
	}
	if offset >= int64(res.Total) {
		return res, tx.Commit()
	}

	orders := append(append([]string{}, q.orders...), "rowid "+q.tieDir.sql())
	query := `SELECT ` + taskColumns + ` FROM tasks` + q.where() + ` ORDER BY ` + strings.Join(orders, ", ") + ` LIMIT ? OFFSET ?`
	args := append(append(append([]any{}, q.args...), q.orderArgs...), perPage, offset)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return res, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return res, err
		}
		res.Rows = append(res.Rows, t)
	}
	if err := rows.Err(); err != nil {
		return res, err
	}
	return res, tx.Commit()
}
