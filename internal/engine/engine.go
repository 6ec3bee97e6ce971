package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
	"taskboard/internal/repo"
	"taskboard/internal/tasks"
	"taskboard/internal/validation"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
	NewID  func() string
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	e := Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{},
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
	if cfg != nil {
		e.Auth.JWTSecret = cfg.Auth.JWTSecret
		e.Auth.TokenTTL = cfg.Auth.TokenTTL
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// location is the zone that decides the calendar date of "today".
func (e Engine) location() *time.Location {
	if e.Config == nil {
		return time.UTC
	}
	loc, err := e.Config.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

// Today returns the current time in the configured task timezone.
func (e Engine) Today() time.Time {
	return e.now().In(e.location())
}

// TaskList is a page of tasks with the configuration that produced it.
type TaskList struct {
	tasks.Page
	Filters tasks.Filters
}

// ListTasks resolves raw list parameters and returns the requested page. Malformed
// parameters never fail; only store errors are returned.
func (e Engine) ListTasks(ctx context.Context, raw url.Values) (TaskList, error) {
	return e.ListTasksQuery(ctx, tasks.Resolve(raw))
}

// ListTasksQuery runs an already resolved query.
func (e Engine) ListTasksQuery(ctx context.Context, q tasks.ListQuery) (TaskList, error) {
	if q.PerPage <= 0 {
		q.PerPage = tasks.DefaultPerPage
	}
	if q.SortDirection == "" {
		q.SortDirection = tasks.DefaultDirection
	}
	res, err := q.Filters.Apply(e.Repo.Tasks()).Paginate(ctx, q.PerPage, q.Page)
	if err != nil {
		return TaskList{}, fmt.Errorf("list tasks: %w", err)
	}
	return TaskList{Page: tasks.NewPage(res), Filters: q.Filters}, nil
}

// CreateTask validates in against today's date and stores it with a task.created
// event in one transaction. Validation failures return validation.Errors and write
// nothing.
func (e Engine) CreateTask(ctx context.Context, in validation.CreateTask, actorID string) (domain.Task, error) {
	nt, err := validation.ValidateCreate(in, e.Today())
	if err != nil {
		return domain.Task{}, err
	}
	ts := e.now().UTC().Format(domain.TimestampLayout)
	t := domain.Task{
		ID:        e.newID(),
		Title:     nt.Title,
		Status:    nt.Status,
		Priority:  nt.Priority,
		DueDate:   nt.DueDate,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.eventsWriter().Append(ctx, tx, events.TaskCreated, "task", t.ID, actorID, events.EventPayload{
		"title":    t.Title,
		"status":   t.Status,
		"priority": t.Priority,
		"due_date": t.DueDate,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) eventsWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// TaskStats returns the number of tasks per status.
func (e Engine) TaskStats(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountTasksByStatus(ctx)
}

// CreateAPIKey issues a new key for actorID. The secret is returned once; only
// its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name, createdBy string) (domain.APIKey, string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.APIKey{}, "", errors.New("actor_id required")
	}
	secret := "tbk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        e.newID(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.now().UTC().Format(domain.TimestampLayout),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.eventsWriter().Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, createdBy, events.EventPayload{
		"actor_id": key.ActorID,
		"name":     key.Name,
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKeyTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.eventsWriter().Append(ctx, tx, events.APIKeyDeleted, "api_key", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
