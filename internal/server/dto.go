package server

import (
	"encoding/json"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/tasks"
)

// Request payloads

// CreateTaskRequest documents the create body. Decoding is done by hand so that
// every field error is reported with its own message instead of a schema error.
type CreateTaskRequest struct {
	Title    string `json:"title,omitempty" doc:"Required, at most 255 characters after trimming" example:"Prepare quarterly report"`
	Status   string `json:"status,omitempty" doc:"One of pending, in-progress, completed"`
	Priority string `json:"priority,omitempty" doc:"One of low, medium, high"`
	DueDate  string `json:"due_date,omitempty" doc:"Calendar date after today" example:"2030-01-31"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Responses

type CreateTaskResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Task    domain.Task `json:"task"`
}

type TaskListResponse struct {
	tasks.Page
	PrevPageURL *string       `json:"prev_page_url"`
	NextPageURL *string       `json:"next_page_url"`
	Filters     tasks.Filters `json:"filters"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source" enum:"jwt,api_key,legacy_header"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type StatusResponse struct {
	TaskCounts map[string]int `json:"task_counts"`
	Total      int            `json:"total"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

func taskListResponse(basePath string, list engine.TaskList) TaskListResponse {
	resp := TaskListResponse{Page: list.Page, Filters: list.Filters}
	if tasks.HasPrev(list.Page) {
		u := pageURL(basePath, list.Filters, list.CurrentPage-1)
		resp.PrevPageURL = &u
	}
	if tasks.HasNext(list.Page) {
		u := pageURL(basePath, list.Filters, list.CurrentPage+1)
		resp.NextPageURL = &u
	}
	return resp
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
