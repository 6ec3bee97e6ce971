package domain

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// IsValid reports whether s is one of the defined statuses. Matching is exact.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists every valid priority from most to least urgent.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Rank is the business ordering of priorities: high=1, medium=2, low=3, anything else=4.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

func (p Priority) String() string { return string(p) }

// DateLayout is the wire and storage format of due dates.
const DateLayout = "2006-01-02"

// TimestampLayout is the storage format of created_at/updated_at. Fixed width so
// that lexical order equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

type Task struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Status    Status   `json:"status" enum:"pending,in-progress,completed"`
	Priority  Priority `json:"priority" enum:"low,medium,high"`
	DueDate   string   `json:"due_date" format:"date"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

// NewTask is a validated, normalized creation record that has not been stored yet.
type NewTask struct {
	Title    string
	Status   Status
	Priority Priority
	DueDate  string
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
