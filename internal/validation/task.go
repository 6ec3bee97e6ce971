package validation

import (
	"strings"
	"time"
	"unicode/utf8"

	"taskboard/internal/domain"
)

// TitleMaxLength is counted in characters, not bytes.
const TitleMaxLength = 255

const (
	FieldTitle    = "title"
	FieldStatus   = "status"
	FieldPriority = "priority"
	FieldDueDate  = "due_date"
)

const (
	MsgTitleRequired    = "Task title is required."
	MsgTitleMax         = "Task title cannot exceed 255 characters."
	MsgStatusRequired   = "Task status is required."
	MsgStatusInvalid    = "Task status must be one of: pending, in-progress, completed."
	MsgPriorityRequired = "Task priority is required."
	MsgPriorityInvalid  = "Task priority must be one of: low, medium, high."
	MsgDueDateRequired  = "Due date is required."
	MsgDueDateInvalid   = "Due date must be a valid date."
	MsgDueDateAfter     = "Due date must be after today."
)

// CreateTask is the raw payload of a task creation request.
type CreateTask struct {
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
	DueDate  string `json:"due_date,omitempty"`
}

// Accepted due date forms. Timestamps contribute only their calendar date as written.
var dueDateLayouts = []string{
	domain.DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ValidateCreate checks every field of in and returns the normalized record, or an
// Errors value listing every violation. now decides what "today" is, in its own
// location.
func ValidateCreate(in CreateTask, now time.Time) (domain.NewTask, error) {
	errs := Errors{}
	out := domain.NewTask{}

	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		errs.Add(FieldTitle, MsgTitleRequired)
	case utf8.RuneCountInString(title) > TitleMaxLength:
		errs.Add(FieldTitle, MsgTitleMax)
	default:
		out.Title = title
	}

	switch status := domain.Status(in.Status); {
	case in.Status == "":
		errs.Add(FieldStatus, MsgStatusRequired)
	case !status.IsValid():
		errs.Add(FieldStatus, MsgStatusInvalid)
	default:
		out.Status = status
	}

	switch priority := domain.Priority(in.Priority); {
	case in.Priority == "":
		errs.Add(FieldPriority, MsgPriorityRequired)
	case !priority.IsValid():
		errs.Add(FieldPriority, MsgPriorityInvalid)
	default:
		out.Priority = priority
	}

	rawDue := strings.TrimSpace(in.DueDate)
	if rawDue == "" {
		errs.Add(FieldDueDate, MsgDueDateRequired)
	} else if due, ok := ParseDate(rawDue); !ok {
		errs.Add(FieldDueDate, MsgDueDateInvalid)
	} else if !IsAfterToday(due, now) {
		errs.Add(FieldDueDate, MsgDueDateAfter)
	} else {
		out.DueDate = due
	}

	if err := errs.Err(); err != nil {
		return domain.NewTask{}, err
	}
	return out, nil
}

// ParseDate parses raw in any accepted layout and returns it as YYYY-MM-DD.
func ParseDate(raw string) (string, bool) {
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(domain.DateLayout), true
		}
	}
	return "", false
}

// IsAfterToday reports whether the YYYY-MM-DD date is strictly later than the
// calendar date of now. Today itself does not qualify.
func IsAfterToday(date string, now time.Time) bool {
	return date > now.Format(domain.DateLayout)
}
