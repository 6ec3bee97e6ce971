// Package seed generates random but valid tasks for demos and tests.
package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/validation"
)

const (
	MinTitleWords = 3
	MaxTitleWords = 8
	MaxDueDays    = 30
)

var words = []string{
	"review", "quarterly", "report", "update", "client", "onboarding", "draft",
	"budget", "schedule", "meeting", "notes", "prepare", "release", "plan",
	"migrate", "database", "invoice", "vendor", "audit", "access", "design",
	"mockups", "refine", "backlog", "publish", "newsletter", "hire", "contractor",
	"fix", "login", "flow", "archive", "old", "documents", "sync", "team",
}

type Factory struct {
	Rand *rand.Rand
	// Today is the reference date; due dates fall 1 to MaxDueDays days after it.
	Today time.Time
}

// NewFactory returns a factory seeded from seed, so equal seeds produce equal tasks.
func NewFactory(seed uint64, today time.Time) Factory {
	return Factory{Rand: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), Today: today}
}

// Make returns a creation payload that passes validation on f.Today.
func (f Factory) Make() validation.CreateTask {
	n := MinTitleWords + f.Rand.IntN(MaxTitleWords-MinTitleWords+1)
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words[f.Rand.IntN(len(words))]
	}
	title := strings.ToUpper(parts[0][:1]) + parts[0][1:]
	if n > 1 {
		title += " " + strings.Join(parts[1:], " ")
	}
	due := f.Today.AddDate(0, 0, 1+f.Rand.IntN(MaxDueDays))
	return validation.CreateTask{
		Title:    title + ".",
		Status:   string(domain.Statuses[f.Rand.IntN(len(domain.Statuses))]),
		Priority: string(domain.Priorities[f.Rand.IntN(len(domain.Priorities))]),
		DueDate:  due.Format(domain.DateLayout),
	}
}

// Run creates n tasks through the engine, so each one is validated and logged
// like any other creation.
func Run(ctx context.Context, e engine.Engine, f Factory, n int, actorID string) ([]domain.Task, error) {
	out := make([]domain.Task, 0, n)
	for i := 0; i < n; i++ {
		t, err := e.CreateTask(ctx, f.Make(), actorID)
		if err != nil {
			return out, fmt.Errorf("seed task %d: %w", i+1, err)
		}
		out = append(out, t)
	}
	return out, nil
}
