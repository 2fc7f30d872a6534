package taskstate

import (
	"strings"
	"time"

	"taskmate/internal/domain"
)

// DueDateLayout is how due dates appear in the searchable text (dd/mm/yyyy).
const DueDateLayout = "02/01/2006"

// Categorize partitions tasks as of now. A completed task is completed
// regardless of its due date; an open task is delayed only when its due date
// is strictly before now.
func Categorize(tasks []domain.Task, now time.Time) domain.Categories {
	out := domain.Categories{
		All:       make([]domain.Task, len(tasks)),
		Delayed:   []domain.Task{},
		Pending:   []domain.Task{},
		Completed: []domain.Task{},
	}
	copy(out.All, tasks)
	for _, t := range tasks {
		switch {
		case t.Completed():
			out.Completed = append(out.Completed, t)
		case t.Due != nil && !t.Due.IsZero() && t.Due.Before(now):
			out.Delayed = append(out.Delayed, t)
		default:
			out.Pending = append(out.Pending, t)
		}
	}
	return out
}

// Filter keeps the tasks whose searchable text contains every whitespace
// separated term of query, case-insensitively. A blank query keeps all.
func Filter(tasks []domain.Task, query string, loc *time.Location) []domain.Task {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return tasks
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		text := SearchText(t, loc)
		if matchesAll(text, terms) {
			out = append(out, t)
		}
	}
	return out
}

// SearchText is the lower-cased text a query is matched against: name,
// description, tag names and the due date in loc.
func SearchText(t domain.Task, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	due := ""
	if t.Due != nil && !t.Due.IsZero() {
		due = t.Due.In(loc).Format(DueDateLayout)
	}
	parts := []string{
		strings.ToLower(t.Name),
		strings.ToLower(t.Description),
		strings.ToLower(strings.Join(t.TagNames(), " ")),
		due,
	}
	return strings.Join(parts, " ")
}

func matchesAll(text string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}
