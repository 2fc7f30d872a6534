package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmate/internal/app"
	"taskmate/internal/domain"
	"taskmate/internal/taskstate"
	"taskmate/internal/validate"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage the tasks of the viewed user",
		Long: `Task commands act on the logged-in user, or on the overseen user when an
agent has run 'tm oversee set'.`,
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskEditCmd())
	task.AddCommand(taskStatusCmd("done", "Mark a task completed", func(ctx context.Context, a *app.App, id, userID int64) error {
		return a.Tasks.CompleteTask(ctx, id, userID)
	}))
	task.AddCommand(taskStatusCmd("reopen", "Mark a task open again", func(ctx context.Context, a *app.App, id, userID int64) error {
		return a.Tasks.ReopenTask(ctx, id, userID)
	}))
	task.AddCommand(taskStatusCmd("rm", "Delete a task", func(ctx context.Context, a *app.App, id, userID int64) error {
		return a.Tasks.DeleteTask(ctx, id, userID)
	}))
	return task
}

// parsePriority accepts an id or a name in English or Portuguese.
func parsePriority(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return 0, nil
	case "1", "low", "baixa":
		return domain.PriorityLow, nil
	case "2", "medium", "media", "média":
		return domain.PriorityMedium, nil
	case "3", "high", "alta":
		return domain.PriorityHigh, nil
	}
	return 0, fmt.Errorf("unknown priority %q (low, medium, high)", s)
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func splitTags(s string) []string {
	var out []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// activeUser returns the id task commands act on.
func activeUser(a *app.App) (int64, error) {
	id := a.ActiveUserID()
	if id == 0 {
		return 0, fmt.Errorf("no active user; run tm login")
	}
	return id, nil
}

// withTasks is withSession with the task cache following the active user
// and its first load settled, filtered server side by q.
func withTasks(ctx context.Context, q domain.TaskQuery, fn func(context.Context, *app.App) error) error {
	return withSession(ctx, func(ctx context.Context, a *app.App) error {
		a.Tasks.SetParams(q)
		if err := a.Sync(ctx); err != nil {
			return err
		}
		return fn(ctx, a)
	})
}

func findTask(tasks []domain.Task, id int64) (domain.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func taskListCmd() *cobra.Command {
	var category, search, priority, orderBy string
	var desc, connected bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks grouped as delayed, pending and completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			prio, err := parsePriority(priority)
			if err != nil {
				return err
			}
			switch category {
			case "", "all", "delayed", "pending", "completed":
			default:
				return fmt.Errorf("unknown category %q", category)
			}
			q := domain.TaskQuery{PriorityID: prio, OrderBy: orderBy}
			if desc {
				q.Direction = "DESC"
			}
			if connected {
				q.IncludeConnected = &connected
			}
			return withTasks(cmd.Context(), q, func(ctx context.Context, a *app.App) error {
				loc, err := a.Config.Location()
				if err != nil {
					return err
				}
				cats := taskstate.Categorize(taskstate.Filter(a.Tasks.Tasks(), search, loc), time.Now())
				return printCategories(cats, category, loc)
			})
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "only delayed, pending or completed")
	cmd.Flags().StringVarP(&search, "search", "s", "", "keep tasks matching every word")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high")
	cmd.Flags().StringVar(&orderBy, "order", "", "nome, dataprazo, prioridade or datacriacao")
	cmd.Flags().BoolVar(&desc, "desc", false, "descending order")
	cmd.Flags().BoolVar(&connected, "connected", false, "include tasks of connected users")
	return cmd
}

func printCategories(cats domain.Categories, only string, loc *time.Location) error {
	if viper.GetBool("json") {
		switch only {
		case "delayed":
			return printJSON(cats.Delayed)
		case "pending":
			return printJSON(cats.Pending)
		case "completed":
			return printJSON(cats.Completed)
		}
		return printJSON(cats)
	}
	groups := []struct {
		name  string
		tasks []domain.Task
	}{
		{"delayed", cats.Delayed},
		{"pending", cats.Pending},
		{"completed", cats.Completed},
	}
	tw := newTable(table.Row{"ID", "Task", "Priority", "Due", "Tags", "Status"})
	for _, g := range groups {
		if only != "" && only != "all" && only != g.name {
			continue
		}
		for _, t := range g.tasks {
			tw.AppendRow(table.Row{t.ID, t.Name, priorityName(t.Priority), formatDue(t.Due, loc), strings.Join(t.TagNames(), ", "), g.name})
		}
	}
	tw.AppendFooter(table.Row{"", categoryCounts(cats)})
	tw.Render()
	return nil
}

func categoryCounts(c domain.Categories) string {
	return fmt.Sprintf("%d delayed, %d pending, %d completed", len(c.Delayed), len(c.Pending), len(c.Completed))
}

func priorityName(p *domain.Priority) string {
	if p == nil {
		return "-"
	}
	return p.Name
}

func formatDue(ts *domain.Timestamp, loc *time.Location) string {
	if ts == nil || ts.IsZero() {
		return "-"
	}
	return ts.In(loc).Format("02/01/2006 15:04")
}

func taskAddCmd() *cobra.Command {
	var desc, priority, due, tags string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			prio, err := parsePriority(priority)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loc, err := a.Config.Location()
				if err != nil {
					return err
				}
				dueAt, err := validate.Task(name, due, prio, loc)
				if err != nil {
					return err
				}
				userID, err := activeUser(a)
				if err != nil {
					return err
				}
				created, err := a.Tasks.CreateTask(ctx, domain.CreateTaskRequest{
					Name:        strings.TrimSpace(name),
					UserID:      userID,
					Description: desc,
					PriorityID:  prio,
					Due:         dueAt,
					TagNames:    splitTags(tags),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				if created != nil {
					fmt.Printf("created task %d\n", created.ID)
				} else {
					fmt.Println("task created")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high")
	cmd.Flags().StringVar(&due, "due", "", "due date: dd/mm/yyyy [hh:mm], yyyy-mm-dd or RFC3339")
	cmd.Flags().StringVarP(&tags, "tags", "t", "", "comma separated tag names")
	return cmd
}

func taskEditCmd() *cobra.Command {
	var name, desc, priority, due, tags string
	var clearDue bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a task; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withTasks(cmd.Context(), domain.TaskQuery{}, func(ctx context.Context, a *app.App) error {
				userID, err := activeUser(a)
				if err != nil {
					return err
				}
				current, found := findTask(a.Tasks.Tasks(), id)
				if !found {
					return fmt.Errorf("task %d not found", id)
				}
				req := domain.UpdateTaskRequest{
					Name:        current.Name,
					Description: current.Description,
					Due:         current.Due,
					TagNames:    current.TagNames(),
				}
				if current.Priority != nil {
					req.PriorityID = current.Priority.ID
				}
				flags := cmd.Flags()
				if flags.Changed("name") {
					req.Name = strings.TrimSpace(name)
				}
				if flags.Changed("desc") {
					req.Description = desc
				}
				if flags.Changed("priority") {
					if req.PriorityID, err = parsePriority(priority); err != nil {
						return err
					}
				}
				if flags.Changed("tags") {
					req.TagNames = splitTags(tags)
				}
				loc, err := a.Config.Location()
				if err != nil {
					return err
				}
				dueAt, err := validate.Task(req.Name, due, req.PriorityID, loc)
				if err != nil {
					return err
				}
				switch {
				case clearDue:
					req.Due = nil
				case flags.Changed("due"):
					req.Due = dueAt
				}
				updated, err := a.Tasks.EditTask(ctx, id, userID, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(updated)
				}
				fmt.Printf("updated task %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high")
	cmd.Flags().StringVar(&due, "due", "", "due date: dd/mm/yyyy [hh:mm], yyyy-mm-dd or RFC3339")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	cmd.Flags().StringVarP(&tags, "tags", "t", "", "comma separated tag names (replaces the current tags)")
	return cmd
}

func taskStatusCmd(use, short string, fn func(ctx context.Context, a *app.App, id, userID int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				userID, err := activeUser(a)
				if err != nil {
					return err
				}
				if err := fn(ctx, a, id, userID); err != nil {
					return err
				}
				fmt.Printf("task %d: %s ok\n", id, use)
				return nil
			})
		},
	}
}
