package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskmate/internal/app"
	"taskmate/internal/domain"
	"taskmate/internal/modal"
	sig "taskmate/internal/signal"
	"taskmate/internal/validate"
	"taskmate/internal/viewmode"
)

const shellHelp = `commands:
  list [delayed|pending|completed]   show the viewed user's tasks
  search <words>                     filter the list (empty clears)
  add <name>                         create a task, asking for the details
  done|reopen|rm <id>                change a task
  oversee <user-id> | oversee clear  switch the viewed user (agents)
  view [mode]                        show or set the preferred view
  retry                              reload after an error
  quit`

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session that keeps the task list in sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runShell(ctx, a)
			})
		},
	}
}

type shell struct {
	a   *app.App
	loc *time.Location
}

func runShell(ctx context.Context, a *app.App) error {
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}
	sh := &shell{a: a, loc: loc}

	errs, stopErrs := sig.Watch[error](a.Tasks.Signals().Errors, 4)
	defer stopErrs()
	viewed, stopViewed := sig.Watch(a.Facade.Viewed(), 4)
	defer stopViewed()
	lists, stopLists := sig.Watch(a.Tasks.Signals().Filtered, 4)
	defer stopLists()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				if err != nil {
					fmt.Println("!", err)
				}
			case c := <-lists:
				fmt.Printf("\r[%s]\n%s", categoryCounts(c), sh.promptLabel())
			case v := <-viewed:
				if v.IsOverseen {
					fmt.Printf("viewing %s (%d)\n", a.Oversee.Name(), v.OverseeingUserID)
				}
			}
		}
	}()
	a.Watch()

	fmt.Println(`type "help" for commands`)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Print(sh.promptLabel())
		line, err := stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		line = strings.TrimSpace(line)
		if line != "" {
			if quit := sh.exec(ctx, line); quit {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
	}
}

func (sh *shell) promptLabel() string {
	label := "tm"
	if sh.a.Oversee.IsOverseeing() {
		label += "@" + sh.a.Oversee.Name()
	}
	if sh.a.Tasks.Loading() {
		label += "*"
	}
	return label + "> "
}

func (sh *shell) exec(ctx context.Context, line string) (quit bool) {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	var err error
	switch verb {
	case "quit", "exit":
		return true
	case "help", "?":
		fmt.Println(shellHelp)
	case "list", "ls":
		err = printCategories(sh.a.Tasks.Filtered(), rest, sh.loc)
	case "search":
		sh.a.Tasks.SetSearchQuery(rest)
	case "add":
		err = sh.add(ctx, rest)
	case "done", "reopen", "rm":
		err = sh.change(ctx, verb, rest)
	case "oversee":
		err = sh.oversee(ctx, rest)
	case "view":
		err = sh.view(rest)
	case "retry":
		err = sh.a.Tasks.Retry(ctx)
	default:
		err = fmt.Errorf("unknown command %q", verb)
	}
	if err != nil {
		fmt.Println("!", err)
	}
	return false
}

func (sh *shell) add(ctx context.Context, name string) error {
	userID, err := activeUser(sh.a)
	if err != nil {
		return err
	}
	sh.a.Modals.Open(modal.NewTask, userID)
	defer sh.a.Modals.CloseAll()
	if name, err = prompt("name", name); err != nil {
		return err
	}
	due, err := prompt("due (dd/mm/yyyy [hh:mm], blank for none)", "")
	if err != nil {
		return err
	}
	priority, err := prompt("priority (low, medium, high)", "")
	if err != nil {
		return err
	}
	prio, err := parsePriority(priority)
	if err != nil {
		return err
	}
	tags, err := prompt("tags (comma separated)", "")
	if err != nil {
		return err
	}
	dueAt, err := validate.Task(name, due, prio, sh.loc)
	if err != nil {
		return err
	}
	created, err := sh.a.Tasks.CreateTask(ctx, domain.CreateTaskRequest{
		Name:       strings.TrimSpace(name),
		UserID:     userID,
		PriorityID: prio,
		Due:        dueAt,
		TagNames:   splitTags(tags),
	})
	if err != nil {
		return err
	}
	if created != nil {
		fmt.Printf("created task %d\n", created.ID)
	}
	return nil
}

func (sh *shell) change(ctx context.Context, verb, arg string) error {
	id, err := parseTaskID(arg)
	if err != nil {
		return err
	}
	userID, err := activeUser(sh.a)
	if err != nil {
		return err
	}
	switch verb {
	case "done":
		return sh.a.Tasks.CompleteTask(ctx, id, userID)
	case "reopen":
		return sh.a.Tasks.ReopenTask(ctx, id, userID)
	default:
		return sh.a.Tasks.DeleteTask(ctx, id, userID)
	}
}

func (sh *shell) oversee(ctx context.Context, arg string) error {
	if arg == "clear" || arg == "" {
		sh.a.Facade.ClearOverseeing()
		return nil
	}
	if err := requireAgent(sh.a); err != nil {
		return err
	}
	if err := sh.a.Oversee.SetRaw(arg, ""); err != nil {
		return err
	}
	if _, err := sh.a.Facade.ResolveOverseenName(ctx); err != nil {
		sh.a.Facade.ClearOverseeing()
		return err
	}
	return nil
}

func (sh *shell) view(arg string) error {
	if arg == "" {
		fmt.Println(sh.a.Views.Current())
		return nil
	}
	mode, err := viewmode.Parse(arg)
	if err != nil {
		return err
	}
	return sh.a.Views.Set(mode)
}
