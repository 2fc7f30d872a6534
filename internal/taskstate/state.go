// Package taskstate is the authoritative in-memory task list of the active
// user. Categories and the search-filtered view are derived from it and are
// never mutated directly.
package taskstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taskmate/internal/domain"
	"taskmate/internal/signal"
)

const (
	DefaultPageSize       = 100
	DefaultSearchDebounce = 300 * time.Millisecond
)

// ErrNoActiveUser is returned by Retry before any load happened.
var ErrNoActiveUser = errors.New("no active user to reload tasks for")

type Client interface {
	ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error)
	CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error)
	UpdateTask(ctx context.Context, taskID, userID int64, req domain.UpdateTaskRequest) (*domain.Task, error)
	CompleteTask(ctx context.Context, taskID, userID int64) (*domain.Task, error)
	ReopenTask(ctx context.Context, taskID, userID int64) (*domain.Task, error)
	DeleteTask(ctx context.Context, taskID, userID int64) error
}

type Options struct {
	PageSize       int
	SearchDebounce time.Duration
	// Location renders due dates for search matching; nil means time.Local.
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// Signals are the read-only streams of a Cache. Every Source replays its
// latest value to new subscribers.
type Signals struct {
	Tasks      signal.Source[[]domain.Task]
	Categories signal.Source[domain.Categories]
	Filtered   signal.Source[domain.Categories]
	Loading    signal.Source[bool]
	Errors     signal.Source[error]
	Query      signal.Source[string]
	Loads      signal.Source[LoadResult]
}

// LoadResult reports a settled load. Stale loads are never reported. The
// zero value means nothing has loaded since the cache was created or cleared.
type LoadResult struct {
	UserID int64
	Count  int
	Err    error
}

// Cache holds the task list. Subscribers of its signals must not call back
// into the Cache synchronously.
type Cache struct {
	client Client
	opts   Options
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	generation uint64
	epoch      uint64
	lastUser   int64
	params     domain.TaskQuery
	searchSeq  uint64
	timer      *time.Timer
	stops      []func()
	closed     bool

	tasks      *signal.Subject[[]domain.Task]
	loading    *signal.Subject[bool]
	errs       *signal.Subject[error]
	rawQuery   *signal.Subject[string]
	query      *signal.Subject[string]
	loads      *signal.Subject[LoadResult]
	categories *signal.Subject[domain.Categories]
	filtered   *signal.Subject[domain.Categories]
}

func New(client Client, opts Options) *Cache {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = DefaultSearchDebounce
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		client:   client,
		opts:     opts,
		log:      opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    signal.New([]domain.Task{}),
		loading:  signal.New(false, signal.Distinct[bool]()),
		errs:     signal.New[error](nil),
		rawQuery: signal.New(""),
		query:    signal.New("", signal.Distinct[string]()),
		loads:    signal.New(LoadResult{}),
	}
	var stopCategories, stopFiltered func()
	c.categories, stopCategories = signal.Map(c.tasks, func(tasks []domain.Task) domain.Categories {
		return Categorize(tasks, c.opts.Now())
	})
	c.filtered, stopFiltered = signal.Combine(c.tasks, c.query, func(tasks []domain.Task, q string) domain.Categories {
		return Categorize(Filter(tasks, q, c.opts.Location), c.opts.Now())
	})
	c.stops = []func(){stopCategories, stopFiltered}
	return c
}

func (c *Cache) Signals() Signals {
	return Signals{
		Tasks:      c.tasks,
		Categories: c.categories,
		Filtered:   c.filtered,
		Loading:    c.loading,
		Errors:     c.errs,
		Query:      c.query,
		Loads:      c.loads,
	}
}

// Tasks returns a copy of the cached list.
func (c *Cache) Tasks() []domain.Task {
	cur := c.tasks.Value()
	out := make([]domain.Task, len(cur))
	copy(out, cur)
	return out
}

// Categories partitions the cache as of now.
func (c *Cache) Categories() domain.Categories {
	return Categorize(c.tasks.Value(), c.opts.Now())
}

// Filtered partitions the cache, narrowed by the effective search query, as
// of now.
func (c *Cache) Filtered() domain.Categories {
	return Categorize(Filter(c.tasks.Value(), c.query.Value(), c.opts.Location), c.opts.Now())
}

func (c *Cache) Loading() bool { return c.loading.Value() }

// Err returns the failure of the last operation, nil after a success.
func (c *Cache) Err() error { return c.errs.Value() }

// Initialize reloads the cache every time active publishes a non-zero user
// id. Reloads run on their own goroutine; the returned func stops listening.
func (c *Cache) Initialize(active signal.Source[int64]) func() {
	stop := active.Subscribe(func(userID int64) {
		if userID == 0 {
			return
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.wg.Add(1)
		c.mu.Unlock()
		go func() {
			defer c.wg.Done()
			if err := c.LoadTasksForUser(c.ctx, userID, c.Params()); err != nil {
				c.log.Warn("reload tasks failed", "user_id", userID, "err", err)
			}
		}()
	})
	c.mu.Lock()
	c.stops = append(c.stops, stop)
	c.mu.Unlock()
	return stop
}

// LoadTasksForUser replaces the cache with the server's tasks for userID.
// On failure the cache is left untouched and the error is published. A
// response that arrives after a newer load started, or after ClearCache, is
// discarded.
func (c *Cache) LoadTasksForUser(ctx context.Context, userID int64, params domain.TaskQuery) error {
	if userID <= 0 {
		err := fmt.Errorf("load tasks: invalid user id %d", userID)
		c.mu.Lock()
		c.errs.Publish(err)
		c.mu.Unlock()
		return err
	}
	q := params
	q.UserID = userID
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = c.opts.PageSize
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.lastUser = userID
	c.loading.Publish(true)
	c.errs.Publish(nil)
	c.mu.Unlock()

	tasks, err := c.client.ListTasks(ctx, q)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.log.Debug("discarding stale task load", "user_id", userID, "generation", gen)
		return nil
	}
	if err != nil {
		err = fmt.Errorf("load tasks for user %d: %w", userID, err)
		c.errs.Publish(err)
		c.loading.Publish(false)
		c.loads.Publish(LoadResult{UserID: userID, Err: err})
		return err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	c.tasks.Publish(tasks)
	c.loading.Publish(false)
	c.loads.Publish(LoadResult{UserID: userID, Count: len(tasks)})
	c.log.Debug("tasks loaded", "user_id", userID, "count", len(tasks))
	return nil
}

// Retry reloads the tasks of the user last loaded.
func (c *Cache) Retry(ctx context.Context) error {
	c.mu.Lock()
	userID := c.lastUser
	c.mu.Unlock()
	if userID == 0 {
		return ErrNoActiveUser
	}
	return c.LoadTasksForUser(ctx, userID, c.Params())
}

// SetParams sets the server-side filters (priority, completion, paging,
// ordering) used by reloads triggered through Initialize and by Retry. The
// user id of q is ignored.
func (c *Cache) SetParams(q domain.TaskQuery) {
	q.UserID = 0
	c.mu.Lock()
	c.params = q
	c.mu.Unlock()
}

// Params returns the filters set by SetParams.
func (c *Cache) Params() domain.TaskQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func taskID(t domain.Task) int64 { return t.ID }

func upsertReturned(tasks []domain.Task, task *domain.Task) []domain.Task {
	if task == nil {
		return tasks
	}
	return Upsert(tasks, *task, taskID)
}

// CreateTask creates a task and adds it to the cache.
func (c *Cache) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	return c.mutate(ctx, "create task", func(ctx context.Context) (*domain.Task, error) {
		return c.client.CreateTask(ctx, req)
	}, upsertReturned)
}

// EditTask updates a task and overwrites the cached copy with the server's.
func (c *Cache) EditTask(ctx context.Context, taskID, userID int64, req domain.UpdateTaskRequest) (*domain.Task, error) {
	return c.mutate(ctx, "edit task", func(ctx context.Context) (*domain.Task, error) {
		return c.client.UpdateTask(ctx, taskID, userID, req)
	}, upsertReturned)
}

// CompleteTask marks a task completed. When the server does not return the
// task, the cached copy gets a completion time of now.
func (c *Cache) CompleteTask(ctx context.Context, id, userID int64) error {
	_, err := c.mutate(ctx, "complete task", func(ctx context.Context) (*domain.Task, error) {
		return c.client.CompleteTask(ctx, id, userID)
	}, func(tasks []domain.Task, task *domain.Task) []domain.Task {
		if task != nil {
			return Upsert(tasks, *task, taskID)
		}
		out, _ := Patch(tasks, id, taskID, func(t domain.Task) domain.Task {
			t.CompletedAt = domain.NewTimestamp(c.opts.Now())
			return t
		})
		return out
	})
	return err
}

// ReopenTask clears the completion of a task. When the server does not
// return the task, the cached copy loses its completion time.
func (c *Cache) ReopenTask(ctx context.Context, id, userID int64) error {
	_, err := c.mutate(ctx, "reopen task", func(ctx context.Context) (*domain.Task, error) {
		return c.client.ReopenTask(ctx, id, userID)
	}, func(tasks []domain.Task, task *domain.Task) []domain.Task {
		if task != nil {
			return Upsert(tasks, *task, taskID)
		}
		out, _ := Patch(tasks, id, taskID, func(t domain.Task) domain.Task {
			t.CompletedAt = nil
			return t
		})
		return out
	})
	return err
}

// DeleteTask deletes a task and drops it from the cache.
func (c *Cache) DeleteTask(ctx context.Context, id, userID int64) error {
	_, err := c.mutate(ctx, "delete task", func(ctx context.Context) (*domain.Task, error) {
		return nil, c.client.DeleteTask(ctx, id, userID)
	}, func(tasks []domain.Task, _ *domain.Task) []domain.Task {
		return Remove(tasks, id, taskID)
	})
	return err
}

// mutate runs call and, on success, applies its result to the cache. Results
// arriving after ClearCache are not applied.
func (c *Cache) mutate(ctx context.Context, op string, call func(context.Context) (*domain.Task, error), apply func([]domain.Task, *domain.Task) []domain.Task) (*domain.Task, error) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	task, err := call(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		if epoch == c.epoch {
			c.errs.Publish(err)
		}
		return nil, err
	}
	if epoch != c.epoch {
		c.log.Debug("cache cleared during mutation; result dropped", "op", op)
		return task, nil
	}
	c.tasks.Update(func(tasks []domain.Task) []domain.Task { return apply(tasks, task) })
	c.errs.Publish(nil)
	return task, nil
}

// SetSearchQuery updates the search input. The filtered view follows after
// the debounce interval, and only if the query changed.
func (c *Cache) SetSearchQuery(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.rawQuery.Publish(q)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.searchSeq++
	seq := c.searchSeq
	c.timer = time.AfterFunc(c.opts.SearchDebounce, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if seq != c.searchSeq {
			return
		}
		c.timer = nil
		c.query.Publish(q)
	})
}

func (c *Cache) ClearSearch() { c.SetSearchQuery("") }

// SearchInput returns the latest, not yet debounced, query.
func (c *Cache) SearchInput() string { return c.rawQuery.Value() }

func (c *Cache) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.searchSeq++
}

// ClearCache empties the list and resets loading, error and search. Loads
// and mutations still in flight will not repopulate it.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.epoch++
	c.lastUser = 0
	c.params = domain.TaskQuery{}
	c.stopTimerLocked()
	c.tasks.Publish([]domain.Task{})
	c.loading.Publish(false)
	c.errs.Publish(nil)
	c.rawQuery.Publish("")
	c.query.Publish("")
	c.loads.Publish(LoadResult{})
}

// Close stops reloads and timers and waits for reloads in flight.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	stops := c.stops
	c.stops = nil
	c.mu.Unlock()

	c.cancel()
	for _, stop := range stops {
		stop()
	}
	c.wg.Wait()
}
