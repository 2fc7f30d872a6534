package taskstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskmate/internal/domain"
	"taskmate/internal/signal"
	"taskmate/internal/telemetry"
)

type fakeClient struct {
	mu         sync.Mutex
	byUser     map[int64][]domain.Task
	listErr    error
	mutateErr  error
	omitBody   bool
	gates      map[int64]chan struct{}
	listed     chan int64
	lastQuery  domain.TaskQuery
	nextTaskID int64
	now        time.Time
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		byUser:     map[int64][]domain.Task{},
		gates:      map[int64]chan struct{}{},
		listed:     make(chan int64, 16),
		nextTaskID: 100,
	}
}

func (f *fakeClient) ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	f.mu.Lock()
	f.lastQuery = q
	gate := f.gates[q.UserID]
	err := f.listErr
	tasks := append([]domain.Task(nil), f.byUser[q.UserID]...)
	f.mu.Unlock()
	f.listed <- q.UserID
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (f *fakeClient) CreateTask(_ context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	f.nextTaskID++
	return &domain.Task{ID: f.nextTaskID, Name: req.Name, Due: req.Due, Owner: domain.UserRef{ID: req.UserID}}, nil
}

func (f *fakeClient) UpdateTask(_ context.Context, taskID, userID int64, req domain.UpdateTaskRequest) (*domain.Task, error) {
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	return &domain.Task{ID: taskID, Name: req.Name, Due: req.Due, Owner: domain.UserRef{ID: userID}}, nil
}

func (f *fakeClient) CompleteTask(_ context.Context, taskID, _ int64) (*domain.Task, error) {
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	if f.omitBody {
		return nil, nil
	}
	return &domain.Task{ID: taskID, Name: "from server", CompletedAt: domain.NewTimestamp(f.now)}, nil
}

func (f *fakeClient) ReopenTask(_ context.Context, taskID, _ int64) (*domain.Task, error) {
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	if f.omitBody {
		return nil, nil
	}
	return &domain.Task{ID: taskID, Name: "from server"}, nil
}

func (f *fakeClient) DeleteTask(context.Context, int64, int64) error {
	return f.mutateErr
}

var testNow = time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)

func newCache(t *testing.T, fc *fakeClient) *Cache {
	t.Helper()
	fc.now = testNow
	c := New(fc, Options{
		SearchDebounce: 20 * time.Millisecond,
		Location:       time.UTC,
		Now:            func() time.Time { return testNow },
		Logger:         telemetry.Discard(),
	})
	t.Cleanup(c.Close)
	return c
}

func TestLoadTasksForUser_ReplacesCache(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[7] = []domain.Task{{ID: 1}, {ID: 2}}
	c := newCache(t, fc)
	if err := c.LoadTasksForUser(context.Background(), 7, domain.TaskQuery{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Tasks()) != 2 {
		t.Fatalf("tasks = %d", len(c.Tasks()))
	}
	if fc.lastQuery.Page != 1 || fc.lastQuery.PageSize != DefaultPageSize || fc.lastQuery.UserID != 7 {
		t.Fatalf("query defaults not applied: %+v", fc.lastQuery)
	}
	if c.Loading() || c.Err() != nil {
		t.Fatalf("loading=%v err=%v", c.Loading(), c.Err())
	}
}

func TestLoadTasksForUser_FailureKeepsCache(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[7] = []domain.Task{{ID: 1}}
	c := newCache(t, fc)
	ctx := context.Background()
	if err := c.LoadTasksForUser(ctx, 7, domain.TaskQuery{}); err != nil {
		t.Fatalf("load: %v", err)
	}

	var loadingSeen []bool
	stop := c.Signals().Loading.Subscribe(func(v bool) { loadingSeen = append(loadingSeen, v) })
	defer stop()

	fc.listErr = errors.New("connection refused")
	if err := c.LoadTasksForUser(ctx, 7, domain.TaskQuery{}); err == nil {
		t.Fatalf("expected error")
	}
	if got := c.Tasks(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("cache changed on failure: %v", ids(got))
	}
	if c.Err() == nil || !errors.Is(c.Err(), fc.listErr) {
		t.Fatalf("error channel = %v", c.Err())
	}
	if c.Loading() {
		t.Fatalf("loading stuck at true")
	}
	if len(loadingSeen) != 3 || loadingSeen[1] != true || loadingSeen[2] != false {
		t.Fatalf("loading transitions = %v", loadingSeen)
	}

	fc.listErr = nil
	if err := c.Retry(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.Err() != nil {
		t.Fatalf("retry should clear the error")
	}
}

func TestLoadTasksForUser_StaleResponseDiscarded(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[1] = []domain.Task{{ID: 10}}
	fc.byUser[2] = []domain.Task{{ID: 20}, {ID: 21}}
	slow := make(chan struct{})
	fc.gates[1] = slow
	c := newCache(t, fc)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.LoadTasksForUser(ctx, 1, domain.TaskQuery{}) }()
	<-fc.listed
	if err := c.LoadTasksForUser(ctx, 2, domain.TaskQuery{}); err != nil {
		t.Fatalf("load user 2: %v", err)
	}
	<-fc.listed
	close(slow)
	if err := <-done; err != nil {
		t.Fatalf("stale load: %v", err)
	}
	if got := c.Tasks(); len(got) != 2 || got[0].ID != 20 {
		t.Fatalf("stale response overwrote cache: %v", ids(got))
	}
}

func TestClearCache_DropsInflightLoad(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[1] = []domain.Task{{ID: 10}}
	gate := make(chan struct{})
	fc.gates[1] = gate
	c := newCache(t, fc)

	done := make(chan error, 1)
	go func() { done <- c.LoadTasksForUser(context.Background(), 1, domain.TaskQuery{}) }()
	<-fc.listed
	c.ClearCache()
	close(gate)
	<-done
	if len(c.Tasks()) != 0 || c.Loading() {
		t.Fatalf("cleared cache repopulated: tasks=%d loading=%v", len(c.Tasks()), c.Loading())
	}
	if err := c.Retry(context.Background()); !errors.Is(err, ErrNoActiveUser) {
		t.Fatalf("retry after clear = %v", err)
	}
}

func TestScenario_CreateCompleteDelete(t *testing.T) {
	for _, omit := range []bool{false, true} {
		fc := newFakeClient()
		fc.byUser[7] = []domain.Task{{ID: 1, Name: "other"}}
		fc.omitBody = omit
		c := newCache(t, fc)
		ctx := context.Background()
		if err := c.LoadTasksForUser(ctx, 7, domain.TaskQuery{}); err != nil {
			t.Fatalf("load: %v", err)
		}

		yesterday := domain.NewTimestamp(testNow.Add(-24 * time.Hour))
		created, err := c.CreateTask(ctx, domain.CreateTaskRequest{Name: "late", UserID: 7, Due: yesterday})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		cats := c.Categories()
		if len(cats.Delayed) != 1 || cats.Delayed[0].ID != created.ID {
			t.Fatalf("new overdue task not delayed: %+v", cats)
		}
		pendingBefore := ids(cats.Pending)

		if err := c.CompleteTask(ctx, created.ID, 7); err != nil {
			t.Fatalf("complete: %v", err)
		}
		cats = c.Categories()
		if len(cats.Completed) != 1 || cats.Completed[0].ID != created.ID || len(cats.Delayed) != 0 {
			t.Fatalf("omit=%v: completed task not moved: %+v", omit, cats)
		}
		if got := ids(cats.Pending); len(got) != len(pendingBefore) || got[0] != pendingBefore[0] {
			t.Fatalf("other tasks moved: %v -> %v", pendingBefore, got)
		}

		if err := c.ReopenTask(ctx, created.ID, 7); err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if len(c.Categories().Completed) != 0 {
			t.Fatalf("omit=%v: reopened task still completed", omit)
		}

		before := len(c.Tasks())
		if err := c.DeleteTask(ctx, created.ID, 7); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if len(c.Tasks()) != before-1 {
			t.Fatalf("delete changed length by %d", before-len(c.Tasks()))
		}
		cats = c.Categories()
		for _, part := range [][]domain.Task{cats.Delayed, cats.Pending, cats.Completed} {
			for _, task := range part {
				if task.ID == created.ID {
					t.Fatalf("deleted task still categorised")
				}
			}
		}
	}
}

func TestEditTask_WholeTaskOverwrite(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[7] = []domain.Task{{ID: 1, Name: "old", Description: "keep?", Tags: []domain.Tag{{Name: "x"}}}}
	c := newCache(t, fc)
	ctx := context.Background()
	_ = c.LoadTasksForUser(ctx, 7, domain.TaskQuery{})
	if _, err := c.EditTask(ctx, 1, 7, domain.UpdateTaskRequest{Name: "new"}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	got := c.Tasks()
	if len(got) != 1 || got[0].Name != "new" || got[0].Description != "" || len(got[0].Tags) != 0 {
		t.Fatalf("edit merged fields instead of replacing: %+v", got[0])
	}
}

func TestMutationFailure_PublishedAndReturned(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[7] = []domain.Task{{ID: 1}}
	c := newCache(t, fc)
	ctx := context.Background()
	_ = c.LoadTasksForUser(ctx, 7, domain.TaskQuery{})

	fc.mutateErr = errors.New("server down")
	if err := c.DeleteTask(ctx, 1, 7); !errors.Is(err, fc.mutateErr) {
		t.Fatalf("delete err = %v", err)
	}
	if !errors.Is(c.Err(), fc.mutateErr) {
		t.Fatalf("error not published: %v", c.Err())
	}
	if len(c.Tasks()) != 1 {
		t.Fatalf("failed delete changed the cache")
	}
	fc.mutateErr = nil
	if err := c.DeleteTask(ctx, 1, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if c.Err() != nil {
		t.Fatalf("success should clear the error channel")
	}
}

func TestSearch_DebouncedAndDeduplicated(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[7] = []domain.Task{{ID: 1, Name: "urgent"}, {ID: 2, Name: "later"}}
	c := newCache(t, fc)
	_ = c.LoadTasksForUser(context.Background(), 7, domain.TaskQuery{})

	queries, stop := signal.Watch[string](c.Signals().Query, 8)
	defer stop()
	<-queries // replay of ""

	c.SetSearchQuery("u")
	c.SetSearchQuery("ur")
	c.SetSearchQuery("urgent")
	if c.SearchInput() != "urgent" {
		t.Fatalf("raw input = %q", c.SearchInput())
	}
	if got := len(c.Filtered().All); got != 2 {
		t.Fatalf("filter applied before debounce: %d", got)
	}
	select {
	case q := <-queries:
		if q != "urgent" {
			t.Fatalf("effective query = %q", q)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced query never applied")
	}
	if got := c.Filtered().All; len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("filtered = %v", ids(got))
	}
	if got := c.Signals().Filtered.Value().All; len(got) != 1 {
		t.Fatalf("filtered signal = %v", ids(got))
	}

	c.SetSearchQuery("urgent")
	select {
	case q := <-queries:
		t.Fatalf("unchanged query re-emitted %q", q)
	case <-time.After(80 * time.Millisecond):
	}

	c.ClearSearch()
	select {
	case q := <-queries:
		if q != "" {
			t.Fatalf("cleared query = %q", q)
		}
	case <-time.After(time.Second):
		t.Fatal("clear search never applied")
	}
}

func TestInitialize_ReloadsOnActiveUserChange(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[7] = []domain.Task{{ID: 1}}
	fc.byUser[42] = []domain.Task{{ID: 2}, {ID: 3}}
	c := newCache(t, fc)
	active := signal.New(int64(0), signal.Distinct[int64]())
	stop := c.Initialize(active)
	defer stop()

	expectLoad := func(want int64) {
		t.Helper()
		select {
		case got := <-fc.listed:
			if got != want {
				t.Fatalf("reload for %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no reload for %d", want)
		}
	}
	active.Publish(7)
	expectLoad(7)
	active.Publish(42)
	expectLoad(42)
	active.Publish(7)
	expectLoad(7)
	active.Publish(0)
	select {
	case got := <-fc.listed:
		t.Fatalf("unexpected reload for %d", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoadTasksForUser_InvalidUserPublishesError(t *testing.T) {
	c := newCache(t, newFakeClient())
	err := c.LoadTasksForUser(context.Background(), 0, domain.TaskQuery{})
	if err == nil {
		t.Fatalf("expected error for user 0")
	}
	if c.Err() == nil || c.Err().Error() != err.Error() {
		t.Fatalf("error channel = %v, want %v", c.Err(), err)
	}
}

func TestInitialize_UsesParams(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[7] = []domain.Task{{ID: 1}}
	c := newCache(t, fc)
	c.SetParams(domain.TaskQuery{UserID: 99, PriorityID: domain.PriorityHigh, OrderBy: "nome"})

	loads, stopLoads := signal.Watch[LoadResult](c.Signals().Loads, 4)
	defer stopLoads()
	stop := c.Initialize(signal.New(int64(7)))
	defer stop()

	deadline := time.After(time.Second)
	for {
		select {
		case res := <-loads:
			if res.UserID != 7 {
				continue
			}
			if res.Err != nil || res.Count != 1 {
				t.Fatalf("load result = %+v", res)
			}
			fc.mu.Lock()
			q := fc.lastQuery
			fc.mu.Unlock()
			if q.UserID != 7 || q.PriorityID != domain.PriorityHigh || q.OrderBy != "nome" {
				t.Fatalf("query = %+v", q)
			}
			return
		case <-deadline:
			t.Fatalf("no settled load for user 7")
		}
	}
}

func TestLoads_ReportsSettledLoadsAndResetsOnClear(t *testing.T) {
	fc := newFakeClient()
	fc.byUser[7] = []domain.Task{{ID: 1}, {ID: 2}}
	c := newCache(t, fc)
	ctx := context.Background()
	c.SetParams(domain.TaskQuery{PriorityID: domain.PriorityLow})

	if err := c.LoadTasksForUser(ctx, 7, domain.TaskQuery{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if res := c.Signals().Loads.Value(); res.UserID != 7 || res.Count != 2 || res.Err != nil {
		t.Fatalf("after success = %+v", res)
	}
	fc.listErr = errors.New("boom")
	_ = c.LoadTasksForUser(ctx, 7, domain.TaskQuery{})
	if res := c.Signals().Loads.Value(); res.UserID != 7 || !errors.Is(res.Err, fc.listErr) {
		t.Fatalf("after failure = %+v", res)
	}

	c.ClearCache()
	if res := c.Signals().Loads.Value(); res != (LoadResult{}) {
		t.Fatalf("after clear = %+v", res)
	}
	if c.Params() != (domain.TaskQuery{}) {
		t.Fatalf("params survived clear: %+v", c.Params())
	}
}
