package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban/api/internal/board"
	"kanban/api/internal/mailer"
	"kanban/api/internal/store"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// fakeStore is the in-memory store with optional failure hooks.
type fakeStore struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return f.MemoryStore.Ping(ctx)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMailer) IsConfigured() bool { return true }

func (m *fakeMailer) SendInvite(to string, data mailer.InviteData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+":"+data.TeamName)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	ctx := context.Background()
	fs := &fakeStore{MemoryStore: store.NewMemoryStore()}
	for _, u := range []store.User{
		{ID: "u1", Username: "ada", Email: "ada@example.com"},
		{ID: "u2", Username: "grace", Email: "grace@example.com"},
		{ID: "u3", Username: "linus", Email: "linus@example.com"},
		{ID: "u4", Username: "barbara", Email: "barbara@example.com"},
	} {
		require.NoError(t, fs.InsertUser(ctx, u))
	}
	require.NoError(t, fs.InsertTeam(ctx, store.Team{ID: "t1", Name: "core", CreatorID: "u1", MemberIDs: []string{"u2", "u4"}}))
	svc := NewService(fs, Options{Location: time.UTC, Now: func() time.Time { return testNow }})
	return svc, fs
}

func createTask(t *testing.T, svc *Service, name string, due time.Time) store.Task {
	t.Helper()
	task, err := svc.CreateTask(context.Background(), "t1", CreateTaskInput{Name: name, DueDate: due})
	require.NoError(t, err)
	return task
}

func kinds(items []store.Notification) []store.NotificationKind {
	out := make([]store.NotificationKind, 0, len(items))
	for _, n := range items {
		out = append(out, n.Kind)
	}
	return out
}

func TestCreateTaskDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	task := createTask(t, svc, "ship", testNow.AddDate(0, 1, 0))

	view, err := svc.Board(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, view.Lanes, 3)
	assert.Equal(t, view.Lanes[0].Lane.ID, task.LaneID)
	assert.Equal(t, store.PriorityMedium, task.Priority)
	require.Len(t, view.Lanes[0].Tasks, 1)
	assert.Empty(t, view.Lanes[1].Tasks)
}

func TestCreateTaskValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "t1", CreateTaskInput{Name: "ab", DueDate: testNow.Add(time.Hour)})
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, http.StatusUnprocessableEntity, domainErr.Status)
	assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)

	_, err = svc.CreateTask(ctx, "t1", CreateTaskInput{Name: "ship", DueDate: testNow.Add(time.Hour), Priority: "urgent"})
	require.True(t, errors.As(err, &domainErr))

	_, err = svc.CreateTask(ctx, "t1", CreateTaskInput{Name: "ship", DueDate: testNow.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidDueDate)

	createTask(t, svc, "ship", testNow.AddDate(0, 1, 0))
	_, err = svc.CreateTask(ctx, "t1", CreateTaskInput{Name: "ship", DueDate: testNow.AddDate(0, 1, 0)})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestAssignTaskNotifiesNewAssigneesOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task := createTask(t, svc, "ship", testNow.AddDate(0, 1, 0))

	result, err := svc.AssignTask(ctx, task.ID, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, result.Added)

	result, err = svc.AssignTask(ctx, task.ID, []string{"u1", "u4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u4"}, result.Added)

	feed, err := svc.Notifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "ship has been assigned to you.", feed[0].Message)

	removed, err := svc.UnassignTask(ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = svc.AssignTask(ctx, task.ID, []string{"u1"})
	require.NoError(t, err)

	feed, err = svc.Notifications(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []store.NotificationKind{store.KindAssignment, store.KindAssignment}, kinds(feed))
}

func TestAssignTaskRejectsNonMembers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task := createTask(t, svc, "ship", testNow.AddDate(0, 0, 2))

	_, err := svc.AssignTask(ctx, task.ID, []string{"u2", "u3"})
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, http.StatusUnprocessableEntity, domainErr.Status)
	assert.Equal(t, map[string]any{"userIds": []string{"u3"}}, domainErr.Details)

	updated, err := svc.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.AssigneeIDs, "a rejected call assigns nobody")
	feed, err := svc.Notifications(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, feed)

	_, err = svc.CreateTask(ctx, "t1", CreateTaskInput{Name: "review", DueDate: testNow.AddDate(0, 0, 2), AssigneeIDs: []string{"u3"}})
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, http.StatusUnprocessableEntity, domainErr.Status)

	created, err := svc.CreateTask(ctx, "t1", CreateTaskInput{Name: "review", DueDate: testNow.AddDate(0, 0, 2), AssigneeIDs: []string{"u4"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u4"}, created.AssigneeIDs)
}

func TestDeadlineReturningToWindowTopsFeed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task := createTask(t, svc, "ship", testNow.AddDate(0, 0, 3))

	assigned, err := svc.AssignTask(ctx, task.ID, []string{"u2"})
	require.NoError(t, err)
	require.Len(t, assigned.Notifications, 1)
	feed, err := svc.Notifications(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []store.NotificationKind{store.KindAssignment, store.KindDeadline}, kinds(feed))

	_, err = svc.SetTaskDueDate(ctx, task.ID, testNow.AddDate(0, 0, 12))
	require.NoError(t, err)
	feed, err = svc.Notifications(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []store.NotificationKind{store.KindAssignment}, kinds(feed))

	_, err = svc.SetTaskDueDate(ctx, task.ID, testNow.AddDate(0, 0, 1))
	require.NoError(t, err)
	feed, err = svc.Notifications(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, store.KindDeadline, feed[0].Kind)
	assert.Equal(t, "ship's deadline is in 1 day(s).", feed[0].Message)
	assert.Greater(t, feed[0].Seq, assigned.Notifications[0].Seq)
	assert.Equal(t, assigned.Notifications[0].ID, feed[1].ID)
}

func TestAssignTaskRequiresUsers(t *testing.T) {
	svc, _ := newTestService(t)
	task := createTask(t, svc, "ship", testNow.AddDate(0, 1, 0))
	_, err := svc.AssignTask(context.Background(), task.ID, nil)
	var domainErr *DomainError
	assert.True(t, errors.As(err, &domainErr))
}

func TestSetTaskDueDateRefreshesDeadlines(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task := createTask(t, svc, "ship", testNow.AddDate(0, 1, 0))

	feed, err := svc.Notifications(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, feed)

	updated, err := svc.SetTaskDueDate(ctx, task.ID, testNow.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.NotNil(t, updated.DeadlineMarker)

	for _, userID := range []string{"u1", "u2"} {
		feed, err = svc.Notifications(ctx, userID)
		require.NoError(t, err)
		require.Len(t, feed, 1)
		assert.Equal(t, "ship's deadline is in 3 day(s).", feed[0].Message)
	}

	_, err = svc.SetTaskDueDate(ctx, task.ID, testNow.AddDate(0, 0, 9))
	require.NoError(t, err)
	feed, err = svc.Notifications(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, feed)

	_, err = svc.SetTaskDueDate(ctx, task.ID, testNow.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidDueDate)
}

func TestRecomputeDeadlines(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createTask(t, svc, "soon", testNow.AddDate(0, 0, 2))
	createTask(t, svc, "later", testNow.AddDate(0, 0, 20))

	count, err := svc.RecomputeDeadlines(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = svc.RecomputeDeadlines(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	feed, err := svc.Notifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "soon's deadline is in 2 day(s).", feed[0].Message)

	_, err = svc.RecomputeDeadlines(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddDependencyRejectsCycles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := createTask(t, svc, "alpha", testNow.AddDate(0, 1, 0))
	b := createTask(t, svc, "bravo", testNow.AddDate(0, 1, 0))

	require.NoError(t, svc.AddDependency(ctx, b.ID, a.ID))
	assert.ErrorIs(t, svc.AddDependency(ctx, a.ID, b.ID), board.ErrDependencyCycle)
	assert.ErrorIs(t, svc.AddDependency(ctx, a.ID, a.ID), board.ErrDependencyCycle)
}

func TestInviteFlow(t *testing.T) {
	svc, fs := newTestService(t)
	mail := &fakeMailer{}
	svc.mailer = mail
	ctx := context.Background()

	invite, err := svc.SendInvite(ctx, "t1", SendInviteInput{SenderID: "u1", UserIDs: []string{"u2", "u3"}, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, invite.InviteeIDs, "members are not invited again")
	assert.Equal(t, []string{"linus@example.com:core"}, mail.sent)

	feed, err := svc.Notifications(ctx, "u3")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "Do you wish to join core?", feed[0].Message)

	res, err := svc.ResolveInvite(ctx, invite.ID, "u3", true)
	require.NoError(t, err)
	assert.True(t, res.Reclaimed)

	team, err := fs.GetTeam(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, team.HasMember("u3"))
	_, err = fs.GetInvite(ctx, invite.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	feed, err = svc.Notifications(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestSendInviteValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}

	_, err := svc.SendInvite(ctx, "t1", SendInviteInput{UserIDs: []string{"u3"}, Message: string(long)})
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)

	_, err = svc.SendInvite(ctx, "t1", SendInviteInput{UserIDs: []string{"u2"}})
	require.True(t, errors.As(err, &domainErr))
}

func TestDeleteNotification(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task := createTask(t, svc, "ship", testNow.AddDate(0, 1, 0))
	result, err := svc.AssignTask(ctx, task.ID, []string{"u1"})
	require.NoError(t, err)
	require.Len(t, result.Notifications, 1)

	deleted, err := svc.DeleteNotification(ctx, result.Notifications[0].ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = svc.DeleteNotification(ctx, result.Notifications[0].ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteLaneCascadesNotifications(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task := createTask(t, svc, "ship", testNow.AddDate(0, 0, 1))
	_, err := svc.AssignTask(ctx, task.ID, []string{"u1"})
	require.NoError(t, err)

	feed, err := svc.Notifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, feed, 2)

	result, err := svc.DeleteLane(ctx, task.LaneID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemovedTasks)

	feed, err = svc.Notifications(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestSeedDemoIsRepeatable(t *testing.T) {
	fs := &fakeStore{MemoryStore: store.NewMemoryStore()}
	svc := NewService(fs, Options{})
	ctx := context.Background()

	team, err := svc.SeedDemo(ctx)
	require.NoError(t, err)
	_, err = svc.SeedDemo(ctx)
	require.NoError(t, err)

	view, err := svc.Board(ctx, team.ID)
	require.NoError(t, err)
	assert.Len(t, view.Lanes, len(board.DefaultLanes))
}
