package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge-ai/taskforge/internal/core"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTask() *core.Task {
	return &core.Task{
		Title:        "Fix login redirect",
		Description:  "Users land on a 404 after OAuth login.",
		RepoURL:      "https://example.com/acme/webapp.git",
		TargetBranch: "main",
		ContextFiles: []string{"internal/auth/redirect.go"},
		BuildCommand: "go build ./...",
		AgentKind:    core.AgentKindAPI,
		Model:        "gpt-4o",
	}
}

func TestCreateAndGetByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := newTestTask()
	require.NoError(t, s.Create(ctx, task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, core.TaskStatusBacklog, task.Status)
	assert.False(t, task.CreatedAt.IsZero())

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, task.Description, got.Description)
	assert.Equal(t, task.ContextFiles, got.ContextFiles)
	assert.Equal(t, task.BuildCommand, got.BuildCommand)
	assert.Equal(t, core.AgentKindAPI, got.AgentKind)
}

func TestCreateValidatesTask(t *testing.T) {
	s := newTestStore(t)

	task := newTestTask()
	task.Title = ""
	err := s.Create(context.Background(), task)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestCreateDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := newTestTask()
	require.NoError(t, s.Create(ctx, task))

	dup := newTestTask()
	dup.ID = task.ID
	err := s.Create(ctx, dup)
	require.Error(t, err)
	domain, ok := core.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, "TASK_EXISTS", domain.Code)
}

func TestGetByIDNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestListFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newTestTask()
	require.NoError(t, s.Create(ctx, first))
	second := newTestTask()
	second.Title = "Add rate limiting"
	require.NoError(t, s.Create(ctx, second))
	require.NoError(t, s.Update(ctx, second.ID, core.StatusUpdate(core.TaskStatusDone)))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	done, err := s.List(ctx, core.TaskStatusDone)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, second.ID, done[0].ID)
}

func TestUpdatePartialFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := newTestTask()
	require.NoError(t, s.Create(ctx, task))

	branch := "agent/fix-login-redirect-abc123"
	require.NoError(t, s.Update(ctx, task.ID, core.TaskUpdate{BranchName: &branch}))
	require.NoError(t, s.Update(ctx, task.ID, core.FailureUpdate("build failed after 3 attempts")))

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, branch, got.BranchName)
	assert.Equal(t, core.TaskStatusFailed, got.Status)
	assert.Equal(t, "build failed after 3 attempts", got.ErrorMessage)
	assert.Equal(t, task.Title, got.Title)
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(context.Background(), "missing", core.StatusUpdate(core.TaskStatusDone))
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestDeleteRemovesTaskAndFeedback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := newTestTask()
	require.NoError(t, s.Create(ctx, task))
	require.NoError(t, s.AppendFeedback(ctx, task.ID, "please add tests"))

	require.NoError(t, s.Delete(ctx, task.ID))

	_, err := s.GetByID(ctx, task.ID)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	history, err := s.FeedbackHistory(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestFeedbackLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := newTestTask()
	require.NoError(t, s.Create(ctx, task))

	require.NoError(t, s.AppendFeedback(ctx, task.ID, "first"))
	require.NoError(t, s.AppendFeedback(ctx, task.ID, "second"))

	pending, err := s.PendingFeedback(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, pending)

	require.NoError(t, s.ClearFeedback(ctx, task.ID))

	pending, err = s.PendingFeedback(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Consumed feedback stays visible in the history.
	history, err := s.FeedbackHistory(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Message)
	assert.True(t, history[0].Consumed)
	assert.False(t, history[0].CreatedAt.IsZero())

	require.NoError(t, s.AppendFeedback(ctx, task.ID, "third"))
	pending, err = s.PendingFeedback(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"third"}, pending)
}

func TestOpenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")

	s, err := Open(dbPath)
	require.NoError(t, err)

	task := newTestTask()
	require.NoError(t, s.Create(context.Background(), task))
	require.NoError(t, s.Close())

	// Reopening must not re-run migrations or lose data.
	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	got, err := s2.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
}
