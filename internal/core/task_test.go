package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveBranchName(t *testing.T) {
	tests := []struct {
		name  string
		title string
		id    TaskID
		want  string
	}{
		{
			name:  "simple title",
			title: "Fix login redirect",
			id:    "3f2a91cc-0000",
			want:  "agent/fix-login-redirect-3f2a91",
		},
		{
			name:  "special characters collapse",
			title: "Add OAuth2 (Google + GitHub)!!",
			id:    "abcdef123456",
			want:  "agent/add-oauth2-google-github-abcdef",
		},
		{
			name:  "empty title falls back",
			title: "***",
			id:    "12345678",
			want:  "agent/task-123456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveBranchName(tt.title, tt.id))
		})
	}
}

func TestDeriveBranchName_LongTitle(t *testing.T) {
	got := DeriveBranchName(strings.Repeat("very long title ", 10), "deadbeef")
	// slug capped at 40 chars plus prefix and suffix
	assert.LessOrEqual(t, len(got), len("agent/")+40+1+6)
	assert.True(t, strings.HasPrefix(got, "agent/very-long-title"))
	assert.False(t, strings.Contains(got, "--"))
}

func TestTaskValidate(t *testing.T) {
	task := &Task{ID: "t1", Title: "Fix bug", RepoURL: "https://example.com/repo.git"}
	assert.NoError(t, task.Validate())

	missing := &Task{Title: "Fix bug", RepoURL: "x"}
	err := missing.Validate()
	assert.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatValidation))
}

func TestTaskStatusSets(t *testing.T) {
	assert.True(t, StatusIn(TaskStatusBacklog, StartableStatuses))
	assert.True(t, StatusIn(TaskStatusFailed, StartableStatuses))
	assert.False(t, StatusIn(TaskStatusInProgress, StartableStatuses))

	assert.True(t, StatusIn(TaskStatusInProgress, ResumableStatuses))
	assert.False(t, StatusIn(TaskStatusDone, ResumableStatuses))

	task := &Task{Status: TaskStatusDone}
	assert.True(t, task.IsTerminal())
	task.Status = TaskStatusPlanning
	assert.False(t, task.IsTerminal())
	assert.True(t, task.IsActive())
}

func TestErrInvalidStatus(t *testing.T) {
	err := ErrInvalidStatus("start", TaskStatusDone, StartableStatuses)
	assert.Contains(t, err.Error(), "done")
	assert.Contains(t, err.Error(), "backlog")
	assert.Equal(t, CodeInvalidStatus, err.Code)
	assert.True(t, IsCategory(err, ErrCatState))
}
