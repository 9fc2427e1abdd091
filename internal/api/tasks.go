package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/store"
)

// createTaskRequest is the payload for POST /tasks.
type createTaskRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	RepoURL      string   `json:"repo_url"`
	TargetBranch string   `json:"target_branch"`
	ContextFiles []string `json:"context_files"`
	BuildCommand string   `json:"build_command"`
	Spec         string   `json:"spec"`
	AgentKind    string   `json:"agent_kind"`
	Model        string   `json:"model"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := core.TaskStatus(r.URL.Query().Get("status"))

	tasks, err := s.tasks.List(r.Context(), status)
	if err != nil {
		respondError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*core.Task{}
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, core.ErrValidation("INVALID_BODY", "request body must be valid JSON"))
		return
	}

	task := &core.Task{
		Title:        req.Title,
		Description:  req.Description,
		RepoURL:      req.RepoURL,
		TargetBranch: req.TargetBranch,
		ContextFiles: req.ContextFiles,
		BuildCommand: req.BuildCommand,
		Spec:         req.Spec,
		AgentKind:    core.AgentKind(req.AgentKind),
		Model:        req.Model,
	}
	if err := s.tasks.Create(r.Context(), task); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	task, err := s.tasks.GetByID(r.Context(), taskID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	if s.orch.IsAgentRunning(taskID) {
		respondError(w, core.ErrState("TASK_ACTIVE", "cannot delete a task with a live agent session"))
		return
	}
	if err := s.tasks.Delete(r.Context(), taskID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleFeedbackHistory(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	if _, err := s.tasks.GetByID(r.Context(), taskID); err != nil {
		respondError(w, err)
		return
	}
	history, err := s.tasks.FeedbackHistory(r.Context(), taskID)
	if err != nil {
		respondError(w, err)
		return
	}
	if history == nil {
		history = []store.FeedbackEntry{}
	}
	respondJSON(w, http.StatusOK, history)
}
