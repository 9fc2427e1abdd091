package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskforge-ai/taskforge/internal/core"
)

type startTaskRequest struct {
	Resume bool `json:"resume"`
}

type feedbackRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	var req startTaskRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, core.ErrValidation("INVALID_BODY", "request body must be valid JSON"))
			return
		}
	}

	if err := s.orch.StartAgent(r.Context(), taskID, req.Resume); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	if err := s.orch.CancelAgent(r.Context(), taskID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	if err := s.orch.ApproveTask(r.Context(), taskID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleTaskDiff(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	task, err := s.tasks.GetByID(r.Context(), taskID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !s.workspaces.WorktreeExists(taskID) {
		respondError(w, core.ErrNotFound("workspace", string(taskID)))
		return
	}
	diff, err := s.workspaces.Diff(r.Context(), s.workspaces.WorktreePath(taskID), task.TargetBranch)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"diff": diff})
}

func (s *Server) handleTaskChangedFiles(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	task, err := s.tasks.GetByID(r.Context(), taskID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !s.workspaces.WorktreeExists(taskID) {
		respondError(w, core.ErrNotFound("workspace", string(taskID)))
		return
	}
	files, err := s.workspaces.ChangedFiles(r.Context(), s.workspaces.WorktreePath(taskID), task.TargetBranch)
	if err != nil {
		respondError(w, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	respondJSON(w, http.StatusOK, map[string][]string{"files": files})
}

func (s *Server) handleSendFeedback(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, core.ErrValidation("INVALID_BODY", "request body must be valid JSON"))
		return
	}

	if err := s.orch.SendFeedback(r.Context(), taskID, req.Message); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "delivered"})
}

func (s *Server) handleExtendTimeout(w http.ResponseWriter, r *http.Request) {
	taskID := core.TaskID(chi.URLParam(r, "taskID"))

	if err := s.orch.ExtendTimeout(taskID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "extended"})
}
