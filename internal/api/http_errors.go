package api

import (
	"errors"
	"net/http"

	"github.com/taskforge-ai/taskforge/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := ""

	var domErr *core.DomainError
	if errors.As(err, &domErr) && domErr != nil {
		code = domErr.Code
		switch domErr.Category {
		case core.ErrCatValidation:
			status = http.StatusUnprocessableEntity
		case core.ErrCatNotFound:
			status = http.StatusNotFound
		case core.ErrCatState, core.ErrCatCancelled:
			status = http.StatusConflict
		case core.ErrCatTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	respondJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}
