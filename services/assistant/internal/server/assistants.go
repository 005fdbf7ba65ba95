package server

import (
	"net/http"

	"lumosai/services/assistant/internal/app"
)

type assistantRequest struct {
	Title       *string  `json:"title"`
	Context     *string  `json:"context"`
	Temperature *float64 `json:"temperature"`
}

func (s *Server) handleListAssistants(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.ListAssistants(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateAssistant(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := app.AssistantInput{Temperature: req.Temperature}
	if req.Title != nil {
		in.Title = *req.Title
	}
	if req.Context != nil {
		in.Context = *req.Context
	}
	created, err := s.app.CreateAssistant(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetAssistant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, app.ErrAssistantNotFound.Error())
		return
	}
	a, err := s.app.GetAssistant(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAssistant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, app.ErrAssistantNotFound.Error())
		return
	}
	var req assistantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.app.UpdateAssistant(r.Context(), id, app.AssistantPatch{
		Title:       req.Title,
		Context:     req.Context,
		Temperature: req.Temperature,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAssistant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, app.ErrAssistantNotFound.Error())
		return
	}
	if err := s.app.DeleteAssistant(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
