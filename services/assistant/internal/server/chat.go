package server

import (
	"net/http"

	"lumosai/pkg/domain"
	"lumosai/services/assistant/internal/app"
)

type attachmentBody struct {
	Type     domain.AttachmentKind `json:"type"`
	MimeType string                `json:"mimeType"`
	Data     string                `json:"data"`
	FileName string                `json:"fileName,omitempty"`
}

type sendRequest struct {
	Message     string           `json:"message"`
	Attachments []attachmentBody `json:"attachments"`
	Temperature *float64         `json:"temperature"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, app.ErrAssistantNotFound.Error())
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		attachments = append(attachments, domain.Attachment{
			Kind:     att.Type,
			MimeType: att.MimeType,
			Data:     att.Data,
			FileName: att.FileName,
		})
	}
	res, err := s.app.SendMessage(r.Context(), id, app.SendRequest{
		Message:     req.Message,
		Attachments: attachments,
		Temperature: req.Temperature,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, app.ErrAssistantNotFound.Error())
		return
	}
	history, err := s.app.History(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type clearHistoryResponse struct {
	Message      string `json:"message"`
	RemovedCount int64  `json:"removedCount"`
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, app.ErrAssistantNotFound.Error())
		return
	}
	removed, err := s.app.ClearHistory(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clearHistoryResponse{Message: "history cleared", RemovedCount: removed})
}
