package api

import (
	"net/http"

	"github.com/ashureev/connectwise-ai/internal/chat"
)

type selectRequest struct {
	CompanyID string `json:"company_id" validate:"required,max=64"`
}

type messageRequest struct {
	Text string `json:"text" validate:"max=4000"`
}

type messageResponse struct {
	chat.Snapshot
	Ignored bool `json:"ignored,omitempty"`
}

// GetChat returns the visitor's current chat state.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.chats.Get(r.Context(), visitorKey(r)))
}

// SelectCompany opens the chat panel for a company with a fresh greeting.
func (h *Handler) SelectCompany(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	company, ok := h.catalog.Get(req.CompanyID)
	if !ok {
		Error(w, http.StatusNotFound, "company not found")
		return
	}
	JSON(w, http.StatusOK, h.chats.Select(r.Context(), visitorKey(r), company))
}

// ClearSelection closes the chat panel.
func (h *Handler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.chats.Clear(r.Context(), visitorKey(r)))
}

// PostMessage submits a question about the selected company. The reply is
// delivered later through GetChat or Stream.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	snap, accepted := h.chats.Submit(r.Context(), visitorKey(r), req.Text)
	if !accepted {
		JSON(w, http.StatusOK, messageResponse{Snapshot: snap, Ignored: true})
		return
	}
	JSON(w, http.StatusAccepted, messageResponse{Snapshot: snap})
}
