package api

import (
	"net/http"

	"github.com/ashureev/connectwise-ai/internal/chat"
	"github.com/ashureev/connectwise-ai/internal/domain"
	"github.com/ashureev/connectwise-ai/internal/search"
	"github.com/go-chi/chi/v5"
)

type searchRequest struct {
	Query string `json:"query" validate:"max=200"`
}

type companiesResponse struct {
	Query     string            `json:"query"`
	Companies []*domain.Company `json:"companies"`
}

type searchResponse struct {
	companiesResponse
	Chat chat.Snapshot `json:"chat"`
}

// ListCompanies returns the catalog filtered by the q parameter.
func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	JSON(w, http.StatusOK, h.filter(query))
}

// GetCompany returns a single catalog entry.
func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	company, ok := h.catalog.Get(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "company not found")
		return
	}
	JSON(w, http.StatusOK, company)
}

// Search runs a fresh search. The visitor's selection is cleared so the chat
// panel closes until a result is picked.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	snap := h.chats.Clear(r.Context(), visitorKey(r))
	JSON(w, http.StatusOK, searchResponse{
		companiesResponse: h.filter(req.Query),
		Chat:              snap,
	})
}

func (h *Handler) filter(query string) companiesResponse {
	companies := search.Filter(h.catalog.All(), query)
	if companies == nil {
		companies = []*domain.Company{}
	}
	return companiesResponse{Query: query, Companies: companies}
}
