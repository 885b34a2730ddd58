package api

import (
	"net/http"

	"github.com/ashureev/connectwise-ai/internal/consent"
	"github.com/ashureev/connectwise-ai/internal/identity"
	"github.com/ashureev/connectwise-ai/internal/store"
)

type consentResponse struct {
	ShowBanner bool `json:"show_banner"`
}

func (h *Handler) consentGate(r *http.Request) *consent.Gate {
	userID := identity.UserIDFromContext(r.Context())
	return consent.NewGate(store.PreferencesFor(h.repo, userID), consent.Key, h.logger)
}

// GetConsent reports whether the data processing banner should be shown.
func (h *Handler) GetConsent(w http.ResponseWriter, r *http.Request) {
	gate := h.consentGate(r)
	JSON(w, http.StatusOK, consentResponse{ShowBanner: gate.Load(r.Context())})
}

// AcceptConsent records the acknowledgment for this device.
func (h *Handler) AcceptConsent(w http.ResponseWriter, r *http.Request) {
	gate := h.consentGate(r)
	if err := gate.Accept(r.Context()); err != nil {
		h.logger.Error("Failed to persist consent",
			"user_id", identity.UserIDFromContext(r.Context()),
			"error", err,
		)
		Error(w, http.StatusInternalServerError, "failed to save consent")
		return
	}
	JSON(w, http.StatusOK, consentResponse{ShowBanner: gate.Visible()})
}
