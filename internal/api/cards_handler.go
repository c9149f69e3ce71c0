package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentpay/agentpay/internal/card"
)

type cardsHandler struct {
	manager *card.Manager
}

func newCardsHandler(manager *card.Manager) *cardsHandler {
	return &cardsHandler{manager: manager}
}

type createCardRequest struct {
	SpendLimit float64 `json:"spend_limit"`
}

type cardResponse struct {
	*card.Card
	Available float64 `json:"available"`
	// Number is only populated on first issuance; it is a demo PAN built
	// from the stored last-4 and is never persisted.
	Number string `json:"number,omitempty"`
}

func newCardResponse(c *card.Card, issued bool) cardResponse {
	resp := cardResponse{Card: c, Available: c.Available()}
	if issued {
		resp.Number = "4242 4242 4242 " + c.Last4
	}
	return resp
}

// GetOrCreate handles POST /api/v1/agents/{agentID}/card. Creation is
// idempotent: an existing active card is returned unchanged with 200, a
// fresh one with 201.
func (h *cardsHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req createCardRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	c, created, err := h.manager.GetOrCreate(r.Context(), agentID, req.SpendLimit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		auditLog(r, "card.create", "card", c.ID, "agent_id", agentID, "spend_limit", c.SpendLimit)
	}
	writeJSON(w, status, newCardResponse(c, created))
}

// Get handles GET /api/v1/agents/{agentID}/card.
func (h *cardsHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.manager.Active(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCardResponse(c, false))
}

// Freeze handles POST /api/v1/cards/{cardID}/freeze.
func (h *cardsHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardID")
	c, err := h.manager.Freeze(r.Context(), cardID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	auditLog(r, "card.freeze", "card", cardID)
	writeJSON(w, http.StatusOK, newCardResponse(c, false))
}

// Cancel handles POST /api/v1/cards/{cardID}/cancel.
func (h *cardsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardID")
	c, err := h.manager.Cancel(r.Context(), cardID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	auditLog(r, "card.cancel", "card", cardID)
	writeJSON(w, http.StatusOK, newCardResponse(c, false))
}
