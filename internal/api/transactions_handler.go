package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/rail"
)

type transactionsHandler struct {
	ledger *ledger.Ledger
}

func newTransactionsHandler(l *ledger.Ledger) *transactionsHandler {
	return &transactionsHandler{ledger: l}
}

type submitRequest struct {
	Amount      float64           `json:"amount"`
	Rail        string            `json:"rail"`
	Merchant    string            `json:"merchant,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (h *transactionsHandler) submit(
	w http.ResponseWriter, r *http.Request, action string,
	fn func(r *http.Request, in ledger.SubmitInput) (*ledger.Transaction, error),
) {
	agentID := chi.URLParam(r, "agentID")

	var req submitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	tx, err := fn(r, ledger.SubmitInput{
		AgentID:     agentID,
		Amount:      req.Amount,
		Rail:        rail.Rail(req.Rail),
		Merchant:    req.Merchant,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	auditLog(r, action, "transaction", tx.ID,
		"agent_id", agentID, "rail", tx.Rail, "amount", tx.Amount, "status", tx.Status)
	writeJSON(w, http.StatusCreated, tx)
}

// Spend handles POST /api/v1/agents/{agentID}/spend.
func (h *transactionsHandler) Spend(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "transaction.spend", func(r *http.Request, in ledger.SubmitInput) (*ledger.Transaction, error) {
		return h.ledger.Spend(r.Context(), in)
	})
}

// Deposit handles POST /api/v1/agents/{agentID}/deposits.
func (h *transactionsHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "transaction.deposit", func(r *http.Request, in ledger.SubmitInput) (*ledger.Transaction, error) {
		return h.ledger.Deposit(r.Context(), in)
	})
}

// Transfer handles POST /api/v1/agents/{agentID}/transfers.
func (h *transactionsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "transaction.transfer", func(r *http.Request, in ledger.SubmitInput) (*ledger.Transaction, error) {
		return h.ledger.Transfer(r.Context(), in)
	})
}

// Get handles GET /api/v1/transactions/{txID}.
func (h *transactionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.Get(r.Context(), chi.URLParam(r, "txID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// History handles GET /api/v1/agents/{agentID}/transactions. The optional
// limit query parameter caps the page; anything above the ledger's maximum
// is clamped there.
func (h *transactionsHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	txs, err := h.ledger.History(r.Context(), chi.URLParam(r, "agentID"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

type reconcileRequest struct {
	TransactionID string `json:"transaction_id"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason,omitempty"`
}

// Reconcile handles POST /api/v1/reconcile, the settlement callback rail
// providers deliver terminal outcomes through. Duplicate deliveries return
// the already-terminal transaction with 200.
func (h *transactionsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "transaction_id is required")
		return
	}

	tx, err := h.ledger.Reconcile(r.Context(), req.TransactionID, rail.Outcome(req.Outcome), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	auditLog(r, "transaction.reconcile", "transaction", tx.ID, "outcome", req.Outcome)
	writeJSON(w, http.StatusOK, tx)
}
