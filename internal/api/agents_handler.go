package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentpay/agentpay/internal/account"
	"github.com/agentpay/agentpay/internal/balance"
	"github.com/agentpay/agentpay/internal/metrics"
)

type agentsHandler struct {
	registry *account.Registry
	oracle   balance.Oracle
	metrics  *metrics.Metrics
}

func newAgentsHandler(registry *account.Registry, oracle balance.Oracle, m *metrics.Metrics) *agentsHandler {
	return &agentsHandler{registry: registry, oracle: oracle, metrics: m}
}

type registerAgentRequest struct {
	Name          string            `json:"name"`
	WalletAddress string            `json:"wallet_address"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Register handles POST /api/v1/agents.
func (h *agentsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	agent, err := h.registry.Register(r.Context(), account.RegisterInput{
		Name:          req.Name,
		WalletAddress: req.WalletAddress,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	auditLog(r, "agent.register", "agent", agent.ID, "wallet_address", agent.WalletAddress)
	writeJSON(w, http.StatusCreated, agent)
}

// Get handles GET /api/v1/agents/{agentID}.
func (h *agentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type balanceResponse struct {
	AgentID       string           `json:"agent_id"`
	WalletAddress string           `json:"wallet_address"`
	Balance       *balance.Balance `json:"balance,omitempty"`
	Degraded      bool             `json:"degraded,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Balance handles GET /api/v1/agents/{agentID}/balance. An oracle failure
// degrades the response instead of failing the request: the agent still
// exists, we just cannot say what it holds right now.
func (h *agentsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := balanceResponse{AgentID: agent.ID, WalletAddress: agent.WalletAddress}
	if h.oracle == nil {
		resp.Degraded = true
		resp.Error = "balance oracle not configured"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	bal, err := h.oracle.Balance(r.Context(), agent.WalletAddress)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncOracleError()
		}
		resp.Degraded = true
		resp.Error = "balance temporarily unavailable"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Balance = &bal
	writeJSON(w, http.StatusOK, resp)
}

// DepositAddress handles GET /api/v1/agents/{agentID}/deposit-address. Funds
// arrive at the agent's custodial wallet address.
func (h *agentsHandler) DepositAddress(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id":        agent.ID,
		"deposit_address": agent.WalletAddress,
	})
}
