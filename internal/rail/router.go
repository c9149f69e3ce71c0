package rail

import (
	"context"
	"fmt"
	"log/slog"
)

// Router dispatches settlement requests to the adapter bound to each rail.
// It holds no settlement state of its own.
type Router struct {
	adapters map[Rail]Adapter
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{adapters: make(map[Rail]Adapter)}
}

// Register binds an adapter to a rail, replacing any previous binding.
func (r *Router) Register(rail Rail, a Adapter) {
	r.adapters[rail] = a
}

// Route invokes the bound adapter's Initiate. Adapter errors and panics are
// captured as failed results rather than propagated; the only error Route
// itself returns is ErrUnsupportedRail.
func (r *Router) Route(ctx context.Context, rail Rail, req Request) (result Result, err error) {
	a, ok := r.adapters[rail]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedRail, rail)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("rail adapter panicked", "rail", rail, "transaction_id", req.TransactionID, "panic", rec)
			result = Result{Outcome: OutcomeFailed, Reason: fmt.Sprintf("adapter panic: %v", rec)}
			err = nil
		}
	}()

	res, ierr := a.Initiate(ctx, req)
	if ierr != nil {
		slog.Warn("rail initiation failed", "rail", rail, "transaction_id", req.TransactionID, "error", ierr)
		return Result{Outcome: OutcomeFailed, Reason: ierr.Error()}, nil
	}
	return res, nil
}

// Confirm queries the bound adapter for the terminal outcome of a
// previously initiated settlement.
func (r *Router) Confirm(ctx context.Context, rail Rail, providerRef string) (Outcome, error) {
	a, ok := r.adapters[rail]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRail, rail)
	}
	return a.Confirm(ctx, providerRef)
}
