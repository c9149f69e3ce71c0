package rail

import (
	"context"

	"github.com/google/uuid"
)

// InstantAdapter settles every request with a fixed outcome and a generated
// provider reference. It backs rails without a real provider integration in
// the demo wiring, and the tests.
type InstantAdapter struct {
	Result Outcome
	Reason string
}

// NewInstantAdapter creates an adapter that always reports the given outcome.
func NewInstantAdapter(outcome Outcome) *InstantAdapter {
	return &InstantAdapter{Result: outcome}
}

// Initiate implements Adapter.
func (a *InstantAdapter) Initiate(_ context.Context, _ Request) (Result, error) {
	return Result{
		ProviderRef: "instant-" + uuid.NewString()[:8],
		Outcome:     a.Result,
		Reason:      a.Reason,
	}, nil
}

// Confirm implements Adapter. A pending instant adapter stays pending until
// an external reconciliation callback resolves it.
func (a *InstantAdapter) Confirm(_ context.Context, _ string) (Outcome, error) {
	if a.Result.Terminal() {
		return a.Result, nil
	}
	return OutcomePending, nil
}

var _ Adapter = (*InstantAdapter)(nil)
