// Package reconcile converges pending transactions: it polls rails that
// settle asynchronously and bounds how long a transaction may stay pending.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/rail"
)

// Ledger is the slice of the transaction ledger the poller drives.
type Ledger interface {
	Pending(ctx context.Context) ([]*ledger.Transaction, error)
	Reconcile(ctx context.Context, txID string, outcome rail.Outcome, reason string) (*ledger.Transaction, error)
}

// Confirmer is the slice of the rail router the poller queries.
type Confirmer interface {
	Confirm(ctx context.Context, r rail.Rail, providerRef string) (rail.Outcome, error)
}

// Observer receives reconciler events, typically for metrics.
type Observer interface {
	ReconcileSweep(checked, resolved, timedOut int)
}

type nopObserver struct{}

func (nopObserver) ReconcileSweep(int, int, int) {}

// Poller periodically sweeps pending transactions. Transactions older than
// the pending timeout are forced to failed with reason "timeout"; the rest
// are confirmed against their rail when a provider reference exists.
// Duplicate terminal deliveries are safe because ledger.Reconcile absorbs
// them.
type Poller struct {
	ledger   Ledger
	rails    Confirmer
	interval time.Duration
	timeout  time.Duration
	obs      Observer
	done     chan struct{}
	stopOnce sync.Once

	now func() time.Time // injectable clock for testing
}

// New creates a Poller sweeping every interval and failing transactions
// pending longer than timeout. A timeout of zero disables the deadline.
func New(l Ledger, rails Confirmer, interval, timeout time.Duration) *Poller {
	return &Poller{
		ledger:   l,
		rails:    rails,
		interval: interval,
		timeout:  timeout,
		obs:      nopObserver{},
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// SetObserver installs an event observer (e.g. the metrics registry).
func (p *Poller) SetObserver(obs Observer) {
	if obs != nil {
		p.obs = obs
	}
}

// Start runs the sweep loop. It blocks until Stop is called or the context
// is cancelled.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep(ctx)
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
}

// Stop signals the sweep loop to exit.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

// Sweep runs a single reconciliation pass.
func (p *Poller) Sweep(ctx context.Context) {
	pending, err := p.ledger.Pending(ctx)
	if err != nil {
		slog.Error("reconciler failed to list pending transactions", "error", err)
		return
	}

	var resolved, timedOut int
	for _, tx := range pending {
		if p.timeout > 0 && p.now().Sub(tx.CreatedAt) > p.timeout {
			if _, err := p.ledger.Reconcile(ctx, tx.ID, rail.OutcomeFailed, "timeout"); err != nil {
				slog.Error("reconciler failed to time out transaction", "transaction_id", tx.ID, "error", err)
				continue
			}
			timedOut++
			continue
		}
		if tx.ProviderRef == "" {
			continue
		}

		outcome, err := p.rails.Confirm(ctx, tx.Rail, tx.ProviderRef)
		if err != nil {
			slog.Warn("reconciler confirmation failed", "transaction_id", tx.ID, "rail", tx.Rail, "error", err)
			continue
		}
		if !outcome.Terminal() {
			continue
		}
		reason := ""
		if outcome == rail.OutcomeFailed {
			reason = "reported failed by provider"
		}
		if _, err := p.ledger.Reconcile(ctx, tx.ID, outcome, reason); err != nil {
			slog.Error("reconciler failed to apply outcome", "transaction_id", tx.ID, "error", err)
			continue
		}
		resolved++
	}

	p.obs.ReconcileSweep(len(pending), resolved, timedOut)
	if resolved > 0 || timedOut > 0 {
		slog.Info("reconciliation sweep applied outcomes",
			"checked", len(pending), "resolved", resolved, "timed_out", timedOut)
	}
}
