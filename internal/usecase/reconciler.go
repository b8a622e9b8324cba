package usecase

import (
	"context"
	"time"

	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/logging"
)

// Reconciler sweeps checkouts that have gone quiet: awaiting sessions are
// checked against the provider, and outcomes that never reached the order
// store are written again.
type Reconciler struct {
	uc         *Checkout
	interval   time.Duration
	staleAfter time.Duration
	batch      int
}

func NewReconciler(uc *Checkout, interval, staleAfter time.Duration, batch int) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &Reconciler{uc: uc, interval: interval, staleAfter: staleAfter, batch: batch}
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep handles one batch of stale sessions and returns how many changed.
func (r *Reconciler) Sweep(ctx context.Context) int {
	log := logging.Named(ctx, "reconciler")
	ids, err := r.uc.sessions.ListUnresolved(ctx, r.uc.now().Add(-r.staleAfter), r.batch)
	if err != nil {
		log.Error("list unresolved sessions failed", "err", err)
		return 0
	}
	changed := 0
	for _, id := range ids {
		ok, err := r.uc.Reconcile(ctx, id)
		if err != nil {
			log.Warn("reconcile failed", "intent_id", id, "err", err)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed
}

// Reconcile settles one session from the provider's view, or finishes
// persisting an outcome that was already decided. It reports whether anything changed.
func (uc *Checkout) Reconcile(ctx context.Context, intentID string) (bool, error) {
	s, err := uc.sessions.Get(ctx, intentID)
	if err != nil {
		return false, err
	}
	switch {
	case !s.Unresolved():
		return false, nil
	case s.State != domain.StateAwaitingConfirmation:
		if err := uc.persistOutcome(ctx, s); err != nil {
			return false, err
		}
		return true, nil
	}

	a, err := uc.adapterFor(s)
	if err != nil {
		return false, err
	}
	st, ok := uc.fetchStatus(ctx, a, intentID)
	if !ok {
		return false, nil
	}
	var res domain.PaymentResult
	switch st {
	case domain.IntentSucceeded:
		res = domain.PaymentResult{Success: true, PaymentIntentID: intentID}
	case domain.IntentFailed, domain.IntentCanceled:
		res = domain.PaymentResult{PaymentIntentID: intentID, Error: "provider_" + string(st)}
	default:
		return false, nil
	}
	next, err := uc.applyResult(ctx, s, res)
	if err != nil {
		return false, err
	}
	return next.State != s.State, nil
}
