// Package reconcile correlates external deposit notifications to awaiting
// orders. Reconciliation is advisory and best-effort: the upstream feed is
// not trusted to redeliver, unmatched notifications are dropped after
// logging, and a human operator is the fallback for orphaned deposits.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/internal/ledger"
	"github.com/crystalmix/exchange-core/internal/observability"
	"github.com/crystalmix/exchange-core/internal/order"
	"github.com/crystalmix/exchange-core/pkg"
)

// Config carries reconciler policy knobs.
type Config struct {
	// FreshnessWindow bounds how old a notification may be and still be
	// matched. Policy, not a correctness requirement.
	FreshnessWindow time.Duration
}

// Reconciler consumes deposit notifications and advances matched orders to
// confirmed. The order service's per-order lock is the arbiter between a
// deposit arriving and the abandonment sweep firing on the same order.
type Reconciler struct {
	logger *zap.Logger
	cfg    Config
	orders *order.Service
	store  ledger.Store
	dedup  DedupStore
	now    func() time.Time
}

func New(logger *zap.Logger, cfg Config, orders *order.Service, store ledger.Store, dedup DedupStore) *Reconciler {
	return &Reconciler{
		logger: logger,
		cfg:    cfg,
		orders: orders,
		store:  store,
		dedup:  dedup,
		now:    time.Now,
	}
}

// Reconcile matches one notification to at most one awaiting order and
// performs the confirmed transition. Ignored notifications (wrong status,
// stale, redelivered) return ("", nil); zero candidates return ErrNoMatch;
// multiple candidates return ErrAmbiguousMatch and no transition happens.
func (r *Reconciler) Reconcile(ctx context.Context, dep domain.DepositNotification) (string, error) {
	log := r.logger.With(zap.String("tx_id", dep.TxID), zap.String("coin", dep.Coin))

	if dep.Status != pkg.DepositStatusSuccess {
		observability.DepositsReconciled.WithLabelValues("ignored").Inc()
		log.Debug("ignoring deposit with non-success status", zap.String("status", dep.Status))
		return "", nil
	}
	if r.cfg.FreshnessWindow > 0 && r.now().Sub(dep.Timestamp) > r.cfg.FreshnessWindow {
		observability.DepositsReconciled.WithLabelValues("stale").Inc()
		log.Debug("ignoring stale deposit", zap.Time("timestamp", dep.Timestamp))
		return "", nil
	}

	seen, err := r.dedup.MarkSeen(ctx, dep.TxID)
	if err != nil {
		return "", err
	}
	if seen {
		observability.DepositsReconciled.WithLabelValues("duplicate").Inc()
		log.Debug("ignoring redelivered deposit")
		return "", nil
	}

	candidates, err := r.match(ctx, dep)
	if err != nil {
		return "", err
	}
	switch len(candidates) {
	case 0:
		observability.DepositsReconciled.WithLabelValues("no_match").Inc()
		log.Info("deposit matched no awaiting order, dropping",
			zap.String("address", dep.Address), zap.String("memo", dep.Memo))
		return "", domain.ErrNoMatch
	case 1:
		// fall through
	default:
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		observability.DepositsReconciled.WithLabelValues("ambiguous").Inc()
		log.Error("deposit matched multiple orders, operator attention required",
			zap.Strings("order_ids", ids))
		return "", domain.ErrAmbiguousMatch
	}

	matched := candidates[0]
	if err := r.orders.ConfirmDeposit(ctx, matched.ID, dep); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Lost the race to an abandonment timeout or a refund; the
			// per-order lock made the ordering deterministic.
			observability.DepositsReconciled.WithLabelValues("late").Inc()
			log.Warn("matched order no longer awaiting deposit", zap.String(pkg.OrderId, matched.ID), zap.Error(err))
		}
		return "", err
	}

	observability.DepositsReconciled.WithLabelValues("matched").Inc()
	log.Info("deposit reconciled", zap.String(pkg.OrderId, matched.ID))
	return matched.ID, nil
}

// match scans awaiting orders for a deposit-address match: exact address
// equality, or the order's address containing the notification memo for
// rails that distinguish payments by memo instead of unique addresses.
// Generated deposit addresses are assumed unique upstream; ambiguity here
// is surfaced, never resolved by picking one.
func (r *Reconciler) match(ctx context.Context, dep domain.DepositNotification) ([]domain.Order, error) {
	awaiting, err := r.store.ListOrdersByStatus(ctx, pkg.OrderStatusAwaitingDeposit)
	if err != nil {
		return nil, err
	}
	var out []domain.Order
	for _, o := range awaiting {
		if dep.Address != "" && o.DepositAddress == dep.Address {
			out = append(out, o)
			continue
		}
		if dep.Memo != "" && strings.Contains(o.DepositAddress, dep.Memo) {
			out = append(out, o)
		}
	}
	return out, nil
}
