// Package order owns the lifecycle of exchange orders: creation with a
// frozen rate snapshot, the forward-only state machine, and the
// abandonment deadline for orders whose deposit never arrives.
package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/internal/ledger"
	"github.com/crystalmix/exchange-core/internal/observability"
	"github.com/crystalmix/exchange-core/internal/rates"
	"github.com/crystalmix/exchange-core/pkg"
	"github.com/crystalmix/exchange-core/pkg/utils"
)

// Config carries the tunables of the order lifecycle.
type Config struct {
	// LockWindow is how long a fixed-rate quote stays valid.
	LockWindow time.Duration
	// AbandonAfter is the deposit deadline, independent of LockWindow.
	AbandonAfter time.Duration
	// DepositTolerancePct is the allowed relative deviation between the
	// received deposit and the order's fromAmount (0.02 = 2%).
	DepositTolerancePct decimal.Decimal
	// PlatformFeePct is the platform's cut of the converted amount.
	PlatformFeePct decimal.Decimal
	// NetworkFees maps payout currency id to a flat network fee in that
	// currency. Currencies absent from the map pay no network fee.
	NetworkFees map[string]decimal.Decimal
}

// CreateRequest is the validated input to Create. Payout carries exactly
// one destination variant; Lock is the pre-acquired fixed-rate snapshot
// held by the quote flow, nil for float orders.
type CreateRequest struct {
	OrderID      string // optional; generated when empty
	FromCurrency string
	ToCurrency   string
	FromAmount   decimal.Decimal
	RateType     pkg.RateType
	Payout       domain.PayoutDestination
	ContactEmail string
	Lock         *domain.RateLock
}

// Service is the order state machine. Transitions for a given order id are
// serialized through a keyed mutex; different orders proceed in parallel.
type Service struct {
	logger *zap.Logger
	cfg    Config
	store  ledger.Store
	cache  *rates.Cache
	locks  *rates.LockManager
	now    func() time.Time

	perOrder *keyedMutex

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

func NewService(logger *zap.Logger, cfg Config, store ledger.Store, cache *rates.Cache, locks *rates.LockManager) *Service {
	return &Service{
		logger:   logger,
		cfg:      cfg,
		store:    store,
		cache:    cache,
		locks:    locks,
		now:      time.Now,
		perOrder: newKeyedMutex(),
		timers:   make(map[string]*time.Timer),
	}
}

// Create validates the request, freezes the exchange rate, and persists the
// order in awaiting_deposit. Fixed orders consume the held rate lock and
// are rejected with ErrRateExpired when its window has already passed;
// float orders read the cache once, here, and never track the market again.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Order, error) {
	from, err := s.store.GetCurrency(ctx, req.FromCurrency)
	if err != nil {
		return domain.Order{}, err
	}
	to, err := s.store.GetCurrency(ctx, req.ToCurrency)
	if err != nil {
		return domain.Order{}, err
	}
	if !from.AmountInRange(req.FromAmount) {
		return domain.Order{}, fmt.Errorf("%w: %s %s", domain.ErrAmountOutOfRange, req.FromAmount, from.ID)
	}
	if err := domain.ValidatePayout(req.Payout); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayout, err)
	}
	if wantCard := to.CardPayout(); wantCard != (req.Payout.Kind() == domain.PayoutKindCard) {
		return domain.Order{}, fmt.Errorf("%w: %s pays out to %s", domain.ErrInvalidPayout, to.ID, payoutKindFor(wantCard))
	}

	now := s.now()
	pair := domain.Pair{From: req.FromCurrency, To: req.ToCurrency}

	var (
		rate       decimal.Decimal
		lockExpiry *time.Time
	)
	switch req.RateType {
	case pkg.RateTypeFixed:
		lock := req.Lock
		if lock == nil {
			acquired, err := s.locks.Acquire(pair, s.cfg.LockWindow)
			if err != nil {
				return domain.Order{}, err
			}
			lock = &acquired
		}
		if lock.Expired(now) {
			return domain.Order{}, domain.ErrRateExpired
		}
		rate = lock.Rate
		expiry := lock.ExpiresAt
		lockExpiry = &expiry
	case pkg.RateTypeFloat:
		cached, err := s.cache.Get(pair)
		if err != nil {
			return domain.Order{}, err
		}
		rate = cached.Value
	default:
		return domain.Order{}, fmt.Errorf("unknown rate type %q", req.RateType)
	}

	id := req.OrderID
	if utils.IsEmpty(id) {
		id = utils.GenerateUUID()
	}

	networkFee := s.cfg.NetworkFees[req.ToCurrency]
	converted := req.FromAmount.Mul(rate)
	platformFee := converted.Mul(s.cfg.PlatformFeePct)
	toAmount := converted.Sub(platformFee).Sub(networkFee)
	if !toAmount.IsPositive() {
		return domain.Order{}, fmt.Errorf("%w: receive amount %s not positive after fees", domain.ErrAmountOutOfRange, toAmount)
	}

	order := domain.Order{
		ID:             id,
		FromCurrency:   req.FromCurrency,
		ToCurrency:     req.ToCurrency,
		FromAmount:     req.FromAmount,
		ToAmount:       toAmount,
		ExchangeRate:   rate,
		RateType:       req.RateType,
		Status:         pkg.OrderStatusAwaitingDeposit,
		DepositAddress: depositAddress(from),
		Payout:         req.Payout,
		ContactEmail:   req.ContactEmail,
		PlatformFee:    platformFee,
		NetworkFee:     networkFee,
		RateLockExpiry: lockExpiry,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Exactly-once creation: a duplicate id is rejected, never overwritten.
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.scheduleAbandon(order.ID)
	observability.OrdersCreated.WithLabelValues(string(req.RateType)).Inc()
	s.logger.Info("order created",
		zap.String(pkg.OrderId, order.ID),
		zap.String("pair", pair.String()),
		zap.String("rate", rate.String()),
		zap.String("rate_type", string(req.RateType)),
		zap.String("deposit_address", order.DepositAddress))
	return order, nil
}

// Get fetches an order by id.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ConfirmDeposit moves awaiting_deposit -> confirmed, stamping the deposit
// tx hash. Guard: the received amount is within the configured tolerance of
// the order's fromAmount.
func (s *Service) ConfirmDeposit(ctx context.Context, orderID string, dep domain.DepositNotification) error {
	return s.transition(ctx, orderID, pkg.OrderStatusConfirmed, func(o *domain.Order) error {
		if !s.withinTolerance(o.FromAmount, dep.Amount) {
			return fmt.Errorf("deposit %s outside tolerance of expected %s for order %s",
				dep.Amount, o.FromAmount, o.ID)
		}
		o.TxHash = dep.TxID
		return nil
	})
}

// InitiatePayout moves confirmed -> processing once the payout destination
// is validated.
func (s *Service) InitiatePayout(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, pkg.OrderStatusProcessing, func(o *domain.Order) error {
		return domain.ValidatePayout(o.Payout)
	})
}

// CompletePayout moves processing -> completed, stamping the payout tx hash.
func (s *Service) CompletePayout(ctx context.Context, orderID, payoutTxHash string) error {
	return s.transition(ctx, orderID, pkg.OrderStatusCompleted, func(o *domain.Order) error {
		o.PayoutTxHash = payoutTxHash
		return nil
	})
}

// Refund marks a non-terminal order refunded. The decision is always
// external and explicit, never automatic.
func (s *Service) Refund(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, pkg.OrderStatusRefunded, nil)
}

// Fail marks a non-terminal order failed after an unrecoverable error.
func (s *Service) Fail(ctx context.Context, orderID, reason string) error {
	return s.transition(ctx, orderID, pkg.OrderStatusFailed, func(o *domain.Order) error {
		s.logger.Warn("order failed", zap.String(pkg.OrderId, o.ID), zap.String("reason", reason))
		return nil
	})
}

// WithOrder runs fn while holding the order's transition lock, giving the
// caller a point-in-time view that cannot race a concurrent transition.
// The reconciler uses this as the arbiter between a deposit arriving and
// the abandonment sweep firing on the same order.
func (s *Service) WithOrder(ctx context.Context, orderID string, fn func(o domain.Order) error) error {
	unlock := s.perOrder.lock(orderID)
	defer unlock()
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return fn(o)
}

// transition applies one state-machine edge under the per-order lock.
// mutate runs after the edge is validated and may stamp fields or veto the
// transition by returning an error.
func (s *Service) transition(ctx context.Context, orderID string, to pkg.OrderStatus, mutate func(*domain.Order) error) error {
	unlock := s.perOrder.lock(orderID)
	defer unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	prev := o.Status
	if err := o.Transition(to, s.now()); err != nil {
		observability.InvalidTransitions.Inc()
		s.logger.Error("invalid order transition",
			zap.String(pkg.OrderId, orderID),
			zap.String("from", string(prev)),
			zap.String("to", string(to)),
			zap.Error(err))
		return err
	}
	if mutate != nil {
		if err := mutate(&o); err != nil {
			return err
		}
	}
	if err := s.store.UpdateOrder(ctx, o); err != nil {
		return err
	}

	// Any exit from awaiting_deposit cancels the abandonment deadline.
	if prev == pkg.OrderStatusAwaitingDeposit {
		s.cancelAbandon(orderID)
	}
	observability.OrderTransitions.WithLabelValues(string(to)).Inc()
	s.logger.Info("order transitioned",
		zap.String(pkg.OrderId, orderID),
		zap.String("from", string(prev)),
		zap.String("to", string(to)))
	return nil
}

func (s *Service) withinTolerance(expected, received decimal.Decimal) bool {
	diff := received.Sub(expected).Abs()
	return diff.LessThanOrEqual(expected.Mul(s.cfg.DepositTolerancePct))
}

// scheduleAbandon arms the per-order deposit deadline.
func (s *Service) scheduleAbandon(orderID string) {
	if s.cfg.AbandonAfter <= 0 {
		return
	}
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.timers[orderID] = time.AfterFunc(s.cfg.AbandonAfter, func() {
		s.abandon(orderID)
	})
}

func (s *Service) cancelAbandon(orderID string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if t, ok := s.timers[orderID]; ok {
		t.Stop()
		delete(s.timers, orderID)
	}
}

// abandon fails an order whose deposit never arrived. A deposit reconciled
// in the same instant wins or loses deterministically: both paths run under
// the per-order lock, and whoever runs second sees the updated status.
func (s *Service) abandon(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.transition(ctx, orderID, pkg.OrderStatusFailed, func(o *domain.Order) error {
		s.logger.Warn("order abandoned, no deposit before deadline", zap.String(pkg.OrderId, o.ID))
		return nil
	})
	if err != nil {
		// Already confirmed, refunded, or failed through another path.
		s.logger.Debug("abandon sweep skipped", zap.String(pkg.OrderId, orderID), zap.Error(err))
	}
}

// Close stops every armed abandonment timer. Pending orders pick their
// deadline back up when the sweep is re-armed on restart.
func (s *Service) Close() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// RearmAbandonSweep reschedules deadlines for orders still awaiting a
// deposit, called once at startup so in-flight orders survive a restart.
func (s *Service) RearmAbandonSweep(ctx context.Context) error {
	pending, err := s.store.ListOrdersByStatus(ctx, pkg.OrderStatusAwaitingDeposit)
	if err != nil {
		return err
	}
	now := s.now()
	for _, o := range pending {
		deadline := o.CreatedAt.Add(s.cfg.AbandonAfter)
		if !deadline.After(now) {
			go s.abandon(o.ID)
			continue
		}
		id := o.ID
		s.timerMu.Lock()
		s.timers[id] = time.AfterFunc(deadline.Sub(now), func() { s.abandon(id) })
		s.timerMu.Unlock()
	}
	return nil
}

func depositAddress(from domain.Currency) string {
	// Uniqueness is delegated to the uuid, not to clock ticks.
	return fmt.Sprintf("%s-%s", from.ID, utils.GenerateUUID())
}

func payoutKindFor(card bool) domain.PayoutKind {
	if card {
		return domain.PayoutKindCard
	}
	return domain.PayoutKindWallet
}
