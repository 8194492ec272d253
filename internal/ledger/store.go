// Package ledger abstracts order and currency persistence behind a small
// CRUD-by-id interface. The exchange core only ever reads currencies,
// creates orders exactly once, and updates them through the state machine.
package ledger

import (
	"context"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/pkg"
)

// Store is the persistence collaborator of the exchange core.
type Store interface {
	// CreateOrder inserts a new order. Returns domain.ErrOrderExists when the
	// id is already taken; it never silently overwrites.
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder fetches an order by id, or domain.ErrOrderNotFound.
	GetOrder(ctx context.Context, id string) (domain.Order, error)

	// UpdateOrder persists a mutated order. The caller is responsible for
	// state-machine legality; the store does not re-validate transitions.
	UpdateOrder(ctx context.Context, order domain.Order) error

	// ListOrdersByStatus returns every order currently in the given status.
	// Used only by the reconciler's awaiting_deposit scan.
	ListOrdersByStatus(ctx context.Context, status pkg.OrderStatus) ([]domain.Order, error)

	// GetCurrency fetches reference data by currency id, or
	// domain.ErrUnknownCurrency.
	GetCurrency(ctx context.Context, id string) (domain.Currency, error)
}
