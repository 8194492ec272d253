package ledger

import (
	"context"
	"sync"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/pkg"
)

// Memory is an in-process Store used by tests and single-node deployments.
type Memory struct {
	mu         sync.RWMutex
	orders     map[string]domain.Order
	currencies map[string]domain.Currency
}

func NewMemory(currencies ...domain.Currency) *Memory {
	m := &Memory{
		orders:     make(map[string]domain.Order),
		currencies: make(map[string]domain.Currency, len(currencies)),
	}
	for _, c := range currencies {
		m.currencies[c.ID] = c
	}
	return m
}

func (m *Memory) CreateOrder(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return domain.ErrOrderExists
	}
	m.orders[order.ID] = order
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (m *Memory) UpdateOrder(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	m.orders[order.ID] = order
	return nil
}

func (m *Memory) ListOrdersByStatus(_ context.Context, status pkg.OrderStatus) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) GetCurrency(_ context.Context, id string) (domain.Currency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.currencies[id]
	if !ok || !c.Active {
		return domain.Currency{}, domain.ErrUnknownCurrency
	}
	return c, nil
}
