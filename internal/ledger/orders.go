package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"papertrader/internal/domain"
)

// Orders is an in-memory order store.
type Orders struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

// NewOrders creates an empty order store.
func NewOrders() *Orders {
	return &Orders{orders: make(map[string]*domain.Order)}
}

// SaveOrder inserts or replaces a copy of the order.
func (s *Orders) SaveOrder(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

// FindOrder returns a copy of the order, or nil if unknown.
func (s *Orders) FindOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

// PendingOrders returns copies of every PENDING order, oldest first.
func (s *Orders) PendingOrders(_ context.Context) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if o.IsPending() {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

// FilledOrders returns copies of the EXECUTED and PARTIAL orders of a portfolio,
// in execution order. An empty portfolioID selects every portfolio.
func (s *Orders) FilledOrders(_ context.Context, portfolioID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if o.Status != domain.StatusExecuted && o.Status != domain.StatusPartial {
			continue
		}
		if portfolioID != "" && o.PortfolioID != portfolioID {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := executedAt(out[i]), executedAt(out[j])
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.Before(tj)
	})
	return out, nil
}

func executedAt(o *domain.Order) time.Time {
	if o.ExecutedAt != nil {
		return *o.ExecutedAt
	}
	return time.Time{}
}
