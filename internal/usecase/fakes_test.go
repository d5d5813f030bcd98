package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"review-service/internal/domain"
	"review-service/pkg/xerrors"
)

// memRepo is an in-memory ReviewRepository with one partition per tenant key.
type memRepo struct {
	mu         sync.Mutex
	partitions map[string][]*domain.Review
	clock      func() time.Time

	// hooks for failure injection
	findErr      error
	insertErr    error
	pingErr      error
	skipPreCheck bool
	// afterAggregate runs once an aggregate is computed, before it is returned
	afterAggregate func()

	finds int
}

func newMemRepo() *memRepo {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int64
	return &memRepo{
		partitions: map[string][]*domain.Review{},
		clock: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	}
}

func (m *memRepo) Insert(_ context.Context, review *domain.Review, tenantKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, rv := range m.partitions[tenantKey] {
		if rv.OrderID == review.OrderID {
			return xerrors.ErrDuplicateKey
		}
	}
	now := m.clock()
	review.CreatedAt, review.UpdatedAt = now, now
	cp := *review
	m.partitions[tenantKey] = append(m.partitions[tenantKey], &cp)
	return nil
}

func (m *memRepo) FindByOrderID(_ context.Context, orderID int64, tenantKey string) (*domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.skipPreCheck {
		return nil, nil
	}
	for _, rv := range m.partitions[tenantKey] {
		if rv.OrderID == orderID {
			cp := *rv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ListByPartner(_ context.Context, partnerID, tenantKey string) ([]*domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Review, 0)
	for i := len(m.partitions[tenantKey]) - 1; i >= 0; i-- {
		rv := m.partitions[tenantKey][i]
		if rv.PartnerID == partnerID {
			cp := *rv
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) AggregateForPartner(ctx context.Context, partnerID, tenantKey string) (domain.RatingAggregate, error) {
	aggs, err := m.AggregateForPartners(ctx, []string{partnerID}, tenantKey)
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	return aggs[partnerID], nil
}

func (m *memRepo) AggregateForPartners(_ context.Context, partnerIDs []string, tenantKey string) (map[string]domain.RatingAggregate, error) {
	out := m.aggregate(partnerIDs, tenantKey)
	if hook := m.afterAggregate; hook != nil {
		hook()
	}
	return out, nil
}

func (m *memRepo) aggregate(partnerIDs []string, tenantKey string) map[string]domain.RatingAggregate {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := map[string]int{}
	out := make(map[string]domain.RatingAggregate, len(partnerIDs))
	for _, id := range partnerIDs {
		out[id] = domain.RatingAggregate{}
	}
	for _, rv := range m.partitions[tenantKey] {
		agg, ok := out[rv.PartnerID]
		if !ok {
			continue
		}
		sums[rv.PartnerID] += rv.Rating
		agg.Count++
		agg.Avg = float64(sums[rv.PartnerID]) / float64(agg.Count)
		out[rv.PartnerID] = agg
	}
	return out
}

func (m *memRepo) Ping(context.Context, string) error { return m.pingErr }

func (m *memRepo) count(tenantKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.partitions[tenantKey])
}

// fakeOrders is a scripted order authority.
type fakeOrders struct {
	mu     sync.Mutex
	lookup func(orderID int64, tenantKey string) (*domain.Order, error)
	calls  int
}

func (f *fakeOrders) GetOrderByID(_ context.Context, orderID int64, tenantKey string) (*domain.Order, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.lookup(orderID, tenantKey)
}

func (f *fakeOrders) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ownedOrder(userID, partnerID string) func(int64, string) (*domain.Order, error) {
	return func(orderID int64, _ string) (*domain.Order, error) {
		p := partnerID
		return &domain.Order{ID: orderID, UserID: userID, PartnerID: &p}, nil
	}
}

var errTransport = errors.New("rpc error: code = Unavailable desc = connection refused")
