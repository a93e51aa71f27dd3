package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// In-memory repository fakes with the same optimistic locking behavior as
// the persistence layer, so the reload-and-retry paths are exercised for
// real.

func counterKey(userID uuid.UUID, resource entitlement.ResourceType, periodKey string) string {
	return fmt.Sprintf("%s|%s|%s", userID, resource, periodKey)
}

type memCounterRepo struct {
	mu       sync.Mutex
	counters map[string]ledger.UsageCounter

	// forcedConflicts makes the next N SaveWithLock calls fail with a
	// concurrency conflict without persisting
	forcedConflicts int
}

func newMemCounterRepo() *memCounterRepo {
	return &memCounterRepo{counters: make(map[string]ledger.UsageCounter)}
}

func (m *memCounterRepo) FindOrCreate(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string, periodEnd time.Time) (*ledger.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := counterKey(userID, resource, periodKey)
	if c, ok := m.counters[k]; ok {
		out := c
		return &out, nil
	}
	c, err := ledger.NewUsageCounter(userID, resource, periodKey, periodEnd)
	if err != nil {
		return nil, err
	}
	m.counters[k] = *c
	out := *c
	return &out, nil
}

func (m *memCounterRepo) FindByKey(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) (*ledger.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[counterKey(userID, resource, periodKey)]; ok {
		out := c
		return &out, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memCounterRepo) FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, periodKey string) ([]*ledger.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.UsageCounter
	for _, c := range m.counters {
		if c.UserID == userID && c.PeriodKey == periodKey {
			cc := c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (m *memCounterRepo) SaveWithLock(ctx context.Context, counter *ledger.UsageCounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forcedConflicts > 0 {
		m.forcedConflicts--
		return shared.ErrConcurrencyConflict
	}
	k := counterKey(counter.UserID, counter.Resource, counter.PeriodKey)
	stored, ok := m.counters[k]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != counter.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	m.counters[k] = *counter
	return nil
}

func (m *memCounterRepo) get(userID uuid.UUID, resource entitlement.ResourceType, periodKey string) ledger.UsageCounter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[counterKey(userID, resource, periodKey)]
}

type memReservationRepo struct {
	mu           sync.Mutex
	reservations map[uuid.UUID]ledger.Reservation
}

func newMemReservationRepo() *memReservationRepo {
	return &memReservationRepo{reservations: make(map[uuid.UUID]ledger.Reservation)}
}

func (m *memReservationRepo) Save(ctx context.Context, r *ledger.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = *r
	return nil
}

func (m *memReservationRepo) Update(ctx context.Context, r *ledger.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[r.ID]; !ok {
		return shared.ErrNotFound
	}
	m.reservations[r.ID] = *r
	return nil
}

func (m *memReservationRepo) FindByToken(ctx context.Context, token uuid.UUID) (*ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reservations[token]; ok {
		out := r
		return &out, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memReservationRepo) FindOpenByCounter(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) ([]*ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Reservation
	for _, r := range m.reservations {
		if r.UserID == userID && r.Resource == resource && r.PeriodKey == periodKey && r.State == ledger.ReservationOpen {
			rr := r
			out = append(out, &rr)
		}
	}
	return out, nil
}

func (m *memReservationRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]*ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Reservation
	for _, r := range m.reservations {
		if r.State == ledger.ReservationOpen && now.After(r.ExpiresAt) {
			rr := r
			out = append(out, &rr)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memReservationRepo) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, r := range m.reservations {
		if r.State.IsTerminal() && r.ResolvedAt != nil && r.ResolvedAt.Before(before) {
			delete(m.reservations, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memReservationRepo) get(token uuid.UUID) ledger.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservations[token]
}

type memSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[uuid.UUID]entitlement.Subscription // keyed by user ID
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{subs: make(map[uuid.UUID]entitlement.Subscription)}
}

func (m *memSubscriptionRepo) Save(ctx context.Context, sub *entitlement.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.UserID]; ok {
		return shared.ErrAlreadyExists
	}
	m.subs[sub.UserID] = *sub
	return nil
}

func (m *memSubscriptionRepo) Update(ctx context.Context, sub *entitlement.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.subs[sub.UserID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version >= sub.Version {
		return shared.ErrConcurrencyConflict
	}
	m.subs[sub.UserID] = *sub
	return nil
}

func (m *memSubscriptionRepo) FindByID(ctx context.Context, id uuid.UUID) (*entitlement.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID == id {
			out := s
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memSubscriptionRepo) FindByUser(ctx context.Context, userID uuid.UUID) (*entitlement.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[userID]; ok {
		out := s
		return &out, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memSubscriptionRepo) FindPeriodEndingBefore(ctx context.Context, t time.Time, limit int) ([]*entitlement.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entitlement.Subscription
	for _, s := range m.subs {
		if s.CurrentPeriodEnd.Before(t) {
			ss := s
			out = append(out, &ss)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type memChargeRepo struct {
	mu      sync.Mutex
	charges map[string]ledger.OverageCharge
}

func newMemChargeRepo() *memChargeRepo {
	return &memChargeRepo{charges: make(map[string]ledger.OverageCharge)}
}

func (m *memChargeRepo) Save(ctx context.Context, charge *ledger.OverageCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := counterKey(charge.UserID, charge.Resource, charge.PeriodKey)
	if _, ok := m.charges[k]; ok {
		return shared.ErrAlreadyExists
	}
	m.charges[k] = *charge
	return nil
}

func (m *memChargeRepo) ExistsFor(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.charges[counterKey(userID, resource, periodKey)]
	return ok, nil
}

func (m *memChargeRepo) FindByUser(ctx context.Context, userID uuid.UUID) ([]*ledger.OverageCharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.OverageCharge
	for _, c := range m.charges {
		if c.UserID == userID {
			cc := c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (m *memChargeRepo) FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, periodKey string) ([]*ledger.OverageCharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.OverageCharge
	for _, c := range m.charges {
		if c.UserID == userID && c.PeriodKey == periodKey {
			cc := c
			out = append(out, &cc)
		}
	}
	return out, nil
}

type memTierResolver struct {
	tiers      map[string]*entitlement.Tier
	freeTierID string
}

func (m *memTierResolver) Resolve(tierID string) (*entitlement.Tier, error) {
	if t, ok := m.tiers[tierID]; ok {
		return t, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memTierResolver) FreeTier() (*entitlement.Tier, error) {
	return m.Resolve(m.freeTierID)
}

type memIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{seen: make(map[string]bool)}
}

func (m *memIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[key], nil
}

func (m *memIdempotencyStore) Close() error { return nil }

// Tier fixtures shared across the application tests

func testTiers() *memTierResolver {
	free := &entitlement.Tier{
		ID:   "free-v1",
		Name: "Free",
		Limits: []entitlement.ResourceLimit{
			{Resource: entitlement.ResourceTranscriptionMinutes, CapPolicy: entitlement.CapPolicyHard, Limit: 30},
			{Resource: entitlement.ResourceAPICalls, CapPolicy: entitlement.CapPolicyHard, Limit: 1000},
		},
	}
	pro := &entitlement.Tier{
		ID:        "pro-v1",
		Name:      "Pro",
		TrialDays: 14,
		Limits: []entitlement.ResourceLimit{
			{Resource: entitlement.ResourceTranscriptionMinutes, CapPolicy: entitlement.CapPolicyHard, Limit: 100},
			{
				Resource:  entitlement.ResourceStorageGB,
				CapPolicy: entitlement.CapPolicySoft,
				Limit:     10,
				FeeSchedule: []entitlement.FeeBand{
					{ThresholdFraction: decimal.NewFromFloat(1.0), FeePerUnit: decimal.NewFromFloat(0.10)},
					{ThresholdFraction: decimal.NewFromFloat(1.5), FeePerUnit: decimal.NewFromFloat(0.25)},
				},
			},
			{Resource: entitlement.ResourceAPICalls, CapPolicy: entitlement.CapPolicyUnlimited},
		},
	}
	return &memTierResolver{
		tiers:      map[string]*entitlement.Tier{"free-v1": free, "pro-v1": pro},
		freeTierID: "free-v1",
	}
}
