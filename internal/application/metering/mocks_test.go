package metering

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/voxsuite/backend/internal/domain/metering"
	"github.com/voxsuite/backend/internal/domain/shared"
)

// Mock implementations

type mockAccountRepository struct {
	mock.Mock
}

func (m *mockAccountRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*metering.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.Account), args.Error(1)
}

func (m *mockAccountRepository) Create(ctx context.Context, account *metering.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountRepository) Save(ctx context.Context, account *metering.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountRepository) SaveWithLock(ctx context.Context, account *metering.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountRepository) ArchiveAndReset(ctx context.Context, account *metering.Account, history *metering.UsageHistory) error {
	args := m.Called(ctx, account, history)
	return args.Error(0)
}

func (m *mockAccountRepository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockAccountRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAccountRepository) CountNeedingRollover(ctx context.Context, monthStart time.Time) (int64, error) {
	args := m.Called(ctx, monthStart)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAccountRepository) SumCurrentPeriod(ctx context.Context) (metering.UsageCounters, error) {
	args := m.Called(ctx)
	return args.Get(0).(metering.UsageCounters), args.Error(1)
}

func (m *mockAccountRepository) PlanDistribution(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

type mockPlanRepository struct {
	mock.Mock
}

func (m *mockPlanRepository) FindByID(ctx context.Context, id string) (*metering.Plan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.Plan), args.Error(1)
}

func (m *mockPlanRepository) FindAll(ctx context.Context) ([]*metering.Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metering.Plan), args.Error(1)
}

// memoryAccountRepository is a compare-and-swap in-memory store used by the
// concurrency tests, where the canned-response mocks cannot express version
// conflicts between interleaved readers.
type memoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*metering.Account
	history  map[string]*metering.UsageHistory
}

func newMemoryAccountRepository() *memoryAccountRepository {
	return &memoryAccountRepository{
		accounts: make(map[uuid.UUID]*metering.Account),
		history:  make(map[string]*metering.UsageHistory),
	}
}

func (r *memoryAccountRepository) FindByUserID(_ context.Context, userID uuid.UUID) (*metering.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[userID]
	if !ok {
		return nil, shared.ErrAccountNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *memoryAccountRepository) Create(_ context.Context, account *metering.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.UserID]; ok {
		return shared.ErrAlreadyExists
	}
	copied := *account
	r.accounts[account.UserID] = &copied
	return nil
}

func (r *memoryAccountRepository) Save(_ context.Context, account *metering.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *account
	r.accounts[account.UserID] = &copied
	return nil
}

func (r *memoryAccountRepository) SaveWithLock(_ context.Context, account *metering.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[account.UserID]
	if !ok {
		return shared.ErrAccountNotFound
	}
	if stored.Version != account.Version {
		return shared.ErrConcurrencyConflict
	}
	account.IncrementVersion()
	copied := *account
	r.accounts[account.UserID] = &copied
	return nil
}

func (r *memoryAccountRepository) ArchiveAndReset(_ context.Context, account *metering.Account, history *metering.UsageHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[account.UserID]
	if !ok {
		return shared.ErrAccountNotFound
	}
	if stored.Version != account.Version {
		return shared.ErrConcurrencyConflict
	}
	account.IncrementVersion()
	copied := *account
	r.accounts[account.UserID] = &copied
	r.history[history.ArchivePeriod+"/"+history.UserID.String()] = history
	return nil
}

func (r *memoryAccountRepository) ListUserIDs(_ context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memoryAccountRepository) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.accounts)), nil
}

func (r *memoryAccountRepository) CountNeedingRollover(_ context.Context, monthStart time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, account := range r.accounts {
		if account.HasUsage() && account.PeriodStart.Before(monthStart) {
			n++
		}
	}
	return n, nil
}

func (r *memoryAccountRepository) SumCurrentPeriod(_ context.Context) (metering.UsageCounters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var totals metering.UsageCounters
	for _, account := range r.accounts {
		totals.AddAll(account.CurrentPeriod)
	}
	return totals, nil
}

func (r *memoryAccountRepository) PlanDistribution(_ context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dist := make(map[string]int64)
	for _, account := range r.accounts {
		dist[account.EffectivePlanID()]++
	}
	return dist, nil
}

// memoryPlanRepository serves the seed catalog
type memoryPlanRepository struct {
	plans map[string]*metering.Plan
}

func newMemoryPlanRepository() *memoryPlanRepository {
	repo := &memoryPlanRepository{plans: make(map[string]*metering.Plan)}
	for _, plan := range metering.DefaultPlans() {
		repo.plans[plan.ID] = plan
	}
	return repo
}

func (r *memoryPlanRepository) FindByID(_ context.Context, id string) (*metering.Plan, error) {
	plan, ok := r.plans[id]
	if !ok {
		return nil, shared.ErrPlanNotFound
	}
	return plan, nil
}

func (r *memoryPlanRepository) FindAll(_ context.Context) ([]*metering.Plan, error) {
	plans := make([]*metering.Plan, 0, len(r.plans))
	for _, plan := range r.plans {
		plans = append(plans, plan)
	}
	return plans, nil
}
