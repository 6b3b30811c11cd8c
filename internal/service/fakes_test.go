package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/wenwu/saas-platform/storefront-service/internal/client"
	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/events"
	"github.com/wenwu/saas-platform/storefront-service/internal/logger"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
	"github.com/wenwu/saas-platform/storefront-service/internal/payment"
	"github.com/wenwu/saas-platform/storefront-service/internal/repository"
)

var silentLogger = logger.Discard()

func testConfig() *config.Config {
	return &config.Config{
		Payment: config.PaymentConfig{DefaultProvider: models.ProviderAtlantik, Timeout: time.Second},
		Panel: config.PanelConfig{
			Domain:      "https://panel.test",
			APIKey:      "ptla_test",
			Location:    1,
			Egg:         15,
			DockerImage: "ghcr.io/parkervcp/yolks:nodejs_20",
			Startup:     config.DefaultStartupCommand,
			BuyerDomain: "buyer.test",
			Timeout:     time.Second,
		},
	}
}

// ==================== Ledger ====================

type memLedger struct {
	mu        sync.Mutex
	rows      map[string]models.Transaction
	events    []models.TransactionEvent
	createErr error
	clock     time.Time
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]models.Transaction), clock: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (l *memLedger) tick() time.Time {
	l.clock = l.clock.Add(time.Second)
	return l.clock
}

func (l *memLedger) Create(_ context.Context, t *models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createErr != nil {
		return l.createErr
	}
	if _, ok := l.rows[t.InternalID]; ok {
		return repository.ErrConflict
	}
	now := l.tick()
	t.CreatedAt, t.UpdatedAt = now, now
	l.rows[t.InternalID] = *t
	return nil
}

func (l *memLedger) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (l *memLedger) Advance(_ context.Context, id string, status models.DepositStatus, settled *int64, payload []byte) (*models.Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.rows[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if t.DepositStatus != models.DepositPending || status == models.DepositPending {
		return &t, false, nil
	}
	t.UpdatedAt = l.tick()
	l.events = append(l.events, models.TransactionEvent{
		ID: int64(len(l.events) + 1), InternalID: id, FromStatus: t.DepositStatus, ToStatus: status,
		Payload: payload, CreatedAt: t.UpdatedAt,
	})
	t.DepositStatus = status
	t.SettledAmount = settled
	l.rows[id] = t
	return &t, true, nil
}

func (l *memLedger) List(_ context.Context, f models.TransactionFilter) ([]*models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.Transaction
	for _, t := range l.rows {
		if f.Status != "" && t.DepositStatus != f.Status {
			continue
		}
		if f.Provider != "" && t.Provider != f.Provider {
			continue
		}
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *memLedger) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.Transaction
	for _, t := range l.rows {
		if t.DepositStatus == models.DepositPending && t.CreatedAt.Before(cutoff) && len(out) < limit {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func (l *memLedger) ListUnpublishedEvents(_ context.Context, cutoff time.Time, limit int) ([]*models.TransactionEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.TransactionEvent
	for i := range l.events {
		e := l.events[i]
		if e.PublishedAt == nil && e.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (l *memLedger) MarkEventPublished(_ context.Context, internalID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.events {
		if l.events[i].InternalID == internalID && l.events[i].PublishedAt == nil {
			at := l.tick()
			l.events[i].PublishedAt = &at
		}
	}
	return nil
}

func (l *memLedger) unpublished() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.PublishedAt == nil {
			n++
		}
	}
	return n
}

// ==================== Providers ====================

type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) CreateDeposit(ctx context.Context, amount int64) (*payment.Deposit, error) {
	args := m.Called(ctx, amount)
	d, _ := args.Get(0).(*payment.Deposit)
	return d, args.Error(1)
}

func (m *mockProvider) DepositStatus(ctx context.Context, depositID string) ([]byte, error) {
	args := m.Called(ctx, depositID)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

// ==================== Events ====================

type recordingPublisher struct {
	mu       sync.Mutex
	events   []events.Event
	failNext int
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("kafka: leader not available")
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// ==================== Provisioning ====================

type memCatalog struct {
	mu       sync.Mutex
	products map[string]models.PanelProduct
}

func (c *memCatalog) GetPanelProduct(_ context.Context, id string) (*models.PanelProduct, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (c *memCatalog) put(p models.PanelProduct) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

type memAttempts struct {
	mu   sync.Mutex
	rows map[string]models.ProvisionAttempt
}

func newMemAttempts() *memAttempts {
	return &memAttempts{rows: make(map[string]models.ProvisionAttempt)}
}

func (a *memAttempts) Create(_ context.Context, at *models.ProvisionAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.rows {
		if r.Owner == at.Owner && r.State.InFlight() {
			return repository.ErrConflict
		}
	}
	at.CreatedAt, at.UpdatedAt = time.Now(), time.Now()
	a.rows[at.ID] = *at
	return nil
}

func (a *memAttempts) Transition(_ context.Context, id string, from, to models.AttemptState, patch repository.AttemptPatch) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transitionLocked(id, from, to, patch)
}

func (a *memAttempts) transitionLocked(id string, from, to models.AttemptState, patch repository.AttemptPatch) error {
	r, ok := a.rows[id]
	if !ok || r.State != from {
		return repository.ErrStaleState
	}
	r.State = to
	if patch.RemoteIdentityID != nil {
		r.RemoteIdentityID = patch.RemoteIdentityID
	}
	if patch.ResourceHandle != nil {
		r.ResourceHandle = patch.ResourceHandle
	}
	if patch.LastError != nil {
		r.LastError = *patch.LastError
	}
	r.UpdatedAt = time.Now()
	a.rows[id] = r
	return nil
}

func (a *memAttempts) ListSweepable(_ context.Context, cutoff time.Time, limit int) ([]*models.ProvisionAttempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.ProvisionAttempt
	for _, r := range a.rows {
		if r.State == models.AttemptFailedOrphan || (r.State.InFlight() && r.UpdatedAt.Before(cutoff)) {
			r := r
			out = append(out, &r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *memAttempts) only() models.ProvisionAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.rows {
		return r
	}
	return models.ProvisionAttempt{}
}

type memAccounts struct {
	mu        sync.Mutex
	rows      []models.ProvisionedAccount
	attempts  *memAttempts
	commitErr error
}

func (m *memAccounts) Commit(_ context.Context, attemptID string, acc *models.ProvisionedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, r := range m.rows {
		if r.Identity == acc.Identity {
			return repository.ErrConflict
		}
	}
	m.attempts.mu.Lock()
	err := m.attempts.transitionLocked(attemptID, models.AttemptResourceCreated, models.AttemptCommitted, repository.AttemptPatch{})
	m.attempts.mu.Unlock()
	if err != nil {
		return err
	}
	acc.CreatedAt = time.Now()
	m.rows = append(m.rows, *acc)
	return nil
}

func (m *memAccounts) GetByIdentity(_ context.Context, identity string) (*models.ProvisionedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Identity == identity {
			r := r
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memAccounts) List(_ context.Context, limit, offset int) ([]*models.ProvisionedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ProvisionedAccount
	for i := offset; i < len(m.rows) && len(out) < limit; i++ {
		r := m.rows[i]
		out = append(out, &r)
	}
	return out, nil
}

type mockPanel struct {
	mock.Mock
}

func (m *mockPanel) CreateUser(ctx context.Context, req *client.CreateUserRequest) (*client.PanelUser, error) {
	args := m.Called(ctx, req)
	u, _ := args.Get(0).(*client.PanelUser)
	return u, args.Error(1)
}

func (m *mockPanel) CreateServer(ctx context.Context, req *client.CreateServerRequest) (*client.PanelServer, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*client.PanelServer)
	return s, args.Error(1)
}

func (m *mockPanel) FindUserByUsername(ctx context.Context, username string) (*client.PanelUser, error) {
	args := m.Called(ctx, username)
	u, _ := args.Get(0).(*client.PanelUser)
	return u, args.Error(1)
}

func (m *mockPanel) GetServerByExternalID(ctx context.Context, externalID string) (*client.PanelServer, error) {
	args := m.Called(ctx, externalID)
	s, _ := args.Get(0).(*client.PanelServer)
	return s, args.Error(1)
}

func (m *mockPanel) DeleteServer(ctx context.Context, serverID int64) error {
	return m.Called(ctx, serverID).Error(0)
}

func (m *mockPanel) DeleteUser(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}
