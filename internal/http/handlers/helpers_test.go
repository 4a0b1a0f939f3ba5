package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/auth"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/ledger"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/middleware"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/provider/kie"
)

// memStore backs all repository interfaces for handler tests, mirroring the
// conditional-update semantics of the Postgres adapters under one mutex.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	entries  []domain.LedgerEntry
	orders   map[string]*domain.PendingOrder
	tracks   map[string]*domain.Track

	accountErr error
	appendErr  error
}

func newMemStore(accounts ...*domain.Account) *memStore {
	s := &memStore{
		accounts: make(map[string]*domain.Account),
		orders:   make(map[string]*domain.PendingOrder),
		tracks:   make(map[string]*domain.Track),
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func copyAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func (s *memStore) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountErr != nil {
		return nil, s.accountErr
	}
	account.CreatedAt = time.Now()
	s.accounts[account.ID] = account
	return copyAccount(account), nil
}

func (s *memStore) GetByWixID(ctx context.Context, wixUserID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountErr != nil {
		return nil, s.accountErr
	}
	for _, a := range s.accounts {
		if a.WixUserID == wixUserID {
			return copyAccount(a), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountErr != nil {
		return nil, s.accountErr
	}
	for _, a := range s.accounts {
		if a.Email == email {
			return copyAccount(a), nil
		}
	}
	return nil, domain.ErrNotFound
}

// settle applies the mutation and records the entry as one unit, like the
// Postgres transaction does. Any failure leaves the account untouched.
func (s *memStore) settle(accountID string, entry *domain.LedgerEntry, mutate func(*domain.Account) error) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountErr != nil {
		return nil, s.accountErr
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrUnknownAccount
	}
	if entry.ExternalRef != "" {
		for _, e := range s.entries {
			if e.Kind == entry.Kind && e.ExternalRef == entry.ExternalRef {
				return nil, domain.ErrDuplicateEvent
			}
		}
	}
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	if err := mutate(a); err != nil {
		return nil, err
	}
	entry.AccountID = a.ID
	entry.BalanceAfter = a.Balance
	e := *entry
	e.CreatedAt = time.Now()
	s.entries = append(s.entries, e)
	return copyAccount(a), nil
}

func (s *memStore) Debit(ctx context.Context, accountID string, amount int, entry *domain.LedgerEntry) (*domain.Account, error) {
	return s.settle(accountID, entry, func(a *domain.Account) error {
		if a.Balance < amount {
			return domain.ErrInsufficientCredit
		}
		a.Balance -= amount
		a.TotalSpent += amount
		return nil
	})
}

func (s *memStore) Credit(ctx context.Context, accountID string, amount int, entry *domain.LedgerEntry) (*domain.Account, error) {
	return s.settle(accountID, entry, func(a *domain.Account) error {
		a.Balance += amount
		a.TotalSpent -= amount
		if a.TotalSpent < 0 {
			a.TotalSpent = 0
		}
		return nil
	})
}

func (s *memStore) ApplyGrant(ctx context.Context, accountID string, plan domain.PlanDefinition, credits int, expiresAt time.Time, entry *domain.LedgerEntry) (*domain.Account, error) {
	return s.settle(accountID, entry, func(a *domain.Account) error {
		now := time.Now()
		a.PlanID = plan.ID
		a.Balance += credits
		a.TotalGranted += credits
		a.Features = plan.Features
		a.AllowedModels = plan.AllowedModels
		a.Status = domain.SubscriptionActive
		a.PurchasedAt = &now
		a.ExpiresAt = &expiresAt
		return nil
	})
}

func (s *memStore) AddCredits(ctx context.Context, accountID string, amount int, entry *domain.LedgerEntry) (*domain.Account, error) {
	return s.settle(accountID, entry, func(a *domain.Account) error {
		a.Balance += amount
		a.TotalGranted += amount
		return nil
	})
}

func (s *memStore) SetStatus(ctx context.Context, accountID string, status domain.SubscriptionStatus, entry *domain.LedgerEntry) (*domain.Account, error) {
	return s.settle(accountID, entry, func(a *domain.Account) error {
		a.Status = status
		return nil
	})
}

func (s *memStore) Expire(ctx context.Context, accountID string, entry *domain.LedgerEntry) (*domain.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountErr != nil {
		return nil, false, s.accountErr
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, false, domain.ErrUnknownAccount
	}
	if a.Status == domain.SubscriptionExpired {
		return copyAccount(a), false, nil
	}
	if s.appendErr != nil {
		return nil, false, s.appendErr
	}
	forfeited := a.Balance
	a.TotalSpent += forfeited
	a.Balance = 0
	a.Status = domain.SubscriptionExpired
	entry.AccountID = a.ID
	entry.Amount = -forfeited
	entry.BalanceAfter = 0
	e := *entry
	e.CreatedAt = time.Now()
	s.entries = append(s.entries, e)
	return copyAccount(a), true, nil
}

func (s *memStore) ListOverdue(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}

func (s *memStore) HasRef(ctx context.Context, kind domain.EntryKind, externalRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Kind == kind && e.ExternalRef == externalRef {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) SpendByRef(ctx context.Context, externalRef string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Kind == domain.EntrySpend && s.entries[i].ExternalRef == externalRef {
			e := s.entries[i]
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].AccountID == accountID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *memStore) ActionCounts(ctx context.Context, accountID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, e := range s.entries {
		if e.AccountID == accountID && e.Kind == domain.EntrySpend && e.Status == domain.EntryCompleted {
			counts[e.Action]++
		}
	}
	return counts, nil
}

func (s *memStore) entriesByKind(kind domain.EntryKind) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// orderStore implements domain.OrderRepository on memStore.
type orderStore struct{ *memStore }

func (s orderStore) Create(ctx context.Context, order *domain.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	s.orders[order.ID] = order
	return nil
}

func (s orderStore) GetByID(ctx context.Context, id string) (*domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (s orderStore) LatestPending(ctx context.Context, email string, cutoff time.Time) (*domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.PendingOrder
	for _, o := range s.orders {
		if o.Email != email || o.Status != domain.OrderPending || o.CreatedAt.Before(cutoff) {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (s orderStore) MarkFulfilled(ctx context.Context, orderID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != domain.OrderPending {
		return domain.ErrDuplicateEvent
	}
	o.Status = domain.OrderFulfilled
	o.TaskID = taskID
	return nil
}

func (s orderStore) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.orders {
		if o.Status == domain.OrderPending && o.CreatedAt.Before(cutoff) {
			o.Status = domain.OrderExpired
			n++
		}
	}
	return n, nil
}

// trackStore implements domain.TrackRepository on memStore.
type trackStore struct{ *memStore }

func (s trackStore) Create(ctx context.Context, track *domain.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[track.TaskID] = track
	return nil
}

func (s trackStore) GetByTaskID(ctx context.Context, taskID string) (*domain.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s trackStore) UpdateStatus(ctx context.Context, taskID string, status domain.TrackStatus, resultJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	if resultJSON != nil {
		t.ResultJSON = resultJSON
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (s trackStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// stubProvider scripts the generation provider.
type stubProvider struct {
	mu        sync.Mutex
	submits   int
	taskID    string
	submitErr error
	status    *kie.TaskStatus
	statusErr error
}

func (p *stubProvider) Submit(ctx context.Context, req kie.GenerateRequest) (*kie.Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return nil, p.submitErr
	}
	p.submits++
	taskID := p.taskID
	if taskID == "" {
		taskID = "task-1"
	}
	return &kie.Submission{TaskID: taskID, Raw: json.RawMessage(`{"taskId":"` + taskID + `"}`)}, nil
}

func (p *stubProvider) QueryStatus(ctx context.Context, taskID string) (*kie.TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	if p.status != nil {
		return p.status, nil
	}
	return &kie.TaskStatus{TaskID: taskID, Status: "PENDING"}, nil
}

func (p *stubProvider) submitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

func newTestApp(store *memStore, provider *stubProvider) *App {
	logger := zerolog.Nop()
	engine := ledger.NewEngine(store, store, logger)
	return &App{
		Logger:            logger,
		Accounts:          store,
		Entries:           store,
		Orders:            orderStore{store},
		Tracks:            trackStore{store},
		Guard:             ledger.NewGuard(store, engine),
		Engine:            engine,
		Provider:          provider,
		AdminKey:          "test-admin-key",
		WixWebhookSecret:  "wix-secret",
		MakeWebhookSecret: "make-secret",
	}
}

func subscribedAccount(id string, balance int) *domain.Account {
	expires := time.Now().Add(30 * 24 * time.Hour)
	return &domain.Account{
		ID:            id,
		WixUserID:     "wix-" + id,
		Email:         id + "@example.com",
		DisplayName:   "Test " + id,
		PlanID:        domain.PlanPro,
		Balance:       balance,
		TotalGranted:  balance,
		Features:      []string{domain.FeatureGenerate, domain.FeatureLyrics, domain.FeatureExtend, domain.FeatureCover, domain.FeaturePersona},
		AllowedModels: []string{"V4", "V4_5", "V5"},
		Status:        domain.SubscriptionActive,
		ExpiresAt:     &expires,
	}
}

func authedRequest(method, target string, body []byte, wixUserID string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if wixUserID != "" {
		id := &auth.Identity{UserID: wixUserID, Timestamp: time.Now().UnixMilli()}
		req = req.WithContext(middleware.ContextWithIdentity(req.Context(), id))
	}
	return req
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

var errStub = errors.New("stubbed failure")
