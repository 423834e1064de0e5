package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable Clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// memoryTokenStore is an in-memory TokenStore with the same semantics as the
// Postgres and Redis repositories
type memoryTokenStore struct {
	mu     sync.Mutex
	tokens []*models.Token
	seq    int

	// afterFind runs once after the next FindByCodeHash, outside the lock
	afterFind func()
}

func newMemoryTokenStore() *memoryTokenStore { return &memoryTokenStore{} }

func (s *memoryTokenStore) Insert(ctx context.Context, token *models.Token) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	stored := *token
	stored.ID = fmt.Sprintf("tok-%d", s.seq)
	s.tokens = append(s.tokens, &stored)
	out := stored
	return &out, nil
}

func (s *memoryTokenStore) DeactivateActive(ctx context.Context, kind models.TokenKind, subjectKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tokens {
		if t.Kind == kind && t.SubjectKey == subjectKey && t.Active {
			t.Active = false
			n++
		}
	}
	return n, nil
}

func (s *memoryTokenStore) ConsumeToken(ctx context.Context, token *models.Token, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.ID == token.ID && t.Active {
			t.Active = false
			consumed := at
			t.ConsumedAt = &consumed
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryTokenStore) RestoreToken(ctx context.Context, token *models.Token, consumedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *models.Token
	for _, t := range s.tokens {
		if t.Kind != token.Kind || t.SubjectKey != token.SubjectKey {
			continue
		}
		if t.ID == token.ID {
			target = t
			continue
		}
		if t.Active || t.CreatedAt.After(token.CreatedAt) {
			return false, nil
		}
	}
	if target == nil || target.Active || target.ConsumedAt == nil || !target.ConsumedAt.Equal(consumedAt) {
		return false, nil
	}
	target.Active = true
	target.ConsumedAt = nil
	return true, nil
}

func (s *memoryTokenStore) inWindow(kind models.TokenKind, subjectKey string, from, to time.Time) []*models.Token {
	var out []*models.Token
	for _, t := range s.tokens {
		if t.Kind == kind && t.SubjectKey == subjectKey && t.CreatedAt.After(from) && t.CreatedAt.Before(to) {
			out = append(out, t)
		}
	}
	return out
}

func (s *memoryTokenStore) CountCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inWindow(kind, subjectKey, from, to)), nil
}

func (s *memoryTokenStore) OldestCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *time.Time
	for _, t := range s.inWindow(kind, subjectKey, from, to) {
		if oldest == nil || t.CreatedAt.Before(*oldest) {
			at := t.CreatedAt
			oldest = &at
		}
	}
	return oldest, nil
}

func (s *memoryTokenStore) FindByCodeHash(ctx context.Context, kind models.TokenKind, codeHash string) ([]*models.Token, error) {
	out := s.findByCodeHash(kind, codeHash)
	if hook := s.takeAfterFind(); hook != nil {
		hook()
	}
	return out, nil
}

func (s *memoryTokenStore) takeAfterFind() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	hook := s.afterFind
	s.afterFind = nil
	return hook
}

func (s *memoryTokenStore) findByCodeHash(kind models.TokenKind, codeHash string) []*models.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Token
	for _, t := range s.tokens {
		if t.Kind == kind && t.CodeHash == codeHash {
			c := *t
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *memoryTokenStore) all() []models.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Token, len(s.tokens))
	for i, t := range s.tokens {
		out[i] = *t
	}
	return out
}

// MockTokenStore implements TokenStore for error injection
type MockTokenStore struct {
	InsertFunc               func(ctx context.Context, token *models.Token) (*models.Token, error)
	DeactivateActiveFunc     func(ctx context.Context, kind models.TokenKind, subjectKey string) (int64, error)
	ConsumeTokenFunc         func(ctx context.Context, token *models.Token, at time.Time) (bool, error)
	RestoreTokenFunc         func(ctx context.Context, token *models.Token, consumedAt time.Time) (bool, error)
	FindByCodeHashFunc       func(ctx context.Context, kind models.TokenKind, codeHash string) ([]*models.Token, error)
	CountCreatedBetweenFunc  func(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (int, error)
	OldestCreatedBetweenFunc func(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (*time.Time, error)
}

func (m *MockTokenStore) Insert(ctx context.Context, token *models.Token) (*models.Token, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, token)
	}
	stored := *token
	return &stored, nil
}

func (m *MockTokenStore) DeactivateActive(ctx context.Context, kind models.TokenKind, subjectKey string) (int64, error) {
	if m.DeactivateActiveFunc != nil {
		return m.DeactivateActiveFunc(ctx, kind, subjectKey)
	}
	return 0, nil
}

func (m *MockTokenStore) ConsumeToken(ctx context.Context, token *models.Token, at time.Time) (bool, error) {
	if m.ConsumeTokenFunc != nil {
		return m.ConsumeTokenFunc(ctx, token, at)
	}
	return false, nil
}

func (m *MockTokenStore) RestoreToken(ctx context.Context, token *models.Token, consumedAt time.Time) (bool, error) {
	if m.RestoreTokenFunc != nil {
		return m.RestoreTokenFunc(ctx, token, consumedAt)
	}
	return false, nil
}

func (m *MockTokenStore) FindByCodeHash(ctx context.Context, kind models.TokenKind, codeHash string) ([]*models.Token, error) {
	if m.FindByCodeHashFunc != nil {
		return m.FindByCodeHashFunc(ctx, kind, codeHash)
	}
	return nil, nil
}

func (m *MockTokenStore) CountCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (int, error) {
	if m.CountCreatedBetweenFunc != nil {
		return m.CountCreatedBetweenFunc(ctx, kind, subjectKey, from, to)
	}
	return 0, nil
}

func (m *MockTokenStore) OldestCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (*time.Time, error) {
	if m.OldestCreatedBetweenFunc != nil {
		return m.OldestCreatedBetweenFunc(ctx, kind, subjectKey, from, to)
	}
	return nil, nil
}

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc        func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.Account, error)
	CreateFunc         func(ctx context.Context, account *models.Account) (*models.Account, error)
	ActivateFunc       func(ctx context.Context, id string) error
	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string) error
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) Activate(ctx context.Context, id string) error {
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

// memoryAccounts is a minimal account table keyed by email, with conditional activation
type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newMemoryAccounts(accounts ...*models.Account) *memoryAccounts {
	m := &memoryAccounts{accounts: map[string]*models.Account{}}
	for _, a := range accounts {
		m.accounts[a.Email] = a
	}
	return m
}

func (m *memoryAccounts) repo() *MockAccountRepository {
	return &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, a := range m.accounts {
				if a.ID == id {
					c := *a
					return &c, nil
				}
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.Account, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if a, ok := m.accounts[email]; ok {
				c := *a
				return &c, nil
			}
			return nil, models.ErrNotFound
		},
		CreateFunc: func(ctx context.Context, account *models.Account) (*models.Account, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.accounts[account.Email]; ok {
				return nil, models.ErrConflict
			}
			c := *account
			c.ID = fmt.Sprintf("acc-%d", len(m.accounts)+1)
			m.accounts[c.Email] = &c
			out := c
			return &out, nil
		},
		ActivateFunc: func(ctx context.Context, id string) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, a := range m.accounts {
				if a.ID == id {
					if a.Active {
						return models.ErrAlreadyActive
					}
					a.Active = true
					return nil
				}
			}
			return models.ErrNotFound
		},
		UpdatePasswordFunc: func(ctx context.Context, id, passwordHash string) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, a := range m.accounts {
				if a.ID == id {
					a.PasswordHash = passwordHash
					changed := time.Now()
					a.PasswordChangedAt = &changed
					return nil
				}
			}
			return models.ErrNotFound
		},
	}
}

func (m *memoryAccounts) get(email string) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[email]
}

// MockNotifier records notifications
type MockNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (m *MockNotifier) Notify(ctx context.Context, n models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
}

func (m *MockNotifier) Sent() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.sent...)
}

func (m *MockNotifier) Last() models.Notification {
	sent := m.Sent()
	if len(sent) == 0 {
		return models.Notification{}
	}
	return sent[len(sent)-1]
}

// MockSessionEstablisher implements SessionEstablisher for testing
type MockSessionEstablisher struct {
	mu                  sync.Mutex
	calls               int
	GenerateSessionFunc func(account *models.Account) (*models.Session, error)
}

func (m *MockSessionEstablisher) GenerateSession(account *models.Account) (*models.Session, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.GenerateSessionFunc != nil {
		return m.GenerateSessionFunc(account)
	}
	return &models.Session{AccessToken: "access-" + account.ID, RefreshToken: "refresh-" + account.ID, TokenType: "Bearer"}, nil
}

func (m *MockSessionEstablisher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// memoryRevoker is a jti blacklist that refuses duplicates like the revoked_tokens primary key
type memoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]string
	err     error
}

func newMemoryRevoker() *memoryRevoker {
	return &memoryRevoker{revoked: map[string]string{}}
}

func (m *memoryRevoker) RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.revoked[jti]; ok {
		return models.ErrConflict
	}
	m.revoked[jti] = reason
	return nil
}

func (m *memoryRevoker) reason(jti string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.revoked[jti]
	return r, ok
}

// noDelay implements TimingDelayer without sleeping
type noDelay struct{}

func (noDelay) WaitFrom(start time.Time, success bool) {}

// tokenFixture wires the token components around one in-memory store
type tokenFixture struct {
	store    *memoryTokenStore
	clock    *fakeClock
	notifier *MockNotifier
	limiter  *RateLimitService
	issuer   *TokenIssuer
	verifier *TokenVerifier
}

var testEpoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTokenFixture() *tokenFixture {
	store := newMemoryTokenStore()
	clock := newFakeClock(testEpoch)
	notifier := &MockNotifier{}
	logger := testLogger()

	return &tokenFixture{
		store:    store,
		clock:    clock,
		notifier: notifier,
		limiter:  NewRateLimitService(store, DefaultRateLimitConfig(), clock, logger),
		issuer:   NewTokenIssuer(store, notifier, clock, logger),
		verifier: NewTokenVerifier(store, clock, 15*time.Minute, logger),
	}
}

// at moves the clock to testEpoch plus d
func (f *tokenFixture) at(d time.Duration) {
	f.clock.Set(testEpoch.Add(d))
}
