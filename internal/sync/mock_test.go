package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stitchcal/stitch/internal/core"
)

// --- Mock account store ------------------------------------------------------

type mockAccounts struct {
	mu       sync.Mutex
	accounts map[string]*core.CalendarAccount

	finishStatus core.SyncStatus
	finishErr    string
}

func newMockAccounts(accts ...*core.CalendarAccount) *mockAccounts {
	m := &mockAccounts{accounts: make(map[string]*core.CalendarAccount)}
	for _, a := range accts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *mockAccounts) GetAccount(_ context.Context, id string) (*core.CalendarAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccounts) UpsertAccount(_ context.Context, acct *core.CalendarAccount) (*core.CalendarAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct.ID == "" {
		acct.ID = fmt.Sprintf("acct-%d", len(m.accounts)+1)
	}
	cp := *acct
	m.accounts[cp.ID] = &cp
	return &cp, nil
}

func (m *mockAccounts) UpdateCredentials(_ context.Context, id string, sealed []byte, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.Credentials = sealed
		a.TokenExpiry = expiry
	}
	return nil
}

func (m *mockAccounts) BeginSync(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || !a.IsActive || a.SyncStatus == core.SyncSyncing {
		return false, nil
	}
	a.SyncStatus = core.SyncSyncing
	return true, nil
}

func (m *mockAccounts) FinishSync(_ context.Context, id string, status core.SyncStatus, syncErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.SyncStatus = status
		a.SyncError = syncErr
	}
	m.finishStatus = status
	m.finishErr = syncErr
	return nil
}

func (m *mockAccounts) ListActiveAccounts(_ context.Context) ([]core.CalendarAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.CalendarAccount
	for _, a := range m.accounts {
		if a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

// --- Mock calendar store -----------------------------------------------------

type mockCalendars struct {
	mu        sync.Mutex
	calendars []core.Calendar
	// calendar id → saved token, in save order
	savedTokens map[string]string
	saveOrder   []string
}

func newMockCalendars(cals ...core.Calendar) *mockCalendars {
	return &mockCalendars{calendars: cals, savedTokens: make(map[string]string)}
}

func (m *mockCalendars) UpsertCalendars(_ context.Context, _ string, cals []core.Calendar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendars = cals
	return nil
}

func (m *mockCalendars) ListEnabledCalendars(_ context.Context, _ string) ([]core.Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Calendar
	for _, c := range m.calendars {
		if c.IsEnabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCalendars) SaveSyncToken(_ context.Context, calendarID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedTokens[calendarID] = token
	m.saveOrder = append(m.saveOrder, calendarID)
	return nil
}

// --- Mock event store --------------------------------------------------------

type applyRecord struct {
	op         string // "upsert" or "delete"
	calendarID string
	count      int
}

type mockEvents struct {
	mu      sync.Mutex
	applied []applyRecord
	failOn  string // calendar id whose upsert fails
}

func (m *mockEvents) UpsertEvents(_ context.Context, _, calendarID string, events []core.CanonicalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == calendarID {
		return fmt.Errorf("storage full")
	}
	m.applied = append(m.applied, applyRecord{op: "upsert", calendarID: calendarID, count: len(events)})
	return nil
}

func (m *mockEvents) DeleteByExternalID(_ context.Context, _, calendarID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, applyRecord{op: "delete", calendarID: calendarID, count: len(ids)})
	return nil
}

// --- Mock provider -----------------------------------------------------------

type listCall struct {
	calendarID string
	opts       core.ListOptions
}

type mockProvider struct {
	mu    sync.Mutex
	kind  core.ProviderKind
	calls []listCall

	// per-calendar canned results
	results map[string]core.SyncResult
	// calendar ids that reject their first token-mode call
	rejectToken map[string]bool

	refreshed     core.Credentials
	refreshCalled bool
	refreshErr    error
}

func newMockProvider(kind core.ProviderKind) *mockProvider {
	return &mockProvider{
		kind:        kind,
		results:     make(map[string]core.SyncResult),
		rejectToken: make(map[string]bool),
	}
}

func (p *mockProvider) Kind() core.ProviderKind { return p.kind }

func (p *mockProvider) AuthURL(state string) (string, error) {
	return "https://example.com/auth?state=" + state, nil
}

func (p *mockProvider) ExchangeCode(context.Context, string) (core.Credentials, core.Identity, error) {
	return core.Credentials{}, core.Identity{}, core.ErrNotSupported
}

func (p *mockProvider) RefreshTokens(_ context.Context, _ core.Credentials) (core.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalled = true
	if p.refreshErr != nil {
		return core.Credentials{}, p.refreshErr
	}
	return p.refreshed, nil
}

func (p *mockProvider) ListCalendars(context.Context, core.Credentials) ([]core.Calendar, error) {
	return nil, nil
}

func (p *mockProvider) ListEvents(_ context.Context, _ core.Credentials, calendarID string, opts core.ListOptions) (core.SyncResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, listCall{calendarID: calendarID, opts: opts})

	if opts.SyncToken != "" && p.rejectToken[calendarID] {
		p.rejectToken[calendarID] = false
		return core.SyncResult{}, fmt.Errorf("stored token rejected: %w", core.ErrSyncTokenInvalid)
	}
	return p.results[calendarID], nil
}

// --- Plaintext credential box ------------------------------------------------

// plainBox passes credentials through unencrypted for tests.
type plainBox struct{}

func (plainBox) SealCredentials(c core.Credentials) ([]byte, error) {
	return []byte(c.AccessToken + "|" + c.RefreshToken), nil
}

func (plainBox) OpenCredentials(b []byte) (core.Credentials, error) {
	return core.Credentials{AccessToken: string(b)}, nil
}

// --- Recording notifier ------------------------------------------------------

type mockNotifier struct {
	mu       sync.Mutex
	messages []struct {
		userID  string
		event   string
		payload any
	}
}

func (n *mockNotifier) Publish(userID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, struct {
		userID  string
		event   string
		payload any
	}{userID, event, payload})
}
