package client

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// --- モック定義 ---

type mockIdentityService struct {
	createAccountFunc   func(ctx context.Context, profile RegisterProfile) (*Identity, error)
	createSessionFunc   func(ctx context.Context, email, password string) error
	currentIdentityFunc func(ctx context.Context) (*Identity, error)
	deleteSessionFunc   func(ctx context.Context) error

	mu                   sync.Mutex
	createSessionCalls   int
	currentIdentityCalls int
	createAccountCalls   int
}

var _ IdentityService = (*mockIdentityService)(nil)

func (m *mockIdentityService) CreateAccount(ctx context.Context, profile RegisterProfile) (*Identity, error) {
	m.mu.Lock()
	m.createAccountCalls++
	m.mu.Unlock()
	if m.createAccountFunc != nil {
		return m.createAccountFunc(ctx, profile)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIdentityService) CreateSession(ctx context.Context, email, password string) error {
	m.mu.Lock()
	m.createSessionCalls++
	m.mu.Unlock()
	if m.createSessionFunc != nil {
		return m.createSessionFunc(ctx, email, password)
	}
	return nil
}

func (m *mockIdentityService) CurrentIdentity(ctx context.Context) (*Identity, error) {
	m.mu.Lock()
	m.currentIdentityCalls++
	m.mu.Unlock()
	if m.currentIdentityFunc != nil {
		return m.currentIdentityFunc(ctx)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIdentityService) DeleteSession(ctx context.Context) error {
	if m.deleteSessionFunc != nil {
		return m.deleteSessionFunc(ctx)
	}
	return nil
}

func sessionExpiredError() *APIError {
	return &APIError{
		Code:     "SESSION_EXPIRED",
		Message:  "セッションが無効または期限切れです。",
		Category: "auth",
	}
}

func testIdentity() *Identity {
	return &Identity{ID: "user-1", Email: "hitoshi@example.com", Name: "Hitoshi"}
}

// --- 初期状態 ---

func TestNewStore_InitialStateIsLoading(t *testing.T) {
	store := NewStore(&mockIdentityService{})

	state := store.State()
	if state.Status != StatusLoading {
		t.Errorf("status = %v, want %v", state.Status, StatusLoading)
	}
	if state.Identity != nil {
		t.Error("identity should be nil before bootstrap")
	}
}

// --- Bootstrap ---

func TestBootstrap_ValidSession_TransitionsToAuthenticated(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
	}
	store := NewStore(svc)

	state := store.Bootstrap(context.Background())

	if state.Status != StatusAuthenticated {
		t.Errorf("status = %v, want %v", state.Status, StatusAuthenticated)
	}
	if state.Identity == nil || state.Identity.ID != "user-1" {
		t.Errorf("identity = %+v, want user-1", state.Identity)
	}
}

func TestBootstrap_ExpiredSession_TransitionsToAnonymous(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return nil, sessionExpiredError()
		},
	}
	store := NewStore(svc)

	state := store.Bootstrap(context.Background())

	if state.Status != StatusAnonymous {
		t.Errorf("status = %v, want %v", state.Status, StatusAnonymous)
	}
	if state.Identity != nil {
		t.Error("identity should be nil when anonymous")
	}
}

func TestBootstrap_NetworkError_AlwaysTerminatesLoading(t *testing.T) {
	// 設定不備やネットワーク障害でもloadingに留まらない
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return nil, errors.New("connection refused")
		},
	}
	store := NewStore(svc)

	state := store.Bootstrap(context.Background())

	if state.Status != StatusAnonymous {
		t.Errorf("status = %v, want %v (loading must always terminate)", state.Status, StatusAnonymous)
	}
}

func TestBootstrap_SecondCall_DoesNotRecheck(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
	}
	store := NewStore(svc)

	store.Bootstrap(context.Background())
	store.Bootstrap(context.Background())

	svc.mu.Lock()
	calls := svc.currentIdentityCalls
	svc.mu.Unlock()
	if calls != 1 {
		t.Errorf("CurrentIdentity calls = %d, want 1", calls)
	}
}

// --- CheckAuth ---

func TestCheckAuth_Failure_TransitionsToAnonymousAndReturnsError(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return nil, sessionExpiredError()
		},
	}
	store := NewStore(svc)

	state, err := store.CheckAuth(context.Background())
	if err == nil {
		t.Fatal("expected error from CheckAuth")
	}
	if state.Status != StatusAnonymous {
		t.Errorf("status = %v, want %v", state.Status, StatusAnonymous)
	}
}

// --- Login ---

func TestLogin_Success_TransitionsToAuthenticated(t *testing.T) {
	svc := &mockIdentityService{
		createSessionFunc: func(ctx context.Context, email, password string) error {
			return nil
		},
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
	}
	store := NewStore(svc)

	identity, err := store.Login(context.Background(), "hitoshi@example.com", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if identity.ID != "user-1" {
		t.Errorf("identity.ID = %q, want user-1", identity.ID)
	}

	state := store.State()
	if state.Status != StatusAuthenticated {
		t.Errorf("status = %v, want %v", state.Status, StatusAuthenticated)
	}
}

func TestLogin_EmptyEmail_NoRemoteCall(t *testing.T) {
	svc := &mockIdentityService{}
	store := NewStore(svc)

	_, err := store.Login(context.Background(), "  ", "password123")
	if err == nil {
		t.Fatal("expected validation error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "MISSING_FIELD" {
		t.Errorf("error = %v, want MISSING_FIELD", err)
	}
	if svc.createSessionCalls != 0 {
		t.Error("CreateSession should not be called when validation fails")
	}
}

func TestLogin_ShortPassword_NoRemoteCall(t *testing.T) {
	svc := &mockIdentityService{}
	store := NewStore(svc)

	_, err := store.Login(context.Background(), "hitoshi@example.com", "short")
	if err == nil {
		t.Fatal("expected validation error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "WEAK_PASSWORD" {
		t.Errorf("error = %v, want WEAK_PASSWORD", err)
	}
	if svc.createSessionCalls != 0 {
		t.Error("CreateSession should not be called for a short password")
	}
}

func TestLogin_InvalidCredentials_StatePreserved(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return nil, sessionExpiredError()
		},
	}
	store := NewStore(svc)
	store.Bootstrap(context.Background()) // anonymousに遷移

	svc.createSessionFunc = func(ctx context.Context, email, password string) error {
		return &APIError{Code: "INVALID_CREDENTIALS", Category: "auth"}
	}

	_, err := store.Login(context.Background(), "hitoshi@example.com", "wrongpassword")
	if err == nil {
		t.Fatal("expected login error")
	}
	if !IsCredentialError(err) {
		t.Errorf("IsCredentialError(%v) = false, want true", err)
	}

	if state := store.State(); state.Status != StatusAnonymous {
		t.Errorf("status = %v, want %v (failed login must not change state)", state.Status, StatusAnonymous)
	}
}

func TestLogin_SecondLoginWhileInFlight_Rejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	svc := &mockIdentityService{
		createSessionFunc: func(ctx context.Context, email, password string) error {
			close(started)
			<-release
			return nil
		},
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
	}
	store := NewStore(svc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Login(context.Background(), "hitoshi@example.com", "password123")
	}()

	<-started
	_, err := store.Login(context.Background(), "hitoshi@example.com", "password123")
	if !errors.Is(err, ErrLoginInFlight) {
		t.Errorf("error = %v, want ErrLoginInFlight", err)
	}

	close(release)
	<-done
}

// --- Register ---

func TestRegister_Success_TransitionsToAuthenticated(t *testing.T) {
	svc := &mockIdentityService{
		createAccountFunc: func(ctx context.Context, profile RegisterProfile) (*Identity, error) {
			return &Identity{ID: "user-2", Email: profile.Email, Name: profile.Name}, nil
		},
	}
	store := NewStore(svc)

	identity, err := store.Register(context.Background(), RegisterProfile{
		Name:            "Hitoshi",
		Email:           "hitoshi@example.com",
		Password:        "password123",
		PasswordConfirm: "password123",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if identity.ID != "user-2" {
		t.Errorf("identity.ID = %q, want user-2", identity.ID)
	}

	if state := store.State(); state.Status != StatusAuthenticated {
		t.Errorf("status = %v, want %v", state.Status, StatusAuthenticated)
	}
}

func TestRegister_PasswordMismatch_NoRemoteCall(t *testing.T) {
	svc := &mockIdentityService{}
	store := NewStore(svc)

	_, err := store.Register(context.Background(), RegisterProfile{
		Name:            "Hitoshi",
		Email:           "hitoshi@example.com",
		Password:        "password123",
		PasswordConfirm: "different123",
	})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "PASSWORD_MISMATCH" {
		t.Errorf("error = %v, want PASSWORD_MISMATCH", err)
	}
	if svc.createAccountCalls != 0 {
		t.Error("CreateAccount should not be called when validation fails")
	}
}

func TestRegister_MissingName_NoRemoteCall(t *testing.T) {
	svc := &mockIdentityService{}
	store := NewStore(svc)

	_, err := store.Register(context.Background(), RegisterProfile{
		Name:            "",
		Email:           "hitoshi@example.com",
		Password:        "password123",
		PasswordConfirm: "password123",
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "MISSING_FIELD" {
		t.Errorf("error = %v, want MISSING_FIELD", err)
	}
	if svc.createAccountCalls != 0 {
		t.Error("CreateAccount should not be called when validation fails")
	}
}

// --- Logout ---

func TestLogout_TransitionsToAnonymous(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
	}
	store := NewStore(svc)
	store.Bootstrap(context.Background())

	store.Logout(context.Background())

	state := store.State()
	if state.Status != StatusAnonymous {
		t.Errorf("status = %v, want %v", state.Status, StatusAnonymous)
	}
	if state.Identity != nil {
		t.Error("identity should be nil after logout")
	}
}

func TestLogout_BackendUnreachable_StillAnonymous(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
		deleteSessionFunc: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	}
	store := NewStore(svc)
	store.Bootstrap(context.Background())

	store.Logout(context.Background())

	if state := store.State(); state.Status != StatusAnonymous {
		t.Errorf("status = %v, want %v (logout is best-effort)", state.Status, StatusAnonymous)
	}
}

// --- リスナー ---

func TestSubscribe_NotifiedOnTransition(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
	}
	store := NewStore(svc)

	var notified []Status
	store.Subscribe(func(state State) {
		notified = append(notified, state.Status)
	})

	store.Bootstrap(context.Background())

	if len(notified) != 1 || notified[0] != StatusAuthenticated {
		t.Errorf("notified = %v, want [authenticated]", notified)
	}
}

func TestSubscribe_Unsubscribed_NotNotified(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
	}
	store := NewStore(svc)

	notified := false
	unsubscribe := store.Subscribe(func(state State) {
		notified = true
	})
	unsubscribe()

	store.Bootstrap(context.Background())

	if notified {
		t.Error("unsubscribed listener should not be notified")
	}
}

// --- 遅延結果の破棄 ---

func TestTransition_StaleResult_Discarded(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
	}
	store := NewStore(svc)

	// gen=0の時点の遷移を保留している間にログアウトが完了したケース
	staleGen := uint64(0)
	store.transition(staleGen, StatusAnonymous, nil) // gen: 0→1

	// 遅延して到着したauthenticated遷移は破棄される
	store.transition(staleGen, StatusAuthenticated, testIdentity())

	if state := store.State(); state.Status != StatusAnonymous {
		t.Errorf("status = %v, want %v (stale result must be discarded)", state.Status, StatusAnonymous)
	}
}

func TestTransition_AnonymousAlwaysApplies(t *testing.T) {
	store := NewStore(&mockIdentityService{})

	store.transition(0, StatusAuthenticated, testIdentity()) // gen: 0→1

	// 古いgenでもanonymousへの遷移は常に適用される（ログアウト優先）
	store.transition(0, StatusAnonymous, nil)

	if state := store.State(); state.Status != StatusAnonymous {
		t.Errorf("status = %v, want %v", state.Status, StatusAnonymous)
	}
}

// --- スナップショットの独立性 ---

func TestState_ReturnsIndependentCopy(t *testing.T) {
	svc := &mockIdentityService{
		currentIdentityFunc: func(ctx context.Context) (*Identity, error) {
			return testIdentity(), nil
		},
	}
	store := NewStore(svc)
	store.Bootstrap(context.Background())

	state := store.State()
	state.Identity.Name = "書き換え"

	if got := store.State().Identity.Name; got != "Hitoshi" {
		t.Errorf("internal identity mutated via snapshot: name = %q", got)
	}
}
