package client

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Status はSessionStoreの状態を表す。
// 常にいずれか1つの状態のみが成立する。
type Status string

const (
	// StatusLoading は初回のセッション確認が完了していない状態。
	// Bootstrap完了後に再突入することはない。
	StatusLoading Status = "loading"
	// StatusAuthenticated は有効なセッションとIdentityを保持している状態。
	StatusAuthenticated Status = "authenticated"
	// StatusAnonymous は未認証の状態。エラーではなく正常な状態。
	StatusAnonymous Status = "anonymous"
)

// minPasswordLength はパスワードの最小文字数。サーバー側のポリシーと一致させる。
const minPasswordLength = 8

// ErrLoginInFlight は別のログイン処理の実行中に新たなログインが要求されたことを示す。
var ErrLoginInFlight = &APIError{
	Code:     "LOGIN_IN_FLIGHT",
	Message:  "ログイン処理が進行中です。",
	Category: "validation",
	Action:   "処理が完了するまでお待ちください。",
}

// IdentityService はSessionStoreが依存するリモート認証サービスの契約。
// *Clientがこのインターフェースを満たす。
type IdentityService interface {
	CreateAccount(ctx context.Context, profile RegisterProfile) (*Identity, error)
	CreateSession(ctx context.Context, email, password string) error
	CurrentIdentity(ctx context.Context) (*Identity, error)
	DeleteSession(ctx context.Context) error
}

var _ IdentityService = (*Client)(nil)

// State はSessionStoreの観測可能なスナップショット。
type State struct {
	Status   Status
	Identity *Identity // StatusAuthenticatedの場合のみ非nil
}

// Store は「現在誰がこのアプリケーションを使っているか」の単一の情報源。
//
// 状態機械: loading → {authenticated, anonymous}、
// authenticated → anonymous（ログアウト・再検証失敗）、
// anonymous → authenticated（ログイン・登録成功）。
// loadingへの再突入はない。終端状態はなく、プロセスの生存中は遷移を繰り返す。
type Store struct {
	service IdentityService

	mu            sync.Mutex
	status        Status
	identity      *Identity
	gen           uint64 // 状態遷移ごとに増加。遅延して到着した結果の適用を防ぐ
	loginInFlight bool
	bootstrapped  bool

	listeners  map[int]func(State)
	nextListen int
}

// NewStore はStoreを生成する。初期状態はStatusLoading。
func NewStore(service IdentityService) *Store {
	return &Store{
		service:   service,
		status:    StatusLoading,
		listeners: make(map[int]func(State)),
	}
}

// State は現在の状態のスナップショットを返す。
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe は状態遷移の通知リスナーを登録し、解除関数を返す。
// 解除後のリスナーには遅延して到着した結果も通知されない。
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Bootstrap はプロセス起動時に1回だけ呼ばれるセッション確認。
// 成功時はauthenticated、あらゆる失敗（セッションなし・期限切れ・
// ネットワーク障害・設定不備）でanonymousに遷移する。
// 結果に関わらず必ずloadingを終了させる。エラーは返さない。
func (s *Store) Bootstrap(ctx context.Context) State {
	s.mu.Lock()
	if s.bootstrapped {
		defer s.mu.Unlock()
		return s.snapshotLocked()
	}
	s.bootstrapped = true
	gen := s.gen
	s.mu.Unlock()

	identity, err := s.service.CurrentIdentity(ctx)
	if err != nil {
		if !IsSessionExpired(err) {
			// セッション切れは正常な結果として扱い、それ以外のみ記録する
			slog.Warn("session bootstrap failed", slog.String("error", err.Error()))
		}
		s.transition(gen, StatusAnonymous, nil)
	} else {
		s.transition(gen, StatusAuthenticated, identity)
	}

	return s.State()
}

// CheckAuth はセッションの再検証を行う。Bootstrapと同じ契約だが、
// いつでも呼び出せて、失敗時はanonymousに遷移した上でエラーを返す。
// 変更操作の直前にサーバー側のセッション切れを検出する用途に使う。
func (s *Store) CheckAuth(ctx context.Context) (State, error) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	identity, err := s.service.CurrentIdentity(ctx)
	if err != nil {
		s.transition(gen, StatusAnonymous, nil)
		return s.State(), err
	}

	s.transition(gen, StatusAuthenticated, identity)
	return s.State(), nil
}

// Login はメールアドレスとパスワードでログインする。
// 事前検証（メール非空・パスワード8文字以上）に失敗した場合は
// リモート呼び出しを行わず即座にエラーを返す。
// ログイン処理の多重実行は拒否する。
// 失敗時は呼び出し前の状態を維持する（既存セッションを破棄しない）。
func (s *Store) Login(ctx context.Context, email, password string) (*Identity, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.loginInFlight {
		s.mu.Unlock()
		return nil, ErrLoginInFlight
	}
	s.loginInFlight = true
	gen := s.gen
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loginInFlight = false
		s.mu.Unlock()
	}()

	if err := s.service.CreateSession(ctx, email, password); err != nil {
		// 状態は変更しない
		return nil, err
	}

	identity, err := s.service.CurrentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	s.transition(gen, StatusAuthenticated, identity)
	return identity, nil
}

// Register は新規アカウントを作成し、セッションを開始する。
// 事前検証（全フィールド非空・パスワード8文字以上・確認一致）に
// 失敗した場合はリモート呼び出しを行わず即座にエラーを返す。
// 失敗時は既存の状態を維持する。
func (s *Store) Register(ctx context.Context, profile RegisterProfile) (*Identity, error) {
	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	identity, err := s.service.CreateAccount(ctx, profile)
	if err != nil {
		return nil, err
	}

	s.transition(gen, StatusAuthenticated, identity)
	return identity, nil
}

// Logout はセッションを破棄する。
// リモート呼び出しはベストエフォートで、到達できなくても
// ローカル状態は必ずanonymousに遷移する。エラーは返さない。
func (s *Store) Logout(ctx context.Context) {
	if err := s.service.DeleteSession(ctx); err != nil {
		slog.Warn("remote logout failed, clearing local session anyway",
			slog.String("error", err.Error()),
		)
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	s.transition(gen, StatusAnonymous, nil)
}

// transition は状態遷移を適用し、リスナーに通知する。
// 呼び出し元が遷移を開始した時点のgenと現在のgenが一致しない場合、
// 別の操作が先に完了しているため遅延結果として破棄する。
// ただしanonymousへの遷移（ログアウト・再検証失敗）は常に適用する。
func (s *Store) transition(gen uint64, status Status, identity *Identity) {
	s.mu.Lock()

	if s.gen != gen && status != StatusAnonymous {
		s.mu.Unlock()
		return
	}

	s.gen++
	s.status = status
	s.identity = identity

	state := s.snapshotLocked()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// snapshotLocked は現在の状態のコピーを返す。muを保持して呼ぶこと。
func (s *Store) snapshotLocked() State {
	var identity *Identity
	if s.identity != nil {
		copied := *s.identity
		identity = &copied
	}
	return State{
		Status:   s.status,
		Identity: identity,
	}
}

// validateCredentials はログイン入力の事前検証を行う。
func validateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return newMissingFieldError("email")
	}
	if len(password) < minPasswordLength {
		return newWeakPasswordError()
	}
	return nil
}

// validateProfile は登録入力の事前検証を行う。
func validateProfile(profile RegisterProfile) error {
	if strings.TrimSpace(profile.Name) == "" {
		return newMissingFieldError("name")
	}
	if strings.TrimSpace(profile.Email) == "" {
		return newMissingFieldError("email")
	}
	if profile.Password == "" {
		return newMissingFieldError("password")
	}
	if len(profile.Password) < minPasswordLength {
		return newWeakPasswordError()
	}
	if profile.Password != profile.PasswordConfirm {
		return newPasswordMismatchError()
	}
	return nil
}

// newMissingFieldError は必須フィールド未入力のエラーを生成する。
func newMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     "MISSING_FIELD",
		Message:  "必須項目が入力されていません: " + field,
		Category: "validation",
		Action:   "すべての項目を入力してください。",
	}
}

// newWeakPasswordError はパスワード文字数不足のエラーを生成する。
func newWeakPasswordError() *APIError {
	return &APIError{
		Code:     "WEAK_PASSWORD",
		Message:  "パスワードは8文字以上で入力してください。",
		Category: "validation",
		Action:   "8文字以上のパスワードを設定してください。",
	}
}

// newPasswordMismatchError は確認用パスワード不一致のエラーを生成する。
func newPasswordMismatchError() *APIError {
	return &APIError{
		Code:     "PASSWORD_MISMATCH",
		Message:  "パスワードと確認用パスワードが一致しません。",
		Category: "validation",
		Action:   "同じパスワードを2回入力してください。",
	}
}
