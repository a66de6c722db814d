package client

// Decision はルートガードの判定結果。
type Decision int

const (
	// DecisionWait はセッション確認中のため描画を保留することを示す。
	DecisionWait Decision = iota
	// DecisionAllow は保護されたコンテンツの描画を許可することを示す。
	DecisionAllow
	// DecisionRedirectToLogin はログイン画面へのリダイレクトを示す。
	DecisionRedirectToLogin
)

// DefaultLoginPath はリダイレクト先の既定のログイン画面パス。
const DefaultLoginPath = "/login"

// Guard は保護されたビューをauthenticated状態の背後にゲートする。
// SessionStoreの状態の純粋関数であり、ネットワーク呼び出しは行わない。
// 未認証はエラーではなく正常な状態として扱う。
type Guard struct {
	// LoginPath はanonymous時のリダイレクト先。空の場合はDefaultLoginPath。
	LoginPath string
}

// Evaluate は現在の状態から保護ルートの扱いを判定する。
func (g *Guard) Evaluate(status Status) Decision {
	switch status {
	case StatusAuthenticated:
		return DecisionAllow
	case StatusAnonymous:
		return DecisionRedirectToLogin
	default:
		return DecisionWait
	}
}

// RedirectTarget はリダイレクト先のログイン画面パスを返す。
func (g *Guard) RedirectTarget() string {
	if g.LoginPath == "" {
		return DefaultLoginPath
	}
	return g.LoginPath
}

// Record は所有権判定の対象となるコンテンツの最小属性。
type Record struct {
	ID       string
	AuthorID string
}

// CanMutate は現在のユーザーがレコードを編集・削除できるかを返す。
// UIの表示制御のための助言的な判定であり、権限の強制はサーバーが行う。
// この判定が許可側に誤っても、サーバーの拒否は通常のエラーとして扱われる。
// 未認証（identityがnilまたはIDが空）の場合は常にfalse。
func CanMutate(record Record, identity *Identity) bool {
	return identity != nil && identity.ID != "" && record.AuthorID == identity.ID
}
