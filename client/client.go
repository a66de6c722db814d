// Package client はブログAPIのクライアントSDKを提供する。
// セッションCookieとCSRFトークンの管理を内包し、
// 認証ライフサイクル（登録・ログイン・ログアウト・セッション確認）を
// SessionStoreから利用できる形で公開する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	defaultTimeout = 15 * time.Second
	csrfHeaderName = "X-CSRF-Token"
	csrfTokenPath  = "/api/csrf-token"
)

// APIError はサーバーが返す統一エラーフォーマット。
type APIError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// IsCredentialError は認証情報の誤りによるエラーかどうかを返す。
func IsCredentialError(err error) bool {
	return hasErrorCode(err, "INVALID_CREDENTIALS")
}

// IsSessionExpired はセッション切れによるエラーかどうかを返す。
func IsSessionExpired(err error) bool {
	return hasErrorCode(err, "SESSION_EXPIRED")
}

// Identity は認証済みユーザーのプロフィール。
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Client はブログAPIのHTTPクライアント。
// Cookie jarによりセッションCookieとCSRFトークンCookieを保持する。
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	csrfToken string
}

// New は指定されたベースURLに対するClientを生成する。
func New(baseURL string) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: defaultTimeout,
		},
	}, nil
}

// RegisterProfile は新規登録のプロフィール入力。
type RegisterProfile struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// CreateAccount は新規アカウントを作成する。
// サーバー側でセッションも開始される。
func (c *Client) CreateAccount(ctx context.Context, profile RegisterProfile) (*Identity, error) {
	var identity Identity
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", profile, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// CreateSession はメールアドレスとパスワードでセッションを開始する。
// セッションCookieはjarに保存される。
func (c *Client) CreateSession(ctx context.Context, email, password string) error {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	return c.doJSON(ctx, http.MethodPost, "/auth/login", body, nil)
}

// CurrentIdentity は現在のセッションのユーザー情報を取得する。
// 有効なセッションがない場合はSESSION_EXPIREDのAPIErrorを返す。
func (c *Client) CurrentIdentity(ctx context.Context) (*Identity, error) {
	var identity Identity
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// DeleteSession は現在のセッションを破棄する。
func (c *Client) DeleteSession(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// doJSON はJSONリクエストを送信し、レスポンスをoutにデコードする。
// 状態変更メソッドの場合はCSRFトークンを取得してヘッダーに付与する。
// エラーレスポンスは*APIErrorとして返す。
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if method != http.MethodGet && method != http.MethodHead {
		token, err := c.ensureCSRFToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set(csrfHeaderName, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// ensureCSRFToken はCSRFトークンを取得する。取得済みの場合は再利用する。
func (c *Client) ensureCSRFToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrfToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+csrfTokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch CSRF token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("CSRF token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode CSRF token response: %w", err)
	}

	c.mu.Lock()
	c.csrfToken = body.Token
	c.mu.Unlock()

	return body.Token, nil
}

// decodeAPIError はエラーレスポンスのボディを*APIErrorにデコードする。
// 統一フォーマットでないボディの場合はステータスコードから合成する。
func decodeAPIError(resp *http.Response) error {
	var apiErr APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
		return &APIError{
			Code:     fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:  fmt.Sprintf("サーバーがステータス%dを返しました。", resp.StatusCode),
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}
	return &apiErr
}

// hasErrorCode はエラーが指定コードの*APIErrorかどうかを返す。
func hasErrorCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
