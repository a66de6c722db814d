// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, post, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodePasswordMismatch   = "PASSWORD_MISMATCH"
	ErrCodeMissingField       = "MISSING_FIELD"
	ErrCodeSessionExpired     = "SESSION_EXPIRED"
	ErrCodePostNotFound       = "POST_NOT_FOUND"
	ErrCodeNotPostOwner       = "NOT_POST_OWNER"
	ErrCodeImageNotFound      = "IMAGE_NOT_FOUND"
	ErrCodeImageTooLarge      = "IMAGE_TOO_LARGE"
	ErrCodeUnsupportedImage   = "UNSUPPORTED_IMAGE"
	ErrCodeInvalidImageURL    = "INVALID_IMAGE_URL"
	ErrCodeImageFetchFailed   = "IMAGE_FETCH_FAILED"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
)

// minPasswordLength はパスワードの最小文字数。
// クライアント側の事前検証とサーバー側の検証で同じ値を使う。
const MinPasswordLength = 8

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// メールアドレス未登録とパスワード不一致を呼び出し側から区別できないようにする。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  fmt.Sprintf("このメールアドレスは既に登録されています: %s", email),
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewWeakPasswordError はパスワード強度不足エラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%d文字以上で入力してください。", MinPasswordLength),
		Category: "validation",
		Action:   fmt.Sprintf("%d文字以上のパスワードを設定してください。", MinPasswordLength),
	}
}

// NewPasswordMismatchError はパスワード確認不一致エラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "パスワードと確認用パスワードが一致しません。",
		Category: "validation",
		Action:   "同じパスワードを2回入力してください。",
	}
}

// NewMissingFieldError は必須フィールド未入力エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("%s は必須項目です。", field),
		Category: "validation",
		Action:   "すべての必須項目を入力してください。",
	}
}

// NewSessionExpiredError はセッション無効エラーを生成する。
// 未ログイン状態は異常ではなく通常の状態として扱う。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションが無効または期限切れです。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewPostNotFoundError は記事未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", postID),
		Category: "post",
		Action:   "記事IDを確認してください。",
	}
}

// NewNotPostOwnerError は記事の所有者以外による変更操作エラーを生成する。
func NewNotPostOwnerError() *APIError {
	return &APIError{
		Code:     ErrCodeNotPostOwner,
		Message:  "この記事を編集・削除できるのは作成者のみです。",
		Category: "auth",
		Action:   "自分が作成した記事のみ編集・削除できます。",
	}
}

// NewImageNotFoundError は画像未検出エラーを生成する。
func NewImageNotFoundError(imageID string) *APIError {
	return &APIError{
		Code:     ErrCodeImageNotFound,
		Message:  fmt.Sprintf("指定された画像が見つかりません: %s", imageID),
		Category: "post",
		Action:   "画像IDを確認してください。",
	}
}

// NewImageTooLargeError は画像サイズ超過エラーを生成する。
func NewImageTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeImageTooLarge,
		Message:  fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", maxBytes),
		Category: "validation",
		Action:   "より小さい画像を使用してください。",
	}
}

// NewUnsupportedImageError は非対応の画像形式エラーを生成する。
func NewUnsupportedImageError(mimeType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedImage,
		Message:  fmt.Sprintf("対応していない画像形式です: %s", mimeType),
		Category: "validation",
		Action:   "JPEG、PNG、GIF、WebP形式の画像を使用してください。",
	}
}

// NewInvalidImageURLError は無効な画像URLエラーを生成する。
func NewInvalidImageURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImageURL,
		Message:  fmt.Sprintf("無効な画像URLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewImageFetchFailedError は画像取得失敗エラーを生成する。
func NewImageFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeImageFetchFailed,
		Message:  fmt.Sprintf("画像の取得に失敗しました: %s", reason),
		Category: "post",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
