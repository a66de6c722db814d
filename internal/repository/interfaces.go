// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/blogman/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す番兵エラー。
// サービス層でユーザー向けのEMAIL_TAKENエラーに変換される。
var ErrDuplicateEmail = &model.APIError{
	Code:     model.ErrCodeEmailTaken,
	Message:  "このメールアドレスは既に登録されています。",
	Category: "validation",
	Action:   "別のメールアドレスを使用するか、ログインしてください。",
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが重複している場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、posts、images、likesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PostRepository は記事データの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	// viewerIDが空でない場合、LikedByMeを付与する。
	FindByID(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error)

	// List は全記事をcreated_at降順でカーソルページネーション付きで取得する。
	// cursorがゼロ値の場合は先頭から取得する。
	List(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error)

	// ListByAuthor は指定ユーザーの記事をcreated_at降順で取得する。
	ListByAuthor(ctx context.Context, authorID, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error)

	// Create は記事を作成する。
	Create(ctx context.Context, post *model.Post) error

	// Update は記事のtitle、content、summary、image_id、updated_atを更新する。
	// author_idとauthor_nameは作成時の値を変更しない。
	Update(ctx context.Context, post *model.Post) error

	// DeleteByID は指定IDの記事を削除する。
	DeleteByID(ctx context.Context, id string) error

	// ListMissingAuthorName はauthor_nameが空の記事を取得する。バックフィル専用。
	ListMissingAuthorName(ctx context.Context) ([]*model.Post, error)

	// UpdateAuthorName は記事のauthor_nameのみを更新する。バックフィル専用。
	UpdateAuthorName(ctx context.Context, postID, authorName string) error
}

// LikeRepository は「いいね」データの永続化インターフェース。
type LikeRepository interface {
	// Upsert はいいねを冪等に作成する。既に存在する場合は何もしない。
	Upsert(ctx context.Context, userID, postID string) error
	// Delete はいいねを冪等に削除する。存在しない場合は何もしない。
	Delete(ctx context.Context, userID, postID string) error
	// CountByPostID は記事のいいね数を返す。
	CountByPostID(ctx context.Context, postID string) (int, error)
	// DeleteByUserID は指定ユーザーの全いいねを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ImageRepository はカバー画像データの永続化インターフェース。
type ImageRepository interface {
	// Create は画像を保存する。
	Create(ctx context.Context, image *model.Image) error
	// FindByID は指定IDの画像を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Image, error)
	// DeleteByID は指定IDの画像を削除する。存在しない場合は何もしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByOwnerID は指定ユーザーの全画像を削除する。
	DeleteByOwnerID(ctx context.Context, ownerID string) error
}
