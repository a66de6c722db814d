// Package model はドメインモデルを定義する。
package model

import "time"

// Post はブログ記事を表す。
// Contentは保存前にサニタイズ済みのHTML。
// AuthorNameは作成時点のユーザー名を保存する（後から推測しない）。
type Post struct {
	ID         string
	AuthorID   string
	AuthorName string
	Title      string
	Content    string // サニタイズ済みHTML
	Summary    string // Contentから抽出したプレーンテキストの冒頭
	ImageID    string // カバー画像ID。未設定の場合は空文字列
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EditableBy は指定ユーザーがこの記事を編集・削除できるかを返す。
// UIの表示制御に使う助言的な判定であり、権限の強制はサービス層が行う。
// 未認証（空のuserID）の場合は常にfalse。
func (p *Post) EditableBy(userID string) bool {
	return userID != "" && p.AuthorID == userID
}

// PostWithMeta は記事と閲覧ユーザーごとのメタ情報を結合したモデル。
// likesテーブルとLEFT JOINして取得される。
type PostWithMeta struct {
	Post
	LikeCount int
	LikedByMe bool
}

// Like はユーザーによる記事への「いいね」を表す。
// (UserID, PostID) の組で一意。
type Like struct {
	UserID    string
	PostID    string
	CreatedAt time.Time
}

// Image は記事のカバー画像を表す。
// バイナリデータはPostgresにそのまま保存する。
type Image struct {
	ID        string
	OwnerID   string
	Data      []byte
	MimeType  string
	CreatedAt time.Time
}
