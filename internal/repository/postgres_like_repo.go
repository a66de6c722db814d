package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresLikeRepo はPostgreSQLを使用した「いいね」リポジトリ。
type PostgresLikeRepo struct {
	db *sql.DB
}

// NewPostgresLikeRepo はPostgresLikeRepoを生成する。
func NewPostgresLikeRepo(db *sql.DB) *PostgresLikeRepo {
	return &PostgresLikeRepo{db: db}
}

// Upsert はいいねを冪等に作成する。既に存在する場合は何もしない。
func (r *PostgresLikeRepo) Upsert(ctx context.Context, userID, postID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO likes (user_id, post_id, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id, post_id) DO NOTHING`,
		userID, postID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert like: %w", err)
	}
	return nil
}

// Delete はいいねを冪等に削除する。存在しない場合は何もしない。
func (r *PostgresLikeRepo) Delete(ctx context.Context, userID, postID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM likes WHERE user_id = $1 AND post_id = $2`,
		userID, postID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete like: %w", err)
	}
	return nil
}

// CountByPostID は記事のいいね数を返す。
func (r *PostgresLikeRepo) CountByPostID(ctx context.Context, postID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM likes WHERE post_id = $1`,
		postID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count likes: %w", err)
	}
	return count, nil
}

// DeleteByUserID は指定ユーザーの全いいねを削除する。
func (r *PostgresLikeRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM likes WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user likes: %w", err)
	}
	return nil
}

// compile-time interface check
var _ LikeRepository = (*PostgresLikeRepo)(nil)
