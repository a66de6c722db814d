package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/blogman/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// postSelectColumns は記事取得クエリの共通SELECT句。
// いいね数と閲覧ユーザー自身のいいね有無をサブクエリで付与する。
// $1は閲覧ユーザーID（未認証の場合は空文字列で、liked_by_meは常にfalseになる）。
const postSelectColumns = `
	p.id, p.author_id, p.author_name, p.title, p.content, p.summary,
	COALESCE(p.image_id, ''), p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id) AS like_count,
	EXISTS(SELECT 1 FROM likes l WHERE l.post_id = p.id AND l.user_id = $1) AS liked_by_me`

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+postSelectColumns+` FROM posts p WHERE p.id = $2`,
		viewerID, id,
	)

	post, err := scanPostWithMeta(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by ID: %w", err)
	}

	return post, nil
}

// List は全記事をcreated_at降順でカーソルページネーション付きで取得する。
// cursorがゼロ値の場合は先頭から取得する。
func (r *PostgresPostRepo) List(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error) {
	query := `SELECT ` + postSelectColumns + ` FROM posts p`
	args := []any{viewerID}

	if !cursor.IsZero() {
		query += ` WHERE p.created_at < $2`
		args = append(args, cursor)
	}

	query += fmt.Sprintf(` ORDER BY p.created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	return r.queryPosts(ctx, query, args...)
}

// ListByAuthor は指定ユーザーの記事をcreated_at降順で取得する。
func (r *PostgresPostRepo) ListByAuthor(ctx context.Context, authorID, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error) {
	query := `SELECT ` + postSelectColumns + ` FROM posts p WHERE p.author_id = $2`
	args := []any{viewerID, authorID}

	if !cursor.IsZero() {
		query += ` AND p.created_at < $3`
		args = append(args, cursor)
	}

	query += fmt.Sprintf(` ORDER BY p.created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	return r.queryPosts(ctx, query, args...)
}

// Create は記事を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, author_name, title, content, summary, image_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		post.ID, post.AuthorID, post.AuthorName, post.Title, post.Content, post.Summary,
		post.ImageID, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// Update は記事のtitle、content、summary、image_id、updated_atを更新する。
// author_idとauthor_nameは作成時の値を変更しない。
func (r *PostgresPostRepo) Update(ctx context.Context, post *model.Post) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts
		 SET title = $1, content = $2, summary = $3, image_id = NULLIF($4, ''), updated_at = $5
		 WHERE id = $6`,
		post.Title, post.Content, post.Summary, post.ImageID, post.UpdatedAt, post.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("post not found: %s", post.ID)
	}
	return nil
}

// DeleteByID は指定IDの記事を削除する。
func (r *PostgresPostRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM posts WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// ListMissingAuthorName はauthor_nameが空の記事を取得する。バックフィル専用。
func (r *PostgresPostRepo) ListMissingAuthorName(ctx context.Context) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, author_id, author_name, title, content, summary, COALESCE(image_id, ''), created_at, updated_at
		 FROM posts
		 WHERE author_name = ''
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts missing author name: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post := &model.Post{}
		if err := rows.Scan(
			&post.ID, &post.AuthorID, &post.AuthorName, &post.Title, &post.Content,
			&post.Summary, &post.ImageID, &post.CreatedAt, &post.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	return posts, nil
}

// UpdateAuthorName は記事のauthor_nameのみを更新する。バックフィル専用。
func (r *PostgresPostRepo) UpdateAuthorName(ctx context.Context, postID, authorName string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts SET author_name = $1 WHERE id = $2`,
		authorName, postID,
	)
	if err != nil {
		return fmt.Errorf("failed to update author name: %w", err)
	}
	return nil
}

// queryPosts は記事一覧クエリを実行し、結果をスキャンして返す。
func (r *PostgresPostRepo) queryPosts(ctx context.Context, query string, args ...any) ([]model.PostWithMeta, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var posts []model.PostWithMeta
	for rows.Next() {
		post, err := scanPostWithMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	return posts, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPostWithMeta はpostSelectColumnsの列順でPostWithMetaをスキャンする。
func scanPostWithMeta(row rowScanner) (*model.PostWithMeta, error) {
	post := &model.PostWithMeta{}
	err := row.Scan(
		&post.ID, &post.AuthorID, &post.AuthorName, &post.Title, &post.Content,
		&post.Summary, &post.ImageID, &post.CreatedAt, &post.UpdatedAt,
		&post.LikeCount, &post.LikedByMe,
	)
	if err != nil {
		return nil, err
	}
	return post, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
