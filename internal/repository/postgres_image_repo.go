package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/blogman/internal/model"
)

// PostgresImageRepo はPostgreSQLを使用したカバー画像リポジトリ。
// 画像バイナリはbyteaカラムにそのまま保存する。
type PostgresImageRepo struct {
	db *sql.DB
}

// NewPostgresImageRepo はPostgresImageRepoを生成する。
func NewPostgresImageRepo(db *sql.DB) *PostgresImageRepo {
	return &PostgresImageRepo{db: db}
}

// Create は画像を保存する。
func (r *PostgresImageRepo) Create(ctx context.Context, image *model.Image) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO images (id, owner_id, data, mime_type, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		image.ID, image.OwnerID, image.Data, image.MimeType, image.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

// FindByID は指定IDの画像を取得する。見つからない場合はnilを返す。
func (r *PostgresImageRepo) FindByID(ctx context.Context, id string) (*model.Image, error) {
	image := &model.Image{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, data, mime_type, created_at FROM images WHERE id = $1`,
		id,
	).Scan(&image.ID, &image.OwnerID, &image.Data, &image.MimeType, &image.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find image: %w", err)
	}

	return image, nil
}

// DeleteByID は指定IDの画像を削除する。存在しない場合は何もしない。
func (r *PostgresImageRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM images WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// DeleteByOwnerID は指定ユーザーの全画像を削除する。
func (r *PostgresImageRepo) DeleteByOwnerID(ctx context.Context, ownerID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM images WHERE owner_id = $1`,
		ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user images: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ImageRepository = (*PostgresImageRepo)(nil)
