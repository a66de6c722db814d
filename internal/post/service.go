// Package post は記事管理のドメインロジックを提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
	"github.com/hitoshi/blogman/internal/security"
)

// defaultPageSize は記事一覧の1回の取得件数（デフォルト）。
const defaultPageSize = 20

// maxPageSize は記事一覧の1回の取得件数の上限。
const maxPageSize = 100

// ImageDeleter は記事削除時のカバー画像削除インターフェース。
// repository.ImageRepositoryの部分集合として定義する。
type ImageDeleter interface {
	DeleteByID(ctx context.Context, id string) error
}

// ImageFinder はカバー画像の所有者検証に必要なインターフェース。
type ImageFinder interface {
	FindByID(ctx context.Context, id string) (*model.Image, error)
}

// Service は記事管理のサービス層。
// 作成・更新時のサニタイズと、変更操作の所有者チェックを行う。
type Service struct {
	postRepo  repository.PostRepository
	sanitizer security.ContentSanitizerService
	imgFinder ImageFinder
	imgDeleter ImageDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	postRepo repository.PostRepository,
	sanitizer security.ContentSanitizerService,
	imgFinder ImageFinder,
	imgDeleter ImageDeleter,
) *Service {
	return &Service{
		postRepo:   postRepo,
		sanitizer:  sanitizer,
		imgFinder:  imgFinder,
		imgDeleter: imgDeleter,
	}
}

// Input は記事の作成・更新の入力。
type Input struct {
	Title   string
	Content string // 未サニタイズのHTML
	ImageID string // カバー画像ID。空文字列の場合は画像なし
}

// ListResult は記事一覧の取得結果。
type ListResult struct {
	Posts      []model.PostWithMeta
	NextCursor string
	HasMore    bool
}

// Create は記事を作成する。
// コンテンツはサニタイズしてから保存し、サマリーを抽出する。
// 作成者IDと作成時点のユーザー名を記事に保存する（後から推測しない）。
func (s *Service) Create(ctx context.Context, author *model.User, in Input) (*model.PostWithMeta, error) {
	sanitized, err := s.prepare(ctx, author.ID, &in)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p := &model.Post{
		ID:         uuid.New().String(),
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Title:      strings.TrimSpace(in.Title),
		Content:    sanitized,
		Summary:    extractSummary(sanitized),
		ImageID:    in.ImageID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.postRepo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("記事の作成に失敗しました: %w", err)
	}

	slog.Info("post created",
		slog.String("post_id", p.ID),
		slog.String("author_id", p.AuthorID),
	)

	return &model.PostWithMeta{Post: *p}, nil
}

// Get は記事詳細を取得する。見つからない場合はPOST_NOT_FOUNDエラーを返す。
// viewerIDが空の場合は未認証の閲覧として扱う。
func (s *Service) Get(ctx context.Context, postID, viewerID string) (*model.PostWithMeta, error) {
	p, err := s.postRepo.FindByID(ctx, postID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(postID)
	}
	return p, nil
}

// Update は記事を更新する。
// 所有者チェックはサービス層で強制する。クライアント側のEditableBy判定は
// 表示制御のための助言にすぎず、ここでの検証が権限の最終判断となる。
func (s *Service) Update(ctx context.Context, userID, postID string, in Input) (*model.PostWithMeta, error) {
	existing, err := s.postRepo.FindByID(ctx, postID, userID)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewPostNotFoundError(postID)
	}
	if !existing.EditableBy(userID) {
		return nil, model.NewNotPostOwnerError()
	}

	sanitized, err := s.prepare(ctx, userID, &in)
	if err != nil {
		return nil, err
	}

	updated := existing.Post
	updated.Title = strings.TrimSpace(in.Title)
	updated.Content = sanitized
	updated.Summary = extractSummary(sanitized)
	updated.ImageID = in.ImageID
	updated.UpdatedAt = time.Now()

	if err := s.postRepo.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("記事の更新に失敗しました: %w", err)
	}

	return &model.PostWithMeta{
		Post:      updated,
		LikeCount: existing.LikeCount,
		LikedByMe: existing.LikedByMe,
	}, nil
}

// Delete は記事を削除する。所有者のみが実行できる。
// カバー画像が設定されている場合は記事と合わせて削除する。
// 画像削除の失敗は記事削除の成功を妨げない（ベストエフォート）。
func (s *Service) Delete(ctx context.Context, userID, postID string) error {
	existing, err := s.postRepo.FindByID(ctx, postID, userID)
	if err != nil {
		return fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if existing == nil {
		return model.NewPostNotFoundError(postID)
	}
	if !existing.EditableBy(userID) {
		return model.NewNotPostOwnerError()
	}

	if err := s.postRepo.DeleteByID(ctx, postID); err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}

	if existing.ImageID != "" && s.imgDeleter != nil {
		if err := s.imgDeleter.DeleteByID(ctx, existing.ImageID); err != nil {
			slog.Warn("failed to delete cover image",
				slog.String("post_id", postID),
				slog.String("image_id", existing.ImageID),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("post deleted",
		slog.String("post_id", postID),
		slog.String("author_id", userID),
	)

	return nil
}

// List は全記事の一覧をカーソルページネーション付きで取得する。
func (s *Service) List(ctx context.Context, viewerID, cursor string, limit int) (*ListResult, error) {
	cursorTime, limit, err := normalizePage(cursor, limit)
	if err != nil {
		return nil, err
	}

	// HasMore判定のため1件多く取得する
	posts, err := s.postRepo.List(ctx, viewerID, cursorTime, limit+1)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}

	return buildListResult(posts, limit), nil
}

// ListByAuthor は指定ユーザーの記事一覧を取得する。
func (s *Service) ListByAuthor(ctx context.Context, authorID, viewerID, cursor string, limit int) (*ListResult, error) {
	cursorTime, limit, err := normalizePage(cursor, limit)
	if err != nil {
		return nil, err
	}

	posts, err := s.postRepo.ListByAuthor(ctx, authorID, viewerID, cursorTime, limit+1)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}

	return buildListResult(posts, limit), nil
}

// prepare は入力検証とサニタイズを行い、サニタイズ済みコンテンツを返す。
// タイトルとコンテンツ（タグ除去後のプレーンテキスト）は必須。
// カバー画像が指定されている場合は存在と所有者を検証する。
func (s *Service) prepare(ctx context.Context, userID string, in *Input) (string, error) {
	if strings.TrimSpace(in.Title) == "" {
		return "", model.NewMissingFieldError("title")
	}

	sanitized := in.Content
	if s.sanitizer != nil {
		sanitized = s.sanitizer.Sanitize(in.Content)
	}

	if strings.TrimSpace(extractText(sanitized)) == "" {
		return "", model.NewMissingFieldError("content")
	}

	if in.ImageID != "" && s.imgFinder != nil {
		img, err := s.imgFinder.FindByID(ctx, in.ImageID)
		if err != nil {
			return "", fmt.Errorf("画像の取得に失敗しました: %w", err)
		}
		if img == nil {
			return "", model.NewImageNotFoundError(in.ImageID)
		}
		if img.OwnerID != userID {
			return "", model.NewNotPostOwnerError()
		}
	}

	return sanitized, nil
}

// normalizePage はカーソル文字列と件数を検証・正規化する。
func normalizePage(cursor string, limit int) (time.Time, int, error) {
	var cursorTime time.Time
	if cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return time.Time{}, 0, &model.APIError{
				Code:     "INVALID_CURSOR",
				Message:  fmt.Sprintf("無効なカーソルです: %s", cursor),
				Category: "validation",
				Action:   "レスポンスのnext_cursorをそのまま指定してください。",
			}
		}
		cursorTime = t
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	return cursorTime, limit, nil
}

// buildListResult は1件多く取得した結果からページング情報を組み立てる。
func buildListResult(posts []model.PostWithMeta, limit int) *ListResult {
	result := &ListResult{}

	if len(posts) > limit {
		result.HasMore = true
		posts = posts[:limit]
	}
	result.Posts = posts

	if result.HasMore && len(posts) > 0 {
		result.NextCursor = posts[len(posts)-1].CreatedAt.Format(time.RFC3339Nano)
	}

	return result
}
