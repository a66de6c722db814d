// Package backfill は既存データの補正処理を提供する。
package backfill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/blogman/internal/model"
)

// PostLister はauthor_name未設定の記事の列挙・更新インターフェース。
// repository.PostRepositoryの部分集合として定義する。
type PostLister interface {
	ListMissingAuthorName(ctx context.Context) ([]*model.Post, error)
	UpdateAuthorName(ctx context.Context, postID, authorName string) error
}

// UserFinder は著者ユーザーの検索インターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Result はバックフィル実行の集計結果。
type Result struct {
	Total   int // 対象記事数
	Updated int // 更新した記事数
	Skipped int // 著者ユーザーが存在せずスキップした記事数
}

// Service は記事のauthor_nameバックフィルを実行する。
// author_nameが空の記事について著者ユーザーの現在名を書き込む。
// 運用時の一回限りの補正処理として、serveとは別のサブコマンドから起動される。
type Service struct {
	postRepo PostLister
	userRepo UserFinder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(postRepo PostLister, userRepo UserFinder) *Service {
	return &Service{
		postRepo: postRepo,
		userRepo: userRepo,
	}
}

// Run はauthor_nameが空のすべての記事を補正する。
// 著者ユーザーが退会済みの記事はスキップして続行する。
func (s *Service) Run(ctx context.Context) (*Result, error) {
	posts, err := s.postRepo.ListMissingAuthorName(ctx)
	if err != nil {
		return nil, fmt.Errorf("対象記事の取得に失敗しました: %w", err)
	}

	result := &Result{Total: len(posts)}

	for _, p := range posts {
		user, err := s.userRepo.FindByID(ctx, p.AuthorID)
		if err != nil {
			return result, fmt.Errorf("著者ユーザーの取得に失敗しました: %w", err)
		}
		if user == nil {
			slog.Warn("author not found, skipping post",
				slog.String("post_id", p.ID),
				slog.String("author_id", p.AuthorID),
			)
			result.Skipped++
			continue
		}

		if err := s.postRepo.UpdateAuthorName(ctx, p.ID, user.Name); err != nil {
			return result, fmt.Errorf("author_nameの更新に失敗しました: %w", err)
		}

		slog.Info("backfilled author name",
			slog.String("post_id", p.ID),
			slog.String("author_name", user.Name),
		)
		result.Updated++
	}

	return result, nil
}
