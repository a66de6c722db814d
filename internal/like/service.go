// Package like は記事への「いいね」のドメインロジックを提供する。
package like

import (
	"context"
	"fmt"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

// PostFinder は記事の存在確認に必要なインターフェース。
// repository.PostRepositoryの部分集合として定義する。
type PostFinder interface {
	FindByID(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error)
}

// State は更新後のいいね状態。
type State struct {
	PostID    string
	Liked     bool
	LikeCount int
}

// Service は「いいね」管理のサービス層。
// 同一ユーザー・同一記事への重複いいねは冪等に扱う。
type Service struct {
	likeRepo   repository.LikeRepository
	postFinder PostFinder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(likeRepo repository.LikeRepository, postFinder PostFinder) *Service {
	return &Service{
		likeRepo:   likeRepo,
		postFinder: postFinder,
	}
}

// SetLiked はいいね状態を冪等に設定する。
// liked=trueで付与、falseで解除。同じ状態への再設定は何もしない。
// 記事が存在しない場合はPOST_NOT_FOUNDエラーを返す。
func (s *Service) SetLiked(ctx context.Context, userID, postID string, liked bool) (*State, error) {
	p, err := s.postFinder.FindByID(ctx, postID, userID)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	if liked {
		err = s.likeRepo.Upsert(ctx, userID, postID)
	} else {
		err = s.likeRepo.Delete(ctx, userID, postID)
	}
	if err != nil {
		return nil, fmt.Errorf("いいね状態の更新に失敗しました: %w", err)
	}

	count, err := s.likeRepo.CountByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("いいね数の取得に失敗しました: %w", err)
	}

	return &State{
		PostID:    postID,
		Liked:     liked,
		LikeCount: count,
	}, nil
}
