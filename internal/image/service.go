// Package image は記事カバー画像の保存・取得のドメインロジックを提供する。
package image

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
	"github.com/hitoshi/blogman/internal/security"
)

// allowedMimeTypes はカバー画像として受け付けるMIMEタイプ。
var allowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
}

// ServiceConfig は画像サービスの設定。
type ServiceConfig struct {
	MaxSize      int64         // 画像の最大サイズ（バイト）
	FetchTimeout time.Duration // URL指定時の取得タイムアウト
}

// Service はカバー画像管理のサービス層。
// マルチパートアップロードとURL指定取得の2経路をサポートする。
// URL指定取得はSSRF防止クライアント経由で行う。
type Service struct {
	imageRepo repository.ImageRepository
	ssrfGuard security.SSRFGuardService
	config    ServiceConfig
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(imageRepo repository.ImageRepository, ssrfGuard security.SSRFGuardService, config ServiceConfig) *Service {
	return &Service{
		imageRepo: imageRepo,
		ssrfGuard: ssrfGuard,
		config:    config,
	}
}

// Store はアップロードされた画像データを保存する。
// サイズとMIMEタイプを検証し、保存した画像を返す。
func (s *Service) Store(ctx context.Context, ownerID string, data []byte, mimeType string) (*model.Image, error) {
	if int64(len(data)) > s.config.MaxSize {
		return nil, model.NewImageTooLargeError(s.config.MaxSize)
	}

	mimeType = normalizeMimeType(mimeType)
	if !isAllowedMime(mimeType) {
		return nil, model.NewUnsupportedImageError(mimeType)
	}

	img := &model.Image{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Data:      data,
		MimeType:  mimeType,
		CreatedAt: time.Now(),
	}

	if err := s.imageRepo.Create(ctx, img); err != nil {
		return nil, fmt.Errorf("画像の保存に失敗しました: %w", err)
	}

	slog.Info("image stored",
		slog.String("image_id", img.ID),
		slog.String("owner_id", ownerID),
		slog.Int("size", len(data)),
	)

	return img, nil
}

// FetchFromURL は指定URLから画像を取得して保存する。
// URLの事前検証とSSRF防止クライアントによる取得の両方を行う。
func (s *Service) FetchFromURL(ctx context.Context, ownerID, rawURL string) (*model.Image, error) {
	if err := s.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, model.NewSSRFBlockedError()
	}

	client := s.ssrfGuard.NewSafeClient(s.config.FetchTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewInvalidImageURLError(err.Error())
	}
	req.Header.Set("User-Agent", "Blogman/1.0")

	resp, err := client.Do(req)
	if err != nil {
		// safeurlはDNS解決後のブロック対象IPもここでエラーにする
		return nil, model.NewImageFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewImageFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	// サイズ超過検知のため上限+1バイトまで読む
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxSize+1))
	if err != nil {
		return nil, model.NewImageFetchFailedError(err.Error())
	}
	if int64(len(body)) > s.config.MaxSize {
		return nil, model.NewImageTooLargeError(s.config.MaxSize)
	}

	mimeType := normalizeMimeType(resp.Header.Get("Content-Type"))
	if !isAllowedMime(mimeType) {
		return nil, model.NewUnsupportedImageError(mimeType)
	}

	return s.Store(ctx, ownerID, body, mimeType)
}

// Get は指定IDの画像を取得する。見つからない場合はIMAGE_NOT_FOUNDエラーを返す。
func (s *Service) Get(ctx context.Context, imageID string) (*model.Image, error) {
	img, err := s.imageRepo.FindByID(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	if img == nil {
		return nil, model.NewImageNotFoundError(imageID)
	}
	return img, nil
}

// normalizeMimeType はContent-Typeヘッダーからメディアタイプを抽出する。
// charset等のパラメータを除去し小文字に正規化する。
func normalizeMimeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	parts := strings.SplitN(contentType, ";", 2)
	return strings.TrimSpace(strings.ToLower(parts[0]))
}

// isAllowedMime はMIMEタイプが許可リストに含まれるかを判定する。
func isAllowedMime(mimeType string) bool {
	for _, allowed := range allowedMimeTypes {
		if mimeType == allowed {
			return true
		}
	}
	return false
}
