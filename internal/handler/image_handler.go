package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
)

// ImageServiceInterface は画像ハンドラーが必要とするサービスインターフェース。
type ImageServiceInterface interface {
	Store(ctx context.Context, ownerID string, data []byte, mimeType string) (*model.Image, error)
	FetchFromURL(ctx context.Context, ownerID, rawURL string) (*model.Image, error)
	Get(ctx context.Context, imageID string) (*model.Image, error)
}

// ImageFetchRecorder はURL画像取得のメトリクス記録インターフェース。
type ImageFetchRecorder interface {
	RecordImageFetch(outcome string)
	RecordImageFetchLatency(duration time.Duration)
}

// ImageHandler はカバー画像管理のHTTPハンドラー。
type ImageHandler struct {
	service ImageServiceInterface
	maxSize int64
	metrics ImageFetchRecorder
}

// NewImageHandler はImageHandlerを生成する。
// metricsはnil可。
func NewImageHandler(service ImageServiceInterface, maxSize int64, metrics ImageFetchRecorder) *ImageHandler {
	return &ImageHandler{
		service: service,
		maxSize: maxSize,
		metrics: metrics,
	}
}

// fetchImageRequest はURL指定での画像取得リクエストのボディ。
type fetchImageRequest struct {
	URL string `json:"url"`
}

// imageResponse は画像メタ情報のAPIレスポンス。
type imageResponse struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// Upload はカバー画像を登録する。
// multipart/form-dataの場合はfileフィールドのアップロードとして、
// application/jsonの場合は{"url": "..."}のURL指定取得として処理する。
// POST /api/images
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		h.uploadMultipart(w, r, userID)
		return
	}

	h.fetchFromURL(w, r, userID)
}

// uploadMultipart はmultipart/form-dataのfileフィールドから画像を保存する。
func (h *ImageHandler) uploadMultipart(w http.ResponseWriter, r *http.Request, userID string) {
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewImageTooLargeError(h.maxSize))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}
	defer file.Close()

	// サイズ超過はサービス層でも検証するが、読み込み自体を上限で打ち切る
	data, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	img, err := h.service.Store(r.Context(), userID, data, header.Header.Get("Content-Type"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeImageResponse(w, img)
}

// fetchFromURL はJSONボディのURLから画像を取得して保存する。
// 取得はSSRF防止クライアント経由で行われる。
func (h *ImageHandler) fetchFromURL(w http.ResponseWriter, r *http.Request, userID string) {
	var req fetchImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidImageURLError("URLが空です"))
		return
	}

	start := time.Now()
	img, err := h.service.FetchFromURL(r.Context(), userID, req.URL)
	if h.metrics != nil {
		h.metrics.RecordImageFetchLatency(time.Since(start))
		h.metrics.RecordImageFetch(imageFetchOutcome(err))
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeImageResponse(w, img)
}

// Serve は保存された画像のバイナリを返す。認証は不要。
// GET /api/images/{id}
func (h *ImageHandler) Serve(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "id")

	img, err := h.service.Get(r.Context(), imageID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	// 画像IDは不変なので長期キャッシュを許可する
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(img.Data)
}

// imageFetchOutcome はURL画像取得の結果をメトリクス用ラベルに変換する。
func imageFetchOutcome(err error) string {
	if err == nil {
		return "success"
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSSRFBlocked {
		return "blocked"
	}
	return "failure"
}

// writeImageResponse は画像メタ情報のレスポンスを書き込む。
func writeImageResponse(w http.ResponseWriter, img *model.Image) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(imageResponse{
		ID:       img.ID,
		MimeType: img.MimeType,
		Size:     len(img.Data),
	})
}
