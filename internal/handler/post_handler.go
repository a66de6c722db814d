package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/like"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/post"
)

// PostServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, author *model.User, in post.Input) (*model.PostWithMeta, error)
	Get(ctx context.Context, postID, viewerID string) (*model.PostWithMeta, error)
	Update(ctx context.Context, userID, postID string, in post.Input) (*model.PostWithMeta, error)
	Delete(ctx context.Context, userID, postID string) error
	List(ctx context.Context, viewerID, cursor string, limit int) (*post.ListResult, error)
	ListByAuthor(ctx context.Context, authorID, viewerID, cursor string, limit int) (*post.ListResult, error)
}

// LikeServiceInterface はいいね操作のサービスインターフェース。
type LikeServiceInterface interface {
	SetLiked(ctx context.Context, userID, postID string, liked bool) (*like.State, error)
}

// UserFinder は記事作成時の著者情報取得インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// PostRecorder は記事・いいね操作のメトリクス記録インターフェース。
type PostRecorder interface {
	RecordPostCreated()
	RecordPostDeleted()
	RecordLikeToggled(liked bool)
}

// PostHandler は記事管理のHTTPハンドラー。
type PostHandler struct {
	service     PostServiceInterface
	likeService LikeServiceInterface
	userFinder  UserFinder
	metrics     PostRecorder
}

// NewPostHandler はPostHandlerを生成する。
// metricsはnil可（テスト時など記録を省略する場合）。
func NewPostHandler(service PostServiceInterface, likeService LikeServiceInterface, userFinder UserFinder, metrics PostRecorder) *PostHandler {
	return &PostHandler{
		service:     service,
		likeService: likeService,
		userFinder:  userFinder,
		metrics:     metrics,
	}
}

// postRequest は記事の作成・更新リクエストのボディ。
type postRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	ImageID string `json:"image_id,omitempty"`
}

// postResponse は記事情報のAPIレスポンス。
// CanEditは閲覧ユーザーが編集・削除できるかのUI表示用の判定。
type postResponse struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Summary      string    `json:"summary"`
	ImageID      string    `json:"image_id,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	LikeCount    int       `json:"like_count"`
	LikedByMe    bool      `json:"liked_by_me"`
	CanEdit      bool      `json:"can_edit"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// postListResponse は記事一覧のAPIレスポンス。
type postListResponse struct {
	Posts      []postResponse `json:"posts"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

// likeRequest はいいね状態設定リクエストのボディ。
type likeRequest struct {
	Liked bool `json:"liked"`
}

// likeResponse はいいね状態のAPIレスポンス。
type likeResponse struct {
	PostID    string `json:"post_id"`
	Liked     bool   `json:"liked"`
	LikeCount int    `json:"like_count"`
}

// CreatePost は記事を作成する。
// POST /api/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	// 著者名は作成時点のユーザー名を記事に保存するため、ここで取得する
	author, err := h.userFinder.FindByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if author == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	p, err := h.service.Create(r.Context(), author, post.Input{
		Title:   req.Title,
		Content: req.Content,
		ImageID: req.ImageID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordPostCreated()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toPostResponse(p, userID))
}

// GetPost は記事詳細を取得する。認証は不要。
// 認証済みの場合はliked_by_meとcan_editを閲覧ユーザー視点で返す。
// GET /api/posts/{id}
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	viewerID := middleware.OptionalUserIDFromContext(r.Context())
	postID := chi.URLParam(r, "id")

	p, err := h.service.Get(r.Context(), postID, viewerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPostResponse(p, viewerID))
}

// UpdatePost は記事を更新する。記事の所有者のみが実行できる。
// PUT /api/posts/{id}
func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	postID := chi.URLParam(r, "id")

	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	p, err := h.service.Update(r.Context(), userID, postID, post.Input{
		Title:   req.Title,
		Content: req.Content,
		ImageID: req.ImageID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPostResponse(p, userID))
}

// DeletePost は記事を削除する。記事の所有者のみが実行できる。
// DELETE /api/posts/{id}
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	postID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), userID, postID); err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordPostDeleted()
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListPosts は記事一覧を新しい順に取得する。認証は不要。
// GET /api/posts?cursor=xxx&limit=20
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	viewerID := middleware.OptionalUserIDFromContext(r.Context())

	cursor, limit := parseListParams(r)

	result, err := h.service.List(r.Context(), viewerID, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPostListResponse(result, viewerID))
}

// ListMyPosts はログインユーザー自身の記事一覧を取得する。
// GET /api/posts/mine?cursor=xxx&limit=20
func (h *PostHandler) ListMyPosts(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	cursor, limit := parseListParams(r)

	result, err := h.service.ListByAuthor(r.Context(), userID, userID, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPostListResponse(result, userID))
}

// SetLike はいいね状態を設定する。冪等な操作。
// PUT /api/posts/{id}/like
func (h *PostHandler) SetLike(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	postID := chi.URLParam(r, "id")

	var req likeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	state, err := h.likeService.SetLiked(r.Context(), userID, postID, req.Liked)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordLikeToggled(state.Liked)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(likeResponse{
		PostID:    state.PostID,
		Liked:     state.Liked,
		LikeCount: state.LikeCount,
	})
}

// --- ヘルパー関数 ---

// parseListParams はクエリパラメータからカーソルと取得件数を読み取る。
// limitの正規化（デフォルト・上限）はサービス層が行う。
func parseListParams(r *http.Request) (string, int) {
	cursor := r.URL.Query().Get("cursor")

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	return cursor, limit
}

// toPostResponse はmodel.PostWithMetaからAPIレスポンスに変換する。
// can_editは閲覧ユーザー視点で算出する。
func toPostResponse(p *model.PostWithMeta, viewerID string) postResponse {
	// カバー画像が未設定の場合はコンテンツ内の最初の画像をサムネイルにする
	thumbnail := ""
	if p.ImageID != "" {
		thumbnail = "/api/images/" + p.ImageID
	} else {
		thumbnail = post.FirstImageURL(p.Content)
	}

	return postResponse{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		AuthorName:   p.AuthorName,
		Title:        p.Title,
		Content:      p.Content,
		Summary:      p.Summary,
		ImageID:      p.ImageID,
		ThumbnailURL: thumbnail,
		LikeCount:    p.LikeCount,
		LikedByMe:    p.LikedByMe,
		CanEdit:      p.EditableBy(viewerID),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// toPostListResponse はpost.ListResultからAPIレスポンスに変換する。
func toPostListResponse(result *post.ListResult, viewerID string) postListResponse {
	posts := make([]postResponse, 0, len(result.Posts))
	for i := range result.Posts {
		posts = append(posts, toPostResponse(&result.Posts[i], viewerID))
	}
	return postListResponse{
		Posts:      posts,
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	}
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// unauthorizedError は認証必須エンドポイントでの未認証エラー。
func unauthorizedError() *model.APIError {
	return &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// invalidRequestError はリクエストボディ解析失敗のエラー。
func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials, model.ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeWeakPassword, model.ErrCodePasswordMismatch, model.ErrCodeMissingField:
		return http.StatusBadRequest
	case model.ErrCodePostNotFound, model.ErrCodeImageNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeNotPostOwner:
		return http.StatusForbidden
	case model.ErrCodeImageTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeUnsupportedImage:
		return http.StatusUnsupportedMediaType
	case model.ErrCodeInvalidImageURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeImageFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
