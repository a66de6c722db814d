package post

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
	"github.com/hitoshi/blogman/internal/security"
)

// --- モック定義 ---

type mockPostRepo struct {
	findByIDFn     func(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error)
	listFn         func(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error)
	listByAuthorFn func(ctx context.Context, authorID, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error)
	createFn       func(ctx context.Context, post *model.Post) error
	updateFn       func(ctx context.Context, post *model.Post) error
	deleteByIDFn   func(ctx context.Context, id string) error
}

func (m *mockPostRepo) FindByID(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id, viewerID)
	}
	return nil, nil
}

func (m *mockPostRepo) List(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error) {
	if m.listFn != nil {
		return m.listFn(ctx, viewerID, cursor, limit)
	}
	return nil, nil
}

func (m *mockPostRepo) ListByAuthor(ctx context.Context, authorID, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error) {
	if m.listByAuthorFn != nil {
		return m.listByAuthorFn(ctx, authorID, viewerID, cursor, limit)
	}
	return nil, nil
}

func (m *mockPostRepo) Create(ctx context.Context, post *model.Post) error {
	if m.createFn != nil {
		return m.createFn(ctx, post)
	}
	return nil
}

func (m *mockPostRepo) Update(ctx context.Context, post *model.Post) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, post)
	}
	return nil
}

func (m *mockPostRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockPostRepo) ListMissingAuthorName(_ context.Context) ([]*model.Post, error) {
	return nil, nil
}

func (m *mockPostRepo) UpdateAuthorName(_ context.Context, _, _ string) error {
	return nil
}

type mockImageStore struct {
	findByIDFn   func(ctx context.Context, id string) (*model.Image, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockImageStore) FindByID(ctx context.Context, id string) (*model.Image, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockImageStore) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

var _ repository.PostRepository = (*mockPostRepo)(nil)
var _ ImageFinder = (*mockImageStore)(nil)
var _ ImageDeleter = (*mockImageStore)(nil)

func newTestService(repo *mockPostRepo, images *mockImageStore) *Service {
	if images == nil {
		images = &mockImageStore{}
	}
	return NewService(repo, security.NewContentSanitizer(), images, images)
}

func testAuthor() *model.User {
	return &model.User{ID: "user-1", Name: "Author One", Email: "a@example.com"}
}

// --- Create ---

func TestCreate_StoresAuthorNameAtCreationTime(t *testing.T) {
	ctx := context.Background()

	var created *model.Post
	repo := &mockPostRepo{
		createFn: func(ctx context.Context, post *model.Post) error {
			created = post
			return nil
		},
	}

	svc := newTestService(repo, nil)

	p, err := svc.Create(ctx, testAuthor(), Input{
		Title:   "First Post",
		Content: "<p>hello world</p>",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created == nil {
		t.Fatal("expected post to be persisted")
	}
	// 著者名は作成時点のものが保存されること（後から推測しない）
	if created.AuthorName != "Author One" {
		t.Errorf("author name = %q, want %q", created.AuthorName, "Author One")
	}
	if created.AuthorID != "user-1" {
		t.Errorf("author ID = %q, want %q", created.AuthorID, "user-1")
	}
	if p.Summary == "" {
		t.Error("expected non-empty summary")
	}
}

func TestCreate_SanitizesContent(t *testing.T) {
	ctx := context.Background()

	var created *model.Post
	repo := &mockPostRepo{
		createFn: func(ctx context.Context, post *model.Post) error {
			created = post
			return nil
		},
	}

	svc := newTestService(repo, nil)

	_, err := svc.Create(ctx, testAuthor(), Input{
		Title:   "XSS attempt",
		Content: `<p>safe</p><script>alert("x")</script>`,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if strings.Contains(created.Content, "<script>") {
		t.Errorf("content should be sanitized, got %q", created.Content)
	}
	if !strings.Contains(created.Content, "safe") {
		t.Errorf("safe content should survive sanitization, got %q", created.Content)
	}
}

func TestCreate_EmptyTitle_ReturnsValidationError(t *testing.T) {
	svc := newTestService(&mockPostRepo{}, nil)

	_, err := svc.Create(context.Background(), testAuthor(), Input{
		Title:   "   ",
		Content: "<p>body</p>",
	})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeMissingField {
		t.Errorf("expected MISSING_FIELD error, got %v", err)
	}
}

func TestCreate_TagOnlyContent_ReturnsValidationError(t *testing.T) {
	svc := newTestService(&mockPostRepo{}, nil)

	// タグのみでプレーンテキストが空のコンテンツは拒否されること
	_, err := svc.Create(context.Background(), testAuthor(), Input{
		Title:   "Title",
		Content: "<p>  </p><br>",
	})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeMissingField {
		t.Errorf("expected MISSING_FIELD error, got %v", err)
	}
}

func TestCreate_ForeignImage_Rejected(t *testing.T) {
	ctx := context.Background()

	images := &mockImageStore{
		findByIDFn: func(ctx context.Context, id string) (*model.Image, error) {
			return &model.Image{ID: id, OwnerID: "someone-else"}, nil
		},
	}

	svc := newTestService(&mockPostRepo{}, images)

	_, err := svc.Create(ctx, testAuthor(), Input{
		Title:   "Title",
		Content: "<p>body</p>",
		ImageID: "img-1",
	})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotPostOwner {
		t.Errorf("expected NOT_POST_OWNER error, got %v", err)
	}
}

func TestCreate_MissingImage_Rejected(t *testing.T) {
	svc := newTestService(&mockPostRepo{}, &mockImageStore{})

	_, err := svc.Create(context.Background(), testAuthor(), Input{
		Title:   "Title",
		Content: "<p>body</p>",
		ImageID: "img-missing",
	})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeImageNotFound {
		t.Errorf("expected IMAGE_NOT_FOUND error, got %v", err)
	}
}

// --- Get ---

func TestGet_NotFound_ReturnsPostNotFound(t *testing.T) {
	svc := newTestService(&mockPostRepo{}, nil)

	_, err := svc.Get(context.Background(), "missing", "")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodePostNotFound {
		t.Errorf("expected POST_NOT_FOUND error, got %v", err)
	}
}

// --- Update / Delete 所有者チェック ---

func existingPost(authorID string) *model.PostWithMeta {
	return &model.PostWithMeta{
		Post: model.Post{
			ID:         "post-1",
			AuthorID:   authorID,
			AuthorName: "Author One",
			Title:      "Old Title",
			Content:    "<p>old</p>",
			CreatedAt:  time.Now().Add(-time.Hour),
			UpdatedAt:  time.Now().Add(-time.Hour),
		},
		LikeCount: 3,
	}
}

func TestUpdate_NonOwner_ReturnsNotPostOwner(t *testing.T) {
	repo := &mockPostRepo{
		findByIDFn: func(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error) {
			return existingPost("user-1"), nil
		},
	}

	svc := newTestService(repo, nil)

	_, err := svc.Update(context.Background(), "user-2", "post-1", Input{
		Title:   "New",
		Content: "<p>new</p>",
	})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotPostOwner {
		t.Errorf("expected NOT_POST_OWNER error, got %v", err)
	}
}

func TestUpdate_Owner_PreservesAuthorFields(t *testing.T) {
	var updated *model.Post
	repo := &mockPostRepo{
		findByIDFn: func(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error) {
			return existingPost("user-1"), nil
		},
		updateFn: func(ctx context.Context, post *model.Post) error {
			updated = post
			return nil
		},
	}

	svc := newTestService(repo, nil)

	result, err := svc.Update(context.Background(), "user-1", "post-1", Input{
		Title:   "New Title",
		Content: "<p>new body</p>",
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if updated.Title != "New Title" {
		t.Errorf("title = %q, want %q", updated.Title, "New Title")
	}
	// 著者情報は更新で変化しないこと
	if updated.AuthorID != "user-1" || updated.AuthorName != "Author One" {
		t.Errorf("author fields must be preserved, got %q/%q", updated.AuthorID, updated.AuthorName)
	}
	if result.LikeCount != 3 {
		t.Errorf("like count = %d, want 3", result.LikeCount)
	}
}

func TestDelete_NonOwner_ReturnsNotPostOwner(t *testing.T) {
	repo := &mockPostRepo{
		findByIDFn: func(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error) {
			return existingPost("user-1"), nil
		},
	}

	svc := newTestService(repo, nil)

	err := svc.Delete(context.Background(), "user-2", "post-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotPostOwner {
		t.Errorf("expected NOT_POST_OWNER error, got %v", err)
	}
}

func TestDelete_Owner_DeletesCoverImage(t *testing.T) {
	p := existingPost("user-1")
	p.ImageID = "img-1"

	repo := &mockPostRepo{
		findByIDFn: func(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error) {
			return p, nil
		},
	}

	var deletedImage string
	images := &mockImageStore{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedImage = id
			return nil
		},
	}

	svc := newTestService(repo, images)

	if err := svc.Delete(context.Background(), "user-1", "post-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deletedImage != "img-1" {
		t.Errorf("deleted image = %q, want %q", deletedImage, "img-1")
	}
}

func TestDelete_ImageDeleteFailure_DoesNotFailDelete(t *testing.T) {
	p := existingPost("user-1")
	p.ImageID = "img-1"

	repo := &mockPostRepo{
		findByIDFn: func(ctx context.Context, id, viewerID string) (*model.PostWithMeta, error) {
			return p, nil
		},
	}
	images := &mockImageStore{
		deleteByIDFn: func(ctx context.Context, id string) error {
			return errors.New("storage down")
		},
	}

	svc := newTestService(repo, images)

	if err := svc.Delete(context.Background(), "user-1", "post-1"); err != nil {
		t.Errorf("image delete failure must not fail the post delete: %v", err)
	}
}

// --- List ページネーション ---

func makePosts(n int) []model.PostWithMeta {
	posts := make([]model.PostWithMeta, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range posts {
		posts[i] = model.PostWithMeta{
			Post: model.Post{
				ID:        "post-" + string(rune('a'+i)),
				AuthorID:  "user-1",
				CreatedAt: base.Add(-time.Duration(i) * time.Hour),
			},
		}
	}
	return posts
}

func TestList_HasMore_SetsNextCursor(t *testing.T) {
	repo := &mockPostRepo{
		listFn: func(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error) {
			// limit+1件を返してHasMoreを誘発する
			return makePosts(limit), nil
		},
	}

	svc := newTestService(repo, nil)

	result, err := svc.List(context.Background(), "", "", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if !result.HasMore {
		t.Error("expected HasMore = true")
	}
	if len(result.Posts) != 2 {
		t.Errorf("posts = %d, want 2", len(result.Posts))
	}
	if result.NextCursor == "" {
		t.Fatal("expected non-empty next cursor")
	}
	// カーソルは最終記事のcreated_atであること
	want := result.Posts[1].CreatedAt.Format(time.RFC3339Nano)
	if result.NextCursor != want {
		t.Errorf("next cursor = %q, want %q", result.NextCursor, want)
	}
}

func TestList_NoMore_EmptyCursor(t *testing.T) {
	repo := &mockPostRepo{
		listFn: func(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error) {
			return makePosts(1), nil
		},
	}

	svc := newTestService(repo, nil)

	result, err := svc.List(context.Background(), "", "", 20)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.HasMore {
		t.Error("expected HasMore = false")
	}
	if result.NextCursor != "" {
		t.Errorf("next cursor = %q, want empty", result.NextCursor)
	}
}

func TestList_InvalidCursor_ReturnsValidationError(t *testing.T) {
	svc := newTestService(&mockPostRepo{}, nil)

	_, err := svc.List(context.Background(), "", "not-a-timestamp", 20)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_CURSOR" {
		t.Errorf("expected INVALID_CURSOR error, got %v", err)
	}
}

func TestList_LimitNormalization(t *testing.T) {
	var gotLimit int
	repo := &mockPostRepo{
		listFn: func(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.PostWithMeta, error) {
			gotLimit = limit
			return nil, nil
		},
	}

	svc := newTestService(repo, nil)

	// limit 0 → デフォルト20（+1件のHasMore先読み）
	if _, err := svc.List(context.Background(), "", "", 0); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if gotLimit != defaultPageSize+1 {
		t.Errorf("limit = %d, want %d", gotLimit, defaultPageSize+1)
	}

	// 上限超過 → maxPageSizeに丸め
	if _, err := svc.List(context.Background(), "", "", 1000); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if gotLimit != maxPageSize+1 {
		t.Errorf("limit = %d, want %d", gotLimit, maxPageSize+1)
	}
}
