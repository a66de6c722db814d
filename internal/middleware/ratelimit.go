package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/blogman/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	PostCreateRate  rate.Limit    // 記事作成のレート（req/sec）。10/60
	PostCreateBurst int           // 記事作成のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、記事作成 10 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		PostCreateRate:  rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		PostCreateBurst: 10,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterBucket は用途別（API全般・記事作成）のリミッター集合。
type limiterBucket struct {
	name     string
	rateVal  rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*userLimiter
}

// get はユーザーのリミッターを取得または作成し、最終アクセス時刻を更新する。
func (b *limiterBucket) get(userID string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ul, exists := b.limiters[userID]; exists {
		ul.lastAccess = time.Now()
		return ul.limiter
	}

	limiter := rate.NewLimiter(b.rateVal, b.burst)
	b.limiters[userID] = &userLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

// cleanup は最終アクセス時刻がttlを超えたエントリを削除する。
func (b *limiterBucket) cleanup(ttl time.Duration) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, ul := range b.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(b.limiters, userID)
		}
	}
}

// count は現在管理されているエントリ数を返す。テストおよびメトリクス用。
func (b *limiterBucket) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.limiters)
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般のレート制限と記事作成のレート制限の2種類を提供する。
type RateLimiter struct {
	config     RateLimiterConfig
	general    *limiterBucket
	postCreate *limiterBucket
	stopCh     chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config: config,
		general: &limiterBucket{
			name:     "general",
			rateVal:  config.GeneralRate,
			burst:    config.GeneralBurst,
			limiters: make(map[string]*userLimiter),
		},
		postCreate: &limiterBucket{
			name:     "post_creation",
			rateVal:  config.PostCreateRate,
			burst:    config.PostCreateBurst,
			limiters: make(map[string]*userLimiter),
		},
		stopCh: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにユーザーIDが含まれている必要がある（SessionMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.bucketMiddleware(rl.general)
}

// PostCreationMiddleware は記事作成専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) PostCreationMiddleware() func(next http.Handler) http.Handler {
	return rl.bucketMiddleware(rl.postCreate)
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// PostCreateLimiterCount は現在管理されている記事作成リミッターのエントリ数を返す。
func (rl *RateLimiter) PostCreateLimiterCount() int {
	return rl.postCreate.count()
}

// bucketMiddleware は指定バケットによるレート制限ミドルウェアを返す。
func (rl *RateLimiter) bucketMiddleware(bucket *limiterBucket) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredError())
				return
			}

			if !bucket.get(userID).Allow() {
				writeRateLimitResponse(w, bucket.rateVal)
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", bucket.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	ttl := rl.config.CleanupInterval * 2

	for {
		select {
		case <-ticker.C:
			rl.general.cleanup(ttl)
			rl.postCreate.cleanup(ttl)
		case <-rl.stopCh:
			return
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
