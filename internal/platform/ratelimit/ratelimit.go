// Package ratelimit は確認メール再送などの操作回数をキー単位で制限します。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"account_backend/internal/feature/account/usecase"
)

// Config はレート制限の設定です。Limit が 0 の場合は制限しません。
type Config struct {
	Limit  int           `env:"RESEND_LIMIT" envDefault:"0"`
	Window time.Duration `env:"RESEND_WINDOW" envDefault:"1h"`
}

// Enabled は制限が有効かどうかを返します。
func (c Config) Enabled() bool { return c.Limit > 0 && c.Window > 0 }

// RedisLimiter は Redis の固定ウィンドウで回数を数えます。
// 複数インスタンス間でカウントを共有します。
type RedisLimiter struct {
	rdb       *redis.Client
	limit     int
	window    time.Duration
	namespace string
}

var _ usecase.RateLimiter = (*RedisLimiter)(nil)

// NewRedisLimiter は RedisLimiter を生成します。
func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration, namespace string) *RedisLimiter {
	if namespace == "" {
		namespace = "ratelimit"
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, namespace: namespace}
}

// Allow はキーのカウントを1つ進め、上限以内であれば true を返します。
// 上限を超えた場合はウィンドウがリセットされるまでの時間を返します。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.namespace + ":" + key

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	if incr.Val() <= int64(l.limit) {
		return true, 0, nil
	}

	ttl, err := l.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		ttl = l.window
	}
	return false, ttl, nil
}

// MemoryLimiter はプロセス内の固定ウィンドウで回数を数えます。
// Redis が使えない場合の代替です。
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*window
	// lastSweep limits full scans of windows to one per window length.
	lastSweep time.Time
}

type window struct {
	count     int
	lastReset time.Time
}

var _ usecase.RateLimiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter は MemoryLimiter を生成します。
func NewMemoryLimiter(limit int, interval time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  interval,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow はキーのカウントを1つ進め、上限以内であれば true を返します。
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	// interval を過ぎたらカウントリセット
	if !ok || now.Sub(w.lastReset) >= l.window {
		w = &window{lastReset: now}
		l.windows[key] = w
		if now.Sub(l.lastSweep) >= l.window {
			l.sweep(now)
		}
	}

	w.count++
	if w.count > l.limit {
		return false, l.window - now.Sub(w.lastReset), nil
	}
	return true, 0, nil
}

// sweep は期限切れのウィンドウを削除します。
func (l *MemoryLimiter) sweep(now time.Time) {
	l.lastSweep = now
	for k, w := range l.windows {
		if now.Sub(w.lastReset) >= l.window {
			delete(l.windows, k)
		}
	}
}
