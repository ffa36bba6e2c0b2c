// Package handler はプラットフォームレベルのエンドポイント用HTTPハンドラーを提供します。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health はサービスヘルスチェック用の /healthz エンドポイントを処理します。
// プロセスが応答できれば常に成功します。
func Health(c *gin.Context) {
	// 明示的にキャッシュを防止
	c.Header("Cache-Control", "no-store")

	switch c.Request.Method {
	case http.MethodHead:
		c.Status(http.StatusOK)
	case http.MethodOptions:
		c.Status(http.StatusNoContent)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Pinger は依存先への疎通確認です。
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc は関数を Pinger として扱います。
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Readiness は /readyz を処理します。
// 登録された依存先すべてに疎通できた場合のみ 200 を返し、
// 1つでも失敗すれば 503 と失敗した依存先の名前を返します。
func Readiness(timeout time.Duration, checks map[string]Pinger) gin.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		status := make(map[string]string, len(checks))
		ready := true
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				status[name] = err.Error()
				ready = false
				continue
			}
			status[name] = "ok"
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": status})
	}
}
