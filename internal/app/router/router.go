package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	accounthandler "account_backend/internal/feature/account/transport/handler"
	platformhandler "account_backend/internal/platform/http/handler"
	jwtmw "account_backend/internal/platform/jwt"
	"account_backend/internal/platform/logger"
	"account_backend/internal/platform/metrics"
)

// Deps はルーター構築に必要なコンポーネントです。
type Deps struct {
	Accounts *accounthandler.AccountHandler
	Verifier jwtmw.Verifier
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// Readiness は /readyz で疎通確認する依存先です。
	Readiness   map[string]platformhandler.Pinger
	CORSOrigins []string
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.RequestLogger(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
	}
	// CORS はオリジンが設定された場合のみ有効
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  d.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:  []string{"Authorization", "Content-Type"},
			ExposeHeaders: []string{"Retry-After"},
			MaxAge:        12 * time.Hour,
		}))
	}

	// 導通確認用
	r.Match([]string{http.MethodGet, http.MethodHead, http.MethodOptions}, "/healthz", platformhandler.Health)
	r.GET("/readyz", platformhandler.Readiness(2*time.Second, d.Readiness))
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	// 認証不要
	r.POST("/register", d.Accounts.Register)
	r.POST("/resend-confirmation", d.Accounts.ResendConfirmation)
	r.GET("/confirm-email/:token", d.Accounts.ConfirmEmail)
	r.POST("/signin", d.Accounts.SignIn)
	// リフレッシュトークンはヘッダーまたはボディで受け取るため認証ミドルウェアを通さない
	r.POST("/refresh_token", d.Accounts.RefreshToken)

	// 認証必須のルート
	// → リクエストヘッダーにアクセストークンが必要になる
	auth := r.Group("/")
	auth.Use(jwtmw.AuthRequired(d.Verifier))
	{
		auth.GET("/protected", d.Accounts.Protected)
		auth.PUT("/users/:user_id", d.Accounts.UpdateProfile)
		auth.DELETE("/users/:user_id", d.Accounts.DeleteProfile)
	}

	return r
}
