package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"account_backend/internal/feature/account/adapters"
	"account_backend/internal/feature/account/domain/entity"
	accounthandler "account_backend/internal/feature/account/transport/handler"
	"account_backend/internal/feature/account/usecase"
	platformhandler "account_backend/internal/platform/http/handler"
	jwtmw "account_backend/internal/platform/jwt"
	"account_backend/internal/platform/metrics"
	"account_backend/internal/platform/password"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type captureNotifier struct {
	mu   sync.Mutex
	body string
}

func (n *captureNotifier) Send(_ context.Context, _, _, body string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.body = body
	return http.StatusOK, nil
}

var linkPath = regexp.MustCompile(`/confirm-email/[A-Za-z0-9_\-\.]+`)

func (n *captureNotifier) link() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return linkPath.FindString(n.body)
}

type testServer struct {
	engine *gin.Engine
	mail   *captureNotifier
}

func newTestServer(t *testing.T, ready map[string]platformhandler.Pinger, origins ...string) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&entity.User{}))

	codec, err := jwtmw.NewCodec("router-test-secret")
	require.NoError(t, err)
	mail := &captureNotifier{}
	m := metrics.New()

	uc := usecase.NewAccountUsecase(
		adapters.NewUserGorm(db),
		codec,
		password.NewHasher(bcrypt.MinCost),
		mail,
		usecase.Config{ConfirmURLBase: "http://localhost:8080/confirm-email/"},
		usecase.WithEventRecorder(m),
	)

	engine := NewRouter(Deps{
		Accounts:    accounthandler.NewAccountHandler(uc),
		Verifier:    codec,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:     m,
		Readiness:   ready,
		CORSOrigins: origins,
	})
	return &testServer{engine: engine, mail: mail}
}

func (s *testServer) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestRouter_PlatformEndpoints(t *testing.T) {
	s := newTestServer(t, map[string]platformhandler.Pinger{
		"db": platformhandler.PingFunc(func(context.Context) error { return nil }),
	})

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil, "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/readyz", nil, "").Code)

	w := s.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "account_http_requests_total")
}

func TestRouter_NotReady(t *testing.T) {
	s := newTestServer(t, map[string]platformhandler.Pinger{
		"db": platformhandler.PingFunc(func(context.Context) error { return errors.New("down") }),
	})

	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/readyz", nil, "").Code)
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/protected"},
		{http.MethodPut, "/users/u-1"},
		{http.MethodDelete, "/users/u-1"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, s.do(tt.method, tt.path, nil, "").Code)
			assert.Equal(t, http.StatusUnauthorized, s.do(tt.method, tt.path, nil, "not-a-token").Code)
		})
	}
}

// TestRouter_AccountLifecycle は HTTP 経由で登録から削除までを通しで検証します。
func TestRouter_AccountLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/register", map[string]string{
		"username": "alice", "email": "a@x.com", "password": "password1",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg struct {
		UserID string `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))

	w = s.do(http.MethodPost, "/register", map[string]string{
		"username": "alice2", "email": "a@x.com", "password": "password1",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/signin", map[string]string{"email": "a@x.com", "password": "password1"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "unconfirmed user must not sign in")

	link := s.mail.link()
	require.NotEmpty(t, link)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, link, nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, link, nil, "").Code, "second confirmation")

	w = s.do(http.MethodPost, "/signin", map[string]string{"email": "a@x.com", "password": "password1"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var signed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &signed))

	// リフレッシュトークンではアクセスできない
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/protected", nil, signed.RefreshToken).Code)

	w = s.do(http.MethodGet, "/protected", nil, signed.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)

	w = s.do(http.MethodPost, "/refresh_token", nil, signed.RefreshToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPut, "/users/"+reg.UserID, map[string]string{"username": "alice_new"}, signed.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "alice_new")

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, "/users/someone-else", nil, signed.AccessToken).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/users/"+reg.UserID, nil, signed.AccessToken).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/protected", nil, signed.AccessToken).Code)

	metricsBody := s.do(http.MethodGet, "/metrics", nil, "").Body.String()
	assert.True(t, strings.Contains(metricsBody, `account_events_total{event="registered"} 1`), metricsBody)
}

func TestRouter_CORS(t *testing.T) {
	s := newTestServer(t, nil, "https://app.example")

	req := httptest.NewRequest(http.MethodOptions, "/signin", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}
