package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account_backend/internal/feature/account/usecase"
	jwtmw "account_backend/internal/platform/jwt"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// mockAccountUsecase is a mock implementation of AccountUsecase.
type mockAccountUsecase struct {
	RegisterFunc           func(in usecase.RegisterInput) (*usecase.RegisterResult, error)
	ResendConfirmationFunc func(email string) error
	ConfirmEmailFunc       func(token string) error
	SignInFunc             func(email, password string) (*usecase.SignInResult, error)
	RefreshAccessTokenFunc func(token string) (string, error)
	GetProfileFunc         func(userID string) (*usecase.Profile, error)
	UpdateProfileFunc      func(userID string, in usecase.ProfileUpdate) (*usecase.Profile, error)
	DeleteProfileFunc      func(userID string) error
}

var errNotMocked = errors.New("not mocked")

func (m *mockAccountUsecase) Register(_ context.Context, in usecase.RegisterInput) (*usecase.RegisterResult, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(in)
	}
	return nil, errNotMocked
}

func (m *mockAccountUsecase) ResendConfirmation(_ context.Context, email string) error {
	if m.ResendConfirmationFunc != nil {
		return m.ResendConfirmationFunc(email)
	}
	return errNotMocked
}

func (m *mockAccountUsecase) ConfirmEmail(_ context.Context, token string) error {
	if m.ConfirmEmailFunc != nil {
		return m.ConfirmEmailFunc(token)
	}
	return errNotMocked
}

func (m *mockAccountUsecase) SignIn(_ context.Context, email, password string) (*usecase.SignInResult, error) {
	if m.SignInFunc != nil {
		return m.SignInFunc(email, password)
	}
	return nil, errNotMocked
}

func (m *mockAccountUsecase) RefreshAccessToken(_ context.Context, token string) (string, error) {
	if m.RefreshAccessTokenFunc != nil {
		return m.RefreshAccessTokenFunc(token)
	}
	return "", errNotMocked
}

func (m *mockAccountUsecase) GetProfile(_ context.Context, userID string) (*usecase.Profile, error) {
	if m.GetProfileFunc != nil {
		return m.GetProfileFunc(userID)
	}
	return nil, errNotMocked
}

func (m *mockAccountUsecase) UpdateProfile(_ context.Context, userID string, in usecase.ProfileUpdate) (*usecase.Profile, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(userID, in)
	}
	return nil, errNotMocked
}

func (m *mockAccountUsecase) DeleteProfile(_ context.Context, userID string) error {
	if m.DeleteProfileFunc != nil {
		return m.DeleteProfileFunc(userID)
	}
	return errNotMocked
}

// asUser stands in for AuthRequired.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(jwtmw.ContextUserID, userID)
		c.Next()
	}
}

func newTestRouter(uc AccountUsecase) *gin.Engine {
	h := NewAccountHandler(uc)
	r := gin.New()
	r.POST("/register", h.Register)
	r.POST("/resend-confirmation", h.ResendConfirmation)
	r.GET("/confirm-email/:token", h.ConfirmEmail)
	r.POST("/signin", h.SignIn)
	r.POST("/refresh_token", h.RefreshToken)
	authed := r.Group("/", asUser("u-7"))
	authed.GET("/protected", h.Protected)
	authed.PUT("/users/:user_id", h.UpdateProfile)
	authed.DELETE("/users/:user_id", h.DeleteProfile)
	return r
}

func doJSON(r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	switch b := body.(type) {
	case nil:
		buf = &bytes.Buffer{}
	case string:
		buf = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		buf = bytes.NewBuffer(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) gin.H {
	t.Helper()
	var got gin.H
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got), "body: %s", w.Body.String())
	return got
}

func TestAccountHandler_Register(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		registerFunc   func(in usecase.RegisterInput) (*usecase.RegisterResult, error)
		expectedStatus int
		expectedBody   gin.H
	}{
		{
			name: "success: created and mailed",
			body: gin.H{"username": "alice", "email": "a@x.com", "password": "password1"},
			registerFunc: func(in usecase.RegisterInput) (*usecase.RegisterResult, error) {
				return &usecase.RegisterResult{UserID: "u-1", EmailSent: true}, nil
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   gin.H{"message": msgRegistered, "user_id": "u-1"},
		},
		{
			name: "success: created but mail failed",
			body: gin.H{"username": "alice", "email": "a@x.com", "password": "password1"},
			registerFunc: func(in usecase.RegisterInput) (*usecase.RegisterResult, error) {
				return &usecase.RegisterResult{UserID: "u-1", EmailSent: false}, nil
			},
			expectedStatus: http.StatusAccepted,
			expectedBody:   gin.H{"message": msgRegisteredNoMail, "user_id": "u-1"},
		},
		{
			name:           "failure: malformed json",
			body:           "{",
			expectedStatus: http.StatusBadRequest,
			expectedBody:   gin.H{"error": msgInvalidRequest},
		},
		{
			name: "failure: field validation",
			body: gin.H{"username": "ab", "email": "a@x.com", "password": "password1"},
			registerFunc: func(in usecase.RegisterInput) (*usecase.RegisterResult, error) {
				return nil, &usecase.ValidationError{Fields: map[string]string{"username": "Length must be between 3 and 30."}}
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody: gin.H{"error": msgValidationFailed,
				"fields": map[string]any{"username": "Length must be between 3 and 30."}},
		},
		{
			name: "failure: duplicate at pre-check",
			body: gin.H{"username": "alice", "email": "a@x.com", "password": "password1"},
			registerFunc: func(in usecase.RegisterInput) (*usecase.RegisterResult, error) {
				return nil, usecase.ErrDuplicateUser
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   gin.H{"error": msgDuplicate},
		},
		{
			name: "failure: duplicate by race",
			body: gin.H{"username": "alice", "email": "a@x.com", "password": "password1"},
			registerFunc: func(in usecase.RegisterInput) (*usecase.RegisterResult, error) {
				return nil, usecase.ErrDuplicateUserRace
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   gin.H{"error": msgDuplicateRace},
		},
		{
			name: "failure: store outage",
			body: gin.H{"username": "alice", "email": "a@x.com", "password": "password1"},
			registerFunc: func(in usecase.RegisterInput) (*usecase.RegisterResult, error) {
				return nil, errors.New("db down")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   gin.H{"error": msgInternal},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&mockAccountUsecase{RegisterFunc: tt.registerFunc})

			w := doJSON(r, http.MethodPost, "/register", tt.body, nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, decode(t, w))
		})
	}
}

func TestAccountHandler_ResendConfirmation(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"unknown email", usecase.ErrUserNotFound, http.StatusNotFound, msgUserNotFound},
		{"gateway failure", usecase.ErrDeliveryFailed, http.StatusInternalServerError, msgDeliveryFailed},
		{"invalid email", &usecase.ValidationError{Fields: map[string]string{"email": "x"}}, http.StatusBadRequest, msgValidationFailed},
		{"rate limited", &usecase.RateLimitError{RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, msgTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotEmail string
			r := newTestRouter(&mockAccountUsecase{ResendConfirmationFunc: func(email string) error {
				gotEmail = email
				return tt.err
			}})

			w := doJSON(r, http.MethodPost, "/resend-confirmation", gin.H{"email": "a@x.com"}, nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "a@x.com", gotEmail)
			body := decode(t, w)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, body["error"])
			} else {
				assert.Equal(t, msgConfirmationResent, body["message"])
			}
			if tt.expectedStatus == http.StatusTooManyRequests {
				assert.Equal(t, "2", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestAccountHandler_ConfirmEmail(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedBody   gin.H
	}{
		{"success", nil, http.StatusOK, gin.H{"message": msgConfirmed}},
		{"expired", usecase.ErrTokenExpired, http.StatusBadRequest, gin.H{"error": msgLinkExpired}},
		{"invalid", usecase.ErrTokenInvalid, http.StatusBadRequest, gin.H{"error": msgLinkInvalid}},
		{"already confirmed", usecase.ErrAlreadyConfirmed, http.StatusBadRequest, gin.H{"error": msgAlreadyConfirmed}},
		{"account gone", usecase.ErrUserNotFound, http.StatusNotFound, gin.H{"error": msgUserNotFound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken string
			r := newTestRouter(&mockAccountUsecase{ConfirmEmailFunc: func(token string) error {
				gotToken = token
				return tt.err
			}})

			w := doJSON(r, http.MethodGet, "/confirm-email/abc.def.ghi", nil, nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "abc.def.ghi", gotToken)
			assert.Equal(t, tt.expectedBody, decode(t, w))
		})
	}
}

func TestAccountHandler_SignIn(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		r := newTestRouter(&mockAccountUsecase{SignInFunc: func(email, password string) (*usecase.SignInResult, error) {
			return &usecase.SignInResult{
				AccessToken:  "access",
				RefreshToken: "refresh",
				Profile:      &usecase.Profile{UserID: "u-7", Username: "alice", Email: email, EmailConfirmed: true, CreatedAt: created},
			}, nil
		}})

		w := doJSON(r, http.MethodPost, "/signin", gin.H{"email": "a@x.com", "password": "password1"}, nil)

		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "access", body["access_token"])
		assert.Equal(t, "refresh", body["refresh_token"])
		user := body["user"].(map[string]any)
		assert.Equal(t, "u-7", user["user_id"])
		assert.NotContains(t, user, "password_hash")
	})

	tests := []struct {
		name           string
		body           any
		err            error
		expectedStatus int
		expectedBody   gin.H
	}{
		{"missing password", gin.H{"email": "a@x.com"}, nil, http.StatusBadRequest, gin.H{"error": msgInvalidRequest}},
		{"auth failed", gin.H{"email": "a@x.com", "password": "x"}, usecase.ErrAuthFailed, http.StatusUnauthorized, gin.H{"error": msgInvalidCredentials}},
		{"store outage", gin.H{"email": "a@x.com", "password": "x"}, errors.New("db down"), http.StatusInternalServerError, gin.H{"error": msgInternal}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&mockAccountUsecase{SignInFunc: func(string, string) (*usecase.SignInResult, error) {
				return nil, tt.err
			}})

			w := doJSON(r, http.MethodPost, "/signin", tt.body, nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, decode(t, w))
		})
	}
}

func TestAccountHandler_RefreshToken(t *testing.T) {
	refresh := func(token string) (string, error) {
		switch token {
		case "good":
			return "new-access", nil
		case "stale":
			return "", usecase.ErrTokenExpired
		case "orphan":
			return "", usecase.ErrUserNotFound
		}
		return "", usecase.ErrTokenInvalid
	}

	tests := []struct {
		name           string
		headers        map[string]string
		body           any
		expectedStatus int
		expectedBody   gin.H
	}{
		{"bearer header", map[string]string{"Authorization": "Bearer good"}, nil, http.StatusOK, gin.H{"access_token": "new-access"}},
		{"json body", nil, gin.H{"refresh_token": "good"}, http.StatusOK, gin.H{"access_token": "new-access"}},
		{"missing", nil, nil, http.StatusUnauthorized, gin.H{"error": "missing refresh token"}},
		{"expired", map[string]string{"Authorization": "Bearer stale"}, nil, http.StatusUnauthorized, gin.H{"error": "token expired"}},
		{"access token presented", map[string]string{"Authorization": "Bearer access"}, nil, http.StatusUnauthorized, gin.H{"error": "invalid token"}},
		{"deleted user", map[string]string{"Authorization": "Bearer orphan"}, nil, http.StatusUnauthorized, gin.H{"error": "invalid token"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&mockAccountUsecase{RefreshAccessTokenFunc: refresh})

			w := doJSON(r, http.MethodPost, "/refresh_token", tt.body, tt.headers)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, decode(t, w))
		})
	}
}

func TestAccountHandler_Protected(t *testing.T) {
	t.Run("returns caller profile", func(t *testing.T) {
		var gotID string
		r := newTestRouter(&mockAccountUsecase{GetProfileFunc: func(id string) (*usecase.Profile, error) {
			gotID = id
			return &usecase.Profile{UserID: id, Username: "alice", Email: "a@x.com"}, nil
		}})

		w := doJSON(r, http.MethodGet, "/protected", nil, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u-7", gotID)
		assert.Equal(t, "alice", decode(t, w)["username"])
	})

	t.Run("account gone", func(t *testing.T) {
		r := newTestRouter(&mockAccountUsecase{GetProfileFunc: func(string) (*usecase.Profile, error) {
			return nil, usecase.ErrUserNotFound
		}})

		w := doJSON(r, http.MethodGet, "/protected", nil, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("no identity in context", func(t *testing.T) {
		h := NewAccountHandler(&mockAccountUsecase{})
		r := gin.New()
		r.GET("/protected", h.Protected)

		w := doJSON(r, http.MethodGet, "/protected", nil, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAccountHandler_UpdateProfile(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		body           any
		err            error
		expectedStatus int
	}{
		{"success", "/users/u-7", gin.H{"username": "alice2"}, nil, http.StatusOK},
		{"someone else", "/users/u-8", gin.H{"username": "alice2"}, nil, http.StatusForbidden},
		{"malformed json", "/users/u-7", "{", nil, http.StatusBadRequest},
		{"validation", "/users/u-7", gin.H{"username": "a"}, &usecase.ValidationError{Fields: map[string]string{"username": "x"}}, http.StatusBadRequest},
		{"gone", "/users/u-7", gin.H{"username": "alice2"}, usecase.ErrUserNotFound, http.StatusNotFound},
		{"taken", "/users/u-7", gin.H{"email": "b@x.com"}, usecase.ErrDuplicateUser, http.StatusConflict},
		{"taken by race", "/users/u-7", gin.H{"email": "b@x.com"}, usecase.ErrDuplicateUserRace, http.StatusConflict},
		{"store outage", "/users/u-7", gin.H{"email": "b@x.com"}, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			r := newTestRouter(&mockAccountUsecase{UpdateProfileFunc: func(id string, in usecase.ProfileUpdate) (*usecase.Profile, error) {
				called = true
				if tt.err != nil {
					return nil, tt.err
				}
				require.NotNil(t, in.Username)
				assert.Nil(t, in.Email)
				return &usecase.Profile{UserID: id, Username: *in.Username}, nil
			}})

			w := doJSON(r, http.MethodPut, tt.path, tt.body, nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusForbidden {
				assert.False(t, called, "usecase must not run for another user")
			}
		})
	}
}

func TestAccountHandler_DeleteProfile(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		err            error
		expectedStatus int
	}{
		{"success", "/users/u-7", nil, http.StatusOK},
		{"someone else", "/users/u-8", nil, http.StatusForbidden},
		{"gone", "/users/u-7", usecase.ErrUserNotFound, http.StatusNotFound},
		{"store outage", "/users/u-7", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&mockAccountUsecase{DeleteProfileFunc: func(string) error { return tt.err }})

			w := doJSON(r, http.MethodDelete, tt.path, nil, nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}
