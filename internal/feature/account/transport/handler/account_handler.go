// Package handler はaccountフィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"account_backend/internal/feature/account/transport/http/dto"
	"account_backend/internal/feature/account/usecase"
	jwtmw "account_backend/internal/platform/jwt"
)

// レスポンスメッセージ。
const (
	msgRegistered         = "User created successfully. Email confirmation sent"
	msgRegisteredNoMail   = "User created successfully, but confirmation email could not be sent"
	msgDuplicate          = "Email or Username already exists"
	msgDuplicateRace      = "A user with this email or username already exists."
	msgConfirmationResent = "Confirmation email resent"
	msgConfirmed          = "Email confirmed successfully"
	msgLinkExpired        = "The confirmation link has expired"
	msgLinkInvalid        = "The confirmation link is invalid"
	msgAlreadyConfirmed   = "Email already confirmed"
	msgUserNotFound       = "User not found"
	msgInvalidCredentials = "Invalid credentials"
	msgDeliveryFailed     = "Failed to send confirmation email"
	msgDeleted            = "User deleted successfully"
	msgInvalidRequest     = "invalid request"
	msgValidationFailed   = "validation failed"
	msgInternal           = "internal server error"
	msgForbidden          = "forbidden"
	msgTooManyRequests    = "too many requests"
)

// AccountUsecase はアカウント操作のユースケースを定義します。
// インターフェースはプロバイダー（usecase）ではなくコンシューマー（handler）が定義します。
type AccountUsecase interface {
	Register(ctx context.Context, in usecase.RegisterInput) (*usecase.RegisterResult, error)
	ResendConfirmation(ctx context.Context, email string) error
	ConfirmEmail(ctx context.Context, token string) error
	SignIn(ctx context.Context, email, password string) (*usecase.SignInResult, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	GetProfile(ctx context.Context, userID string) (*usecase.Profile, error)
	UpdateProfile(ctx context.Context, userID string, in usecase.ProfileUpdate) (*usecase.Profile, error)
	DeleteProfile(ctx context.Context, userID string) error
}

// AccountHandler はアカウント操作のHTTPリクエストを処理します。
type AccountHandler struct {
	accounts AccountUsecase
}

// NewAccountHandler はAccountHandlerの新しいインスタンスを生成します。
func NewAccountHandler(accounts AccountUsecase) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Register は POST /register を処理します。
// - 入力不正または既存ユーザーとの重複は400
// - 同時登録で一意制約に負けた場合は409
// - 作成済みでメール送信成功なら201、送信失敗なら202
func (h *AccountHandler) Register(c *gin.Context) {
	var req dto.RegisterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("register request malformed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgInvalidRequest})
		return
	}

	res, err := h.accounts.Register(c.Request.Context(), usecase.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		slog.Warn("register failed", "error", err, "email", req.Email, "remote_addr", c.ClientIP())
		var verr *usecase.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgValidationFailed, Fields: verr.Fields})
		case errors.Is(err, usecase.ErrDuplicateUserRace):
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: msgDuplicateRace})
		case errors.Is(err, usecase.ErrDuplicateUser):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgDuplicate})
		default:
			internalError(c)
		}
		return
	}

	if !res.EmailSent {
		c.JSON(http.StatusAccepted, dto.RegisterRes{Message: msgRegisteredNoMail, UserID: res.UserID})
		return
	}
	slog.Info("user registered", "user_id", res.UserID, "remote_addr", c.ClientIP())
	c.JSON(http.StatusCreated, dto.RegisterRes{Message: msgRegistered, UserID: res.UserID})
}

// ResendConfirmation は POST /resend-confirmation を処理します。
func (h *AccountHandler) ResendConfirmation(c *gin.Context) {
	var req dto.ResendConfirmationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgInvalidRequest})
		return
	}

	err := h.accounts.ResendConfirmation(c.Request.Context(), req.Email)
	if err != nil {
		slog.Warn("resend confirmation failed", "error", err, "email", req.Email, "remote_addr", c.ClientIP())
		var (
			verr  *usecase.ValidationError
			rlErr *usecase.RateLimitError
		)
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgValidationFailed, Fields: verr.Fields})
		case errors.As(err, &rlErr):
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rlErr.RetryAfter.Seconds()))))
			c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{Error: msgTooManyRequests})
		case errors.Is(err, usecase.ErrUserNotFound):
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: msgUserNotFound})
		case errors.Is(err, usecase.ErrDeliveryFailed):
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: msgDeliveryFailed})
		default:
			internalError(c)
		}
		return
	}
	c.JSON(http.StatusOK, dto.MessageResponse{Message: msgConfirmationResent})
}

// ConfirmEmail は GET /confirm-email/:token を処理します。
func (h *AccountHandler) ConfirmEmail(c *gin.Context) {
	err := h.accounts.ConfirmEmail(c.Request.Context(), c.Param("token"))
	if err != nil {
		slog.Warn("email confirmation failed", "error", err, "remote_addr", c.ClientIP())
		switch {
		case errors.Is(err, usecase.ErrTokenExpired):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgLinkExpired})
		case errors.Is(err, usecase.ErrTokenInvalid):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgLinkInvalid})
		case errors.Is(err, usecase.ErrAlreadyConfirmed):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgAlreadyConfirmed})
		case errors.Is(err, usecase.ErrUserNotFound):
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: msgUserNotFound})
		default:
			internalError(c)
		}
		return
	}
	c.JSON(http.StatusOK, dto.MessageResponse{Message: msgConfirmed})
}

// SignIn は POST /signin を処理します。
// 認証失敗の理由は公開しません。
func (h *AccountHandler) SignIn(c *gin.Context) {
	var req dto.SignInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("signin request malformed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgInvalidRequest})
		return
	}

	res, err := h.accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		slog.Warn("signin failed", "error", err, "email", req.Email, "remote_addr", c.ClientIP())
		if errors.Is(err, usecase.ErrAuthFailed) {
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: msgInvalidCredentials})
			return
		}
		internalError(c)
		return
	}
	slog.Info("user signed in", "user_id", res.Profile.UserID, "remote_addr", c.ClientIP())
	c.JSON(http.StatusOK, dto.SignInRes{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         toProfileRes(res.Profile),
	})
}

// RefreshToken は POST /refresh_token を処理します。
// リフレッシュトークンは Authorization ヘッダー、なければJSONボディから読み取ります。
func (h *AccountHandler) RefreshToken(c *gin.Context) {
	token, ok := jwtmw.BearerToken(c)
	if !ok {
		var req dto.RefreshReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing refresh token"})
			return
		}
		token = req.RefreshToken
	}

	access, err := h.accounts.RefreshAccessToken(c.Request.Context(), token)
	if err != nil {
		slog.Warn("token refresh failed", "error", err, "remote_addr", c.ClientIP())
		switch {
		case errors.Is(err, usecase.ErrTokenExpired):
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "token expired"})
		case errors.Is(err, usecase.ErrTokenInvalid), errors.Is(err, usecase.ErrUserNotFound):
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid token"})
		default:
			internalError(c)
		}
		return
	}
	c.JSON(http.StatusOK, dto.RefreshRes{AccessToken: access})
}

// Protected は GET /protected を処理し、呼び出し元のプロフィールを返します。
func (h *AccountHandler) Protected(c *gin.Context) {
	userID, ok := jwtmw.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid token"})
		return
	}
	p, err := h.accounts.GetProfile(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, usecase.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: msgUserNotFound})
			return
		}
		slog.Error("get profile failed", "error", err, "user_id", userID)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, toProfileRes(p))
}

// UpdateProfile は PUT /users/:user_id を処理します。本人以外は403です。
func (h *AccountHandler) UpdateProfile(c *gin.Context) {
	userID, ok := h.owner(c)
	if !ok {
		return
	}
	var req dto.UpdateProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgInvalidRequest})
		return
	}

	p, err := h.accounts.UpdateProfile(c.Request.Context(), userID, usecase.ProfileUpdate{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		slog.Warn("profile update failed", "error", err, "user_id", userID, "remote_addr", c.ClientIP())
		var verr *usecase.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgValidationFailed, Fields: verr.Fields})
		case errors.Is(err, usecase.ErrUserNotFound):
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: msgUserNotFound})
		case errors.Is(err, usecase.ErrDuplicateUser):
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: msgDuplicate})
		default:
			internalError(c)
		}
		return
	}
	c.JSON(http.StatusOK, toProfileRes(p))
}

// DeleteProfile は DELETE /users/:user_id を処理します。本人以外は403です。
func (h *AccountHandler) DeleteProfile(c *gin.Context) {
	userID, ok := h.owner(c)
	if !ok {
		return
	}
	if err := h.accounts.DeleteProfile(c.Request.Context(), userID); err != nil {
		if errors.Is(err, usecase.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: msgUserNotFound})
			return
		}
		slog.Error("delete profile failed", "error", err, "user_id", userID)
		internalError(c)
		return
	}
	slog.Info("user deleted", "user_id", userID, "remote_addr", c.ClientIP())
	c.JSON(http.StatusOK, dto.MessageResponse{Message: msgDeleted})
}

// owner はパスの user_id がトークンの主体と一致することを確認します。
func (h *AccountHandler) owner(c *gin.Context) (string, bool) {
	userID, ok := jwtmw.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid token"})
		return "", false
	}
	if c.Param("user_id") != userID {
		slog.Warn("user id mismatch", "token_user_id", userID, "path_user_id", c.Param("user_id"), "remote_addr", c.ClientIP())
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: msgForbidden})
		return "", false
	}
	return userID, true
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: msgInternal})
}

func toProfileRes(p *usecase.Profile) dto.ProfileRes {
	return dto.ProfileRes{
		UserID:         p.UserID,
		Username:       p.Username,
		Email:          p.Email,
		EmailConfirmed: p.EmailConfirmed,
		CreatedAt:      p.CreatedAt,
	}
}
