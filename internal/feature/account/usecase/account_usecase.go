package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"account_backend/internal/feature/account/domain/entity"
)

// トークンの用途。用途ごとに署名鍵が分かれるため、別用途のトークンは検証に失敗します。
const (
	PurposeConfirmEmail = "confirm_email"
	PurposeAccess       = "access"
	PurposeRefresh      = "refresh"
)

// アカウントイベント名（メトリクス用）。
const (
	EventRegistered      = "registered"
	EventEmailSent       = "email_sent"
	EventEmailFailed     = "email_failed"
	EventEmailConfirmed  = "email_confirmed"
	EventSignInSucceeded = "signin_succeeded"
	EventSignInFailed    = "signin_failed"
	EventTokenRefreshed  = "token_refreshed"
	EventProfileUpdated  = "profile_updated"
	EventProfileDeleted  = "profile_deleted"
)

// dummyPasswordHash はユーザーが存在しない場合にも bcrypt 比較を走らせるためのハッシュです。
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// TokenCodec は署名付き・期限付きトークンの発行と検証を抽象化します。
// Verify は ErrTokenExpired または ErrTokenInvalid を返します。
type TokenCodec interface {
	// Issue は subject を埋め込んだトークンを発行します。ttl が 0 の場合 exp を付けません。
	Issue(subject, purpose string, ttl time.Duration) (string, error)
	// IssueSession はアカウント情報のクレームを含むアクセス/リフレッシュトークンを発行します。
	IssueSession(claims SessionClaims, purpose string, ttl time.Duration) (string, error)
	// Verify は purpose 用に発行され、maxAge（0 なら無制限）以内のトークンであれば subject を返します。
	Verify(token, purpose string, maxAge time.Duration) (string, error)
}

// SessionClaims はセッショントークンに埋め込むユーザー情報です。UserID が subject になります。
type SessionClaims struct {
	UserID   string
	Email    string
	Username string
	ID       uint
}

// PasswordHasher はパスワードの一方向ハッシュを抽象化します。
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify は不正な形式のハッシュに対しても false を返すだけでエラーにしません。
	Verify(hash, password string) bool
}

// Notifier は確認メールの送信ゲートウェイです。ステータス 200 のみ成功とみなします。
type Notifier interface {
	Send(ctx context.Context, recipient, subject, htmlBody string) (int, error)
}

// RateLimiter はキーごとの送信回数を制限します。
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// ProfileCache はプロフィールの読み取りキャッシュです。失敗しても呼び出し元には伝えません。
type ProfileCache interface {
	Get(ctx context.Context, userID string) (*Profile, bool)
	Set(ctx context.Context, profile *Profile)
	Invalidate(ctx context.Context, userID string)
}

// EventRecorder はアカウントイベントを計測します。
type EventRecorder interface {
	Record(event string)
}

// Config はユースケースの動作パラメータです。
type Config struct {
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ConfirmTokenMaxAge time.Duration
	MailTimeout        time.Duration
	// ConfirmURLBase の末尾にトークンを連結して確認リンクを作ります。
	ConfirmURLBase string
}

// Profile はクライアントに見せてよいユーザー情報です。
type Profile struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	EmailConfirmed bool      `json:"email_confirmed"`
	CreatedAt      time.Time `json:"created_at"`
}

// RegisterInput は新規登録の入力です。
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// RegisterResult は登録結果です。EmailSent が false の場合、アカウントは作成済みですがメール送信に失敗しています。
type RegisterResult struct {
	UserID    string
	EmailSent bool
}

// SignInResult はサインイン成功時に発行されるトークンの組です。
type SignInResult struct {
	AccessToken  string
	RefreshToken string
	Profile      *Profile
}

// ProfileUpdate は部分更新の入力です。nil のフィールドは変更しません。
type ProfileUpdate struct {
	Username *string
	Email    *string
	Password *string
}

// RateLimitError は再送制限に達したことを表し、ErrRateLimited として判定できます。
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Option は任意の依存を設定します。
type Option func(*accountUsecase)

// WithProfileCache はプロフィールキャッシュを設定します。
func WithProfileCache(c ProfileCache) Option {
	return func(u *accountUsecase) { u.cache = c }
}

// WithRateLimiter は確認メール再送の制限を設定します。
func WithRateLimiter(l RateLimiter) Option {
	return func(u *accountUsecase) { u.limiter = l }
}

// WithEventRecorder はイベント計測を設定します。
func WithEventRecorder(r EventRecorder) Option {
	return func(u *accountUsecase) { u.events = r }
}

// accountUsecase はアカウントのビジネスロジックを実装します。
// リクエスト間で共有する可変状態は持ちません。
type accountUsecase struct {
	store    UserStore
	tokens   TokenCodec
	hasher   PasswordHasher
	notifier Notifier
	cfg      Config

	cache   ProfileCache
	limiter RateLimiter
	events  EventRecorder
	tracer  trace.Tracer
}

// NewAccountUsecase は accountUsecase の新しいインスタンスを生成します。
func NewAccountUsecase(store UserStore, tokens TokenCodec, hasher PasswordHasher, notifier Notifier, cfg Config, opts ...Option) *accountUsecase {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = time.Hour
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.ConfirmTokenMaxAge <= 0 {
		cfg.ConfirmTokenMaxAge = 10 * time.Minute
	}
	if cfg.MailTimeout <= 0 {
		cfg.MailTimeout = 10 * time.Second
	}
	u := &accountUsecase{
		store:    store,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		cfg:      cfg,
		events:   nopRecorder{},
		tracer:   otel.Tracer("account_backend/account"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Register は新規ユーザーを作成し、確認メールを送信します。
// 重複チェックと挿入は同一トランザクション内で行い、競合は一意制約で検出します。
// メール送信の失敗は登録を取り消さず、EmailSent=false として返します。
func (u *accountUsecase) Register(ctx context.Context, in RegisterInput) (_ *RegisterResult, err error) {
	ctx, span := u.tracer.Start(ctx, "account.Register")
	defer func() { endSpan(span, err) }()

	username := strings.TrimSpace(in.Username)
	email := canonicalEmail(in.Email)
	if err := validateRegistration(username, email, in.Password); err != nil {
		return nil, err
	}

	hash, err := u.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &entity.User{
		UserID:       uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	err = u.store.WithinTx(ctx, func(repo UserRepository) error {
		_, err := repo.FindByEmailOrUsername(ctx, email, username)
		switch {
		case err == nil:
			return ErrDuplicateUser
		case !errors.Is(err, ErrUserNotFound):
			return err
		}
		if err := repo.Create(ctx, user); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				return ErrDuplicateUserRace
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	u.events.Record(EventRegistered)

	return &RegisterResult{
		UserID:    user.UserID,
		EmailSent: u.sendConfirmation(ctx, user.Email),
	}, nil
}

// ResendConfirmation は確認メールを再発行して送信します。
func (u *accountUsecase) ResendConfirmation(ctx context.Context, email string) (err error) {
	ctx, span := u.tracer.Start(ctx, "account.ResendConfirmation")
	defer func() { endSpan(span, err) }()

	email = canonicalEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	if u.limiter != nil {
		allowed, retryAfter, err := u.limiter.Allow(ctx, "resend:"+email)
		if err != nil {
			// 制限ストアの障害では送信を止めない
			slog.Warn("resend rate limiter unavailable", "error", err)
		} else if !allowed {
			return &RateLimitError{RetryAfter: retryAfter}
		}
	}

	user, err := u.store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !u.sendConfirmation(ctx, user.Email) {
		return ErrDeliveryFailed
	}
	return nil
}

// ConfirmEmail は確認トークンを検証し、対象ユーザーを確認済みにします。
func (u *accountUsecase) ConfirmEmail(ctx context.Context, token string) (err error) {
	ctx, span := u.tracer.Start(ctx, "account.ConfirmEmail")
	defer func() { endSpan(span, err) }()

	email, err := u.tokens.Verify(token, PurposeConfirmEmail, u.cfg.ConfirmTokenMaxAge)
	if err != nil {
		return tokenError(err)
	}

	user, err := u.store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.EmailConfirmed {
		return ErrAlreadyConfirmed
	}
	changed, err := u.store.MarkEmailConfirmed(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to confirm email: %w", err)
	}
	if !changed {
		// 同時に確認された
		return ErrAlreadyConfirmed
	}

	u.invalidate(ctx, user.UserID)
	u.events.Record(EventEmailConfirmed)
	return nil
}

// SignIn はユーザーを認証し、アクセストークンとリフレッシュトークンを発行します。
// 失敗理由（未登録・パスワード不一致・未確認）は呼び出し元から区別できません。
// タイミング攻撃を防ぐため、ユーザーが存在しない場合もハッシュ比較を行います。
func (u *accountUsecase) SignIn(ctx context.Context, email, password string) (_ *SignInResult, err error) {
	ctx, span := u.tracer.Start(ctx, "account.SignIn")
	defer func() { endSpan(span, err) }()

	user, findErr := u.store.FindByEmail(ctx, canonicalEmail(email))
	if findErr != nil && !errors.Is(findErr, ErrUserNotFound) {
		return nil, fmt.Errorf("failed to find user: %w", findErr)
	}

	passwordHash := dummyPasswordHash
	if findErr == nil {
		passwordHash = user.PasswordHash
	}
	matched := u.hasher.Verify(passwordHash, password)

	if findErr != nil || !matched || !user.EmailConfirmed {
		u.events.Record(EventSignInFailed)
		return nil, ErrAuthFailed
	}

	claims := sessionClaims(user)
	access, err := u.tokens.IssueSession(claims, PurposeAccess, u.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := u.tokens.IssueSession(claims, PurposeRefresh, u.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	u.events.Record(EventSignInSucceeded)
	return &SignInResult{AccessToken: access, RefreshToken: refresh, Profile: toProfile(user)}, nil
}

// RefreshAccessToken はリフレッシュトークンから新しいアクセストークンを発行します。
// リフレッシュトークン自体は更新しません。
func (u *accountUsecase) RefreshAccessToken(ctx context.Context, refreshToken string) (_ string, err error) {
	ctx, span := u.tracer.Start(ctx, "account.RefreshAccessToken")
	defer func() { endSpan(span, err) }()

	userID, err := u.tokens.Verify(refreshToken, PurposeRefresh, 0)
	if err != nil {
		return "", tokenError(err)
	}
	user, err := u.store.FindByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	access, err := u.tokens.IssueSession(sessionClaims(user), PurposeAccess, u.cfg.AccessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("failed to issue access token: %w", err)
	}
	u.events.Record(EventTokenRefreshed)
	return access, nil
}

// GetProfile は検証済みの呼び出し元のプロフィールを返します。
func (u *accountUsecase) GetProfile(ctx context.Context, userID string) (_ *Profile, err error) {
	ctx, span := u.tracer.Start(ctx, "account.GetProfile")
	defer func() { endSpan(span, err) }()

	if u.cache != nil {
		if p, ok := u.cache.Get(ctx, userID); ok {
			return p, nil
		}
	}
	user, err := u.store.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := toProfile(user)
	if u.cache != nil {
		u.cache.Set(ctx, p)
	}
	return p, nil
}

// UpdateProfile は指定されたフィールドだけを更新します。
// email_confirmed は変更しません。
func (u *accountUsecase) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (_ *Profile, err error) {
	ctx, span := u.tracer.Start(ctx, "account.UpdateProfile")
	defer func() { endSpan(span, err) }()

	if in.Username != nil {
		v := strings.TrimSpace(*in.Username)
		in.Username = &v
	}
	if in.Email != nil {
		v := canonicalEmail(*in.Email)
		in.Email = &v
	}
	if err := validateUpdate(in); err != nil {
		return nil, err
	}

	var newHash string
	if in.Password != nil {
		if newHash, err = u.hasher.Hash(*in.Password); err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
	}

	var updated *entity.User
	err = u.store.WithinTx(ctx, func(repo UserRepository) error {
		user, err := repo.FindByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if in.Username != nil && *in.Username != user.Username {
			if err := ensureFree(repo.FindByUsername(ctx, *in.Username)); err != nil {
				return err
			}
			user.Username = *in.Username
		}
		if in.Email != nil && *in.Email != user.Email {
			if err := ensureFree(repo.FindByEmail(ctx, *in.Email)); err != nil {
				return err
			}
			user.Email = *in.Email
		}
		if newHash != "" {
			user.PasswordHash = newHash
		}
		if err := repo.Update(ctx, user); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				return ErrDuplicateUserRace
			}
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrDuplicateUser) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	u.invalidate(ctx, userID)
	u.events.Record(EventProfileUpdated)
	return toProfile(updated), nil
}

// DeleteProfile はユーザーを削除します。
func (u *accountUsecase) DeleteProfile(ctx context.Context, userID string) (err error) {
	ctx, span := u.tracer.Start(ctx, "account.DeleteProfile")
	defer func() { endSpan(span, err) }()

	err = u.store.WithinTx(ctx, func(repo UserRepository) error {
		user, err := repo.FindByUserID(ctx, userID)
		if err != nil {
			return err
		}
		return repo.Delete(ctx, user.ID)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	u.invalidate(ctx, userID)
	u.events.Record(EventProfileDeleted)
	return nil
}

// sendConfirmation は確認トークンを発行してメールを送ります。成功時のみ true を返します。
func (u *accountUsecase) sendConfirmation(ctx context.Context, email string) bool {
	token, err := u.tokens.Issue(email, PurposeConfirmEmail, 0)
	if err != nil {
		slog.Error("failed to issue confirmation token", "error", err)
		u.events.Record(EventEmailFailed)
		return false
	}
	body, err := renderConfirmationEmail(u.cfg.ConfirmURLBase + token)
	if err != nil {
		slog.Error("failed to render confirmation email", "error", err)
		u.events.Record(EventEmailFailed)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, u.cfg.MailTimeout)
	defer cancel()
	status, err := u.notifier.Send(sendCtx, email, confirmationSubject, body)
	if err != nil || status != 200 {
		slog.Warn("confirmation email not delivered", "status", status, "error", err)
		u.events.Record(EventEmailFailed)
		return false
	}
	u.events.Record(EventEmailSent)
	return true
}

func (u *accountUsecase) invalidate(ctx context.Context, userID string) {
	if u.cache != nil {
		u.cache.Invalidate(ctx, userID)
	}
}

// ensureFree converts a lookup result into a uniqueness check.
func ensureFree(_ *entity.User, err error) error {
	switch {
	case err == nil:
		return ErrDuplicateUser
	case errors.Is(err, ErrUserNotFound):
		return nil
	default:
		return err
	}
}

func tokenError(err error) error {
	if errors.Is(err, ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}

func sessionClaims(u *entity.User) SessionClaims {
	return SessionClaims{UserID: u.UserID, Email: u.Email, Username: u.Username, ID: u.ID}
}

func toProfile(u *entity.User) *Profile {
	return &Profile{
		UserID:         u.UserID,
		Username:       u.Username,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmed,
		CreatedAt:      u.CreatedAt,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type nopRecorder struct{}

func (nopRecorder) Record(string) {}
