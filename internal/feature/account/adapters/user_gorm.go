// Package adapters はaccountフィーチャーのリポジトリ実装を提供します。
package adapters

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"account_backend/internal/feature/account/domain/entity"
	"account_backend/internal/feature/account/usecase"
)

// pgUniqueViolation は PostgreSQL の一意制約違反の SQLSTATE です。
const pgUniqueViolation = "23505"

// userGorm は UserStore インターフェースの GORM 実装です。
// PostgreSQL（本番）と SQLite（テスト・開発）の両方で動作します。
type userGorm struct {
	db *gorm.DB
}

// userGormがUserStoreを実装していることをコンパイル時に検証します。
var _ usecase.UserStore = (*userGorm)(nil)

// NewUserGorm は指定されたgorm.DB接続でuserGormの新しいインスタンスを生成します。
func NewUserGorm(db *gorm.DB) *userGorm {
	return &userGorm{db: db}
}

// WithinTx は fn を単一のトランザクション内で実行します。
// fn がエラーを返した場合、またはパニックした場合はロールバックされます。
func (r *userGorm) WithinTx(ctx context.Context, fn func(repo usecase.UserRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&userGorm{db: tx})
	})
}

// FindByEmailOrUsername はメールアドレスまたはユーザー名が一致するユーザーを取得します。
func (r *userGorm) FindByEmailOrUsername(ctx context.Context, email, username string) (*entity.User, error) {
	return r.first(ctx, "email = ? OR username = ?", email, username)
}

// FindByEmail はメールアドレスでユーザーを取得します。
func (r *userGorm) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.first(ctx, "email = ?", email)
}

// FindByUsername はユーザー名でユーザーを取得します。
func (r *userGorm) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.first(ctx, "username = ?", username)
}

// FindByUserID は公開IDでユーザーを取得します。
func (r *userGorm) FindByUserID(ctx context.Context, userID string) (*entity.User, error) {
	return r.first(ctx, "user_id = ?", userID)
}

// Create はユーザーをデータベースに追加します。
// 一意制約に違反した場合、usecase.ErrDuplicateKeyを返します。
func (r *userGorm) Create(ctx context.Context, u *entity.User) error {
	if u == nil {
		return errors.New("user is nil")
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		if isDuplicateKey(err) {
			return usecase.ErrDuplicateKey
		}
		return err
	}
	return nil
}

// Update は可変フィールドを書き戻します。
// Save は対象行がない場合に INSERT へ切り替わるため使いません。
func (r *userGorm) Update(ctx context.Context, u *entity.User) error {
	res := r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"username":      u.Username,
			"email":         u.Email,
			"password_hash": u.PasswordHash,
		})
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return usecase.ErrDuplicateKey
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return usecase.ErrUserNotFound
	}
	return nil
}

// MarkEmailConfirmed は未確認の行だけを更新します。
func (r *userGorm) MarkEmailConfirmed(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND email_confirmed = ?", id, false).
		Update("email_confirmed", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Delete はユーザーを削除します。対象がない場合は usecase.ErrUserNotFound を返します。
func (r *userGorm) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&entity.User{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return usecase.ErrUserNotFound
	}
	return nil
}

func (r *userGorm) first(ctx context.Context, query string, args ...any) (*entity.User, error) {
	var u entity.User
	if err := r.db.WithContext(ctx).Where(query, args...).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, usecase.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// isDuplicateKey は一意制約違反かどうかを判定します。
// TranslateError が有効なら gorm.ErrDuplicatedKey、そうでなければ pgconn のエラーコードで判定します。
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
