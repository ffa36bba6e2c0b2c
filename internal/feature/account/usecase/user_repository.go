package usecase

import (
	"context"

	"account_backend/internal/feature/account/domain/entity"
)

// UserRepository はユーザーエンティティの永続化層を抽象化します。
// インターフェースはプロバイダー（adapters）ではなくコンシューマー（usecase）が定義します。
// 見つからない場合は ErrUserNotFound、一意制約違反は ErrDuplicateKey を返します。
type UserRepository interface {
	// FindByEmailOrUsername はメールアドレスまたはユーザー名のどちらかが一致するユーザーを取得します。
	FindByEmailOrUsername(ctx context.Context, email, username string) (*entity.User, error)

	// FindByEmail はメールアドレスでユーザーを取得します。
	FindByEmail(ctx context.Context, email string) (*entity.User, error)

	// FindByUsername はユーザー名でユーザーを取得します。
	FindByUsername(ctx context.Context, username string) (*entity.User, error)

	// FindByUserID は公開IDでユーザーを取得します。
	FindByUserID(ctx context.Context, userID string) (*entity.User, error)

	// Create は新しいユーザーを永続化し、ID と CreatedAt を設定します。
	Create(ctx context.Context, user *entity.User) error

	// Update はユーザー名・メール・パスワードハッシュを書き換えます。
	Update(ctx context.Context, user *entity.User) error

	// MarkEmailConfirmed は未確認の行だけを確認済みにします。
	// 既に確認済みで何も変わらなかった場合は false を返します。
	MarkEmailConfirmed(ctx context.Context, id uint) (bool, error)

	// Delete はユーザーを物理削除します。
	Delete(ctx context.Context, id uint) error
}

// UserStore は UserRepository にトランザクション境界を加えたものです。
// fn がエラーを返すとトランザクションはロールバックされます。
type UserStore interface {
	UserRepository
	WithinTx(ctx context.Context, fn func(repo UserRepository) error) error
}
