// Package dto はaccountフィーチャーのHTTPトランスポート層のデータ転送オブジェクトを定義します。
package dto

// RegisterReq は /register のリクエストボディです。
// 入力ルールはユースケース側で検証し、フィールドごとのメッセージを返します。
type RegisterReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResendConfirmationReq は /resend-confirmation のリクエストボディです。
type ResendConfirmationReq struct {
	Email string `json:"email"`
}

// SignInReq は /signin のリクエストボディです。
type SignInReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshReq は Authorization ヘッダーを使わない場合の /refresh_token のリクエストボディです。
type RefreshReq struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// UpdateProfileReq は PUT /users/:user_id のリクエストボディです。省略したフィールドは変更されません。
type UpdateProfileReq struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}
