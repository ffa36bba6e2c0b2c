package dto

import "time"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterRes is returned by /register for both 201 and 202.
type RegisterRes struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// ProfileRes is the public view of an account.
type ProfileRes struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	EmailConfirmed bool      `json:"email_confirmed"`
	CreatedAt      time.Time `json:"created_at"`
}

// SignInRes carries the session token pair.
type SignInRes struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         ProfileRes `json:"user"`
}

// RefreshRes carries a freshly issued access token.
type RefreshRes struct {
	AccessToken string `json:"access_token"`
}
