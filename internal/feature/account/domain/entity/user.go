// Package entity defines the domain entities for the account feature.
package entity

import "time"

// User represents a registered account.
// Credentials are stored as a salted one-way hash only.
type User struct {
	// ID is the internal surrogate key. It is never exposed through the API.
	ID uint `gorm:"primaryKey"`

	// UserID is the public identifier (UUID v4), assigned at registration and never changed.
	UserID string `gorm:"column:user_id;size:36;not null;uniqueIndex:uq_users_user_id"`

	// Username is unique across all users, 3 to 30 characters.
	Username string `gorm:"size:30;not null;uniqueIndex:uq_users_username"`

	// Email is unique across all users and stored in canonical lower case.
	Email string `gorm:"size:255;not null;uniqueIndex:uq_users_email"`

	// PasswordHash is the bcrypt hash of the password.
	PasswordHash string `gorm:"column:password_hash;size:255;not null"`

	// CreatedAt is set once at insert.
	CreatedAt time.Time `gorm:"not null"`

	// EmailConfirmed flips from false to true exactly once.
	EmailConfirmed bool `gorm:"not null;default:false"`
}

// TableName pins the table name used by the SQL migrations.
func (User) TableName() string { return "users" }
