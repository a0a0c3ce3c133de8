package domain

import "time"

// User 用户模型（对应 users 表）
type User struct {
	UserID      string `db:"user_id"`
	Role        string `db:"role"` // patient | caregiver
	DisplayName string `db:"display_name"`

	CreatedAt time.Time `db:"created_at"`
}

// PushToken represents one installed client able to receive push
// notifications. Tokens are opaque and may become permanently invalid, in
// which case the notifier prunes them.
type PushToken struct {
	UserID    string    `db:"user_id"`
	Token     string    `db:"token"`
	Platform  string    `db:"platform"` // "ios", "android"
	CreatedAt time.Time `db:"created_at"`
}
