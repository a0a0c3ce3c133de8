package repository

import (
	"context"
	"database/sql"
	"fmt"

	"pildhora-sync/internal/domain"

	"go.uber.org/zap"
)

// UsersRepo 用户仓库（角色查询 + 推送 token 生命周期）
type UsersRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewUsersRepo(db *sql.DB, logger *zap.Logger) *UsersRepo {
	return &UsersRepo{db: db, logger: logger}
}

// GetUser 获取用户
func (r *UsersRepo) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT user_id, role, display_name, created_at
		FROM users
		WHERE user_id = $1
	`

	var user domain.User
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID,
		&user.Role,
		&user.DisplayName,
		&user.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetPushTokens returns the user's registered push tokens, oldest first.
func (r *UsersRepo) GetPushTokens(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT token
		FROM push_tokens
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan push token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate push tokens: %w", err)
	}
	return tokens, nil
}

// DeletePushToken removes a permanently invalid token (lifecycle hygiene).
func (r *UsersRepo) DeletePushToken(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("user_id and token are required")
	}

	query := `DELETE FROM push_tokens WHERE user_id = $1 AND token = $2`

	if _, err := r.db.ExecContext(ctx, query, userID, token); err != nil {
		return fmt.Errorf("failed to delete push token: %w", err)
	}
	return nil
}
