package repository

import (
	"context"
	"database/sql"
	"fmt"

	"pildhora-sync/internal/domain"

	"go.uber.org/zap"
)

// NotificationsRepo 通知记录仓库
// The durable row is the delivery guarantee; push on top is best-effort.
type NotificationsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewNotificationsRepo(db *sql.DB, logger *zap.Logger) *NotificationsRepo {
	return &NotificationsRepo{db: db, logger: logger}
}

// Create 写入通知记录
func (r *NotificationsRepo) Create(ctx context.Context, n *domain.Notification) error {
	if n.NotificationID == "" {
		return fmt.Errorf("notification_id is required")
	}
	if n.RecipientID == "" || n.Type == "" {
		return fmt.Errorf("recipient_id and type are required")
	}

	var payload []byte
	if len(n.Payload) > 0 {
		payload = n.Payload
	}

	query := `
		INSERT INTO notifications (notification_id, recipient_id, actor_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (notification_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query,
		n.NotificationID,
		n.RecipientID,
		n.ActorID,
		n.Type,
		payload,
	); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}
