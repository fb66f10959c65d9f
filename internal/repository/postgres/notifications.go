package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification is one inbox row.
type Notification struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Type         string
	Title        string
	Message      string
	ResourceType string
	ResourceID   string
	Read         bool
	CreatedAt    time.Time
}

// NotificationRepo stores the in-app inbox.
type NotificationRepo struct {
	db DBTX
}

// NewNotificationRepo creates an inbox repository on db.
func NewNotificationRepo(db DBTX) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// Insert stores one notification.
func (r *NotificationRepo) Insert(ctx context.Context, n Notification) error {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, resource_type, resource_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.ResourceType, n.ResourceID, n.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert notification for %s: %w", n.UserID, mapError(err))
	}
	return nil
}

// ListUnread returns the newest unread notifications of userID.
func (r *NotificationRepo) ListUnread(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, type, title, message, resource_type, resource_id, is_read, created_at
		FROM notifications
		WHERE user_id = $1 AND NOT is_read
		ORDER BY created_at DESC
		LIMIT $2`, userID, clampLimit(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("list notifications of %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
			&n.ResourceType, &n.ResourceID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// DeleteBefore removes notifications created before cutoff.
func (r *NotificationRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete notifications before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
