package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

const chatLinkColumns = `username, chat_id, notification_hour, notification_enabled, created_at, updated_at`

// ChatLinkRepository handles database operations for Telegram chat links
type ChatLinkRepository struct {
	db *sqlx.DB
}

// NewChatLinkRepository creates a new repository instance
func NewChatLinkRepository(db *sqlx.DB) *ChatLinkRepository {
	return &ChatLinkRepository{db: db}
}

// GetByUsername returns the chat link of a learner
func (r *ChatLinkRepository) GetByUsername(ctx context.Context, username string) (*models.ChatLink, error) {
	var link models.ChatLink
	err := r.db.GetContext(ctx, &link,
		r.db.Rebind("SELECT "+chatLinkColumns+" FROM chat_links WHERE username = ?"), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat link: %w", err)
	}
	return &link, nil
}

// GetByChatID returns the learner linked to a chat
func (r *ChatLinkRepository) GetByChatID(ctx context.Context, chatID int64) (*models.ChatLink, error) {
	var link models.ChatLink
	err := r.db.GetContext(ctx, &link,
		r.db.Rebind("SELECT "+chatLinkColumns+" FROM chat_links WHERE chat_id = ? ORDER BY updated_at DESC LIMIT 1"), chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat link: %w", err)
	}
	return &link, nil
}

// Upsert creates or updates a chat link. The notification settings of an
// existing link are overwritten too.
func (r *ChatLinkRepository) Upsert(ctx context.Context, link *models.ChatLink) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO chat_links (`+chatLinkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			chat_id = excluded.chat_id,
			notification_hour = excluded.notification_hour,
			notification_enabled = excluded.notification_enabled,
			updated_at = excluded.updated_at
	`), link.Username, link.ChatID, link.NotificationHour, link.NotificationEnabled, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert chat link: %w", err)
	}
	return nil
}

// ForNotification returns links with notifications enabled for the given hour
func (r *ChatLinkRepository) ForNotification(ctx context.Context, hour int) ([]models.ChatLink, error) {
	links := []models.ChatLink{}
	err := r.db.SelectContext(ctx, &links, r.db.Rebind(`
		SELECT `+chatLinkColumns+` FROM chat_links
		WHERE notification_enabled = ? AND notification_hour = ?
		ORDER BY username
	`), true, hour)
	if err != nil {
		return nil, fmt.Errorf("failed to get users for notification: %w", err)
	}
	return links, nil
}
