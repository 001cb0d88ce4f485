package models

import "time"

// ChatLink binds a learner to the Telegram chat used for reminders
type ChatLink struct {
	Username            string    `json:"username" db:"username"`
	ChatID              int64     `json:"chat_id" db:"chat_id"`
	NotificationHour    int       `json:"notification_hour" db:"notification_hour"` // Hour of day for notifications (0-23)
	NotificationEnabled bool      `json:"notification_enabled" db:"notification_enabled"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
