package models

import "time"

// Outbox entry states.
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// NotificationOutbox stores operator notifications pending delivery through
// the alert publisher. The retry engine re-drives undelivered rows with
// backoff until max_attempts is exhausted.
type NotificationOutbox struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Channel       string     `gorm:"type:varchar(50);not null;default:'ops'" json:"channel"`
	Severity      string     `gorm:"type:varchar(20);not null;default:'warning'" json:"severity"`
	Subject       string     `gorm:"type:varchar(255);not null" json:"subject"`
	Body          string     `gorm:"type:text" json:"body"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int        `gorm:"not null;default:5" json:"max_attempts"`
	NextAttemptAt time.Time  `gorm:"not null;index" json:"next_attempt_at"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	SentAt        *time.Time `gorm:"type:timestamp;default:null" json:"sent_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
