package models

import "time"

// WebhookDailyStat aggregates webhook processing outcomes per calendar day.
// Rows are written by the counter flush job, not by request handlers.
type WebhookDailyStat struct {
	ID             uint64    `gorm:"primarykey" json:"id"`
	StatDate       time.Time `gorm:"type:date;uniqueIndex" json:"stat_date"`
	ProcessedCount int64     `gorm:"default:0" json:"processed_count"`
	FailedCount    int64     `gorm:"default:0" json:"failed_count"`
	RetriedCount   int64     `gorm:"default:0" json:"retried_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (WebhookDailyStat) TableName() string {
	return "webhook_daily_stats"
}
