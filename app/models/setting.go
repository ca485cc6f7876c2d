package models

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppSettings represents the application settings structure
type AppSettings struct {
	QueueWorkerCount     int  `json:"queue_worker_count" validate:"min=1,max=64"`
	SweepIntervalMinutes int  `json:"sweep_interval_minutes" validate:"min=1"`
	BacklogMaxPending    int  `json:"backlog_max_pending" validate:"min=1"`
	RetentionDays        int  `json:"retention_days" validate:"min=1"`
	IntakeEnabled        bool `json:"intake_enabled"`
	mu                   sync.RWMutex
}

// Global settings instance
var (
	appSettings *AppSettings
	settingsMu  sync.RWMutex
)

// GetAppSettings returns the current application settings
func GetAppSettings() *AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return appSettings
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	// Initialize with defaults
	appSettings = &AppSettings{
		QueueWorkerCount:     4,
		SweepIntervalMinutes: 2,
		BacklogMaxPending:    1000,
		RetentionDays:        30,
		IntakeEnabled:        true,
	}

	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, setting := range settings {
		switch setting.Key {
		case "queue_worker_count":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.QueueWorkerCount = v
			}
		case "sweep_interval_minutes":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.SweepIntervalMinutes = v
			}
		case "backlog_max_pending":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.BacklogMaxPending = v
			}
		case "retention_days":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.RetentionDays = v
			}
		case "intake_enabled":
			appSettings.IntakeEnabled = setting.Value == "true"
		}
	}

	return nil
}

// SaveSettings saves current settings to database
func SaveSettings(db *gorm.DB, settings *AppSettings) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	settingsMap := map[string]interface{}{
		"queue_worker_count":     strconv.Itoa(settings.QueueWorkerCount),
		"sweep_interval_minutes": strconv.Itoa(settings.SweepIntervalMinutes),
		"backlog_max_pending":    strconv.Itoa(settings.BacklogMaxPending),
		"retention_days":         strconv.Itoa(settings.RetentionDays),
		"intake_enabled":         fmt.Sprintf("%t", settings.IntakeEnabled),
	}

	for key, value := range settingsMap {
		var setting Setting
		result := db.Where("setting_key = ?", key).First(&setting)

		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				setting = Setting{
					Key:   key,
					Value: fmt.Sprintf("%v", value),
					Type:  getSettingType(key),
				}
				if err := db.Create(&setting).Error; err != nil {
					return fmt.Errorf("failed to create setting %s: %w", key, err)
				}
			} else {
				return fmt.Errorf("failed to query setting %s: %w", key, result.Error)
			}
		} else {
			setting.Value = fmt.Sprintf("%v", value)
			if err := db.Save(&setting).Error; err != nil {
				return fmt.Errorf("failed to update setting %s: %w", key, err)
			}
		}
	}

	appSettings = settings
	return nil
}

// getSettingType returns the type of a setting based on its key
func getSettingType(key string) string {
	switch key {
	case "intake_enabled":
		return "boolean"
	case "queue_worker_count", "sweep_interval_minutes", "backlog_max_pending", "retention_days":
		return "integer"
	default:
		return "string"
	}
}

// Validate validates the settings
func (s *AppSettings) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// GetQueueWorkerCount returns the configured webhook worker pool size
func (s *AppSettings) GetQueueWorkerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.QueueWorkerCount
}

// GetSweepIntervalMinutes returns the retry engine sweep interval
func (s *AppSettings) GetSweepIntervalMinutes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SweepIntervalMinutes
}

// GetBacklogMaxPending returns the pending threshold for backlog management
func (s *AppSettings) GetBacklogMaxPending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BacklogMaxPending
}

// GetRetentionDays returns the retention window for terminal events
func (s *AppSettings) GetRetentionDays() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RetentionDays
}

// IsIntakeEnabled returns whether webhook intake is accepting events
func (s *AppSettings) IsIntakeEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.IntakeEnabled
}
