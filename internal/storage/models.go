package storage

import "time"

// SettingModel is a key/value row for client state such as the auth token.
type SettingModel struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null;default:''"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the table name for GORM
func (SettingModel) TableName() string { return "settings" }

// SessionRecordModel is the GORM model for the local session history.
type SessionRecordModel struct {
	SessionID     string    `gorm:"primaryKey"`
	Position      string    `gorm:"not null;default:''"`
	Status        string    `gorm:"not null;default:'completed'"`
	StartedAt     time.Time `gorm:"index:idx_started_at"`
	EndedAt       time.Time
	QuestionCount int      `gorm:"not null;default:0"`
	AnswersSent   int      `gorm:"not null;default:0"`
	OverallScore  *float64 `gorm:"default:null"`
	FeedbackJSON  string   `gorm:"column:feedback_json;not null;default:''"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName specifies the table name for GORM
func (SessionRecordModel) TableName() string { return "session_history" }
