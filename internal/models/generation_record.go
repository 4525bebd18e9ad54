package models

import (
	"time"
)

// GenerationRecord is the durable bookkeeping row for one generation session.
// A session survives retries: resubmitting under the same session_id resets the
// counters and reuses the row, so at most one live record exists per session.
type GenerationRecord struct {
	SessionID      string     `gorm:"primaryKey" json:"session_id"`
	ParseRecordID  string     `gorm:"index;not null" json:"parse_record_id"`
	PromptStrategy string     `json:"prompt_strategy"`
	PromptVersion  string     `json:"prompt_version"`
	GenerationMode string     `json:"generation_mode"` // preview, bulk
	StartTime      time.Time  `gorm:"not null" json:"start_time"`
	Status         string     `gorm:"not null;default:pending" json:"status"` // pending, processing, completed, failed
	SuccessCount   int        `gorm:"not null;default:0" json:"success_count"`
	FailCount      int        `gorm:"not null;default:0" json:"fail_count"`
	ArtifactPath   string     `gorm:"type:text" json:"artifact_path"` // generated cases JSON blob
	OutlinePath    string     `gorm:"type:text" json:"outline_path"`  // rendered case tree, if exported
	CompletedAt    *time.Time `json:"completed_at"`
}

// TableName specifies the table name for GORM
func (GenerationRecord) TableName() string {
	return "generation_records"
}
