package models

import (
	"time"
)

// ParseRecord tracks one decoded test-outline upload
type ParseRecord struct {
	ParseID         string    `gorm:"primaryKey" json:"parse_id"`
	RequirementName string    `gorm:"not null;column:requirement_name" json:"requirement_name"`
	Version         string    `json:"version"`
	OutlineTime     string    `gorm:"column:outline_time" json:"outline_time"`
	UploadTime      time.Time `gorm:"not null" json:"upload_time"`
	OutlineHash     string    `gorm:"index;not null" json:"outline_hash"` // SHA-256 of the uploaded container
	Status          string    `gorm:"not null;default:pending" json:"status"`
	TestPointCount  int       `gorm:"not null;default:0" json:"test_point_count"`
	ArtifactPath    string    `gorm:"type:text" json:"artifact_path"` // decoded document JSON blob
	OutlinePath     string    `gorm:"type:text" json:"outline_path"`  // original container on disk
}

// TableName specifies the table name for GORM
func (ParseRecord) TableName() string {
	return "parse_records"
}
