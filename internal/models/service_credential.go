package models

import (
	"time"
)

// ServiceCredential stores the generation-service endpoint and its API key.
// The key is encrypted at rest; see internal/crypto.
type ServiceCredential struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null;uniqueIndex" json:"name"`
	BaseURL   string    `gorm:"not null" json:"base_url"`
	Model     string    `json:"model"`
	APIKeyEnc string    `gorm:"type:text" json:"-"` // AES-256-GCM, base64
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (ServiceCredential) TableName() string {
	return "service_credentials"
}
