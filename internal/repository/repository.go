package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"casegen-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store wraps record access for parse and generation bookkeeping
type Store struct {
	db *gorm.DB
}

// NewStore creates a record store backed by the given database
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetParseRecord retrieves a parse record by ID, nil when absent
func (s *Store) GetParseRecord(parseID string) (*models.ParseRecord, error) {
	var record models.ParseRecord
	if err := s.db.Where("parse_id = ?", parseID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load parse record: %w", err)
	}
	return &record, nil
}

// GetParseRecordByHash finds a parse record by the uploaded container hash
func (s *Store) GetParseRecordByHash(outlineHash string) (*models.ParseRecord, error) {
	var record models.ParseRecord
	if err := s.db.Where("outline_hash = ?", outlineHash).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load parse record: %w", err)
	}
	return &record, nil
}

// ListParseRecords lists parse records for a requirement, newest first
func (s *Store) ListParseRecords(requirementName string) ([]models.ParseRecord, error) {
	var records []models.ParseRecord
	err := s.db.Where("requirement_name = ?", requirementName).
		Order("upload_time DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list parse records: %w", err)
	}
	return records, nil
}

// CreateParseRecord inserts a new parse record
func (s *Store) CreateParseRecord(record *models.ParseRecord) error {
	if record.UploadTime.IsZero() {
		record.UploadTime = time.Now().UTC()
	}
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to create parse record: %w", err)
	}
	return nil
}

// ParseUpdate holds optional parse-record field updates
type ParseUpdate struct {
	Status         *string
	TestPointCount *int
	ArtifactPath   *string
	OutlinePath    *string
}

// UpdateParseRecord applies the non-nil fields of upd to the record
func (s *Store) UpdateParseRecord(parseID string, upd ParseUpdate) error {
	updates := map[string]interface{}{}
	if upd.Status != nil {
		updates["status"] = *upd.Status
	}
	if upd.TestPointCount != nil {
		updates["test_point_count"] = *upd.TestPointCount
	}
	if upd.ArtifactPath != nil {
		updates["artifact_path"] = *upd.ArtifactPath
	}
	if upd.OutlinePath != nil {
		updates["outline_path"] = *upd.OutlinePath
	}
	if len(updates) == 0 {
		return nil
	}
	err := s.db.Model(&models.ParseRecord{}).
		Where("parse_id = ?", parseID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update parse record: %w", err)
	}
	return nil
}

// GetGenerationRecord retrieves a generation record by session ID, nil when absent
func (s *Store) GetGenerationRecord(sessionID string) (*models.GenerationRecord, error) {
	var record models.GenerationRecord
	if err := s.db.Where("session_id = ?", sessionID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load generation record: %w", err)
	}
	return &record, nil
}

// CreateOrUpdateGenerationRecord upserts the record for a session. A resubmission
// under an existing session_id resets counters and artifact paths so the row can
// be reused for the retry.
func (s *Store) CreateOrUpdateGenerationRecord(sessionID, parseRecordID, strategy, promptVersion, mode, status string) error {
	var record models.GenerationRecord
	err := s.db.Where("session_id = ?", sessionID).First(&record).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load generation record: %w", err)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = models.GenerationRecord{
			SessionID:      sessionID,
			ParseRecordID:  parseRecordID,
			PromptStrategy: strategy,
			PromptVersion:  promptVersion,
			GenerationMode: mode,
			Status:         status,
			StartTime:      time.Now().UTC(),
		}
		if err := s.db.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create generation record: %w", err)
		}
		return nil
	}

	record.ParseRecordID = parseRecordID
	record.PromptStrategy = strategy
	record.PromptVersion = promptVersion
	record.GenerationMode = mode
	record.Status = status
	record.StartTime = time.Now().UTC()
	record.SuccessCount = 0
	record.FailCount = 0
	record.ArtifactPath = ""
	record.OutlinePath = ""
	record.CompletedAt = nil
	if err := s.db.Save(&record).Error; err != nil {
		return fmt.Errorf("failed to update generation record: %w", err)
	}
	return nil
}

// GenerationUpdate holds optional generation-record field updates
type GenerationUpdate struct {
	Status       *string
	SuccessCount *int
	FailCount    *int
	ArtifactPath *string
	OutlinePath  *string
	CompletedAt  *time.Time
}

// UpdateGenerationRecord applies the non-nil fields of upd to the session row
func (s *Store) UpdateGenerationRecord(sessionID string, upd GenerationUpdate) error {
	updates := map[string]interface{}{}
	if upd.Status != nil {
		updates["status"] = *upd.Status
	}
	if upd.SuccessCount != nil {
		updates["success_count"] = *upd.SuccessCount
	}
	if upd.FailCount != nil {
		updates["fail_count"] = *upd.FailCount
	}
	if upd.ArtifactPath != nil {
		updates["artifact_path"] = *upd.ArtifactPath
	}
	if upd.OutlinePath != nil {
		updates["outline_path"] = *upd.OutlinePath
	}
	if upd.CompletedAt != nil {
		updates["completed_at"] = *upd.CompletedAt
	}
	if len(updates) == 0 {
		return nil
	}
	err := s.db.Model(&models.GenerationRecord{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update generation record: %w", err)
	}
	return nil
}

// GetServiceCredential retrieves a stored credential by name, nil when absent
func (s *Store) GetServiceCredential(name string) (*models.ServiceCredential, error) {
	var cred models.ServiceCredential
	if err := s.db.Where("name = ?", name).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load service credential: %w", err)
	}
	return &cred, nil
}

// SaveServiceCredential upserts a credential by name
func (s *Store) SaveServiceCredential(cred *models.ServiceCredential) error {
	existing, err := s.GetServiceCredential(cred.Name)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if existing == nil {
		if cred.ID == "" {
			cred.ID = strings.ReplaceAll(uuid.New().String(), "-", "")
		}
		cred.CreatedAt = now
		cred.UpdatedAt = now
		if err := s.db.Create(cred).Error; err != nil {
			return fmt.Errorf("failed to create service credential: %w", err)
		}
		return nil
	}
	existing.BaseURL = cred.BaseURL
	existing.Model = cred.Model
	existing.APIKeyEnc = cred.APIKeyEnc
	existing.UpdatedAt = now
	if err := s.db.Save(existing).Error; err != nil {
		return fmt.Errorf("failed to update service credential: %w", err)
	}
	*cred = *existing
	return nil
}

// DeleteRecordsBefore removes terminal generation and parse records older than
// cutoff. Returns the deleted records so the caller can clean their artifacts.
func (s *Store) DeleteRecordsBefore(cutoff time.Time) ([]models.ParseRecord, []models.GenerationRecord, error) {
	var generations []models.GenerationRecord
	err := s.db.Where("status IN ?", []string{"completed", "failed"}).
		Where("start_time < ?", cutoff).
		Find(&generations).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list expired generation records: %w", err)
	}
	if len(generations) > 0 {
		ids := make([]string, len(generations))
		for i, g := range generations {
			ids[i] = g.SessionID
		}
		if err := s.db.Where("session_id IN ?", ids).Delete(&models.GenerationRecord{}).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to delete generation records: %w", err)
		}
	}

	var parses []models.ParseRecord
	err = s.db.Where("upload_time < ?", cutoff).Find(&parses).Error
	if err != nil {
		return nil, generations, fmt.Errorf("failed to list expired parse records: %w", err)
	}
	if len(parses) > 0 {
		ids := make([]string, len(parses))
		for i, p := range parses {
			ids[i] = p.ParseID
		}
		if err := s.db.Where("parse_id IN ?", ids).Delete(&models.ParseRecord{}).Error; err != nil {
			return nil, generations, fmt.Errorf("failed to delete parse records: %w", err)
		}
	}

	return parses, generations, nil
}
