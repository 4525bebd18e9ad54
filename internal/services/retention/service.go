package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"casegen-service/internal/repository"
	"casegen-service/internal/storage"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultMaxAge   = 30 * 24 * time.Hour
	defaultSchedule = "@daily"
)

// Service sweeps terminal generation records and old parse records, together
// with their on-disk artifacts, once they age past the retention window
type Service struct {
	store     *repository.Store
	artifacts *storage.Store
	logger    *zap.Logger
	cron      *cron.Cron
	schedule  string
	maxAge    time.Duration
}

// NewService creates a sweeper configured from RETENTION_MAX_AGE and
// RETENTION_SCHEDULE
func NewService(store *repository.Store, artifacts *storage.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAge := defaultMaxAge
	if raw := os.Getenv("RETENTION_MAX_AGE"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			maxAge = parsed
		}
	}
	schedule := os.Getenv("RETENTION_SCHEDULE")
	if schedule == "" {
		schedule = defaultSchedule
	}
	return &Service{
		store:     store,
		artifacts: artifacts,
		logger:    logger,
		cron:      cron.New(),
		schedule:  schedule,
		maxAge:    maxAge,
	}
}

// Start schedules the sweep
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("retention sweeper started",
		zap.String("schedule", s.schedule), zap.Duration("max_age", s.maxAge))
	return nil
}

// Stop halts the schedule, letting a running sweep finish
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) runSweep() {
	if err := s.Sweep(time.Now().Add(-s.maxAge)); err != nil {
		s.logger.Error("retention sweep failed", zap.Error(err))
	}
}

// Sweep deletes records older than cutoff and removes their artifact
// directories. Artifact removal failures are logged and do not abort the
// sweep.
func (s *Service) Sweep(cutoff time.Time) error {
	parses, generations, err := s.store.DeleteRecordsBefore(cutoff)
	if err != nil {
		return err
	}
	if len(parses) == 0 && len(generations) == 0 {
		return nil
	}

	for _, record := range generations {
		s.removeArtifactDir(record.ArtifactPath)
	}
	for _, record := range parses {
		s.removeArtifactDir(record.ArtifactPath)
	}

	s.logger.Info("retention sweep finished",
		zap.Int("parse_records", len(parses)),
		zap.Int("generation_records", len(generations)),
		zap.Time("cutoff", cutoff))
	return nil
}

func (s *Service) removeArtifactDir(artifactPath string) {
	if artifactPath == "" {
		return
	}
	dir := filepath.Dir(artifactPath)
	if dir == "." || dir == string(filepath.Separator) {
		return
	}
	if err := s.artifacts.RemoveDir(dir); err != nil {
		s.logger.Warn("failed to remove artifact directory",
			zap.String("dir", dir), zap.Error(err))
	}
}
