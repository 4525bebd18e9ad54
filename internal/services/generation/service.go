package generation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"casegen-service/internal/models"
	"casegen-service/internal/outline"
	"casegen-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const taskWorkers = 3

// RecordStore is the persistence surface the engine needs for bookkeeping
type RecordStore interface {
	GetParseRecord(parseID string) (*models.ParseRecord, error)
	CreateOrUpdateGenerationRecord(sessionID, parseRecordID, strategy, promptVersion, mode, status string) error
	UpdateGenerationRecord(sessionID string, upd repository.GenerationUpdate) error
}

// ArtifactStore is the blob surface for parsed documents and case lists
type ArtifactStore interface {
	GenerationDir(sessionID string) (string, error)
	SaveJSON(path string, v interface{}) error
	LoadJSON(path string, v interface{}) error
	SaveBytes(path string, data []byte) error
}

// Service owns the task registry and the worker pool. A submitted task is
// fire-and-forget: it always runs to its terminal state even if nobody polls.
type Service struct {
	generator *CaseGenerator
	records   RecordStore
	artifacts ArtifactStore
	logger    *zap.Logger

	mu         sync.Mutex
	tasks      map[string]*Task
	previews   map[string]*previewEntry
	parsedDocs map[string]*outline.ParsedOutlineDocument

	queue chan string
}

// NewService creates the engine and starts its worker pool
func NewService(generator *CaseGenerator, records RecordStore, artifacts ArtifactStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		generator:  generator,
		records:    records,
		artifacts:  artifacts,
		logger:     logger,
		tasks:      map[string]*Task{},
		previews:   map[string]*previewEntry{},
		parsedDocs: map[string]*outline.ParsedOutlineDocument{},
		queue:      make(chan string, 64),
	}
	for i := 0; i < taskWorkers; i++ {
		go s.worker()
	}
	return s
}

func (s *Service) worker() {
	for taskID := range s.queue {
		s.runTask(taskID)
	}
}

// SaveParsedDoc caches a freshly decoded document for later generation
func (s *Service) SaveParsedDoc(doc *outline.ParsedOutlineDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parsedDocs[doc.ParseID] = doc
}

// GetParsedDoc returns the decoded document for a parse id, reloading it
// from the stored artifact when the in-memory cache misses
func (s *Service) GetParsedDoc(parseID string) (*outline.ParsedOutlineDocument, error) {
	s.mu.Lock()
	cached := s.parsedDocs[parseID]
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	record, err := s.records.GetParseRecord(parseID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.ArtifactPath == "" {
		return nil, fmt.Errorf("解析结果不存在，请先上传并解析大纲")
	}
	var doc outline.ParsedOutlineDocument
	if err := s.artifacts.LoadJSON(record.ArtifactPath, &doc); err != nil {
		return nil, fmt.Errorf("failed to reload parsed document: %w", err)
	}
	s.mu.Lock()
	s.parsedDocs[parseID] = &doc
	s.mu.Unlock()
	return &doc, nil
}

// CreateTask registers a generation task, persists its session record and
// submits it to the pool. Seed cases from an accepted preview count toward
// the totals immediately.
func (s *Service) CreateTask(requirementName, parseID string, points []*outline.TestPoint, strategy string, seedCases []*outline.TestCase, sessionID, mode string) (string, string, error) {
	taskID := strings.ReplaceAll(uuid.New().String(), "-", "")
	if sessionID == "" {
		sessionID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	// metadata fill mutates points, so each task works on its own copies
	task := newTask(taskID, sessionID, parseID, requirementName, strategy, PromptVersion, mode, clonePoints(points), seedCases)

	if parseID != "" {
		err := s.records.CreateOrUpdateGenerationRecord(sessionID, parseID, strategy, PromptVersion, mode, StatusPending)
		if err != nil {
			return "", "", fmt.Errorf("failed to persist generation record: %w", err)
		}
	}

	s.mu.Lock()
	s.tasks[taskID] = task
	s.mu.Unlock()

	s.queue <- taskID
	return taskID, sessionID, nil
}

// GetTask returns the polling snapshot for a task id
func (s *Service) GetTask(taskID string) (Snapshot, bool) {
	s.mu.Lock()
	task := s.tasks[taskID]
	s.mu.Unlock()
	if task == nil {
		return Snapshot{}, false
	}
	return task.Snapshot(), true
}

func (s *Service) getTask(taskID string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[taskID]
}

// runTask drives one task to its terminal state. Point-level failures only
// raise the failed counter; an error here means the task's own bookkeeping
// broke, which marks the whole task failed with its partial counts kept.
func (s *Service) runTask(taskID string) {
	task := s.getTask(taskID)
	if task == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("generation task panicked",
				zap.String("task_id", taskID), zap.Any("panic", r))
			s.finishFailed(task, fmt.Errorf("unexpected error: %v", r))
		}
	}()

	task.markProcessing()
	s.logger.Info("generation task started",
		zap.String("task_id", taskID), zap.String("session_id", task.SessionID))
	if task.ParseID != "" {
		status := StatusProcessing
		if err := s.records.UpdateGenerationRecord(task.SessionID, repository.GenerationUpdate{Status: &status}); err != nil {
			s.finishFailed(task, err)
			return
		}
	}

	if err := s.execute(context.Background(), task); err != nil {
		s.finishFailed(task, err)
		return
	}
	s.finishCompleted(task)
}

// execute runs the strictly ordered pipeline: manual promotion, metadata
// fill, process batches, then rule batches with the collected flow steps
func (s *Service) execute(ctx context.Context, task *Task) error {
	var pending []*outline.TestPoint
	for _, p := range task.points {
		if p.ManualCase && (len(p.Steps) > 0 || len(p.ExpectedResults) > 0) {
			task.addCase(promoteManualCase(p))
			continue
		}
		pending = append(pending, p)
	}

	tokens, logs := s.generator.FillMissingMetadata(ctx, pending)
	task.addTokens(tokens)
	task.appendLogs(logs)

	var processPoints, rulePoints []*outline.TestPoint
	for _, p := range pending {
		if p.PointType == outline.PointTypeProcess {
			processPoints = append(processPoints, p)
		} else {
			rulePoints = append(rulePoints, p)
		}
	}

	// process batches run sequentially; their steps feed the rule stage
	flowStepsMap := map[string][]string{}
	pointContexts := map[string]string{}
	for _, p := range processPoints {
		pointContexts[p.PointID] = p.Context
	}
	for _, batch := range chunkPoints(processPoints, processBatchSize) {
		result := s.generator.GenerateProcessBatch(ctx, batch, task.Strategy)
		task.addTokens(result.Tokens)
		task.appendLogs(result.Logs)
		task.addFailures(result.Failed)
		for _, c := range result.Cases {
			task.addCase(c)
			key := normalizeContextKey(pointContexts[c.PointID])
			flowStepsMap[key] = append(flowStepsMap[key], c.Steps...)
		}
	}

	// rule batches fan out; flowStepsMap is read-only from here on
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(ruleWorkers)
	for _, batch := range chunkPoints(rulePoints, ruleBatchSize) {
		batch := batch
		eg.Go(func() error {
			result := s.generator.GenerateBatch(egCtx, batch, task.Strategy, flowStepsMap)
			task.addTokens(result.Tokens)
			task.appendLogs(result.Logs)
			task.addFailures(result.Failed)
			for _, c := range result.Cases {
				task.addCase(c)
			}
			return nil
		})
	}
	return eg.Wait()
}

func (s *Service) finishCompleted(task *Task) {
	completedAt := task.markCompleted()
	completed, failed := task.counters()
	s.logger.Info("generation task completed",
		zap.String("task_id", task.TaskID),
		zap.Int("completed", completed), zap.Int("failed", failed))

	if task.ParseID == "" {
		return
	}
	artifactPath, err := s.saveCases(task)
	if err != nil {
		s.logger.Error("failed to persist generated cases",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}
	status := StatusCompleted
	upd := repository.GenerationUpdate{
		Status:       &status,
		SuccessCount: &completed,
		FailCount:    &failed,
		CompletedAt:  &completedAt,
	}
	if artifactPath != "" {
		upd.ArtifactPath = &artifactPath
	}
	if err := s.records.UpdateGenerationRecord(task.SessionID, upd); err != nil {
		s.logger.Error("failed to update generation record",
			zap.String("session_id", task.SessionID), zap.Error(err))
	}
}

func (s *Service) finishFailed(task *Task, cause error) {
	completedAt := task.markFailed(cause)
	completed, failed := task.counters()
	s.logger.Error("generation task failed",
		zap.String("task_id", task.TaskID), zap.Error(cause))

	if task.ParseID == "" {
		return
	}
	status := StatusFailed
	err := s.records.UpdateGenerationRecord(task.SessionID, repository.GenerationUpdate{
		Status:       &status,
		SuccessCount: &completed,
		FailCount:    &failed,
		CompletedAt:  &completedAt,
	})
	if err != nil {
		s.logger.Error("failed to update generation record",
			zap.String("session_id", task.SessionID), zap.Error(err))
	}
}

func (s *Service) saveCases(task *Task) (string, error) {
	dir, err := s.artifacts.GenerationDir(task.SessionID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("cases_%s.json", task.SessionID))
	if err := s.artifacts.SaveJSON(path, task.allCases()); err != nil {
		return "", err
	}
	return path, nil
}

// ExportCaseTree renders a completed task's cases into an outline container
// and records the artifact under the session
func (s *Service) ExportCaseTree(taskID string) ([]byte, error) {
	snap, ok := s.GetTask(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	if snap.Status != StatusCompleted {
		return nil, fmt.Errorf("task %s is %s, export needs a completed task", taskID, snap.Status)
	}

	encoder := outline.NewCaseTreeEncoder(snap.RequirementName)
	data, err := encoder.Encode(snap.Cases)
	if err != nil {
		return nil, err
	}

	if snap.ParseID != "" {
		dir, err := s.artifacts.GenerationDir(snap.SessionID)
		if err == nil {
			path := filepath.Join(dir, fmt.Sprintf("cases_%s.xmind", snap.SessionID))
			if err := s.artifacts.SaveBytes(path, data); err == nil {
				upd := repository.GenerationUpdate{OutlinePath: &path}
				if err := s.records.UpdateGenerationRecord(snap.SessionID, upd); err != nil {
					s.logger.Warn("failed to record case tree path",
						zap.String("session_id", snap.SessionID), zap.Error(err))
				}
			}
		}
	}
	return data, nil
}

// clonePoints copies test points so concurrent tasks over the same parsed
// document never share mutable state
func clonePoints(points []*outline.TestPoint) []*outline.TestPoint {
	out := make([]*outline.TestPoint, len(points))
	for i, p := range points {
		c := *p
		c.Preconditions = append([]string{}, p.Preconditions...)
		c.Steps = append([]string{}, p.Steps...)
		c.ExpectedResults = append([]string{}, p.ExpectedResults...)
		out[i] = &c
	}
	return out
}

// promoteManualCase copies an author-written chain into a case without a
// generation call
func promoteManualCase(p *outline.TestPoint) *outline.TestCase {
	return &outline.TestCase{
		CaseID:          newCaseID(),
		PointID:         p.PointID,
		PointType:       p.PointType,
		Subtype:         p.Subtype,
		Priority:        p.Priority,
		Text:            p.Text,
		Context:         p.Context,
		Preconditions:   append([]string{}, p.Preconditions...),
		Steps:           append([]string{}, p.Steps...),
		ExpectedResults: append([]string{}, p.ExpectedResults...),
	}
}

// waitSettle is a test hook: polls until the task leaves processing
func (s *Service) waitSettle(taskID string, timeout time.Duration) Snapshot {
	deadline := time.Now().Add(timeout)
	for {
		snap, ok := s.GetTask(taskID)
		if !ok {
			return snap
		}
		if snap.Status == StatusCompleted || snap.Status == StatusFailed {
			return snap
		}
		if time.Now().After(deadline) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
}
