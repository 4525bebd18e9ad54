package generation

import (
	"sync"
	"time"

	"casegen-service/internal/outline"
)

// Task statuses form a linear machine: pending → processing → completed or
// failed, terminal states are final
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Generation modes recorded per session
const (
	ModePreview = "preview"
	ModeBulk    = "bulk"
)

// Task is one accepted generation run. Counters, logs and cases are written
// from concurrently executing batch workers during rule generation, so every
// mutation goes through the mutex-guarded methods below.
type Task struct {
	TaskID          string
	SessionID       string
	ParseID         string
	RequirementName string
	Strategy        string
	PromptVersion   string
	Mode            string

	mu          sync.Mutex
	points      []*outline.TestPoint
	status      string
	total       int
	completed   int
	failed      int
	logs        []string
	cases       []*outline.TestCase
	tokenUsage  int
	errMessage  string
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// Snapshot is the externally visible task state for polling
type Snapshot struct {
	TaskID          string              `json:"task_id"`
	SessionID       string              `json:"session_id"`
	ParseID         string              `json:"parse_id,omitempty"`
	RequirementName string              `json:"requirement_name"`
	Strategy        string              `json:"strategy"`
	Mode            string              `json:"mode,omitempty"`
	Status          string              `json:"status"`
	Progress        float64             `json:"progress"`
	Total           int                 `json:"total"`
	Completed       int                 `json:"completed"`
	Failed          int                 `json:"failed"`
	TokenUsage      int                 `json:"token_usage"`
	Logs            []string            `json:"logs"`
	Cases           []*outline.TestCase `json:"cases"`
	Error           string              `json:"error,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

func newTask(taskID, sessionID, parseID, requirementName, strategy, promptVersion, mode string, points []*outline.TestPoint, seedCases []*outline.TestCase) *Task {
	t := &Task{
		TaskID:          taskID,
		SessionID:       sessionID,
		ParseID:         parseID,
		RequirementName: requirementName,
		Strategy:        strategy,
		PromptVersion:   promptVersion,
		Mode:            mode,
		points:          points,
		status:          StatusPending,
		total:           len(points) + len(seedCases),
		completed:       len(seedCases),
		createdAt:       time.Now(),
	}
	t.cases = append(t.cases, seedCases...)
	return t
}

func (t *Task) markProcessing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusProcessing
	t.startedAt = time.Now()
}

func (t *Task) markCompleted() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusCompleted
	t.completedAt = time.Now()
	return t.completedAt
}

func (t *Task) markFailed(err error) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusFailed
	t.errMessage = err.Error()
	t.completedAt = time.Now()
	return t.completedAt
}

// addCase records one produced case and counts its point completed
func (t *Task) addCase(c *outline.TestCase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cases = append(t.cases, c)
	t.completed++
	t.logs = append(t.logs, "测试点 "+c.PointID+" 生成完成")
}

// addFailures counts points that exhausted their retries
func (t *Task) addFailures(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed += n
}

func (t *Task) addTokens(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokenUsage += n
}

func (t *Task) appendLogs(entries []string) {
	if len(entries) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs = append(t.logs, entries...)
}

func (t *Task) counters() (completed, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.failed
}

func (t *Task) allCases() []*outline.TestCase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*outline.TestCase, len(t.cases))
	copy(out, t.cases)
	return out
}

// Snapshot copies the task state under the lock. Progress is derived from the
// monotone counters, so it never decreases between two polls.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	progress := 0.0
	if t.total > 0 {
		progress = float64(t.completed+t.failed) / float64(t.total)
	}
	snap := Snapshot{
		TaskID:          t.TaskID,
		SessionID:       t.SessionID,
		ParseID:         t.ParseID,
		RequirementName: t.RequirementName,
		Strategy:        t.Strategy,
		Mode:            t.Mode,
		Status:          t.status,
		Progress:        progress,
		Total:           t.total,
		Completed:       t.completed,
		Failed:          t.failed,
		TokenUsage:      t.tokenUsage,
		Logs:            append([]string{}, t.logs...),
		Cases:           append([]*outline.TestCase{}, t.cases...),
		Error:           t.errMessage,
		CreatedAt:       t.createdAt,
	}
	if !t.completedAt.IsZero() {
		done := t.completedAt
		snap.CompletedAt = &done
	}
	return snap
}
