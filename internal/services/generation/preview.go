package generation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"casegen-service/internal/outline"

	"github.com/google/uuid"
)

// lowestPriorityTier is excluded from generation candidacy
const lowestPriorityTier = 3

type previewEntry struct {
	parseID  string
	cases    []*outline.TestCase
	pointIDs []string
}

// PreviewResult is the human-reviewable sample returned before a bulk run
type PreviewResult struct {
	PreviewID  string              `json:"preview_id"`
	ParseID    string              `json:"parse_id"`
	Cases      []*outline.TestCase `json:"cases"`
	PointIDs   []string            `json:"point_ids"`
	TokenUsage int                 `json:"token_usage"`
	Logs       []string            `json:"logs,omitempty"`
}

// candidatePoints drops the lowest priority tier from generation candidacy
func candidatePoints(points []*outline.TestPoint) []*outline.TestPoint {
	var out []*outline.TestPoint
	for _, p := range points {
		if p.Priority == lowestPriorityTier {
			continue
		}
		out = append(out, p)
	}
	return out
}

// selectPreviewPoints picks clamp(count or 4, 3, 5) points ordered by
// priority, then point type, then subtype
func selectPreviewPoints(points []*outline.TestPoint, count int) []*outline.TestPoint {
	if len(points) == 0 {
		return nil
	}
	target := count
	if target == 0 {
		target = 4
	}
	if target < 3 {
		target = 3
	}
	if target > 5 {
		target = 5
	}

	sorted := make([]*outline.TestPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := priorityRank(sorted[i].Priority), priorityRank(sorted[j].Priority)
		if ri != rj {
			return ri < rj
		}
		if sorted[i].PointType != sorted[j].PointType {
			return sorted[i].PointType < sorted[j].PointType
		}
		return sorted[i].Subtype < sorted[j].Subtype
	})

	if len(sorted) > target {
		sorted = sorted[:target]
	}
	return sorted
}

func priorityRank(priority int) int {
	switch priority {
	case 1, 2, 3:
		return priority - 1
	default:
		return 3
	}
}

// GeneratePreview fills metadata for the candidate pool, generates cases for
// a small representative subset and caches the selection for confirmation
func (s *Service) GeneratePreview(ctx context.Context, parseID string, count int) (*PreviewResult, error) {
	doc, err := s.GetParsedDoc(parseID)
	if err != nil {
		return nil, err
	}

	candidates := clonePoints(candidatePoints(doc.TestPoints))
	tokens, logs := s.generator.FillMissingMetadata(ctx, candidates)
	selected := selectPreviewPoints(candidates, count)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no candidate points to preview")
	}

	var cases []*outline.TestCase
	var pointIDs []string
	for _, point := range selected {
		c, t, err := s.generator.GenerateCase(ctx, point, "standard", nil)
		tokens += t
		if err != nil {
			return nil, fmt.Errorf("preview generation failed for point %s: %w", point.PointID, err)
		}
		cases = append(cases, c)
		pointIDs = append(pointIDs, point.PointID)
	}

	previewID := strings.ReplaceAll(uuid.New().String(), "-", "")
	s.mu.Lock()
	s.previews[previewID] = &previewEntry{parseID: parseID, cases: cases, pointIDs: pointIDs}
	s.mu.Unlock()

	return &PreviewResult{
		PreviewID:  previewID,
		ParseID:    parseID,
		Cases:      cases,
		PointIDs:   pointIDs,
		TokenUsage: tokens,
		Logs:       logs,
	}, nil
}

// ConfirmPreview folds an accepted preview into a background task covering
// the remaining candidates. The preview entry is consumed; its points are
// never regenerated.
func (s *Service) ConfirmPreview(previewID, strategy, sessionID string) (string, string, []*outline.TestCase, error) {
	s.mu.Lock()
	entry := s.previews[previewID]
	s.mu.Unlock()
	if entry == nil {
		return "", "", nil, fmt.Errorf("预生成记录不存在")
	}

	doc, err := s.GetParsedDoc(entry.parseID)
	if err != nil {
		return "", "", nil, err
	}

	previewed := make(map[string]bool, len(entry.pointIDs))
	for _, id := range entry.pointIDs {
		previewed[id] = true
	}
	var remaining []*outline.TestPoint
	for _, p := range candidatePoints(doc.TestPoints) {
		if !previewed[p.PointID] {
			remaining = append(remaining, p)
		}
	}

	taskID, sessionID, err := s.CreateTask(doc.RequirementName, entry.parseID, remaining, strategy, entry.cases, sessionID, ModePreview)
	if err != nil {
		return "", "", nil, err
	}

	s.mu.Lock()
	delete(s.previews, previewID)
	s.mu.Unlock()

	return taskID, sessionID, entry.cases, nil
}

// StartBulk generates cases for every point of a parse without a preview
func (s *Service) StartBulk(parseID, strategy, sessionID string) (string, string, error) {
	doc, err := s.GetParsedDoc(parseID)
	if err != nil {
		return "", "", err
	}
	return s.CreateTask(doc.RequirementName, parseID, doc.TestPoints, strategy, nil, sessionID, ModeBulk)
}
