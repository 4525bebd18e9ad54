package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"casegen-service/internal/aiclient"
	"casegen-service/internal/outline"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	metadataBatchSize       = 20
	metadataFanOutThreshold = 40
	metadataWorkers         = 3
	processBatchSize        = 8
	ruleBatchSize           = 4
	ruleWorkers             = 3
)

// ChatClient is the generation-service call the engine depends on. It fails
// with aiclient.MalformedOutputError when the reply is not parseable JSON.
type ChatClient interface {
	ChatJSON(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (json.RawMessage, int, error)
}

// CaseGenerator turns test points into cases through batched, retried calls
type CaseGenerator struct {
	client ChatClient
	logger *zap.Logger
}

// NewCaseGenerator creates a generator over the given chat client
func NewCaseGenerator(client ChatClient, logger *zap.Logger) *CaseGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseGenerator{client: client, logger: logger}
}

func strategyParams(strategy string, batch bool) (temperature float64, maxTokens int) {
	if strategy == "standard" {
		if batch {
			return 0.2, 1200
		}
		return 0.2, 900
	}
	if batch {
		return 0.6, 900
	}
	return 0.6, 600
}

func newCaseID() string {
	return "TC" + strings.ToUpper(uuid.New().String()[:8])
}

func chunkPoints(points []*outline.TestPoint, size int) [][]*outline.TestPoint {
	if size <= 0 {
		return [][]*outline.TestPoint{points}
	}
	var chunks [][]*outline.TestPoint
	for i := 0; i < len(points); i += size {
		end := i + size
		if end > len(points) {
			end = len(points)
		}
		chunks = append(chunks, points[i:end])
	}
	return chunks
}

// normalizeContextKey associates rule points with the process steps generated
// under the same parent by folding the rule branch title into the process one
func normalizeContextKey(context string) string {
	return strings.TrimSpace(strings.ReplaceAll(context, outline.SectionRule, outline.SectionProcess))
}

// normalizeList accepts a list, a newline-joined string or a scalar and
// returns trimmed non-empty lines. Models do not always honor the array shape.
func normalizeList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err == nil {
		var out []string
		for _, item := range items {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var out []string
		for _, line := range strings.Split(s, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		return out
	}
	return nil
}

type caseBody struct {
	PointID         string          `json:"point_id"`
	Preconditions   json.RawMessage `json:"preconditions"`
	Steps           json.RawMessage `json:"steps"`
	ExpectedResults json.RawMessage `json:"expected_results"`
}

func buildCase(point *outline.TestPoint, body caseBody) *outline.TestCase {
	return &outline.TestCase{
		CaseID:          newCaseID(),
		PointID:         point.PointID,
		PointType:       point.PointType,
		Subtype:         point.Subtype,
		Priority:        point.Priority,
		Text:            point.Text,
		Context:         point.Context,
		Preconditions:   normalizeList(body.Preconditions),
		Steps:           normalizeList(body.Steps),
		ExpectedResults: normalizeList(body.ExpectedResults),
	}
}

type metadataItem struct {
	PointID  string `json:"point_id"`
	Subtype  string `json:"subtype"`
	Priority int    `json:"priority"`
}

// FillMissingMetadata back-fills subtype and priority for points missing
// either, in fixed-size batches. Batches fan out to a bounded worker pool
// when the missing count is large. Points still unresolved after retries are
// logged, never fatal.
func (g *CaseGenerator) FillMissingMetadata(ctx context.Context, points []*outline.TestPoint) (int, []string) {
	var missing []*outline.TestPoint
	for _, p := range points {
		if p.Subtype == "" || p.Priority == 0 {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	batches := chunkPoints(missing, metadataBatchSize)
	if len(missing) <= metadataFanOutThreshold {
		tokens := 0
		var logs []string
		for _, batch := range batches {
			t, l := g.fillMetadataBatch(ctx, batch, true)
			tokens += t
			logs = append(logs, l...)
		}
		return tokens, logs
	}

	var mu sync.Mutex
	tokens := 0
	var logs []string
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(metadataWorkers)
	for _, batch := range batches {
		batch := batch
		eg.Go(func() error {
			t, l := g.fillMetadataBatch(egCtx, batch, true)
			mu.Lock()
			tokens += t
			logs = append(logs, l...)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return tokens, logs
}

// fillMetadataBatch requests metadata for one batch; a failure is retried
// once as-is, then the batch is split in half and each half retried
// independently
func (g *CaseGenerator) fillMetadataBatch(ctx context.Context, batch []*outline.TestPoint, allowRetry bool) (int, []string) {
	payload := make([]map[string]string, 0, len(batch))
	for _, p := range batch {
		payload = append(payload, map[string]string{"point_id": p.PointID, "text": p.Text})
	}
	body, _ := json.Marshal(payload)

	result, tokens, err := g.client.ChatJSON(ctx, systemPromptMetadataBatch, string(body), 0.1, 800)
	if err != nil {
		if allowRetry {
			t, logs := g.fillMetadataBatch(ctx, batch, false)
			return tokens + t, logs
		}
		if len(batch) > 1 {
			mid := len(batch) / 2
			leftTokens, leftLogs := g.fillMetadataBatch(ctx, batch[:mid], false)
			rightTokens, rightLogs := g.fillMetadataBatch(ctx, batch[mid:], false)
			return tokens + leftTokens + rightTokens, append(leftLogs, rightLogs...)
		}
		t, logs := g.fillMetadataSingle(ctx, batch[0])
		return tokens + t, logs
	}

	var items []metadataItem
	if err := json.Unmarshal(result, &items); err != nil {
		return tokens, []string{"元数据批量补全失败：返回格式非数组"}
	}
	byID := make(map[string]metadataItem, len(items))
	for _, item := range items {
		byID[item.PointID] = item
	}
	for _, p := range batch {
		meta, ok := byID[p.PointID]
		if !ok {
			continue
		}
		if p.Subtype == "" {
			p.Subtype = meta.Subtype
		}
		if p.Priority == 0 && meta.Priority >= 1 && meta.Priority <= 3 {
			p.Priority = meta.Priority
		}
	}
	return tokens, nil
}

// fillMetadataSingle is the last metadata tier: the single-point prompt over
// the bare point text
func (g *CaseGenerator) fillMetadataSingle(ctx context.Context, p *outline.TestPoint) (int, []string) {
	result, tokens, err := g.client.ChatJSON(ctx, systemPromptMetadata, p.Text, 0.1, 800)
	if err != nil {
		return tokens, []string{fmt.Sprintf("元数据补全失败：测试点 %s：%v", p.PointID, err)}
	}
	var meta metadataItem
	if err := json.Unmarshal(result, &meta); err != nil {
		return tokens, []string{fmt.Sprintf("元数据补全失败：测试点 %s：%v", p.PointID, err)}
	}
	if p.Subtype == "" {
		p.Subtype = meta.Subtype
	}
	if p.Priority == 0 && meta.Priority >= 1 && meta.Priority <= 3 {
		p.Priority = meta.Priority
	}
	return tokens, nil
}

// GenerateCase produces one case for one point with the single-point prompt
func (g *CaseGenerator) GenerateCase(ctx context.Context, point *outline.TestPoint, strategy string, flowSteps []string) (*outline.TestCase, int, error) {
	temperature, maxTokens := strategyParams(strategy, false)
	payload := map[string]interface{}{
		"point_id":   point.PointID,
		"point_type": point.PointType,
		"subtype":    point.Subtype,
		"priority":   point.Priority,
		"text":       point.Text,
	}
	if point.PointType != outline.PointTypeProcess {
		payload["flow_steps"] = flowSteps
	}
	body, _ := json.Marshal(payload)

	result, tokens, err := g.client.ChatJSON(ctx, casePrompt(point.PointType, strategy), string(body), temperature, maxTokens)
	if err != nil {
		return nil, tokens, err
	}
	var parsed caseBody
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, tokens, &aiclient.MalformedOutputError{Detail: err.Error()}
	}
	return buildCase(point, parsed), tokens, nil
}

// BatchResult carries the outcome of one divide-and-conquer generation run
type BatchResult struct {
	Cases  []*outline.TestCase
	Tokens int
	Logs   []string
	Failed int
}

// GenerateProcessBatch converts one batch of process points into cases. A
// failed batch call falls back to per-point single generation instead of
// splitting, since process batches are close to one call per item already.
func (g *CaseGenerator) GenerateProcessBatch(ctx context.Context, points []*outline.TestPoint, strategy string) BatchResult {
	if len(points) == 0 {
		return BatchResult{}
	}
	if len(points) == 1 {
		return g.generateSingleton(ctx, points[0], strategy, nil)
	}

	result, tokens, err := g.callBatch(ctx, points, strategy, nil)
	if err != nil {
		out := BatchResult{
			Tokens: tokens,
			Logs:   []string{fmt.Sprintf("批量生成失败，降级单点生成：%v", err)},
		}
		for _, p := range points {
			single := g.generateSingleton(ctx, p, strategy, nil)
			out.Cases = append(out.Cases, single.Cases...)
			out.Tokens += single.Tokens
			out.Logs = append(out.Logs, single.Logs...)
			out.Failed += single.Failed
		}
		return out
	}
	return g.collectBatch(ctx, points, strategy, nil, result, tokens)
}

// GenerateBatch converts a batch of points into cases with one call. A batch
// whose output is malformed is bisected and each half retried independently;
// a singleton that still fails falls back to the single-point prompt, and its
// total failure is recorded as one failed point. Recursion depth is bounded
// by the batch size, so the call count stays linear in n.
func (g *CaseGenerator) GenerateBatch(ctx context.Context, points []*outline.TestPoint, strategy string, flowStepsMap map[string][]string) BatchResult {
	if len(points) == 0 {
		return BatchResult{}
	}
	if len(points) == 1 {
		return g.generateSingleton(ctx, points[0], strategy, flowStepsMap)
	}

	result, tokens, err := g.callBatch(ctx, points, strategy, flowStepsMap)
	if err != nil {
		mid := len(points) / 2
		left := g.GenerateBatch(ctx, points[:mid], strategy, flowStepsMap)
		right := g.GenerateBatch(ctx, points[mid:], strategy, flowStepsMap)
		return BatchResult{
			Cases:  append(left.Cases, right.Cases...),
			Tokens: tokens + left.Tokens + right.Tokens,
			Logs:   append(append([]string{fmt.Sprintf("批量生成失败，二分重试：%v", err)}, left.Logs...), right.Logs...),
			Failed: left.Failed + right.Failed,
		}
	}
	return g.collectBatch(ctx, points, strategy, flowStepsMap, result, tokens)
}

// callBatch sends one batched prompt and returns the parsed item array
func (g *CaseGenerator) callBatch(ctx context.Context, points []*outline.TestPoint, strategy string, flowStepsMap map[string][]string) ([]caseBody, int, error) {
	temperature, maxTokens := strategyParams(strategy, true)
	payload := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		item := map[string]interface{}{
			"point_id":   p.PointID,
			"point_type": p.PointType,
			"subtype":    p.Subtype,
			"priority":   p.Priority,
			"text":       p.Text,
		}
		if p.PointType != outline.PointTypeProcess {
			item["flow_steps"] = lookupFlowSteps(flowStepsMap, p.Context)
		}
		payload = append(payload, item)
	}
	body, _ := json.Marshal(payload)

	result, tokens, err := g.client.ChatJSON(ctx, caseBatchPrompt(points[0].PointType, strategy), string(body), temperature, maxTokens)
	if err != nil {
		return nil, tokens, err
	}
	var items []caseBody
	if err := json.Unmarshal(result, &items); err != nil {
		return nil, tokens, &aiclient.MalformedOutputError{Detail: "batch reply is not an array"}
	}
	return items, tokens, nil
}

// collectBatch pairs reply items with their points; items missing or empty
// fall through to the singleton tier
func (g *CaseGenerator) collectBatch(ctx context.Context, points []*outline.TestPoint, strategy string, flowStepsMap map[string][]string, items []caseBody, tokens int) BatchResult {
	byID := make(map[string]caseBody, len(items))
	for _, item := range items {
		byID[item.PointID] = item
	}
	out := BatchResult{Tokens: tokens}
	for _, p := range points {
		item, ok := byID[p.PointID]
		if !ok || emptyBody(item) {
			single := g.generateSingleton(ctx, p, strategy, flowStepsMap)
			out.Cases = append(out.Cases, single.Cases...)
			out.Tokens += single.Tokens
			out.Logs = append(out.Logs, single.Logs...)
			out.Failed += single.Failed
			continue
		}
		out.Cases = append(out.Cases, buildCase(p, item))
	}
	return out
}

func emptyBody(item caseBody) bool {
	return len(normalizeList(item.Preconditions)) == 0 &&
		len(normalizeList(item.Steps)) == 0 &&
		len(normalizeList(item.ExpectedResults)) == 0
}

// generateSingleton is the last retry tier: the single-point prompt variant.
// Its failure degrades to one failed point, never a task failure.
func (g *CaseGenerator) generateSingleton(ctx context.Context, point *outline.TestPoint, strategy string, flowStepsMap map[string][]string) BatchResult {
	c, tokens, err := g.GenerateCase(ctx, point, strategy, lookupFlowSteps(flowStepsMap, point.Context))
	if err != nil {
		var malformed *aiclient.MalformedOutputError
		if !errors.As(err, &malformed) {
			g.logger.Warn("point generation failed", zap.String("point_id", point.PointID), zap.Error(err))
		}
		return BatchResult{
			Tokens: tokens,
			Logs:   []string{fmt.Sprintf("测试点 %s 生成失败：%v", point.PointID, err)},
			Failed: 1,
		}
	}
	return BatchResult{Cases: []*outline.TestCase{c}, Tokens: tokens}
}

func lookupFlowSteps(flowStepsMap map[string][]string, context string) []string {
	if flowStepsMap == nil {
		return nil
	}
	return flowStepsMap[normalizeContextKey(context)]
}
