package generation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"casegen-service/internal/aiclient"
	"casegen-service/internal/outline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatCall struct {
	system      string
	user        string
	temperature float64
	maxTokens   int
}

// fakeChat records every call and delegates the reply to a test-provided func
type fakeChat struct {
	mu    sync.Mutex
	calls []chatCall
	reply func(call chatCall) (json.RawMessage, int, error)
}

func (f *fakeChat) ChatJSON(ctx context.Context, system, user string, temperature float64, maxTokens int) (json.RawMessage, int, error) {
	f.mu.Lock()
	call := chatCall{system: system, user: user, temperature: temperature, maxTokens: maxTokens}
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return f.reply(call)
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChat) call(i int) chatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func rulePoint(id, text string) *outline.TestPoint {
	return &outline.TestPoint{
		PointID:   id,
		PointType: outline.PointTypeRule,
		Subtype:   outline.SubtypeNegative,
		Priority:  2,
		Text:      text,
		Context:   "支付处理 / 业务规则",
	}
}

func processPoint(id, text string) *outline.TestPoint {
	return &outline.TestPoint{
		PointID:   id,
		PointType: outline.PointTypeProcess,
		Subtype:   outline.SubtypePositive,
		Priority:  1,
		Text:      text,
		Context:   "支付处理 / 业务流程",
	}
}

func caseBodyJSON(pointID string) string {
	return `{"point_id": "` + pointID + `", "preconditions": ["已登录"], "steps": ["执行操作"], "expected_results": ["操作成功"]}`
}

func TestFillMissingMetadata(t *testing.T) {
	t.Run("Should back-fill only the missing fields", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			return json.RawMessage(`[
				{"point_id": "TP001", "subtype": "negative", "priority": 1},
				{"point_id": "TP002", "subtype": "negative", "priority": 3}
			]`), 50, nil
		}}
		g := NewCaseGenerator(chat, nil)

		p1 := &outline.TestPoint{PointID: "TP001", Text: "币种检查", Priority: 2}
		p2 := &outline.TestPoint{PointID: "TP002", Text: "金额检查", Subtype: outline.SubtypePositive}
		p3 := &outline.TestPoint{PointID: "TP003", Text: "状态检查", Subtype: outline.SubtypePositive, Priority: 1}

		tokens, logs := g.FillMissingMetadata(context.Background(), []*outline.TestPoint{p1, p2, p3})
		assert.Equal(t, 50, tokens)
		assert.Empty(t, logs)
		require.Equal(t, 1, chat.callCount())

		assert.Equal(t, "negative", p1.Subtype)
		assert.Equal(t, 2, p1.Priority)
		assert.Equal(t, outline.SubtypePositive, p2.Subtype)
		assert.Equal(t, 3, p2.Priority)
		assert.NotContains(t, chat.call(0).user, "TP003")
	})

	t.Run("Should make no calls when nothing is missing", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			return nil, 0, errors.New("should not be called")
		}}
		g := NewCaseGenerator(chat, nil)

		complete := &outline.TestPoint{PointID: "TP001", Subtype: outline.SubtypePositive, Priority: 1}
		tokens, logs := g.FillMissingMetadata(context.Background(), []*outline.TestPoint{complete})
		assert.Zero(t, tokens)
		assert.Empty(t, logs)
		assert.Zero(t, chat.callCount())
	})

	t.Run("Should retry, split and log points it cannot resolve", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			return nil, 10, errors.New("service unavailable")
		}}
		g := NewCaseGenerator(chat, nil)

		points := []*outline.TestPoint{
			{PointID: "TP001", Text: "币种检查"},
			{PointID: "TP002", Text: "金额检查"},
		}
		_, logs := g.FillMissingMetadata(context.Background(), points)

		// full batch, one retry, then batch and single prompt per half
		assert.Equal(t, 6, chat.callCount())
		require.Len(t, logs, 2)
		assert.Contains(t, logs[0], "元数据补全失败")
		assert.Contains(t, logs[1], "元数据补全失败")
		assert.Equal(t, systemPromptMetadata, chat.call(3).system)
		assert.Equal(t, "币种检查", chat.call(3).user)
	})

	t.Run("Should resolve a stubborn point with the single prompt", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			if call.system == systemPromptMetadataBatch {
				return nil, 10, errors.New("service unavailable")
			}
			return json.RawMessage(`{"subtype": "negative", "priority": 1}`), 20, nil
		}}
		g := NewCaseGenerator(chat, nil)

		point := &outline.TestPoint{PointID: "TP001", Text: "金额超限检查"}
		_, logs := g.FillMissingMetadata(context.Background(), []*outline.TestPoint{point})

		assert.Empty(t, logs)
		assert.Equal(t, "negative", point.Subtype)
		assert.Equal(t, 1, point.Priority)
	})
}

func TestGenerateBatch(t *testing.T) {
	t.Run("Should pair reply items with their points in one call", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			return json.RawMessage(`[
				` + caseBodyJSON("TP001") + `,
				{"point_id": "TP002", "preconditions": "已登录", "steps": "第一步\n第二步", "expected_results": ["提示错误"]},
				` + caseBodyJSON("TP003") + `
			]`), 200, nil
		}}
		g := NewCaseGenerator(chat, nil)

		points := []*outline.TestPoint{
			rulePoint("TP001", "币种检查不一致"),
			rulePoint("TP002", "金额超限"),
			rulePoint("TP003", "状态异常"),
		}
		result := g.GenerateBatch(context.Background(), points, "standard", nil)

		assert.Equal(t, 1, chat.callCount())
		assert.Zero(t, result.Failed)
		assert.Equal(t, 200, result.Tokens)
		require.Len(t, result.Cases, 3)
		for i, c := range result.Cases {
			assert.Equal(t, points[i].PointID, c.PointID)
			assert.True(t, strings.HasPrefix(c.CaseID, "TC"))
			assert.Len(t, c.CaseID, 10)
			assert.Equal(t, points[i].Priority, c.Priority)
		}
		// newline-joined string replies split into lines
		assert.Equal(t, []string{"第一步", "第二步"}, result.Cases[1].Steps)
		assert.Equal(t, []string{"已登录"}, result.Cases[1].Preconditions)

		assert.Equal(t, 0.2, chat.call(0).temperature)
		assert.Equal(t, 1200, chat.call(0).maxTokens)
	})

	t.Run("Should bisect a malformed batch down to failed singletons", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			return nil, 10, &aiclient.MalformedOutputError{Detail: "no JSON value found in reply"}
		}}
		g := NewCaseGenerator(chat, nil)

		points := []*outline.TestPoint{
			rulePoint("TP001", "a"), rulePoint("TP002", "b"),
			rulePoint("TP003", "c"), rulePoint("TP004", "d"),
		}
		result := g.GenerateBatch(context.Background(), points, "fast", nil)

		assert.Empty(t, result.Cases)
		assert.Equal(t, 4, result.Failed)
		// one full batch, two halves, four singletons
		assert.Equal(t, 7, chat.callCount())
		assert.Equal(t, 70, result.Tokens)
	})

	t.Run("Should retry a missing reply item with the single prompt", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			if strings.HasPrefix(strings.TrimSpace(call.user), "[") {
				return json.RawMessage(`[` + caseBodyJSON("TP001") + `]`), 100, nil
			}
			return json.RawMessage(caseBodyJSON("TP002")), 60, nil
		}}
		g := NewCaseGenerator(chat, nil)

		points := []*outline.TestPoint{rulePoint("TP001", "a"), rulePoint("TP002", "b")}
		result := g.GenerateBatch(context.Background(), points, "standard", nil)

		assert.Equal(t, 2, chat.callCount())
		assert.Zero(t, result.Failed)
		require.Len(t, result.Cases, 2)
		assert.Equal(t, 160, result.Tokens)
	})

	t.Run("Should retry an empty reply item with the single prompt", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			if strings.HasPrefix(strings.TrimSpace(call.user), "[") {
				return json.RawMessage(`[
					` + caseBodyJSON("TP001") + `,
					{"point_id": "TP002", "preconditions": [], "steps": [], "expected_results": []}
				]`), 100, nil
			}
			return json.RawMessage(caseBodyJSON("TP002")), 60, nil
		}}
		g := NewCaseGenerator(chat, nil)

		points := []*outline.TestPoint{rulePoint("TP001", "a"), rulePoint("TP002", "b")}
		result := g.GenerateBatch(context.Background(), points, "standard", nil)

		assert.Equal(t, 2, chat.callCount())
		require.Len(t, result.Cases, 2)
	})

	t.Run("Should attach the matching flow steps to rule payloads", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			return json.RawMessage(`[` + caseBodyJSON("TP001") + `,` + caseBodyJSON("TP002") + `]`), 100, nil
		}}
		g := NewCaseGenerator(chat, nil)

		flowSteps := map[string][]string{
			"支付处理 / 业务流程": {"打开支付页面", "点击提交"},
		}
		points := []*outline.TestPoint{rulePoint("TP001", "a"), rulePoint("TP002", "b")}
		result := g.GenerateBatch(context.Background(), points, "standard", flowSteps)

		require.Len(t, result.Cases, 2)
		assert.Contains(t, chat.call(0).user, "flow_steps")
		assert.Contains(t, chat.call(0).user, "打开支付页面")
	})
}

func TestGenerateProcessBatch(t *testing.T) {
	t.Run("Should degrade to per point generation when the batch call fails", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			if strings.HasPrefix(strings.TrimSpace(call.user), "[") {
				return nil, 10, errors.New("timeout")
			}
			var payload struct {
				PointID string `json:"point_id"`
			}
			require.NoError(t, json.Unmarshal([]byte(call.user), &payload))
			return json.RawMessage(caseBodyJSON(payload.PointID)), 50, nil
		}}
		g := NewCaseGenerator(chat, nil)

		points := []*outline.TestPoint{processPoint("TP001", "a"), processPoint("TP002", "b")}
		result := g.GenerateProcessBatch(context.Background(), points, "standard")

		assert.Equal(t, 3, chat.callCount())
		assert.Zero(t, result.Failed)
		require.Len(t, result.Cases, 2)
		assert.Equal(t, "TP001", result.Cases[0].PointID)
		assert.Equal(t, "TP002", result.Cases[1].PointID)
		require.NotEmpty(t, result.Logs)
		assert.Contains(t, result.Logs[0], "批量生成失败，降级单点生成")
	})

	t.Run("Should omit flow steps from process payloads", func(t *testing.T) {
		chat := &fakeChat{reply: func(call chatCall) (json.RawMessage, int, error) {
			return json.RawMessage(caseBodyJSON("TP001")), 50, nil
		}}
		g := NewCaseGenerator(chat, nil)

		result := g.GenerateProcessBatch(context.Background(), []*outline.TestPoint{processPoint("TP001", "a")}, "standard")
		require.Len(t, result.Cases, 1)
		assert.NotContains(t, chat.call(0).user, "flow_steps")
	})
}

func TestStrategyParams(t *testing.T) {
	t.Run("Should pin the temperature and token budget per strategy", func(t *testing.T) {
		temp, tokens := strategyParams("standard", false)
		assert.Equal(t, 0.2, temp)
		assert.Equal(t, 900, tokens)

		temp, tokens = strategyParams("standard", true)
		assert.Equal(t, 0.2, temp)
		assert.Equal(t, 1200, tokens)

		temp, tokens = strategyParams("fast", false)
		assert.Equal(t, 0.6, temp)
		assert.Equal(t, 600, tokens)

		temp, tokens = strategyParams("fast", true)
		assert.Equal(t, 0.6, temp)
		assert.Equal(t, 900, tokens)
	})
}

func TestNormalizeContextKey(t *testing.T) {
	t.Run("Should fold the rule branch into the process branch", func(t *testing.T) {
		assert.Equal(t, "支付处理 / 业务流程", normalizeContextKey("支付处理 / 业务规则"))
		assert.Equal(t, "支付处理 / 业务流程", normalizeContextKey("支付处理 / 业务流程"))
	})
}
