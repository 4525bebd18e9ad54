package outline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCase() *TestCase {
	return &TestCase{
		CaseID:          "TC1A2B3C4D",
		PointID:         "TP001",
		PointType:       PointTypeRule,
		Subtype:         SubtypeNegative,
		Priority:        2,
		Text:            "金额超限检查",
		Context:         "放款处理 / 放款组件 / 放款检查 / 业务规则",
		Preconditions:   []string{"已录入超限金额"},
		Steps:           []string{"点击提交"},
		ExpectedResults: []string{"提示金额超限", "提交被拦截"},
	}
}

func TestAttachCase(t *testing.T) {
	t.Run("Should create the context path under the root", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		enc.AttachCase(sampleCase())

		branch := enc.Root().FindChild("放款组件").FindChild("放款检查").FindChild(SectionRule)
		require.NotNil(t, branch)
		require.Len(t, branch.ChildTopics(), 1)
		assert.Equal(t, "金额超限检查", branch.ChildTopics()[0].Title)
	})

	t.Run("Should skip the root title repeated in the context", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		enc.AttachCase(sampleCase())

		assert.Nil(t, enc.Root().FindChild("放款处理"))
	})

	t.Run("Should force the section branch when the context lacks it", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		c := sampleCase()
		c.Context = "放款处理 / 放款组件"
		enc.AttachCase(c)

		branch := enc.Root().FindChild("放款组件").FindChild(SectionRule)
		require.NotNil(t, branch)
		assert.NotNil(t, branch.FindChild("金额超限检查"))
	})

	t.Run("Should lay out the fixed case children", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		enc.AttachCase(sampleCase())

		caseTopic := enc.Root().FindChild("放款组件").FindChild("放款检查").FindChild(SectionRule).FindChild("金额超限检查")
		require.NotNil(t, caseTopic)
		assert.Equal(t, []string{"用例编号：TC1A2B3C4D", "前提条件", "测试步骤", "预期结果"}, childTitles(caseTopic))
		assert.Equal(t, []string{"已录入超限金额"}, childTitles(caseTopic.FindChild("前提条件")))
		assert.Equal(t, []string{"点击提交"}, childTitles(caseTopic.FindChild("测试步骤")))
	})

	t.Run("Should carry the priority marker on the case topic", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		enc.AttachCase(sampleCase())

		caseTopic := enc.Root().FindChild("放款组件").FindChild("放款检查").FindChild(SectionRule).FindChild("金额超限检查")
		require.NotNil(t, caseTopic)
		assert.Contains(t, caseTopic.MarkerIDs(), "priority-2")
	})

	t.Run("Should prefix negative expected results with the glyph", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		enc.AttachCase(sampleCase())

		caseTopic := enc.Root().FindChild("放款组件").FindChild("放款检查").FindChild(SectionRule).FindChild("金额超限检查")
		require.NotNil(t, caseTopic)
		assert.Equal(t, []string{"×提示金额超限", "×提交被拦截"}, childTitles(caseTopic.FindChild("预期结果")))
	})

	t.Run("Should leave positive expected results bare", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		c := sampleCase()
		c.Text = "金额校验通过"
		c.Subtype = SubtypePositive
		c.ExpectedResults = []string{"提交成功"}
		enc.AttachCase(c)

		caseTopic := enc.Root().FindChild("放款组件").FindChild("放款检查").FindChild(SectionRule).FindChild("金额校验通过")
		require.NotNil(t, caseTopic)
		assert.Equal(t, []string{"提交成功"}, childTitles(caseTopic.FindChild("预期结果")))
	})

	t.Run("Should not duplicate a case attached twice", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		enc.AttachCase(sampleCase())
		enc.AttachCase(sampleCase())

		branch := enc.Root().FindChild("放款组件").FindChild("放款检查").FindChild(SectionRule)
		require.NotNil(t, branch)
		assert.Len(t, branch.ChildTopics(), 1)
	})

	t.Run("Should share path nodes between cases under the same branch", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		first := sampleCase()
		second := sampleCase()
		second.CaseID = "TC99999999"
		second.Text = "币种检查"
		enc.Attach([]*TestCase{first, second})

		require.Len(t, enc.Root().ChildTopics(), 1)
		branch := enc.Root().FindChild("放款组件").FindChild("放款检查").FindChild(SectionRule)
		require.NotNil(t, branch)
		assert.Len(t, branch.ChildTopics(), 2)
	})

	t.Run("Should fall back to the case id when the text is empty", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		c := sampleCase()
		c.Text = ""
		enc.AttachCase(c)

		branch := enc.Root().FindChild("放款组件").FindChild("放款检查").FindChild(SectionRule)
		require.NotNil(t, branch)
		assert.NotNil(t, branch.FindChild("TC1A2B3C4D"))
	})
}

func TestCaseTreeEncode(t *testing.T) {
	t.Run("Should default the root title", func(t *testing.T) {
		enc := NewCaseTreeEncoder("  ")
		assert.Equal(t, "测试用例", enc.Root().Title)
	})

	t.Run("Should produce a readable container", func(t *testing.T) {
		enc := NewCaseTreeEncoder("放款处理")
		data, err := enc.Encode([]*TestCase{sampleCase()})
		require.NoError(t, err)

		root, err := ReadContainer(data)
		require.NoError(t, err)
		assert.Equal(t, "放款处理", root.Title)
		branch := root.FindChild("放款组件").FindChild("放款检查").FindChild(SectionRule)
		require.NotNil(t, branch)
		caseTopic := branch.FindChild("金额超限检查")
		require.NotNil(t, caseTopic)
		assert.Contains(t, caseTopic.MarkerIDs(), "priority-2")
	})
}
