package outline

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTopic(title string, children ...*Topic) *Topic {
	t := NewTopic(title)
	for _, child := range children {
		t.AttachChild(child)
	}
	return t
}

func mustContainer(t *testing.T, root *Topic) []byte {
	t.Helper()
	data, err := WriteContainer(root)
	require.NoError(t, err)
	return data
}

func pointByText(points []*TestPoint, text string) *TestPoint {
	for _, p := range points {
		if p.Text == text {
			return p
		}
	}
	return nil
}

func TestDecodeRootAndBasicInfo(t *testing.T) {
	root := buildTopic("JD2024001-放款处理",
		buildTopic("基础信息",
			buildTopic("客户（C）：对公客户"),
			buildTopic("产品（P）：流动资金贷款"),
			buildTopic("渠道（C）：柜面"),
			buildTopic("合作方（P）："),
			buildTopic("设计者：张三"),
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)

	t.Run("Should split the root title into number and name", func(t *testing.T) {
		assert.Equal(t, "JD2024001", doc.DocumentNumber)
		assert.Equal(t, "放款处理", doc.RequirementName)
	})

	t.Run("Should read the basic info block", func(t *testing.T) {
		assert.Equal(t, "对公客户", doc.Customer)
		assert.Equal(t, "流动资金贷款", doc.Product)
		assert.Equal(t, "柜面", doc.Channel)
		assert.Equal(t, "", doc.Partner)
		assert.Equal(t, "张三", doc.Designer)
	})

	t.Run("Should default to a modeling document", func(t *testing.T) {
		assert.Equal(t, DocTypeModeling, doc.DocumentType)
	})
}

func TestDecodeLeafPoints(t *testing.T) {
	stepB := buildTopic("②步骤B")
	root := buildTopic("放款处理",
		buildTopic("放款登记",
			buildTopic("放款检查",
				buildTopic(SectionProcess,
					buildTopic("步骤A"),
					stepB,
				),
			),
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)
	require.Len(t, doc.TestPoints, 2)

	t.Run("Should turn each section leaf into one point", func(t *testing.T) {
		a := pointByText(doc.TestPoints, "放款处理 / 放款登记 / 放款检查 / 业务流程 - 步骤A")
		require.NotNil(t, a)
		assert.Equal(t, PointTypeProcess, a.PointType)
		assert.Equal(t, 0, a.Priority)
		assert.Equal(t, "放款处理 / 放款登记 / 放款检查 / 业务流程", a.Context)
	})

	t.Run("Should parse a circled numeral as the priority", func(t *testing.T) {
		b := pointByText(doc.TestPoints, "放款处理 / 放款登记 / 放款检查 / 业务流程 - 步骤B")
		require.NotNil(t, b)
		assert.Equal(t, 2, b.Priority)
	})

	t.Run("Should assign sequential point ids", func(t *testing.T) {
		assert.Equal(t, "TP001", doc.TestPoints[0].PointID)
		assert.Equal(t, "TP002", doc.TestPoints[1].PointID)
	})
}

func TestDecodePriorityResolution(t *testing.T) {
	marked := buildTopic("2、限额检查")
	marked.AddMarker("priority-1")
	legacy := buildTopic("额度校验")
	legacy.Markers = "priority-3"

	root := buildTopic("放款处理",
		buildTopic(SectionRule,
			marked,
			buildTopic("（2）利率检查"),
			buildTopic("3、余额检查"),
			legacy,
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)
	require.Len(t, doc.TestPoints, 4)

	t.Run("Should let a priority marker beat a leading numeral", func(t *testing.T) {
		p := pointByText(doc.TestPoints, "放款处理 / 业务规则 - 2、限额检查")
		require.NotNil(t, p)
		assert.Equal(t, 1, p.Priority)
	})

	t.Run("Should parse and strip a bracketed numeral", func(t *testing.T) {
		p := pointByText(doc.TestPoints, "放款处理 / 业务规则 - 利率检查")
		require.NotNil(t, p)
		assert.Equal(t, 2, p.Priority)
	})

	t.Run("Should parse and strip a plain numeral", func(t *testing.T) {
		p := pointByText(doc.TestPoints, "放款处理 / 业务规则 - 余额检查")
		require.NotNil(t, p)
		assert.Equal(t, 3, p.Priority)
	})

	t.Run("Should honor the legacy markers attribute", func(t *testing.T) {
		p := pointByText(doc.TestPoints, "放款处理 / 业务规则 - 额度校验")
		require.NotNil(t, p)
		assert.Equal(t, 3, p.Priority)
	})
}

func TestDecodeFanOut(t *testing.T) {
	child := buildTopic("③币种不一致")
	root := buildTopic("放款处理",
		buildTopic(SectionRule,
			buildTopic("1、通用检查规则",
				buildTopic("币种一致"),
				child,
			),
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)
	require.Len(t, doc.TestPoints, 2)

	t.Run("Should merge child titles with the cleaned parent title", func(t *testing.T) {
		p := pointByText(doc.TestPoints, "放款处理 / 业务规则 - 通用检查规则-币种一致")
		require.NotNil(t, p)
		assert.Equal(t, PointTypeRule, p.PointType)
	})

	t.Run("Should inherit the parent priority when the child has none", func(t *testing.T) {
		p := pointByText(doc.TestPoints, "放款处理 / 业务规则 - 通用检查规则-币种一致")
		require.NotNil(t, p)
		assert.Equal(t, 1, p.Priority)
	})

	t.Run("Should let the child priority override the inherited one", func(t *testing.T) {
		p := pointByText(doc.TestPoints, "放款处理 / 业务规则 - 通用检查规则-币种不一致")
		require.NotNil(t, p)
		assert.Equal(t, 3, p.Priority)
	})
}

func TestDecodeUnwrapSingleChild(t *testing.T) {
	root := buildTopic("放款处理",
		buildTopic(SectionProcess,
			buildTopic("提前还款",
				buildTopic("部分还款",
					buildTopic("试算成功"),
					buildTopic("试算失败"),
				),
			),
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)

	t.Run("Should unwrap one level and fan out the grandchildren", func(t *testing.T) {
		require.Len(t, doc.TestPoints, 2)
		ok := pointByText(doc.TestPoints, "放款处理 / 业务流程 - 提前还款-部分还款-试算成功")
		require.NotNil(t, ok)
		assert.Equal(t, SubtypePositive, ok.Subtype)
		fail := pointByText(doc.TestPoints, "放款处理 / 业务流程 - 提前还款-部分还款-试算失败")
		require.NotNil(t, fail)
		assert.Equal(t, SubtypeNegative, fail.Subtype)
	})
}

func TestDecodeManualChains(t *testing.T) {
	wrongLeaf := buildTopic("金额校验通过")
	wrongLeaf.AddMarker("symbol-wrong")

	root := buildTopic("放款处理",
		buildTopic(SectionRule,
			buildTopic("放款金额校验",
				buildTopic("已录入超限金额",
					buildTopic("点击提交",
						wrongLeaf,
					),
				),
				buildTopic("已录入正常金额",
					buildTopic("点击提交",
						buildTopic("提交成功"),
					),
				),
			),
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)
	require.Len(t, doc.TestPoints, 2)

	t.Run("Should rebuild each chain as one manual case point", func(t *testing.T) {
		p := pointByText(doc.TestPoints, "放款处理 / 业务规则 - 放款金额校验-已录入正常金额")
		require.NotNil(t, p)
		assert.True(t, p.ManualCase)
		assert.Equal(t, []string{"已录入正常金额"}, p.Preconditions)
		assert.Equal(t, []string{"点击提交"}, p.Steps)
		assert.Equal(t, []string{"提交成功"}, p.ExpectedResults)
		assert.Equal(t, SubtypePositive, p.Subtype)
	})

	t.Run("Should force negative on a wrong-marked result despite positive keywords", func(t *testing.T) {
		p := pointByText(doc.TestPoints, "放款处理 / 业务规则 - 放款金额校验-已录入超限金额")
		require.NotNil(t, p)
		assert.True(t, p.ManualCase)
		assert.Equal(t, SubtypeNegative, p.Subtype)
	})
}

func TestDecodeBrokenChainFallsBack(t *testing.T) {
	root := buildTopic("放款处理",
		buildTopic(SectionRule,
			buildTopic("组合校验",
				buildTopic("前提一",
					buildTopic("步骤一",
						buildTopic("结果一"),
					),
				),
				buildTopic("前提二",
					buildTopic("步骤二A"),
					buildTopic("步骤二B",
						buildTopic("结果二"),
					),
				),
			),
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)

	t.Run("Should treat the whole node as one point when any chain breaks", func(t *testing.T) {
		require.Len(t, doc.TestPoints, 1)
		assert.Equal(t, "放款处理 / 业务规则 - 组合校验", doc.TestPoints[0].Text)
		assert.False(t, doc.TestPoints[0].ManualCase)
	})
}

func TestDecodeSkipsOverdeepSubtrees(t *testing.T) {
	root := buildTopic("放款处理",
		buildTopic(SectionProcess,
			buildTopic("层级一",
				buildTopic("层级二",
					buildTopic("层级三",
						buildTopic("层级四",
							buildTopic("层级五"),
						),
					),
				),
			),
			buildTopic("正常步骤"),
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)

	t.Run("Should drop the overdeep subtree and keep decoding", func(t *testing.T) {
		require.Len(t, doc.TestPoints, 1)
		assert.Equal(t, "放款处理 / 业务流程 - 正常步骤", doc.TestPoints[0].Text)
	})
}

func TestDetectSubtype(t *testing.T) {
	t.Run("Should classify single-keyword texts", func(t *testing.T) {
		assert.Equal(t, SubtypePositive, DetectSubtype("检查通过"))
		assert.Equal(t, SubtypeNegative, DetectSubtype("校验失败"))
		assert.Equal(t, "", DetectSubtype("录入放款金额"))
	})

	t.Run("Should let the rightmost keyword decide", func(t *testing.T) {
		assert.Equal(t, SubtypePositive, DetectSubtype("提交失败后重新提交成功"))
		assert.Equal(t, SubtypeNegative, DetectSubtype("校验通过后仍提示错误"))
	})

	t.Run("Should resolve overlapping keywords by rightmost occurrence", func(t *testing.T) {
		// 通过 sits three bytes past 不通过 within the same word
		assert.Equal(t, SubtypePositive, DetectSubtype("检查不通过"))
	})
}

func TestDecodeDocumentType(t *testing.T) {
	root := buildTopic("放款处理",
		buildTopic("功能",
			buildTopic(SectionProcess,
				buildTopic("提交申请"),
			),
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)

	t.Run("Should detect a non-modeling document by its function branch", func(t *testing.T) {
		assert.Equal(t, DocTypeNonModeling, doc.DocumentType)
	})
}

func TestDecodeStats(t *testing.T) {
	root := buildTopic("放款处理",
		buildTopic(SectionProcess,
			buildTopic("1、提交申请成功"),
			buildTopic("录入要素"),
		),
		buildTopic(SectionRule,
			buildTopic("2、币种检查失败"),
		),
	)

	doc, err := Decode(mustContainer(t, root))
	require.NoError(t, err)

	t.Run("Should aggregate counts by type priority and subtype", func(t *testing.T) {
		assert.Equal(t, 3, doc.Stats.Total)
		assert.Equal(t, 2, doc.Stats.ByType[PointTypeProcess])
		assert.Equal(t, 1, doc.Stats.ByType[PointTypeRule])
		assert.Equal(t, 1, doc.Stats.ByPriority["1"])
		assert.Equal(t, 1, doc.Stats.ByPriority["2"])
		assert.Equal(t, 1, doc.Stats.ByPriority["unknown"])
		assert.Equal(t, 1, doc.Stats.BySubtype[SubtypePositive])
		assert.Equal(t, 1, doc.Stats.BySubtype[SubtypeNegative])
		assert.Equal(t, 1, doc.Stats.BySubtype["unknown"])
	})
}

func TestDecodeMalformedContainers(t *testing.T) {
	t.Run("Should reject data that is not an archive", func(t *testing.T) {
		_, err := Decode([]byte("not an archive"))
		var malformed *MalformedContainerError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("Should reject an archive without a content part", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, err := zw.Create("styles.xml")
		require.NoError(t, err)
		_, err = w.Write([]byte("<xmap-styles/>"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		_, err = Decode(buf.Bytes())
		var malformed *MalformedContainerError
		require.ErrorAs(t, err, &malformed)
		assert.Contains(t, err.Error(), "content")
	})

	t.Run("Should reject a content part without a sheet", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, err := zw.Create("content.xml")
		require.NoError(t, err)
		_, err = w.Write([]byte(`<?xml version="1.0"?><xmap-content xmlns="urn:xmind:xmap:xmlns:content:2.0"/>`))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		_, err = Decode(buf.Bytes())
		var malformed *MalformedContainerError
		require.ErrorAs(t, err, &malformed)
	})
}
