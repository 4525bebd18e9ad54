package outline

import (
	"fmt"
	"strings"
)

// negativeGlyph marks expected-result lines of negative cases in case trees
const negativeGlyph = "×"

// CaseTreeEncoder renders generated test cases back into an outline container.
// Cases attach under the section branch matching their point type, located by
// walking the case's context path with title lookup, so repeated calls over
// the same tree neither duplicate nodes nor depend on case order.
type CaseTreeEncoder struct {
	root *Topic
}

// NewCaseTreeEncoder creates a case-tree encoder with a fresh root
func NewCaseTreeEncoder(requirementName string) *CaseTreeEncoder {
	if strings.TrimSpace(requirementName) == "" {
		requirementName = "测试用例"
	}
	root := NewTopic(requirementName)
	root.StructureClass = structureLogicRight
	return &CaseTreeEncoder{root: root}
}

// Root exposes the tree under construction
func (e *CaseTreeEncoder) Root() *Topic {
	return e.root
}

// Attach places every case into the tree
func (e *CaseTreeEncoder) Attach(cases []*TestCase) {
	for _, c := range cases {
		if c != nil {
			e.AttachCase(c)
		}
	}
}

// AttachCase places one case under its branch, creating missing path nodes.
// A case already present (matched by title under the same branch) is left
// untouched.
func (e *CaseTreeEncoder) AttachCase(c *TestCase) {
	branch := e.locateBranch(c)

	title := strings.TrimSpace(c.Text)
	if title == "" {
		title = c.CaseID
	}
	if branch.FindChild(title) != nil {
		return
	}

	caseTopic := NewTopic(title)
	if c.Priority >= 1 && c.Priority <= 3 {
		caseTopic.AddMarker(fmt.Sprintf("priority-%d", c.Priority))
	}
	caseTopic.AttachChild(NewTopic("用例编号：" + c.CaseID))

	pre := NewTopic("前提条件")
	for _, item := range c.Preconditions {
		if item = strings.TrimSpace(item); item != "" {
			pre.AttachChild(NewTopic(item))
		}
	}
	caseTopic.AttachChild(pre)

	steps := NewTopic("测试步骤")
	for _, item := range c.Steps {
		if item = strings.TrimSpace(item); item != "" {
			steps.AttachChild(NewTopic(item))
		}
	}
	caseTopic.AttachChild(steps)

	expected := NewTopic("预期结果")
	for _, item := range c.ExpectedResults {
		if item = strings.TrimSpace(item); item != "" {
			if c.Subtype == SubtypeNegative {
				item = negativeGlyph + item
			}
			expected.AttachChild(NewTopic(item))
		}
	}
	caseTopic.AttachChild(expected)

	branch.AttachChild(caseTopic)
}

// locateBranch walks the case's context path from the root, creating nodes by
// title as needed, and ends on the section branch for the case's point type
func (e *CaseTreeEncoder) locateBranch(c *TestCase) *Topic {
	current := e.root
	var last string
	for _, part := range strings.Split(c.Context, " / ") {
		part = strings.TrimSpace(part)
		if part == "" || part == strings.TrimSpace(e.root.Title) {
			continue
		}
		next := current.FindChild(part)
		if next == nil {
			next = NewTopic(part)
			current.AttachChild(next)
		}
		current = next
		last = part
	}

	section := sectionTitleFor(c.PointType)
	if last == section {
		return current
	}
	branch := current.FindChild(section)
	if branch == nil {
		branch = NewTopic(section)
		current.AttachChild(branch)
	}
	return branch
}

func sectionTitleFor(pointType string) string {
	switch pointType {
	case PointTypeRule:
		return SectionRule
	case PointTypePageControl:
		return SectionPageControl
	default:
		return SectionProcess
	}
}

// Encode attaches the cases and serializes the tree into a container archive
func (e *CaseTreeEncoder) Encode(cases []*TestCase) ([]byte, error) {
	e.Attach(cases)
	return WriteContainer(e.root)
}
