package outline

import (
	"fmt"
	"sort"
	"strings"
)

// sectionTitles is the fixed branch order attached under every leaf node
var sectionTitles = []string{SectionProcess, SectionRule, SectionPageControl, SectionValidation}

// Encoder builds an outline container from a typed requirement hierarchy.
// Construction is pure: the same document always yields the same tree shape.
type Encoder struct {
	doc *RequirementDocument
}

// NewEncoder creates an encoder over the given requirement document
func NewEncoder(doc *RequirementDocument) *Encoder {
	return &Encoder{doc: doc}
}

// Encode builds the outline tree and serializes it into a container archive
func (e *Encoder) Encode() ([]byte, error) {
	root, err := e.BuildTree()
	if err != nil {
		return nil, err
	}
	return WriteContainer(root)
}

// BuildTree constructs the outline topic tree without serializing it
func (e *Encoder) BuildTree() (*Topic, error) {
	if e.doc == nil {
		return nil, fmt.Errorf("requirement document is nil")
	}

	root := NewTopic(e.rootTitle())
	root.StructureClass = structureLogicRight

	if e.doc.DocumentType == DocTypeNonModeling {
		e.addNonModeling(root)
	} else {
		e.addModeling(root)
	}
	return root, nil
}

func (e *Encoder) rootTitle() string {
	if e.doc.DocumentType == DocTypeNonModeling {
		number := strings.TrimSpace(e.doc.FileNumber)
		name := strings.TrimSpace(e.doc.RequirementName)
		switch {
		case number != "" && name != "":
			return number + "-" + name
		case name != "":
			return name
		case number != "":
			return number + "-测试大纲"
		default:
			return "测试大纲"
		}
	}

	var caseName string
	if e.doc.RequirementInfo != nil {
		caseName = strings.TrimSpace(e.doc.RequirementInfo.CaseName)
	}
	version := strings.TrimSpace(e.doc.Version)
	switch {
	case caseName != "" && version != "":
		return caseName + "-" + version
	case caseName != "":
		return caseName
	case version != "":
		return "测试大纲-" + version
	default:
		return "测试大纲"
	}
}

func (e *Encoder) addModeling(root *Topic) {
	basicInfo := NewTopic("基础信息")
	e.addBasicInfo(basicInfo)
	root.AttachChild(basicInfo)

	for _, activity := range e.doc.Activities {
		if activity == nil || activity.Name == "" {
			continue
		}
		activityTopic := NewTopic(activity.Name)
		addSectionBranches(activityTopic, nil, nil, false)
		root.AttachChild(activityTopic)
	}

	for _, activity := range e.doc.Activities {
		if activity == nil {
			continue
		}
		for _, component := range activity.Components {
			if component == nil || component.Name == "" {
				continue
			}
			componentTopic := NewTopic(component.Name)
			e.addComponent(componentTopic, component)
			root.AttachChild(componentTopic)
		}
	}
}

func (e *Encoder) addNonModeling(root *Topic) {
	basicInfo := NewTopic("基础信息")
	e.addBasicInfo(basicInfo)
	root.AttachChild(basicInfo)

	if name := strings.TrimSpace(e.doc.RequirementName); name != "" {
		requirementTopic := NewTopic(name)
		addSectionBranches(requirementTopic, nil, nil, false)
		root.AttachChild(requirementTopic)
	}

	for _, function := range e.doc.Functions {
		if function == nil || function.Name == "" {
			continue
		}
		functionTopic := NewTopic(function.Name)
		addSectionBranches(functionTopic,
			sortedInputs(function.InputElements),
			sortedOutputs(function.OutputElements), false)
		root.AttachChild(functionTopic)
	}
}

func (e *Encoder) addBasicInfo(parent *Topic) {
	if e.doc.DocumentType == DocTypeNonModeling {
		designer := strings.TrimSpace(e.doc.Designer)
		parent.AttachChild(NewTopic("设计者：" + designer))
		return
	}

	info := e.doc.RequirementInfo
	value := func(get func(*RequirementInfo) string) string {
		if info == nil {
			return ""
		}
		return strings.TrimSpace(get(info))
	}
	parent.AttachChild(NewTopic("客户（C）：" + value(func(i *RequirementInfo) string { return i.Customer })))
	parent.AttachChild(NewTopic("产品（P）：" + value(func(i *RequirementInfo) string { return i.Product })))
	parent.AttachChild(NewTopic("渠道（C）：" + value(func(i *RequirementInfo) string { return i.Channel })))
	parent.AttachChild(NewTopic("合作方（P）：" + value(func(i *RequirementInfo) string { return i.Partner })))
	parent.AttachChild(NewTopic("设计者：" + strings.TrimSpace(e.doc.Designer)))
}

func (e *Encoder) addComponent(parent *Topic, component *ComponentInfo) {
	for _, task := range component.Tasks {
		if task == nil || task.Name == "" {
			continue
		}
		taskTopic := NewTopic(task.Name)
		for _, step := range task.Steps {
			if step == nil || step.Name == "" {
				continue
			}
			stepTopic := NewTopic(step.Name)
			addSectionBranches(stepTopic, step.InputElements, step.OutputElements, true)
			taskTopic.AttachChild(stepTopic)
		}
		parent.AttachChild(taskTopic)
	}
}

// addSectionBranches attaches the four fixed branches under a leaf node.
// Input/output element lines are absorbed by the page-control branch; step
// nodes carry 输入-/输出- prefixes, function nodes render the bare line.
func addSectionBranches(parent *Topic, inputs []*InputElement, outputs []*OutputElement, prefixed bool) {
	inputPrefix, outputPrefix := "", ""
	if prefixed {
		inputPrefix, outputPrefix = "输入-", "输出-"
	}
	for _, title := range sectionTitles {
		section := NewTopic(title)
		if title == SectionPageControl {
			for _, elem := range inputs {
				if elem == nil {
					continue
				}
				section.AttachChild(NewTopic(inputPrefix + FormatInputElement(elem)))
			}
			for _, elem := range outputs {
				if elem == nil {
					continue
				}
				section.AttachChild(NewTopic(outputPrefix + FormatOutputElement(elem)))
			}
		}
		parent.AttachChild(section)
	}
}

func sortedInputs(elems []*InputElement) []*InputElement {
	out := make([]*InputElement, len(elems))
	copy(out, elems)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i] == nil || out[j] == nil {
			return out[j] == nil
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func sortedOutputs(elems []*OutputElement) []*OutputElement {
	out := make([]*OutputElement, len(elems))
	copy(out, elems)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i] == nil || out[j] == nil {
			return out[j] == nil
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// FormatInputElement renders one input field line:
// with a description "字段名称-必输-说明", without one "字段名称-必输",
// dropdown fields "字段名称-必输；下拉选项包括：<限制>".
func FormatInputElement(elem *InputElement) string {
	if elem == nil {
		return ""
	}
	requiredText := "非必输"
	if strings.TrimSpace(elem.Required) == "是" {
		requiredText = "必输"
	}

	isDropdown := strings.Contains(elem.FieldFormat, "下拉") || strings.Contains(elem.InputLimit, "下拉")
	if isDropdown && elem.InputLimit != "" {
		return fmt.Sprintf("%s-%s；下拉选项包括：%s", elem.FieldName, requiredText, elem.InputLimit)
	}
	if elem.Description != "" {
		return fmt.Sprintf("%s-%s-%s", elem.FieldName, requiredText, elem.Description)
	}
	return fmt.Sprintf("%s-%s", elem.FieldName, requiredText)
}

// FormatOutputElement renders one output field line: 字段名称-类型-说明
func FormatOutputElement(elem *OutputElement) string {
	if elem == nil {
		return ""
	}
	parts := []string{elem.FieldName}
	if elem.FieldType != "" {
		parts = append(parts, elem.FieldType)
	}
	if elem.Description != "" {
		parts = append(parts, elem.Description)
	}
	return strings.Join(parts, "-")
}
