package outline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// sectionPointTypes maps a section branch title to the point type it fixes
// for its entire subtree
var sectionPointTypes = map[string]string{
	SectionProcess:     PointTypeProcess,
	SectionRule:        PointTypeRule,
	SectionPageControl: PointTypePageControl,
}

var (
	priorityBracketPattern = regexp.MustCompile(`^\s*[（(]?([1-3])[)）.、]\s*`)
	prioritySimplePattern  = regexp.MustCompile(`^\s*([1-3])[.、]\s*`)
	priorityMarkerPattern  = regexp.MustCompile(`^priority-([1-9])$`)
)

var circledPriorities = map[rune]int{'①': 1, '②': 2, '③': 3}

var (
	positiveKeywords = []string{"通过", "成功", "正确", "一致", "正常"}
	negativeKeywords = []string{"不通过", "失败", "错误", "不一致", "异常", "提示"}
)

// Decode reads an outline container and reconstructs the flat typed test-point
// list. A container missing its content part or root nodes fails with
// MalformedContainerError; unparseable subtrees inside are skipped instead.
func Decode(data []byte) (*ParsedOutlineDocument, error) {
	root, err := ReadContainer(data)
	if err != nil {
		return nil, err
	}

	d := &decoder{titles: map[string]bool{}}
	documentNumber, requirementName := splitRootTitle(strings.TrimSpace(root.Title))
	if requirementName == "" {
		requirementName = "测试大纲"
	}

	d.traverse(root, nil)

	documentType := DocTypeModeling
	if d.titles["功能"] {
		documentType = DocTypeNonModeling
	}

	// All points survive decoding, including priority 3; generation decides
	// later which ones participate.
	for i, point := range d.points {
		point.PointID = fmt.Sprintf("TP%03d", i+1)
	}

	basic := extractBasicInfo(root)
	return &ParsedOutlineDocument{
		ParseID:         strings.ReplaceAll(uuid.New().String(), "-", ""),
		RequirementName: requirementName,
		DocumentType:    documentType,
		DocumentNumber:  documentNumber,
		Customer:        basic["customer"],
		Product:         basic["product"],
		Channel:         basic["channel"],
		Partner:         basic["partner"],
		Designer:        basic["designer"],
		TestPoints:      d.points,
		Stats:           buildStats(d.points),
	}, nil
}

type decoder struct {
	titles map[string]bool
	points []*TestPoint
}

// traverse accumulates the ancestor-title path until it reaches a section
// branch, which switches the walk into point extraction for that subtree
func (d *decoder) traverse(topic *Topic, path []string) {
	title := strings.TrimSpace(topic.Title)
	if title != "" {
		d.titles[title] = true
	}
	current := path
	if title != "" {
		current = append(append([]string{}, path...), title)
	}

	if pointType, ok := sectionPointTypes[title]; ok {
		context := buildContext(current)
		for _, child := range topic.ChildTopics() {
			childTitle := strings.TrimSpace(child.Title)
			if childTitle == "" {
				continue
			}
			priority, cleaned := parsePriority(child, childTitle)
			d.extract(child, pointType, context, cleaned, priority)
		}
		return
	}

	for _, child := range topic.ChildTopics() {
		d.traverse(child, current)
	}
}

// extract classifies one node inside a section subtree by the length of its
// longest titled descendant chain and emits the points it yields. Shapes
// deeper than three levels are dropped without error.
func (d *decoder) extract(node *Topic, pointType, context, title string, priority int) {
	switch depth := chainDepth(node); depth {
	case 0:
		d.emit(node, pointType, context, title, priority)

	case 1:
		for _, child := range node.ChildTopics() {
			childTitle := strings.TrimSpace(child.Title)
			if childTitle == "" {
				continue
			}
			childPriority, cleaned := parsePriority(child, childTitle)
			if childPriority == 0 {
				childPriority = priority
			}
			d.emit(child, pointType, context, title+"-"+cleaned, childPriority)
		}

	case 2:
		titled := titledChildren(node)
		if len(titled) == 1 {
			child := titled[0]
			childPriority, cleaned := parsePriority(child, strings.TrimSpace(child.Title))
			if childPriority == 0 {
				childPriority = priority
			}
			d.extract(child, pointType, context, title+"-"+cleaned, childPriority)
			return
		}
		d.emit(node, pointType, context, title, priority)

	case 3:
		chains, ok := readChains(node)
		if !ok {
			d.emit(node, pointType, context, title, priority)
			return
		}
		for _, chain := range chains {
			chainPriority, cleanedHead := parsePriority(chain.head, chain.precondition)
			if chainPriority == 0 {
				chainPriority = priority
			}
			subtype := DetectSubtype(chain.expected)
			if chain.wrong {
				subtype = SubtypeNegative
			}
			d.points = append(d.points, &TestPoint{
				PointType:       pointType,
				Subtype:         subtype,
				Priority:        chainPriority,
				Text:            buildPointText(context, title+"-"+cleanedHead),
				Context:         context,
				Preconditions:   []string{cleanedHead},
				Steps:           []string{chain.step},
				ExpectedResults: []string{chain.expected},
				ManualCase:      true,
			})
		}

	default:
		// deeper than three levels: malformed authoring, skip silently
	}
}

func (d *decoder) emit(node *Topic, pointType, context, title string, priority int) {
	subtype := DetectSubtype(title)
	if hasWrongMarker(node) {
		subtype = SubtypeNegative
	}
	d.points = append(d.points, &TestPoint{
		PointType: pointType,
		Subtype:   subtype,
		Priority:  priority,
		Text:      buildPointText(context, title),
		Context:   context,
	})
}

// chain is one author-written precondition/step/expected triple
type chain struct {
	head         *Topic
	precondition string
	step         string
	expected     string
	wrong        bool
}

// readChains reads every titled child of node as the head of a strict
// three-level chain. Returns ok=false when any child breaks the shape.
func readChains(node *Topic) ([]chain, bool) {
	var chains []chain
	for _, child := range titledChildren(node) {
		grandchildren := titledChildren(child)
		if len(grandchildren) != 1 {
			return nil, false
		}
		greatGrandchildren := titledChildren(grandchildren[0])
		if len(greatGrandchildren) != 1 || len(titledChildren(greatGrandchildren[0])) != 0 {
			return nil, false
		}
		chains = append(chains, chain{
			head:         child,
			precondition: strings.TrimSpace(child.Title),
			step:         strings.TrimSpace(grandchildren[0].Title),
			expected:     strings.TrimSpace(greatGrandchildren[0].Title),
			wrong:        hasWrongMarker(greatGrandchildren[0]),
		})
	}
	if len(chains) == 0 {
		return nil, false
	}
	return chains, true
}

// chainDepth is the length of the longest pure-title descendant chain;
// untitled children terminate depth early
func chainDepth(node *Topic) int {
	deepest := 0
	for _, child := range node.ChildTopics() {
		if strings.TrimSpace(child.Title) == "" {
			continue
		}
		if d := 1 + chainDepth(child); d > deepest {
			deepest = d
		}
	}
	return deepest
}

func titledChildren(node *Topic) []*Topic {
	var out []*Topic
	for _, child := range node.ChildTopics() {
		if strings.TrimSpace(child.Title) != "" {
			out = append(out, child)
		}
	}
	return out
}

func buildContext(path []string) string {
	var parts []string
	for _, title := range path {
		if title == "" || title == "基础信息" {
			continue
		}
		parts = append(parts, title)
	}
	return strings.TrimSpace(strings.Join(parts, " / "))
}

func buildPointText(context, title string) string {
	if context != "" {
		return context + " - " + title
	}
	return title
}

func splitRootTitle(title string) (documentNumber, requirementName string) {
	if title == "" {
		return "", ""
	}
	if idx := strings.Index(title, "-"); idx >= 0 {
		return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+1:])
	}
	return "", strings.TrimSpace(title)
}

// parsePriority resolves a node's priority: a priority-N marker wins outright,
// otherwise a leading numeral pattern in the title is parsed and stripped.
// Returns 0 and the trimmed title when neither is present.
func parsePriority(node *Topic, title string) (int, string) {
	if p := markerPriority(node); p >= 1 && p <= 3 {
		return p, strings.TrimSpace(title)
	}

	if m := priorityBracketPattern.FindStringSubmatch(title); m != nil {
		return int(m[1][0] - '0'), strings.TrimSpace(priorityBracketPattern.ReplaceAllString(title, ""))
	}
	if m := prioritySimplePattern.FindStringSubmatch(title); m != nil {
		return int(m[1][0] - '0'), strings.TrimSpace(prioritySimplePattern.ReplaceAllString(title, ""))
	}

	trimmed := strings.TrimSpace(title)
	for r, p := range circledPriorities {
		if strings.HasPrefix(trimmed, string(r)) {
			return p, strings.TrimSpace(strings.TrimPrefix(trimmed, string(r)))
		}
	}
	return 0, trimmed
}

func markerPriority(node *Topic) int {
	for _, id := range node.MarkerIDs() {
		if m := priorityMarkerPattern.FindStringSubmatch(id); m != nil {
			return int(m[1][0] - '0')
		}
	}
	return 0
}

func hasWrongMarker(node *Topic) bool {
	for _, id := range node.MarkerIDs() {
		if strings.HasSuffix(id, "wrong") {
			return true
		}
	}
	return false
}

// DetectSubtype scans the text against the positive and negative keyword sets;
// whichever set's match lies furthest right decides. Empty when neither set
// matches.
func DetectSubtype(text string) string {
	lastPos := -1
	subtype := ""
	for _, word := range positiveKeywords {
		if idx := strings.LastIndex(text, word); idx > lastPos {
			lastPos = idx
			subtype = SubtypePositive
		}
	}
	for _, word := range negativeKeywords {
		if idx := strings.LastIndex(text, word); idx > lastPos {
			lastPos = idx
			subtype = SubtypeNegative
		}
	}
	return subtype
}

func extractBasicInfo(root *Topic) map[string]string {
	info := map[string]string{}
	for _, child := range root.ChildTopics() {
		if strings.TrimSpace(child.Title) != "基础信息" {
			continue
		}
		for _, item := range child.ChildTopics() {
			title := strings.TrimSpace(item.Title)
			if title == "" {
				continue
			}
			value := ""
			if idx := strings.Index(title, "："); idx >= 0 {
				value = title[idx+len("："):]
			} else if idx := strings.Index(title, ":"); idx >= 0 {
				value = title[idx+1:]
			}
			value = strings.TrimSpace(value)
			switch {
			case strings.HasPrefix(title, "客户"):
				info["customer"] = value
			case strings.HasPrefix(title, "产品"):
				info["product"] = value
			case strings.HasPrefix(title, "渠道"):
				info["channel"] = value
			case strings.HasPrefix(title, "合作方"):
				info["partner"] = value
			case strings.HasPrefix(title, "设计者"):
				info["designer"] = value
			}
		}
		break
	}
	return info
}

func buildStats(points []*TestPoint) Stats {
	stats := Stats{
		Total:      len(points),
		ByType:     map[string]int{PointTypeProcess: 0, PointTypeRule: 0, PointTypePageControl: 0},
		ByPriority: map[string]int{"1": 0, "2": 0, "3": 0, "unknown": 0},
		BySubtype:  map[string]int{SubtypePositive: 0, SubtypeNegative: 0, "unknown": 0},
	}
	for _, point := range points {
		stats.ByType[point.PointType]++
		switch point.Priority {
		case 1, 2, 3:
			stats.ByPriority[fmt.Sprintf("%d", point.Priority)]++
		default:
			stats.ByPriority["unknown"]++
		}
		switch point.Subtype {
		case SubtypePositive, SubtypeNegative:
			stats.BySubtype[point.Subtype]++
		default:
			stats.BySubtype["unknown"]++
		}
	}
	return stats
}
