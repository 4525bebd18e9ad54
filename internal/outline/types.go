package outline

// Point types extracted from the outline tree
const (
	PointTypeProcess     = "process"
	PointTypeRule        = "rule"
	PointTypePageControl = "page_control"
)

// Subtypes inferred from point text or markers
const (
	SubtypePositive = "positive"
	SubtypeNegative = "negative"
)

// Section branch titles attached under every leaf node, in fixed order
const (
	SectionProcess     = "业务流程"
	SectionRule        = "业务规则"
	SectionPageControl = "页面控制"
	SectionValidation  = "数据验证"
)

// Document types
const (
	DocTypeModeling    = "modeling"
	DocTypeNonModeling = "non_modeling"
)

// TestPoint is one flat, typed fact to verify, reconstructed from the tree.
// Subtype and Priority may be back-filled later by metadata generation; the
// rest is immutable after decode.
type TestPoint struct {
	PointID         string   `json:"point_id"`
	PointType       string   `json:"point_type"`
	Subtype         string   `json:"subtype,omitempty"`
	Priority        int      `json:"priority,omitempty"` // 1..3, 0 = unset
	Text            string   `json:"text"`
	Context         string   `json:"context,omitempty"`
	Preconditions   []string `json:"preconditions,omitempty"`
	Steps           []string `json:"steps,omitempty"`
	ExpectedResults []string `json:"expected_results,omitempty"`
	ManualCase      bool     `json:"manual_case,omitempty"`
}

// TestCase is one executable case produced for a test point
type TestCase struct {
	CaseID          string   `json:"case_id"`
	PointID         string   `json:"point_id"`
	PointType       string   `json:"point_type"`
	Subtype         string   `json:"subtype,omitempty"`
	Priority        int      `json:"priority,omitempty"`
	Text            string   `json:"text"`
	Context         string   `json:"context,omitempty"`
	Preconditions   []string `json:"preconditions"`
	Steps           []string `json:"steps"`
	ExpectedResults []string `json:"expected_results"`
}

// Stats aggregates decode results for display
type Stats struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	ByPriority map[string]int `json:"by_priority"`
	BySubtype  map[string]int `json:"by_subtype"`
}

// ParsedOutlineDocument is the decode result for one outline container
type ParsedOutlineDocument struct {
	ParseID         string      `json:"parse_id"`
	RequirementName string      `json:"requirement_name"`
	DocumentType    string      `json:"document_type"`
	DocumentNumber  string      `json:"document_number,omitempty"`
	Customer        string      `json:"customer,omitempty"`
	Product         string      `json:"product,omitempty"`
	Channel         string      `json:"channel,omitempty"`
	Partner         string      `json:"partner,omitempty"`
	Designer        string      `json:"designer,omitempty"`
	TestPoints      []*TestPoint `json:"test_points"`
	Stats           Stats       `json:"stats"`
}

// RequirementInfo holds the basic-info block of a modeling document
type RequirementInfo struct {
	CaseName string `json:"case_name,omitempty"`
	Customer string `json:"customer,omitempty"`
	Product  string `json:"product,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Partner  string `json:"partner,omitempty"`
}

// InputElement is one input field of a step or function
type InputElement struct {
	Index       int    `json:"index,omitempty"`
	FieldName   string `json:"field_name"`
	Required    string `json:"required,omitempty"` // 是 / 否
	FieldFormat string `json:"field_format,omitempty"`
	InputLimit  string `json:"input_limit,omitempty"`
	Description string `json:"description,omitempty"`
}

// OutputElement is one output field of a step or function
type OutputElement struct {
	Index       int    `json:"index,omitempty"`
	FieldName   string `json:"field_name"`
	FieldType   string `json:"field_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// StepInfo is the leaf level of a modeling hierarchy
type StepInfo struct {
	Name           string          `json:"name"`
	InputElements  []*InputElement  `json:"input_elements,omitempty"`
	OutputElements []*OutputElement `json:"output_elements,omitempty"`
}

// TaskInfo groups steps under a component
type TaskInfo struct {
	Name  string      `json:"name"`
	Steps []*StepInfo `json:"steps,omitempty"`
}

// ComponentInfo groups tasks under an activity
type ComponentInfo struct {
	Name  string      `json:"name"`
	Tasks []*TaskInfo `json:"tasks,omitempty"`
}

// ActivityInfo is the top level of a modeling hierarchy
type ActivityInfo struct {
	Name       string           `json:"name"`
	Components []*ComponentInfo `json:"components,omitempty"`
}

// FunctionInfo is the single hierarchy level of a non-modeling document
type FunctionInfo struct {
	Name           string           `json:"name"`
	InputElements  []*InputElement  `json:"input_elements,omitempty"`
	OutputElements []*OutputElement `json:"output_elements,omitempty"`
}

// RequirementDocument is the typed hierarchy handed to the encoder by the
// upstream document extractor
type RequirementDocument struct {
	DocumentType    string           `json:"document_type"`
	RequirementName string           `json:"requirement_name,omitempty"`
	FileNumber      string           `json:"file_number,omitempty"`
	Version         string           `json:"version,omitempty"`
	Designer        string           `json:"designer,omitempty"`
	RequirementInfo *RequirementInfo `json:"requirement_info,omitempty"`
	Activities      []*ActivityInfo  `json:"activities,omitempty"`
	Functions       []*FunctionInfo  `json:"functions,omitempty"`
}
