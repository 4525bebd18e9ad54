package aiclient

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls the first JSON value (object or array) out of a model
// reply. Code fences and surrounding prose are stripped; nested brackets and
// string escaping are tracked so boundaries are found correctly.
func ExtractJSON(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, &MalformedOutputError{Detail: "empty reply"}
	}

	if json.Valid([]byte(trimmed)) && (trimmed[0] == '{' || trimmed[0] == '[') {
		return json.RawMessage(trimmed), nil
	}

	if inner := stripCodeFence(trimmed); inner != "" && json.Valid([]byte(inner)) {
		return json.RawMessage(inner), nil
	}

	for _, candidate := range findJSONCandidates(trimmed) {
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, &MalformedOutputError{Detail: "no JSON value found in reply"}
}

// stripCodeFence returns the body of the first fenced block, or "" when the
// text carries no fence
func stripCodeFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	// drop an optional language tag on the fence line
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}[]") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// findJSONCandidates scans the input for top-level JSON object or array
// candidates. A byte-level state machine tracks nesting depth and string
// escaping; iterating bytes is safe because ASCII delimiters never appear
// inside UTF-8 multi-byte sequences.
func findJSONCandidates(s string) []string {
	var candidates []string
	var depth int
	start := -1
	var inString bool
	var escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		if b == '"' {
			if depth > 0 {
				inString = true
			}
			continue
		}

		switch b {
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}
