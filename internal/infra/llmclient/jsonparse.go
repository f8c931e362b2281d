package llmclient

import "encoding/json"

// parseJSONObject implements the defensive parse policy: strict parse first,
// then the largest balanced {...} substring, then give up and return the raw
// text with a nil parsed payload.
func parseJSONObject(content string) (map[string]any, string) {
	var strict map[string]any
	if err := json.Unmarshal([]byte(content), &strict); err == nil {
		return strict, content
	}

	if block, ok := largestBalancedObject(content); ok {
		var fallback map[string]any
		if err := json.Unmarshal([]byte(block), &fallback); err == nil {
			return fallback, content
		}
	}

	return nil, content
}

// largestBalancedObject scans for the longest substring starting at '{' and
// ending at its matching '}', accounting for nested braces and string
// literals so that braces inside quoted strings don't confuse matching.
func largestBalancedObject(s string) (string, bool) {
	best := ""
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if end, ok := matchBrace(s, i); ok {
			candidate := s[i : end+1]
			if len(candidate) > len(best) {
				best = candidate
			}
		}
	}
	return best, best != ""
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
