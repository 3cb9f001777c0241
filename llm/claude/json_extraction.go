package claude

import (
	"encoding/json"
	"regexp"
	"strings"
)

var codeBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSONFromResponse cleans response text to extract the JSON payload.
// Claude wraps JSON in markdown code fences even when the system prompt asks
// for bare JSON, and sometimes prefixes it with prose.
//
// This is a heuristic scanner, not a full JSON parser. It tracks string
// literals and escape sequences well enough for typical model output; deeply
// unusual formatting may defeat it, in which case the original text is
// returned unchanged.
func extractJSONFromResponse(text string) string {
	text = strings.TrimSpace(text)

	if matches := codeBlockRegex.FindStringSubmatch(text); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	firstBrace := strings.Index(text, "{")
	firstBracket := strings.Index(text, "[")
	if firstBrace == -1 && firstBracket == -1 {
		return text
	}

	var start int
	var closing rune
	if firstBracket == -1 || (firstBrace != -1 && firstBrace < firstBracket) {
		start = firstBrace
		closing = '}'
	} else {
		start = firstBracket
		closing = ']'
	}

	depth := 0
	inString := false
	i := start

	for i < len(text) {
		char := rune(text[i])

		if inString {
			if char == '\\' {
				i += 2
				continue
			}
			if char == '"' {
				inString = false
			}
		} else {
			switch char {
			case '"':
				inString = true
			case '{':
				if closing == '}' {
					depth++
				}
			case '}':
				if closing == '}' {
					depth--
					if depth == 0 {
						candidate := text[start : i+1]
						if isValidJSON(candidate) {
							return candidate
						}
					}
				}
			case '[':
				if closing == ']' {
					depth++
				}
			case ']':
				if closing == ']' {
					depth--
					if depth == 0 {
						candidate := text[start : i+1]
						if isValidJSON(candidate) {
							return candidate
						}
					}
				}
			}
		}
		i++
	}

	// Unbalanced braces or an unclosed string means the payload is likely a
	// truncated streaming fragment; leave it alone.
	if depth > 0 || inString {
		return text
	}

	return text[start:]
}

func isValidJSON(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return false
	}
	if (text[0] == '{' && text[len(text)-1] == '}') ||
		(text[0] == '[' && text[len(text)-1] == ']') {
		var tmp any
		return json.Unmarshal([]byte(text), &tmp) == nil
	}
	return false
}
