package planner

import "strings"

// Repair normalises LLM output that should contain a JSON plan. It strips
// markdown code fences, trims whitespace and closes dangling braces or
// brackets left by truncated streams. Content that does not look like JSON is
// returned unchanged; actual parsing happens in Validate.
func Repair(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return content
	}

	jsonLike := strings.HasPrefix(content, "{") ||
		strings.HasPrefix(content, "[") ||
		strings.Contains(content, "```json") ||
		strings.Contains(content, "```ts")
	if !jsonLike {
		return content
	}

	content = stripCodeFence(content)
	return closeDangling(content)
}

func stripCodeFence(content string) string {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+len("```json"):]
	} else if idx := strings.Index(content, "```ts"); idx >= 0 {
		content = content[idx+len("```ts"):]
	}
	if idx := strings.LastIndex(content, "```"); idx >= 0 {
		content = content[:idx]
	}
	return strings.TrimSpace(content)
}

// closeDangling appends the closers for any unbalanced braces or brackets.
// It is deliberately conservative: it never removes content, only appends,
// and it respects string literals and escapes while scanning.
func closeDangling(content string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(content); i++ {
		c := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		content += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			content += "}"
		} else {
			content += "]"
		}
	}
	return content
}
