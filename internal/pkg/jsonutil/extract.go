package jsonutil

import (
	"strings"
)

const codeFence = "```"

// ExtractObject locates the most likely JSON object inside free-form model
// output. Priority: fenced code block first, then the first balanced
// brace-delimited object anywhere in the text.
func ExtractObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if obj, ok := extractFromFence(raw); ok {
		return obj, true
	}
	return extractBalancedObject(raw)
}

func extractFromFence(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// Drop a language tag on the first line ("json", "JSON", ...).
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	if block == "" {
		return "", false
	}
	if obj, ok := extractBalancedObject(block); ok {
		return obj, true
	}
	return "", false
}

func extractBalancedObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), true
			}
		}
	}
	return "", false
}

// CutSection returns the text between a named markdown-style heading and
// the next heading of the same or higher level. Matching is case-insensitive
// on the heading title.
func CutSection(raw, title string) (string, bool) {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return "", false
	}
	lines := strings.Split(raw, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		heading := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "# ")))
		if start == -1 {
			if strings.Contains(heading, title) {
				start = i + 1
			}
			continue
		}
		return strings.TrimSpace(strings.Join(lines[start:i], "\n")), true
	}
	if start == -1 {
		return "", false
	}
	return strings.TrimSpace(strings.Join(lines[start:], "\n")), true
}
