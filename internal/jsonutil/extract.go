// Package jsonutil provides JSON extraction utilities for parsing LLM output.
//
// Models often wrap their JSON directives in prose or markdown code fences.
// This package finds the embedded object so the caller can decode it.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractObject finds and returns the first JSON object embedded in a model
// response. It handles the common patterns:
//  1. Pure JSON response - returned as-is
//  2. JSON wrapped in markdown code fences (```json ... ```)
//  3. JSON object embedded in surrounding prose
//
// Objects nested inside the outer object are left intact; brace matching is
// depth-aware and skips braces inside string literals.
func ExtractObject(response string) (string, error) {
	response = StripCodeFences(response)

	// Try the whole response first.
	trimmed := strings.TrimSpace(response)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object in response: %q", preview(response))
	}

	end, ok := matchBrace(response, start)
	if !ok {
		return "", fmt.Errorf("unbalanced JSON object in response: %q", preview(response))
	}

	candidate := response[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("invalid JSON object in response: %q", preview(candidate))
	}
	return candidate, nil
}

// CountObjects returns how many top-level JSON objects appear in the response.
// Used to reject ambiguous turns that carry more than one directive.
func CountObjects(response string) int {
	response = StripCodeFences(response)
	count := 0
	for i := 0; i < len(response); {
		if response[i] != '{' {
			i++
			continue
		}
		end, ok := matchBrace(response, i)
		if !ok {
			break
		}
		if json.Valid([]byte(response[i : end+1])) {
			count++
			i = end + 1
			continue
		}
		i++
	}
	return count
}

// StripCodeFences removes markdown code fence markers from a response.
// Handles ```json\n...\n``` and plain ```...``` blocks.
func StripCodeFences(response string) string {
	trimmed := strings.TrimSpace(response)

	if idx := strings.Index(trimmed, "```"); idx != -1 {
		rest := trimmed[idx+3:]
		// Drop a language tag on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			tag := strings.TrimSpace(rest[:nl])
			if tag == "" || isLanguageTag(tag) {
				rest = rest[nl+1:]
			}
		}
		if closing := strings.Index(rest, "```"); closing != -1 {
			body := strings.TrimSpace(rest[:closing])
			// Keep any prose around the fence so directive counting still
			// sees stray objects outside the block.
			before := strings.TrimSpace(trimmed[:idx])
			after := strings.TrimSpace(rest[closing+3:])
			return strings.TrimSpace(strings.Join([]string{before, body, after}, "\n"))
		}
	}

	return trimmed
}

// matchBrace returns the index of the brace closing the object opened at
// start, skipping braces inside string literals.
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

func isLanguageTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "json", "javascript", "js", "text":
		return true
	}
	return false
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}
