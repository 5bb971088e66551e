package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Resilient JSON handling for completion output. Models occasionally wrap
// JSON in markdown fences, leave trailing commas, or mix prose around the
// payload; parsing tries a sequence of cleanup strategies before failing.

// maxParseInput caps input size to prevent memory issues on runaway output.
const maxParseInput = 10 * 1024 * 1024

var (
	codeFenceRegex     = regexp.MustCompile("(?s)`{3}(?:json|javascript|js)?\\s*\n?([\\s\\S]*?)\n?`{3}")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	lineCommentRegex   = regexp.MustCompile(`(?m)//.*$`)
	blockCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	jsonObjectRegex    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	jsonArrayRegex     = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// ParseResult is the outcome of a resilient JSON parse. Result-style so
// failed parses carry detail without panics or sentinel errors.
type ParseResult[T any] struct {
	Success bool
	Data    T
	Error   string
}

// ParseJSON parses completion output into T, trying in order: a direct
// parse, fence removal, cleanup of common JSON defects, and extraction of
// a JSON document from mixed content. The context string labels error
// messages.
func ParseJSON[T any](text, context string) ParseResult[T] {
	if len(text) > maxParseInput {
		return parseFailure[T](context, fmt.Sprintf("input exceeds size limit (%d bytes)", len(text)))
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return parseFailure[T](context, "empty input")
	}

	if data, err := tryUnmarshal[T](trimmed); err == nil {
		return ParseResult[T]{Success: true, Data: data}
	} else {
		slog.Debug("direct JSON parse failed, trying cleanup strategies",
			"error", err.Error(),
			"context", context,
			"preview", truncateString(trimmed, 100))
	}

	withoutFences := stripCodeFences(trimmed)
	if withoutFences != trimmed {
		if data, err := tryUnmarshal[T](withoutFences); err == nil {
			return ParseResult[T]{Success: true, Data: data}
		}
	}

	cleaned := cleanupJSON(withoutFences)
	if data, err := tryUnmarshal[T](cleaned); err == nil {
		return ParseResult[T]{Success: true, Data: data}
	}

	for _, extracted := range extractJSONCandidates(cleaned) {
		if data, err := tryUnmarshal[T](extracted); err == nil {
			return ParseResult[T]{Success: true, Data: data}
		}
	}

	return parseFailure[T](context, "all JSON parsing strategies failed")
}

func tryUnmarshal[T any](text string) (T, error) {
	var result T
	err := json.Unmarshal([]byte(text), &result)
	return result, err
}

// stripCodeFences removes markdown code fences wherever they appear, and
// single backticks wrapping the entire content.
func stripCodeFences(text string) string {
	cleaned := codeFenceRegex.ReplaceAllString(text, "$1")
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.Trim(cleaned, "`")
	}
	return strings.TrimSpace(cleaned)
}

// cleanupJSON fixes trailing commas and strips comments. Single quotes
// are left alone: converting them would break valid JSON containing
// apostrophes.
func cleanupJSON(text string) string {
	cleaned := trailingCommaRegex.ReplaceAllString(text, "$1")
	cleaned = lineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = blockCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractJSONCandidates pulls possible JSON documents out of mixed
// content. When the text itself starts with a bracket that type wins
// outright, so an object embedded in an array is not extracted on its
// own; otherwise both the object-shaped and array-shaped matches are
// offered for the caller to try in order.
func extractJSONCandidates(text string) []string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return []string{jsonArrayRegex.FindString(text)}
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return []string{jsonObjectRegex.FindString(text)}
	}

	var candidates []string
	if match := jsonArrayRegex.FindString(text); match != "" {
		candidates = append(candidates, match)
	}
	if match := jsonObjectRegex.FindString(text); match != "" {
		candidates = append(candidates, match)
	}
	return candidates
}

func parseFailure[T any](context, message string) ParseResult[T] {
	var zero T
	if context != "" {
		message = context + ": " + message
	}
	return ParseResult[T]{Success: false, Data: zero, Error: message}
}
