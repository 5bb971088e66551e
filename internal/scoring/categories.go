package scoring

import "regexp"

// Category is the error-class tag inferred from an error's message and
// exception type. Classification drives which contextual keywords count
// toward a commit's score.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryNullReference  Category = "null-reference"
	CategoryConnection     Category = "connection"
	CategoryValidation     Category = "validation"
	CategoryGeneral        Category = "general"
)

// categoryRules is an ordered list of (predicate, tag) pairs evaluated in
// fixed order; the first match wins.
var categoryRules = []struct {
	pattern  *regexp.Regexp
	category Category
}{
	{regexp.MustCompile(`(?i)auth|token|unauthorized|forbidden|credential|signin|login`), CategoryAuthentication},
	{regexp.MustCompile(`(?i)null\s*reference|nullpointer|null|nil pointer`), CategoryNullReference},
	{regexp.MustCompile(`(?i)connection|timeout|refused|socket|network|unreachable|dial`), CategoryConnection},
	{regexp.MustCompile(`(?i)validation|invalid|malformed|bad request|out of range`), CategoryValidation},
}

// contextualKeywords maps each category to the fixed keyword list whose
// literal presence in a commit's text earns a contextual bonus.
var contextualKeywords = map[Category][]string{
	CategoryAuthentication: {"auth", "token", "oauth", "claims", "signin", "jwt", "session"},
	CategoryNullReference:  {"null", "nil", "optional", "guard", "check", "default"},
	CategoryConnection:     {"connection", "retry", "timeout", "pool", "socket", "keepalive"},
	CategoryValidation:     {"validation", "validator", "schema", "input", "sanitize"},
	CategoryGeneral:        {},
}

// Classify tags the error context with a category. Pure function over the
// combined message and exception type; returns CategoryGeneral when no
// rule matches.
func Classify(errCtx ErrorContext) Category {
	text := errCtx.ExceptionType + " " + errCtx.Message
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(text) {
			return rule.category
		}
	}
	return CategoryGeneral
}
