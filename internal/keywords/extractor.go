// Package keywords derives candidate search terms from free-text error
// descriptions: identifiers, file names, database objects, endpoints, and
// a fixed vocabulary of error-category terms.
package keywords

import (
	"regexp"
	"sort"
	"strings"
)

// Set is an unordered, deduplicated collection of keywords.
type Set map[string]bool

// Sorted returns the keywords in lexical order, for deterministic
// iteration in scoring and reasoning output.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether the set holds kw.
func (s Set) Contains(kw string) bool { return s[kw] }

var (
	dottedPathRegex = regexp.MustCompile(`\b[A-Za-z_]\w*(?:\.[A-Za-z_]\w*)+\b`)

	sourceFileRegex = regexp.MustCompile(`\b([\w-]+)\.(cs|go|java|py|js|ts|tsx|rb|cpp|kt|sql)\b`)

	camelCaseRegex  = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-z0-9]*)+\b`)
	pascalCaseRegex = regexp.MustCompile(`\b(?:[A-Z][a-z0-9]+){2,}\b`)

	dbObjectRegex = regexp.MustCompile(`(?i)\b(?:table|column|index|constraint|view|procedure|schema)\s+['"]?([\w.]+)['"]?`)

	urlRegex = regexp.MustCompile(`(?:https?://[^\s"']+|(?:/[A-Za-z_][\w-]*){2,})`)
)

// errorTerms is the fixed vocabulary of generic error-category terms,
// included only when literally present in the text.
var errorTerms = []string{
	"null", "timeout", "authentication", "authorization", "denied",
	"unauthorized", "forbidden", "connection", "deadlock", "overflow",
	"validation", "permission", "expired", "refused", "unavailable",
}

// stopWords are dropped from the final keyword set.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "was": true, "has": true, "have": true,
	"not": true, "are": true, "but": true, "all": true, "can": true,
	"when": true, "while": true, "into": true, "after": true, "before": true,
	"error": true, "failed": true, "failure": true, "exception": true,
}

// Extract derives the candidate search-term set from free text. Each
// pattern pass runs independently over the same input; results are
// post-filtered to drop short tokens and stop words.
func Extract(text string) Set {
	set := make(Set)
	add := func(kw string) {
		kw = strings.TrimSpace(kw)
		if len(kw) <= 2 {
			return
		}
		if stopWords[strings.ToLower(kw)] {
			return
		}
		set[kw] = true
	}

	// Dotted class/method paths, plus their last two segments.
	for _, match := range dottedPathRegex.FindAllString(text, -1) {
		add(match)
		segments := strings.Split(match, ".")
		for _, seg := range segments[max(0, len(segments)-2):] {
			add(seg)
		}
	}

	// Source file names, with and without extension.
	for _, m := range sourceFileRegex.FindAllStringSubmatch(text, -1) {
		add(m[0])
		add(m[1])
	}

	// camelCase and PascalCase identifiers.
	for _, match := range camelCaseRegex.FindAllString(text, -1) {
		add(match)
	}
	for _, match := range pascalCaseRegex.FindAllString(text, -1) {
		add(match)
	}

	// Database-object-looking phrases.
	for _, m := range dbObjectRegex.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	// Generic error terms, only when literally present.
	lower := strings.ToLower(text)
	for _, term := range errorTerms {
		if strings.Contains(lower, term) {
			set[term] = true
		}
	}

	// URL/endpoint-shaped substrings and their path segments.
	for _, match := range urlRegex.FindAllString(text, -1) {
		add(match)
		trimmed := match
		if idx := strings.Index(trimmed, "://"); idx >= 0 {
			trimmed = trimmed[idx+3:]
		}
		for _, seg := range strings.Split(trimmed, "/") {
			add(strings.Trim(seg, "?&="))
		}
	}

	return set
}
