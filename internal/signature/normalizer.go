// Package signature canonicalizes raw error messages into stable grouping
// keys. Two messages that differ only in instance-specific data (ids,
// timestamps, addresses) collapse to the same signature.
package signature

import (
	"regexp"
	"strings"
)

// UnknownSignature is returned for empty input. Normalize never fails.
const UnknownSignature = "UNKNOWN_ERROR"

// Pre-compiled substitution pipeline. Order matters: later rules operate
// on the output of earlier ones, so the sequence is a fixed pipeline, not
// a commutative set. Compiling per call would be ~15x slower.
var (
	guidRegex = regexp.MustCompile(`\{[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\}`)
	uuidRegex = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)

	isoTimestampRegex    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?\b`)
	isoDateRegex         = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	localeDateRegex      = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	epochTimestampRegex  = regexp.MustCompile(`\b\d{10,13}\b`)

	// Labeled correlation-style identifiers. The value must contain at
	// least one digit so placeholders never re-match on a second pass.
	labeledIDRegex = regexp.MustCompile(`(?i)\b(correlation|transaction|session|request|trace)[-_ ]?id[:=\s]+[A-Za-z0-9-]*\d[A-Za-z0-9-]*`)

	ipv4Regex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	ipv6FullRegex = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`)
	ipv6ZeroRegex = regexp.MustCompile(`\b[0-9a-fA-F]{1,4}(?::[0-9a-fA-F]{1,4}){0,5}::(?:[0-9a-fA-F]{1,4}(?::[0-9a-fA-F]{1,4}){0,5})?\b`)

	memoryAddressRegex = regexp.MustCompile(`\b0[xX][0-9a-fA-F]+\b`)

	tempPathRegex = regexp.MustCompile(`(?i)(?:[A-Za-z]:[\\/]|/)?\b(?:tmp|temp)[\\/][^\s"']+`)

	entityIDRegex  = regexp.MustCompile(`(?i)\b(?:user|account|customer|order|tenant)[-_ ]?id[:=\s]+\d+`)
	numericIDRegex = regexp.MustCompile(`(?i)\bid[:=\s]+\d+`)

	portRegex = regexp.MustCompile(`:\d{2,5}\)?`)

	largeNumberRegex = regexp.MustCompile(`\b\d{6,}\b`)

	templateVarRegex = regexp.MustCompile(`\$\{[^}]*\}|%[^%\s]+%`)

	parenLineRegex = regexp.MustCompile(`:\d+\)`)
	wordLineRegex  = regexp.MustCompile(`(?i)\bline\s+\d+\b`)

	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Normalize converts a raw error message into a stable, case-insensitive
// grouping key. The function is total and idempotent: it never fails, and
// Normalize(Normalize(x)) == Normalize(x) for all x.
func Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return UnknownSignature
	}

	s := raw

	// 1. UUID/GUID patterns
	s = guidRegex.ReplaceAllString(s, "GUID")
	s = uuidRegex.ReplaceAllString(s, "UUID")

	// 2. Timestamps: ISO-8601, locale dates, epoch seconds/millis
	s = isoTimestampRegex.ReplaceAllString(s, "TIMESTAMP")
	s = isoDateRegex.ReplaceAllString(s, "TIMESTAMP")
	s = localeDateRegex.ReplaceAllString(s, "TIMESTAMP")
	s = epochTimestampRegex.ReplaceAllString(s, "TIMESTAMP")

	// 3. Labeled correlation/transaction/session/request identifiers,
	// replaced with a class placeholder per label family.
	s = labeledIDRegex.ReplaceAllStringFunc(s, func(match string) string {
		label := strings.ToUpper(labeledIDRegex.FindStringSubmatch(match)[1])
		return label + "_ID"
	})

	// 4. IP literals
	s = ipv4Regex.ReplaceAllString(s, "IP_ADDRESS")
	s = ipv6FullRegex.ReplaceAllString(s, "IPV6_ADDRESS")
	s = ipv6ZeroRegex.ReplaceAllString(s, "IPV6_ADDRESS")

	// 5. Hex memory addresses
	s = memoryAddressRegex.ReplaceAllString(s, "MEMORY_ADDRESS")

	// 6. Dynamic temp-file paths
	s = tempPathRegex.ReplaceAllString(s, "TEMP_PATH")

	// 7. Labeled numeric entity ids, then the generic id fallback
	s = entityIDRegex.ReplaceAllString(s, "ENTITY_ID")
	s = numericIDRegex.ReplaceAllString(s, "NUMERIC_ID")

	// 8. Port suffixes. A trailing ")" means it is a stack-trace line
	// marker, which rule 11 owns.
	s = portRegex.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasSuffix(match, ")") {
			return match
		}
		return ":PORT"
	})

	// 9. Catch-all large numbers
	s = largeNumberRegex.ReplaceAllString(s, "LARGE_NUMBER")

	// 10. Template-variable syntax
	s = templateVarRegex.ReplaceAllString(s, "VARIABLE")

	// 11. Stack-trace line markers
	s = parenLineRegex.ReplaceAllString(s, ":LINE)")
	s = wordLineRegex.ReplaceAllString(s, "LINE")

	// 12. Collapse whitespace, trim, upper-case
	s = whitespaceRegex.ReplaceAllString(s, " ")
	s = strings.ToUpper(strings.TrimSpace(s))

	if s == "" {
		return UnknownSignature
	}
	return s
}
