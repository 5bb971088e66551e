// Package parser turns semi-structured log records into typed diagnostic
// records: exception type, message, and ordered stack frames, plus the
// derived search keywords used downstream for commit correlation.
package parser

import (
	"encoding/json"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/opsdrift/triage/internal/types"
)

// fallbackMessage is used when the first exception line has no colon and
// therefore carries no separable message.
const fallbackMessage = "No error message available"

// eventEnvelope is the outer payload shape delivered by the log platform.
// The Raw field is itself a JSON document.
type eventEnvelope struct {
	ServiceName string    `json:"service"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
	Raw         string    `json:"raw"`
}

// rawPayload is the nested log record inside the envelope.
type rawPayload struct {
	Exception       string `json:"exception"`
	MessageTemplate string `json:"message_template"`
	SourceContext   string `json:"source_context"`
}

var (
	// Shape (a): frame with an explicit file path and line number.
	//   at Acme.Billing.PaymentService.Process(Int32 id) in /src/Billing/PaymentService.cs:line 45
	fileFrameRegex = regexp.MustCompile(`^\s*at\s+(.+?)\s+in\s+(.+?):line\s+(\d+)\s*$`)

	// Shape (b): frame with only a qualified method name.
	//   at Acme.Api.UserApi.GetUserById(Int64 id)
	methodFrameRegex = regexp.MustCompile(`^\s*at\s+([\w.<>` + "`" + `\[\]+]+)\s*\(`)

	// Async/lambda state-machine frames carry the real method name inside
	// angle brackets: <GetUserById>d__4.MoveNext
	angleMethodRegex = regexp.MustCompile(`<(\w+)>`)

	bracketTokenRegex = regexp.MustCompile(`\[([A-Z]\w+)\]`)
)

// appCodeSuffixes marks owning type names that look like application code.
// Method-only frames whose type matches none of these are framework noise
// and are dropped.
var appCodeSuffixes = []string{"Api", "Client", "Service", "Provider", "Extensions"}

// noiseNamespacePrefixes excludes runtime and framework frames outright.
var noiseNamespacePrefixes = []string{
	"System.",
	"Microsoft.",
	"Newtonsoft.",
	"Polly.",
	"Azure.",
	"lambda_method",
}

// Parse decodes the nested-JSON envelope and builds a DiagnosticRecord.
// It fails with a MalformedPayloadError when either the envelope or the
// nested raw document cannot be decoded; the error distinguishes which
// decode step failed.
func Parse(data []byte) (*types.DiagnosticRecord, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &types.MalformedPayloadError{Stage: types.PayloadStageEnvelope, Err: err}
	}

	var raw rawPayload
	if err := json.Unmarshal([]byte(env.Raw), &raw); err != nil {
		return nil, &types.MalformedPayloadError{Stage: types.PayloadStageRaw, Err: err}
	}

	exceptionType, errorMessage := splitExceptionHeader(raw.Exception)
	frames := parseStackFrames(raw.Exception)

	record := &types.DiagnosticRecord{
		ServiceName:   env.ServiceName,
		Environment:   env.Environment,
		Timestamp:     env.Timestamp,
		ErrorMessage:  errorMessage,
		ExceptionType: exceptionType,
		StackTrace:    frames,
	}
	record.SearchKeywords = deriveKeywords(record, raw)

	return record, nil
}

// splitExceptionHeader separates the first exception line into a type and
// a message. The type is everything up to the first colon; if no colon
// exists the whole line is the type and the message is a fixed fallback.
func splitExceptionHeader(exception string) (string, string) {
	firstLine := exception
	if idx := strings.IndexByte(exception, '\n'); idx >= 0 {
		firstLine = exception[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)

	idx := strings.IndexByte(firstLine, ':')
	if idx < 0 {
		return firstLine, fallbackMessage
	}

	exceptionType := strings.TrimSpace(firstLine[:idx])
	message := strings.TrimSpace(firstLine[idx+1:])
	message = strings.Trim(message, `"'`)
	if message == "" {
		message = fallbackMessage
	}
	return exceptionType, message
}

// parseStackFrames walks the exception body and collects recognizable
// frames in their original order.
func parseStackFrames(exception string) []types.StackFrame {
	var frames []types.StackFrame

	for _, line := range strings.Split(exception, "\n")[1:] {
		if m := fileFrameRegex.FindStringSubmatch(line); m != nil {
			method := extractMethodName(m[1])
			if method == "" {
				continue
			}
			lineNum, _ := strconv.Atoi(m[3])
			frames = append(frames, types.StackFrame{
				File:   path.Base(strings.ReplaceAll(m[2], `\`, "/")),
				Method: method,
				Line:   lineNum,
			})
			continue
		}

		if m := methodFrameRegex.FindStringSubmatch(line); m != nil {
			qualified := m[1]
			if isNoiseNamespace(qualified) {
				continue
			}
			owner := owningTypeName(qualified)
			if !looksLikeAppCode(owner) {
				continue
			}
			method := extractMethodName(qualified)
			if method == "" {
				continue
			}
			frames = append(frames, types.StackFrame{Method: method})
		}
	}

	return frames
}

// extractMethodName pulls the bare method name from a qualified frame
// name, preferring the name found inside angle-bracket async/lambda
// syntax over the raw framed name.
func extractMethodName(qualified string) string {
	qualified = strings.TrimSpace(qualified)
	if idx := strings.IndexByte(qualified, '('); idx >= 0 {
		qualified = qualified[:idx]
	}

	if m := angleMethodRegex.FindStringSubmatch(qualified); m != nil {
		return m[1]
	}

	segments := strings.Split(qualified, ".")
	name := segments[len(segments)-1]
	// State-machine suffixes like d__4 or MoveNext without a captured
	// angle-bracket name are not useful method names.
	if name == "MoveNext" || strings.HasPrefix(name, "d__") {
		return ""
	}
	return name
}

// owningTypeName returns the type segment that owns the method in a
// qualified frame name, skipping compiler-generated segments.
func owningTypeName(qualified string) string {
	if idx := strings.IndexByte(qualified, '('); idx >= 0 {
		qualified = qualified[:idx]
	}
	segments := strings.Split(qualified, ".")
	// Walk backwards past the method name and generated segments to the
	// first plausible type name.
	for i := len(segments) - 2; i >= 0; i-- {
		seg := segments[i]
		if strings.ContainsAny(seg, "<>`") || strings.HasPrefix(seg, "d__") {
			continue
		}
		return seg
	}
	return ""
}

func looksLikeAppCode(typeName string) bool {
	for _, suffix := range appCodeSuffixes {
		if strings.HasSuffix(typeName, suffix) {
			return true
		}
	}
	return false
}

func isNoiseNamespace(qualified string) bool {
	for _, prefix := range noiseNamespacePrefixes {
		if strings.HasPrefix(qualified, prefix) {
			return true
		}
	}
	return false
}

// deriveKeywords builds the search keyword sets from the parsed frames
// and the structured context fields.
func deriveKeywords(record *types.DiagnosticRecord, raw rawPayload) types.SearchKeywords {
	kw := types.SearchKeywords{
		Files:   []string{},
		Methods: []string{},
		Context: []string{},
	}

	seenFiles := make(map[string]bool)
	seenMethods := make(map[string]bool)
	for _, frame := range record.StackTrace {
		if frame.File != "" && !seenFiles[frame.File] {
			seenFiles[frame.File] = true
			kw.Files = append(kw.Files, frame.File)
		}
		if frame.Method != "" && !seenMethods[frame.Method] {
			seenMethods[frame.Method] = true
			kw.Methods = append(kw.Methods, frame.Method)
		}
	}

	seenContext := make(map[string]bool)
	addContext := func(term string) {
		if term != "" && !seenContext[term] {
			seenContext[term] = true
			kw.Context = append(kw.Context, term)
		}
	}

	addContext(lastSegment(record.ExceptionType))
	addContext(lastSegment(raw.SourceContext))
	if m := bracketTokenRegex.FindStringSubmatch(raw.MessageTemplate); m != nil {
		addContext(m[1])
	}

	return kw
}

func lastSegment(qualified string) string {
	if qualified == "" {
		return ""
	}
	segments := strings.Split(qualified, ".")
	return segments[len(segments)-1]
}
