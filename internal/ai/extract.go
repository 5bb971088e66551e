package ai

import (
	"context"
	"fmt"

	"github.com/opsdrift/triage/internal/types"
)

const extractSystemPrompt = `You are a log-analysis assistant. You extract structured diagnostic facts from raw error telemetry. Respond with ONLY raw JSON, never markdown code fences.`

// ExtractDiagnostic asks the completion service to parse a raw event
// payload into a DiagnosticRecord. This is a drop-in substitute for the
// deterministic structural parser and produces the identical shape.
// Callers must compose it with the deterministic parser as fallback; any
// failure here returns an error, never a partial record.
func (c *Client) ExtractDiagnostic(ctx context.Context, rawPayload []byte) (*types.DiagnosticRecord, error) {
	userPrompt := fmt.Sprintf(`Extract structured diagnostic facts from this raw error event payload.

RAW PAYLOAD:
%s

OUTPUT FORMAT (JSON only, no markdown):
{
  "service_name": "string",
  "environment": "string",
  "timestamp": "RFC3339 timestamp",
  "error_message": "the exception message without the type prefix",
  "exception_type": "the fully qualified exception type",
  "stack_trace": [
    {"file": "FileName.ext or empty", "method": "MethodName", "line": 0}
  ],
  "search_keywords": {
    "files": ["unique file names from the stack trace"],
    "methods": ["unique method names from the stack trace"],
    "context": ["short context terms: exception class, service names"]
  }
}

RULES:
1. Keep stack frames in their original order.
2. Skip framework/runtime frames (System.*, Microsoft.*); keep application code.
3. For async state-machine frames, use the real method name from the angle brackets.
4. Use 0 for unknown line numbers and "" for unknown files.`, truncateString(string(rawPayload), 8000))

	responseText, err := c.CallAI(ctx, extractSystemPrompt, userPrompt, "diagnostic_extraction", 2000)
	if err != nil {
		return nil, &types.CollaboratorError{Collaborator: "completion service", Err: err}
	}

	result := ParseJSON[types.DiagnosticRecord](responseText, "diagnostic extraction response")
	if !result.Success {
		return nil, &types.CollaboratorError{
			Collaborator: "completion service",
			Err:          fmt.Errorf("unparseable extraction response: %s (response: %s)", result.Error, truncateString(responseText, 200)),
		}
	}

	record := result.Data
	if record.ExceptionType == "" && record.ErrorMessage == "" {
		return nil, &types.CollaboratorError{
			Collaborator: "completion service",
			Err:          fmt.Errorf("extraction response missing exception type and message"),
		}
	}

	return &record, nil
}
