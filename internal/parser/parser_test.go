package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdrift/triage/internal/types"
)

func envelope(t *testing.T, exception, template, sourceContext string) []byte {
	t.Helper()

	raw, err := json.Marshal(map[string]string{
		"exception":        exception,
		"message_template": template,
		"source_context":   sourceContext,
	})
	require.NoError(t, err)

	outer, err := json.Marshal(map[string]any{
		"service":     "billing-api",
		"environment": "production",
		"timestamp":   "2024-03-15T10:32:05Z",
		"raw":         string(raw),
	})
	require.NoError(t, err)
	return outer
}

func TestParseRoundTrip(t *testing.T) {
	exception := "System.NullReferenceException: Object reference not set to an instance of an object.\n" +
		"   at Acme.Billing.PaymentService.Process(Int32 id) in /src/Billing/PaymentService.cs:line 45"

	record, err := Parse(envelope(t, exception, "", ""))
	require.NoError(t, err)

	assert.Equal(t, "System.NullReferenceException", record.ExceptionType)
	assert.Equal(t, "Object reference not set to an instance of an object.", record.ErrorMessage)
	require.Len(t, record.StackTrace, 1)
	assert.Equal(t, types.StackFrame{File: "PaymentService.cs", Method: "Process", Line: 45}, record.StackTrace[0])
	assert.Equal(t, []string{"PaymentService.cs"}, record.SearchKeywords.Files)
	assert.Equal(t, []string{"Process"}, record.SearchKeywords.Methods)
}

func TestParseEnvelopeFields(t *testing.T) {
	record, err := Parse(envelope(t, "TimeoutException: deadline exceeded", "", ""))
	require.NoError(t, err)

	assert.Equal(t, "billing-api", record.ServiceName)
	assert.Equal(t, "production", record.Environment)
	assert.Equal(t, 2024, record.Timestamp.Year())
}

func TestParseMalformedPayloads(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantStage types.PayloadStage
	}{
		{
			name:      "unparseable envelope",
			payload:   "not json at all",
			wantStage: types.PayloadStageEnvelope,
		},
		{
			name:      "unparseable raw field",
			payload:   `{"service":"s","raw":"{{{"}`,
			wantStage: types.PayloadStageRaw,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.payload))
			require.Error(t, err)

			var mpe *types.MalformedPayloadError
			require.ErrorAs(t, err, &mpe)
			assert.Equal(t, tt.wantStage, mpe.Stage)
		})
	}
}

func TestParseHeaderWithoutColon(t *testing.T) {
	record, err := Parse(envelope(t, "StackOverflowException", "", ""))
	require.NoError(t, err)

	assert.Equal(t, "StackOverflowException", record.ExceptionType)
	assert.Equal(t, "No error message available", record.ErrorMessage)
}

func TestParseFiltersFrameworkFrames(t *testing.T) {
	exception := "System.InvalidOperationException: sequence contains no elements\n" +
		"   at System.Linq.Enumerable.First[TSource](IEnumerable`1 source)\n" +
		"   at Microsoft.AspNetCore.Mvc.Infrastructure.ActionMethodExecutor.Execute(Object target)\n" +
		"   at Acme.Api.UserApi.GetUserById(Int64 id)\n" +
		"   at Acme.Internal.Helpers.Shuffle(List`1 items)"

	record, err := Parse(envelope(t, exception, "", ""))
	require.NoError(t, err)

	// Only the application-code frame survives: System/Microsoft prefixes
	// are denylisted, and Helpers has no application-code suffix.
	require.Len(t, record.StackTrace, 1)
	assert.Equal(t, "GetUserById", record.StackTrace[0].Method)
	assert.Equal(t, 0, record.StackTrace[0].Line)
}

func TestParseAsyncFramePrefersAngleBracketName(t *testing.T) {
	exception := "System.Net.Http.HttpRequestException: connection refused\n" +
		"   at Acme.Api.OrderApi.<SubmitOrderAsync>d__7.MoveNext() in /src/Api/OrderApi.cs:line 112"

	record, err := Parse(envelope(t, exception, "", ""))
	require.NoError(t, err)

	require.Len(t, record.StackTrace, 1)
	assert.Equal(t, "SubmitOrderAsync", record.StackTrace[0].Method)
	assert.Equal(t, "OrderApi.cs", record.StackTrace[0].File)
	assert.Equal(t, 112, record.StackTrace[0].Line)
}

func TestParseContextKeywords(t *testing.T) {
	exception := "Acme.Billing.PaymentDeclinedException: card declined"

	record, err := Parse(envelope(t, exception, "[PaymentService] declined for {OrderId}", "Acme.Billing.PaymentService"))
	require.NoError(t, err)

	assert.Equal(t, []string{"PaymentDeclinedException", "PaymentService"}, record.SearchKeywords.Context)
}

func TestParseDeduplicatesKeywords(t *testing.T) {
	exception := "TimeoutException: deadline exceeded\n" +
		"   at Acme.Data.RepoService.Query(String sql) in /src/Data/RepoService.cs:line 10\n" +
		"   at Acme.Data.RepoService.Query(String sql) in /src/Data/RepoService.cs:line 10\n" +
		"   at Acme.Data.RepoService.Retry(String sql) in /src/Data/RepoService.cs:line 31"

	record, err := Parse(envelope(t, exception, "", ""))
	require.NoError(t, err)

	assert.Equal(t, []string{"RepoService.cs"}, record.SearchKeywords.Files)
	assert.Equal(t, []string{"Query", "Retry"}, record.SearchKeywords.Methods)
}
