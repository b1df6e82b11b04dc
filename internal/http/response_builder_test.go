package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"txreport/internal/core"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Payload([]core.ReportPoint{{Key: "1403/01/01", Value: 100}}).
		Write(w)

	if w.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `[{"key":"1403/01/01","value":100}]` {
		t.Errorf("Body = %s", got)
	}
}

func TestJSONResponseBuilder_CustomHeader(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusAccepted).
		Header("X-Custom", "value").
		Payload(map[string]string{"status": "ok"}).
		Write(w)

	if w.Code != http.StatusAccepted {
		t.Errorf("Status code = %d", w.Code)
	}
	if w.Header().Get("X-Custom") != "value" {
		t.Errorf("X-Custom header = %q", w.Header().Get("X-Custom"))
	}
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Payload(make(chan int)).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want 500", w.Code)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		builder *JSONResponseBuilder
		code    int
		message string
	}{
		{"internal", InternalServerError(), http.StatusInternalServerError, "internal server error"},
		{"not found", NotFoundError(), http.StatusNotFound, "not found"},
		{"method", MethodNotAllowedError("GET"), http.StatusMethodNotAllowed, "method not allowed"},
		{"rate limit", TooManyRequestsError(), http.StatusTooManyRequests, "rate limit exceeded"},
		{"validation", ValidationErrorResponse(FieldErrors{"mode": "this field is required"}), http.StatusBadRequest, "invalid query parameters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.code {
				t.Errorf("Status code = %d, want %d", w.Code, tt.code)
			}
			var body ErrorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if body.Error != tt.message {
				t.Errorf("error = %q, want %q", body.Error, tt.message)
			}
		})
	}

	w := httptest.NewRecorder()
	MethodNotAllowedError("GET, HEAD").Write(w)
	if w.Header().Get("Allow") != "GET, HEAD" {
		t.Errorf("Allow header = %q", w.Header().Get("Allow"))
	}
}
