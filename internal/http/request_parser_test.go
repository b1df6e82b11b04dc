package http

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"txreport/internal/calendar"
	"txreport/internal/core"
)

func TestParseReportQuery(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		want       core.AggregationRequest
		wantFields []string
	}{
		{
			name:  "amount daily global",
			query: "type=amount&mode=daily",
			want:  core.AggregationRequest{Type: core.ReportAmount, Mode: calendar.Daily},
		},
		{
			name:  "count weekly merchant",
			query: "type=count&mode=weekly&merchantId=65f1c0ffee0000000000abcd",
			want:  core.AggregationRequest{Type: core.ReportCount, Mode: calendar.Weekly, MerchantID: "65f1c0ffee0000000000abcd"},
		},
		{
			name:  "blank merchant is absent",
			query: "type=amount&mode=monthly&merchantId=%20%20",
			want:  core.AggregationRequest{Type: core.ReportAmount, Mode: calendar.Monthly},
		},
		{
			name:  "surrounding whitespace trimmed",
			query: "type=%20count%20&mode=daily%0A",
			want:  core.AggregationRequest{Type: core.ReportCount, Mode: calendar.Daily},
		},
		{
			name:  "unparseable merchant passes through",
			query: "type=amount&mode=daily&merchantId=not-an-id",
			want:  core.AggregationRequest{Type: core.ReportAmount, Mode: calendar.Daily, MerchantID: "not-an-id"},
		},
		{
			name:       "unknown type",
			query:      "type=sum&mode=daily",
			wantFields: []string{"type"},
		},
		{
			name:       "unknown mode",
			query:      "type=amount&mode=yearly",
			wantFields: []string{"mode"},
		},
		{
			name:       "both missing",
			query:      "",
			wantFields: []string{"type", "mode"},
		},
		{
			name:       "case sensitive",
			query:      "type=Amount&mode=DAILY",
			wantFields: []string{"type", "mode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			got, err := ParseReportQuery(values)

			if len(tt.wantFields) > 0 {
				var fields FieldErrors
				if !errors.As(err, &fields) {
					t.Fatalf("expected FieldErrors, got %v", err)
				}
				if len(fields) != len(tt.wantFields) {
					t.Errorf("fields = %v, want %v", fields, tt.wantFields)
				}
				for _, f := range tt.wantFields {
					if _, ok := fields[f]; !ok {
						t.Errorf("missing error for %q in %v", f, fields)
					}
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseReportQuery() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFieldErrorsMessage(t *testing.T) {
	values := url.Values{"type": {"sum"}}
	_, err := ParseReportQuery(values)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "mode: this field is required") {
		t.Errorf("message = %q", msg)
	}
	if !strings.Contains(msg, "type: must be one of: amount count") {
		t.Errorf("message = %q", msg)
	}
	if strings.Index(msg, "mode:") > strings.Index(msg, "type:") {
		t.Errorf("fields should be sorted: %q", msg)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  abc  ", "abc"},
		{"a\x00b\x7f", "ab"},
		{"\t\n", ""},
		{"هفته", "هفته"},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
