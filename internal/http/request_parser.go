package http

import (
	"errors"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"txreport/internal/calendar"
	"txreport/internal/core"
)

// ReportQuery holds the query parameters of a transaction report request.
type ReportQuery struct {
	Type       string `query:"type" validate:"required,oneof=amount count"`
	Mode       string `query:"mode" validate:"required,oneof=daily weekly monthly"`
	MerchantID string `query:"merchantId"`
}

// FieldErrors maps a query parameter to the reason it was rejected.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for field, msg := range fe {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "invalid query: " + strings.Join(parts, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func queryValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			return f.Tag.Get("query")
		})
	})
	return validate
}

// ParseReportQuery reads and validates the report parameters. Surrounding
// whitespace is ignored and a blank merchantId means no merchant. The
// merchant is not checked here: an ID the store cannot parse yields an
// empty report.
func ParseReportQuery(values url.Values) (core.AggregationRequest, error) {
	q := ReportQuery{
		Type:       sanitizeInput(values.Get("type")),
		Mode:       sanitizeInput(values.Get("mode")),
		MerchantID: sanitizeInput(values.Get("merchantId")),
	}

	if err := queryValidator().Struct(q); err != nil {
		return core.AggregationRequest{}, processValidationErrors(err)
	}

	return core.AggregationRequest{
		Type:       core.ReportType(q.Type),
		Mode:       calendar.PeriodType(q.Mode),
		MerchantID: q.MerchantID,
	}, nil
}

func processValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	out := make(FieldErrors, len(validationErrors))
	for _, ve := range validationErrors {
		out[ve.Field()] = describe(ve)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is not a valid value"
	}
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
