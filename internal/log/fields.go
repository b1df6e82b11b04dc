package log

import "sort"

// Field names shared by every component.
const (
	FieldComponent  = "component"
	FieldOperation  = "operation"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldError      = "error"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldUserAgent  = "user_agent"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"

	// report queries
	FieldReportType = "report_type"
	FieldMode       = "mode"
	FieldMerchantID = "merchant_id"
	FieldPoints     = "points"

	// rebuilds
	FieldRows = "rows"
)

// Component names, one per binary or subsystem.
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentReport  = "report"
	ComponentBuilder = "summary_builder"
	ComponentWorker  = "worker"
	ComponentBackend = "backend"
	ComponentAMQP    = "amqp"
)

// Operation names.
const (
	OpRead    = "read"
	OpRebuild = "rebuild"
	OpConsume = "consume"
)

// LogFields collects attributes for one log line.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID is a no-op for an empty ID.
func (f LogFields) WithRequestID(requestID string) LogFields {
	if requestID != "" {
		f[FieldRequestID] = requestID
	}
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithReport adds the fields of a report query. The merchant is omitted for
// the global series.
func (f LogFields) WithReport(reportType, mode, merchantID string) LogFields {
	f[FieldReportType] = reportType
	f[FieldMode] = mode
	if merchantID != "" {
		f[FieldMerchantID] = merchantID
	}
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice flattens f into slog key/value arguments, sorted by key.
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(f)*2)
	for _, k := range keys {
		args = append(args, k, f[k])
	}
	return args
}
