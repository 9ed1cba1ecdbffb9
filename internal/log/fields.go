package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldQuery        = "query"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldErrorKind    = "error_kind"
	FieldOperation    = "operation"
	FieldUserID       = "user_id"
	FieldSession      = "session"
	FieldCategory     = "category"
	FieldAmount       = "amount"
	FieldSource       = "source"
	FieldRefreshToken = "refresh_token"
	FieldGeneration   = "generation"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentMutation  = "mutation"
	ComponentDashboard = "dashboard"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentEvents    = "events"
	ComponentInsight   = "insight"
	ComponentAI        = "ai_backend"
	ComponentExport    = "export"
	ComponentRateLimit = "rate_limit"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpUpsert   = "upsert"
	OpList     = "list"
	OpLoad     = "load"
	OpPublish  = "publish"
	OpValidate = "validate"
	OpExport   = "export"
	OpChat     = "chat"
	OpScan     = "scan"
	OpVoice    = "voice"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithErrorKind adds the taxonomy label of a failure
func (f LogFields) WithErrorKind(kind string) LogFields {
	if kind != "" {
		f[FieldErrorKind] = kind
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithUser adds the user identifier
func (f LogFields) WithUser(userID string) LogFields {
	f[FieldUserID] = userID
	return f
}

// WithEntry adds transaction or budget fields
func (f LogFields) WithEntry(category, amount string) LogFields {
	f[FieldCategory] = category
	f[FieldAmount] = amount
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
