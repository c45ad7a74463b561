package log

import "sort"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldReferer       = "referer"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldTransactionID = "transaction_id"
	FieldTxType        = "transaction_type"
	FieldAmountCents   = "amount_cents"
	FieldAccountID     = "account_id"
	FieldCategory      = "category"
	FieldMode          = "mode"
	FieldUserID        = "user_id"
	FieldIdempotency   = "idempotency_key"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentLedger   = "ledger"
	ComponentSession  = "session"
	ComponentStorage  = "storage"
	ComponentRemote   = "remote"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentSheets   = "sheets"
	ComponentCache    = "cache"
	ComponentSecurity = "security"
	ComponentTrace    = "trace"
	ComponentBackend  = "backend"
	ComponentCLI      = "cli"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpLoad      = "load"
	OpSubscribe = "subscribe"
	OpReset     = "reset"
	OpSync      = "sync"
	OpSignIn    = "sign_in"
	OpSignOut   = "sign_out"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// Error types outside the ledger's own kinds (see core.ErrorKind).
const (
	ErrorTypeBadRequest    = "bad_request"
	ErrorTypeSession       = "session_error"
	ErrorTypeConfiguration = "configuration_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
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

// WithErrorType adds the error category
func (f LogFields) WithErrorType(kind string) LogFields {
	f[FieldErrorType] = kind
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTransaction adds transaction-related fields
func (f LogFields) WithTransaction(id, txType string, amountCents int64, accountID, category string) LogFields {
	f[FieldTransactionID] = id
	f[FieldTxType] = txType
	f[FieldAmountCents] = amountCents
	f[FieldAccountID] = accountID
	f[FieldCategory] = category
	return f
}

// WithSession adds persistence mode and user
func (f LogFields) WithSession(mode, userID string) LogFields {
	f[FieldMode] = mode
	if userID != "" {
		f[FieldUserID] = userID
	}
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	f[FieldReferer] = referer
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog, sorted by key so records
// are stable.
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	slice := make([]any, 0, len(f)*2)
	for _, k := range keys {
		slice = append(slice, k, f[k])
	}
	return slice
}
