package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldBudgetID    = "budget_id"
	FieldMonth       = "month"
	FieldCategoryID  = "category_id"
	FieldAmountCents = "amount_cents"
	FieldRequestID   = "request_id"
	FieldDuration    = "duration_ms"
	FieldStatusCode  = "status_code"
	FieldPath        = "path"
	FieldMethod      = "method"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentEngine    = "engine"
	ComponentScheduler = "scheduler"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentRecompute = "recompute"
	ComponentMirror    = "mirror"
	ComponentHTTP      = "http"
	ComponentCache     = "cache"
)

// Operations defines standard operation names
const (
	OpCommit    = "commit"
	OpWrite     = "write"
	OpRecompute = "recompute"
	OpRead      = "read"
	OpPublish   = "publish"
	OpConsume   = "consume"
	OpSweep     = "sweep"
	OpMirror    = "mirror"
	OpStartup   = "startup"
	OpShutdown  = "shutdown"
)
