package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Realtime session
	FieldSessionID  = "session_id"
	FieldCampaignID = "campaign_id"
	FieldRoom       = "room"
	FieldEvent      = "event"
	FieldErrorKind  = "error_kind"

	// Service
	FieldService = "service"
	FieldNodeID  = "node_id"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
