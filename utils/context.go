package utils

type contextKey string

// Request-scoped values set by the handlers before calling into business flows
const (
	RequestIDKey  contextKey = "request_id"
	UserAgentKey  contextKey = "user_agent"
	IPAddressKey  contextKey = "ip_address"
	EndpointKey   contextKey = "endpoint"
	TimeoutKey    contextKey = "timeout"
	OperatorIDKey contextKey = "operator_id"
)
