package types

import "fmt"

// Upstream error kinds.
const (
	KindRequestFailed  = "request_failed"
	KindAPIError       = "api_error"
	KindParseError     = "parse_error"
	KindStreamError    = "stream_error"
	KindMissingContent = "missing_content"
)

// ValidationError reports a malformed inbound request. It is always raised
// before any provider is contacted.
type ValidationError struct {
	Type    string
	Message string
	Param   string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrInvalidSystemPrompt is returned when a system prompt is given both at the
// root and inside the messages list.
var ErrInvalidSystemPrompt = &ValidationError{
	Type:    "invalid_system_prompt",
	Message: "System prompt can only be provided once, either in root or messages array",
}

// MissingHeader builds the validation error for an absent credential header.
func MissingHeader(header string) *ValidationError {
	return &ValidationError{
		Type:    "missing_header",
		Message: "Missing required header: " + header,
		Param:   header,
	}
}

// UpstreamError describes a failed interaction with one provider.
type UpstreamError struct {
	Provider string
	Message  string
	Kind     string
	Param    string
	Code     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error: %s", ProviderDisplayName(e.Provider), e.Message)
}

// InternalError is an invariant or programming failure inside the gateway.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return "Internal server error: " + e.Message }

// Provider identifiers.
const (
	ProviderDeepSeek  = "deepseek"
	ProviderAnthropic = "anthropic"
)

// ProviderDisplayName returns the human name used in error messages.
func ProviderDisplayName(provider string) string {
	switch provider {
	case ProviderDeepSeek:
		return "DeepSeek"
	case ProviderAnthropic:
		return "Anthropic"
	default:
		return provider
	}
}
