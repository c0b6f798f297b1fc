package types

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ApiRequest is the inbound request handled by the gateway.
// The JSON keys of the provider configs keep the names clients already send.
type ApiRequest struct {
	Stream          bool           `json:"stream"`
	Verbose         bool           `json:"verbose"`
	System          *string        `json:"system,omitempty"`
	Messages        []Message      `json:"messages" validate:"required,min=1,dive"`
	ReasoningConfig ProviderConfig `json:"deepseek_config"`
	ResponseConfig  ProviderConfig `json:"anthropic_config"`
}

type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// ProviderConfig carries caller-supplied headers and body overrides for one provider.
// Body is kept raw so key order survives until the provider client merges it.
type ProviderConfig struct {
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks the request shape and the single system prompt source rule.
// It never touches the network.
func (r *ApiRequest) Validate() error {
	if err := requestValidator().Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Type:    "bad_request",
				Message: fmt.Sprintf("Invalid request: %s failed %q validation", fe.Namespace(), fe.Tag()),
				Param:   fe.Field(),
			}
		}
		return &ValidationError{Type: "bad_request", Message: "Invalid request: " + err.Error()}
	}
	if !r.ValidSystemPrompt() {
		return ErrInvalidSystemPrompt
	}
	return nil
}

// ValidSystemPrompt reports whether at most one system prompt source is used.
func (r *ApiRequest) ValidSystemPrompt() bool {
	inMessages := false
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			inMessages = true
			break
		}
	}
	return !(r.System != nil && inMessages)
}

// MessagesWithSystem returns the conversation with the system prompt first,
// whichever source it came from, and no other system-role entries.
func (r *ApiRequest) MessagesWithSystem() []Message {
	out := make([]Message, 0, len(r.Messages)+1)
	if system, ok := r.SystemPrompt(); ok {
		out = append(out, Message{Role: RoleSystem, Content: system})
	}
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SystemPrompt returns the root system prompt, or the first in-list system message.
func (r *ApiRequest) SystemPrompt() (string, bool) {
	if r.System != nil {
		return *r.System, true
	}
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			return m.Content, true
		}
	}
	return "", false
}
