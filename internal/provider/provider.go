// Package provider implements the reasoning and response LLM clients.
package provider

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/af-corp/thinkrelay/internal/types"
)

// Client is one upstream LLM provider.
type Client interface {
	Name() string
	Complete(ctx context.Context, conv Conversation, cfg types.ProviderConfig) (*Result, error)
	Stream(ctx context.Context, conv Conversation, cfg types.ProviderConfig) (*Stream, error)
}

// Conversation is the prompt sent to a provider. System is nil when no system
// prompt was given; Messages never contain system-role entries.
type Conversation struct {
	System   *string
	Messages []types.Message
}

// WithSystem returns the messages with the system prompt prepended as a
// system-role message.
func (c Conversation) WithSystem() []types.Message {
	out := make([]types.Message, 0, len(c.Messages)+1)
	if c.System != nil {
		out = append(out, types.Message{Role: types.RoleSystem, Content: *c.System})
	}
	return append(out, c.Messages...)
}

// Append returns a copy of the conversation with msg added at the end.
func (c Conversation) Append(msg types.Message) Conversation {
	msgs := make([]types.Message, 0, len(c.Messages)+1)
	msgs = append(msgs, c.Messages...)
	return Conversation{System: c.System, Messages: append(msgs, msg)}
}

// ConversationFrom splits a validated request into its system prompt and turns.
func ConversationFrom(req *types.ApiRequest) Conversation {
	var conv Conversation
	if system, ok := req.SystemPrompt(); ok {
		conv.System = &system
	}
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			continue
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv
}

// Usage is the token accounting reported by either provider. Fields that a
// provider does not report stay zero.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	ReasoningTokens  int
	CachedTokens     int
	CacheWriteTokens int
	CacheReadTokens  int
	TotalTokens      int
}

// Result is a completed non-streaming call.
type Result struct {
	Model     string
	Content   []types.ContentBlock
	Reasoning *string
	Usage     Usage
	Raw       *types.ExternalResponse
}

// Event is one decoded item of a provider stream.
type Event interface {
	isEvent()
}

// EventStageStarted opens a stage. Content holds any blocks the provider sent
// with its opening frame.
type EventStageStarted struct {
	Model   string
	Content []types.ContentBlock
}

// EventContentDelta carries incremental text. Kind is the provider's delta type.
type EventContentDelta struct {
	Text string
	Kind string
}

type EventUsage struct {
	Usage Usage
}

// EventStageEnded marks the provider's end-of-stage sentinel.
type EventStageEnded struct{}

// EventError is an error reported in-band by the provider.
type EventError struct {
	Message string
	Kind    string
}

func (EventStageStarted) isEvent() {}
func (EventContentDelta) isEvent() {}
func (EventUsage) isEvent()        {}
func (EventStageEnded) isEvent()   {}
func (EventError) isEvent()        {}

// Stream is a pull iterator over provider events. Next returns io.EOF after the
// stage ends or the body is exhausted.
type Stream struct {
	provider string
	next     func() (Event, error)
	body     io.Closer
	ended    bool
}

func (s *Stream) Next() (Event, error) {
	if s.ended {
		return nil, io.EOF
	}
	ev, err := s.next()
	if errors.Is(err, io.EOF) {
		s.ended = true
		return nil, io.EOF
	}
	if err != nil {
		s.ended = true
		var uerr *types.UpstreamError
		if errors.As(err, &uerr) {
			return nil, err
		}
		return nil, &types.UpstreamError{
			Provider: s.provider,
			Message:  "Stream error: " + err.Error(),
			Kind:     types.KindStreamError,
		}
	}
	if _, ok := ev.(EventStageEnded); ok {
		s.ended = true
	}
	return ev, nil
}

// Close releases the upstream connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.ended = true
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

// Options configures a provider client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// NewStream wraps a next function as a Stream. body may be nil.
func NewStream(provider string, next func() (Event, error), body io.Closer) *Stream {
	return &Stream{provider: provider, next: next, body: body}
}

// FromEvents returns a Stream that yields events in order and then fails with
// err, or ends with io.EOF when err is nil.
func FromEvents(provider string, err error, events ...Event) *Stream {
	i := 0
	return NewStream(provider, func() (Event, error) {
		if i < len(events) {
			ev := events[i]
			i++
			return ev, nil
		}
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}, nil)
}
