package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/af-corp/thinkrelay/internal/payload"
	"github.com/af-corp/thinkrelay/internal/sse"
	"github.com/af-corp/thinkrelay/internal/types"
)

const (
	AnthropicURL          = "https://api.anthropic.com/v1/messages"
	AnthropicDefaultModel = "claude-3-5-sonnet-20241022"
	AnthropicVersion      = "2023-06-01"
)

// Anthropic is the response provider client.
type Anthropic struct {
	token string
	opts  Options
}

func NewAnthropic(token string, opts Options) *Anthropic {
	if opts.BaseURL == "" {
		opts.BaseURL = AnthropicURL
	}
	return &Anthropic{token: token, opts: opts}
}

func (a *Anthropic) Name() string { return types.ProviderAnthropic }

func (a *Anthropic) Complete(ctx context.Context, conv Conversation, cfg types.ProviderConfig) (*Result, error) {
	resp, err := a.do(ctx, conv, cfg, false)
	if err != nil {
		return nil, err
	}

	var body anthropicResponse
	raw, err := readResult(a.Name(), resp, &body)
	if err != nil {
		return nil, err
	}

	return &Result{
		Model:   body.Model,
		Content: body.blocks(),
		Usage:   body.Usage.toUsage(),
		Raw:     raw,
	}, nil
}

func (a *Anthropic) Stream(ctx context.Context, conv Conversation, cfg types.ProviderConfig) (*Stream, error) {
	resp, err := a.do(ctx, conv, cfg, true)
	if err != nil {
		return nil, err
	}

	dec := sse.NewDecoder(resp.Body, anthropicFrameDecoder())
	return &Stream{provider: a.Name(), next: dec.Next, body: dec}, nil
}

func (a *Anthropic) do(ctx context.Context, conv Conversation, cfg types.ProviderConfig, stream bool) (*http.Response, error) {
	h, err := buildHeaders([]header{
		{"x-api-key", a.token, "API token"},
		{"content-type", "application/json", "content type"},
		{"anthropic-version", AnthropicVersion, "anthropic version"},
	}, cfg.Headers)
	if err != nil {
		return nil, err
	}

	overrides, err := payload.Parse(cfg.Body)
	if err != nil {
		return nil, &types.ValidationError{Type: "bad_request", Message: "Invalid body override: " + err.Error(), Param: "body"}
	}
	model, ok := overrides.String("model")
	if !ok {
		model = AnthropicDefaultModel
	}

	defaults := payload.New()
	_ = defaults.Set("model", AnthropicDefaultModel)
	_ = defaults.Set("max_tokens", defaultMaxTokens(model))

	var system any
	if conv.System != nil {
		system = *conv.System
	}
	body, err := buildBody(defaults, cfg.Body,
		field{"messages", conv.Messages},
		field{"stream", stream},
		field{"system", system},
	)
	if err != nil {
		return nil, err
	}
	return send(ctx, a.opts.client(), a.Name(), a.opts.BaseURL, h, body)
}

func defaultMaxTokens(model string) int {
	if strings.Contains(model, "claude-3-opus") {
		return 4096
	}
	return 8192
}

// anthropicFrameDecoder maps Messages API stream events. Usage from
// message_start is remembered and merged into the message_delta report.
func anthropicFrameDecoder() sse.DecodeFunc[Event] {
	var start anthropicUsage
	return func(f sse.Frame) ([]Event, bool) {
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
			return nil, false
		}
		kind := ev.Type
		if kind == "" {
			kind = f.Event
		}

		switch kind {
		case "message_start":
			if ev.Message == nil {
				return nil, false
			}
			start = ev.Message.Usage
			return []Event{EventStageStarted{Model: ev.Message.Model, Content: ev.Message.blocks()}}, true
		case "content_block_delta":
			if ev.Delta == nil {
				return nil, false
			}
			return []Event{EventContentDelta{Text: ev.Delta.Text, Kind: ev.Delta.Type}}, true
		case "message_delta":
			if ev.Usage == nil {
				return nil, false
			}
			return []Event{EventUsage{Usage: ev.Usage.mergeWith(start).toUsage()}}, true
		case "message_stop":
			return []Event{EventStageEnded{}}, true
		case "error":
			if ev.Error == nil {
				return []Event{EventError{Message: f.Data, Kind: types.KindStreamError}}, true
			}
			return []Event{EventError{Message: ev.Error.Message, Kind: ev.Error.Type}}, true
		default:
			return nil, false
		}
	}
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason *string            `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

func (r *anthropicResponse) blocks() []types.ContentBlock {
	if len(r.Content) == 0 {
		return nil
	}
	out := make([]types.ContentBlock, len(r.Content))
	for i, c := range r.Content {
		out[i] = types.ContentBlock{Type: c.Type, Text: c.Text}
	}
	return out
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// mergeWith fills the input-side counters that a message_delta omits.
func (u anthropicUsage) mergeWith(start anthropicUsage) anthropicUsage {
	if u.InputTokens == 0 {
		u.InputTokens = start.InputTokens
	}
	if u.CacheCreationInputTokens == 0 {
		u.CacheCreationInputTokens = start.CacheCreationInputTokens
	}
	if u.CacheReadInputTokens == 0 {
		u.CacheReadInputTokens = start.CacheReadInputTokens
	}
	return u
}

func (u anthropicUsage) toUsage() Usage {
	return Usage{
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheWriteTokens: u.CacheCreationInputTokens,
		CacheReadTokens:  u.CacheReadInputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

type anthropicStreamEvent struct {
	Type    string             `json:"type"`
	Message *anthropicResponse `json:"message"`
	Delta   *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
