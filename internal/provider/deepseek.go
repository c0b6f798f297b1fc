package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/af-corp/thinkrelay/internal/payload"
	"github.com/af-corp/thinkrelay/internal/sse"
	"github.com/af-corp/thinkrelay/internal/types"
)

const (
	DeepSeekURL          = "https://api.deepseek.com/chat/completions"
	DeepSeekDefaultModel = "deepseek-reasoner"
)

// DeepSeek is the reasoning provider client.
type DeepSeek struct {
	token string
	opts  Options
}

func NewDeepSeek(token string, opts Options) *DeepSeek {
	if opts.BaseURL == "" {
		opts.BaseURL = DeepSeekURL
	}
	return &DeepSeek{token: token, opts: opts}
}

func (d *DeepSeek) Name() string { return types.ProviderDeepSeek }

func (d *DeepSeek) Complete(ctx context.Context, conv Conversation, cfg types.ProviderConfig) (*Result, error) {
	resp, err := d.do(ctx, conv, cfg, false)
	if err != nil {
		return nil, err
	}

	var body deepseekResponse
	raw, err := readResult(d.Name(), resp, &body)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Model: body.Model,
		Usage: body.Usage.toUsage(),
		Raw:   raw,
	}
	if len(body.Choices) > 0 {
		msg := body.Choices[0].Message
		res.Reasoning = msg.ReasoningContent
		if msg.Content != nil {
			res.Content = []types.ContentBlock{types.TextBlock(*msg.Content)}
		}
	}
	return res, nil
}

func (d *DeepSeek) Stream(ctx context.Context, conv Conversation, cfg types.ProviderConfig) (*Stream, error) {
	resp, err := d.do(ctx, conv, cfg, true)
	if err != nil {
		return nil, err
	}

	dec := sse.NewDecoder(resp.Body, deepseekFrameDecoder())
	return &Stream{provider: d.Name(), next: dec.Next, body: dec}, nil
}

func (d *DeepSeek) do(ctx context.Context, conv Conversation, cfg types.ProviderConfig, stream bool) (*http.Response, error) {
	h, err := buildHeaders([]header{
		{"Authorization", "Bearer " + d.token, "API token"},
		{"Content-Type", "application/json", "content type"},
		{"Accept", "application/json", "accept header"},
	}, cfg.Headers)
	if err != nil {
		return nil, err
	}

	defaults := payload.New()
	_ = defaults.Set("model", DeepSeekDefaultModel)
	_ = defaults.Set("max_tokens", 8192)
	_ = defaults.Set("temperature", 1.0)
	_ = defaults.Set("response_format", map[string]string{"type": "text"})

	body, err := buildBody(defaults, cfg.Body,
		field{"messages", conv.WithSystem()},
		field{"stream", stream},
	)
	if err != nil {
		return nil, err
	}
	return send(ctx, d.opts.client(), d.Name(), d.opts.BaseURL, h, body)
}

// deepseekFrameDecoder emits StageStarted before the first chunk and ends the
// stage on the first chunk whose reasoning delta is null.
func deepseekFrameDecoder() sse.DecodeFunc[Event] {
	started := false
	return func(f sse.Frame) ([]Event, bool) {
		if f.Data == "[DONE]" {
			return nil, false
		}
		var chunk deepseekChunk
		if err := json.Unmarshal([]byte(f.Data), &chunk); err != nil {
			return nil, false
		}

		var events []Event
		if !started {
			started = true
			events = append(events, EventStageStarted{Model: chunk.Model})
		}

		if len(chunk.Choices) > 0 {
			reasoning := chunk.Choices[0].Delta.ReasoningContent
			if reasoning == nil {
				if chunk.Usage != nil {
					events = append(events, EventUsage{Usage: chunk.Usage.toUsage()})
				}
				return append(events, EventStageEnded{}), true
			}
			if *reasoning != "" {
				events = append(events, EventContentDelta{Text: *reasoning, Kind: "text_delta"})
			}
		}
		if chunk.Usage != nil {
			events = append(events, EventUsage{Usage: chunk.Usage.toUsage()})
		}
		return events, true
	}
}

type deepseekMessage struct {
	Role             string  `json:"role"`
	Content          *string `json:"content"`
	ReasoningContent *string `json:"reasoning_content"`
}

type deepseekResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int             `json:"index"`
		Message      deepseekMessage `json:"message"`
		FinishReason *string         `json:"finish_reason"`
	} `json:"choices"`
	Usage deepseekUsage `json:"usage"`
}

type deepseekChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Index int             `json:"index"`
		Delta deepseekMessage `json:"delta"`
	} `json:"choices"`
	Usage *deepseekUsage `json:"usage"`
}

type deepseekUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
	CompletionTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

func (u deepseekUsage) toUsage() Usage {
	return Usage{
		InputTokens:     u.PromptTokens,
		OutputTokens:    u.CompletionTokens,
		ReasoningTokens: u.CompletionTokensDetails.ReasoningTokens,
		CachedTokens:    u.PromptTokensDetails.CachedTokens,
		TotalTokens:     u.TotalTokens,
	}
}
