package types

import (
	"encoding/json"
	"time"
)

// ApiResponse is the aggregated result of a non-streaming run.
type ApiResponse struct {
	Created           time.Time         `json:"created"`
	Content           []ContentBlock    `json:"content"`
	ReasoningResponse *ExternalResponse `json:"deepseek_response,omitempty"`
	ResponseResponse  *ExternalResponse `json:"anthropic_response,omitempty"`
	CombinedUsage     CombinedUsage     `json:"combined_usage"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextBlock returns a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ExternalResponse is a raw provider response, included in verbose mode.
type ExternalResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

type CombinedUsage struct {
	TotalCost      string         `json:"total_cost"`
	ReasoningUsage ReasoningUsage `json:"deepseek_usage"`
	ResponseUsage  ResponseUsage  `json:"anthropic_usage"`
}

type ReasoningUsage struct {
	InputTokens       int    `json:"input_tokens"`
	OutputTokens      int    `json:"output_tokens"`
	ReasoningTokens   int    `json:"reasoning_tokens"`
	CachedInputTokens int    `json:"cached_input_tokens"`
	TotalTokens       int    `json:"total_tokens"`
	TotalCost         string `json:"total_cost"`
}

type ResponseUsage struct {
	InputTokens       int    `json:"input_tokens"`
	OutputTokens      int    `json:"output_tokens"`
	CachedWriteTokens int    `json:"cached_write_tokens"`
	CachedReadTokens  int    `json:"cached_read_tokens"`
	TotalTokens       int    `json:"total_tokens"`
	TotalCost         string `json:"total_cost"`
}
