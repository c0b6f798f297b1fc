package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/thinkrelay/internal/payload"
	"github.com/af-corp/thinkrelay/internal/types"
)

// field is a protected body key and the value it must carry.
type field struct {
	key   string
	value any
}

// buildBody layers caller overrides on top of defaults and then reasserts the
// protected fields so overrides can never change them.
func buildBody(defaults *payload.Document, override json.RawMessage, protected ...field) ([]byte, error) {
	extra, err := payload.Parse(override)
	if err != nil {
		return nil, &types.ValidationError{Type: "bad_request", Message: "Invalid body override: " + err.Error(), Param: "body"}
	}

	keys := make([]string, len(protected))
	for i, p := range protected {
		keys[i] = p.key
	}
	defaults.Merge(extra, keys...)

	for _, p := range protected {
		if p.value == nil {
			continue
		}
		if err := defaults.Set(p.key, p.value); err != nil {
			return nil, &types.InternalError{Message: err.Error()}
		}
	}
	return defaults.MarshalJSON()
}

// send posts body and returns the response only when the status is 2xx.
func send(ctx context.Context, client *http.Client, provider, url string, h http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &types.InternalError{Message: fmt.Sprintf("create %s request: %v", provider, err)}
	}
	req.Header = h

	resp, err := client.Do(req)
	if err != nil {
		return nil, &types.UpstreamError{
			Provider: provider,
			Message:  "Request failed: " + err.Error(),
			Kind:     types.KindRequestFailed,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, readErr := io.ReadAll(resp.Body)
		msg := string(data)
		if readErr != nil || msg == "" {
			msg = "Unknown error"
		}
		return nil, &types.UpstreamError{
			Provider: provider,
			Message:  msg,
			Kind:     types.KindAPIError,
			Code:     fmt.Sprintf("%d", resp.StatusCode),
		}
	}
	return resp, nil
}

// readResult reads a full response body and records it for verbose output.
func readResult(provider string, resp *http.Response, into any) (*types.ExternalResponse, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.UpstreamError{
			Provider: provider,
			Message:  "Failed to read response: " + err.Error(),
			Kind:     types.KindRequestFailed,
		}
	}
	if err := json.Unmarshal(data, into); err != nil {
		return nil, &types.UpstreamError{
			Provider: provider,
			Message:  "Failed to parse response: " + err.Error(),
			Kind:     types.KindParseError,
		}
	}
	return &types.ExternalResponse{
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Body:    json.RawMessage(data),
	}, nil
}
