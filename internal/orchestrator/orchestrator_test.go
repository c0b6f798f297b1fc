package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/af-corp/thinkrelay/internal/pricing"
	"github.com/af-corp/thinkrelay/internal/provider"
	"github.com/af-corp/thinkrelay/internal/stream"
	"github.com/af-corp/thinkrelay/internal/types"
)

// fakeClient implements provider.Client with canned results.
type fakeClient struct {
	name      string
	result    *provider.Result
	err       error
	events    []provider.Event
	streamErr error
	openErr   error

	calls    int
	lastConv provider.Conversation
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Complete(_ context.Context, conv provider.Conversation, _ types.ProviderConfig) (*provider.Result, error) {
	f.calls++
	f.lastConv = conv
	return f.result, f.err
}

func (f *fakeClient) Stream(_ context.Context, conv provider.Conversation, _ types.ProviderConfig) (*provider.Stream, error) {
	f.calls++
	f.lastConv = conv
	if f.openErr != nil {
		return nil, f.openErr
	}
	return provider.FromEvents(f.name, f.streamErr, f.events...), nil
}

func strPtr(s string) *string { return &s }

func newTestOrchestrator(reasoning, response provider.Client, obs Observer) *Orchestrator {
	o := New(reasoning, response, Options{
		ReasoningPricing: pricing.DefaultReasoning(),
		ResponsePricing:  pricing.DefaultResponse(),
		Observer:         obs,
	})
	o.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return o
}

func basicRequest() *types.ApiRequest {
	return &types.ApiRequest{Messages: []types.Message{{Role: types.RoleUser, Content: "What is 2+2?"}}}
}

func TestRun_HappyPath(t *testing.T) {
	reasoning := &fakeClient{name: types.ProviderDeepSeek, result: &provider.Result{
		Model:     "deepseek-reasoner",
		Reasoning: strPtr("R"),
		Usage:     provider.Usage{InputTokens: 1000, OutputTokens: 500, CachedTokens: 200, TotalTokens: 1500},
		Raw:       &types.ExternalResponse{Status: 200},
	}}
	response := &fakeClient{name: types.ProviderAnthropic, result: &provider.Result{
		Model:   "claude-3-5-sonnet-20241022",
		Content: []types.ContentBlock{types.TextBlock("4")},
		Usage:   provider.Usage{InputTokens: 100, OutputTokens: 10},
		Raw:     &types.ExternalResponse{Status: 200},
	}}

	var summary Summary
	o := newTestOrchestrator(reasoning, response, ObserverFunc(func(_ context.Context, s Summary) { summary = s }))
	resp, err := o.Run(context.Background(), basicRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.Content) != 2 {
		t.Fatalf("expected 2 content blocks, got %d", len(resp.Content))
	}
	if resp.Content[0].Text != "<thinking>\nR\n</thinking>" {
		t.Errorf("unexpected thinking block: %q", resp.Content[0].Text)
	}
	if resp.Content[1].Text != "4" {
		t.Errorf("unexpected answer block: %q", resp.Content[1].Text)
	}

	last := response.lastConv.Messages[len(response.lastConv.Messages)-1]
	if last.Role != types.RoleAssistant || last.Content != "<thinking>\nR\n</thinking>" {
		t.Errorf("response provider must receive the thinking block last, got %+v", last)
	}

	wantReasoning := pricing.ReasoningCost(1000, 500, 200, pricing.DefaultReasoning())
	wantResponse := pricing.ResponseCost("claude-3-5-sonnet-20241022", 100, 10, 0, 0, pricing.DefaultResponse())
	u := resp.CombinedUsage
	if u.TotalCost != pricing.FormatCost(wantReasoning+wantResponse) {
		t.Errorf("unexpected total cost %s", u.TotalCost)
	}
	if u.ReasoningUsage.CachedInputTokens != 200 || u.ResponseUsage.TotalTokens != 110 {
		t.Errorf("unexpected usage: %+v", u)
	}
	if resp.ReasoningResponse != nil || resp.ResponseResponse != nil {
		t.Error("raw responses must be omitted unless verbose")
	}

	if summary.State != StateDone {
		t.Errorf("expected final state done, got %s", summary.State)
	}
	if summary.TotalCost() != wantReasoning+wantResponse {
		t.Errorf("summary cost mismatch: %f", summary.TotalCost())
	}
}

func TestRun_VerboseIncludesRaw(t *testing.T) {
	reasoning := &fakeClient{name: types.ProviderDeepSeek, result: &provider.Result{
		Reasoning: strPtr(""),
		Raw:       &types.ExternalResponse{Status: 200, Body: []byte(`{"id":"r"}`)},
	}}
	response := &fakeClient{name: types.ProviderAnthropic, result: &provider.Result{
		Raw: &types.ExternalResponse{Status: 200, Body: []byte(`{"id":"a"}`)},
	}}

	req := basicRequest()
	req.Verbose = true
	resp, err := newTestOrchestrator(reasoning, response, nil).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ReasoningResponse == nil || resp.ResponseResponse == nil {
		t.Fatal("expected raw responses in verbose mode")
	}
	if resp.Content[0].Text != "<thinking>\n\n</thinking>" {
		t.Errorf("empty reasoning must still produce a thinking block, got %q", resp.Content[0].Text)
	}
}

func TestRun_MissingReasoning(t *testing.T) {
	reasoning := &fakeClient{name: types.ProviderDeepSeek, result: &provider.Result{Model: "deepseek-reasoner"}}
	response := &fakeClient{name: types.ProviderAnthropic}

	var summary Summary
	o := newTestOrchestrator(reasoning, response, ObserverFunc(func(_ context.Context, s Summary) { summary = s }))
	_, err := o.Run(context.Background(), basicRequest())

	var uerr *types.UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if uerr.Kind != types.KindMissingContent || uerr.Provider != types.ProviderDeepSeek {
		t.Errorf("expected deepseek missing_content, got %s/%s", uerr.Provider, uerr.Kind)
	}
	if response.calls != 0 {
		t.Errorf("response provider must not be called, got %d calls", response.calls)
	}
	if summary.State != StateFailed {
		t.Errorf("expected failed state, got %s", summary.State)
	}
}

func TestRun_ValidationBeforeUpstream(t *testing.T) {
	reasoning := &fakeClient{name: types.ProviderDeepSeek}
	response := &fakeClient{name: types.ProviderAnthropic}

	req := &types.ApiRequest{
		System:   strPtr("a"),
		Messages: []types.Message{{Role: types.RoleSystem, Content: "b"}, {Role: types.RoleUser, Content: "q"}},
	}
	_, err := newTestOrchestrator(reasoning, response, nil).Run(context.Background(), req)
	if !errors.Is(err, types.ErrInvalidSystemPrompt) {
		t.Errorf("expected ErrInvalidSystemPrompt, got %v", err)
	}
	if reasoning.calls+response.calls != 0 {
		t.Error("no provider may be contacted for an invalid request")
	}
}

func streamingClients() (*fakeClient, *fakeClient) {
	reasoning := &fakeClient{name: types.ProviderDeepSeek, events: []provider.Event{
		provider.EventStageStarted{Model: "deepseek-reasoner"},
		provider.EventContentDelta{Text: "Let me ", Kind: "text_delta"},
		provider.EventContentDelta{Text: "", Kind: "text_delta"},
		provider.EventContentDelta{Text: "think", Kind: "text_delta"},
		provider.EventStageEnded{},
	}}
	response := &fakeClient{name: types.ProviderAnthropic, events: []provider.Event{
		provider.EventStageStarted{Model: "claude-3-5-sonnet-20241022"},
		provider.EventContentDelta{Text: "Hi", Kind: "text_delta"},
		provider.EventUsage{Usage: provider.Usage{InputTokens: 10, OutputTokens: 2}},
		provider.EventStageEnded{},
	}}
	return reasoning, response
}

func TestStream_EventOrdering(t *testing.T) {
	reasoning, response := streamingClients()
	rec := &stream.Recorder{}

	if err := newTestOrchestrator(reasoning, response, nil).Stream(context.Background(), basicRequest(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := rec.Events()
	want := []struct {
		typ  types.EventType
		kind string
		text string
	}{
		{types.EventStart, "", ""},
		{types.EventContent, "text", "<thinking>\n"},
		{types.EventContent, "text_delta", "Let me "},
		{types.EventContent, "text_delta", "think"},
		{types.EventContent, "text", "\n</thinking>"},
		{types.EventContent, "text_delta", "Hi"},
		{types.EventUsage, "", ""},
		{types.EventDone, "", ""},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, w := range want {
		ev := events[i]
		if ev.Type != w.typ {
			t.Errorf("event %d: expected type %s, got %s", i, w.typ, ev.Type)
			continue
		}
		if w.typ == types.EventContent {
			if len(ev.Content) != 1 || ev.Content[0].Type != w.kind || ev.Content[0].Text != w.text {
				t.Errorf("event %d: expected %s %q, got %+v", i, w.kind, w.text, ev.Content)
			}
		}
	}

	usage := events[6].Usage
	if usage.ReasoningUsage.TotalCost != "$0.000" || usage.ReasoningUsage.InputTokens != 0 {
		t.Errorf("missing reasoning usage must be reported as zero, got %+v", usage.ReasoningUsage)
	}
	if usage.ResponseUsage.TotalTokens != 12 {
		t.Errorf("unexpected response usage: %+v", usage.ResponseUsage)
	}

	last := response.lastConv.Messages[len(response.lastConv.Messages)-1]
	if last.Content != "<thinking>\nLet me think\n</thinking>" {
		t.Errorf("unexpected accumulated reasoning: %q", last.Content)
	}
}

func TestStream_StartContentForwarded(t *testing.T) {
	reasoning, response := streamingClients()
	response.events[0] = provider.EventStageStarted{
		Model:   "claude-3-5-sonnet-20241022",
		Content: []types.ContentBlock{types.TextBlock("prefix")},
	}
	rec := &stream.Recorder{}

	if err := newTestOrchestrator(reasoning, response, nil).Stream(context.Background(), basicRequest(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := rec.Events()[5]
	if ev.Type != types.EventContent || ev.Content[0].Text != "prefix" {
		t.Errorf("expected message_start content forwarded, got %+v", ev)
	}
}

func TestStream_UpstreamErrorNoDone(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r, a *fakeClient)
	}{
		{"reasoning open fails", func(r, _ *fakeClient) {
			r.openErr = &types.UpstreamError{Provider: types.ProviderDeepSeek, Message: "boom", Kind: types.KindRequestFailed}
		}},
		{"reasoning stream breaks", func(r, _ *fakeClient) {
			r.events = r.events[:2]
			r.streamErr = errors.New("reset")
		}},
		{"response in-band error", func(_, a *fakeClient) {
			a.events = []provider.Event{provider.EventError{Message: "Overloaded", Kind: "overloaded_error"}}
		}},
	}

	for _, tt := range tests {
		reasoning, response := streamingClients()
		tt.mutate(reasoning, response)
		rec := &stream.Recorder{}

		var summary Summary
		o := newTestOrchestrator(reasoning, response, ObserverFunc(func(_ context.Context, s Summary) { summary = s }))
		if err := o.Stream(context.Background(), basicRequest(), rec); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}

		events := rec.Events()
		last := events[len(events)-1]
		if last.Type != types.EventError || last.Code != 500 || last.Message == "" {
			t.Errorf("%s: expected trailing error event with code 500, got %+v", tt.name, last)
		}
		for _, ev := range events {
			if ev.Type == types.EventDone {
				t.Errorf("%s: done must not follow an error", tt.name)
			}
		}
		if summary.State != StateFailed {
			t.Errorf("%s: expected failed state, got %s", tt.name, summary.State)
		}
	}
}

func TestStream_ConsumerGoneStopsRun(t *testing.T) {
	reasoning, response := streamingClients()
	rec := &stream.Recorder{Limit: 3}

	err := newTestOrchestrator(reasoning, response, nil).Stream(context.Background(), basicRequest(), rec)
	if !errors.Is(err, ErrConsumerGone) {
		t.Fatalf("expected ErrConsumerGone, got %v", err)
	}
	if response.calls != 0 {
		t.Error("response stage must not start after the consumer left")
	}
	if n := len(rec.Events()); n != 3 {
		t.Errorf("expected 3 delivered events, got %d", n)
	}
}

func TestState_Transitions(t *testing.T) {
	if !canTransition(StateInit, StateReasoningInFlight) {
		t.Error("init -> reasoning_in_flight must be legal")
	}
	if canTransition(StateInit, StateResponseInFlight) {
		t.Error("stages may not be skipped")
	}
	if canTransition(StateDone, StateFailed) {
		t.Error("terminal states are final")
	}
	if !canTransition(StateResponseInFlight, StateFailed) {
		t.Error("any live state may fail")
	}
	if StateFinalizing.String() != "finalizing" || State(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
