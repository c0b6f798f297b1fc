// Package orchestrator drives the reasoning stage and then the response stage
// for one request, producing either an aggregated response or a unified event
// stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/af-corp/thinkrelay/internal/pricing"
	"github.com/af-corp/thinkrelay/internal/provider"
	"github.com/af-corp/thinkrelay/internal/stream"
	"github.com/af-corp/thinkrelay/internal/types"
)

const (
	thinkingOpen  = "<thinking>\n"
	thinkingClose = "\n</thinking>"
)

// ErrConsumerGone is returned by Stream when the sink stops accepting events.
var ErrConsumerGone = errors.New("orchestrator: stream consumer went away")

// Summary describes a finished run.
type Summary struct {
	Stream         bool
	State          State
	ReasoningModel string
	ResponseModel  string
	ReasoningUsage provider.Usage
	ResponseUsage  provider.Usage
	ReasoningCost  float64
	ResponseCost   float64
	Duration       time.Duration
	Err            error
}

// TotalCost is the sum of both stage costs.
func (s Summary) TotalCost() float64 { return s.ReasoningCost + s.ResponseCost }

// Observer is notified once per run, after the terminal state is reached.
type Observer interface {
	Observe(ctx context.Context, s Summary)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, s Summary)

func (f ObserverFunc) Observe(ctx context.Context, s Summary) { f(ctx, s) }

// Options configures an Orchestrator.
type Options struct {
	ReasoningPricing pricing.ReasoningPricing
	ResponsePricing  pricing.ResponsePricing
	Observer         Observer
	Logger           *slog.Logger
}

// Orchestrator runs both stages for one request. It is cheap to build and
// holds no per-request state.
type Orchestrator struct {
	reasoning provider.Client
	response  provider.Client
	opts      Options
	now       func() time.Time
}

func New(reasoning, response provider.Client, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		reasoning: reasoning,
		response:  response,
		opts:      opts,
		now:       time.Now,
	}
}

// run tracks one request through its states.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	started time.Time
	summary Summary
}

func (o *Orchestrator) begin(ctx context.Context, streaming bool) *run {
	return &run{
		o:       o,
		ctx:     ctx,
		started: o.now(),
		summary: Summary{Stream: streaming, State: StateInit},
	}
}

func (r *run) transition(to State) {
	from := r.summary.State
	if !canTransition(from, to) {
		r.o.opts.Logger.Error("invalid state transition", "from", from.String(), "to", to.String())
		return
	}
	r.summary.State = to
	r.o.opts.Logger.Debug("stage transition", "from", from.String(), "to", to.String(), "stream", r.summary.Stream)
}

func (r *run) fail(err error) error {
	r.summary.Err = err
	r.transition(StateFailed)
	return err
}

func (r *run) finish() {
	r.summary.Duration = r.o.now().Sub(r.started)
	if r.o.opts.Observer != nil {
		r.o.opts.Observer.Observe(r.ctx, r.summary)
	}
}

// Run executes both stages without streaming.
func (o *Orchestrator) Run(ctx context.Context, req *types.ApiRequest) (*types.ApiResponse, error) {
	r := o.begin(ctx, false)
	defer r.finish()

	if err := req.Validate(); err != nil {
		return nil, r.fail(err)
	}

	conv := provider.ConversationFrom(req)

	r.transition(StateReasoningInFlight)
	reasoning, err := o.reasoning.Complete(ctx, conv, req.ReasoningConfig)
	if err != nil {
		return nil, r.fail(err)
	}
	if reasoning.Reasoning == nil {
		return nil, r.fail(&types.UpstreamError{
			Provider: o.reasoning.Name(),
			Message:  "No reasoning content in response",
			Kind:     types.KindMissingContent,
		})
	}
	r.summary.ReasoningModel = reasoning.Model
	r.summary.ReasoningUsage = reasoning.Usage
	thinking := thinkingBlock(*reasoning.Reasoning)
	r.transition(StateReasoningComplete)

	r.transition(StateResponseInFlight)
	answer, err := o.response.Complete(ctx, conv.Append(assistant(thinking)), req.ResponseConfig)
	if err != nil {
		return nil, r.fail(err)
	}
	r.summary.ResponseModel = answer.Model
	r.summary.ResponseUsage = answer.Usage

	r.transition(StateFinalizing)
	resp := &types.ApiResponse{
		Created:       o.now().UTC(),
		Content:       append([]types.ContentBlock{types.TextBlock(thinking)}, answer.Content...),
		CombinedUsage: r.combinedUsage(&reasoning.Usage, answer.Usage),
	}
	if req.Verbose {
		resp.ReasoningResponse = reasoning.Raw
		resp.ResponseResponse = answer.Raw
	}
	r.transition(StateDone)
	return resp, nil
}

// Stream executes both stages and emits unified events to sink. On failure a
// single error event is sent and no done event follows. The returned error is
// for the caller's logs; the sink has already been told.
func (o *Orchestrator) Stream(ctx context.Context, req *types.ApiRequest, sink stream.Sink) error {
	r := o.begin(ctx, true)
	defer r.finish()

	if err := req.Validate(); err != nil {
		return r.fail(err)
	}

	emit := func(ev types.StreamEvent) error {
		if !sink.Send(ctx, ev) {
			return ErrConsumerGone
		}
		return nil
	}
	failStream := func(err error) error {
		if errors.Is(err, ErrConsumerGone) {
			return r.fail(err)
		}
		_ = emit(types.ErrorEvent(err.Error(), 500))
		return r.fail(err)
	}

	conv := provider.ConversationFrom(req)

	r.transition(StateReasoningInFlight)
	if err := emit(types.StartEvent(o.now().UTC())); err != nil {
		return r.fail(err)
	}
	if err := emit(types.ContentEvent(types.TextBlock(thinkingOpen))); err != nil {
		return r.fail(err)
	}

	reasoning, reasoningUsage, err := r.streamReasoning(conv, req.ReasoningConfig, emit)
	if err != nil {
		return failStream(err)
	}
	r.transition(StateReasoningComplete)

	if err := emit(types.ContentEvent(types.TextBlock(thinkingClose))); err != nil {
		return r.fail(err)
	}

	r.transition(StateResponseInFlight)
	next := conv.Append(assistant(thinkingBlock(reasoning)))
	if err := r.streamResponse(next, req.ResponseConfig, reasoningUsage, emit); err != nil {
		return failStream(err)
	}

	r.transition(StateFinalizing)
	if err := emit(types.DoneEvent()); err != nil {
		return r.fail(err)
	}
	r.transition(StateDone)
	return nil
}

func (r *run) streamReasoning(conv provider.Conversation, cfg types.ProviderConfig, emit func(types.StreamEvent) error) (string, *provider.Usage, error) {
	s, err := r.o.reasoning.Stream(r.ctx, conv, cfg)
	if err != nil {
		return "", nil, err
	}
	defer s.Close()

	var (
		text  []byte
		usage *provider.Usage
	)
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, err
		}

		switch e := ev.(type) {
		case provider.EventStageStarted:
			r.summary.ReasoningModel = e.Model
		case provider.EventContentDelta:
			if e.Text == "" {
				continue
			}
			if err := emit(types.ContentEvent(types.ContentBlock{Type: e.Kind, Text: e.Text})); err != nil {
				return "", nil, err
			}
			text = append(text, e.Text...)
		case provider.EventUsage:
			u := e.Usage
			usage = &u
			r.summary.ReasoningUsage = u
		case provider.EventError:
			return "", nil, &types.UpstreamError{Provider: r.o.reasoning.Name(), Message: e.Message, Kind: e.Kind}
		}
	}
	return string(text), usage, nil
}

func (r *run) streamResponse(conv provider.Conversation, cfg types.ProviderConfig, reasoningUsage *provider.Usage, emit func(types.StreamEvent) error) error {
	s, err := r.o.response.Stream(r.ctx, conv, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch e := ev.(type) {
		case provider.EventStageStarted:
			r.summary.ResponseModel = e.Model
			if len(e.Content) == 0 {
				continue
			}
			if err := emit(types.ContentEvent(e.Content...)); err != nil {
				return err
			}
		case provider.EventContentDelta:
			if err := emit(types.ContentEvent(types.ContentBlock{Type: e.Kind, Text: e.Text})); err != nil {
				return err
			}
		case provider.EventUsage:
			r.summary.ResponseUsage = e.Usage
			if err := emit(types.UsageEvent(r.combinedUsage(reasoningUsage, e.Usage))); err != nil {
				return err
			}
		case provider.EventError:
			return &types.UpstreamError{Provider: r.o.response.Name(), Message: e.Message, Kind: e.Kind}
		}
	}
}

// combinedUsage prices both stages. A nil reasoning usage is reported as zero.
func (r *run) combinedUsage(reasoning *provider.Usage, response provider.Usage) types.CombinedUsage {
	var ru provider.Usage
	if reasoning != nil {
		ru = *reasoning
	}
	if pricing.CacheOverflow(ru.InputTokens, ru.CachedTokens) {
		r.o.opts.Logger.Warn("cached tokens exceed input tokens",
			"provider", r.o.reasoning.Name(),
			"input_tokens", ru.InputTokens,
			"cached_tokens", ru.CachedTokens,
		)
	}

	model := r.summary.ResponseModel
	if model == "" {
		model = provider.AnthropicDefaultModel
	}

	reasoningCost := pricing.ReasoningCost(ru.InputTokens, ru.OutputTokens, ru.CachedTokens, r.o.opts.ReasoningPricing)
	responseCost := pricing.ResponseCost(model, response.InputTokens, response.OutputTokens,
		response.CacheWriteTokens, response.CacheReadTokens, r.o.opts.ResponsePricing)
	r.summary.ReasoningCost = reasoningCost
	r.summary.ResponseCost = responseCost

	return types.CombinedUsage{
		TotalCost: pricing.FormatCost(reasoningCost + responseCost),
		ReasoningUsage: types.ReasoningUsage{
			InputTokens:       ru.InputTokens,
			OutputTokens:      ru.OutputTokens,
			ReasoningTokens:   ru.ReasoningTokens,
			CachedInputTokens: ru.CachedTokens,
			TotalTokens:       ru.TotalTokens,
			TotalCost:         pricing.FormatCost(reasoningCost),
		},
		ResponseUsage: types.ResponseUsage{
			InputTokens:       response.InputTokens,
			OutputTokens:      response.OutputTokens,
			CachedWriteTokens: response.CacheWriteTokens,
			CachedReadTokens:  response.CacheReadTokens,
			TotalTokens:       response.InputTokens + response.OutputTokens,
			TotalCost:         pricing.FormatCost(responseCost),
		},
	}
}

func thinkingBlock(reasoning string) string {
	return fmt.Sprintf("<thinking>\n%s\n</thinking>", reasoning)
}

func assistant(content string) types.Message {
	return types.Message{Role: types.RoleAssistant, Content: content}
}
