package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/af-corp/thinkrelay/internal/config"
	"github.com/af-corp/thinkrelay/internal/httputil"
	"github.com/af-corp/thinkrelay/internal/ledger"
	"github.com/af-corp/thinkrelay/internal/orchestrator"
	"github.com/af-corp/thinkrelay/internal/provider"
	"github.com/af-corp/thinkrelay/internal/telemetry"
	"github.com/af-corp/thinkrelay/internal/types"
)

// Credential headers. Tokens are used for the upstream call and never stored.
const (
	HeaderDeepSeekToken  = "X-DeepSeek-API-Token"
	HeaderAnthropicToken = "X-Anthropic-API-Token"
)

const (
	maxBodyBytes  = 10 << 20
	ledgerTimeout = 2 * time.Second
)

// SpendLedger is the part of ledger.Ledger used by the handlers.
type SpendLedger interface {
	Record(ctx context.Context, rec ledger.Record) error
	Today(ctx context.Context) (ledger.Spend, error)
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	cfg     func() *config.Config
	metrics *telemetry.Metrics
	ledger  SpendLedger
	logger  *slog.Logger

	mu         sync.Mutex
	transports map[time.Duration]*http.Transport
}

// NewHandler builds the handlers. metrics and spend may be nil.
func NewHandler(cfg func() *config.Config, metrics *telemetry.Metrics, spend SpendLedger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:        cfg,
		metrics:    metrics,
		ledger:     spend,
		logger:     logger,
		transports: make(map[time.Duration]*http.Transport),
	}
}

// Chat handles POST /
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req types.ApiRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	defer r.Body.Close()

	reasoningToken, responseToken, err := extractTokens(r.Header)
	if err != nil {
		httputil.WriteErr(w, reqID, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteErr(w, reqID, err)
		return
	}

	snapshot := h.cfg()
	orch := orchestrator.New(
		provider.NewDeepSeek(reasoningToken, h.providerOptions(snapshot.Providers.Reasoning)),
		provider.NewAnthropic(responseToken, h.providerOptions(snapshot.Providers.Response)),
		orchestrator.Options{
			ReasoningPricing: snapshot.Pricing.DeepSeek,
			ResponsePricing:  snapshot.Pricing.Anthropic,
			Observer:         h.observer(reqID),
			Logger:           h.logger.With("request_id", reqID),
		},
	)

	if req.Stream {
		h.stream(w, r, reqID, orch, &req, snapshot.Stream.ChannelCapacity)
		return
	}

	resp, err := orch.Run(r.Context(), &req)
	if err != nil {
		httputil.WriteErr(w, reqID, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Usage handles GET /v1/usage
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	if h.ledger == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Spend ledger not configured")
		return
	}
	spend, err := h.ledger.Today(r.Context())
	if err != nil {
		h.logger.Error("failed to read daily spend", "request_id", reqID, "error", err)
		httputil.WriteServiceUnavailableError(w, reqID, "Spend ledger unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spend)
}

func extractTokens(h http.Header) (string, string, error) {
	reasoning := h.Get(HeaderDeepSeekToken)
	if reasoning == "" {
		return "", "", types.MissingHeader(HeaderDeepSeekToken)
	}
	response := h.Get(HeaderAnthropicToken)
	if response == "" {
		return "", "", types.MissingHeader(HeaderAnthropicToken)
	}
	return reasoning, response, nil
}

func (h *Handler) providerOptions(ep config.EndpointConfig) provider.Options {
	return provider.Options{
		BaseURL:    ep.BaseURL,
		HTTPClient: &http.Client{Transport: h.transport(ep.Timeout)},
	}
}

// transport returns a shared transport for the given header timeout. Streams
// run for minutes, so the timeout never applies to the body.
func (h *Handler) transport(timeout time.Duration) *http.Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.transports[timeout]; ok {
		return t
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = timeout
	h.transports[timeout] = t
	return t
}

// observer records a finished run to logs, metrics and the spend ledger.
func (h *Handler) observer(reqID string) orchestrator.Observer {
	return orchestrator.ObserverFunc(func(ctx context.Context, s orchestrator.Summary) {
		mode := "sync"
		if s.Stream {
			mode = "stream"
		}
		status, errType := outcome(ctx, s.Err)

		attrs := []any{
			"request_id", reqID,
			"mode", mode,
			"state", s.State.String(),
			"duration_ms", s.Duration.Milliseconds(),
			"reasoning_model", s.ReasoningModel,
			"response_model", s.ResponseModel,
			"cost_usd", s.TotalCost(),
		}
		switch {
		case s.Err == nil:
			h.logger.Info("request completed", attrs...)
		case status == "client_closed":
			h.logger.Info("stream abandoned by client", attrs...)
		default:
			h.logger.Warn("request failed", append(attrs, "error", s.Err)...)
		}

		if h.metrics != nil {
			h.metrics.RecordRequest(telemetry.RequestLabels{
				Mode:       mode,
				Status:     status,
				State:      s.State.String(),
				DurationMs: float64(s.Duration.Milliseconds()),
				Stages:     stageUsage(s),
			})
		}

		if h.ledger == nil {
			return
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
		defer cancel()
		err := h.ledger.Record(lctx, ledgerRecord(reqID, s, errType))
		if err == nil {
			return
		}
		h.logger.Error("failed to record usage", "request_id", reqID, "error", err)
		if h.metrics != nil {
			for _, backend := range failedBackends(err) {
				h.metrics.RecordLedgerError(backend)
			}
		}
	})
}

// outcome returns the metrics status label and the ledger error type. A
// failure after the client went away is reported as client_closed.
func outcome(ctx context.Context, err error) (string, string) {
	if err == nil {
		return "ok", ""
	}
	if errors.Is(err, orchestrator.ErrConsumerGone) || ctx.Err() != nil {
		return "client_closed", "client_closed"
	}
	_, body := httputil.Classify(err)
	return "error", body.Type
}

func stageUsage(s orchestrator.Summary) []telemetry.StageUsage {
	return []telemetry.StageUsage{
		{
			Provider: types.ProviderDeepSeek,
			Model:    s.ReasoningModel,
			Tokens: map[string]int{
				"input":     s.ReasoningUsage.InputTokens,
				"output":    s.ReasoningUsage.OutputTokens,
				"reasoning": s.ReasoningUsage.ReasoningTokens,
				"cached":    s.ReasoningUsage.CachedTokens,
			},
			CostUSD: s.ReasoningCost,
		},
		{
			Provider: types.ProviderAnthropic,
			Model:    s.ResponseModel,
			Tokens: map[string]int{
				"input":       s.ResponseUsage.InputTokens,
				"output":      s.ResponseUsage.OutputTokens,
				"cache_write": s.ResponseUsage.CacheWriteTokens,
				"cache_read":  s.ResponseUsage.CacheReadTokens,
			},
			CostUSD: s.ResponseCost,
		},
	}
}

func ledgerRecord(reqID string, s orchestrator.Summary, errType string) ledger.Record {
	return ledger.Record{
		RequestID:             reqID,
		Stream:                s.Stream,
		State:                 s.State.String(),
		ErrorType:             errType,
		ReasoningModel:        s.ReasoningModel,
		ResponseModel:         s.ResponseModel,
		ReasoningInputTokens:  s.ReasoningUsage.InputTokens,
		ReasoningOutputTokens: s.ReasoningUsage.OutputTokens,
		ReasoningCachedTokens: s.ReasoningUsage.CachedTokens,
		ResponseInputTokens:   s.ResponseUsage.InputTokens,
		ResponseOutputTokens:  s.ResponseUsage.OutputTokens,
		ResponseCacheWrite:    s.ResponseUsage.CacheWriteTokens,
		ResponseCacheRead:     s.ResponseUsage.CacheReadTokens,
		ReasoningCostUSD:      s.ReasoningCost,
		ResponseCostUSD:       s.ResponseCost,
		Duration:              s.Duration,
	}
}

func failedBackends(err error) []string {
	var out []string
	var joined interface{ Unwrap() []error }
	errs := []error{err}
	if errors.As(err, &joined) {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		var berr *ledger.BackendError
		if errors.As(e, &berr) {
			out = append(out, berr.Backend)
		}
	}
	return out
}
