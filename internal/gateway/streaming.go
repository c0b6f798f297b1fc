package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/af-corp/thinkrelay/internal/httputil"
	"github.com/af-corp/thinkrelay/internal/orchestrator"
	"github.com/af-corp/thinkrelay/internal/stream"
	"github.com/af-corp/thinkrelay/internal/types"
)

// stream runs orch in a producer goroutine and writes its events to the
// client as SSE. A client disconnect closes the bridge, which stops the
// producer at its next send.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, reqID string, orch *orchestrator.Orchestrator, req *types.ApiRequest, capacity int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	bridge := stream.NewBridge(capacity)
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		defer bridge.Finish()
		orch.Stream(ctx, req, bridge)
	}()
	defer func() {
		bridge.Close()
		<-produced
	}()

	for {
		select {
		case ev, ok := <-bridge.Events():
			if !ok {
				if ctx.Err() != nil {
					h.disconnected()
				}
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Warn("failed to write stream event", "request_id", reqID, "error", err)
				h.disconnected()
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			h.logger.Info("client disconnected during stream", "request_id", reqID)
			h.disconnected()
			return
		}
	}
}

func (h *Handler) disconnected() {
	if h.metrics != nil {
		h.metrics.RecordDisconnect()
	}
}

// writeEvent writes one event as "event: <type>\ndata: <json>\n\n".
func writeEvent(w http.ResponseWriter, ev types.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
