package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yansir/cc-relayer/internal/convert"
	"github.com/yansir/cc-relayer/internal/events"
	"github.com/yansir/cc-relayer/internal/openaiadapter"
	"github.com/yansir/cc-relayer/internal/schema"
	"github.com/yansir/cc-relayer/internal/upstream"
	"github.com/yansir/cc-relayer/internal/wire"
)

// handleMessages implements POST /v1/messages (§4.11).
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req wire.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Type: "error", Error: wire.ErrorResponseBody{Type: "invalid_request_error", Message: "invalid JSON body"}})
		return
	}
	if req.Messages == nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Type: "error", Error: wire.ErrorResponseBody{Type: "invalid_request_error", Message: "messages must be an array"}})
		return
	}

	if s.pool.IsAllRateLimited() {
		s.pool.ResetAllRateLimits()
	}

	vendorReq, info := convert.BuildVendorRequest(req, modelPrefix, s.sigCache)
	if err := s.throttle(r.Context(), info.Family); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	result, err := s.upstream.Dispatch(r.Context(), info.NormalizedName, vendorReq, req.Stream, info.Family == schema.FamilyC, info.IsThinking, s.sigCache)
	if err != nil {
		s.recordRequest(events.RequestRecord{Model: info.NormalizedName, Status: "error", DurationMs: time.Since(start).Milliseconds()})
		writeError(w, err)
		return
	}

	if req.Stream {
		writeSSE(w, result.Events)
	} else {
		writeJSON(w, http.StatusOK, result.NonStreaming)
	}

	s.recordRequest(events.RequestRecord{
		Model: info.NormalizedName, AccountID: accountID(result), Status: "ok",
		DurationMs: time.Since(start).Milliseconds(),
		InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens,
	})
}

// handleChatCompletions implements POST /chat/completions, translating
// through the OpenAI adapter on both sides (§4.8, §4.11).
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var oaReq openaiadapter.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&oaReq); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Type: "error", Error: wire.ErrorResponseBody{Type: "invalid_request_error", Message: "invalid JSON body"}})
		return
	}

	req, err := openaiadapter.ToAnthropicRequest(oaReq)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Type: "error", Error: wire.ErrorResponseBody{Type: "invalid_request_error", Message: err.Error()}})
		return
	}

	if s.pool.IsAllRateLimited() {
		s.pool.ResetAllRateLimits()
	}

	vendorReq, info := convert.BuildVendorRequest(req, modelPrefix, s.sigCache)
	if err := s.throttle(r.Context(), info.Family); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	result, err := s.upstream.Dispatch(r.Context(), info.NormalizedName, vendorReq, req.Stream, info.Family == schema.FamilyC, info.IsThinking, s.sigCache)
	if err != nil {
		s.recordRequest(events.RequestRecord{Model: info.NormalizedName, Status: "error", DurationMs: time.Since(start).Milliseconds()})
		writeError(w, err)
		return
	}

	if req.Stream {
		writeOpenAISSE(w, info.NormalizedName, result.Events)
	} else {
		writeJSON(w, http.StatusOK, openaiadapter.FromAnthropicResponse(*result.NonStreaming))
	}

	s.recordRequest(events.RequestRecord{
		Model: info.NormalizedName, AccountID: accountID(result), Status: "ok",
		DurationMs: time.Since(start).Milliseconds(),
		InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens,
	})
}

// handleCountTokens implements POST /v1/messages/count_tokens: unimplemented
// per §6.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, wire.ErrorResponse{
		Type:  "error",
		Error: wire.ErrorResponseBody{Type: "not_implemented_error", Message: "count_tokens is not implemented"},
	})
}

// staticModels is served when upstream model discovery fails (e.g. no
// account is available yet).
var staticModels = []wire.VendorModel{
	{Name: "models/gemini-3-pro", DisplayName: "Gemini 3 Pro"},
	{Name: "models/gemini-3-flash", DisplayName: "Gemini 3 Flash"},
	{Name: "models/claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5"},
}

// handleModels implements GET /v1/models (§6).
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.upstream.ListModels(r.Context())
	if err != nil || len(models) == 0 {
		models = staticModels
	}

	data := make([]map[string]interface{}, len(models))
	now := time.Now().Unix()
	for i, m := range models {
		data[i] = map[string]interface{}{
			"id":          modelPrefix + shortModelName(m.Name),
			"object":      "model",
			"created":     now,
			"owned_by":    "cloud-code",
			"description": m.DisplayName,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"object": "list", "data": data})
}

// handleHealth implements GET /health, exempt from authentication (§4.11).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "store": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"uptime_seconds":   int(time.Since(s.startTime).Seconds()),
		"accounts_total":   s.pool.Count(),
		"recent_requests":  len(s.ring.Recent()),
	})
}

func accountID(r *upstream.Result) string {
	if r == nil || r.Account == nil {
		return ""
	}
	return r.Account.Email
}

func shortModelName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}

func writeSSE(w http.ResponseWriter, stream []convert.StreamEvent) {
	setSSEHeaders(w)
	flusher, _ := w.(http.Flusher)
	for _, ev := range stream {
		data, _ := json.Marshal(ev.Data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeOpenAISSE(w http.ResponseWriter, model string, stream []convert.StreamEvent) {
	setSSEHeaders(w)
	flusher, _ := w.(http.Flusher)
	state := openaiadapter.NewStreamState(model)
	for _, ev := range stream {
		chunk := state.Feed(ev)
		if chunk == nil {
			continue
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}
