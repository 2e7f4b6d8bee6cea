// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package http is the chi-routed JSON adapter over control.ControlService
// (spec.md §6). It is a thin transport: every handler decodes a request,
// calls the service, and encodes the result — no control-plane logic
// lives here.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/retrovue/playoutd/internal/control"
	"github.com/retrovue/playoutd/internal/domain/blockplan"
	"github.com/retrovue/playoutd/internal/perr"
)

// RateLimitConfig mirrors the teacher's middleware.RateLimitConfig shape:
// a sliding-window request cap with an IP (or custom) key func. There is
// no whitelist bypass.
type RateLimitConfig struct {
	RequestLimit int
	WindowSize   time.Duration
	KeyFunc      func(r *http.Request) (string, error)
}

// rateLimit wraps next with an httprate sliding-window limiter, matching
// the teacher's internal/api/middleware.RateLimit response shape (a JSON
// 429 body plus Retry-After/X-RateLimit-Limit headers).
func rateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowSize.Seconds())))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestLimit))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"too many requests, retry later"}`))
		}),
	)
}

// NewRouter builds the control-surface HTTP router. feedLimit/liveLimit
// rate-limit FeedBlockPlan and SwitchToLive respectively (spec.md's
// DOMAIN STACK: "httprate rate-limits FeedBlockPlan/SwitchToLive").
func NewRouter(svc control.ControlService, feedLimit, liveLimit RateLimitConfig) chi.Router {
	r := chi.NewRouter()
	h := &handler{svc: svc}

	r.Get("/version", h.getVersion)
	r.Get("/openapi.yaml", serveOpenAPIDoc)
	r.Post("/channels/{channel}/start", h.startChannel)
	r.Post("/channels/{channel}/plan", h.updatePlan)
	r.Post("/channels/{channel}/stop", h.stopChannel)

	r.Post("/channels/{channel}/stream/attach", h.attachStream)
	r.Post("/channels/{channel}/stream/detach", h.detachStream)

	r.Post("/channels/{channel}/preview", h.loadPreview)
	r.With(rateLimit(liveLimit)).Post("/channels/{channel}/live", h.switchToLive)

	r.Post("/channels/{channel}/blockplan/start", h.startBlockPlanSession)
	r.With(rateLimit(feedLimit)).Post("/channels/{channel}/blockplan/feed", h.feedBlockPlan)
	r.Post("/channels/{channel}/blockplan/stop", h.stopBlockPlanSession)
	r.Get("/channels/{channel}/blockplan/events", h.subscribeBlockEvents)

	return r
}

type handler struct {
	svc control.ControlService
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, perr.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, perr.ErrAlreadyExists):
		status, code = http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, perr.ErrAlreadyActive):
		status, code = http.StatusConflict, "ALREADY_ACTIVE"
	case errors.Is(err, perr.ErrStreamNotAttached):
		status, code = http.StatusConflict, "STREAM_NOT_ATTACHED"
	case errors.Is(err, perr.ErrNotContiguous):
		status, code = http.StatusUnprocessableEntity, "NOT_CONTIGUOUS"
	case errors.Is(err, perr.ErrNoSession):
		status, code = http.StatusConflict, "NO_SESSION"
	case errors.Is(err, perr.ErrRejectedBusy):
		status, code = http.StatusConflict, "REJECTED_BUSY"
	case errors.Is(err, perr.ErrNotReady):
		status, code = http.StatusConflict, "NOT_READY"
	case errors.Is(err, perr.ErrProtocolViolation):
		status, code = http.StatusBadRequest, "PROTOCOL_VIOLATION"
	}
	writeJSON(w, status, map[string]string{"error": code, "detail": err.Error()})
}

func channelParam(r *http.Request) string {
	return chi.URLParam(r, "channel")
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		return err
	}
	return nil
}

func serveOpenAPIDoc(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPIDoc)
}

func (h *handler) getVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetVersion(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": v})
}

func (h *handler) startChannel(w http.ResponseWriter, r *http.Request) {
	var req control.StartChannelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, err.Error()))
		return
	}
	req.Channel = channelParam(r)
	res, err := h.svc.StartChannel(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) updatePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanHandle string `json:"plan_handle"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, err.Error()))
		return
	}
	res, err := h.svc.UpdatePlan(r.Context(), channelParam(r), req.PlanHandle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) stopChannel(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.StopChannel(r.Context(), channelParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) attachStream(w http.ResponseWriter, r *http.Request) {
	var req control.AttachStreamRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, err.Error()))
		return
	}
	req.Channel = channelParam(r)
	res, err := h.svc.AttachStream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) detachStream(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, err.Error()))
		return
	}
	res, err := h.svc.DetachStream(r.Context(), channelParam(r), req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) loadPreview(w http.ResponseWriter, r *http.Request) {
	var req control.LoadPreviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, err.Error()))
		return
	}
	req.Channel = channelParam(r)
	res, err := h.svc.LoadPreview(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) switchToLive(w http.ResponseWriter, r *http.Request) {
	var req control.SwitchToLiveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, err.Error()))
		return
	}
	req.Channel = channelParam(r)
	res, err := h.svc.SwitchToLive(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// wireBlock is the JSON wire shape of a caller-supplied block. It is kept
// separate from blockplan.ScheduledBlock the same way the transmission
// log's txLogRecord is kept separate from it: domain types carry no json
// tags, so every wire boundary owns its own tagged mirror.
type wireBlock struct {
	BlockID    string `json:"block_id"`
	StartUTCMs int64  `json:"start_utc_ms"`
	EndUTCMs   int64  `json:"end_utc_ms"`
}

func (b wireBlock) toScheduledBlock(channel string) blockplan.ScheduledBlock {
	return blockplan.ScheduledBlock{BlockID: b.BlockID, Channel: channel, StartUTCMs: b.StartUTCMs, EndUTCMs: b.EndUTCMs}
}

func (h *handler) startBlockPlanSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BlockA            wireBlock `json:"block_a"`
		BlockB            wireBlock `json:"block_b"`
		ProgramFormatJSON string    `json:"program_format_json"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, err.Error()))
		return
	}
	channel := channelParam(r)
	req := control.StartBlockPlanSessionRequest{
		Channel:           channel,
		BlockA:            body.BlockA.toScheduledBlock(channel),
		BlockB:            body.BlockB.toScheduledBlock(channel),
		ProgramFormatJSON: body.ProgramFormatJSON,
	}
	res, err := h.svc.StartBlockPlanSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) feedBlockPlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Block wireBlock `json:"block"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, err.Error()))
		return
	}
	channel := channelParam(r)
	res, err := h.svc.FeedBlockPlan(r.Context(), channel, body.Block.toScheduledBlock(channel))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) stopBlockPlanSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, err.Error()))
		return
	}
	res, err := h.svc.StopBlockPlanSession(r.Context(), channelParam(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) subscribeBlockEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, perr.Wrap(perr.ErrProtocolViolation, "subscribeBlockEvents: streaming not supported by response writer"))
		return
	}

	events, unsubscribe, err := h.svc.SubscribeBlockEvents(r.Context(), channelParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
