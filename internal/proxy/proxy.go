// Package proxy drives one inference request end to end: decode, classify,
// optionally rewrite, forward, re-encode, then hand the outcome to the
// observers. The forwarding path never waits on storage or metrics.
package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ollamatic/ollamatic/internal/augment"
	"github.com/ollamatic/ollamatic/internal/backend"
	"github.com/ollamatic/ollamatic/internal/experience"
	"github.com/ollamatic/ollamatic/internal/metrics"
	"github.com/ollamatic/ollamatic/internal/protocol"
	"github.com/ollamatic/ollamatic/pkg/tokenizer"
)

// Proxy owns the request pipeline. All fields are set at construction and
// never mutated, so one Proxy serves every request concurrently.
type Proxy struct {
	backend        *backend.Client
	engine         *augment.Engine
	collector      *experience.Collector
	history        metrics.History
	counter        tokenizer.Counter
	augmentDefault bool
}

func New(client *backend.Client, engine *augment.Engine, collector *experience.Collector, history metrics.History, counter tokenizer.Counter, augmentDefault bool) *Proxy {
	if counter == nil {
		counter = tokenizer.Estimate
	}
	return &Proxy{
		backend:        client,
		engine:         engine,
		collector:      collector,
		history:        history,
		counter:        counter,
		augmentDefault: augmentDefault,
	}
}

// Handle serves one inference request. forceAugment turns the rewriting
// pipeline on regardless of the configured default; the plain endpoints pass
// false and inherit the default.
func (p *Proxy) Handle(w http.ResponseWriter, r *http.Request, variant protocol.Variant, kind protocol.Kind, forceAugment bool) {
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorEnvelope(w, variant, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	req, err := protocol.TranslateRequest(body, variant, kind)
	if err != nil {
		writeErrorEnvelope(w, variant, http.StatusBadRequest, err.Error())
		return
	}

	cls := augment.Classify(req.Prompt())
	rc := protocol.RequestContext{
		RequestID: uuid.NewString(),
		Model:     req.Model,
		RawPrompt: req.Prompt(),
		Language:  cls.Language,
		TaskType:  cls.TaskType,
		Stream:    req.Stream,
		Variant:   variant,
		Kind:      kind,
		Augment:   forceAugment || p.augmentDefault,
		Started:   start,
	}

	augmented := false
	if rc.Augment && p.engine != nil {
		if res := p.engine.Rewrite(r.Context(), rc); res.Augmented {
			req.SetPrompt(res.Prompt)
			augmented = true
		}
	}

	tap := metrics.NewTap(p.counter, start)
	endpoint := r.URL.Path

	if req.Stream {
		p.serveStream(w, r, req, rc, tap, endpoint, augmented)
		return
	}
	p.serveComplete(w, r, req, rc, tap, endpoint, augmented)
}

func (p *Proxy) serveComplete(w http.ResponseWriter, r *http.Request, req *protocol.CanonicalRequest, rc protocol.RequestContext, tap *metrics.Tap, endpoint string, augmented bool) {
	ch, err := p.backend.Complete(r.Context(), req)
	if err != nil {
		writeUpstreamError(w, rc.Variant, err)
		p.finalize(rc, endpoint, tap.Finish(false), "", experience.OutcomeFailure, augmented)
		return
	}

	tap.Observe(ch)
	snap := tap.Finish(true)

	payload, err := protocol.EncodeResponse(ch, rc.Variant, rc.Kind, req.Model, protocol.NewStreamID(rc.Started), rc.Started.Unix())
	if err != nil {
		writeErrorEnvelope(w, rc.Variant, http.StatusInternalServerError, "encoding response: "+err.Error())
		p.finalize(rc, endpoint, snap, ch.Content, experience.OutcomeUnknown, augmented)
		return
	}
	w.Header().Set("Content-Type", protocol.ContentType(rc.Variant, false))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)

	outcome := experience.InferOutcome(protocol.StreamCompleted, ch.DoneReason, false)
	p.finalize(rc, endpoint, snap, ch.Content, outcome, augmented)
}

func (p *Proxy) serveStream(w http.ResponseWriter, r *http.Request, req *protocol.CanonicalRequest, rc protocol.RequestContext, tap *metrics.Tap, endpoint string, augmented bool) {
	stream, err := p.backend.Stream(r.Context(), req)
	if err != nil {
		writeUpstreamError(w, rc.Variant, err)
		p.finalize(rc, endpoint, tap.Finish(false), "", experience.OutcomeFailure, augmented)
		return
	}

	flusher, _ := w.(http.Flusher)
	sw := protocol.NewStreamWriter(w, flusher, rc.Variant, rc.Kind, req.Model, rc.Started)

	var (
		response      strings.Builder
		doneReason    string
		upstreamErr   bool
		headerWritten bool
	)
	for ch := range stream {
		if ch.Err != nil {
			if !headerWritten {
				// Nothing has reached the client yet; a real error
				// envelope with a status code is still possible.
				writeUpstreamError(w, rc.Variant, ch.Err)
			} else if errors.Is(ch.Err, context.Canceled) {
				sw.Abort("client disconnected")
			} else {
				sw.Abort(upstreamMessage(ch.Err))
			}
			upstreamErr = !errors.Is(ch.Err, context.Canceled)
			break
		}

		if !headerWritten {
			w.Header().Set("Content-Type", protocol.ContentType(rc.Variant, true))
			w.WriteHeader(http.StatusOK)
			headerWritten = true
		}

		tap.Observe(ch)
		response.WriteString(ch.Content)
		if ch.Done {
			doneReason = ch.DoneReason
		}
		if err := sw.Write(ch); err != nil {
			sw.Abort("client disconnected")
			break
		}
	}

	complete := sw.State() == protocol.StreamCompleted
	snap := tap.Finish(complete)
	outcome := experience.InferOutcome(sw.State(), doneReason, upstreamErr)
	p.finalize(rc, endpoint, snap, response.String(), outcome, augmented)
}

// finalize runs the observers after the client-facing exchange is over. It
// uses a fresh context: the request context may already be cancelled.
func (p *Proxy) finalize(rc protocol.RequestContext, endpoint string, snap metrics.Snapshot, response string, outcome experience.Outcome, augmented bool) {
	metrics.RecordRequest(endpoint, rc.Model, snap)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.history.Record(ctx, metrics.NewEntry(rc.RequestID, endpoint, rc.Model, snap, augmented)); err != nil {
		slog.Warn("recording request history failed", "request_id", rc.RequestID, "error", err)
	}

	if p.collector != nil {
		p.collector.Offer(experience.Record{
			Context:  rc,
			Snapshot: snap,
			Response: response,
			Outcome:  outcome,
		})
	}

	slog.Info("request served",
		"request_id", rc.RequestID,
		"endpoint", endpoint,
		"model", rc.Model,
		"outcome", string(outcome),
		"augmented", augmented,
		"tokens_out", snap.TokensOut,
		"duration_ms", snap.TotalDuration.Milliseconds(),
	)
}

func writeErrorEnvelope(w http.ResponseWriter, variant protocol.Variant, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(protocol.EncodeError(message, variant))
}

// writeUpstreamError re-encodes a backend failure into the client's error
// envelope, keeping the upstream status when one was reported.
func writeUpstreamError(w http.ResponseWriter, variant protocol.Variant, err error) {
	status := http.StatusBadGateway
	var ue *protocol.UpstreamError
	if errors.As(err, &ue) {
		status = ue.StatusCode
	}
	writeErrorEnvelope(w, variant, status, upstreamMessage(err))
}

func upstreamMessage(err error) string {
	var ue *protocol.UpstreamError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return err.Error()
}
