// Package trace captures per-request debug traces: bodies, headers, and
// stream chunks at every pipeline seam, bounded in size and persisted
// asynchronously.
package trace

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/dispatch"
	"github.com/mcowger/plexus/internal/ingress"
	"github.com/mcowger/plexus/internal/unified"
)

// Trace is the full capture of one request.
type Trace struct {
	RequestID string    `json:"request_id"`
	Dialect   string    `json:"dialect"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"started_at"`

	IngressHeaders map[string]string `json:"ingress_headers,omitempty"`
	IngressBody    json.RawMessage   `json:"ingress_body,omitempty"`
	UnifiedRequest json.RawMessage   `json:"unified_request,omitempty"`
	Warnings       []ingress.Warning `json:"warnings,omitempty"`

	Provider      string `json:"provider,omitempty"`
	ProviderModel string `json:"provider_model,omitempty"`

	Attempts []dispatch.Attempt `json:"attempts,omitempty"`

	ProviderChunks       []string `json:"provider_chunks,omitempty"`
	ProviderChunksDropped int     `json:"provider_chunks_dropped,omitempty"`
	ClientChunks         []string `json:"client_chunks,omitempty"`
	ClientChunksDropped  int      `json:"client_chunks_dropped,omitempty"`

	ClientStatus   int             `json:"client_status,omitempty"`
	ClientResponse json.RawMessage `json:"client_response,omitempty"`
	Error          string          `json:"error,omitempty"`
	DurationMS     int64           `json:"duration_ms"`
}

// Sink persists completed traces.
type Sink interface {
	SaveTrace(t *Trace) error
}

// Tracer owns the bounded async persistence queue.
type Tracer struct {
	cfg  config.TraceConfig
	sink Sink

	mu    sync.Mutex
	queue []*Trace
	wake  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	activeMu sync.Mutex
	active   map[string]*RequestTrace
}

// New creates a tracer writing to sink. Start must be called before traces
// are persisted.
func New(cfg config.TraceConfig, sink Sink) *Tracer {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 500
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = 4096
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Tracer{
		cfg:    cfg,
		sink:   sink,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		active: make(map[string]*RequestTrace),
	}
}

// Start launches the persistence worker.
func (t *Tracer) Start() {
	t.wg.Add(1)
	go t.run()
}

// Stop drains the queue and stops the worker.
func (t *Tracer) Stop() {
	close(t.done)
	t.wg.Wait()
}

func (t *Tracer) run() {
	defer t.wg.Done()
	for {
		select {
		case <-t.wake:
			t.flush()
		case <-t.done:
			t.flush()
			return
		}
	}
}

func (t *Tracer) flush() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return
		}
		tr := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		if err := t.sink.SaveTrace(tr); err != nil {
			logrus.WithError(err).WithField("request_id", tr.RequestID).Warn("trace persistence failed")
		}
	}
}

// enqueue appends a completed trace, dropping the oldest when the queue
// is full.
func (t *Tracer) enqueue(tr *Trace) {
	t.mu.Lock()
	if len(t.queue) >= t.cfg.QueueSize {
		dropped := t.queue[0]
		t.queue = t.queue[1:]
		logrus.WithField("request_id", dropped.RequestID).Warn("trace queue full, oldest trace dropped")
	}
	t.queue = append(t.queue, tr)
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Begin opens a capture for one request. Returns nil when tracing is
// disabled; RequestTrace methods tolerate a nil receiver.
func (t *Tracer) Begin(requestID, method, path string) *RequestTrace {
	if !t.cfg.Enabled {
		return nil
	}
	rt := &RequestTrace{
		tracer: t,
		trace: Trace{
			RequestID: requestID,
			Method:    method,
			Path:      path,
			StartedAt: time.Now(),
		},
	}
	t.activeMu.Lock()
	t.active[requestID] = rt
	t.activeMu.Unlock()
	return rt
}

// ObserveAttempt routes a dispatch attempt to the owning capture. Attempts
// for unknown or already-finished requests are dropped.
func (t *Tracer) ObserveAttempt(requestID string, a dispatch.Attempt) {
	t.activeMu.Lock()
	rt := t.active[requestID]
	t.activeMu.Unlock()
	rt.AddAttempt(a)
}

// RequestTrace accumulates one request's capture. It is owned by a single
// handler goroutine; no locking.
type RequestTrace struct {
	tracer *Tracer
	trace  Trace
	closed bool
}

// redactedHeaders copies headers with credential values masked.
func redactedHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "x-goog-api-key", "api-key":
			out[k] = "[redacted]"
		default:
			out[k] = v[0]
		}
	}
	return out
}

// SetIngress records the raw client request.
func (rt *RequestTrace) SetIngress(dialect unified.Dialect, headers http.Header, body []byte) {
	if rt == nil {
		return
	}
	rt.trace.Dialect = string(dialect)
	rt.trace.IngressHeaders = redactedHeaders(headers)
	rt.trace.IngressBody = json.RawMessage(body)
}

// elidedDataMaxBytes bounds inline base64 payloads kept in a trace.
const elidedDataMaxBytes = 256

// elideInlineData replaces large base64 payloads in the captured unified
// request so image and audio parts do not bloat the debug log table.
func elideInlineData(body []byte) []byte {
	for i, msg := range gjson.GetBytes(body, "messages").Array() {
		for j, part := range msg.Get("parts").Array() {
			data := part.Get("data")
			if !data.Exists() || len(data.String()) <= elidedDataMaxBytes {
				continue
			}
			path := fmt.Sprintf("messages.%d.parts.%d.data", i, j)
			replacement := fmt.Sprintf("[%d bytes elided]", len(data.String()))
			if out, err := sjson.SetBytes(body, path, replacement); err == nil {
				body = out
			}
		}
	}
	return body
}

// SetUnified records the translated request and its warnings.
func (rt *RequestTrace) SetUnified(req *unified.Request, warnings []ingress.Warning) {
	if rt == nil {
		return
	}
	if b, err := json.Marshal(req); err == nil {
		rt.trace.UnifiedRequest = elideInlineData(b)
	}
	rt.trace.Warnings = warnings
}

// SetProvider records the serving provider once dispatch settles.
func (rt *RequestTrace) SetProvider(provider, model string) {
	if rt == nil {
		return
	}
	rt.trace.Provider = provider
	rt.trace.ProviderModel = model
}

// AddAttempt records a dispatch attempt.
func (rt *RequestTrace) AddAttempt(a dispatch.Attempt) {
	if rt == nil {
		return
	}
	rt.trace.Attempts = append(rt.trace.Attempts, a)
}

func (rt *RequestTrace) capChunk(s string) string {
	if len(s) > rt.tracer.cfg.MaxChunkBytes {
		return s[:rt.tracer.cfg.MaxChunkBytes]
	}
	return s
}

// AddProviderChunk records one upstream stream event, capped by count and
// per-chunk size.
func (rt *RequestTrace) AddProviderChunk(chunk string) {
	if rt == nil {
		return
	}
	if len(rt.trace.ProviderChunks) >= rt.tracer.cfg.MaxChunks {
		rt.trace.ProviderChunksDropped++
		return
	}
	rt.trace.ProviderChunks = append(rt.trace.ProviderChunks, rt.capChunk(chunk))
}

// AddClientChunk records one downstream SSE frame, capped likewise.
func (rt *RequestTrace) AddClientChunk(chunk string) {
	if rt == nil {
		return
	}
	if len(rt.trace.ClientChunks) >= rt.tracer.cfg.MaxChunks {
		rt.trace.ClientChunksDropped++
		return
	}
	rt.trace.ClientChunks = append(rt.trace.ClientChunks, rt.capChunk(chunk))
}

// SetResponse records the final non-streaming client response.
func (rt *RequestTrace) SetResponse(status int, body interface{}) {
	if rt == nil {
		return
	}
	rt.trace.ClientStatus = status
	if b, err := json.Marshal(body); err == nil {
		rt.trace.ClientResponse = b
	}
}

// SetError records the terminal failure.
func (rt *RequestTrace) SetError(err error) {
	if rt == nil || err == nil {
		return
	}
	rt.trace.Error = err.Error()
}

// Finish completes the capture and hands it to the persistence queue.
// Safe to call once; later calls are ignored.
func (rt *RequestTrace) Finish() {
	if rt == nil || rt.closed {
		return
	}
	rt.closed = true
	rt.trace.DurationMS = time.Since(rt.trace.StartedAt).Milliseconds()
	rt.tracer.activeMu.Lock()
	delete(rt.tracer.active, rt.trace.RequestID)
	rt.tracer.activeMu.Unlock()
	rt.tracer.enqueue(&rt.trace)
}
