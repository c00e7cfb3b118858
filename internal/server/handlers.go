package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mcowger/plexus/internal/accounting"
	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/egress"
	"github.com/mcowger/plexus/internal/ingress"
	"github.com/mcowger/plexus/internal/router"
	"github.com/mcowger/plexus/internal/trace"
	"github.com/mcowger/plexus/internal/unified"
)

// transducer is the per-dialect streaming translator.
type transducer interface {
	Push(ev unified.StreamEvent) []egress.Frame
	Finished() bool
}

func wireID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func (s *Server) handleOpenAIChat(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, unified.DialectOpenAIChat, unified.WrapError(unified.ErrInvalidRequest, err, "read request body"))
		return
	}
	req, warns, err := ingress.ParseOpenAIChat(body)
	if err != nil {
		writeError(c, unified.DialectOpenAIChat, err)
		return
	}
	s.serve(c, body, req, warns)
}

func (s *Server) handleOpenAIResponses(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, unified.DialectOpenAIResponses, unified.WrapError(unified.ErrInvalidRequest, err, "read request body"))
		return
	}
	req, warns, err := ingress.ParseOpenAIResponses(body)
	if err != nil {
		writeError(c, unified.DialectOpenAIResponses, err)
		return
	}
	s.serve(c, body, req, warns)
}

func (s *Server) handleAnthropic(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, unified.DialectAnthropic, unified.WrapError(unified.ErrInvalidRequest, err, "read request body"))
		return
	}
	req, warns, err := ingress.ParseAnthropic(body)
	if err != nil {
		writeError(c, unified.DialectAnthropic, err)
		return
	}
	s.serve(c, body, req, warns)
}

// handleGemini resolves the model and action packed into the final path
// segment: /v1beta/models/<model>:generateContent.
func (s *Server) handleGemini(c *gin.Context) {
	action := strings.TrimPrefix(c.Param("action"), "/")
	model, verb, ok := strings.Cut(action, ":")
	if !ok || model == "" {
		writeError(c, unified.DialectGemini, unified.NewError(unified.ErrInvalidRequest, "malformed model action %q", action))
		return
	}
	var stream bool
	switch verb {
	case "generateContent":
		stream = false
	case "streamGenerateContent":
		stream = true
	default:
		writeError(c, unified.DialectGemini, unified.NewError(unified.ErrInvalidRequest, "unsupported action %q", verb))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, unified.DialectGemini, unified.WrapError(unified.ErrInvalidRequest, err, "read request body"))
		return
	}
	req, warns, err := ingress.ParseGemini(body, model, stream)
	if err != nil {
		writeError(c, unified.DialectGemini, err)
		return
	}
	s.serve(c, body, req, warns)
}

// serve runs the shared pipeline: resolve, dispatch, translate, account.
func (s *Server) serve(c *gin.Context, rawBody []byte, req *unified.Request, warns []ingress.Warning) {
	snap := s.deps.Holder.Get()

	rt := s.deps.Tracer.Begin(req.RequestID, c.Request.Method, c.Request.URL.Path)
	rt.SetIngress(req.IncomingDialect, c.Request.Header, rawBody)
	rt.SetUnified(req, warns)
	defer rt.Finish()

	for _, w := range warns {
		logrus.WithFields(logrus.Fields{
			"request_id": req.RequestID,
			"field":      w.Field,
		}).Debug(w.Message)
	}

	candidates, _, err := s.deps.Router.Resolve(snap, req.Model, req)
	if err != nil {
		rt.SetError(err)
		writeError(c, req.IncomingDialect, err)
		return
	}

	ctx := c.Request.Context()
	if t := snap.Config.Resilience.Retry.RequestTimeoutS; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t)*time.Second)
		defer cancel()
	}

	if req.Stream {
		s.serveStream(c, ctx, snap, candidates, req, rt)
		return
	}
	s.serveOnce(c, ctx, snap, candidates, req, rt)
}

func (s *Server) serveOnce(c *gin.Context, ctx context.Context, snap *config.Snapshot, candidates []router.Candidate, req *unified.Request, rt *trace.RequestTrace) {
	start := time.Now()
	resp, err := s.deps.Dispatcher.Execute(ctx, snap, candidates, req)
	if err != nil {
		rt.SetError(err)
		s.deps.Accounting.RecordCompletion(accounting.Completion{
			Request: req,
			Latency: time.Since(start),
			Err:     err,
		})
		writeError(c, req.IncomingDialect, err)
		return
	}

	rt.SetProvider(resp.Provider, resp.ProviderModel)
	body := buildResponseBody(req.IncomingDialect, resp, req.Model)
	rt.SetResponse(http.StatusOK, body)
	c.JSON(http.StatusOK, body)

	s.deps.Accounting.RecordCompletion(accounting.Completion{
		Request:       req,
		Provider:      resp.Provider,
		ProviderModel: resp.ProviderModel,
		Usage:         resp.Usage,
		OutputText:    resp.Text(),
		Latency:       time.Since(start),
	})
}

func buildResponseBody(dialect unified.Dialect, resp *unified.Response, model string) map[string]interface{} {
	switch dialect {
	case unified.DialectOpenAIResponses:
		return egress.BuildOpenAIResponses(resp, model)
	case unified.DialectAnthropic:
		return egress.BuildAnthropic(resp, model)
	case unified.DialectGemini:
		return egress.BuildGemini(resp, model)
	default:
		return egress.BuildOpenAIChat(resp, model)
	}
}

func newTransducer(dialect unified.Dialect, model string) transducer {
	switch dialect {
	case unified.DialectOpenAIResponses:
		return egress.NewResponsesTransducer(wireID("resp_"), model)
	case unified.DialectAnthropic:
		return egress.NewAnthropicTransducer(wireID("msg_"), model)
	case unified.DialectGemini:
		return egress.NewGeminiTransducer(model)
	default:
		return egress.NewChatTransducer(wireID("chatcmpl-"), model)
	}
}

// eventSummary renders one neutral event for the trace capture.
func eventSummary(ev unified.StreamEvent) string {
	b, _ := json.Marshal(map[string]interface{}{
		"type":  ev.Type,
		"id":    ev.ID,
		"text":  ev.Text,
		"delta": ev.Delta,
	})
	return string(b)
}

func (s *Server) serveStream(c *gin.Context, ctx context.Context, snap *config.Snapshot, candidates []router.Candidate, req *unified.Request, rt *trace.RequestTrace) {
	tr := newTransducer(req.IncomingDialect, req.Model)
	flusher, _ := c.Writer.(http.Flusher)

	var (
		wroteFrames bool
		outputText  strings.Builder
		usage       unified.Usage
	)

	writeFrame := func(f egress.Frame) {
		if !wroteFrames {
			// SSE headers go out with the first frame so a pre-stream
			// failure can still answer with a plain JSON error.
			c.Writer.Header().Set("Content-Type", "text/event-stream")
			c.Writer.Header().Set("Cache-Control", "no-cache")
			c.Writer.Header().Set("Connection", "keep-alive")
			c.Writer.Header().Set("X-Accel-Buffering", "no")
			wroteFrames = true
		}
		data := f.Encode()
		rt.AddClientChunk(data)
		_, _ = c.Writer.WriteString(data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	emit := func(ev unified.StreamEvent) {
		rt.AddProviderChunk(eventSummary(ev))
		switch ev.Type {
		case unified.EventTextDelta:
			outputText.WriteString(ev.Text)
		case unified.EventFinish:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		}
		for _, f := range tr.Push(ev) {
			writeFrame(f)
		}
	}

	start := time.Now()
	served, err := s.deps.Dispatcher.ExecuteStream(ctx, snap, candidates, req, emit)

	provider, providerModel := "", ""
	if served != nil {
		provider, providerModel = served.Provider.Name, served.Model
		rt.SetProvider(provider, providerModel)
	}

	if err != nil {
		rt.SetError(err)
		if !wroteFrames {
			// Nothing reached the client yet; answer like a
			// non-streaming failure.
			writeError(c, req.IncomingDialect, err)
			s.deps.Accounting.RecordCompletion(accounting.Completion{
				Request:       req,
				Provider:      provider,
				ProviderModel: providerModel,
				Latency:       time.Since(start),
				Streamed:      true,
				Err:           err,
			})
			return
		}
	}

	if wroteFrames && tr.Finished() && req.IncomingDialect == unified.DialectOpenAIChat {
		writeFrame(egress.DoneFrame)
	}

	s.deps.Accounting.RecordCompletion(accounting.Completion{
		Request:       req,
		Provider:      provider,
		ProviderModel: providerModel,
		Usage:         usage,
		OutputText:    outputText.String(),
		Latency:       time.Since(start),
		Streamed:      true,
		Err:           err,
	})
}
