// Package ingress parses dialect-specific request bodies into the unified
// call model. Translators are total: unknown fields are dropped with a
// warning and only missing required fields fail the request.
package ingress

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/mcowger/plexus/internal/unified"
)

// Warning records a lossy or suspicious translation step. Warnings never
// fail the request; they surface in the debug trace.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (w Warning) String() string { return w.Field + ": " + w.Message }

type warnings []Warning

func (ws *warnings) addf(field, format string, args ...interface{}) {
	*ws = append(*ws, Warning{Field: field, Message: fmt.Sprintf(format, args...)})
}

// newRequestID mints the opaque per-request identifier assigned at ingress.
func newRequestID() string {
	return "req_" + uuid.NewString()
}

// invalidf builds the InvalidRequest error for a missing or malformed field.
func invalidf(format string, args ...interface{}) error {
	return unified.NewError(unified.ErrInvalidRequest, format, args...)
}

// parseDataURI splits a data: URI into media type and base64 payload.
func parseDataURI(s string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", false
	}
	rest := s[len("data:"):]
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return "", "", false
	}
	meta := rest[:comma]
	data = rest[comma+1:]
	mediaType = strings.TrimSuffix(meta, ";base64")
	if mediaType == meta {
		// Not base64-encoded; leave to the caller to reject.
		return mediaType, data, false
	}
	return mediaType, data, true
}

// parseJSONArguments parses a tool-call argument string. On failure the
// original string is preserved under the sentinel key so nothing is lost.
func parseJSONArguments(args string, field string, ws *warnings) map[string]interface{} {
	if strings.TrimSpace(args) == "" {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(args), &out); err != nil || out == nil {
		ws.addf(field, "arguments are not valid JSON, forwarding raw")
		return map[string]interface{}{unified.RawInputKey: args}
	}
	return out
}

// toolOutput interprets a tool result payload: parsed JSON when it parses,
// plain text otherwise.
func toolOutput(content string) (jsonValue interface{}, text string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ""
	}
	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			return v, ""
		}
	}
	return nil, content
}

// jsonObject converts a gjson value into a generic map, or nil.
func jsonObject(v gjson.Result) map[string]interface{} {
	if !v.Exists() || !v.IsObject() {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(v.Raw), &out); err != nil {
		return nil
	}
	return out
}

// warnUnknownKeys emits a warning for every top-level key outside known.
func warnUnknownKeys(body []byte, known map[string]bool, ws *warnings) {
	gjson.ParseBytes(body).ForEach(func(key, _ gjson.Result) bool {
		if !known[key.String()] {
			ws.addf(key.String(), "unknown field dropped")
		}
		return true
	})
}

// optFloat returns a *float64 when the field exists.
func optFloat(v gjson.Result) *float64 {
	if !v.Exists() {
		return nil
	}
	f := v.Float()
	return &f
}

// optInt returns a *int64 when the field exists.
func optInt(v gjson.Result) *int64 {
	if !v.Exists() {
		return nil
	}
	n := v.Int()
	return &n
}

// stopSequences accepts a string or an array of strings.
func stopSequences(v gjson.Result) []string {
	if !v.Exists() {
		return nil
	}
	if v.Type == gjson.String {
		return []string{v.String()}
	}
	var out []string
	for _, s := range v.Array() {
		out = append(out, s.String())
	}
	return out
}
