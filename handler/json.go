package handler

import (
	"encoding/json"
	"net/http"

	"github.com/solix/warehouse-gateway/gwerr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorEnvelope is the canonical error shape (§6): {error, message, extensions?}.
type errorEnvelope struct {
	Error      string                 `json:"error"`
	Message    string                 `json:"message"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// writeError maps a typed gwerr.Error to its HTTP status and envelope; any
// other error is surfaced as a 500 INTERNAL without leaking detail.
func writeError(w http.ResponseWriter, err error) {
	var ge *gwerr.Error
	if e, ok := err.(*gwerr.Error); ok {
		ge = e
	}
	if ge == nil {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: string(gwerr.KindInternal), Message: "internal error"})
		return
	}

	if ge.Kind == gwerr.KindRateLimitExceeded {
		writeRateLimitHeaders(w, ge.Extensions)
	}
	writeJSON(w, ge.HTTPStatus(), errorEnvelope{Error: string(ge.Kind), Message: ge.Message, Extensions: ge.Extensions})
}

func writeRateLimitHeaders(w http.ResponseWriter, ext map[string]interface{}) {
	if ext == nil {
		return
	}
	limit, limitOK := ext["limit"].(int)
	used, usedOK := ext["used"].(int)
	if limitOK {
		w.Header().Set("X-RateLimit-Limit", toHeaderString(limit))
	}
	if limitOK && usedOK {
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", toHeaderString(remaining))
	}
	if retryAfter, ok := ext["retryAfter"]; ok {
		w.Header().Set("Retry-After", toHeaderString(retryAfter))
	}
}

func toHeaderString(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
