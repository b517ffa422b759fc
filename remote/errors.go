package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the closed set of failure categories surfaced by the client.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidCredential
	KindInsufficientCredits
	KindNotFound
	KindRateLimited
	KindServerError
	KindRequestRejected
	KindTimeout
	KindMalformedResponse
	// KindNetwork is a connection-level failure that outlived the retries.
	KindNetwork
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindInvalidCredential:   "invalid_credential",
	KindInsufficientCredits: "insufficient_credits",
	KindNotFound:            "not_found",
	KindRateLimited:         "rate_limited",
	KindServerError:         "server_error",
	KindRequestRejected:     "request_rejected",
	KindTimeout:             "timeout",
	KindMalformedResponse:   "malformed_response",
	KindNetwork:             "network",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message returns the fixed user-facing wording for the kind.
func (k Kind) Message() string {
	switch k {
	case KindInvalidCredential:
		return "Invalid API key. Check your translation service credentials."
	case KindInsufficientCredits:
		return "Insufficient credits. Top up your translation service account."
	case KindNotFound:
		return "Translation service endpoint not found. Check the API URL."
	case KindRateLimited:
		return "Translation service rate limit exceeded. Try again later."
	case KindServerError:
		return "Translation service error. Try again later."
	case KindRequestRejected:
		return "Translation request was rejected by the service."
	case KindTimeout:
		return "Translation job stopped making progress and timed out."
	case KindMalformedResponse:
		return "Unexpected response from the translation service."
	case KindNetwork:
		return "Cannot reach the translation service."
	}
	return "Translation failed."
}

// Error is a classified client failure. Error() returns only the short
// user message; Diagnostic holds the status code and raw body and may
// contain response content that must stay out of normal logs.
type Error struct {
	Kind       Kind
	Status     int
	Diagnostic string
	Cause      error
}

func (e *Error) Error() string {
	return e.Kind.Message()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of a classified error anywhere in err's chain,
// or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// DiagnosticOf returns the diagnostic of a classified error, or err's text.
func DiagnosticOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Diagnostic != "" {
		return e.Diagnostic
	}
	return err.Error()
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// errorBody is the service error document:
//
//	{"error": "...", "message": "...", "details": ...}
//
// where error or details may instead hold a provider envelope
//
//	{"type": "error", "error": {"type": "...", "message": "..."}}
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

type envelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Classify converts a non-2xx response into a classified error.
func Classify(status int, body []byte) *Error {
	text := serviceMessage(body)

	fallback := KindRequestRejected
	switch {
	case status == http.StatusNotFound:
		fallback = KindNotFound
	case status >= 500:
		fallback = KindServerError
	}

	return &Error{
		Kind:       classify(status, text, fallback),
		Status:     status,
		Diagnostic: fmt.Sprintf("HTTP %d: %s", status, truncate(strings.TrimSpace(string(body)), 500)),
	}
}

// classify applies the precedence credits, credential, not found, rate
// limit, server error and finally fallback. A zero status skips the
// status-based checks.
func classify(status int, text string, fallback Kind) Kind {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, "credit", "insufficient balance", "insufficient funds", "balance too low"):
		return KindInsufficientCredits
	case status == http.StatusUnauthorized || status == http.StatusForbidden,
		containsAny(t, "authentication", "unauthenticated", "unauthorized", "not authorized",
			"api key", "api-key", "api_key", "apikey"):
		return KindInvalidCredential
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests,
		containsAny(t, "rate limit", "rate_limit", "ratelimit", "too many requests"):
		return KindRateLimited
	case status >= 500:
		return KindServerError
	}
	return fallback
}

// serviceMessage extracts every human-readable fragment of an error body,
// most specific first. Unparseable bodies are used verbatim.
func serviceMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return string(body)
	}

	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(eb.Message)
	for _, raw := range []json.RawMessage{eb.Error, eb.Details} {
		if len(raw) == 0 {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			add(s)
			continue
		}
		var env envelope
		if json.Unmarshal(raw, &env) == nil {
			add(env.Error.Message)
			add(env.Error.Type)
			add(env.Type)
		}
	}
	return strings.Join(parts, "; ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
