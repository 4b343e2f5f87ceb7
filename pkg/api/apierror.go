// Package api exposes the intent dispatch pipeline over HTTP.
//
// Transport-level failures are reported as RFC 7807 problem documents.
// Determined dispatch outcomes, including authorization denials, are not
// transport failures: they ship as a normal 200 result envelope and carry
// their own machine code.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// problemTypeBase prefixes the type URI of every problem document.
const problemTypeBase = "https://covenant.dev/problems/"

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// RequestID correlates the response with server logs.
	RequestID string `json:"requestId,omitempty"`
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return p.Title
	}
	return p.Title + ": " + p.Detail
}

// newProblem builds a problem document whose type URI is derived from a
// short machine slug rather than the numeric status.
func newProblem(status int, slug, title, detail string) *Problem {
	return &Problem{
		Type:   problemTypeBase + slug,
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

func (p *Problem) write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a generic problem document for the given status.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	newProblem(status, fmt.Sprintf("status-%d", status), title, detail).write(w)
}

// WriteErrorR is WriteError enriched with request context. The request id
// has already been stamped on the response header by the middleware.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	p := newProblem(status, fmt.Sprintf("status-%d", status), title, detail)
	p.Instance = r.URL.Path
	p.RequestID = w.Header().Get(requestIDHeader)
	p.write(w)
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	newProblem(http.StatusBadRequest, "malformed-request", "Bad Request", detail).write(w)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	newProblem(http.StatusUnauthorized, "unauthenticated", "Unauthorized", detail).write(w)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	newProblem(http.StatusNotFound, "not-found", "Not Found", detail).write(w)
}

func WriteMethodNotAllowed(w http.ResponseWriter) {
	newProblem(http.StatusMethodNotAllowed, "method-not-allowed", "Method Not Allowed",
		"The HTTP method is not supported for this endpoint").write(w)
}

// WriteTooManyRequests sets Retry-After before the problem body.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	newProblem(http.StatusTooManyRequests, "rate-limited", "Too Many Requests",
		"Rate limit exceeded. Retry after the indicated interval.").write(w)
}

// WriteInternal logs err and writes an opaque 500. The underlying error is
// never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	newProblem(http.StatusInternalServerError, "internal", "Internal Server Error",
		"An unexpected error occurred.").write(w)
}
