package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Covenant-Labs/covenant/core/pkg/authn"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/id"
	"github.com/Covenant-Labs/covenant/core/pkg/intents"
	"github.com/Covenant-Labs/covenant/core/pkg/subscription"
)

const maxBodyBytes = 1 << 20

// IntentEnvelope is the POST /intent request body. The actor field is
// advisory: authenticated requests act as their principal regardless of
// what the body claims, and unauthenticated requests are anonymous.
type IntentEnvelope struct {
	Intent         string                 `json:"intent"`
	Realm          string                 `json:"realm,omitempty"`
	Actor          *ActorClaim            `json:"actor,omitempty"`
	Timestamp      int64                  `json:"timestamp,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// ActorClaim is the wire form of an actor reference.
type ActorClaim struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Server serves the intent API.
type Server struct {
	dispatcher intents.Nested
	tokens     *authn.TokenManager
	hub        *subscription.Hub
	log        *slog.Logger
}

// ServerConfig wires the server's collaborators. Dispatcher is required;
// tokens and hub enable /auth/token and /events when present.
type ServerConfig struct {
	Dispatcher intents.Nested
	Tokens     *authn.TokenManager
	Hub        *subscription.Hub
	Log        *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("api: dispatcher is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Server{
		dispatcher: cfg.Dispatcher,
		tokens:     cfg.Tokens,
		hub:        cfg.Hub,
		log:        cfg.Log,
	}, nil
}

// Handler builds the route table with middleware applied.
func (s *Server) Handler(auth Authenticator, limiter Limiter, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/intent", s.HandleIntent)
	mux.HandleFunc("/auth/token", s.HandleToken)
	mux.HandleFunc("/events", s.HandleEvents)
	mux.HandleFunc("/healthz", s.HandleHealthz)

	var h http.Handler = mux
	h = RateLimitMiddleware(limiter)(h)
	if auth != nil {
		h = AuthMiddleware(auth)(h)
	}
	h = CORSMiddleware(corsOrigins)(h)
	h = LoggingMiddleware(s.log)(h)
	h = RequestIDMiddleware(h)
	return h
}

// HandleIntent dispatches one intent. Any determined outcome, success or
// failure, is a 200; only malformed requests and storage trouble surface
// as HTTP errors.
func (s *Server) HandleIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var env IntentEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if env.Intent == "" {
		WriteBadRequest(w, "Missing required field: intent")
		return
	}

	actor, realm := s.resolveActor(r, &env)
	ts := env.Timestamp
	if ts == 0 {
		ts = id.NowMillis()
	}

	res := s.dispatcher.Dispatch(r.Context(), intents.Request{
		Intent:         env.Intent,
		Realm:          realm,
		Actor:          actor,
		Timestamp:      ts,
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
	})

	status := http.StatusOK
	switch {
	case res.HasError(intents.CodeStorageError):
		status = http.StatusInternalServerError
	case res.HasError(intents.CodeTimeout):
		status = http.StatusGatewayTimeout
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.log.ErrorContext(r.Context(), "encode intent result", "error", err)
	}
}

// resolveActor derives the dispatch actor. The principal wins; without one
// the caller is anonymous no matter what the body claims.
func (s *Server) resolveActor(r *http.Request, env *IntentEnvelope) (events.Actor, string) {
	if p := GetPrincipal(r.Context()); p != nil {
		realm := env.Realm
		if realm == "" {
			realm = p.RealmID
		}
		return p.Actor, realm
	}
	reason := "unauthenticated"
	if env.Actor != nil && env.Actor.Reason != "" {
		reason = env.Actor.Reason
	}
	return events.AnonymousActor(reason), env.Realm
}

// tokenResponse is the POST /auth/token response body.
type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	ExpiresIn int64  `json:"expiresIn"`
}

// HandleToken exchanges an authenticated api key for a short-lived bearer
// token.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.tokens == nil {
		WriteNotFound(w, "Token issuance is not enabled")
		return
	}

	p := GetPrincipal(r.Context())
	if p == nil {
		WriteUnauthorized(w, "")
		return
	}

	tok, err := s.tokens.Mint(p, authn.DefaultTokenTTL)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		Token:     tok,
		TokenType: "Bearer",
		ExpiresIn: int64(authn.DefaultTokenTTL / time.Second),
	})
}

// HandleEvents streams the event log as server-sent events, replay first
// and then live, starting at the from query parameter.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.hub == nil {
		WriteNotFound(w, "Event streaming is not enabled")
		return
	}
	if GetPrincipal(r.Context()) == nil {
		WriteUnauthorized(w, "")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternal(w, errors.New("response writer does not support streaming"))
		return
	}

	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteBadRequest(w, "Invalid from parameter")
			return
		}
		from = parsed
	}

	sub, err := s.hub.Subscribe(r.Context(), from)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-sub.Events:
			if !ok {
				if err := sub.Err(); err != nil {
					fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.log.ErrorContext(r.Context(), "encode event", "error", err, "sequence", e.Sequence)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Sequence, e.Type, data)
			flusher.Flush()
		}
	}
}

// HandleHealthz reports liveness.
func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
