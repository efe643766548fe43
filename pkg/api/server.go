// Package api serves the Microsub surface plus the push and inbound
// endpoints: the action-dispatched /microsub API, per-feed WebSub
// callbacks, the webmention receiver, an SSE event stream, and a
// WebSocket firehose.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/skimreader/skim/pkg/log"
	"github.com/skimreader/skim/pkg/processor"
	"github.com/skimreader/skim/pkg/realtime"
	"github.com/skimreader/skim/pkg/scheduler"
	"github.com/skimreader/skim/pkg/store"
	"github.com/skimreader/skim/pkg/webmention"
	"github.com/skimreader/skim/pkg/websub"
)

var logger = log.ForService("api")

type Config struct {
	MountPath           string
	AuthToken           string
	Owner               string
	MaxFullReadItems    int
	UnreadRetentionDays int
}

type Server struct {
	config    Config
	store     *store.Store
	proc      *processor.Processor
	scheduler *scheduler.Scheduler
	sub       *websub.Subscriber
	callback  *websub.CallbackHandler
	receiver  *webmention.Receiver
	hub       *realtime.Hub
}

func NewServer(config Config, st *store.Store, proc *processor.Processor, sched *scheduler.Scheduler, sub *websub.Subscriber, hub *realtime.Hub) *Server {
	if config.MountPath == "" {
		config.MountPath = "/microsub"
	}
	if config.Owner == "" {
		config.Owner = "me"
	}
	if config.MaxFullReadItems <= 0 {
		config.MaxFullReadItems = 200
	}
	if config.UnreadRetentionDays <= 0 {
		config.UnreadRetentionDays = 30
	}

	verifier := webmention.NewVerifier(st, config.Owner, 0)

	s := &Server{
		config:    config,
		store:     st,
		proc:      proc,
		scheduler: sched,
		sub:       sub,
		receiver:  webmention.NewReceiver(verifier),
		hub:       hub,
	}
	s.callback = websub.NewCallbackHandler(st, proc.ProcessPush)
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mount := s.config.MountPath

	mux.HandleFunc("GET "+mount, s.requireAuth(s.handleMicrosubGet))
	mux.HandleFunc("POST "+mount, s.requireAuth(s.handleMicrosubPost))

	// Hub callbacks and webmentions must be reachable without auth.
	mux.HandleFunc("GET "+mount+"/websub/{feed}", s.handleWebSubVerify)
	mux.HandleFunc("POST "+mount+"/websub/{feed}", s.handleWebSubReceive)
	mux.Handle("POST /webmention", s.receiver)

	mux.HandleFunc("GET /firehose", s.handleFirehoseWS)
	mux.HandleFunc("GET /health", s.handleHealth)
}

// requireAuth enforces the configured bearer token. With no token
// configured the API is open (local single-user setups).
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" {
				token = r.FormValue("access_token")
			}
			if token != s.config.AuthToken {
				s.writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("Encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSubVerify(w http.ResponseWriter, r *http.Request) {
	s.callback.Verify(w, r, r.PathValue("feed"))
}

func (s *Server) handleWebSubReceive(w http.ResponseWriter, r *http.Request) {
	s.callback.Receive(w, r, r.PathValue("feed"))
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
