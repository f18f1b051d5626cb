package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/usecase"
	"github.com/secmon-lab/simplemem/pkg/utils/async"
	"github.com/secmon-lab/simplemem/pkg/utils/errutil"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
	"github.com/secmon-lab/simplemem/pkg/utils/safe"
)

// maxBodySize limits every request body
const maxBodySize = 1 << 20

type Server struct {
	router     *chi.Mux
	memory     *usecase.MemoryUseCase
	dispatcher *async.Dispatcher
	version    string
	origins    []string
}

type Options func(*Server)

// WithVersion sets the version reported by / and /health
func WithVersion(version string) Options {
	return func(s *Server) {
		s.version = version
	}
}

// WithDispatcher enables POST /finalize?async=true. Finalize runs in a
// dispatcher goroutine and the request returns 202 immediately.
func WithDispatcher(d *async.Dispatcher) Options {
	return func(s *Server) {
		s.dispatcher = d
	}
}

// WithAllowedOrigins sets the origins browsers may call the API from. "*"
// allows any origin and an empty list disables CORS handling.
func WithAllowedOrigins(origins []string) Options {
	return func(s *Server) {
		s.origins = origins
	}
}

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:  r,
		memory:  uc.Memory,
		version: "dev",
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(bodyLimit(maxBodySize))

	r.Get("/", rootHandler(s.version))
	r.Get("/health", healthHandler(s.version, s.memory))

	r.Post("/dialogue", addDialogueHandler(s.memory))
	r.Post("/dialogues", addDialoguesHandler(s.memory))
	r.Post("/finalize", finalizeHandler(s.memory, s.dispatcher))
	r.Post("/query", queryHandler(s.memory))
	r.Post("/ask", queryHandler(s.memory))
	r.Get("/retrieve", retrieveHandler(s.memory))
	r.Get("/stats", statsHandler(s.memory))
	r.Delete("/clear", clearHandler(s.memory))
	r.Delete("/memory/{entry_id}", deleteHandler(s.memory))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.From(r.Context()).Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

type messageResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

func rootHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, messageResponse{
			Message: "Welcome to SimpleMem v" + version,
			Success: true,
		})
	}
}

func healthHandler(version string, uc *usecase.MemoryUseCase) http.HandlerFunc {
	type response struct {
		Status               string `json:"status"`
		Version              string `json:"version"`
		SimpleMemInitialized bool   `json:"simplemem_initialized"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, response{
			Status:               "healthy",
			Version:              version,
			SimpleMemInitialized: uc.Initialized(),
		})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(r.Context(), w, data)
}
