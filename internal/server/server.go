// Package server is the websocket/HTTP front-end: it owns the connection
// registry, upgrades websocket handshakes, feeds audio to the decoder
// dispatcher, and serves the static recording UI from the document root.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"asrd/internal/common/fsutil"
	"asrd/internal/dispatch"
	"asrd/internal/recognizer"
	"asrd/pkg/types"
)

// endOfStreamWord is the text frame a client sends after its last audio
// chunk. The server's final frame to the client uses the same word.
const endOfStreamWord = dispatch.FinalMessage

// Options configures a Server. DocRoot is required; the rest defaults.
type Options struct {
	// DocRoot is the static file root. It must contain index.html.
	DocRoot string
	// TailPaddingSecs of silence appended when a client signals end of
	// stream. Defaults to 0.3.
	TailPaddingSecs float64
	// ComputeWorkers sizes the compute executor. Defaults to 1.
	ComputeWorkers int
	// MaxActiveStreams bounds the decoder ready queue; 0 means unbounded.
	MaxActiveStreams int
	// CORSEnabled adds a CORS middleware for the listed origins.
	CORSEnabled bool
	CORSOrigins []string
	// Logger for the server and its components.
	Logger zerolog.Logger
	// Events receives dispatcher lifecycle events; nil drops them.
	Events dispatch.EventPublisher
}

// Server wires the registry, the executors, and the dispatcher together.
type Server struct {
	opts Options
	log  zerolog.Logger
	rec  recognizer.Recognizer

	connExec *dispatch.Executor
	workExec *dispatch.Executor
	disp     *dispatch.Dispatcher

	mu    sync.Mutex // registry lock
	conns map[*session]*recognizer.Stream

	static      *staticHandler
	tailPadding int // samples
	started     time.Time
}

// New validates the document root and builds the server. The recognizer is
// the caller's: the server never loads models itself.
func New(rec recognizer.Recognizer, opts Options) (*Server, error) {
	if err := fsutil.ValidateDocRoot(opts.DocRoot); err != nil {
		return nil, err
	}
	if opts.TailPaddingSecs <= 0 {
		opts.TailPaddingSecs = 0.3
	}
	if opts.ComputeWorkers < 1 {
		opts.ComputeWorkers = 1
	}

	s := &Server{
		opts:        opts,
		log:         opts.Logger,
		rec:         rec,
		conns:       make(map[*session]*recognizer.Stream),
		static:      &staticHandler{docRoot: opts.DocRoot, log: opts.Logger},
		tailPadding: int(opts.TailPaddingSecs * float64(rec.SampleRate())),
		started:     time.Now(),
	}
	s.connExec = dispatch.NewExecutor("connection", 1)
	s.workExec = dispatch.NewExecutor("compute", opts.ComputeWorkers)
	s.disp = dispatch.New(rec, s, s.connExec, s.workExec, dispatch.Options{
		MaxActiveStreams: opts.MaxActiveStreams,
		Events:           opts.Events,
		Logger:           opts.Logger,
	})
	return s, nil
}

// Handler builds the HTTP routing tree. Websocket handshakes are accepted on
// any path except /healthz, /readyz, /status and /metrics; everything else
// falls through to the static server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.opts.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet},
		}))
	}
	r.Use(MetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.serveWS(w, r)
			return
		}
		s.static.ServeHTTP(w, r)
	})

	return r
}

// Status builds the /status response.
func (s *Server) Status() types.StatusResponse {
	stats := s.disp.Stats()
	return types.StatusResponse{
		State:             "ready",
		ActiveConnections: s.ActiveConnections(),
		QueueDepth:        stats.QueueDepth,
		ActiveStreams:     stats.ActiveStreams,
		MaxActiveStreams:  s.disp.MaxActiveStreams(),
		DecodeStepsTotal:  stats.StepsTotal,
		SampleRate:        s.rec.SampleRate(),
		UptimeSeconds:     int64(time.Since(s.started).Seconds()),
		ServerTimeUnix:    time.Now().Unix(),
	}
}

// Dispatcher exposes the decoder dispatcher, mainly for tests.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.disp }

// Close drains both executors. Open websocket connections are not closed
// here, and shutting the http.Server down does not close them either: they
// are hijacked connections.
func (s *Server) Close() {
	s.workExec.Close()
	s.connExec.Close()
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
