package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ipshow/internal/api"
	"ipshow/internal/observability/logging"
	"ipshow/internal/observability/metrics"
	"ipshow/internal/static"
)

const (
	// ClientScriptPath serves the client script with a freshly issued token.
	ClientScriptPath = "/public/client.js"
	// APIPath returns the caller's IP to holders of an unused token.
	APIPath = "/api/ip"
)

// Route classifies a request path for dispatch and metric labels.
type Route string

const (
	RouteClientScript Route = "client_script"
	RouteAPI          Route = "api_ip"
	RouteStatic       Route = "static"
)

// ClassifyRoute maps a request path onto the route that serves it. Paths
// matched exactly win; everything else goes to the static responder.
func ClassifyRoute(path string) Route {
	switch path {
	case ClientScriptPath:
		return RouteClientScript
	case APIPath:
		return RouteAPI
	default:
		return RouteStatic
	}
}

type Config struct {
	Addr     string
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Security SecurityConfig
	CORS     CORSConfig
}

type Server struct {
	httpServer *http.Server
	handler    http.Handler
}

func New(handler *api.Handler, assets *static.Responder, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}
	if assets == nil {
		return nil, fmt.Errorf("static responder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &dispatcher{api: handler, assets: assets}

	handlerChain := http.Handler(d)
	handlerChain = recoverMiddleware(logger, handlerChain)
	handlerChain = corsMiddleware(newCORSPolicy(cfg.CORS), handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metrics.HTTPMiddleware(cfg.Metrics, routeLabel, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:           logger,
		AdditionalFields: requestLogFields,
	})(handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: httpServer, handler: handlerChain}, nil
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer returns the configured http.Server for the run loop.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

type dispatcher struct {
	api    *api.Handler
	assets *static.Responder
}

func (d *dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch ClassifyRoute(r.URL.Path) {
	case RouteClientScript:
		d.api.IssueScript(w, r)
	case RouteAPI:
		d.api.ConsumeIP(w, r, ClientIP(r))
	default:
		d.assets.ServeHTTP(w, r)
	}
}

func routeLabel(r *http.Request) string {
	return string(ClassifyRoute(r.URL.Path))
}

func requestLogFields(r *http.Request, _ int, _ time.Duration) []any {
	return []any{
		"route", routeLabel(r),
		"remote_ip", ClientIP(r),
	}
}

// recoverMiddleware turns a handler panic into a plain 500 when nothing has
// been written yet. http.ErrAbortHandler keeps its meaning.
func recoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := metrics.NewResponseRecorder(w)
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			if reqLogger := loggingWithRequest(logger, r); reqLogger != nil {
				reqLogger.Error("handler panic", "panic", recovered, "stack", string(debugStack()))
			}
			if !recorder.WroteHeader() {
				api.WriteInternalError(recorder)
			}
		}()
		next.ServeHTTP(recorder, r)
	})
}
