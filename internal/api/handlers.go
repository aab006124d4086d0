package api

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"ipshow/internal/observability/logging"
	"ipshow/internal/static"
	"ipshow/internal/token"
)

const (
	// TokenHeader carries the single-use token on API calls.
	TokenHeader = "X-API-Key"

	// ClientScript is the public script the token is injected into.
	ClientScript = "client.js"

	forbiddenMessage = "Forbidden: Invalid or used API key"
)

// ScriptSource supplies the static body of the client script.
type ScriptSource interface {
	ReadPublic(name string) ([]byte, error)
}

// Observer receives token lifecycle events.
type Observer interface {
	ObserveTokenIssued()
	ObserveTokenConsumed(result string)
}

// Config wires a Handler.
type Config struct {
	Store    token.Store
	Scripts  ScriptSource
	Logger   *slog.Logger
	Observer Observer
}

// Handler serves the client script and the IP endpoint.
type Handler struct {
	store    token.Store
	scripts  ScriptSource
	logger   *slog.Logger
	observer Observer
}

// NewHandler validates cfg and returns a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if cfg.Scripts == nil {
		return nil, fmt.Errorf("script source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    cfg.Store,
		scripts:  cfg.Scripts,
		logger:   logger,
		observer: cfg.Observer,
	}, nil
}

// IssueScript issues a new token and returns the client script with the token
// assigned to window.__API_KEY__ ahead of the script body.
func (h *Handler) IssueScript(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	script, err := h.scripts.ReadPublic(ClientScript)
	if err != nil {
		if errors.Is(err, static.ErrNotFound) {
			logger.Error("client script missing", "error", err)
			writePlain(w, http.StatusNotFound, "404 Not Found")
			return
		}
		logger.Error("client script unreadable", "error", err)
		writeInternalError(w)
		return
	}

	tok, err := token.IssueNew(r.Context(), h.store)
	if err != nil {
		logger.Error("failed to issue token", "error", err)
		writeInternalError(w)
		return
	}
	if h.observer != nil {
		h.observer.ObserveTokenIssued()
	}

	var body strings.Builder
	body.Grow(len(script) + len(tok) + 32)
	fmt.Fprintf(&body, "window.__API_KEY__ = '%s';\n", tok)
	body.Write(script)

	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(body.String()))
	}
}

// ConsumeIP redeems the token from TokenHeader and, when valid, returns ip
// with every character wrapped in <i> elements.
func (h *Handler) ConsumeIP(w http.ResponseWriter, r *http.Request, ip string) {
	logger := h.requestLogger(r)

	granted, err := h.store.Take(r.Context(), strings.TrimSpace(r.Header.Get(TokenHeader)))
	if err != nil {
		h.observeConsumed("error")
		logger.Error("failed to consume token", "error", err)
		writeInternalError(w)
		return
	}
	if !granted {
		h.observeConsumed("rejected")
		logger.Info("token rejected")
		writePlain(w, http.StatusForbidden, forbiddenMessage)
		return
	}
	h.observeConsumed("granted")

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(WrapChars(ip)))
}

// WrapChars wraps each character of s in its own <i> element.
func WrapChars(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 8)
	for _, r := range s {
		b.WriteString("<i>")
		b.WriteString(html.EscapeString(string(r)))
		b.WriteString("</i>")
	}
	return b.String()
}

func (h *Handler) observeConsumed(result string) {
	if h.observer != nil {
		h.observer.ObserveTokenConsumed(result)
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	if logger := logging.LoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return h.logger
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// WriteInternalError writes the generic 500 response.
func WriteInternalError(w http.ResponseWriter) {
	writeInternalError(w)
}

func writeInternalError(w http.ResponseWriter) {
	writePlain(w, http.StatusInternalServerError, "Internal Server Error")
}
