// Package static serves files from a fixed set of allow-listed directories.
//
// URL paths are mapped onto the web root with a small set of prefix rules,
// then canonicalized (lexically and through symlinks) and checked against the
// allow-listed roots before anything is read from disk.
package static

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when the resolved file cannot be read.
	ErrNotFound = errors.New("static file not found")
	// ErrForbidden is returned when a path escapes the allow-listed roots.
	ErrForbidden = errors.New("static path forbidden")
)

const (
	// CacheControl is sent with every successful static response.
	CacheControl = "public, max-age=31536000, immutable"

	defaultContentType = "application/octet-stream"
	indexDocument      = "index.html"
)

var contentTypes = map[string]string{
	".ico":   "image/x-icon",
	".html":  "text/html",
	".ttf":   "font/ttf",
	".woff2": "font/woff2",
	".js":    "application/javascript",
	".css":   "text/css",
	".txt":   "text/plain",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".json":  "application/json",
}

// ContentType returns the content type for name based on its extension.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}

// Observer is notified of each static outcome ("ok", "not_found", "forbidden").
type Observer interface {
	ObserveStatic(outcome string)
}

// Config configures a Responder.
type Config struct {
	// Root is the web root holding index.html, robots.txt, public/ and assets/.
	Root     string
	Logger   *slog.Logger
	Observer Observer
}

// Responder resolves and serves static files.
type Responder struct {
	root     string
	public   string
	assets   string
	allowed  []string
	logger   *slog.Logger
	observer Observer
}

// New builds a Responder rooted at cfg.Root. The root must exist.
func New(cfg Config) (*Responder, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("static root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve static root: %w", err)
	}
	canonicalRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve static root: %w", err)
	}
	info, err := os.Stat(canonicalRoot)
	if err != nil {
		return nil, fmt.Errorf("stat static root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static root %s is not a directory", canonicalRoot)
	}

	r := &Responder{
		root:     canonicalRoot,
		public:   filepath.Join(canonicalRoot, "public"),
		assets:   filepath.Join(canonicalRoot, "assets"),
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
	r.allowed = []string{
		canonicalDir(r.public),
		canonicalDir(r.assets),
		canonicalRoot,
	}
	return r, nil
}

// Root returns the canonical web root.
func (r *Responder) Root() string {
	return r.root
}

// canonicalDir resolves symlinks for dir when it exists.
func canonicalDir(dir string) string {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved
	}
	return dir
}

// mapPath turns a URL path into a filesystem path under the web root. The
// result is lexically cleaned but not yet checked.
func (r *Responder) mapPath(urlPath string) string {
	switch {
	case urlPath == "" || urlPath == "/" || urlPath == "/"+indexDocument:
		return filepath.Join(r.root, indexDocument)
	case urlPath == "/robots.txt":
		return filepath.Join(r.root, "robots.txt")
	case strings.HasPrefix(urlPath, "/public/"):
		return filepath.Join(r.public, filepath.FromSlash(strings.TrimPrefix(urlPath, "/public/")))
	case strings.HasPrefix(urlPath, "/assets/"):
		return filepath.Join(r.assets, filepath.FromSlash(strings.TrimPrefix(urlPath, "/assets/")))
	default:
		return filepath.Join(r.root, filepath.FromSlash(strings.TrimPrefix(urlPath, "/")))
	}
}

func (r *Responder) isAllowed(candidate string) bool {
	for _, root := range r.allowed {
		if withinRoot(root, candidate) {
			return true
		}
	}
	return false
}

func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// Resolve maps urlPath to a canonical file path inside the allow-listed roots.
// It returns ErrForbidden for escapes and ErrNotFound when nothing exists.
func (r *Responder) Resolve(urlPath string) (string, error) {
	if strings.ContainsRune(urlPath, 0) {
		return "", ErrForbidden
	}
	candidate := r.mapPath(urlPath)
	if !r.isAllowed(candidate) {
		return "", ErrForbidden
	}
	canonical, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path.Clean(urlPath))
	}
	if !r.isAllowed(canonical) {
		return "", ErrForbidden
	}
	return canonical, nil
}

// Read resolves urlPath and returns its bytes and content type.
func (r *Responder) Read(urlPath string) ([]byte, string, error) {
	resolved, err := r.Resolve(urlPath)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		// directories and unreadable files look missing to the client
		return nil, "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return data, ContentType(resolved), nil
}

// ReadPublic reads a file from the public directory without going through
// URL mapping. Used for dynamically wrapped scripts.
func (r *Responder) ReadPublic(name string) ([]byte, error) {
	data, _, err := r.Read("/public/" + strings.TrimPrefix(name, "/"))
	return data, err
}

// ServeHTTP writes the file for r.URL.Path or a plain-text error.
func (r *Responder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	data, contentType, err := r.Read(req.URL.Path)
	switch {
	case err == nil:
		r.observe("ok")
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", CacheControl)
		w.WriteHeader(http.StatusOK)
		if req.Method != http.MethodHead {
			_, _ = w.Write(data)
		}
	case errors.Is(err, ErrForbidden):
		r.observe("forbidden")
		if r.logger != nil {
			r.logger.Warn("static path rejected", "path", req.URL.Path)
		}
		writePlain(w, http.StatusForbidden, "Forbidden")
	default:
		r.observe("not_found")
		if r.logger != nil {
			r.logger.Debug("static file not found", "path", req.URL.Path, "error", err)
		}
		writePlain(w, http.StatusNotFound, "404 Not Found")
	}
}

func (r *Responder) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveStatic(outcome)
	}
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
