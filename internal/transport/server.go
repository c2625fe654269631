// Package transport serves the tools over an event stream paired with a POST
// message channel, and exposes the saved audio, health and metrics endpoints.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/daikw/ttsbridge/internal/artifact"
	"github.com/daikw/ttsbridge/internal/metrics"
)

const (
	// DefaultKeepAlive is the interval between comment pings on idle streams.
	DefaultKeepAlive = 30 * time.Second

	maxMessageSize = 1 << 20
)

// Files resolves stored artifacts for static serving.
type Files interface {
	Describe(name string) (artifact.Artifact, error)
	Path(name string) (string, error)
}

// Config configures a Server.
type Config struct {
	// BasePath prefixes the stream, message and audio routes, e.g. "/tts".
	BasePath  string
	KeepAlive time.Duration
	Name      string
	Version   string
}

// Server is the HTTP front end of the tool endpoint.
type Server struct {
	cfg      Config
	tools    Tools
	router   *Router
	files    Files
	registry *Registry
	gatherer prometheus.Gatherer
}

// NewServer wires the routes around tools, files and the session registry.
// When gatherer is nil the /metrics route is not registered.
func NewServer(cfg Config, tools Tools, files Files, registry *Registry, gatherer prometheus.Gatherer) *Server {
	cfg.BasePath = NormalizeBasePath(cfg.BasePath)
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	info := mcp.Implementation{Name: cfg.Name, Version: cfg.Version}
	return &Server{
		cfg:      cfg,
		tools:    tools,
		router:   NewRouter(tools, info, "Use synthesize to turn text into an audio file, listArtifacts to see saved files and deleteArtifact to remove one."),
		files:    files,
		registry: registry,
		gatherer: gatherer,
	}
}

// NormalizeBasePath returns p with a leading slash and without a trailing one.
// The root path normalizes to "".
func NormalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// AudioPrefix is the URL path prefix under which artifacts are served.
func (s *Server) AudioPrefix() string {
	return s.cfg.BasePath + "/audio/"
}

// Handler returns the root HTTP handler with access logging.
func (s *Server) Handler() http.Handler {
	base := s.cfg.BasePath
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+base+"/sse", s.handleSSE)
	mux.HandleFunc("POST "+base+"/messages", s.handleMessage)
	mux.HandleFunc("OPTIONS "+base+"/messages", s.handlePreflight)
	mux.HandleFunc("GET "+base+"/audio/{name}", s.handleAudio)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleDiscovery)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}

	var h http.Handler = mux
	h = hlog.AccessHandler(accessLog)(h)
	h = hlog.RemoteAddrHandler("remote")(h)
	h = hlog.NewHandler(log.Logger)(h)
	return h
}

func accessLog(r *http.Request, status, size int, d time.Duration) {
	event := hlog.FromRequest(r).Debug()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Warn()
	}
	event.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", d).
		Msg("HTTP request")
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	session, err := s.registry.Open()
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			http.Error(w, "Session capacity reached", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer s.registry.Close(session)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	endpoint := s.messageEndpoint(r, session.ID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\r\n\r\n", endpoint)
	flusher.Flush()

	hlog.FromRequest(r).Debug().Str("session", session.ID).Str("endpoint", endpoint).Msg("Stream opened")

	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case frame := <-session.Events():
			if _, err := io.WriteString(w, frame); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-session.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	logger := hlog.FromRequest(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, mcp.NewJSONRPCError(mcp.NewRequestId(nil), mcp.PARSE_ERROR, "Failed to read body", nil))
		return
	}

	session, err := s.registry.Get(r.URL.Query().Get("sessionId"))
	if err != nil {
		logger.Warn().Err(err).Msg("Message rejected")
		writeJSON(w, http.StatusNotFound, noSessionError(requestID(body)))
		return
	}

	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, mcp.NewJSONRPCError(mcp.NewRequestId(nil), mcp.PARSE_ERROR, "Parse error", nil))
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")

	// The response outlives the POST; it is bound to the session instead.
	go s.process(session, body, *logger)
}

func (s *Server) process(session *Session, body []byte, logger zerolog.Logger) {
	resp := s.router.Handle(session.Context(), body)
	if resp == nil {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error().Err(err).Str("session", session.ID).Msg("Failed to encode response")
		return
	}

	if !session.Send(fmt.Sprintf("event: message\ndata: %s\n\n", data)) {
		logger.Warn().Str("session", session.ID).Msg("Response dropped, session gone or queue full")
	}
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.files.Describe(name); err != nil {
		http.NotFound(w, r)
		return
	}
	path, err := s.files.Path(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  s.cfg.Name,
		"version":  s.cfg.Version,
		"sessions": s.registry.Len(),
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	tools := make([]string, 0, 3)
	for _, t := range s.tools.Capabilities() {
		tools = append(tools, t.Name)
	}

	endpoints := map[string]string{
		"sse":      s.cfg.BasePath + "/sse",
		"messages": s.cfg.BasePath + "/messages",
		"audio":    s.AudioPrefix(),
		"health":   "/health",
	}
	if s.gatherer != nil {
		endpoints["metrics"] = "/metrics"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":      s.cfg.Name,
		"version":   s.cfg.Version,
		"endpoints": endpoints,
		"tools":     tools,
	})
}

// messageEndpoint builds the absolute URL clients post messages to, as seen
// through any reverse proxy in front of the server.
func (s *Server) messageEndpoint(r *http.Request, sessionID string) string {
	scheme, host := "http", r.Host
	if r.TLS != nil {
		scheme = "https"
	}

	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		for _, pair := range strings.Split(first, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				continue
			}
			v = strings.Trim(v, `"`)
			switch strings.ToLower(k) {
			case "proto":
				scheme = v
			case "host":
				host = v
			}
		}
	}
	if proto := firstValue(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = proto
	}
	if fh := firstValue(r.Header.Get("X-Forwarded-Host")); fh != "" {
		host = fh
	}

	return fmt.Sprintf("%s://%s%s/messages?sessionId=%s", scheme, host, s.cfg.BasePath, url.QueryEscape(sessionID))
}

func firstValue(header string) string {
	v, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
