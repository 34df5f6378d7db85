// Package api provides the Marginalia REST and WebSocket server.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/NielsdaWheelz/marginalia/internal/cache"
	"github.com/NielsdaWheelz/marginalia/internal/logging"
	"github.com/NielsdaWheelz/marginalia/internal/render"
	"github.com/NielsdaWheelz/marginalia/internal/store"
)

// renderTTL bounds how long a memoized render may outlive its inputs. Cache
// entries are invalidated eagerly on every mutation; the TTL only covers
// writes that bypass this process, such as a second server on the same
// database file.
const renderTTL = 30 * time.Second

// renderKey identifies one render result: flow markup and overlay geometry
// depend on the fragment and on whose highlights decorate it.
type renderKey struct {
	fragmentID string
	ownerID    string
}

// Server ties the HTTP surface to a store and a WebSocket hub.
type Server struct {
	cfg      Config
	store    *store.Store
	hub      *Hub
	flows    *cache.TTL[renderKey, *render.FlowResult]
	overlays *cache.TTL[renderKey, *render.Overlay]
}

// NewServer creates a server over an open store. The caller owns the
// store's lifecycle.
func NewServer(cfg Config, st *store.Store) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		hub:      NewHub(),
		flows:    cache.New[renderKey, *render.FlowResult](renderTTL),
		overlays: cache.New[renderKey, *render.Overlay](renderTTL),
	}
}

// invalidateRenders drops memoized renders for a fragment, every owner.
func (s *Server) invalidateRenders(fragmentID string) {
	match := func(k renderKey) bool { return k.fragmentID == fragmentID }
	s.flows.DeleteFunc(match)
	s.overlays.DeleteFunc(match)
}

// Hub exposes the server's WebSocket hub for event injection in tests.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the complete middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := s.routes()

	var handler http.Handler = mux
	handler = corsMiddleware(s.cfg.AllowedOrigins, handler)
	handler = logging.CombinedMiddleware(handler)
	return handler
}

// Start runs the hub and serves until the listener fails.
func (s *Server) Start() error {
	go s.hub.Run()

	if len(s.cfg.AllowedOrigins) > 0 {
		logging.Info("cors restricted", "allowed_origins", len(s.cfg.AllowedOrigins))
	} else {
		logging.Warn("cors permissive", "note", "allowing all origins (*)")
	}
	logging.ServerStartup("rest_api", "http", s.cfg.Port,
		"websocket_protocol", "ws",
		"db_path", s.cfg.DBPath)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	return http.ListenAndServe(addr, s.Handler())
}

// routes configures all HTTP routes.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/fragments", s.handleFragments)
	mux.HandleFunc("/fragments/", s.handleFragmentSubtree)
	mux.HandleFunc("/highlights", s.handleHighlights)
	mux.HandleFunc("/highlights/", s.handleHighlightSubtree)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

// corsMiddleware adds CORS headers. An empty origin list allows all
// origins; otherwise the request Origin must match exactly or no CORS
// headers are set and preflights are refused.
func corsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowedOrigin := "*"
		if len(allowedOrigins) > 0 {
			allowed := false
			for _, o := range allowedOrigins {
				if origin == o {
					allowed = true
					allowedOrigin = origin
					break
				}
			}
			if !allowed {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Owner-ID")
		if allowedOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
