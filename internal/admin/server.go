// Package admin serves the HTTP control surface of a running simulation.
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"meshops-sim/internal/advisory"
	"meshops-sim/internal/command"
	"meshops-sim/internal/logging"
	"meshops-sim/internal/registry"
	"meshops-sim/internal/sim"
	"meshops-sim/internal/telemetry"
)

//go:embed templates/index.html
var content embed.FS

// MappingStore is the mapping table CRUD used by /mappings.
type MappingStore interface {
	List(ctx context.Context, kind registry.Kind) ([]registry.Mapping, error)
	Set(ctx context.Context, kind registry.Kind, code, name string) error
	Delete(ctx context.Context, kind registry.Kind, code string) error
}

// Server exposes snapshots, commands and live streams over HTTP.
type Server struct {
	Sim        *sim.Simulator
	dispatcher *command.Dispatcher
	advisor    advisory.Advisor
	mappings   MappingStore
	hub        *Hub
	tpl        *template.Template
	log        *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAdvisor replaces the rule based advisor.
func WithAdvisor(a advisory.Advisor) Option { return func(s *Server) { s.advisor = a } }

// WithMappings enables the /mappings endpoints.
func WithMappings(m MappingStore) Option { return func(s *Server) { s.mappings = m } }

// WithHub serves /ws from h. The caller must also register h as a writer.
func WithHub(h *Hub) Option { return func(s *Server) { s.hub = h } }

// NewServer returns a server for sm.
func NewServer(sm *sim.Simulator, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	s := &Server{
		Sim:        sm,
		dispatcher: command.NewDispatcher(sm),
		advisor:    advisory.NewRules(),
		tpl:        tpl,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /units", s.handleUnits)
	mux.HandleFunc("GET /topology", s.handleTopology)
	mux.HandleFunc("GET /geojson", s.handleGeoJSON)
	mux.HandleFunc("POST /command", s.handleCommand)
	mux.HandleFunc("POST /rally", s.handleRally)
	mux.HandleFunc("GET /advisory", s.handleAdvisory)
	if s.mappings != nil {
		mux.HandleFunc("GET /mappings/{kind}", s.handleListMappings)
		mux.HandleFunc("PUT /mappings/{kind}/{code}", s.handleSetMapping)
		mux.HandleFunc("DELETE /mappings/{kind}/{code}", s.handleDeleteMapping)
	}
	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}
	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.NewContext(r.Context(), s.log)
		s.log.Debug("admin request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("admin server listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sim.ErrUnknownUnit), errors.Is(err, sim.ErrUnknownGroup),
		errors.Is(err, registry.ErrUnknownCode):
		return http.StatusNotFound
	case errors.Is(err, sim.ErrDuplicateName), errors.Is(err, sim.ErrNoGateway),
		errors.Is(err, registry.ErrMappingInUse):
		return http.StatusConflict
	case errors.Is(err, command.ErrUnknownCommand), errors.Is(err, command.ErrBadArgs),
		errors.Is(err, sim.ErrUnknownType), errors.Is(err, sim.ErrUnknownStatus),
		errors.Is(err, sim.ErrInvalidAssignment), errors.Is(err, sim.ErrInvalidPosition),
		errors.Is(err, registry.ErrUnknownKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Peek(r.Context())
	units := snap.Units
	sort.SliceStable(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	data := struct {
		ClusterID string
		Tick      uint64
		Rally     bool
		Gateway   *telemetry.Position
		Units     []telemetry.Unit
		Groups    map[string]string
		Commands  []string
	}{
		ClusterID: snap.ClusterID,
		Tick:      snap.Tick,
		Rally:     snap.Rally,
		Gateway:   snap.Gateway,
		Units:     units,
		Groups:    make(map[string]string, len(snap.Groups)),
		Commands:  command.Usage(),
	}
	for _, g := range snap.Groups {
		data.Groups[g.ID] = g.Name
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Error("render index", "err", err)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sim.Snapshot(r.Context()))
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Peek(r.Context())
	units := snap.Units
	if ref := r.URL.Query().Get("group"); ref != "" {
		g, err := s.Sim.ResolveGroup(ref)
		if err != nil {
			writeError(w, err)
			return
		}
		filtered := units[:0]
		for _, u := range units {
			if u.GroupID == g.ID {
				filtered = append(filtered, u)
			}
		}
		units = filtered
	}
	if units == nil {
		units = []telemetry.Unit{}
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildTopology(s.Sim.View(), s.Sim.MaxRangeKm()))
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	proj := lngLat
	switch crs := r.URL.Query().Get("crs"); crs {
	case "", "4326":
	case "3857":
		proj = mercator
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported crs " + crs})
		return
	}
	st := s.Sim.View()
	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(featureCollection(st, buildTopology(st, s.Sim.MaxRangeKm()), proj)); err != nil {
		s.log.Error("encode geojson", "err", err)
	}
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Command string `json:"command"`
	Result  string `json:"result"`
}

// handleCommand accepts either {"command": "..."} or a plain text body.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	line := strings.TrimSpace(string(body))
	if strings.HasPrefix(line, "{") {
		var req commandRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
			return
		}
		line = req.Command
	}
	out, err := s.dispatcher.Execute(r.Context(), line)
	if err != nil {
		s.log.Warn("command rejected", "command", line, "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Command: line, Result: out})
}

func (s *Server) handleRally(w http.ResponseWriter, r *http.Request) {
	on := true
	if v := r.URL.Query().Get("on"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "on must be a boolean"})
			return
		}
		on = b
	}
	if err := s.Sim.SetRally(r.Context(), on); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rally": on})
}

func (s *Server) handleAdvisory(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Peek(r.Context())
	names := advisory.Names{Types: snap.TypeMapping, Statuses: snap.StatusMapping}
	adv, err := s.advisor.Analyze(r.Context(), snap.Units, names)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, adv)
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	kind, err := registry.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.mappings.List(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []registry.Mapping{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	kind, err := registry.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"name\": \"...\"}"})
		return
	}
	code := r.PathValue("code")
	if err := s.mappings.Set(r.Context(), kind, code, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registry.Mapping{Kind: string(kind), Code: code, Name: req.Name})
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	kind, err := registry.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.mappings.Delete(r.Context(), kind, r.PathValue("code")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
