// Package httpapi is the operator surface: a JSON API for the dashboard,
// an SSE stream carrying state and featured-sync events, and the usual
// service endpoints (health, info, metrics).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/johnsiilver/boutique"

	"github.com/you/streamlink/internal/config"
	"github.com/you/streamlink/internal/core"
	"github.com/you/streamlink/internal/quota"
	"github.com/you/streamlink/internal/state"
	"github.com/you/streamlink/internal/state/data"
	"github.com/you/streamlink/internal/supervisor"
	"github.com/you/streamlink/internal/syncbus"
)

type Options struct {
	Addr        string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	AccessLog   bool
	Metrics     bool
	Build       BuildInfo
}

type Server struct {
	httpServer *http.Server
	opts       Options

	hub     *state.Hub
	bus     *syncbus.Broadcaster
	sup     *supervisor.Supervisor
	tracker *quota.Tracker
	live    *config.Live

	limiter *ipRateLimiter
	cors    *corsPolicy
	metrics *Metrics

	mu     sync.Mutex
	closed bool
}

func New(hub *state.Hub, bus *syncbus.Broadcaster, sup *supervisor.Supervisor, tracker *quota.Tracker, live *config.Live, opts Options) *Server {
	s := &Server{
		opts:    opts,
		hub:     hub,
		bus:     bus,
		sup:     sup,
		tracker: tracker,
		live:    live,
		limiter: newIPRateLimiter(opts.RateRPS, opts.RateBurst),
		cors:    newCORSPolicy(opts.CORSOrigins),
	}
	if opts.Metrics {
		s.metrics = newMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/messages", s.handleMessages)
	mux.HandleFunc("POST /api/messages/{id}/feature", s.command(func(id string) { s.hub.Feature(id) }))
	mux.HandleFunc("POST /api/messages/{id}/read", s.command(func(id string) { s.hub.MarkRead(id) }))
	mux.HandleFunc("POST /api/messages/{id}/trash", s.command(func(id string) { s.hub.MarkTrashed(id) }))
	mux.HandleFunc("POST /api/messages/{id}/interesting", s.command(func(id string) { s.hub.ToggleInteresting(id) }))
	mux.HandleFunc("POST /api/featured/clear", s.handleClearFeatured)
	mux.HandleFunc("GET /api/quota", s.handleQuotaGet)
	mux.HandleFunc("PUT /api/quota", s.handleQuotaPut)
	mux.HandleFunc("GET /api/settings", s.handleSettingsGet)
	mux.HandleFunc("PUT /api/settings", s.handleSettingsPut)
	mux.HandleFunc("POST /api/visibility", s.handleVisibility)
	mux.HandleFunc("POST /api/test/messages", s.handleTestMessages)
	mux.HandleFunc("POST /api/test/hypetrain", s.handleTestHypeTrain)
	mux.HandleFunc("GET /events", s.handleEvents)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.wrap(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// wrap applies CORS, rate limiting, the access log and gzip around the
// mux.
func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)

		if handled, status := s.cors.handlePreflight(rec, r); handled {
			s.observe(r, status, start, rec.Bytes())
			return
		}
		if !s.cors.applyHeaders(rec, r) {
			http.Error(rec, "origin not allowed", http.StatusForbidden)
			s.observe(r, http.StatusForbidden, start, rec.Bytes())
			return
		}
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
			s.observe(r, http.StatusTooManyRequests, start, rec.Bytes())
			return
		}

		if gz, ok := maybeGzip(rec, r); ok {
			defer gz.Close()
		}
		next.ServeHTTP(rec, r)
		s.observe(r, rec.Status(), start, rec.Bytes())
	})
}

func (s *Server) observe(r *http.Request, status int, start time.Time, bytes int64) {
	dur := time.Since(start)
	s.metrics.ObserveRequest(r.URL.Path, r.Method, status, dur, bytes)
	if s.opts.AccessLog {
		slog.Info("http", "method", r.Method, "path", r.URL.Path, "status", status, "dur", dur, "bytes", bytes, "ip", remoteIP(r))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statePayload is the wire shape of a full snapshot.
type statePayload struct {
	Messages   []core.ChatMessage                 `json:"messages"`
	Featured   *core.ChatMessage                  `json:"featured"`
	Stats      map[core.Platform]core.StreamStats `json:"stats"`
	HypeTrain  *core.HypeTrainData                `json:"hypeTrain"`
	QuotaUsage int                                `json:"quotaUsage"`
}

func toPayload(st data.State) statePayload {
	return statePayload{
		Messages:   st.Messages,
		Featured:   st.Featured,
		Stats:      st.Stats,
		HypeTrain:  st.HypeTrain,
		QuotaUsage: st.QuotaUsage,
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, toPayload(s.hub.Snapshot()))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilters(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, f.Apply(s.hub.Snapshot().Messages))
}

// command adapts a hub mutation into a POST handler keyed by message id.
func (s *Server) command(fn func(id string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			http.Error(w, "missing message id", http.StatusBadRequest)
			return
		}
		fn(id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleClearFeatured(w http.ResponseWriter, _ *http.Request) {
	s.hub.ClearFeatured()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuotaGet(w http.ResponseWriter, r *http.Request) {
	units, err := s.tracker.Usage(r.Context())
	if err != nil {
		http.Error(w, "quota read failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"unitsUsed": units, "dailyLimit": quota.DailyLimit})
}

func (s *Server) handleQuotaPut(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UnitsUsed int `json:"unitsUsed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.tracker.SetManual(r.Context(), body.UnitsUsed); err != nil {
		http.Error(w, "quota write failed", http.StatusInternalServerError)
		return
	}
	s.hub.SetQuota(body.UnitsUsed)
	w.WriteHeader(http.StatusNoContent)
}

// settingsPayload is what travels the wire for GET/PUT settings. Secrets
// go out redacted and are only overwritten when the client sends a
// non-empty replacement.
type settingsPayload struct {
	TwitchChannel      string `json:"twitchChannel"`
	TwitchClientID     string `json:"twitchClientId"`
	TwitchAccessToken  string `json:"twitchAccessToken"`
	YouTubeVideoID     string `json:"youtubeVideoId"`
	YouTubeAPIKey      string `json:"youtubeApiKey"`
	AutoDismissEnabled bool   `json:"autoDismissEnabled"`
	AutoDismissSeconds int    `json:"autoDismissSeconds"`
	ShowHypeTrain      bool   `json:"showHypeTrain"`
	ShowSubscriptions  bool   `json:"showSubscriptions"`
}

const redactedPlaceholder = "***"

func (s *Server) handleSettingsGet(w http.ResponseWriter, _ *http.Request) {
	cur := s.live.Snapshot()
	out := settingsPayload{
		TwitchChannel:      cur.TwitchChannel,
		TwitchClientID:     cur.TwitchClientID,
		YouTubeVideoID:     cur.YouTubeVideoID,
		AutoDismissEnabled: cur.AutoDismissEnabled,
		AutoDismissSeconds: cur.AutoDismissSeconds,
		ShowHypeTrain:      cur.ShowHypeTrain,
		ShowSubscriptions:  cur.ShowSubscriptions,
	}
	if cur.TwitchAccessToken != "" {
		out.TwitchAccessToken = redactedPlaceholder
	}
	if cur.YouTubeAPIKey != "" {
		out.YouTubeAPIKey = redactedPlaceholder
	}
	writeJSON(w, out)
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var body settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	cur := s.live.Snapshot()
	next := config.Settings{
		TwitchChannel:      body.TwitchChannel,
		TwitchClientID:     body.TwitchClientID,
		TwitchAccessToken:  body.TwitchAccessToken,
		YouTubeVideoID:     body.YouTubeVideoID,
		YouTubeAPIKey:      body.YouTubeAPIKey,
		AutoDismissEnabled: body.AutoDismissEnabled,
		AutoDismissSeconds: body.AutoDismissSeconds,
		ShowHypeTrain:      body.ShowHypeTrain,
		ShowSubscriptions:  body.ShowSubscriptions,
	}
	// The redacted placeholder (or an empty field) means "keep what you
	// have".
	if next.TwitchAccessToken == redactedPlaceholder || next.TwitchAccessToken == "" {
		next.TwitchAccessToken = cur.TwitchAccessToken
	}
	if next.YouTubeAPIKey == redactedPlaceholder || next.YouTubeAPIKey == "" {
		next.YouTubeAPIKey = cur.YouTubeAPIKey
	}
	if next.AutoDismissSeconds <= 0 {
		next.AutoDismissSeconds = cur.AutoDismissSeconds
	}
	s.sup.Apply(next)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visible bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Visible {
		s.sup.ResumeYouTube()
	} else {
		s.sup.PauseYouTube()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestMessages(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.sup.InjectTestMessages(body.Count)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTestHypeTrain(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level           int `json:"level"`
		DurationSeconds int `json:"durationSeconds"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	train := s.sup.SimulateHypeTrain(body.Level, body.DurationSeconds)
	writeJSON(w, train)
}

// handleEvents streams state over SSE: an initial snapshot, a "message"
// event per new chat message, a "state" event on stats/featured/train
// changes and a "sync" event mirroring the featured-sync bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	syncCh, cancelSync := s.bus.Subscribe()
	defer cancelSync()
	stateCh, cancelState, err := s.hub.Subscribe(boutique.Any)
	if err != nil {
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancelState()

	s.metrics.IncSSEClients(1)
	defer s.metrics.IncSSEClients(-1)

	send := func(event string, v any) bool {
		payload, err := json.Marshal(v)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return false
		}
		flusher.Flush()
		s.metrics.IncMessagesSent("sse")
		return true
	}

	if !send("snapshot", toPayload(s.hub.Snapshot())) {
		return
	}

	lastHead := ""
	if snap := s.hub.Snapshot(); len(snap.Messages) > 0 {
		lastHead = snap.Messages[0].ID
	}

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ":ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-syncCh:
			if !ok {
				return
			}
			if !send("sync", ev) {
				return
			}
		case sg, ok := <-stateCh:
			if !ok {
				return
			}
			st := sg.State.Data.(data.State)
			if hasField(sg.Fields, "Messages") && len(st.Messages) > 0 && st.Messages[0].ID != lastHead {
				lastHead = st.Messages[0].ID
				if !send("message", st.Messages[0]) {
					return
				}
			}
			if hasField(sg.Fields, "Featured") || hasField(sg.Fields, "Stats") ||
				hasField(sg.Fields, "HypeTrain") || hasField(sg.Fields, "QuotaUsage") {
				p := toPayload(st)
				p.Messages = nil
				if !send("state", p) {
					return
				}
			}
		}
	}
}

func hasField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Start() error {
	slog.Info("http api listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the wrapped mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
