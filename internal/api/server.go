// Package api exposes the HTTP query surface over the trade store: item
// listings, market log queries, and rendered price charts.
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"dankstats/internal/config"
	"dankstats/internal/store"
)

const (
	maxLogLimit  = 10000
	maxChartLast = 5000
	defaultLast  = 500
	defaultSlots = 4
)

// Server is the HTTP API server over the sharded trade store.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	version string
	started time.Time

	// Identical chart requests are coalesced, and concurrent renders are
	// capped so a burst of distinct requests cannot exhaust memory.
	charts     singleflight.Group
	renderSlot chan struct{}
}

// NewServer creates a Server with the given config and store.
func NewServer(cfg *config.Config, st *store.Store, version string) *Server {
	slots := cfg.Server.RenderSlots
	if slots <= 0 {
		slots = defaultSlots
	}
	return &Server{
		cfg:        cfg,
		store:      st,
		version:    version,
		started:    time.Now(),
		renderSlot: make(chan struct{}, slots),
	}
}

// Handler returns the HTTP handler with all API routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/items", s.handleItems)
	mux.HandleFunc("GET /api/marketlogs", s.handleMarketlogs)
	mux.HandleFunc("GET /api/chart", s.handleChart)
	return corsMiddleware(requestIDMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type statusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Items         int64  `json:"items"`
	LiveTrades    int64  `json:"live_trades"`
	ArchiveTrades int64  `json:"archive_trades"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ItemCount()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	live, err := s.store.LiveCount()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	archive, err := s.store.ArchiveCount()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, statusResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Items:         items,
		LiveTrades:    live,
		ArchiveTrades: archive,
	})
}

type itemHistoryJSON struct {
	T string `json:"t"`
	V int64  `json:"v"`
}

type itemJSON struct {
	ID      int64             `json:"id"`
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	History []itemHistoryJSON `json:"history"`
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	out := make([]itemJSON, 0, len(items))
	for _, it := range items {
		hist := make([]itemHistoryJSON, 0, len(it.History))
		for _, p := range it.History {
			hist = append(hist, itemHistoryJSON{T: formatMS(p.T), V: p.V})
		}
		out = append(out, itemJSON{ID: it.ID, Name: it.Name, URL: it.IconURL, History: hist})
	}
	writeJSON(w, out)
}

type tradeJSON struct {
	X  string `json:"x"`
	Y  int64  `json:"y"`
	N  int64  `json:"n"`
	ID string `json:"id"`
	S  bool   `json:"s"`
	I  int64  `json:"i"`
}

func (s *Server) handleMarketlogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := parseFilter(q)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}

	if q.Get("countOnly") == "true" {
		count, err := s.store.Count(filter)
		if err != nil {
			writeError(w, 500, err.Error())
			return
		}
		writeJSON(w, map[string]int64{"count": count})
		return
	}

	skip, err := parseIntParam(q.Get("skip"), 0)
	if err != nil {
		writeError(w, 400, "invalid skip")
		return
	}
	limit, err := parseIntParam(q.Get("limit"), maxLogLimit)
	if err != nil {
		writeError(w, 400, "invalid limit")
		return
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	if skip < 0 {
		skip = 0
	}

	trades, err := s.store.Find(filter, false, skip, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	out := make([]tradeJSON, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeJSON{
			X:  formatMS(t.TS),
			Y:  t.Price,
			N:  t.Qty,
			ID: t.ExternalID,
			S:  t.IsSell,
			I:  t.ItemID,
		})
	}
	writeJSON(w, out)
}

func parseFilter(q url.Values) (store.TradeFilter, error) {
	filter := store.AllTrades()
	if v := q.Get("item"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			return filter, errInvalidParam("item")
		}
		filter.ItemID = id
	}
	switch side := q.Get("type"); side {
	case "", "buy", "sell":
		filter.Side = side
	default:
		return filter, errInvalidParam("type")
	}
	filter.ExcludePrivate = q.Get("private") == "false"

	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		return filter, errInvalidParam("start")
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		return filter, errInvalidParam("end")
	}
	filter.StartMS = start
	filter.EndMS = end
	return filter, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return "invalid " + string(e) + " parameter" }

func parseIntParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// parseTimeParam accepts either an RFC 3339 timestamp or raw Unix
// milliseconds. Empty means unbounded.
func parseTimeParam(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UnixMilli(), nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms < 0 {
		return 0, strconv.ErrSyntax
	}
	return ms, nil
}

func formatMS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
