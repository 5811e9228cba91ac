package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/theirongolddev/tokpulse/internal/activity"
	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/store"
)

const (
	maxSeriesPoints  = 2000
	defaultSnapshots = 20
)

// SummaryResponse is served at /v1/summary.
type SummaryResponse struct {
	Summary model.Summary        `json:"summary"`
	Groups  []model.GroupSummary `json:"groups"`
}

// BurnResponse is served at /v1/burn.
type BurnResponse struct {
	model.BurnRate
	ProjectedMonthlyCost float64  `json:"projectedMonthlyCost"`
	MonthlyBudgetUSD     *float64 `json:"monthlyBudgetUsd,omitempty"`
	BudgetUsedPercent    *float64 `json:"budgetUsedPercent,omitempty"`
}

// Handler returns the daemon's HTTP API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /v1/activity", s.handleActivity)
	mux.HandleFunc("GET /v1/series", s.handleSeries)
	mux.HandleFunc("GET /v1/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /v1/burn", s.handleBurn)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("POST /v1/refresh", s.handleRefresh)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Service) handleSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Sessions())
}

func (s *Service) handleActivity(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("counter")
	if id == "" {
		id = activity.GlobalCounter
	}
	st, ok := s.deps.Estimator.State(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown counter %q", id))
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleSeries(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseRange(r, 24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bucket := s.cfg.BucketMinutes
	if v := r.URL.Query().Get("bucket"); v != "" {
		bucket, err = strconv.Atoi(v)
		if err != nil || bucket <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid bucket %q", v))
			return
		}
	}

	points, err := s.deps.Store.TimeSeries(r.Context(), start, end, bucket)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, store.FillSeries(points, start, end, bucket, maxSeriesPoints))
}

func (s *Service) handleSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseRange(r, 30*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sum, err := s.deps.Store.Summary(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	groups, err := s.deps.Store.GroupedSummary(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SummaryResponse{Summary: sum, Groups: groups})
}

func (s *Service) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := defaultSnapshots
	if v := q.Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid n %q", v))
			return
		}
		n = parsed
	}

	snaps, err := s.deps.Store.RecentSnapshots(r.Context(), q.Get("provider"), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Service) handleBurn(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid window %q", v))
			return
		}
		window = d
	}

	br, err := s.deps.Store.BurnRate(r.Context(), window, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := BurnResponse{BurnRate: br, ProjectedMonthlyCost: br.ProjectedMonthlyCost()}
	if b := s.cfg.MonthlyBudgetUSD; b != nil && *b > 0 {
		pct := br.BudgetUsedPercent(*b)
		resp.MonthlyBudgetUSD = b
		resp.BudgetUsedPercent = &pct
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	s.writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.RefreshNow()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// Send current snapshot immediately.
	current := Event{
		Type:      "snapshot",
		Timestamp: s.now(),
		Snapshot:  s.status().Summary,
	}
	s.writeSSE(w, current)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			s.writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

// writeSSE frames ev. Ids are scoped to the daemon instance so a client
// reconnecting to a restarted daemon can tell the sequences apart.
func (s *Service) writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if ev.ID > 0 {
		_, _ = fmt.Fprintf(w, "id: %s-%d\n", s.instanceID, ev.ID)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

// parseRange reads RFC 3339 start/end query parameters. end defaults to now
// and start to end minus def.
func (s *Service) parseRange(r *http.Request, def time.Duration) (time.Time, time.Time, error) {
	q := r.URL.Query()
	end := s.now()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
		end = t
	}
	start := end.Add(-def)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s after end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
