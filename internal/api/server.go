package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stampsync/internal/connectivity"
	"stampsync/internal/domain"
	"stampsync/internal/notify"
	"stampsync/internal/processor"
	"stampsync/internal/queue"
	"stampsync/internal/scheduler"
	"stampsync/internal/syncer"
)

// Deps are the components the API exposes.
type Deps struct {
	Store     *queue.Store
	Processor *processor.Processor
	Retries   *scheduler.RetryScheduler
	Syncer    *syncer.Orchestrator
	Monitor   *connectivity.Monitor
	Notes     *notify.Recorder
}

type Server struct {
	r *chi.Mux
	Deps
}

func NewServer(d Deps) http.Handler {
	return NewServerWithDebug(d, false)
}

func NewServerWithDebug(d Deps, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, Deps: d}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Post("/api/operations", s.enqueue)
	r.Get("/api/queues", s.queueStats)
	r.Get("/api/queues/{key}", s.listQueue)
	r.Delete("/api/queues/{key}/{id}", s.removeOperation)
	r.Post("/api/sync", s.sync)
	r.Get("/api/connectivity", s.getConnectivity)
	r.Put("/api/connectivity", s.setConnectivity)
	r.Get("/api/notifications", s.notifications)

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	var b strings.Builder
	b.WriteString("stampsync_up 1\n")
	online := 0
	if s.Monitor.Online() {
		online = 1
	}
	fmt.Fprintf(&b, "stampsync_online %d\n", online)
	for _, k := range s.Store.Keys() {
		fmt.Fprintf(&b, "stampsync_queue_length{queue=%q} %d\n", k, stats[k])
	}
	counts := s.Processor.Counts()
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&b, "stampsync_attempts_total{outcome=%q} %d\n", n, counts[n])
	}
	fmt.Fprintf(&b, "stampsync_retries_pending %d\n", s.Retries.Pending())

	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

type enqueueReq struct {
	ID      string               `json:"id"`
	Type    domain.OperationType `json:"type"`
	Payload json.RawMessage      `json:"payload"`
}

type enqueueResp struct {
	ID    string          `json:"id"`
	Queue domain.QueueKey `json:"queue"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", 400)
		return
	}
	key, ok := domain.QueueFor(req.Type)
	if !ok {
		http.Error(w, "unknown type "+string(req.Type), 400)
		return
	}
	if len(req.Payload) == 0 {
		http.Error(w, "payload is required", 400)
		return
	}
	op, err := s.Store.Enqueue(r.Context(), key, domain.Operation{ID: req.ID, Type: req.Type, Payload: req.Payload})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResp{ID: op.ID, Queue: key})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, stats)
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	key := domain.QueueKey(chi.URLParam(r, "key"))
	ops, err := s.Store.List(r.Context(), key)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	type item struct {
		domain.Operation
		InFlight bool `json:"inFlight"`
	}
	out := make([]item, 0, len(ops))
	for _, op := range ops {
		out = append(out, item{Operation: op, InFlight: s.Processor.InFlight(op.ID)})
	}
	writeJSON(w, 200, out)
}

func (s *Server) removeOperation(w http.ResponseWriter, r *http.Request) {
	key := domain.QueueKey(chi.URLParam(r, "key"))
	id := chi.URLParam(r, "id")
	if err := s.Store.Remove(r.Context(), key, id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.Retries.Cancel(id)
	w.WriteHeader(http.StatusNoContent)
}

type syncResp struct {
	Reports []syncer.Report `json:"reports"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	reports, err := s.Syncer.Sync(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, syncResp{Reports: reports, Error: err.Error()})
		return
	}
	writeJSON(w, 200, syncResp{Reports: reports})
}

type connectivityBody struct {
	Online bool `json:"online"`
}

func (s *Server) getConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, connectivityBody{Online: s.Monitor.Online()})
}

func (s *Server) setConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	s.Monitor.Set(req.Online)
	writeJSON(w, 200, connectivityBody{Online: s.Monitor.Online()})
}

func (s *Server) notifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.Notes.Recent())
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrUnknownQueue) {
		http.Error(w, err.Error(), 404)
		return
	}
	http.Error(w, err.Error(), 500)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
