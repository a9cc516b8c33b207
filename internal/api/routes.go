package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clinic-sync-service/internal/store"
	syncengine "clinic-sync-service/internal/sync"
	"clinic-sync-service/internal/writer"
)

// Handler exposes the sync engine to the UI layer: status, manual triggers
// and the conflict inbox.
type Handler struct {
	coordinator *syncengine.Coordinator
	resolver    *syncengine.Resolver
	tracker     *syncengine.Tracker
	store       store.Store
	gateway     *writer.Gateway
}

func NewHandler(coordinator *syncengine.Coordinator, resolver *syncengine.Resolver, tracker *syncengine.Tracker, st store.Store, gateway *writer.Gateway) *Handler {
	return &Handler{
		coordinator: coordinator,
		resolver:    resolver,
		tracker:     tracker,
		store:       st,
		gateway:     gateway,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/sync/push", h.TriggerPush)
		r.Post("/sync/pull", h.TriggerPull)
		r.Post("/sync/retry-failed", h.RetryFailed)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/verify", h.VerifySync)

		r.Get("/conflicts", h.ListConflicts)
		r.Post("/conflicts/{id}/resolve", h.ResolveConflict)

		r.Post("/writes", h.ExecuteWrite)
		r.Post("/writes/batch", h.ExecuteBatch)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	go h.coordinator.SyncNow(context.Background())
	writeJSON(w, map[string]string{"status": "triggered"})
}

func (h *Handler) TriggerPush(w http.ResponseWriter, r *http.Request) {
	go h.coordinator.PushNow(context.Background())
	writeJSON(w, map[string]string{"status": "triggered"})
}

func (h *Handler) TriggerPull(w http.ResponseWriter, r *http.Request) {
	go h.coordinator.PullNow(context.Background())
	writeJSON(w, map[string]string{"status": "triggered"})
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	go h.coordinator.RetryFailed(context.Background())
	writeJSON(w, map[string]string{"status": "triggered"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.tracker.Snapshot())
}

// VerifySync reports per-table local vs remote row counts alongside the write
// log backlog, so drift can be spotted without reading either database.
func (h *Handler) VerifySync(w http.ResponseWriter, r *http.Request) {
	counts, err := h.coordinator.VerifyCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	pending, err := h.store.CountActionable(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	frozen, err := h.store.CountQueueConflicts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	unresolved, err := h.store.CountUnresolvedConflicts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"tables": counts,
		"queue": map[string]int{
			"pending":  pending,
			"conflict": frozen,
		},
		"unresolved_conflicts": unresolved,
	})
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	conflicts, err := h.store.ListUnresolvedConflicts(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conflicts == nil {
		conflicts = []*store.Conflict{}
	}

	writeJSON(w, conflicts)
}

type resolveRequest struct {
	Choice     string `json:"choice"`
	ResolvedBy string `json:"resolved_by"`
}

func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid conflict id", http.StatusBadRequest)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.resolver.Resolve(r.Context(), id, req.Choice, req.ResolvedBy); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]string{"status": "resolved"})
}

type writeRequest struct {
	Table     string                 `json:"table"`
	RecordID  string                 `json:"record_id"`
	Operation string                 `json:"operation"`
	Data      map[string]interface{} `json:"data"`
}

func (r writeRequest) toOperation() writer.Operation {
	return writer.Operation{
		Table:     r.Table,
		RecordID:  r.RecordID,
		Operation: r.Operation,
		Data:      r.Data,
	}
}

func (h *Handler) ExecuteWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !h.gateway.ExecuteWrite(r.Context(), req.toOperation()) {
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "accepted"})
}

func (h *Handler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []writeRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ops := make([]writer.Operation, len(reqs))
	for i, req := range reqs {
		ops[i] = req.toOperation()
	}

	if !h.gateway.ExecuteBatch(r.Context(), ops) {
		http.Error(w, "batch write failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
