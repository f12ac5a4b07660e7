// Package httpapi exposes the sync engine's trigger/status surface over
// HTTP: one-shot sync operations, conflict resolution, and the long-running
// archive import and recovery flows as cancellable background operations.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	gosync "sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/42zz/CaleNote-sub001/internal/archive"
	"github.com/42zz/CaleNote-sub001/internal/lifecycle"
	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/pager"
	"github.com/42zz/CaleNote-sub001/internal/store"
	"github.com/42zz/CaleNote-sub001/internal/sync"
)

// Handlers owns the HTTP-facing state: service references plus the busy
// guards and last-reported progress of the background operations.
type Handlers struct {
	svc      *sync.Service
	importer *archive.Importer
	life     *lifecycle.Manager
	agenda   *pager.Pager
	st       store.Store
	log      zerolog.Logger

	mu             gosync.Mutex
	agendaLoaded   bool
	importRunning  bool
	importCancel   context.CancelFunc
	importProgress map[string]archive.Progress
	importErr      string

	recoveryRunning bool
	recoveryCancel  context.CancelFunc
	recoveryPhase   lifecycle.Phase
	recoveryErr     string
}

// NewHandlers wires the handler set.
func NewHandlers(svc *sync.Service, importer *archive.Importer, life *lifecycle.Manager, agenda *pager.Pager, st store.Store, log zerolog.Logger) *Handlers {
	return &Handlers{
		svc:            svc,
		importer:       importer,
		life:           life,
		agenda:         agenda,
		st:             st,
		log:            log.With().Str("component", "httpapi").Logger(),
		importProgress: make(map[string]archive.Progress),
	}
}

// --- health ---

func (h *Handlers) CheckHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) CheckStorageHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.st.HealthPing(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- sync triggers ---

type cycleResponse struct {
	Upserted   int      `json:"upserted"`
	Deleted    int      `json:"deleted"`
	Skipped    int      `json:"skipped"`
	Conflicted int      `json:"conflicted"`
	Failed     int      `json:"failed"`
	Retries    int      `json:"retries"`
	Errors     []string `json:"errors,omitempty"`
}

func toCycleResponse(res *sync.CycleResult) cycleResponse {
	out := cycleResponse{
		Upserted:   res.Push.Upserted + res.Pull.Upserted,
		Deleted:    res.Push.Deleted + res.Pull.Deleted,
		Skipped:    res.Push.Skipped + res.Pull.Skipped,
		Conflicted: res.Push.Conflicted + res.Pull.Conflicted,
		Failed:     res.Push.Failed + res.Pull.Failed,
		Retries:    res.Push.Stats.Retries + res.Pull.Stats.Retries,
	}
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}

func (h *Handlers) runCycle(w http.ResponseWriter, res *sync.CycleResult, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if res.Failed() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, toCycleResponse(res))
}

func (h *Handlers) RunFullSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RunFullSyncCycle(r.Context())
	h.runCycle(w, res, err)
}

func (h *Handlers) PushLocal(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PushLocalChanges(r.Context())
	h.runCycle(w, res, err)
}

func (h *Handlers) PullRemote(w http.ResponseWriter, r *http.Request) {
	past := queryInt(r, "pastDays")
	future := queryInt(r, "futureDays")
	res, err := h.svc.PullRemoteChanges(r.Context(), past, future)
	h.runCycle(w, res, err)
}

func (h *Handlers) RetryFailed(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RetryFailedPushes(r.Context())
	h.runCycle(w, res, err)
}

// SyncStatus reports the local backlog: how many records wait for a push and
// how many are stuck failed.
func (h *Handlers) SyncStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.st.Records().CountByStatus(r.Context(), model.StatusPending)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	failed, err := h.st.Records().CountByStatus(r.Context(), model.StatusFailed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": pending, "failed": failed})
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// --- conflicts ---

func (h *Handlers) ListConflicts(w http.ResponseWriter, r *http.Request) {
	recs, err := h.st.Records().ListConflicted(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": recs})
}

func (h *Handlers) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	recordID := mux.Vars(r)["recordId"]
	var body struct {
		Resolution model.Resolution `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Resolution != model.ResolveUseLocal && body.Resolution != model.ResolveUseRemote {
		writeError(w, http.StatusBadRequest, "resolution must be useLocal or useRemote")
		return
	}
	if err := h.svc.ResolveConflict(r.Context(), recordID, body.Resolution); err != nil {
		switch {
		case isNotFound(err):
			writeError(w, http.StatusNotFound, "record not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }

// --- archive import ---

func (h *Handlers) StartImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Collections []string `json:"collections"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	h.mu.Lock()
	if h.importRunning {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "import already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.importRunning = true
	h.importCancel = cancel
	h.importErr = ""
	h.mu.Unlock()

	go func() {
		err := h.importer.Run(ctx, body.Collections, func(p archive.Progress) {
			h.mu.Lock()
			h.importProgress[p.CollectionID] = p
			h.mu.Unlock()
		})
		h.mu.Lock()
		h.importRunning = false
		h.importCancel = nil
		if err != nil {
			h.importErr = err.Error()
		}
		h.mu.Unlock()
		if err != nil {
			h.log.Warn().Err(err).Msg("archive import finished with errors")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handlers) CancelImport(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	cancel := h.importCancel
	h.mu.Unlock()
	if cancel == nil {
		writeError(w, http.StatusConflict, "no import running")
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (h *Handlers) ImportProgress(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	progress := make([]archive.Progress, 0, len(h.importProgress))
	for _, p := range h.importProgress {
		progress = append(progress, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  h.importRunning,
		"progress": progress,
		"error":    h.importErr,
	})
}

// --- recovery ---

func (h *Handlers) StartRecovery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PreserveRecords bool `json:"preserveRecords"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	h.mu.Lock()
	if h.recoveryRunning {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "recovery already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.recoveryRunning = true
	h.recoveryCancel = cancel
	h.recoveryErr = ""
	h.mu.Unlock()

	go func() {
		err := h.life.Recover(ctx, body.PreserveRecords, func(p lifecycle.Phase) {
			h.mu.Lock()
			h.recoveryPhase = p
			h.mu.Unlock()
		})
		h.mu.Lock()
		h.recoveryRunning = false
		h.recoveryCancel = nil
		if err != nil {
			h.recoveryErr = err.Error()
		}
		h.mu.Unlock()
		if err != nil {
			h.log.Warn().Err(err).Msg("recovery finished with errors")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handlers) CancelRecovery(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	cancel := h.recoveryCancel
	h.mu.Unlock()
	if cancel == nil {
		writeError(w, http.StatusConflict, "no recovery running")
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (h *Handlers) RecoveryStatus(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"running": h.recoveryRunning,
		"phase":   h.recoveryPhase,
		"error":   h.recoveryErr,
	})
}

// --- agenda ---

func (h *Handlers) agendaResponse() map[string]any {
	return map[string]any{
		"entries":         h.agenda.Entries(),
		"reachedEarliest": h.agenda.ReachedEarliest(),
		"reachedLatest":   h.agenda.ReachedLatest(),
	}
}

// GetAgenda returns the buffered display window, loading it around today on
// first access.
func (h *Handlers) GetAgenda(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	needsLoad := !h.agendaLoaded
	h.agendaLoaded = true
	h.mu.Unlock()

	if needsLoad {
		if err := h.agenda.Load(r.Context()); err != nil {
			h.mu.Lock()
			h.agendaLoaded = false
			h.mu.Unlock()
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, h.agendaResponse())
}

// ScrollAgenda extends the window one page in the requested direction.
func (h *Handlers) ScrollAgenda(w http.ResponseWriter, r *http.Request) {
	var (
		n   int
		err error
	)
	switch direction := mux.Vars(r)["direction"]; direction {
	case "past":
		n, err = h.agenda.LoadPast(r.Context())
	case "future":
		n, err = h.agenda.LoadFuture(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "direction must be past or future")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := h.agendaResponse()
	resp["loaded"] = n
	writeJSON(w, http.StatusOK, resp)
}

// --- collections & telemetry ---

func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := h.st.Collections().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": cols})
}

func (h *Handlers) SetCollectionEnabled(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["collectionId"]
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.st.Collections().SetEnabled(r.Context(), id, body.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": body.Enabled})
}

func (h *Handlers) ListTelemetry(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	entries, err := h.st.Telemetry().List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"telemetry": entries})
}
