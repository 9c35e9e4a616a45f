package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"discbot/changer"
	"discbot/jukebox"
)

// OpRequest is the JSON request for slot operations.
type OpRequest struct {
	Slot  int  `json:"slot,omitempty"`
	Eject bool `json:"eject,omitempty"` // recovery resolution only
}

// BatchRequest is the JSON request for starting a batch.
type BatchRequest struct {
	Slots     []int  `json:"slots,omitempty"`
	OutputDir string `json:"output_dir,omitempty"`
}

// OpResponse is the JSON response for an operation.
type OpResponse struct {
	Op        string `json:"op"`
	Slot      int    `json:"slot,omitempty"`
	ID        string `json:"id,omitempty"` // batch id when one was started
	Count     int    `json:"count,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HistoryEntry is the JSON response for one recorded operation.
type HistoryEntry struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Slot      int    `json:"slot"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Timestamp string `json:"timestamp"`
}

// DiscEntry is the JSON response for a catalogued disc.
type DiscEntry struct {
	Slot      int    `json:"slot"`
	Handle    string `json:"handle,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	SizeBytes uint64 `json:"size_bytes"`
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
}

// BackupEntry is the JSON response for one imaging outcome.
type BackupEntry struct {
	ImagePath string `json:"image_path,omitempty"`
	OK        bool   `json:"ok"`
	SizeBytes uint64 `json:"size_bytes"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.handleStatus)
	r.Get("/status", s.handleStatus)
	r.Get("/elements", s.handleElements)
	r.Get("/events", s.handleSSE)

	r.Post("/connect", s.op("connect", func(OpRequest) error { return s.j.Connect() }))
	r.Post("/disconnect", s.op("disconnect", func(OpRequest) error { return s.j.Disconnect() }))
	r.Post("/refresh", s.op("refresh", func(OpRequest) error { return s.j.Refresh() }))
	r.Post("/rescan", s.op("rescan", func(OpRequest) error { return s.j.Rescan() }))

	r.Post("/load", s.op("load", func(req OpRequest) error {
		if req.Slot == 0 {
			return s.j.LoadFromIE()
		}
		return s.j.Load(req.Slot)
	}))
	r.Post("/eject", s.op("eject", func(req OpRequest) error { return s.j.Eject(req.Slot) }))
	r.Post("/export", s.op("export", func(req OpRequest) error { return s.j.ExportToIE(req.Slot) }))
	r.Post("/import", s.op("import", func(req OpRequest) error { return s.j.ImportFromIE(req.Slot) }))
	r.Post("/recovery", s.op("recovery", func(req OpRequest) error { return s.j.ResolveRecovery(req.Eject) }))

	r.Route("/unload", func(r chi.Router) {
		r.Post("/", s.handleUnloadStart)
		r.Post("/continue", s.op("unload-continue", func(OpRequest) error { return s.j.ContinueUnload() }))
		r.Post("/cancel", s.op("unload-cancel", func(OpRequest) error { return s.j.CancelUnload() }))
	})

	r.Route("/batch", func(r chi.Router) {
		r.Get("/", s.handleBatchStatus)
		r.Post("/load", s.batchStart("batch-load", func(req BatchRequest) (string, error) {
			return s.j.StartBatchLoad(req.Slots)
		}))
		r.Post("/image", s.batchStart("batch-image", func(req BatchRequest) (string, error) {
			return s.j.StartBatchImage(req.OutputDir, req.Slots)
		}))
		r.Post("/scan", s.batchStart("batch-scan", func(BatchRequest) (string, error) {
			return s.j.StartScanUnknown()
		}))
		r.Post("/pause", s.op("batch-pause", func(OpRequest) error { return s.j.PauseBatch() }))
		r.Post("/resume", s.op("batch-resume", func(OpRequest) error { return s.j.ResumeBatch() }))
		r.Post("/cancel", s.op("batch-cancel", func(OpRequest) error { return s.j.CancelBatch() }))
	})

	r.Get("/history", s.handleHistory)
	r.Get("/discs", s.handleDiscs)
	r.Get("/discs/{slot}/backups", s.handleBackups)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// statusFor maps operation errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, changer.ErrNotConnected),
		errors.Is(err, changer.ErrConnectionFailed),
		errors.Is(err, changer.ErrDeviceNotFound):
		return http.StatusServiceUnavailable
	case errors.Is(err, jukebox.ErrBusy),
		errors.Is(err, jukebox.ErrRecoveryPending),
		errors.Is(err, jukebox.ErrRemovalPending),
		errors.Is(err, jukebox.ErrNoEmptySlot),
		errors.Is(err, jukebox.ErrNoImportExport),
		errors.Is(err, changer.ErrDriveNotEmpty),
		errors.Is(err, changer.ErrDriveEmpty):
		return http.StatusConflict
	case errors.Is(err, jukebox.ErrNoUnload),
		errors.Is(err, jukebox.ErrNoBatch):
		return http.StatusNotFound
	}

	var empty *changer.SlotEmptyError
	var occupied *changer.SlotOccupiedError
	if errors.As(err, &empty) || errors.As(err, &occupied) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// op wraps a jukebox operation as a POST handler. The request body is
// optional for operations that take no slot.
func (s *Server) op(name string, fn func(OpRequest) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
		}

		err := fn(req)
		resp := OpResponse{
			Op:        name,
			Slot:      req.Slot,
			Success:   err == nil,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if err != nil {
			resp.Error = err.Error()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(statusFor(err))
			json.NewEncoder(w).Encode(resp)
			return
		}
		s.writeJSON(w, resp)
	}
}

// batchStart wraps a batch-starting operation, returning the batch id.
func (s *Server) batchStart(name string, fn func(BatchRequest) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
		}

		id, err := fn(req)
		resp := OpResponse{
			Op:        name,
			ID:        id,
			Success:   err == nil,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if err != nil {
			resp.Error = err.Error()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(statusFor(err))
			json.NewEncoder(w).Encode(resp)
			return
		}
		s.writeJSON(w, resp)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.j.Status())
}

func (s *Server) handleElements(w http.ResponseWriter, r *http.Request) {
	elements, ok := s.j.ElementAddresses()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "not connected")
		return
	}
	s.writeJSON(w, elements)
}

func (s *Server) handleUnloadStart(w http.ResponseWriter, r *http.Request) {
	count, err := s.j.StartUnloadAll()
	resp := OpResponse{
		Op:        "unload",
		Count:     count,
		Success:   err == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		resp.Error = err.Error()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusFor(err))
		json.NewEncoder(w).Encode(resp)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	report, ok := s.j.BatchStatus()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no batch")
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "no state store configured")
		return
	}

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		limit, _ = strconv.Atoi(q)
	}

	events, err := s.store.RecentEvents(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]HistoryEntry, 0, len(events))
	for _, ev := range events {
		response = append(response, HistoryEntry{
			ID:        ev.ID,
			Kind:      ev.Kind,
			Slot:      ev.Slot,
			OK:        ev.OK,
			Detail:    ev.Detail,
			ElapsedMS: ev.Elapsed.Milliseconds(),
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, response)
}

func (s *Server) handleDiscs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "no state store configured")
		return
	}

	discs, err := s.store.Discs()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]DiscEntry, 0, len(discs))
	for _, d := range discs {
		response = append(response, DiscEntry{
			Slot:      d.Slot,
			Handle:    d.Handle,
			MediaType: d.MediaType,
			SizeBytes: d.SizeBytes,
			FirstSeen: d.FirstSeen.UTC().Format(time.RFC3339),
			LastSeen:  d.LastSeen.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, response)
}

func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "no state store configured")
		return
	}

	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || slot < 1 {
		s.writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}

	backups, err := s.store.Backups(slot, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]BackupEntry, 0, len(backups))
	for _, b := range backups {
		response = append(response, BackupEntry{
			ImagePath: b.ImagePath,
			OK:        b.OK,
			SizeBytes: b.SizeBytes,
			Error:     b.Error,
			Timestamp: b.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, response)
}
