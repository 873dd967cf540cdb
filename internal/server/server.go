package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ulvgard/procplan/internal/models"
	"github.com/ulvgard/procplan/internal/service"
	"github.com/ulvgard/procplan/internal/store"
)

type Server struct {
	svc     *service.Service
	webRoot string
}

func New(svc *service.Service, webRoot string) *Server {
	return &Server{svc: svc, webRoot: webRoot}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/nodes", s.handleListNodes)
	mux.HandleFunc("GET /api/availability", s.handleAvailability)
	mux.HandleFunc("POST /api/book", s.handleBook)
	mux.HandleFunc("POST /api/mark_done", s.handleMarkDone)
	mux.HandleFunc("DELETE /api/bookings/{id}", s.handleCancel)
	mux.HandleFunc("POST /api/reload_config", s.handleReload)

	if s.webRoot != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.webRoot)))
	}

	return s.withLogging(s.withCORS(mux))
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()[:8]
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(sw, r)
		log.Printf("[%s] %s %s -> %d (%v)", reqID, r.Method, r.URL.Path, sw.status, time.Since(started).Round(time.Millisecond))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Server: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message, "status": status})
}

// writeServiceError maps the core error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation *store.ValidationError
		notFound   *store.NotFoundError
		conflict   *store.ConflictError
		capacity   *store.CapacityError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict), errors.As(err, &capacity):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("Server: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseTimestamp accepts RFC3339 and bare ISO timestamps without a zone,
// which are taken as UTC.
func parseTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.svc.ListNodes()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nodeID := q.Get("node_id")
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'node_id' is required")
		return
	}

	var start, end time.Time
	startRaw, endRaw := q.Get("start"), q.Get("end")
	if startRaw != "" && endRaw != "" {
		var err error
		if start, err = parseTimestamp(startRaw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'start' timestamp")
			return
		}
		if end, err = parseTimestamp(endRaw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'end' timestamp")
			return
		}
	} else {
		start, end = s.svc.DefaultWindow()
	}

	resolution, err := models.ParseResolution(q.Get("granularity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	grid, err := s.svc.ComputeAvailability(nodeID, start, end, resolution)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

type bookRequest struct {
	NodeID    string   `json:"node_id"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	UserLabel string   `json:"user_label"`
	GPUIDs    []string `json:"gpu_ids"`
	GPUCount  int      `json:"gpu_count"`
	Priority  string   `json:"priority"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.NodeID == "" || req.Start == "" || req.End == "" {
		writeError(w, http.StatusBadRequest, "fields 'node_id', 'start', and 'end' are required")
		return
	}

	start, err := parseTimestamp(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'start' timestamp")
		return
	}
	end, err := parseTimestamp(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'end' timestamp")
		return
	}

	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reservation, err := s.svc.CreateReservation(service.CreateRequest{
		NodeID:    req.NodeID,
		Start:     start,
		End:       end,
		UserLabel: req.UserLabel,
		GPUIDs:    req.GPUIDs,
		GPUCount:  req.GPUCount,
		Priority:  priority,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"reservation_id": reservation.ID,
		"node_id":        reservation.NodeID,
		"gpu_ids":        reservation.GPUIDs,
		"start":          reservation.Start,
		"end":            reservation.End,
		"user_label":     reservation.UserLabel,
		"priority":       reservation.Priority,
	})
}

func (s *Server) handleMarkDone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReservationID *int64 `json:"reservation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReservationID == nil {
		writeError(w, http.StatusBadRequest, "'reservation_id' is required")
		return
	}

	ok, err := s.svc.MarkComplete(*req.ReservationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "reservation is not active or does not exist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation_id": *req.ReservationID, "status": models.StatusCompleted})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reservation id must be an integer")
		return
	}

	ok, err := s.svc.Cancel(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "reservation is not active or does not exist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation_id": id, "status": models.StatusCancelled})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ReloadCatalog(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
