package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/state"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"detector_ready":  s.deps.Detector.IsReady(),
		"active_clients":  s.clientCount(),
		"active_sessions": len(s.deps.Engine.Sessions()),
		"uptime_sec":      int(time.Since(s.started).Seconds()),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"metrics":   s.deps.Metrics.Snapshot(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if s.deps.EventStats != nil {
		body["events"] = s.deps.EventStats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Engine.Blocks().List(r.Context())
	if err != nil {
		log.Printf("/api/blocks - failed to list blocks: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list blocks")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoId")
	rec, err := s.deps.Engine.Blocks().Load(r.Context(), videoID)
	switch {
	case errors.Is(err, state.ErrNotFound):
		writeError(w, http.StatusNotFound, "video is not blocked")
		return
	case err != nil:
		log.Printf("/api/blocks/%s - failed to load block: %v", videoID, err)
		writeError(w, http.StatusInternalServerError, "failed to load block")
		return
	}

	now := time.Now()
	if rec.Expired(now) {
		writeError(w, http.StatusNotFound, "video is not blocked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"videoId":     rec.VideoID,
		"endTime":     rec.EndTime,
		"reason":      rec.Reason,
		"remainingMs": rec.Remaining(now).Milliseconds(),
	})
}
