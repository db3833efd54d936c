package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseInterval is how often realtime snapshots are pushed.
const sseInterval = 2 * time.Second

// alertErrorRate is the error ratio above which an alert event is emitted.
const alertErrorRate = 0.5

// serveSSE streams metric snapshots as Server-Sent Events, tagged
// "metrics", "worker", and "alert".
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(sseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			summary := s.agg.Summary()
			writeEvent(w, "metrics", summary)
			writeEvent(w, "worker", s.pool.Stats())

			if summary.TotalRequests > 0 {
				errRate := float64(summary.TotalErrors) / float64(summary.TotalRequests)
				if errRate > alertErrorRate {
					writeEvent(w, "alert", map[string]any{
						"kind":       "high_error_rate",
						"error_rate": errRate,
					})
				}
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
