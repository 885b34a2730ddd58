package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Stream pushes the visitor's chat snapshot as server-sent events whenever it
// changes.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	key := visitorKey(r)
	updates, unsubscribe := h.chats.Subscribe(r.Context(), key)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.opts.RetryDelay.Milliseconds()); err != nil {
		return
	}
	flusher.Flush()

	h.logger.Info("Chat stream connected", "user_id", key.UserID, "session_id", key.SessionID)

	keepalive := time.NewTicker(h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	var eventID int64
	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("Chat stream disconnected", "user_id", key.UserID, "session_id", key.SessionID)
			return
		case snap := <-updates:
			data, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("failed to encode chat snapshot", "error", err)
				return
			}
			eventID++
			if err := writeSSEWithID(w, eventID, "snapshot", string(data)); err != nil {
				h.logger.Warn("failed to write SSE snapshot", "error", err, "user_id", key.UserID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "user_id", key.UserID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
