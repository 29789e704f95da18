package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const keepAliveInterval = 15 * time.Second

// Frame encodes one event in the text/event-stream format with data as JSON.
func Frame(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("sse: encode %s: %w", event, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload)), nil
}

// Stream writes the event-stream headers and copies frames from ch to w until
// the client goes away or ch is closed. Idle streams get a comment line every
// keepAliveInterval so proxies do not time them out.
func Stream(w http.ResponseWriter, r *http.Request, ch <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
