package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// StreamEvents streams a bus topic as server-sent events. The optional
// history query parameter replays that many recent events first.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	history := 0
	if v := r.URL.Query().Get("history"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid history %q", v))
			return
		}
		history = n
	}

	ch, past := h.bus.SubscribeWithHistory(topic, history)
	defer h.bus.Unsubscribe(topic, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, ev := range past {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, ev.Payload)
	}
	flusher.Flush()

	slog.Debug("Event stream opened", "topic", topic)
	defer slog.Debug("Event stream closed", "topic", topic)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, ev.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
