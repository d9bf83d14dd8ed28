package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sseWriteTimeout = 10 * time.Second

type handlers struct {
	snapshots  Snapshots
	locator    Locator
	thumbnails Thumbnails
}

// statuses serves the pre-serialized snapshot as is.
func (h *handlers) statuses(w http.ResponseWriter, _ *http.Request) {
	writeRaw(w, http.StatusOK, "application/json", h.snapshots.Latest().Body)
}

func (h *handlers) thumbnail(w http.ResponseWriter, r *http.Request) {
	externalID, err := uuid.Parse(chi.URLParam(r, "externalID"))
	if err != nil {
		writeError(w, "Station not found", http.StatusNotFound)
		return
	}

	loc, ok := h.locator.Locate(externalID)
	if !ok {
		writeError(w, "Station not found", http.StatusNotFound)
		return
	}

	data, err := h.thumbnails.Thumbnail(r.Context(), loc.Latitude, loc.Longitude)
	if err != nil {
		log.Error().
			Err(err).
			Str("station", externalID.String()).
			Msg("Failed to generate thumbnail")
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=86400")
	writeRaw(w, http.StatusOK, "image/png", data)
}

// stream sends the current snapshot, then every snapshot published while
// the client stays connected. A slow client only ever gets the latest one.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	for {
		snapshot, changed := h.snapshots.Watch()
		if err := writeAndFlush(snapshot.Body); err != nil {
			log.Debug().Err(err).Msg("Status stream client gone")
			return
		}

		select {
		case <-changed:
		case <-r.Context().Done():
			return
		}
	}
}

// health reports ready once the first snapshot has been published.
func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.snapshots.Latest()
	if snapshot.Empty() {
		writeJSON(w, http.StatusServiceUnavailable, &HealthResponse{
			APIResponse: APIResponse{ResponseType: "health"},
			Status:      "starting",
		})
		return
	}

	writeJSON(w, http.StatusOK, &HealthResponse{
		APIResponse: APIResponse{ResponseType: "health"},
		Status:      "ok",
		UpdatedAt:   snapshot.UpdatedAt,
	})
}
