package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type APIResponse struct {
	ResponseType string `json:"responseType"`
}

type ErrorResponse struct {
	APIResponse
	Error string `json:"error"`
}

type HealthResponse struct {
	APIResponse
	Status    string `json:"status"`
	UpdatedAt int64  `json:"updatedAt"`
}

func NewErrorResponse(message string) *ErrorResponse {
	return &ErrorResponse{
		APIResponse: APIResponse{ResponseType: "error"},
		Error:       message,
	}
}

// Response helpers
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		writeError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, statusCode, "application/json", jsonBody)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	body, _ := json.Marshal(NewErrorResponse(message))
	writeRaw(w, statusCode, "application/json", body)
}

func writeRaw(w http.ResponseWriter, statusCode int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write response body")
	}
}
