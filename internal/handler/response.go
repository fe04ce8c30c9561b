package handler

import (
	"encoding/json"
	"net/http"
)

// envelope is the standard JSON response shape for every handler in this
// package: {"success": bool, "data": ..., "error": "..."}.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
