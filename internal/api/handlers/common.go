// Package handlers holds the HTTP surface: thin JSON adapters over the
// domain packages. Inference endpoints delegate wholesale to the proxy.
package handlers

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
