package subcall

import (
	"encoding/json"
	"net/http"
)

func decodeJSONBody(w http.ResponseWriter, req *http.Request, dst any) bool {
	defer req.Body.Close()
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
