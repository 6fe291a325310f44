package handlers

import "net/http"

func (h *Shell) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.Registry.Count(),
	})
}
