package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/RjRaju143/Remote-Commander/internal/access"
	"github.com/RjRaju143/Remote-Commander/internal/database"
	"github.com/go-chi/chi/v5"
)

func ListGrants(w http.ResponseWriter, r *http.Request) {
	server := requireServer(w, r, access.Admin)
	if server == nil {
		return
	}
	grants, err := database.ListGrants(database.DB, server.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list grants")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"grants": grants})
}

// PutGrant creates or updates a grant for a user on a server. Shared access
// is capped at execute; ownership and the system admin role are the only
// paths to admin.
func PutGrant(w http.ResponseWriter, r *http.Request) {
	server := requireServer(w, r, access.Admin)
	if server == nil {
		return
	}

	var body struct {
		UserID uint   `json:"user_id"`
		Level  string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	level := access.ParseLevel(body.Level)
	if level != access.Read && level != access.Execute {
		writeError(w, http.StatusBadRequest, "Level must be read or execute")
		return
	}
	if body.UserID == server.OwnerID {
		writeError(w, http.StatusBadRequest, "Owner already has full access")
		return
	}
	if _, err := database.GetUserByID(database.DB, body.UserID); err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	if err := database.UpsertGrant(database.DB, server.ID, body.UserID, level.String()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save grant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func DeleteGrant(w http.ResponseWriter, r *http.Request) {
	server := requireServer(w, r, access.Admin)
	if server == nil {
		return
	}
	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	if err := database.DeleteGrant(database.DB, server.ID, uint(userID)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to revoke grant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
