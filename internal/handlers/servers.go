package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/RjRaju143/Remote-Commander/internal/access"
	"github.com/RjRaju143/Remote-Commander/internal/database"
	"github.com/RjRaju143/Remote-Commander/internal/middleware"
	"github.com/RjRaju143/Remote-Commander/internal/sshkey"
	"github.com/RjRaju143/Remote-Commander/internal/vault"
	"github.com/go-chi/chi/v5"
)

// Vault is set from main.go during init. Private keys are encrypted before
// they are stored and decrypted just-in-time when needed.
var Vault *vault.Vault

// requireServer loads a server and checks the caller holds at least the
// required level. A missing server and an unauthorized one produce the same
// 404 so callers cannot probe for existence.
func requireServer(w http.ResponseWriter, r *http.Request, required access.Level) *database.Server {
	user := middleware.GetUser(r)
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "Server not found or permission denied")
		return nil
	}
	if !access.Authorize(database.DB, uint(id), user.ID, required) {
		if access.Authorize(database.DB, uint(id), user.ID, access.Read) {
			writeError(w, http.StatusForbidden, "Permission denied")
			return nil
		}
		writeError(w, http.StatusNotFound, "Server not found or permission denied")
		return nil
	}
	server, err := database.GetServer(database.DB, uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found or permission denied")
		return nil
	}
	return server
}

type serverResponse struct {
	database.Server
	Permission string `json:"permission"`
	HasKey     bool   `json:"has_key"`
}

func serverView(s *database.Server, level access.Level) serverResponse {
	return serverResponse{
		Server:     *s,
		Permission: level.String(),
		HasKey:     s.EncryptedPrivateKey != "",
	}
}

func ListServers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	servers, err := database.ListServersForUser(database.DB, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}
	resp := make([]serverResponse, len(servers))
	for i := range servers {
		resp[i] = serverView(&servers[i], access.PermissionOf(database.DB, servers[i].ID, user.ID))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": resp})
}

func GetServer(w http.ResponseWriter, r *http.Request) {
	server := requireServer(w, r, access.Read)
	if server == nil {
		return
	}
	user := middleware.GetUser(r)
	writeJSON(w, http.StatusOK, serverView(server, access.PermissionOf(database.DB, server.ID, user.ID)))
}

type serverRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	PrivateKey string `json:"private_key"`
}

func (req *serverRequest) validate() string {
	if req.Name == "" || req.Address == "" || req.Username == "" {
		return "Name, address and username are required"
	}
	if req.Port < 0 || req.Port > 65535 {
		return "Invalid port"
	}
	return ""
}

func CreateServer(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	server := &database.Server{
		Name:     req.Name,
		Address:  req.Address,
		Port:     req.Port,
		Username: req.Username,
		OwnerID:  user.ID,
	}
	if server.Port == 0 {
		server.Port = 22
	}

	if req.PrivateKey != "" {
		if err := sshkey.ValidatePrivateKey([]byte(req.PrivateKey)); err != nil {
			writeError(w, http.StatusBadRequest, "Private key is not a valid SSH key")
			return
		}
		enc, err := Vault.Encrypt([]byte(req.PrivateKey))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt private key")
			return
		}
		server.EncryptedPrivateKey = enc
	}

	if err := database.CreateServer(database.DB, server); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create server")
		return
	}
	writeJSON(w, http.StatusCreated, serverView(server, access.Admin))
}

func UpdateServer(w http.ResponseWriter, r *http.Request) {
	server := requireServer(w, r, access.Admin)
	if server == nil {
		return
	}

	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	server.Name = req.Name
	server.Address = req.Address
	server.Username = req.Username
	if req.Port != 0 {
		server.Port = req.Port
	}
	if req.PrivateKey != "" {
		if err := sshkey.ValidatePrivateKey([]byte(req.PrivateKey)); err != nil {
			writeError(w, http.StatusBadRequest, "Private key is not a valid SSH key")
			return
		}
		enc, err := Vault.Encrypt([]byte(req.PrivateKey))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt private key")
			return
		}
		server.EncryptedPrivateKey = enc
	}

	if err := database.DB.Save(server).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update server")
		return
	}
	writeJSON(w, http.StatusOK, serverView(server, access.Admin))
}

func DeleteServer(w http.ResponseWriter, r *http.Request) {
	server := requireServer(w, r, access.Admin)
	if server == nil {
		return
	}
	if err := database.DeleteServer(database.DB, server.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DownloadServerKey returns the stored private key, decrypted just-in-time.
func DownloadServerKey(w http.ResponseWriter, r *http.Request) {
	server := requireServer(w, r, access.Admin)
	if server == nil {
		return
	}
	if server.EncryptedPrivateKey == "" {
		writeError(w, http.StatusNotFound, "Server has no stored private key")
		return
	}
	key, err := Vault.Decrypt(server.EncryptedPrivateKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to decrypt private key")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="id_`+server.Name+`"`)
	w.Write(key)
}

// GenerateServerKey creates a fresh ED25519 key pair for the server, stores
// the encrypted private key, and returns the public key for the user to
// install in the host's authorized_keys.
func GenerateServerKey(w http.ResponseWriter, r *http.Request) {
	server := requireServer(w, r, access.Admin)
	if server == nil {
		return
	}

	pub, privPEM, err := sshkey.GenerateKeyPair()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate key pair")
		return
	}
	enc, err := Vault.Encrypt(privPEM)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt private key")
		return
	}
	server.EncryptedPrivateKey = enc
	if err := database.DB.Save(server).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store private key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": string(pub)})
}
