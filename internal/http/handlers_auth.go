package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/auth"
)

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var payload auth.RegisterInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.auth.Register(req.Context(), payload)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Message: "User registered successfully", Data: session})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	login := payload.Username
	if login == "" {
		login = payload.Email
	}
	session, err := r.auth.Login(req.Context(), auth.LoginInput{Login: login, Password: payload.Password})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Login successful", Data: session})
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	id, _ := identityFromContext(req.Context())
	if err := r.auth.Logout(req.Context(), id); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Logout successful"})
}

func (r *Router) handleProfile(w http.ResponseWriter, req *http.Request) {
	id, _ := identityFromContext(req.Context())
	user, err := r.auth.Profile(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: user})
}

func (r *Router) handleValidateToken(w http.ResponseWriter, req *http.Request) {
	id, _ := identityFromContext(req.Context())
	writeJSON(w, http.StatusOK, envelope{Message: "Token is valid", Data: map[string]any{"valid": true, "user": id}})
}

func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	var payload auth.ChangePasswordInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, _ := identityFromContext(req.Context())
	if err := r.auth.ChangePassword(req.Context(), id, payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Password updated successfully"})
}
