package api

import (
	"encoding/json"
	"net/http"

	"openflow/internal/auth"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (d Dependencies) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	session, err := d.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}

	d.JWT.SetCookie(w, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":  session.User,
		"token": session.Token,
	})
}

func (d Dependencies) logout(w http.ResponseWriter, r *http.Request) {
	d.JWT.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d Dependencies) me(w http.ResponseWriter, r *http.Request) {
	user, err := d.Auth.Me(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}
