package api

import (
	"encoding/json"
	"net/http"

	"openflow/internal/auth"
	"openflow/internal/service"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) listIntegrations(w http.ResponseWriter, r *http.Request) {
	integrations, err := d.Integrations.List(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "formId"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"integrations": integrations})
}

func (d Dependencies) createIntegration(w http.ResponseWriter, r *http.Request) {
	var in service.IntegrationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	integration, err := d.Integrations.Create(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "formId"), in)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"integration": integration})
}

func (d Dependencies) updateIntegration(w http.ResponseWriter, r *http.Request) {
	var in service.IntegrationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	integration, err := d.Integrations.Update(r.Context(),
		auth.GetUserID(r.Context()),
		chi.URLParam(r, "formId"),
		chi.URLParam(r, "id"),
		in)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"integration": integration})
}

func (d Dependencies) deleteIntegration(w http.ResponseWriter, r *http.Request) {
	err := d.Integrations.Delete(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "formId"), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// testIntegration runs one delivery synchronously so the author sees the
// outcome; real submissions never wait on integrations.
func (d Dependencies) testIntegration(w http.ResponseWriter, r *http.Request) {
	results, err := d.Integrations.Test(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "formId"), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}
