package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"openflow/internal/auth"
	"openflow/internal/service"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) listForms(w http.ResponseWriter, r *http.Request) {
	forms, err := d.Forms.List(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"forms": forms})
}

func (d Dependencies) createForm(w http.ResponseWriter, r *http.Request) {
	var in service.FormInput
	if err := decodeOptional(r, &in); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	form, err := d.Forms.Create(r.Context(), auth.GetUserID(r.Context()), in)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"form": form})
}

func (d Dependencies) getForm(w http.ResponseWriter, r *http.Request) {
	form, err := d.Forms.Get(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"form": form})
}

func (d Dependencies) updateForm(w http.ResponseWriter, r *http.Request) {
	var in service.FormInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	form, err := d.Forms.Update(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"form": form})
}

func (d Dependencies) deleteForm(w http.ResponseWriter, r *http.Request) {
	if err := d.Forms.Delete(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// decodeOptional decodes a JSON body into v; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
