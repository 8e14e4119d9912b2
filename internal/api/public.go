package api

import (
	"encoding/json"
	"net/http"

	"openflow/internal/model"

	"github.com/go-chi/chi/v5"
)

// PublicForm is what an embedded form needs to run.
type PublicForm struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	Slug      string                 `json:"slug"`
	Steps     []model.Step           `json:"steps"`
	EndScreen model.EndScreen        `json:"end_screen"`
	Theme     map[string]interface{} `json:"theme"`
	GTMID     string                 `json:"gtm_id,omitempty"`
}

func (d Dependencies) getPublicForm(w http.ResponseWriter, r *http.Request) {
	form, err := d.Forms.Published(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PublicForm{
		ID:        form.ID,
		Title:     form.Title,
		Slug:      form.Slug,
		Steps:     form.Steps,
		EndScreen: form.EndScreen,
		Theme:     form.Theme,
		GTMID:     form.GTMID,
	})
}

type SubmitRequest struct {
	Data map[string]interface{} `json:"data"`
}

func (d Dependencies) submitForm(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	sub, err := d.Submissions.Submit(r.Context(), chi.URLParam(r, "slug"), req.Data, model.SubmissionMetadata{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	})
	if err != nil {
		d.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok": true,
		"id": sub.ID,
	})
}

func (d Dependencies) track(w http.ResponseWriter, r *http.Request) {
	var ev model.AnalyticsEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	if err := d.Analytics.Track(r.Context(), ev); err != nil {
		d.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
