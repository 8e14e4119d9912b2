package api

import (
	"net/http"

	"openflow/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"
)

func (d Dependencies) analyticsOverview(w http.ResponseWriter, r *http.Request) {
	forms, err := d.Analytics.Overview(r.Context(), auth.GetUserID(r.Context()), cast.ToInt(r.URL.Query().Get("days")))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"forms": forms})
}

func (d Dependencies) analyticsReport(w http.ResponseWriter, r *http.Request) {
	report, err := d.Analytics.Report(r.Context(),
		auth.GetUserID(r.Context()),
		chi.URLParam(r, "formId"),
		cast.ToInt(r.URL.Query().Get("days")))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
