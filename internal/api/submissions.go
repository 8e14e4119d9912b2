package api

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"openflow/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

func (d Dependencies) listSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := d.Submissions.List(r.Context(),
		auth.GetUserID(r.Context()),
		chi.URLParam(r, "formId"),
		cast.ToInt(q.Get("page")),
		cast.ToInt(q.Get("limit")))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (d Dependencies) exportSubmissions(w http.ResponseWriter, r *http.Request) {
	export, err := d.Submissions.Export(r.Context(), auth.GetUserID(r.Context()), chi.URLParam(r, "formId"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(export.Rows); err != nil {
		d.Log.Error("Failed to write CSV export", zap.String("file", export.Filename), zap.Error(err))
	}
}

func (d Dependencies) deleteSubmission(w http.ResponseWriter, r *http.Request) {
	err := d.Submissions.Delete(r.Context(),
		auth.GetUserID(r.Context()),
		chi.URLParam(r, "formId"),
		chi.URLParam(r, "submissionId"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
