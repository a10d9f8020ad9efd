package main

import (
	"net/http"
)

func (a *api) handleListReports(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	items, err := a.svc.ListReports(r.Context(), u.ID, id)
	if err != nil {
		a.writeServiceError(w, "list reports", err)
		return
	}
	writeJSON(w, 200, items)
}

// POST /api/projects/{id}/reports {content}; the project manager gets it by mail.
func (a *api) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	rep, err := a.svc.SubmitReport(r.Context(), u.ID, id, req.Content)
	if err != nil {
		a.writeServiceError(w, "submit report", err)
		return
	}
	writeJSON(w, 201, rep)
}
