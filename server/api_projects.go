package main

import (
	"net/http"
)

func (a *api) handleListProjects(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	items, err := a.svc.ListProjects(r.Context(), u.ID, r.URL.Query().Get("search"))
	if err != nil {
		a.writeServiceError(w, "list projects", err)
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	var req ProjectInput
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	p, err := a.svc.CreateProject(r.Context(), u.ID, req)
	if err != nil {
		a.writeServiceError(w, "create project", err)
		return
	}
	writeJSON(w, 201, p)
}

func (a *api) handleGetProject(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := a.svc.ProjectDetail(r.Context(), u.ID, id)
	if err != nil {
		a.writeServiceError(w, "project detail", err)
		return
	}
	writeJSON(w, 200, v)
}

func (a *api) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ProjectPatch
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	p, err := a.svc.UpdateProject(r.Context(), u.ID, id, req)
	if err != nil {
		a.writeServiceError(w, "update project", err)
		return
	}
	a.bus.Publish(Event{Type: "project.updated", Entity: "project", ProjectID: id, Payload: p})
	writeJSON(w, 200, p)
}

func (a *api) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.svc.DeleteProject(r.Context(), u.ID, id); err != nil {
		a.writeServiceError(w, "delete project", err)
		return
	}
	a.bus.Publish(Event{Type: "project.deleted", Entity: "project", ProjectID: id, Payload: map[string]any{"id": id}})
	writeJSON(w, 200, map[string]any{"ok": true})
}

// GET /api/projects/{id}/events. Access is checked once here; the bus ends the
// stream when the viewer is removed from the project or the project is closed.
func (a *api) handleProjectEvents(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.svc.CanView(r.Context(), u.ID, id); err != nil {
		a.writeServiceError(w, "project events", err)
		return
	}
	a.bus.ServeSSE(w, r, id, u.ID)
}
