package main

import (
	"net/http"
)

func (a *api) handleListTasks(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	ids, ok := pathIDs(w, r, "id", "sid")
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	out, err := a.svc.ListTasks(r.Context(), u.ID, ids[0], ids[1], page)
	if err != nil {
		a.writeServiceError(w, "list tasks", err)
		return
	}
	writeJSON(w, 200, out)
}

func (a *api) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	ids, ok := pathIDs(w, r, "id", "sid")
	if !ok {
		return
	}
	var req TaskInput
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	t, err := a.svc.CreateTask(r.Context(), u.ID, ids[0], ids[1], req)
	if err != nil {
		a.writeServiceError(w, "create task", err)
		return
	}
	a.bus.Publish(Event{Type: "task.created", Entity: "task", ProjectID: t.ProjectID, StageID: &t.StageID, Payload: t})
	writeJSON(w, 201, t)
}

func (a *api) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "tid")
	if !ok {
		return
	}
	var req TaskPatch
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	t, err := a.svc.UpdateTask(r.Context(), u.ID, id, req)
	if err != nil {
		a.writeServiceError(w, "update task", err)
		return
	}
	a.bus.Publish(Event{Type: "task.updated", Entity: "task", ProjectID: t.ProjectID, StageID: &t.StageID, Payload: t})
	writeJSON(w, 200, t)
}

func (a *api) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "tid")
	if !ok {
		return
	}
	t, err := a.svc.DeleteTask(r.Context(), u.ID, id)
	if err != nil {
		a.writeServiceError(w, "delete task", err)
		return
	}
	a.bus.Publish(Event{Type: "task.deleted", Entity: "task", ProjectID: t.ProjectID, StageID: &t.StageID, Payload: map[string]any{"id": id}})
	writeJSON(w, 200, map[string]any{"ok": true})
}
