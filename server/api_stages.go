package main

import (
	"net/http"
)

// GET /api/projects/{id}/stages?name=&limit=&offset=
func (a *api) handleListStages(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	out, err := a.svc.ListStages(r.Context(), u.ID, id, r.URL.Query().Get("name"), page)
	if err != nil {
		a.writeServiceError(w, "list stages", err)
		return
	}
	writeJSON(w, 200, out)
}

func (a *api) handleCreateStage(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req StageInput
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	st, err := a.svc.CreateStage(r.Context(), u.ID, id, req)
	if err != nil {
		a.writeServiceError(w, "create stage", err)
		return
	}
	a.bus.Publish(Event{Type: "stage.created", Entity: "stage", ProjectID: id, StageID: &st.ID, Payload: st})
	writeJSON(w, 201, st)
}

func (a *api) handleGetStage(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	ids, ok := pathIDs(w, r, "id", "sid")
	if !ok {
		return
	}
	v, err := a.svc.StageDetail(r.Context(), u.ID, ids[0], ids[1])
	if err != nil {
		a.writeServiceError(w, "stage detail", err)
		return
	}
	writeJSON(w, 200, v)
}

// PUT /api/projects/{id}/stages/{sid}; fields left out are unchanged.
func (a *api) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	ids, ok := pathIDs(w, r, "id", "sid")
	if !ok {
		return
	}
	var req StagePatch
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	st, err := a.svc.UpdateStage(r.Context(), u.ID, ids[0], ids[1], req)
	if err != nil {
		a.writeServiceError(w, "update stage", err)
		return
	}
	a.bus.Publish(Event{Type: "stage.updated", Entity: "stage", ProjectID: ids[0], StageID: &st.ID, Payload: st})
	writeJSON(w, 200, st)
}

func (a *api) handleDeleteStage(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	ids, ok := pathIDs(w, r, "id", "sid")
	if !ok {
		return
	}
	if err := a.svc.DeleteStage(r.Context(), u.ID, ids[0], ids[1]); err != nil {
		a.writeServiceError(w, "delete stage", err)
		return
	}
	a.bus.Publish(Event{Type: "stage.deleted", Entity: "stage", ProjectID: ids[0], StageID: &ids[1], Payload: map[string]any{"id": ids[1]}})
	writeJSON(w, 200, map[string]any{"ok": true})
}
