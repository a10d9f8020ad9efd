package main

import (
	"net/http"
)

type memberIDsRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

// POST /api/projects/{id}/members {user_ids}
func (a *api) handleAddProjectMembers(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req memberIDsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	added, err := a.svc.AddMembers(r.Context(), u.ID, id, req.UserIDs)
	if err != nil {
		a.writeServiceError(w, "add project members", err)
		return
	}
	a.bus.Publish(Event{Type: "member.added", Entity: "project_member", ProjectID: id, Payload: added})
	writeJSON(w, 201, added)
}

func (a *api) handleRemoveProjectMember(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	ids, ok := pathIDs(w, r, "id", "uid")
	if !ok {
		return
	}
	if err := a.svc.RemoveMemberFromProject(r.Context(), u.ID, ids[0], ids[1]); err != nil {
		a.writeServiceError(w, "remove project member", err)
		return
	}
	a.bus.Publish(Event{Type: "member.removed", Entity: "project_member", ProjectID: ids[0], UserID: ids[1]})
	writeJSON(w, 200, map[string]any{"ok": true})
}

// POST /api/projects/{id}/stages/{sid}/members {user_ids}
func (a *api) handleAddStageMembers(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	ids, ok := pathIDs(w, r, "id", "sid")
	if !ok {
		return
	}
	var req memberIDsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	rows, err := a.svc.AddMembersToStage(r.Context(), u.ID, ids[0], ids[1], req.UserIDs)
	if err != nil {
		a.writeServiceError(w, "add stage members", err)
		return
	}
	a.bus.Publish(Event{Type: "member.added", Entity: "stage_member", ProjectID: ids[0], StageID: &ids[1], Payload: rows})
	writeJSON(w, 201, rows)
}

func (a *api) handleRemoveStageMember(w http.ResponseWriter, r *http.Request) {
	u := actor(r)
	ids, ok := pathIDs(w, r, "id", "sid", "uid")
	if !ok {
		return
	}
	if err := a.svc.RemoveMemberFromStage(r.Context(), u.ID, ids[0], ids[1], ids[2]); err != nil {
		a.writeServiceError(w, "remove stage member", err)
		return
	}
	a.bus.Publish(Event{Type: "member.removed", Entity: "stage_member", ProjectID: ids[0], StageID: &ids[1], UserID: ids[2]})
	writeJSON(w, 200, map[string]any{"ok": true})
}
