package main

import (
	"net/http"
	"time"
)

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.ping != nil {
		if err := a.ping(r.Context()); err != nil {
			a.log.Error("health", "err", err)
			writeJSON(w, 503, map[string]any{"ok": false, "error": "database unavailable"})
			return
		}
	}
	writeJSON(w, 200, map[string]any{"ok": true, "ts": time.Now().UTC().Format(time.RFC3339)})
}
