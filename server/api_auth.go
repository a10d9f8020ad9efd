package main

import (
	"errors"
	"net/http"
	"strings"
)

// POST /api/auth/signup
func (a *api) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupInput
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	u, err := a.svc.Signup(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, "signup", err)
		return
	}
	writeJSON(w, 201, map[string]any{"ok": true, "user": u, "detail": "check your email to activate the account"})
}

// GET /api/auth/verify/{uid}/{token}
func (a *api) handleVerify(w http.ResponseWriter, r *http.Request) {
	uid, err := parseID(r.PathValue("uid"))
	if err != nil {
		writeError(w, 400, "activation link is invalid")
		return
	}
	u, err := a.svc.Verify(r.Context(), uid, r.PathValue("token"))
	if err != nil {
		a.writeServiceError(w, "verify", err)
		return
	}
	tok, exp, err := a.sessions.CreateSession(r.Context(), u.ID, a.cfg.TTL)
	if err != nil {
		a.log.Error("create session", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	a.setSessionCookie(w, tok, exp)
	writeJSON(w, 200, map[string]any{"ok": true, "user": u})
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct{ Email, Password string }
	if err := readJSON(w, r, &req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, 400, "invalid payload")
		return
	}
	u, err := a.sessions.Authenticate(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if errors.Is(err, errInactive) {
		writeError(w, 403, "account is not activated, check your email")
		return
	}
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.log.Error("authenticate", "err", err)
		}
		writeError(w, 401, "invalid credentials")
		return
	}
	token, exp, err := a.sessions.CreateSession(r.Context(), u.ID, a.cfg.TTL)
	if err != nil {
		a.log.Error("create session", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	a.setSessionCookie(w, token, exp)
	writeJSON(w, 200, map[string]any{"ok": true, "user": u})
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(a.cfg.CookieName); err == nil && c.Value != "" {
		_ = a.sessions.DeleteSession(r.Context(), c.Value)
	}
	a.clearSessionCookie(w)
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.currentUser(r)
	if err != nil {
		// anonymous callers get user: null rather than a 401
		writeJSON(w, 200, map[string]any{"user": nil})
		return
	}
	writeJSON(w, 200, map[string]any{"user": u})
}
