package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// sessionStore is the identity collaborator: credentials and cookie sessions.
type sessionStore interface {
	CreateSession(ctx context.Context, userID int64, ttl time.Duration) (string, time.Time, error)
	UserBySession(ctx context.Context, token string) (User, error)
	DeleteSession(ctx context.Context, token string) error
	Authenticate(ctx context.Context, email, password string) (User, error)
}

type api struct {
	sessions sessionStore
	svc      *Service
	log      *slog.Logger
	bus      *EventBus
	cfg      Session
	// ping checks the database for /api/health; nil skips the check.
	ping func(ctx context.Context) error
	// rate limiting buckets per IP:key, swept of expired ones at most once per rlSweepEvery
	rlMu      sync.Mutex
	rl        map[string]*rateBucket
	rlSweptAt time.Time
}

const rlSweepEvery = time.Minute

func newAPI(sessions sessionStore, svc *Service, cfg Session, log *slog.Logger) *api {
	return &api{sessions: sessions, svc: svc, log: log, cfg: cfg, bus: NewEventBus(), rl: map[string]*rateBucket{}}
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

func (a *api) allow(ip, key string, max int, window time.Duration) bool {
	now := time.Now()
	rk := ip + ":" + key
	a.rlMu.Lock()
	defer a.rlMu.Unlock()
	if now.Sub(a.rlSweptAt) >= rlSweepEvery {
		for k, b := range a.rl {
			if now.After(b.resetAt) {
				delete(a.rl, k)
			}
		}
		a.rlSweptAt = now
	}
	b, ok := a.rl[rk]
	if !ok || now.After(b.resetAt) {
		b = &rateBucket{resetAt: now.Add(window)}
		a.rl[rk] = b
	}
	if b.count >= max {
		return false
	}
	b.count++
	return true
}

func (a *api) withRateLimit(name string, max int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !a.allow(ip, name, max, window) {
			writeError(w, 429, "too many requests")
			return
		}
		next(w, r)
	}
}

func parseID(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

// pathIDs parses the named path values as ids, writing a 400 on the first bad one.
func pathIDs(w http.ResponseWriter, r *http.Request, names ...string) ([]int64, bool) {
	out := make([]int64, len(names))
	for i, n := range names {
		id, err := parseID(r.PathValue(n))
		if err != nil {
			writeError(w, 400, "bad id")
			return nil, false
		}
		out[i] = id
	}
	return out, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	ids, ok := pathIDs(w, r, name)
	if !ok {
		return 0, false
	}
	return ids[0], true
}

// parsePage reads ?limit=&offset=. Missing values mean no limit and offset 0.
func parsePage(r *http.Request) (Page, error) {
	var p Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Page{}, errors.New("bad limit")
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Page{}, errors.New("bad offset")
		}
		p.Offset = n
	}
	return p, nil
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, r.Body)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// writeServiceError maps engine errors to responses. Unexpected errors are logged under op.
func (a *api) writeServiceError(w http.ResponseWriter, op string, err error) {
	var (
		batch *MemberBatchError
		vErr  *ValidationError
		gErr  *GuardError
		mErr  *MailError
	)
	switch {
	case errors.As(err, &batch):
		writeJSON(w, 400, map[string]any{"ok": false, "error": "invalid user ids",
			"user_ids_not_found": batch.NotFound, "user_ids_existed": batch.Existed})
	case errors.As(err, &vErr):
		writeJSON(w, 400, map[string]any{"ok": false, "error": vErr.Message, "field": vErr.Field})
	case errors.Is(err, ErrForbidden):
		writeError(w, 403, "forbidden")
	case errors.As(err, &gErr):
		body := map[string]any{"ok": false, "error": gErr.Reason}
		if len(gErr.IDs) > 0 {
			body[gErr.Kind] = gErr.IDs
		}
		writeJSON(w, 409, body)
	case errors.As(err, &mErr):
		a.log.Error(op, "err", err, "to", mErr.To)
		writeError(w, 502, "mail delivery failed, nothing was saved")
	case errors.Is(err, ErrNotFound):
		writeError(w, 404, "not found")
	case errors.Is(err, ErrInvariant):
		a.log.Error(op, "err", err, "invariant", true)
		writeError(w, 500, "internal error")
	default:
		a.log.Error(op, "err", err)
		writeError(w, 500, "internal error")
	}
}

// cookie/session helpers
func (a *api) sameSite() http.SameSite {
	switch strings.ToLower(a.cfg.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (a *api) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.Secure,
		SameSite: a.sameSite(),
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
	})
}

func (a *api) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.Secure,
		SameSite: a.sameSite(),
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

type userKey struct{}

func (a *api) currentUser(r *http.Request) (*User, error) {
	if u, ok := r.Context().Value(userKey{}).(*User); ok {
		return u, nil
	}
	c, err := r.Cookie(a.cfg.CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNotFound
	}
	u, err := a.sessions.UserBySession(r.Context(), c.Value)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// actor is the user requireAuth put on the request context.
func actor(r *http.Request) *User {
	u, _ := r.Context().Value(userKey{}).(*User)
	return u
}

// requireAuth enforces a valid session and keeps the user on the request context.
func (a *api) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := a.currentUser(r)
		if err != nil {
			writeError(w, 401, "unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	}
}

func withLogging(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sw, r)
		log.Info("http", "method", r.Method, "path", r.URL.Path, "status", sw.status, "dur_ms", time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) { w.status = code; w.ResponseWriter.WriteHeader(code) }

// Flush passes through for SSE.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
