package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Event is one change notification on a project stream, e.g. "stage.created" or "member.removed".
// UserID names the member a membership event is about.
type Event struct {
	Type      string `json:"type"`
	Entity    string `json:"entity,omitempty"`
	ProjectID int64  `json:"project_id"`
	StageID   *int64 `json:"stage_id,omitempty"`
	UserID    int64  `json:"user_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// revokes reports whose streams an event ends: the removed member's, or everyone's
// once the project is closed. all is true for the latter.
func (ev Event) revokes() (userID int64, all bool) {
	switch {
	case ev.Type == "project.deleted":
		return 0, true
	case ev.Type == "member.removed" && ev.Entity == "project_member":
		return ev.UserID, false
	}
	return 0, false
}

// Subscription is one viewer's stream of a project. Revoked is closed when the
// viewer loses access; events already queued on C are still theirs to read.
type Subscription struct {
	C       <-chan []byte
	Revoked <-chan struct{}

	userID  int64
	ch      chan []byte
	revoked chan struct{}
}

// EventBus fans project events out to the members watching that project.
type EventBus struct {
	mu       sync.Mutex
	projects map[int64]map[*Subscription]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{projects: make(map[int64]map[*Subscription]struct{})}
}

// Subscribe registers userID on projectID. The caller checks that userID may view the project.
func (b *EventBus) Subscribe(projectID, userID int64) (*Subscription, func()) {
	ch, revoked := make(chan []byte, 16), make(chan struct{})
	sub := &Subscription{C: ch, Revoked: revoked, userID: userID, ch: ch, revoked: revoked}
	b.mu.Lock()
	subs := b.projects[projectID]
	if subs == nil {
		subs = make(map[*Subscription]struct{})
		b.projects[projectID] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, func() {
		b.mu.Lock()
		b.drop(projectID, sub)
		b.mu.Unlock()
	}
}

// drop unregisters sub; b.mu must be held.
func (b *EventBus) drop(projectID int64, sub *Subscription) {
	subs := b.projects[projectID]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.projects, projectID)
	}
}

// Publish never blocks; a subscriber with a full queue misses the event.
// Viewers the event revokes receive it first and are then cut off.
func (b *EventBus) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	userID, all := ev.revokes()
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.projects[ev.ProjectID] {
		select {
		case sub.ch <- data:
		default:
		}
		if all || (userID != 0 && sub.userID == userID) {
			b.drop(ev.ProjectID, sub)
			close(sub.revoked)
		}
	}
}

// ServeSSE streams a project's events to userID until the client goes away or loses access.
func (b *EventBus) ServeSSE(w http.ResponseWriter, r *http.Request, projectID, userID int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, 500, "streaming unsupported")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	sub, cancel := b.Subscribe(projectID, userID)
	defer cancel()

	send := func(format string, args ...any) {
		fmt.Fprintf(w, format, args...)
		flusher.Flush()
	}
	send(": connected\n\n")

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			send(": ping\n\n")
		case msg := <-sub.C:
			send("data: %s\n\n", msg)
		case <-sub.Revoked:
			for {
				select {
				case msg := <-sub.C:
					send("data: %s\n\n", msg)
				default:
					send("event: revoked\ndata: {}\n\n")
					return
				}
			}
		}
	}
}
