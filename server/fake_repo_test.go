package main

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

var errUnique = errors.New("unique violation")

type memUser struct {
	User
	hash  string
	token string
}

type pair struct{ a, b int64 }

type memData struct {
	nextID       int64
	users        map[int64]memUser
	projects     map[int64]Project
	userProjects map[pair]UserProject // {project, user}
	stages       map[int64]Stage
	userStages   map[pair]UserStage // {stage, user}
	tasks        map[int64]Task
	reports      map[int64]Report
}

func (d *memData) clone() *memData {
	return &memData{
		nextID:       d.nextID,
		users:        maps.Clone(d.users),
		projects:     maps.Clone(d.projects),
		userProjects: maps.Clone(d.userProjects),
		stages:       maps.Clone(d.stages),
		userStages:   maps.Clone(d.userStages),
		tasks:        maps.Clone(d.tasks),
		reports:      maps.Clone(d.reports),
	}
}

// memStore is an in-memory txRunner. A failing transaction restores the snapshot taken at its start.
type memStore struct {
	mu   sync.Mutex
	data *memData
	now  time.Time
}

func newMemStore() *memStore {
	return &memStore{
		now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		data: &memData{
			users:        map[int64]memUser{},
			projects:     map[int64]Project{},
			userProjects: map[pair]UserProject{},
			stages:       map[int64]Stage{},
			userStages:   map[pair]UserStage{},
			tasks:        map[int64]Task{},
			reports:      map[int64]Report{},
		},
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(r repo) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.data.clone()
	if err := fn(memRepo{d: m.data, now: m.now}); err != nil {
		m.data = snap
		return err
	}
	return nil
}

// read runs fn against the current state for assertions.
func (m *memStore) read(fn func(d *memData)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.data)
}

type memRepo struct {
	d   *memData
	now time.Time
}

func (r memRepo) id() int64 {
	r.d.nextID++
	return r.d.nextID
}

func (r memRepo) insertUser(ctx context.Context, u *User, hash, token string) error {
	for _, o := range r.d.users {
		if strings.EqualFold(o.Username, u.Username) || strings.EqualFold(o.Email, u.Email) {
			return errUnique
		}
	}
	u.ID = r.id()
	u.IsActive = false
	u.CreatedAt = r.now
	r.d.users[u.ID] = memUser{User: *u, hash: hash, token: token}
	return nil
}

func (r memRepo) userByID(ctx context.Context, id int64) (User, error) {
	u, ok := r.d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u.User, nil
}

func (r memRepo) usersByIDs(ctx context.Context, ids []int64) (map[int64]User, error) {
	out := map[int64]User{}
	for _, id := range ids {
		if u, ok := r.d.users[id]; ok {
			out[id] = u.User
		}
	}
	return out, nil
}

func (r memRepo) userTaken(ctx context.Context, username, email string) (bool, bool, error) {
	var byName, byEmail bool
	for _, u := range r.d.users {
		byName = byName || strings.EqualFold(u.Username, username)
		byEmail = byEmail || strings.EqualFold(u.Email, email)
	}
	return byName, byEmail, nil
}

func (r memRepo) activateUser(ctx context.Context, id int64, token string) (User, error) {
	u, ok := r.d.users[id]
	if !ok || u.token == "" || u.token != token {
		return User{}, ErrNotFound
	}
	u.IsActive = true
	u.token = ""
	r.d.users[id] = u
	return u.User, nil
}

func (r memRepo) insertProject(ctx context.Context, p *Project) error {
	p.ID = r.id()
	p.CreatedAt = r.now
	r.d.projects[p.ID] = *p
	return nil
}

func (r memRepo) projectByID(ctx context.Context, id int64, lock bool) (Project, error) {
	p, ok := r.d.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (r memRepo) updateProject(ctx context.Context, p Project) error {
	if _, ok := r.d.projects[p.ID]; !ok {
		return ErrNotFound
	}
	r.d.projects[p.ID] = p
	return nil
}

func (r memRepo) projectsForUser(ctx context.Context, userID int64, search string) ([]Project, error) {
	out := []Project{}
	for k := range r.d.userProjects {
		if k.b != userID {
			continue
		}
		p := r.d.projects[k.a]
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(strings.TrimSpace(search))) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Project) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r memRepo) projectMember(ctx context.Context, projectID, userID int64) (UserProject, error) {
	m, ok := r.d.userProjects[pair{projectID, userID}]
	if !ok {
		return UserProject{}, ErrNotFound
	}
	return m, nil
}

func (r memRepo) projectMembers(ctx context.Context, projectID int64) ([]UserProject, error) {
	out := []UserProject{}
	for k, m := range r.d.userProjects {
		if k.a == projectID {
			u := r.d.users[m.UserID].User
			m.User = &u
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b UserProject) int {
		if (a.Role == RoleProjectManager) != (b.Role == RoleProjectManager) {
			if a.Role == RoleProjectManager {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.User.Username, b.User.Username)
	})
	return out, nil
}

func (r memRepo) checkOnePM(projectID, userID int64, role ProjectRole) error {
	if role != RoleProjectManager {
		return nil
	}
	for k, m := range r.d.userProjects {
		if k.a == projectID && k.b != userID && m.Role == RoleProjectManager {
			return errUnique
		}
	}
	return nil
}

func (r memRepo) insertProjectMember(ctx context.Context, m UserProject) error {
	k := pair{m.ProjectID, m.UserID}
	if _, ok := r.d.userProjects[k]; ok {
		return errUnique
	}
	if err := r.checkOnePM(m.ProjectID, m.UserID, m.Role); err != nil {
		return err
	}
	m.User = nil
	r.d.userProjects[k] = m
	return nil
}

func (r memRepo) setProjectRole(ctx context.Context, projectID, userID int64, role ProjectRole) error {
	k := pair{projectID, userID}
	m, ok := r.d.userProjects[k]
	if !ok {
		return ErrNotFound
	}
	if err := r.checkOnePM(projectID, userID, role); err != nil {
		return err
	}
	m.Role = role
	r.d.userProjects[k] = m
	return nil
}

func (r memRepo) deleteProjectMember(ctx context.Context, projectID, userID int64) error {
	k := pair{projectID, userID}
	if _, ok := r.d.userProjects[k]; !ok {
		return ErrNotFound
	}
	delete(r.d.userProjects, k)
	return nil
}

func (r memRepo) insertStage(ctx context.Context, s *Stage) error {
	s.ID = r.id()
	s.CreatedAt = r.now
	r.d.stages[s.ID] = *s
	return nil
}

func (r memRepo) stageByID(ctx context.Context, id int64, lock bool) (Stage, error) {
	s, ok := r.d.stages[id]
	if !ok {
		return Stage{}, ErrNotFound
	}
	return s, nil
}

func (r memRepo) updateStage(ctx context.Context, s Stage) error {
	if _, ok := r.d.stages[s.ID]; !ok {
		return ErrNotFound
	}
	r.d.stages[s.ID] = s
	return nil
}

func (r memRepo) stagesByProject(ctx context.Context, projectID int64, name string, page Page) ([]Stage, int, error) {
	all := []Stage{}
	for _, s := range r.d.stages {
		if s.ProjectID == projectID && strings.Contains(strings.ToLower(s.Name), strings.ToLower(strings.TrimSpace(name))) {
			all = append(all, s)
		}
	}
	slices.SortFunc(all, func(a, b Stage) int { return cmp.Compare(a.ID, b.ID) })
	return window(all, page), len(all), nil
}

func window[T any](all []T, page Page) []T {
	lo := min(page.Offset, len(all))
	hi := len(all)
	if page.Limit > 0 {
		hi = min(lo+page.Limit, len(all))
	}
	return all[lo:hi]
}

func (r memRepo) activeStageIDs(ctx context.Context, projectID int64) ([]int64, error) {
	out := []int64{}
	for id, s := range r.d.stages {
		if s.ProjectID == projectID && s.Status == StatusActive {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r memRepo) stageMember(ctx context.Context, stageID, userID int64) (UserStage, error) {
	m, ok := r.d.userStages[pair{stageID, userID}]
	if !ok {
		return UserStage{}, ErrNotFound
	}
	return m, nil
}

func (r memRepo) stageRows(stageID int64, keep func(UserStage) bool) []UserStage {
	out := []UserStage{}
	for k, m := range r.d.userStages {
		if k.a == stageID && keep(m) {
			u := r.d.users[m.UserID].User
			m.User = &u
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b UserStage) int {
		if (a.Role == StageRoleOwner) != (b.Role == StageRoleOwner) {
			if a.Role == StageRoleOwner {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.User.Username, b.User.Username)
	})
	return out
}

func (r memRepo) stageMembers(ctx context.Context, stageID int64) ([]UserStage, error) {
	return r.stageRows(stageID, func(UserStage) bool { return true }), nil
}

func (r memRepo) stageOwners(ctx context.Context, stageID int64) ([]UserStage, error) {
	return r.stageRows(stageID, func(m UserStage) bool { return m.Role == StageRoleOwner }), nil
}

func (r memRepo) checkOneOwner(stageID, userID int64, role StageRole) error {
	if role != StageRoleOwner {
		return nil
	}
	for k, m := range r.d.userStages {
		if k.a == stageID && k.b != userID && m.Role == StageRoleOwner {
			return errUnique
		}
	}
	return nil
}

func (r memRepo) insertStageMember(ctx context.Context, m UserStage) error {
	k := pair{m.StageID, m.UserID}
	if _, ok := r.d.userStages[k]; ok {
		return errUnique
	}
	if err := r.checkOneOwner(m.StageID, m.UserID, m.Role); err != nil {
		return err
	}
	m.User = nil
	r.d.userStages[k] = m
	return nil
}

func (r memRepo) setStageRole(ctx context.Context, stageID, userID int64, role StageRole) error {
	k := pair{stageID, userID}
	m, ok := r.d.userStages[k]
	if !ok {
		return ErrNotFound
	}
	if err := r.checkOneOwner(stageID, userID, role); err != nil {
		return err
	}
	m.Role = role
	r.d.userStages[k] = m
	return nil
}

func (r memRepo) deleteStageMember(ctx context.Context, stageID, userID int64) error {
	k := pair{stageID, userID}
	if _, ok := r.d.userStages[k]; !ok {
		return ErrNotFound
	}
	delete(r.d.userStages, k)
	return nil
}

func (r memRepo) deleteStageMembersInProject(ctx context.Context, projectID, userID int64) error {
	for k := range r.d.userStages {
		if k.b == userID && r.d.stages[k.a].ProjectID == projectID {
			delete(r.d.userStages, k)
		}
	}
	return nil
}

func (r memRepo) ownedStageIDs(ctx context.Context, projectID, userID int64) ([]int64, error) {
	return r.owned(projectID, userID, true), nil
}

func (r memRepo) openOwnedStageIDs(ctx context.Context, projectID, userID int64) ([]int64, error) {
	return r.owned(projectID, userID, false), nil
}

func (r memRepo) owned(projectID, userID int64, withClosed bool) []int64 {
	out := []int64{}
	for k, m := range r.d.userStages {
		s := r.d.stages[k.a]
		if k.b == userID && m.Role == StageRoleOwner && s.ProjectID == projectID && (withClosed || !s.Closed()) {
			out = append(out, k.a)
		}
	}
	slices.Sort(out)
	return out
}

func (r memRepo) insertTask(ctx context.Context, t *Task) error {
	t.ID = r.id()
	t.CreatedAt = r.now
	r.d.tasks[t.ID] = *t
	return nil
}

func (r memRepo) taskByID(ctx context.Context, id int64) (Task, error) {
	t, ok := r.d.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	t.ProjectID = r.d.stages[t.StageID].ProjectID
	return t, nil
}

func (r memRepo) updateTask(ctx context.Context, t Task) error {
	if _, ok := r.d.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	r.d.tasks[t.ID] = t
	return nil
}

func (r memRepo) deleteTask(ctx context.Context, id int64) error {
	if _, ok := r.d.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.d.tasks, id)
	return nil
}

func (r memRepo) tasksByStage(ctx context.Context, stageID int64, page Page) ([]Task, int, error) {
	all := []Task{}
	for _, t := range r.d.tasks {
		if t.StageID == stageID {
			t.ProjectID = r.d.stages[stageID].ProjectID
			all = append(all, t)
		}
	}
	slices.SortFunc(all, func(a, b Task) int { return cmp.Compare(a.ID, b.ID) })
	return window(all, page), len(all), nil
}

func (r memRepo) inScope(t Task, scope taskScope) bool {
	if scope.StageID != 0 && t.StageID != scope.StageID {
		return false
	}
	if scope.StageID == 0 && r.d.stages[t.StageID].ProjectID != scope.ProjectID {
		return false
	}
	return scope.UserID == 0 || (t.AssigneeID != nil && *t.AssigneeID == scope.UserID)
}

func (r memRepo) openTaskIDs(ctx context.Context, scope taskScope) ([]int64, error) {
	out := []int64{}
	for id, t := range r.d.tasks {
		if r.inScope(t, scope) && t.Status.Open() {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r memRepo) unassignTasks(ctx context.Context, scope taskScope) error {
	for id, t := range r.d.tasks {
		if r.inScope(t, scope) {
			t.AssigneeID = nil
			r.d.tasks[id] = t
		}
	}
	return nil
}

func (r memRepo) insertReport(ctx context.Context, rep *Report) error {
	rep.ID = r.id()
	rep.CreatedAt = r.now
	r.d.reports[rep.ID] = *rep
	return nil
}

func (r memRepo) reportsByProject(ctx context.Context, projectID int64) ([]Report, error) {
	out := []Report{}
	for _, rep := range r.d.reports {
		if rep.ProjectID == projectID {
			out = append(out, rep)
		}
	}
	slices.SortFunc(out, func(a, b Report) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

// recordingMailer keeps sent messages; a non-nil fail makes every Send return it.
type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	fail error
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) to() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, msg := range m.sent {
		out[i] = msg.To
	}
	return out
}

type fixture struct {
	svc   *Service
	store *memStore
	mail  *recordingMailer
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	mail := &recordingMailer{}
	svc := NewService(store, mail, "http://projectflow.test/")
	svc.now = func() time.Time { return store.now }
	return &fixture{svc: svc, store: store, mail: mail}
}

// user inserts an active user named name with email name@example.com.
func (f *fixture) user(t *testing.T, name string) int64 {
	t.Helper()
	u := User{Username: name, Email: name + "@example.com"}
	err := f.store.InTx(context.Background(), func(r repo) error {
		if err := r.insertUser(context.Background(), &u, "x", "tok"); err != nil {
			return err
		}
		_, err := r.activateUser(context.Background(), u.ID, "tok")
		return err
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u.ID
}

func (f *fixture) project(t *testing.T, pm int64, members ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	p, err := f.svc.CreateProject(ctx, pm, ProjectInput{Name: "Apollo", EndDate: NewDate(2025, 12, 31)})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if len(members) > 0 {
		if _, err := f.svc.AddMembers(ctx, pm, p.ID, members); err != nil {
			t.Fatalf("AddMembers: %v", err)
		}
	}
	return p.ID
}

func (f *fixture) stage(t *testing.T, pm, projectID, owner int64) int64 {
	t.Helper()
	st, err := f.svc.CreateStage(context.Background(), pm, projectID, StageInput{
		Name:      "Design",
		StartDate: NewDate(2025, 3, 10),
		EndDate:   NewDate(2025, 6, 30),
		OwnerID:   owner,
	})
	if err != nil {
		t.Fatalf("CreateStage: %v", err)
	}
	return st.ID
}

func (f *fixture) task(t *testing.T, actor, projectID, stageID int64, assignee int64, status TaskStatus) int64 {
	t.Helper()
	in := TaskInput{Content: "write it", StartDate: NewDate(2025, 3, 11), EndDate: NewDate(2025, 3, 20), Status: status}
	if assignee != 0 {
		in.AssigneeID = &assignee
	}
	tk, err := f.svc.CreateTask(context.Background(), actor, projectID, stageID, in)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return tk.ID
}

func (f *fixture) projectRole(t *testing.T, projectID, userID int64) ProjectRole {
	t.Helper()
	var role ProjectRole
	f.store.read(func(d *memData) { role = d.userProjects[pair{projectID, userID}].Role })
	return role
}

func (f *fixture) stageRole(t *testing.T, stageID, userID int64) StageRole {
	t.Helper()
	var role StageRole
	f.store.read(func(d *memData) { role = d.userStages[pair{stageID, userID}].Role })
	return role
}

// managers counts project manager rows; owners counts stage owner rows.
func (f *fixture) managers(projectID int64) int {
	n := 0
	f.store.read(func(d *memData) {
		for k, m := range d.userProjects {
			if k.a == projectID && m.Role == RoleProjectManager {
				n++
			}
		}
	})
	return n
}

func (f *fixture) owners(stageID int64) int {
	n := 0
	f.store.read(func(d *memData) {
		for k, m := range d.userStages {
			if k.a == stageID && m.Role == StageRoleOwner {
				n++
			}
		}
	})
	return n
}
