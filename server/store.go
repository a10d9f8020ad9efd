package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Page is a limit/offset window. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) limitArg() any {
	if p.Limit <= 0 {
		return nil
	}
	return p.Limit
}

// taskScope selects tasks of one stage, or of every stage in a project when StageID is 0.
// UserID 0 matches any assignee.
type taskScope struct {
	ProjectID int64
	StageID   int64
	UserID    int64
}

// repo is the transaction-scoped persistence surface the core engine works against.
type repo interface {
	insertUser(ctx context.Context, u *User, passwordHash, verifyToken string) error
	userByID(ctx context.Context, id int64) (User, error)
	usersByIDs(ctx context.Context, ids []int64) (map[int64]User, error)
	userTaken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	activateUser(ctx context.Context, id int64, token string) (User, error)

	insertProject(ctx context.Context, p *Project) error
	projectByID(ctx context.Context, id int64, lock bool) (Project, error)
	updateProject(ctx context.Context, p Project) error
	projectsForUser(ctx context.Context, userID int64, search string) ([]Project, error)

	projectMember(ctx context.Context, projectID, userID int64) (UserProject, error)
	projectMembers(ctx context.Context, projectID int64) ([]UserProject, error)
	insertProjectMember(ctx context.Context, m UserProject) error
	setProjectRole(ctx context.Context, projectID, userID int64, role ProjectRole) error
	deleteProjectMember(ctx context.Context, projectID, userID int64) error

	insertStage(ctx context.Context, s *Stage) error
	stageByID(ctx context.Context, id int64, lock bool) (Stage, error)
	updateStage(ctx context.Context, s Stage) error
	stagesByProject(ctx context.Context, projectID int64, name string, page Page) ([]Stage, int, error)
	activeStageIDs(ctx context.Context, projectID int64) ([]int64, error)

	stageMember(ctx context.Context, stageID, userID int64) (UserStage, error)
	stageMembers(ctx context.Context, stageID int64) ([]UserStage, error)
	stageOwners(ctx context.Context, stageID int64) ([]UserStage, error)
	insertStageMember(ctx context.Context, m UserStage) error
	setStageRole(ctx context.Context, stageID, userID int64, role StageRole) error
	deleteStageMember(ctx context.Context, stageID, userID int64) error
	deleteStageMembersInProject(ctx context.Context, projectID, userID int64) error
	// ownedStageIDs includes closed stages; openOwnedStageIDs skips them.
	ownedStageIDs(ctx context.Context, projectID, userID int64) ([]int64, error)
	openOwnedStageIDs(ctx context.Context, projectID, userID int64) ([]int64, error)

	insertTask(ctx context.Context, t *Task) error
	taskByID(ctx context.Context, id int64) (Task, error)
	updateTask(ctx context.Context, t Task) error
	deleteTask(ctx context.Context, id int64) error
	tasksByStage(ctx context.Context, stageID int64, page Page) ([]Task, int, error)
	openTaskIDs(ctx context.Context, scope taskScope) ([]int64, error)
	unassignTasks(ctx context.Context, scope taskScope) error

	insertReport(ctx context.Context, r *Report) error
	reportsByProject(ctx context.Context, projectID int64) ([]Report, error)
}

// txRunner runs fn inside one transaction; fn's error rolls everything back.
type txRunner interface {
	InTx(ctx context.Context, fn func(r repo) error) error
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) InTx(ctx context.Context, fn func(r repo) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(pgRepo{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Sessions and credentials live outside the engine's transactions.

func (s *Store) CreateSession(ctx context.Context, userID int64, ttl time.Duration) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	expires := time.Now().Add(ttl)
	_, err := s.db.ExecContext(ctx, `insert into sessions(user_id, token, expires_at) values($1,$2,$3)`, userID, token, expires)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

func (s *Store) UserBySession(ctx context.Context, token string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userCols("u")+`
		from sessions s join users u on u.id=s.user_id
		where s.token=$1 and s.expires_at > now() and u.is_active`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where token=$1`, token)
	return err
}

var errInactive = errors.New("user_inactive")

// Authenticate checks an email/password pair. Unverified users get errInactive.
func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	var hash string
	row := s.db.QueryRowContext(ctx, `select `+userCols("users")+`, password_hash from users where lower(email)=lower($1)`, email)
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrNotFound
	}
	if !u.IsActive {
		return User{}, errInactive
	}
	return u, nil
}

type pgRepo struct {
	tx *sql.Tx
}

func userCols(alias string) string {
	cols := []string{"id", "username", "email", "first_name", "last_name", "is_active", "created_at"}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.CreatedAt)
	return u, err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func forUpdate(lock bool) string {
	if lock {
		return " for update"
	}
	return ""
}

// Users

func (r pgRepo) insertUser(ctx context.Context, u *User, passwordHash, verifyToken string) error {
	return r.tx.QueryRowContext(ctx, `insert into users(username, email, first_name, last_name, password_hash, verify_token)
		values($1,$2,$3,$4,$5,$6) returning id, is_active, created_at`,
		u.Username, u.Email, u.FirstName, u.LastName, passwordHash, verifyToken).
		Scan(&u.ID, &u.IsActive, &u.CreatedAt)
}

func (r pgRepo) userByID(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.tx.QueryRowContext(ctx, `select `+userCols("users")+` from users where id=$1`, id))
	return u, notFound(err)
}

func (r pgRepo) usersByIDs(ctx context.Context, ids []int64) (map[int64]User, error) {
	out := make(map[int64]User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.tx.QueryContext(ctx, `select `+userCols("users")+` from users where id = any($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (r pgRepo) userTaken(ctx context.Context, username, email string) (bool, bool, error) {
	var byName, byEmail bool
	err := r.tx.QueryRowContext(ctx, `select
		exists(select 1 from users where lower(username)=lower($1)),
		exists(select 1 from users where lower(email)=lower($2))`, username, email).Scan(&byName, &byEmail)
	return byName, byEmail, err
}

func (r pgRepo) activateUser(ctx context.Context, id int64, token string) (User, error) {
	u, err := scanUser(r.tx.QueryRowContext(ctx, `update users set is_active=true, verify_token=''
		where id=$1 and verify_token<>'' and verify_token=$2
		returning `+userCols("users"), id, token))
	return u, notFound(err)
}

// Projects

const projectCols = `id, name, description, start_date, end_date, status, deleted_at, created_at`

func scanProject(row rowScanner) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.StartDate, &p.EndDate, &p.Status, &p.DeletedAt, &p.CreatedAt)
	return p, err
}

func (r pgRepo) insertProject(ctx context.Context, p *Project) error {
	return r.tx.QueryRowContext(ctx, `insert into projects(name, description, start_date, end_date, status)
		values($1,$2,$3,$4,$5) returning id, created_at`,
		p.Name, p.Description, p.StartDate, p.EndDate, p.Status).Scan(&p.ID, &p.CreatedAt)
}

func (r pgRepo) projectByID(ctx context.Context, id int64, lock bool) (Project, error) {
	p, err := scanProject(r.tx.QueryRowContext(ctx, `select `+projectCols+` from projects where id=$1`+forUpdate(lock), id))
	return p, notFound(err)
}

func (r pgRepo) updateProject(ctx context.Context, p Project) error {
	return mustAffect(r.tx.ExecContext(ctx, `update projects set name=$1, description=$2, end_date=$3, status=$4, deleted_at=$5
		where id=$6`, p.Name, p.Description, p.EndDate, p.Status, p.DeletedAt, p.ID))
}

func (r pgRepo) projectsForUser(ctx context.Context, userID int64, search string) ([]Project, error) {
	rows, err := r.tx.QueryContext(ctx, `select `+prefixed("p", projectCols)+`
		from projects p join user_projects up on up.project_id=p.id
		where up.user_id=$1 and p.name ilike $2
		order by p.id`, userID, likePattern(search))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r pgRepo) projectMember(ctx context.Context, projectID, userID int64) (UserProject, error) {
	m := UserProject{ProjectID: projectID, UserID: userID}
	err := r.tx.QueryRowContext(ctx, `select role from user_projects where project_id=$1 and user_id=$2`, projectID, userID).Scan(&m.Role)
	return m, notFound(err)
}

func (r pgRepo) projectMembers(ctx context.Context, projectID int64) ([]UserProject, error) {
	rows, err := r.tx.QueryContext(ctx, `select up.project_id, up.role, `+userCols("u")+`
		from user_projects up join users u on u.id=up.user_id
		where up.project_id=$1 order by up.role = 'project_manager' desc, u.username`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []UserProject{}
	for rows.Next() {
		var m UserProject
		var u User
		if err := rows.Scan(&m.ProjectID, &m.Role, &u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		m.UserID = u.ID
		m.User = &u
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r pgRepo) insertProjectMember(ctx context.Context, m UserProject) error {
	_, err := r.tx.ExecContext(ctx, `insert into user_projects(user_id, project_id, role) values($1,$2,$3)`, m.UserID, m.ProjectID, m.Role)
	return err
}

func (r pgRepo) setProjectRole(ctx context.Context, projectID, userID int64, role ProjectRole) error {
	return mustAffect(r.tx.ExecContext(ctx, `update user_projects set role=$1 where project_id=$2 and user_id=$3`, role, projectID, userID))
}

func (r pgRepo) deleteProjectMember(ctx context.Context, projectID, userID int64) error {
	return mustAffect(r.tx.ExecContext(ctx, `delete from user_projects where project_id=$1 and user_id=$2`, projectID, userID))
}

// Stages

const stageCols = `id, project_id, name, start_date, end_date, status, deleted_at, created_at`

func scanStage(row rowScanner) (Stage, error) {
	var s Stage
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.StartDate, &s.EndDate, &s.Status, &s.DeletedAt, &s.CreatedAt)
	return s, err
}

func (r pgRepo) insertStage(ctx context.Context, s *Stage) error {
	return r.tx.QueryRowContext(ctx, `insert into stages(project_id, name, start_date, end_date, status)
		values($1,$2,$3,$4,$5) returning id, created_at`,
		s.ProjectID, s.Name, s.StartDate, s.EndDate, s.Status).Scan(&s.ID, &s.CreatedAt)
}

func (r pgRepo) stageByID(ctx context.Context, id int64, lock bool) (Stage, error) {
	s, err := scanStage(r.tx.QueryRowContext(ctx, `select `+stageCols+` from stages where id=$1`+forUpdate(lock), id))
	return s, notFound(err)
}

func (r pgRepo) updateStage(ctx context.Context, s Stage) error {
	return mustAffect(r.tx.ExecContext(ctx, `update stages set name=$1, start_date=$2, end_date=$3, status=$4, deleted_at=$5
		where id=$6`, s.Name, s.StartDate, s.EndDate, s.Status, s.DeletedAt, s.ID))
}

func (r pgRepo) stagesByProject(ctx context.Context, projectID int64, name string, page Page) ([]Stage, int, error) {
	pattern := likePattern(name)
	var total int
	if err := r.tx.QueryRowContext(ctx, `select count(*) from stages where project_id=$1 and name ilike $2`, projectID, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.tx.QueryContext(ctx, `select `+stageCols+` from stages where project_id=$1 and name ilike $2
		order by id limit $3 offset $4`, projectID, pattern, page.limitArg(), page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Stage{}
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r pgRepo) activeStageIDs(ctx context.Context, projectID int64) ([]int64, error) {
	return r.ids(ctx, `select id from stages where project_id=$1 and status='active' order by id`, projectID)
}

func (r pgRepo) stageMember(ctx context.Context, stageID, userID int64) (UserStage, error) {
	m := UserStage{StageID: stageID, UserID: userID}
	err := r.tx.QueryRowContext(ctx, `select role from user_stages where stage_id=$1 and user_id=$2`, stageID, userID).Scan(&m.Role)
	return m, notFound(err)
}

func (r pgRepo) stageMemberRows(ctx context.Context, q string, args ...any) ([]UserStage, error) {
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []UserStage{}
	for rows.Next() {
		var m UserStage
		var u User
		if err := rows.Scan(&m.StageID, &m.Role, &u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		m.UserID = u.ID
		m.User = &u
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r pgRepo) stageMembers(ctx context.Context, stageID int64) ([]UserStage, error) {
	return r.stageMemberRows(ctx, `select us.stage_id, us.role, `+userCols("u")+`
		from user_stages us join users u on u.id=us.user_id
		where us.stage_id=$1 order by us.role = 'stage_owner' desc, u.username`, stageID)
}

func (r pgRepo) stageOwners(ctx context.Context, stageID int64) ([]UserStage, error) {
	return r.stageMemberRows(ctx, `select us.stage_id, us.role, `+userCols("u")+`
		from user_stages us join users u on u.id=us.user_id
		where us.stage_id=$1 and us.role='stage_owner' for update of us`, stageID)
}

func (r pgRepo) insertStageMember(ctx context.Context, m UserStage) error {
	_, err := r.tx.ExecContext(ctx, `insert into user_stages(user_id, stage_id, role) values($1,$2,$3)`, m.UserID, m.StageID, m.Role)
	return err
}

func (r pgRepo) setStageRole(ctx context.Context, stageID, userID int64, role StageRole) error {
	return mustAffect(r.tx.ExecContext(ctx, `update user_stages set role=$1 where stage_id=$2 and user_id=$3`, role, stageID, userID))
}

func (r pgRepo) deleteStageMember(ctx context.Context, stageID, userID int64) error {
	return mustAffect(r.tx.ExecContext(ctx, `delete from user_stages where stage_id=$1 and user_id=$2`, stageID, userID))
}

func (r pgRepo) deleteStageMembersInProject(ctx context.Context, projectID, userID int64) error {
	_, err := r.tx.ExecContext(ctx, `delete from user_stages us using stages s
		where us.stage_id=s.id and s.project_id=$1 and us.user_id=$2`, projectID, userID)
	return err
}

const ownedStages = `select s.id from user_stages us join stages s on s.id=us.stage_id
	where s.project_id=$1 and us.user_id=$2 and us.role='stage_owner'`

func (r pgRepo) ownedStageIDs(ctx context.Context, projectID, userID int64) ([]int64, error) {
	return r.ids(ctx, ownedStages+` order by s.id`, projectID, userID)
}

func (r pgRepo) openOwnedStageIDs(ctx context.Context, projectID, userID int64) ([]int64, error) {
	return r.ids(ctx, ownedStages+` and s.status<>'closed' order by s.id`, projectID, userID)
}

// Tasks

const taskCols = `t.id, t.stage_id, s.project_id, t.content, t.start_date, t.end_date, t.status, t.assignee_user_id, t.created_at`

const taskFrom = ` from tasks t join stages s on s.id=t.stage_id `

func scanTask(row rowScanner) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.StageID, &t.ProjectID, &t.Content, &t.StartDate, &t.EndDate, &t.Status, &t.AssigneeID, &t.CreatedAt)
	return t, err
}

func (r pgRepo) insertTask(ctx context.Context, t *Task) error {
	return r.tx.QueryRowContext(ctx, `insert into tasks(stage_id, content, start_date, end_date, status, assignee_user_id)
		values($1,$2,$3,$4,$5,$6) returning id, created_at`,
		t.StageID, t.Content, t.StartDate, t.EndDate, t.Status, t.AssigneeID).Scan(&t.ID, &t.CreatedAt)
}

func (r pgRepo) taskByID(ctx context.Context, id int64) (Task, error) {
	t, err := scanTask(r.tx.QueryRowContext(ctx, `select `+taskCols+taskFrom+`where t.id=$1 for update of t`, id))
	return t, notFound(err)
}

func (r pgRepo) updateTask(ctx context.Context, t Task) error {
	return mustAffect(r.tx.ExecContext(ctx, `update tasks set content=$1, start_date=$2, end_date=$3, status=$4, assignee_user_id=$5
		where id=$6`, t.Content, t.StartDate, t.EndDate, t.Status, t.AssigneeID, t.ID))
}

func (r pgRepo) deleteTask(ctx context.Context, id int64) error {
	return mustAffect(r.tx.ExecContext(ctx, `delete from tasks where id=$1`, id))
}

func (r pgRepo) tasksByStage(ctx context.Context, stageID int64, page Page) ([]Task, int, error) {
	var total int
	if err := r.tx.QueryRowContext(ctx, `select count(*) from tasks where stage_id=$1`, stageID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.tx.QueryContext(ctx, `select `+taskCols+taskFrom+`where t.stage_id=$1 order by t.id limit $2 offset $3`,
		stageID, page.limitArg(), page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// scopeFilter renders the where clause shared by task scope queries; args start at $1.
func scopeFilter(scope taskScope) (string, []any) {
	where := []string{}
	args := []any{}
	if scope.StageID != 0 {
		args = append(args, scope.StageID)
		where = append(where, fmt.Sprintf("t.stage_id=$%d", len(args)))
	} else {
		args = append(args, scope.ProjectID)
		where = append(where, fmt.Sprintf("t.stage_id in (select id from stages where project_id=$%d)", len(args)))
	}
	if scope.UserID != 0 {
		args = append(args, scope.UserID)
		where = append(where, fmt.Sprintf("t.assignee_user_id=$%d", len(args)))
	}
	return strings.Join(where, " and "), args
}

func (r pgRepo) openTaskIDs(ctx context.Context, scope taskScope) ([]int64, error) {
	where, args := scopeFilter(scope)
	return r.ids(ctx, `select t.id from tasks t where `+where+` and t.status in ('new','in_progress') order by t.id`, args...)
}

func (r pgRepo) unassignTasks(ctx context.Context, scope taskScope) error {
	where, args := scopeFilter(scope)
	_, err := r.tx.ExecContext(ctx, `update tasks t set assignee_user_id=null where `+where, args...)
	return err
}

// Reports

func (r pgRepo) insertReport(ctx context.Context, rep *Report) error {
	return r.tx.QueryRowContext(ctx, `insert into reports(project_id, user_id, content) values($1,$2,$3) returning id, created_at`,
		rep.ProjectID, rep.UserID, rep.Content).Scan(&rep.ID, &rep.CreatedAt)
}

func (r pgRepo) reportsByProject(ctx context.Context, projectID int64) ([]Report, error) {
	rows, err := r.tx.QueryContext(ctx, `select id, project_id, user_id, content, created_at from reports
		where project_id=$1 order by created_at desc, id desc`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Report{}
	for rows.Next() {
		var rep Report
		if err := rows.Scan(&rep.ID, &rep.ProjectID, &rep.UserID, &rep.Content, &rep.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r pgRepo) ids(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string { return "%" + likeEscaper.Replace(strings.TrimSpace(s)) + "%" }

const schema = `
create table if not exists users(
	id bigserial primary key,
	username text unique not null check (length(username) between 1 and 30),
	email text unique not null,
	first_name text not null default '',
	last_name text not null default '',
	password_hash text not null default '',
	is_active boolean not null default false,
	verify_token text not null default '',
	created_at timestamptz not null default now()
);

create table if not exists sessions(
	id bigserial primary key,
	user_id bigint not null references users(id) on delete cascade,
	token text unique not null,
	created_at timestamptz not null default now(),
	expires_at timestamptz not null
);

create table if not exists projects(
	id bigserial primary key,
	name text not null check (length(name) between 1 and 50),
	description text not null default '' check (length(description) <= 500),
	start_date date not null default current_date,
	end_date date not null,
	status text not null default 'active' check (status in ('active','closed')),
	deleted_at timestamptz,
	created_at timestamptz not null default now()
);

create table if not exists user_projects(
	user_id bigint not null references users(id) on delete cascade,
	project_id bigint not null references projects(id) on delete cascade,
	role text not null default 'member' check (role in ('project_manager','stage_owner','member')),
	primary key(user_id, project_id)
);
create unique index if not exists user_projects_one_pm on user_projects(project_id) where role='project_manager';
create index if not exists user_projects_project_idx on user_projects(project_id);

create table if not exists stages(
	id bigserial primary key,
	project_id bigint not null references projects(id) on delete cascade,
	name text not null check (length(name) between 1 and 50),
	start_date date not null,
	end_date date not null,
	status text not null default 'active' check (status in ('active','closed','slowed')),
	deleted_at timestamptz,
	created_at timestamptz not null default now(),
	check (start_date <= end_date)
);
create index if not exists stages_project_idx on stages(project_id);

create table if not exists user_stages(
	user_id bigint not null references users(id) on delete cascade,
	stage_id bigint not null references stages(id) on delete cascade,
	role text not null default 'member' check (role in ('stage_owner','member')),
	primary key(user_id, stage_id)
);
create unique index if not exists user_stages_one_owner on user_stages(stage_id) where role='stage_owner';

create table if not exists tasks(
	id bigserial primary key,
	stage_id bigint not null references stages(id) on delete cascade,
	content text not null check (length(content) between 1 and 200),
	start_date date not null,
	end_date date not null,
	status text not null default 'new' check (status in ('new','in_progress','resolved','rejected')),
	assignee_user_id bigint references users(id) on delete set null,
	created_at timestamptz not null default now()
);
create index if not exists tasks_stage_idx on tasks(stage_id);
create index if not exists tasks_assignee_idx on tasks(assignee_user_id);

create table if not exists reports(
	id bigserial primary key,
	project_id bigint not null references projects(id) on delete cascade,
	user_id bigint not null references users(id) on delete cascade,
	content text not null check (length(content) between 1 and 500),
	created_at timestamptz not null default now()
);
create index if not exists reports_project_idx on reports(project_id);
`
