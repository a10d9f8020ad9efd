package main

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type ProjectRole string

const (
	RoleProjectManager ProjectRole = "project_manager"
	RoleStageOwner     ProjectRole = "stage_owner"
	RoleMember         ProjectRole = "member"
)

func (r ProjectRole) IsValid() bool {
	switch r {
	case RoleProjectManager, RoleStageOwner, RoleMember:
		return true
	}
	return false
}

type StageRole string

const (
	StageRoleOwner  StageRole = "stage_owner"
	StageRoleMember StageRole = "member"
)

func (r StageRole) IsValid() bool { return r == StageRoleOwner || r == StageRoleMember }

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
	// StatusSlowed only applies to stages.
	StatusSlowed Status = "slowed"
)

type TaskStatus string

const (
	TaskNew        TaskStatus = "new"
	TaskInProgress TaskStatus = "in_progress"
	TaskResolved   TaskStatus = "resolved"
	TaskRejected   TaskStatus = "rejected"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskNew, TaskInProgress, TaskResolved, TaskRejected:
		return true
	}
	return false
}

// Open reports whether a task still blocks membership removal and stage deletion.
func (s TaskStatus) Open() bool { return s == TaskNew || s == TaskInProgress }

var openTaskStatuses = []TaskStatus{TaskNew, TaskInProgress}

// Lifecycle is the soft-delete state shared by projects and stages.
// Rows are never removed; Close is the only way out of the active states.
type Lifecycle struct {
	Status    Status     `json:"status"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (l Lifecycle) Closed() bool { return l.Status == StatusClosed }

func (l *Lifecycle) Close(now time.Time) {
	l.Status = StatusClosed
	t := now
	l.DeletedAt = &t
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Project struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StartDate   Date   `json:"start_date"`
	EndDate     Date   `json:"end_date"`
	Lifecycle
	CreatedAt time.Time `json:"created_at"`
}

type UserProject struct {
	UserID    int64       `json:"user_id"`
	ProjectID int64       `json:"project_id"`
	Role      ProjectRole `json:"role"`
	// User is joined for listings.
	User *User `json:"user,omitempty"`
}

type Stage struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
	StartDate Date   `json:"start_date"`
	EndDate   Date   `json:"end_date"`
	Lifecycle
	CreatedAt time.Time `json:"created_at"`
}

type UserStage struct {
	UserID  int64     `json:"user_id"`
	StageID int64     `json:"stage_id"`
	Role    StageRole `json:"role"`
	User    *User     `json:"user,omitempty"`
}

type Task struct {
	ID         int64      `json:"id"`
	StageID    int64      `json:"stage_id"`
	ProjectID  int64      `json:"project_id"`
	Content    string     `json:"content"`
	StartDate  Date       `json:"start_date"`
	EndDate    Date       `json:"end_date"`
	Status     TaskStatus `json:"status"`
	AssigneeID *int64     `json:"assignee_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Report struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const dateLayout = "2006-01-02"

// Date is a calendar day stored as a SQL date and rendered as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	*d = v
	return nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = DateOf(v)
	case string:
		p, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = p
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
	return nil
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}
