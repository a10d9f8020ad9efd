package main

import (
	"context"
	"errors"
	"strings"
)

type ProjectPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	EndDate     *Date   `json:"end_date"`
}

func (s *Service) UpdateProject(ctx context.Context, actor, projectID int64, patch ProjectPatch) (Project, error) {
	var p Project
	err := s.store.InTx(ctx, func(r repo) error {
		var err error
		p, err = managedProject(ctx, r, actor, projectID)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			p.Description = strings.TrimSpace(*patch.Description)
		}
		var today Date
		if patch.EndDate != nil {
			p.EndDate = *patch.EndDate
			today = s.today()
		}
		if err := validateProject(p, today); err != nil {
			return err
		}
		return r.updateProject(ctx, p)
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// DeleteProject soft-deletes a project with no active stage left. A closed project is not found.
func (s *Service) DeleteProject(ctx context.Context, actor, projectID int64) error {
	return s.store.InTx(ctx, func(r repo) error {
		p, err := r.projectByID(ctx, projectID, true)
		if err != nil {
			return err
		}
		if err := require(isProjectManager(ctx, r, actor, projectID)); err != nil {
			return err
		}
		if p.Closed() {
			return ErrNotFound
		}
		active, err := r.activeStageIDs(ctx, projectID)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return guard("project already has stage", "stages", active)
		}
		p.Close(s.now())
		return r.updateProject(ctx, p)
	})
}

// DeleteStage soft-deletes a stage with no open task. Member rows stay for history;
// the owner loses the project-level stage owner role if this was their last open stage.
func (s *Service) DeleteStage(ctx context.Context, actor, projectID, stageID int64) error {
	return s.store.InTx(ctx, func(r repo) error {
		p, err := r.projectByID(ctx, projectID, true)
		if err != nil {
			return err
		}
		if err := require(isProjectManager(ctx, r, actor, projectID)); err != nil {
			return err
		}
		st, err := projectStage(ctx, r, projectID, stageID, true)
		if err != nil {
			return err
		}
		if st.Closed() {
			return ErrNotFound
		}
		if p.Closed() {
			return invalid("project", "project is closed")
		}
		open, err := r.openTaskIDs(ctx, taskScope{StageID: st.ID})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return guard("stage already has task in progress or new", "tasks", open)
		}
		owner, err := stageOwner(ctx, r, st.ID)
		if err != nil {
			return err
		}
		st.Close(s.now())
		if err := r.updateStage(ctx, st); err != nil {
			return err
		}
		return demoteIfNoStages(ctx, r, projectID, owner.UserID)
	})
}

type TaskInput struct {
	Content    string     `json:"content"`
	StartDate  Date       `json:"start_date"`
	EndDate    Date       `json:"end_date"`
	Status     TaskStatus `json:"status"`
	AssigneeID *int64     `json:"assignee_id"`
}

type TaskPatch struct {
	Content    *string     `json:"content"`
	StartDate  *Date       `json:"start_date"`
	EndDate    *Date       `json:"end_date"`
	Status     *TaskStatus `json:"status"`
	AssigneeID *int64      `json:"assignee_id"`
	// Unassign clears the assignee; AssigneeID is ignored when set.
	Unassign bool `json:"unassign"`
}

func validateTask(ctx context.Context, r repo, t Task, st Stage) error {
	if t.Content == "" || len(t.Content) > 200 {
		return invalid("content", "content is required (max 200 characters)")
	}
	if !t.Status.IsValid() {
		return invalid("status", "unknown task status")
	}
	if t.StartDate.IsZero() || t.EndDate.IsZero() {
		return invalid("start_date", "start and end date are required")
	}
	if t.EndDate.Before(t.StartDate) {
		return invalid("start_date", "start date must be before end date")
	}
	if t.StartDate.Before(st.StartDate) || t.EndDate.After(st.EndDate) {
		return invalid("start_date", "task dates must lie within the stage dates")
	}
	if t.AssigneeID != nil {
		_, err := r.stageMember(ctx, st.ID, *t.AssigneeID)
		if errors.Is(err, ErrNotFound) {
			return invalid("assignee_id", "assignee is not a stage member")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// taskStage gates task changes on stage members and the manager. Closed stages and
// closed projects take no task changes.
func taskStage(ctx context.Context, r repo, actor int64, st Stage) error {
	if err := require(isStageMemberOrManager(ctx, r, actor, st)); err != nil {
		return err
	}
	return stageOpen(ctx, r, st)
}

// stageOpen rejects changes under a closed stage or a closed project.
func stageOpen(ctx context.Context, r repo, st Stage) error {
	if st.Closed() {
		return invalid("stage", "stage is closed")
	}
	p, err := r.projectByID(ctx, st.ProjectID, false)
	if err != nil {
		return err
	}
	if p.Closed() {
		return invalid("project", "project is closed")
	}
	return nil
}

func (s *Service) CreateTask(ctx context.Context, actor, projectID, stageID int64, in TaskInput) (Task, error) {
	t := Task{
		StageID:    stageID,
		Content:    strings.TrimSpace(in.Content),
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		Status:     in.Status,
		AssigneeID: in.AssigneeID,
	}
	if t.Status == "" {
		t.Status = TaskNew
	}
	err := s.store.InTx(ctx, func(r repo) error {
		st, err := projectStage(ctx, r, projectID, stageID, true)
		if err != nil {
			return err
		}
		if err := taskStage(ctx, r, actor, st); err != nil {
			return err
		}
		if err := validateTask(ctx, r, t, st); err != nil {
			return err
		}
		t.ProjectID = st.ProjectID
		return r.insertTask(ctx, &t)
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Service) UpdateTask(ctx context.Context, actor, taskID int64, patch TaskPatch) (Task, error) {
	var t Task
	err := s.store.InTx(ctx, func(r repo) error {
		var err error
		t, err = r.taskByID(ctx, taskID)
		if err != nil {
			return err
		}
		st, err := r.stageByID(ctx, t.StageID, true)
		if err != nil {
			return err
		}
		if err := taskStage(ctx, r, actor, st); err != nil {
			return err
		}
		if patch.Content != nil {
			t.Content = strings.TrimSpace(*patch.Content)
		}
		if patch.StartDate != nil {
			t.StartDate = *patch.StartDate
		}
		if patch.EndDate != nil {
			t.EndDate = *patch.EndDate
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Unassign {
			t.AssigneeID = nil
		} else if patch.AssigneeID != nil {
			t.AssigneeID = patch.AssigneeID
		}
		if err := validateTask(ctx, r, t, st); err != nil {
			return err
		}
		return r.updateTask(ctx, t)
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// DeleteTask removes the task row of an open stage. Nothing depends on tasks, so there is no guard.
func (s *Service) DeleteTask(ctx context.Context, actor, taskID int64) (Task, error) {
	var t Task
	err := s.store.InTx(ctx, func(r repo) error {
		var err error
		t, err = r.taskByID(ctx, taskID)
		if err != nil {
			return err
		}
		st, err := r.stageByID(ctx, t.StageID, true)
		if err != nil {
			return err
		}
		if err := require(isManagerOrStageOwner(ctx, r, actor, st, st.ProjectID)); err != nil {
			return err
		}
		if err := stageOpen(ctx, r, st); err != nil {
			return err
		}
		return r.deleteTask(ctx, t.ID)
	})
	return t, err
}
