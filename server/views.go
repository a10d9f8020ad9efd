package main

import (
	"context"
	"fmt"
	"strings"
)

type StageView struct {
	Stage
	OwnerID   int64       `json:"owner_id"`
	TaskCount int         `json:"task_count"`
	Tasks     []Task      `json:"tasks"`
	Members   []UserStage `json:"members"`
}

type ProjectView struct {
	Project
	PM         string        `json:"pm"`
	TaskCount  int           `json:"task_count"`
	StageCount int           `json:"stage_count"`
	Members    []UserProject `json:"members"`
	Stages     []StageView   `json:"stages"`
}

// Paged is one window of a listing plus the total row count.
type Paged[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

// visibleProject loads a project the actor is a member of.
func visibleProject(ctx context.Context, r repo, actor, projectID int64) (Project, error) {
	p, err := r.projectByID(ctx, projectID, false)
	if err != nil {
		return Project{}, err
	}
	if err := require(isInProject(ctx, r, actor, projectID)); err != nil {
		return Project{}, err
	}
	return p, nil
}

// CanView is the read gate alone, for callers that stream rather than load a view.
func (s *Service) CanView(ctx context.Context, actor, projectID int64) error {
	return s.store.InTx(ctx, func(r repo) error {
		_, err := visibleProject(ctx, r, actor, projectID)
		return err
	})
}

func projectManager(members []UserProject) (UserProject, error) {
	var pm []UserProject
	for _, m := range members {
		if m.Role == RoleProjectManager {
			pm = append(pm, m)
		}
	}
	if len(pm) != 1 {
		return UserProject{}, fmt.Errorf("project has %d manager rows: %w", len(pm), ErrInvariant)
	}
	return pm[0], nil
}

func stageView(ctx context.Context, r repo, st Stage) (StageView, error) {
	v := StageView{Stage: st}
	owner, ok, err := ownerOf(ctx, r, st)
	if err != nil {
		return StageView{}, err
	}
	if ok {
		v.OwnerID = owner.UserID
	}
	tasks, total, err := r.tasksByStage(ctx, st.ID, Page{})
	if err != nil {
		return StageView{}, err
	}
	v.Tasks, v.TaskCount = tasks, total
	if v.Members, err = r.stageMembers(ctx, st.ID); err != nil {
		return StageView{}, err
	}
	return v, nil
}

func (s *Service) ProjectDetail(ctx context.Context, actor, projectID int64) (ProjectView, error) {
	var v ProjectView
	err := s.store.InTx(ctx, func(r repo) error {
		p, err := visibleProject(ctx, r, actor, projectID)
		if err != nil {
			return err
		}
		v = ProjectView{Project: p}
		if v.Members, err = r.projectMembers(ctx, projectID); err != nil {
			return err
		}
		if !p.Closed() {
			pm, err := projectManager(v.Members)
			if err != nil {
				return err
			}
			v.PM = pm.User.Username
		}
		stages, total, err := r.stagesByProject(ctx, projectID, "", Page{})
		if err != nil {
			return err
		}
		v.StageCount = total
		v.Stages = make([]StageView, 0, len(stages))
		for _, st := range stages {
			sv, err := stageView(ctx, r, st)
			if err != nil {
				return err
			}
			v.TaskCount += sv.TaskCount
			v.Stages = append(v.Stages, sv)
		}
		return nil
	})
	return v, err
}

func (s *Service) StageDetail(ctx context.Context, actor, projectID, stageID int64) (StageView, error) {
	var v StageView
	err := s.store.InTx(ctx, func(r repo) error {
		if _, err := visibleProject(ctx, r, actor, projectID); err != nil {
			return err
		}
		st, err := projectStage(ctx, r, projectID, stageID, false)
		if err != nil {
			return err
		}
		v, err = stageView(ctx, r, st)
		return err
	})
	return v, err
}

// ListProjects returns the actor's projects whose name contains search, case-insensitively.
func (s *Service) ListProjects(ctx context.Context, actor int64, search string) ([]Project, error) {
	var out []Project
	err := s.store.InTx(ctx, func(r repo) error {
		var err error
		out, err = r.projectsForUser(ctx, actor, search)
		return err
	})
	return out, err
}

func (s *Service) ListStages(ctx context.Context, actor, projectID int64, name string, page Page) (Paged[Stage], error) {
	var out Paged[Stage]
	err := s.store.InTx(ctx, func(r repo) error {
		if _, err := visibleProject(ctx, r, actor, projectID); err != nil {
			return err
		}
		var err error
		out.Results, out.Count, err = r.stagesByProject(ctx, projectID, name, page)
		return err
	})
	return out, err
}

func (s *Service) ListTasks(ctx context.Context, actor, projectID, stageID int64, page Page) (Paged[Task], error) {
	var out Paged[Task]
	err := s.store.InTx(ctx, func(r repo) error {
		if _, err := visibleProject(ctx, r, actor, projectID); err != nil {
			return err
		}
		if _, err := projectStage(ctx, r, projectID, stageID, false); err != nil {
			return err
		}
		var err error
		out.Results, out.Count, err = r.tasksByStage(ctx, stageID, page)
		return err
	})
	return out, err
}

// SubmitReport stores a report and mails it to the project manager.
func (s *Service) SubmitReport(ctx context.Context, actor, projectID int64, content string) (Report, error) {
	rep := Report{ProjectID: projectID, UserID: actor, Content: strings.TrimSpace(content)}
	if rep.Content == "" || len(rep.Content) > 500 {
		return Report{}, invalid("content", "content is required (max 500 characters)")
	}
	err := s.store.InTx(ctx, func(r repo) error {
		p, err := visibleProject(ctx, r, actor, projectID)
		if err != nil {
			return err
		}
		if p.Closed() {
			return invalid("project", "project is closed")
		}
		members, err := r.projectMembers(ctx, projectID)
		if err != nil {
			return err
		}
		pm, err := projectManager(members)
		if err != nil {
			return err
		}
		if err := r.insertReport(ctx, &rep); err != nil {
			return err
		}
		author := ""
		for _, m := range members {
			if m.UserID == actor {
				author = m.User.Username
			}
		}
		body := fmt.Sprintf("New report on **%s** from %s:\n\n%s\n", p.Name, author, rep.Content)
		return s.notify(ctx, *pm.User, "Report on "+p.Name, body)
	})
	if err != nil {
		return Report{}, err
	}
	return rep, nil
}

func (s *Service) ListReports(ctx context.Context, actor, projectID int64) ([]Report, error) {
	var out []Report
	err := s.store.InTx(ctx, func(r repo) error {
		if _, err := r.projectByID(ctx, projectID, false); err != nil {
			return err
		}
		if err := require(isProjectManager(ctx, r, actor, projectID)); err != nil {
			return err
		}
		var err error
		out, err = r.reportsByProject(ctx, projectID)
		return err
	})
	return out, err
}
