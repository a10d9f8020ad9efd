package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	EndDate     Date   `json:"end_date"`
}

// CreateProject makes creator the project manager of a new project starting today.
func (s *Service) CreateProject(ctx context.Context, creator int64, in ProjectInput) (Project, error) {
	today := s.today()
	p := Project{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		StartDate:   today,
		EndDate:     in.EndDate,
		Lifecycle:   Lifecycle{Status: StatusActive},
	}
	if err := validateProject(p, today); err != nil {
		return Project{}, err
	}
	err := s.store.InTx(ctx, func(r repo) error {
		if err := r.insertProject(ctx, &p); err != nil {
			return err
		}
		return r.insertProjectMember(ctx, UserProject{UserID: creator, ProjectID: p.ID, Role: RoleProjectManager})
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// validateProject checks field limits. A zero today skips the end-date-in-past check.
func validateProject(p Project, today Date) error {
	if p.Name == "" || len(p.Name) > 50 {
		return invalid("name", "name is required (max 50 characters)")
	}
	if len(p.Description) > 500 {
		return invalid("description", "description is too long (max 500 characters)")
	}
	if p.EndDate.IsZero() {
		return invalid("end_date", "end date is required")
	}
	if !today.IsZero() && p.EndDate.Before(today) {
		return invalid("end_date", "invalid date - end date in past")
	}
	if p.EndDate.Before(p.StartDate) {
		return invalid("end_date", "end date must not be before start date")
	}
	return nil
}

func validateStage(st Stage) error {
	if st.Name == "" || len(st.Name) > 50 {
		return invalid("name", "name is required (max 50 characters)")
	}
	if st.StartDate.IsZero() || st.EndDate.IsZero() {
		return invalid("start_date", "start and end date are required")
	}
	if st.EndDate.Before(st.StartDate) {
		return invalid("start_date", "start date must be before end date")
	}
	return nil
}

// managedProject locks the project row and gates on the project manager.
// Closed projects accept no changes.
func managedProject(ctx context.Context, r repo, actor, projectID int64) (Project, error) {
	p, err := r.projectByID(ctx, projectID, true)
	if err != nil {
		return Project{}, err
	}
	if err := require(isProjectManager(ctx, r, actor, projectID)); err != nil {
		return Project{}, err
	}
	if p.Closed() {
		return Project{}, invalid("project", "project is closed")
	}
	return p, nil
}

// projectStage loads a stage and checks it belongs to projectID.
func projectStage(ctx context.Context, r repo, projectID, stageID int64, lock bool) (Stage, error) {
	st, err := r.stageByID(ctx, stageID, lock)
	if err != nil {
		return Stage{}, err
	}
	if st.ProjectID != projectID {
		return Stage{}, ErrNotFound
	}
	return st, nil
}

func dedupe(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// AddMembers adds users as plain members. The batch is rejected whole when any id is unknown
// or already in the project.
func (s *Service) AddMembers(ctx context.Context, actor, projectID int64, userIDs []int64) ([]UserProject, error) {
	ids := dedupe(userIDs)
	if len(ids) == 0 {
		return nil, invalid("user_ids", "at least one user id is required")
	}
	var added []UserProject
	err := s.store.InTx(ctx, func(r repo) error {
		p, err := managedProject(ctx, r, actor, projectID)
		if err != nil {
			return err
		}
		users, err := r.usersByIDs(ctx, ids)
		if err != nil {
			return err
		}
		batch := &MemberBatchError{NotFound: []int64{}, Existed: []int64{}}
		for _, id := range ids {
			if _, ok := users[id]; !ok {
				batch.NotFound = append(batch.NotFound, id)
				continue
			}
			member, err := isInProject(ctx, r, id, projectID)
			if err != nil {
				return err
			}
			if member {
				batch.Existed = append(batch.Existed, id)
			}
		}
		if len(batch.NotFound) > 0 || len(batch.Existed) > 0 {
			return batch
		}

		added = make([]UserProject, 0, len(ids))
		for _, id := range ids {
			m := UserProject{UserID: id, ProjectID: projectID, Role: RoleMember}
			if err := r.insertProjectMember(ctx, m); err != nil {
				return fmt.Errorf("add member %d: %w", id, err)
			}
			u := users[id]
			m.User = &u
			added = append(added, m)
			body := fmt.Sprintf("Hi %s,\n\nYou were added to the project **%s**.\n", u.Username, p.Name)
			if err := s.notify(ctx, u, "You were added to "+p.Name, body); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

type StageInput struct {
	Name      string `json:"name"`
	StartDate Date   `json:"start_date"`
	EndDate   Date   `json:"end_date"`
	OwnerID   int64  `json:"owner_id"`
}

// CreateStage creates a stage owned by in.OwnerID, who must already be in the project.
// Ownership is two explicit writes: the stage owner row, then promoteToStageOwner.
func (s *Service) CreateStage(ctx context.Context, actor, projectID int64, in StageInput) (Stage, error) {
	st := Stage{
		ProjectID: projectID,
		Name:      strings.TrimSpace(in.Name),
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Lifecycle: Lifecycle{Status: StatusActive},
	}
	err := s.store.InTx(ctx, func(r repo) error {
		if _, err := managedProject(ctx, r, actor, projectID); err != nil {
			return err
		}
		member, err := isInProject(ctx, r, in.OwnerID, projectID)
		if err != nil {
			return err
		}
		if !member {
			return invalid("owner_id", "user is not in project")
		}
		if err := validateStage(st); err != nil {
			return err
		}
		if err := r.insertStage(ctx, &st); err != nil {
			return err
		}
		if err := r.insertStageMember(ctx, UserStage{UserID: in.OwnerID, StageID: st.ID, Role: StageRoleOwner}); err != nil {
			return err
		}
		return promoteToStageOwner(ctx, r, projectID, in.OwnerID)
	})
	if err != nil {
		return Stage{}, err
	}
	return st, nil
}

// promoteToStageOwner raises a plain member's project role to stage owner.
// Project managers keep their role.
func promoteToStageOwner(ctx context.Context, r repo, projectID, userID int64) error {
	m, err := r.projectMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if m.Role != RoleMember {
		return nil
	}
	return r.setProjectRole(ctx, projectID, userID, RoleStageOwner)
}

// demoteIfNoStages drops a stage owner back to member once they own no open stage in the project.
func demoteIfNoStages(ctx context.Context, r repo, projectID, userID int64) error {
	owned, err := r.openOwnedStageIDs(ctx, projectID, userID)
	if err != nil || len(owned) > 0 {
		return err
	}
	m, err := r.projectMember(ctx, projectID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.Role != RoleStageOwner {
		return nil
	}
	return r.setProjectRole(ctx, projectID, userID, RoleMember)
}

type StagePatch struct {
	Name      *string `json:"name"`
	StartDate *Date   `json:"start_date"`
	EndDate   *Date   `json:"end_date"`
	Status    *Status `json:"status"`
	OwnerID   *int64  `json:"owner_id"`
}

// UpdateStage applies field changes and, when OwnerID names someone new, transfers ownership.
// Changing the owner needs the project manager; other fields also allow the stage owner.
func (s *Service) UpdateStage(ctx context.Context, actor, projectID, stageID int64, patch StagePatch) (Stage, error) {
	var st Stage
	err := s.store.InTx(ctx, func(r repo) error {
		p, err := r.projectByID(ctx, projectID, true)
		if err != nil {
			return err
		}
		st, err = projectStage(ctx, r, projectID, stageID, true)
		if err != nil {
			return err
		}
		if err := require(isManagerOrStageOwner(ctx, r, actor, st, projectID)); err != nil {
			return err
		}
		if p.Closed() {
			return invalid("project", "project is closed")
		}
		if st.Closed() {
			return invalid("stage", "stage is closed")
		}
		owner, err := stageOwner(ctx, r, st.ID)
		if err != nil {
			return err
		}
		transfer := patch.OwnerID != nil && *patch.OwnerID != owner.UserID
		if transfer {
			if err := require(isProjectManager(ctx, r, actor, projectID)); err != nil {
				return err
			}
		}

		if patch.Name != nil {
			st.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.StartDate != nil {
			st.StartDate = *patch.StartDate
		}
		if patch.EndDate != nil {
			st.EndDate = *patch.EndDate
		}
		if patch.Status != nil {
			switch *patch.Status {
			case StatusActive, StatusSlowed:
				st.Status = *patch.Status
			case StatusClosed:
				return invalid("status", "delete the stage to close it")
			default:
				return invalid("status", "status must be active or slowed")
			}
		}
		if err := validateStage(st); err != nil {
			return err
		}
		if err := r.updateStage(ctx, st); err != nil {
			return err
		}
		if transfer {
			return transferOwnership(ctx, r, st, owner.UserID, *patch.OwnerID)
		}
		return nil
	})
	if err != nil {
		return Stage{}, err
	}
	return st, nil
}

// transferOwnership demotes before it promotes so there is never a second owner row.
func transferOwnership(ctx context.Context, r repo, st Stage, from, to int64) error {
	member, err := isInProject(ctx, r, to, st.ProjectID)
	if err != nil {
		return err
	}
	if !member {
		return invalid("owner_id", "user is not in project")
	}
	if err := r.setStageRole(ctx, st.ID, from, StageRoleMember); err != nil {
		return err
	}
	if err := demoteIfNoStages(ctx, r, st.ProjectID, from); err != nil {
		return err
	}
	_, err = r.stageMember(ctx, st.ID, to)
	switch {
	case err == nil:
		err = r.setStageRole(ctx, st.ID, to, StageRoleOwner)
	case errors.Is(err, ErrNotFound):
		err = r.insertStageMember(ctx, UserStage{UserID: to, StageID: st.ID, Role: StageRoleOwner})
	}
	if err != nil {
		return err
	}
	return promoteToStageOwner(ctx, r, st.ProjectID, to)
}

// stageForMembers locks an open stage of an open project and gates on its manager or owner.
func stageForMembers(ctx context.Context, r repo, actor, projectID, stageID int64) (Project, Stage, error) {
	p, err := r.projectByID(ctx, projectID, true)
	if err != nil {
		return Project{}, Stage{}, err
	}
	st, err := projectStage(ctx, r, projectID, stageID, true)
	if err != nil {
		return Project{}, Stage{}, err
	}
	if err := require(isManagerOrStageOwner(ctx, r, actor, st, projectID)); err != nil {
		return Project{}, Stage{}, err
	}
	if p.Closed() {
		return Project{}, Stage{}, invalid("project", "project is closed")
	}
	if st.Closed() {
		return Project{}, Stage{}, invalid("stage", "stage is closed")
	}
	return p, st, nil
}

// AddMembersToStage adds project members to a stage. Users already on the stage keep their row.
// The returned rows cover every requested user.
func (s *Service) AddMembersToStage(ctx context.Context, actor, projectID, stageID int64, userIDs []int64) ([]UserStage, error) {
	ids := dedupe(userIDs)
	if len(ids) == 0 {
		return nil, invalid("user_ids", "at least one user id is required")
	}
	var rows []UserStage
	err := s.store.InTx(ctx, func(r repo) error {
		p, st, err := stageForMembers(ctx, r, actor, projectID, stageID)
		if err != nil {
			return err
		}
		var outside []int64
		for _, id := range ids {
			member, err := isInProject(ctx, r, id, projectID)
			if err != nil {
				return err
			}
			if !member {
				outside = append(outside, id)
			}
		}
		if len(outside) > 0 {
			return invalid("user_ids", fmt.Sprintf("users %v are not in project", outside))
		}
		users, err := r.usersByIDs(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			_, err := r.stageMember(ctx, st.ID, id)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			if err := r.insertStageMember(ctx, UserStage{UserID: id, StageID: st.ID, Role: StageRoleMember}); err != nil {
				return fmt.Errorf("add stage member %d: %w", id, err)
			}
			u := users[id]
			body := fmt.Sprintf("Hi %s,\n\nYou were added to the stage **%s** of project **%s**.\n", u.Username, st.Name, p.Name)
			if err := s.notify(ctx, u, "You were added to "+st.Name, body); err != nil {
				return err
			}
		}
		all, err := r.stageMembers(ctx, st.ID)
		if err != nil {
			return err
		}
		rows = make([]UserStage, 0, len(ids))
		for _, m := range all {
			if slices.Contains(ids, m.UserID) {
				rows = append(rows, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RemoveMemberFromStage deletes a stage membership and clears the user's remaining
// (finished) task assignments on the stage. The owner can only leave through a transfer.
func (s *Service) RemoveMemberFromStage(ctx context.Context, actor, projectID, stageID, userID int64) error {
	return s.store.InTx(ctx, func(r repo) error {
		_, st, err := stageForMembers(ctx, r, actor, projectID, stageID)
		if err != nil {
			return err
		}
		m, err := r.stageMember(ctx, st.ID, userID)
		if errors.Is(err, ErrNotFound) {
			return invalid("user_id", "user is not member of stage")
		}
		if err != nil {
			return err
		}
		if m.Role == StageRoleOwner {
			if actor == userID {
				return guard("you are stage owner, can not delete yourself", "", nil)
			}
			return guard("user is stage owner - transfer ownership first", "", nil)
		}
		scope := taskScope{StageID: st.ID, UserID: userID}
		open, err := r.openTaskIDs(ctx, scope)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return guard("user is working on task", "tasks", open)
		}
		if err := r.deleteStageMember(ctx, st.ID, userID); err != nil {
			return err
		}
		return r.unassignTasks(ctx, scope)
	})
}

// RemoveMemberFromProject removes a user from the project and every stage in it.
func (s *Service) RemoveMemberFromProject(ctx context.Context, actor, projectID, userID int64) error {
	return s.store.InTx(ctx, func(r repo) error {
		if _, err := managedProject(ctx, r, actor, projectID); err != nil {
			return err
		}
		m, err := r.projectMember(ctx, projectID, userID)
		if errors.Is(err, ErrNotFound) {
			return invalid("user_id", "user is not in project")
		}
		if err != nil {
			return err
		}
		if m.Role == RoleProjectManager {
			return guard("cannot delete PM", "", nil)
		}
		scope := taskScope{ProjectID: projectID, UserID: userID}
		open, err := r.openTaskIDs(ctx, scope)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return guard("cannot delete user - user has task in progress or new", "tasks", open)
		}
		owned, err := r.ownedStageIDs(ctx, projectID, userID)
		if err != nil {
			return err
		}
		if len(owned) > 0 {
			return guard("cannot delete user - stage owner of some stage", "stages", owned)
		}
		if err := r.deleteStageMembersInProject(ctx, projectID, userID); err != nil {
			return err
		}
		if err := r.unassignTasks(ctx, scope); err != nil {
			return err
		}
		return r.deleteProjectMember(ctx, projectID, userID)
	})
}
