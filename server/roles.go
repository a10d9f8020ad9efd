package main

import (
	"context"
	"errors"
	"fmt"
)

// Role predicates. Read-only; callers pass the repo of their current transaction.

func isInProject(ctx context.Context, r repo, userID, projectID int64) (bool, error) {
	_, err := r.projectMember(ctx, projectID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// isProjectManager is false, not an error, for users outside the project.
func isProjectManager(ctx context.Context, r repo, userID, projectID int64) (bool, error) {
	m, err := r.projectMember(ctx, projectID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Role == RoleProjectManager, nil
}

// stageOwner returns the single owner row of a stage. Zero or several owner rows is ErrInvariant.
func stageOwner(ctx context.Context, r repo, stageID int64) (UserStage, error) {
	owners, err := r.stageOwners(ctx, stageID)
	if err != nil {
		return UserStage{}, err
	}
	if len(owners) != 1 {
		return UserStage{}, fmt.Errorf("stage %d has %d owner rows: %w", stageID, len(owners), ErrInvariant)
	}
	return owners[0], nil
}

// ownerOf is stageOwner for open stages. A closed stage may have lost its owner row
// when the owner's account was deleted, which reports ok=false rather than ErrInvariant.
func ownerOf(ctx context.Context, r repo, st Stage) (owner UserStage, ok bool, err error) {
	if !st.Closed() {
		owner, err = stageOwner(ctx, r, st.ID)
		return owner, err == nil, err
	}
	owners, err := r.stageOwners(ctx, st.ID)
	if err != nil || len(owners) == 0 {
		return UserStage{}, false, err
	}
	return owners[0], true, nil
}

func isStageOwner(ctx context.Context, r repo, userID int64, st Stage) (bool, error) {
	owner, ok, err := ownerOf(ctx, r, st)
	if err != nil || !ok {
		return false, err
	}
	return owner.UserID == userID, nil
}

func isStageMemberOrManager(ctx context.Context, r repo, userID int64, stage Stage) (bool, error) {
	_, err := r.stageMember(ctx, stage.ID, userID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return isProjectManager(ctx, r, userID, stage.ProjectID)
}

func isManagerOrStageOwner(ctx context.Context, r repo, userID int64, stage Stage, projectID int64) (bool, error) {
	pm, err := isProjectManager(ctx, r, userID, projectID)
	if err != nil || pm {
		return pm, err
	}
	return isStageOwner(ctx, r, userID, stage)
}

// require turns a predicate result into ErrForbidden.
func require(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
