package main

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestDeleteProjectWithActiveStage(t *testing.T) {
	f := setupService(t)
	a := f.user(t, "alice")
	p := f.project(t, a)
	s := f.stage(t, a, p, a)

	err := f.svc.DeleteProject(context.Background(), a, p)
	var ge *GuardError
	if !errors.As(err, &ge) || ge.Reason != "project already has stage" {
		t.Fatalf("err = %v, want stage guard", err)
	}
	if !slices.Equal(ge.IDs, []int64{s}) {
		t.Errorf("IDs = %v, want [%d]", ge.IDs, s)
	}
	f.store.read(func(d *memData) {
		if got := d.projects[p]; got.Status != StatusActive || got.DeletedAt != nil {
			t.Errorf("project changed: %+v", got.Lifecycle)
		}
	})
}

func TestDeleteProjectSoftDeletes(t *testing.T) {
	f := setupService(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	p := f.project(t, a, b)
	s := f.stage(t, a, p, a)
	ctx := context.Background()

	if err := f.svc.DeleteProject(ctx, b, p); !errors.Is(err, ErrForbidden) {
		t.Errorf("member deleting: err = %v, want ErrForbidden", err)
	}
	if err := f.svc.DeleteStage(ctx, a, p, s); err != nil {
		t.Fatalf("DeleteStage: %v", err)
	}
	if err := f.svc.DeleteProject(ctx, a, p); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	f.store.read(func(d *memData) {
		got := d.projects[p]
		if got.Status != StatusClosed || got.DeletedAt == nil || !got.DeletedAt.Equal(f.store.now) {
			t.Errorf("lifecycle = %+v, want closed at now", got.Lifecycle)
		}
		if len(d.userProjects) != 2 {
			t.Errorf("membership rows = %d, want kept", len(d.userProjects))
		}
	})
	if err := f.svc.DeleteProject(ctx, a, p); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
	name := "again"
	var ve *ValidationError
	if _, err := f.svc.UpdateProject(ctx, a, p, ProjectPatch{Name: &name}); !errors.As(err, &ve) {
		t.Errorf("update closed project: err = %v, want validation", err)
	}
}

func TestDeleteProjectIgnoresSlowedStages(t *testing.T) {
	f := setupService(t)
	a := f.user(t, "alice")
	p := f.project(t, a)
	s := f.stage(t, a, p, a)
	slowed := StatusSlowed
	if _, err := f.svc.UpdateStage(context.Background(), a, p, s, StagePatch{Status: &slowed}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteProject(context.Background(), a, p); err != nil {
		t.Fatalf("DeleteProject with only a slowed stage: %v", err)
	}
}

func TestDeleteStage(t *testing.T) {
	tests := []struct {
		status  TaskStatus
		blocked bool
	}{
		{TaskNew, true},
		{TaskInProgress, true},
		{TaskResolved, false},
		{TaskRejected, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := setupService(t)
			a, b := f.user(t, "alice"), f.user(t, "bob")
			p := f.project(t, a, b)
			s := f.stage(t, a, p, b)
			tk := f.task(t, a, p, s, b, tt.status)

			err := f.svc.DeleteStage(context.Background(), a, p, s)
			var st Stage
			f.store.read(func(d *memData) { st = d.stages[s] })
			if tt.blocked {
				var ge *GuardError
				if !errors.As(err, &ge) || ge.Reason != "stage already has task in progress or new" {
					t.Fatalf("err = %v, want task guard", err)
				}
				if !slices.Equal(ge.IDs, []int64{tk}) {
					t.Errorf("IDs = %v", ge.IDs)
				}
				if st.Status != StatusActive || st.DeletedAt != nil {
					t.Errorf("stage changed: %+v", st.Lifecycle)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeleteStage: %v", err)
			}
			if st.Status != StatusClosed || st.DeletedAt == nil || !st.DeletedAt.Equal(f.store.now) {
				t.Errorf("lifecycle = %+v, want closed at now", st.Lifecycle)
			}
			if got := f.stageRole(t, s, b); got != StageRoleOwner {
				t.Errorf("owner row = %q, want kept", got)
			}
			if got := f.projectRole(t, p, b); got != RoleMember {
				t.Errorf("bob project role = %q, want member after last stage closed", got)
			}
		})
	}
}

func TestDeleteStageRequiresManager(t *testing.T) {
	f := setupService(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	p := f.project(t, a, b)
	s := f.stage(t, a, p, b)
	ctx := context.Background()

	if err := f.svc.DeleteStage(ctx, b, p, s); !errors.Is(err, ErrForbidden) {
		t.Errorf("stage owner deleting: err = %v, want ErrForbidden", err)
	}
	if err := f.svc.DeleteStage(ctx, a, p, s); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteStage(ctx, a, p, s); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
	var ve *ValidationError
	if _, err := f.svc.AddMembersToStage(ctx, a, p, s, []int64{a}); !errors.As(err, &ve) {
		t.Errorf("adding to closed stage: err = %v, want validation", err)
	}
}

func TestDeleteStageFromOtherProject(t *testing.T) {
	f := setupService(t)
	a := f.user(t, "alice")
	p1 := f.project(t, a)
	p2 := f.project(t, a)
	s := f.stage(t, a, p1, a)

	if err := f.svc.DeleteStage(context.Background(), a, p2, s); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteTask(t *testing.T) {
	f := setupService(t)
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	p := f.project(t, a, b, c)
	s := f.stage(t, a, p, b)
	ctx := context.Background()
	if _, err := f.svc.AddMembersToStage(ctx, a, p, s, []int64{c}); err != nil {
		t.Fatal(err)
	}
	tk := f.task(t, a, p, s, c, TaskInProgress)

	if _, err := f.svc.DeleteTask(ctx, c, tk); !errors.Is(err, ErrForbidden) {
		t.Errorf("stage member deleting: err = %v, want ErrForbidden", err)
	}
	deleted, err := f.svc.DeleteTask(ctx, b, tk)
	if err != nil {
		t.Fatalf("owner deleting an in-progress task: %v", err)
	}
	if deleted.ProjectID != p {
		t.Errorf("ProjectID = %d, want %d", deleted.ProjectID, p)
	}
	if _, err := f.svc.DeleteTask(ctx, b, tk); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	f := setupService(t)
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	p := f.project(t, a, b, c)
	s := f.stage(t, a, p, b)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    TaskInput
		field string
	}{
		{"empty content", TaskInput{StartDate: NewDate(2025, 4, 1), EndDate: NewDate(2025, 4, 2)}, "content"},
		{"before stage", TaskInput{Content: "x", StartDate: NewDate(2025, 3, 1), EndDate: NewDate(2025, 4, 2)}, "start_date"},
		{"after stage", TaskInput{Content: "x", StartDate: NewDate(2025, 4, 1), EndDate: NewDate(2025, 7, 2)}, "start_date"},
		{"start after end", TaskInput{Content: "x", StartDate: NewDate(2025, 4, 3), EndDate: NewDate(2025, 4, 2)}, "start_date"},
		{"unknown status", TaskInput{Content: "x", StartDate: NewDate(2025, 4, 1), EndDate: NewDate(2025, 4, 2), Status: "done"}, "status"},
		{"assignee off stage", TaskInput{Content: "x", StartDate: NewDate(2025, 4, 1), EndDate: NewDate(2025, 4, 2), AssigneeID: &c}, "assignee_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTask(ctx, a, p, s, tt.in)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("err = %v, want validation on %s", err, tt.field)
			}
		})
	}
	if _, err := f.svc.CreateTask(ctx, c, p, s, TaskInput{Content: "x", StartDate: NewDate(2025, 4, 1), EndDate: NewDate(2025, 4, 2)}); !errors.Is(err, ErrForbidden) {
		t.Errorf("non stage member: err = %v, want ErrForbidden", err)
	}
}

func TestCreateAndUpdateTask(t *testing.T) {
	f := setupService(t)
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	p := f.project(t, a, b, c)
	s := f.stage(t, a, p, b)
	ctx := context.Background()
	if _, err := f.svc.AddMembersToStage(ctx, b, p, s, []int64{c}); err != nil {
		t.Fatal(err)
	}

	tk, err := f.svc.CreateTask(ctx, c, p, s, TaskInput{Content: " draft copy ", StartDate: NewDate(2025, 4, 1), EndDate: NewDate(2025, 4, 2)})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if tk.Status != TaskNew || tk.Content != "draft copy" || tk.ProjectID != p {
		t.Errorf("task = %+v", tk)
	}

	status := TaskInProgress
	tk, err = f.svc.UpdateTask(ctx, c, tk.ID, TaskPatch{Status: &status, AssigneeID: &c})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if tk.Status != TaskInProgress || tk.AssigneeID == nil || *tk.AssigneeID != c {
		t.Errorf("task = %+v", tk)
	}
	tk, err = f.svc.UpdateTask(ctx, a, tk.ID, TaskPatch{Unassign: true})
	if err != nil {
		t.Fatalf("UpdateTask unassign: %v", err)
	}
	if tk.AssigneeID != nil {
		t.Errorf("assignee = %d, want none", *tk.AssigneeID)
	}
	end := NewDate(2025, 8, 1)
	var ve *ValidationError
	if _, err := f.svc.UpdateTask(ctx, a, tk.ID, TaskPatch{EndDate: &end}); !errors.As(err, &ve) {
		t.Errorf("end past stage: err = %v, want validation", err)
	}
}

func TestUpdateProject(t *testing.T) {
	f := setupService(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	p := f.project(t, a, b)
	ctx := context.Background()

	name, desc := "Gemini", "second try"
	got, err := f.svc.UpdateProject(ctx, a, p, ProjectPatch{Name: &name, Description: &desc})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if got.Name != name || got.Description != desc || got.EndDate != NewDate(2025, 12, 31) {
		t.Errorf("project = %+v", got)
	}
	if _, err := f.svc.UpdateProject(ctx, b, p, ProjectPatch{Name: &name}); !errors.Is(err, ErrForbidden) {
		t.Errorf("member updating: err = %v, want ErrForbidden", err)
	}
	past := NewDate(2025, 1, 1)
	var ve *ValidationError
	if _, err := f.svc.UpdateProject(ctx, a, p, ProjectPatch{EndDate: &past}); !errors.As(err, &ve) {
		t.Errorf("past end date: err = %v, want validation", err)
	}
	if _, err := f.svc.UpdateProject(ctx, a, 404, ProjectPatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown project: err = %v, want ErrNotFound", err)
	}
}

func TestClosedStageRejectsChanges(t *testing.T) {
	for _, orphaned := range []bool{false, true} {
		name := "owner kept"
		if orphaned {
			name = "owner account gone"
		}
		t.Run(name, func(t *testing.T) {
			f := setupService(t)
			a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
			p := f.project(t, a, b, c)
			s := f.stage(t, a, p, b)
			ctx := context.Background()
			if _, err := f.svc.AddMembersToStage(ctx, a, p, s, []int64{c}); err != nil {
				t.Fatal(err)
			}
			tk := f.task(t, a, p, s, c, TaskResolved)
			if err := f.svc.DeleteStage(ctx, a, p, s); err != nil {
				t.Fatal(err)
			}
			if orphaned {
				f.store.read(func(d *memData) { delete(d.userStages, pair{s, b}) })
			}

			rename := "later"
			ops := []struct {
				name string
				run  func() error
			}{
				{"manager UpdateStage", func() error {
					_, err := f.svc.UpdateStage(ctx, a, p, s, StagePatch{Name: &rename})
					return err
				}},
				{"manager RemoveMemberFromStage", func() error { return f.svc.RemoveMemberFromStage(ctx, a, p, s, c) }},
				{"manager DeleteTask", func() error {
					_, err := f.svc.DeleteTask(ctx, a, tk)
					return err
				}},
			}
			for _, op := range ops {
				err := op.run()
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Field != "stage" {
					t.Errorf("%s: err = %v, want stage is closed", op.name, err)
				}
			}
			// a plain member is still turned away before anything else
			if err := f.svc.RemoveMemberFromStage(ctx, c, p, s, c); !errors.Is(err, ErrForbidden) {
				t.Errorf("member RemoveMemberFromStage: err = %v, want ErrForbidden", err)
			}
			if _, err := f.svc.DeleteTask(ctx, c, tk); !errors.Is(err, ErrForbidden) {
				t.Errorf("member DeleteTask: err = %v, want ErrForbidden", err)
			}
			f.store.read(func(d *memData) {
				if _, ok := d.tasks[tk]; !ok {
					t.Errorf("task removed from a closed stage")
				}
				if _, ok := d.userStages[pair{s, c}]; !ok {
					t.Errorf("carol removed from a closed stage")
				}
			})
		})
	}
}

func TestDeleteTaskInClosedProject(t *testing.T) {
	f := setupService(t)
	a := f.user(t, "alice")
	p := f.project(t, a)
	s := f.stage(t, a, p, a)
	tk := f.task(t, a, p, s, 0, TaskNew)
	// closed around the engine: an open stage left under a closed project
	f.store.read(func(d *memData) {
		pr := d.projects[p]
		pr.Close(f.store.now)
		d.projects[p] = pr
	})
	var ve *ValidationError
	if _, err := f.svc.DeleteTask(context.Background(), a, tk); !errors.As(err, &ve) || ve.Field != "project" {
		t.Errorf("err = %v, want project is closed", err)
	}
}

func TestUpdateProjectAfterEndDate(t *testing.T) {
	f := setupService(t)
	a := f.user(t, "alice")
	p := f.project(t, a)
	ctx := context.Background()
	f.store.now = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	name := "Apollo archive"
	got, err := f.svc.UpdateProject(ctx, a, p, ProjectPatch{Name: &name})
	if err != nil {
		t.Fatalf("rename after end date: %v", err)
	}
	if got.Name != name || got.EndDate != NewDate(2025, 12, 31) {
		t.Errorf("project = %+v", got)
	}
	stillPast := NewDate(2026, 1, 15)
	var ve *ValidationError
	if _, err := f.svc.UpdateProject(ctx, a, p, ProjectPatch{EndDate: &stillPast}); !errors.As(err, &ve) || ve.Field != "end_date" {
		t.Errorf("new end date in past: err = %v, want validation on end_date", err)
	}
	later := NewDate(2026, 6, 30)
	if _, err := f.svc.UpdateProject(ctx, a, p, ProjectPatch{EndDate: &later}); err != nil {
		t.Errorf("extend: %v", err)
	}
}
