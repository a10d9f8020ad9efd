package main

import (
	"net/http"
	"time"
)

func (a *api) routes(mux *http.ServeMux) {
	// Auth endpoints
	mux.HandleFunc("POST /api/auth/signup", a.withRateLimit("auth", 20, time.Minute, a.handleSignup))
	mux.HandleFunc("GET /api/auth/verify/{uid}/{token}", a.withRateLimit("auth_verify", 20, time.Minute, a.handleVerify))
	mux.HandleFunc("POST /api/auth/login", a.withRateLimit("auth", 30, time.Minute, a.handleLogin))
	mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
	mux.HandleFunc("GET /api/auth/me", a.handleMe)

	mux.HandleFunc("GET /api/health", a.handleHealth)

	// Projects
	mux.HandleFunc("GET /api/projects", a.requireAuth(a.handleListProjects))
	mux.HandleFunc("POST /api/projects", a.requireAuth(a.handleCreateProject))
	mux.HandleFunc("GET /api/projects/{id}", a.requireAuth(a.handleGetProject))
	mux.HandleFunc("PATCH /api/projects/{id}", a.requireAuth(a.handleUpdateProject))
	mux.HandleFunc("DELETE /api/projects/{id}", a.requireAuth(a.handleDeleteProject))
	mux.HandleFunc("GET /api/projects/{id}/events", a.requireAuth(a.handleProjectEvents))
	mux.HandleFunc("POST /api/projects/{id}/members", a.requireAuth(a.handleAddProjectMembers))
	mux.HandleFunc("DELETE /api/projects/{id}/members/{uid}", a.requireAuth(a.handleRemoveProjectMember))

	// Stages
	mux.HandleFunc("GET /api/projects/{id}/stages", a.requireAuth(a.handleListStages))
	mux.HandleFunc("POST /api/projects/{id}/stages", a.requireAuth(a.handleCreateStage))
	mux.HandleFunc("GET /api/projects/{id}/stages/{sid}", a.requireAuth(a.handleGetStage))
	mux.HandleFunc("PUT /api/projects/{id}/stages/{sid}", a.requireAuth(a.handleUpdateStage))
	mux.HandleFunc("DELETE /api/projects/{id}/stages/{sid}", a.requireAuth(a.handleDeleteStage))
	mux.HandleFunc("POST /api/projects/{id}/stages/{sid}/members", a.requireAuth(a.handleAddStageMembers))
	mux.HandleFunc("DELETE /api/projects/{id}/stages/{sid}/members/{uid}", a.requireAuth(a.handleRemoveStageMember))

	// Tasks
	mux.HandleFunc("GET /api/projects/{id}/stages/{sid}/tasks", a.requireAuth(a.handleListTasks))
	mux.HandleFunc("POST /api/projects/{id}/stages/{sid}/tasks", a.requireAuth(a.handleCreateTask))
	mux.HandleFunc("PATCH /api/tasks/{tid}", a.requireAuth(a.handleUpdateTask))
	mux.HandleFunc("DELETE /api/tasks/{tid}", a.requireAuth(a.handleDeleteTask))

	// Reports
	mux.HandleFunc("GET /api/projects/{id}/reports", a.requireAuth(a.handleListReports))
	mux.HandleFunc("POST /api/projects/{id}/reports", a.requireAuth(a.handleSubmitReport))
}
