package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/maxclaw/internal/cron"
	"github.com/maxclaw/internal/metrics"
	"github.com/maxclaw/internal/search"
	"github.com/maxclaw/internal/types"
)

var upgrader = websocket.Upgrader{
	// Loopback-only server; the dashboard may be served from any local
	// origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, broadcastBuffer)}
	s.hub.Register(client)
	go client.readPump()
	go client.writePump()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status != nil {
		s.respondJSON(w, s.status())
		return
	}
	s.respondJSON(w, s.metrics.TakeSnapshot())
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects()
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ResolveProject(mux.Vars(r)["id"])
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, project)
}

func (s *Server) handleProjectSessions(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ResolveProject(mux.Vars(r)["id"])
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	sessions, err := s.store.ListSessions(project.ID, "")
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, sessions)
}

func (s *Server) handleProjectActivities(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ResolveProject(mux.Vars(r)["id"])
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	activities, err := s.store.ListActivities(project.ID, queryInt(r, "limit", 50))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, activities)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.sessions.List())
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	projectID := ""
	if ref := r.URL.Query().Get("project"); ref != "" {
		project, err := s.store.ResolveProject(ref)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		projectID = project.ID
	}
	schedules, err := s.store.ListSchedules(projectID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, schedules)
}

// scheduleRequest is the POST /api/schedules body.
type scheduleRequest struct {
	Project        string   `json:"project"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	CronExpression string   `json:"cronExpression"`
	TaskKind       string   `json:"taskKind"`
	Command        string   `json:"command,omitempty"`
	SkillName      string   `json:"skillName,omitempty"`
	SkillCommand   string   `json:"skillCommand,omitempty"`
	SkillArgs      []string `json:"skillArgs,omitempty"`
	Message        string   `json:"message,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	project, err := s.store.ResolveProject(req.Project)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if !cron.Validate(req.CronExpression) {
		s.respondError(w, http.StatusBadRequest, "invalid cron expression")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sched := &types.Schedule{
		ProjectID:      project.ID,
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		TaskKind:       types.TaskKind(req.TaskKind),
		Command:        req.Command,
		SkillName:      req.SkillName,
		SkillCommand:   req.SkillCommand,
		SkillArgs:      req.SkillArgs,
		Message:        req.Message,
		Enabled:        enabled,
	}
	if enabled {
		next, err := cron.NextRun(sched.CronExpression, time.Now())
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid cron expression")
			return
		}
		sched.NextRunAt = &next
	}
	if err := s.store.CreateSchedule(sched); err != nil {
		s.respondDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSchedule(mux.Vars(r)["id"]); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleScheduleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListScheduleLogs(mux.Vars(r)["id"], queryInt(r, "limit", 50))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, logs)
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	projectID := ""
	if ref := r.URL.Query().Get("project"); ref != "" {
		project, err := s.store.ResolveProject(ref)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		projectID = project.ID
	}
	teams, err := s.teams.Teams(projectID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, teams)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]interface{}{
		"items":   s.sessions.QueueItems(),
		"history": s.sessions.QueueHistory(),
	})
}

// searchRequest is the POST /api/search body. Kind selects the engine
// operation; code is the default.
type searchRequest struct {
	Query   string         `json:"query"`
	Kind    string         `json:"kind,omitempty"`
	Options search.Options `json:"options"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.metrics != nil {
		s.metrics.Inc(metrics.CounterSearchQueries)
	}

	var (
		results *search.Results
		err     error
	)
	switch req.Kind {
	case "", "code":
		results, err = s.search.SearchCode(r.Context(), req.Query, req.Options)
	case "files":
		results, err = s.search.SearchFiles(r.Context(), req.Query, req.Options)
	case "symbols":
		results, err = s.search.SearchSymbols(r.Context(), req.Query, req.Options)
	default:
		s.respondError(w, http.StatusBadRequest, "unknown search kind "+req.Kind)
		return
	}
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, results)
}

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondDomainError maps error kinds onto HTTP status codes.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.KindOf(err) {
	case types.KindValidation:
		status = http.StatusBadRequest
	case types.KindNotFound:
		status = http.StatusNotFound
	case types.KindConflict:
		status = http.StatusConflict
	}
	s.respondError(w, status, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
