package store

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxclaw/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "maxclaw.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store, name, path string) *types.Project {
	t.Helper()
	p := &types.Project{Name: name, AbsolutePath: path, TechStack: []string{"Go"}}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("CreateProject(%s) error = %v", name, err)
	}
	return p
}

func TestOpenAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "maxclaw.db")

	s, err := Open(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	seedProject(t, s, "api", "/home/dev/api")
	s.Close()

	// Reopening must run the migration path without damage.
	s2, err := Open(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()

	n, err := s2.CountProjects()
	if err != nil {
		t.Fatalf("CountProjects() error = %v", err)
	}
	if n != 1 {
		t.Errorf("projects after reopen = %d, want 1", n)
	}
}

func TestCreateAndGetProject(t *testing.T) {
	s := newTestStore(t)

	p := &types.Project{
		Name:                 "webapp",
		AbsolutePath:         "/home/dev/webapp",
		Description:          "storefront",
		TechStack:            []string{"TypeScript", "React"},
		NotificationWebhook:  "https://hooks.example.com/x",
		NotificationPlatform: "slack",
		NotificationMinLevel: "warning",
	}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if p.ID == "" {
		t.Fatal("CreateProject() did not assign an id")
	}

	got, err := s.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Name != "webapp" || got.AbsolutePath != "/home/dev/webapp" {
		t.Errorf("got %q at %q, want webapp at /home/dev/webapp", got.Name, got.AbsolutePath)
	}
	if len(got.TechStack) != 2 || got.TechStack[0] != "TypeScript" {
		t.Errorf("TechStack = %v, want [TypeScript React]", got.TechStack)
	}
	if got.NotificationWebhook != p.NotificationWebhook {
		t.Errorf("NotificationWebhook = %q, want %q", got.NotificationWebhook, p.NotificationWebhook)
	}
	if got.NotificationMinLevel != "warning" {
		t.Errorf("NotificationMinLevel = %q, want warning", got.NotificationMinLevel)
	}
	if !got.DiscoveredAt.Equal(p.DiscoveredAt) {
		t.Errorf("DiscoveredAt = %v, want %v", got.DiscoveredAt, p.DiscoveredAt)
	}
}

func TestCreateProjectDuplicatePath(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "api", "/home/dev/api")

	err := s.CreateProject(&types.Project{Name: "api-copy", AbsolutePath: "/home/dev/api"})
	if err == nil {
		t.Fatal("expected conflict for duplicate path")
	}
	if !types.IsConflict(err) {
		t.Errorf("error kind = %v, want conflict", types.KindOf(err))
	}
}

func TestGetProjectNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject("missing")
	if !types.IsNotFound(err) {
		t.Errorf("error = %v, want not-found", err)
	}
}

func TestResolveProject(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "api", "/home/dev/api")

	byID, err := s.ResolveProject(p.ID)
	if err != nil {
		t.Fatalf("ResolveProject(id) error = %v", err)
	}
	if byID.ID != p.ID {
		t.Errorf("by id got %s, want %s", byID.ID, p.ID)
	}

	byName, err := s.ResolveProject("api")
	if err != nil {
		t.Fatalf("ResolveProject(name) error = %v", err)
	}
	if byName.ID != p.ID {
		t.Errorf("by name got %s, want %s", byName.ID, p.ID)
	}

	if _, err := s.ResolveProject("nope"); !types.IsNotFound(err) {
		t.Errorf("unknown ref error = %v, want not-found", err)
	}
}

func TestListProjectsOrderedByName(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "zeta", "/p/zeta")
	seedProject(t, s, "alpha", "/p/alpha")
	seedProject(t, s, "mid", "/p/mid")

	list, err := s.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, p := range list {
		if p.Name != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, p.Name, want[i])
		}
	}
}

func TestUpdateProject(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "api", "/home/dev/api")

	p.Description = "billing service"
	p.TechStack = []string{"Go", "PostgreSQL"}
	p.NotificationWebhook = "https://hooks.example.com/y"
	if err := s.UpdateProject(p); err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}

	got, err := s.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Description != "billing service" {
		t.Errorf("Description = %q", got.Description)
	}
	if len(got.TechStack) != 2 || got.TechStack[1] != "PostgreSQL" {
		t.Errorf("TechStack = %v", got.TechStack)
	}

	missing := &types.Project{ID: "missing", Name: "x", AbsolutePath: "/x"}
	if err := s.UpdateProject(missing); !types.IsNotFound(err) {
		t.Errorf("update missing error = %v, want not-found", err)
	}
}

func TestTouchProject(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "api", "/home/dev/api")

	if err := s.TouchProject(p.ID); err != nil {
		t.Fatalf("TouchProject() error = %v", err)
	}
	got, _ := s.GetProject(p.ID)
	if got.LastAccessedAt == nil {
		t.Fatal("LastAccessedAt not set")
	}
	if time.Since(*got.LastAccessedAt) > time.Minute {
		t.Errorf("LastAccessedAt = %v, want recent", got.LastAccessedAt)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "api", "/home/dev/api")

	sess := &types.Session{ProjectID: p.ID}
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	sched := &types.Schedule{
		ProjectID:      p.ID,
		Name:           "nightly",
		CronExpression: "0 2 * * *",
		TaskKind:       types.TaskBackup,
		Enabled:        true,
	}
	if err := s.CreateSchedule(sched); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	if err := s.DeleteProject(p.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if _, err := s.GetSession(sess.ID); !types.IsNotFound(err) {
		t.Errorf("session survived project delete: %v", err)
	}
	if _, err := s.GetSchedule(sched.ID); !types.IsNotFound(err) {
		t.Errorf("schedule survived project delete: %v", err)
	}
	if err := s.DeleteProject(p.ID); !types.IsNotFound(err) {
		t.Errorf("second delete error = %v, want not-found", err)
	}
}
