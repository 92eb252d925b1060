package cli

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maxclaw/internal/daemon"
	"github.com/maxclaw/internal/discovery"
	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

// execute runs the CLI against a dedicated data dir and captures stdout.
// Flag vars are reset first; parsed flags stick between invocations
// otherwise.
func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	rootCmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	runErr := rootCmd.Execute()

	w.Close()
	os.Stdout = old
	out, _ := io.ReadAll(r)
	r.Close()
	return string(out), runErr
}

func resetFlags() {
	dataDirFlag = ""
	discoverDepth = discovery.DefaultMaxDepth
	addName = ""
	historyLimit = 20
	activityLimit = 20
	configAddPath = ""
	configRemovePath = ""
	startPrompt = ""
	startTools = ""
}

// projectDir creates a directory carrying a Go marker file.
func projectDir(t *testing.T, parent, name string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module "+name+"\n"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	return dir
}

func openTestStore(t *testing.T, dataDir string) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(dataDir, daemon.DBFile), quietLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return st
}

func TestAddAndList(t *testing.T) {
	dataDir := t.TempDir()
	dir := projectDir(t, t.TempDir(), "alpha")

	out, err := execute(t, dataDir, "add", dir, "--name", "alpha")
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	if !strings.Contains(out, "added alpha") {
		t.Errorf("add output = %q, want it to mention the project", out)
	}

	out, err = execute(t, dataDir, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "alpha") {
		t.Errorf("list output = %q, want header and project row", out)
	}
	if !strings.Contains(out, "Go") {
		t.Errorf("list output = %q, want detected tech stack", out)
	}
}

func TestAddMissingPathFails(t *testing.T) {
	dataDir := t.TempDir()
	_, err := execute(t, dataDir, "add", filepath.Join(dataDir, "nope"))
	if err == nil {
		t.Fatal("add of a missing path succeeded, want error")
	}
	if !types.IsNotFound(err) {
		t.Errorf("add error = %v, want not_found", err)
	}
}

func TestListEmpty(t *testing.T) {
	out, err := execute(t, t.TempDir(), "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, "no projects registered") {
		t.Errorf("list output = %q, want empty-state hint", out)
	}
}

func TestDiscoverFindsAndSkipsKnown(t *testing.T) {
	dataDir := t.TempDir()
	base := t.TempDir()
	projectDir(t, base, "one")
	projectDir(t, base, "two")
	if err := os.MkdirAll(filepath.Join(base, "plain"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	out, err := execute(t, dataDir, "discover", base)
	if err != nil {
		t.Fatalf("discover error = %v", err)
	}
	if !strings.Contains(out, "discovered 2 new project(s)") {
		t.Errorf("discover output = %q, want 2 new projects", out)
	}

	out, err = execute(t, dataDir, "discover", base)
	if err != nil {
		t.Fatalf("second discover error = %v", err)
	}
	if !strings.Contains(out, "discovered 0 new project(s), 2 known") {
		t.Errorf("second discover output = %q, want 0 new and 2 known", out)
	}
}

func TestDiscoverUsesConfiguredScanPaths(t *testing.T) {
	// Point HOME at an empty dir so the default scan paths resolve to
	// nothing on the test machine.
	t.Setenv("HOME", t.TempDir())
	dataDir := t.TempDir()
	base := t.TempDir()
	projectDir(t, base, "scanned")

	if _, err := execute(t, dataDir, "config", "--add-path", base); err != nil {
		t.Fatalf("config --add-path error = %v", err)
	}

	out, err := execute(t, dataDir, "discover")
	if err != nil {
		t.Fatalf("discover error = %v", err)
	}
	if !strings.Contains(out, "discovered 1 new project(s)") {
		t.Errorf("discover output = %q, want the configured path scanned", out)
	}
}

func TestRemoveProject(t *testing.T) {
	dataDir := t.TempDir()
	dir := projectDir(t, t.TempDir(), "gone")
	if _, err := execute(t, dataDir, "add", dir, "--name", "gone"); err != nil {
		t.Fatalf("add error = %v", err)
	}

	out, err := execute(t, dataDir, "remove", "gone")
	if err != nil {
		t.Fatalf("remove error = %v", err)
	}
	if !strings.Contains(out, "removed gone") {
		t.Errorf("remove output = %q", out)
	}

	out, err = execute(t, dataDir, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, "no projects registered") {
		t.Errorf("list after remove = %q, want empty state", out)
	}
}

func TestRemoveUnknownProject(t *testing.T) {
	_, err := execute(t, t.TempDir(), "remove", "ghost")
	if err == nil {
		t.Fatal("remove of unknown project succeeded, want error")
	}
	if !types.IsNotFound(err) {
		t.Errorf("remove error = %v, want not_found", err)
	}
}

func TestHistoryShowsSessions(t *testing.T) {
	dataDir := t.TempDir()
	st := openTestStore(t, dataDir)
	project := &types.Project{Name: "webapp", AbsolutePath: "/srv/webapp"}
	if err := st.CreateProject(project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	sess := &types.Session{ProjectID: project.ID}
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := st.EndSession(sess.ID, types.SessionCompleted, time.Now()); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	st.Close()

	out, err := execute(t, dataDir, "history", "webapp")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, "SESSION") || !strings.Contains(out, shortID(sess.ID)) {
		t.Errorf("history output = %q, want header and session row", out)
	}
	if !strings.Contains(out, string(types.SessionCompleted)) {
		t.Errorf("history output = %q, want completed status", out)
	}
}

func TestHistoryEmptyProject(t *testing.T) {
	dataDir := t.TempDir()
	dir := projectDir(t, t.TempDir(), "idle")
	if _, err := execute(t, dataDir, "add", dir, "--name", "idle"); err != nil {
		t.Fatalf("add error = %v", err)
	}

	out, err := execute(t, dataDir, "history", "idle")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, "no sessions recorded for idle") {
		t.Errorf("history output = %q, want empty-state line", out)
	}
}

func TestActivityListsProjectEvents(t *testing.T) {
	dataDir := t.TempDir()
	dir := projectDir(t, t.TempDir(), "busy")
	if _, err := execute(t, dataDir, "add", dir, "--name", "busy"); err != nil {
		t.Fatalf("add error = %v", err)
	}

	out, err := execute(t, dataDir, "activity", "busy")
	if err != nil {
		t.Fatalf("activity error = %v", err)
	}
	if !strings.Contains(out, "busy") || !strings.Contains(out, string(types.ActivityAdd)) {
		t.Errorf("activity output = %q, want add event for busy", out)
	}

	// Unscoped activity covers every project.
	out, err = execute(t, dataDir, "activity")
	if err != nil {
		t.Fatalf("unscoped activity error = %v", err)
	}
	if !strings.Contains(out, "busy") {
		t.Errorf("unscoped activity output = %q, want busy event", out)
	}
}

func TestConfigScanPathRoundTrip(t *testing.T) {
	dataDir := t.TempDir()

	out, err := execute(t, dataDir, "config", "--add-path", "/srv/projects")
	if err != nil {
		t.Fatalf("config --add-path error = %v", err)
	}
	if !strings.Contains(out, "added scan path /srv/projects") {
		t.Errorf("add-path output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dataDir, daemon.ConfigFile)); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	out, err = execute(t, dataDir, "config")
	if err != nil {
		t.Fatalf("config error = %v", err)
	}
	if !strings.Contains(out, "/srv/projects") {
		t.Errorf("config output = %q, want the new scan path", out)
	}

	out, err = execute(t, dataDir, "config", "--add-path", "/srv/projects")
	if err != nil {
		t.Fatalf("duplicate add-path error = %v", err)
	}
	if !strings.Contains(out, "already configured") {
		t.Errorf("duplicate add-path output = %q", out)
	}

	out, err = execute(t, dataDir, "config", "--remove-path", "/srv/projects")
	if err != nil {
		t.Fatalf("config --remove-path error = %v", err)
	}
	if !strings.Contains(out, "removed scan path /srv/projects") {
		t.Errorf("remove-path output = %q", out)
	}
}

func TestStatusDaemonDown(t *testing.T) {
	out, err := execute(t, t.TempDir(), "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, "daemon: not running") {
		t.Errorf("status output = %q, want not-running line", out)
	}
}

func TestDaemonStopWhenDown(t *testing.T) {
	out, err := execute(t, t.TempDir(), "daemon", "stop")
	if err != nil {
		t.Fatalf("daemon stop error = %v", err)
	}
	if !strings.Contains(out, "daemon: not running") {
		t.Errorf("daemon stop output = %q, want not-running line", out)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" Read, Write ,,Bash ")
	want := []string{"Read", "Write", "Bash"}
	if len(got) != len(want) {
		t.Fatalf("splitList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if splitList("") != nil {
		t.Error("splitList(\"\") != nil")
	}
}
