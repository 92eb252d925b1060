package search

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "maxclaw.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

// newWalkerEngine forces the fallback scanner so tests do not depend on a
// ripgrep binary being installed.
func newWalkerEngine(t *testing.T, s *store.Store) *Engine {
	t.Helper()
	e := NewEngine(s, 0, discard())
	e.rgPath = ""
	return e
}

func seedProjectDir(t *testing.T, s *store.Store, name string, files map[string]string) *types.Project {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	p := &types.Project{Name: name, AbsolutePath: root, TechStack: []string{"Go"}}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("CreateProject(%s) error = %v", name, err)
	}
	return p
}

func TestSearchCodeAcrossProjects(t *testing.T) {
	s := newTestStore(t)
	seedProjectDir(t, s, "api", map[string]string{
		"main.go":              "package main\n// TODO wire the router\nfunc main() {}\n",
		"node_modules/dep.js":  "// TODO never seen\n",
		"vendor/lib/thing.go":  "// TODO never seen\n",
		"assets/app.bundle.js": "// TODO never seen\n",
	})
	seedProjectDir(t, s, "web", map[string]string{
		"src/app.ts": "const x = 1\n// TODO hydrate state\n",
	})
	e := newWalkerEngine(t, s)

	res, err := e.SearchCode(context.Background(), "TODO", Options{})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if res.TotalMatches != 2 {
		t.Fatalf("TotalMatches = %d, want 2", res.TotalMatches)
	}
	if len(res.Projects) != 2 {
		t.Fatalf("project groups = %d, want 2", len(res.Projects))
	}

	byName := map[string]ProjectResults{}
	for _, g := range res.Projects {
		byName[g.ProjectName] = g
	}
	api := byName["api"]
	if len(api.Matches) != 1 {
		t.Fatalf("api matches = %d, want 1", len(api.Matches))
	}
	m := api.Matches[0]
	if m.File != "main.go" || m.Line != 2 || m.Column != 4 {
		t.Errorf("match = %s:%d:%d, want main.go:2:4", m.File, m.Line, m.Column)
	}
	if !strings.Contains(m.Text, "TODO wire the router") {
		t.Errorf("match text = %q, want the TODO line", m.Text)
	}
}

func TestSearchCodeLimitSetsHasMore(t *testing.T) {
	s := newTestStore(t)
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "match me")
	}
	seedProjectDir(t, s, "api", map[string]string{"notes.txt": strings.Join(lines, "\n")})
	e := newWalkerEngine(t, s)

	res, err := e.SearchCode(context.Background(), "match me", Options{Limit: 5})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	group := res.Projects[0]
	if len(group.Matches) != 5 {
		t.Errorf("matches = %d, want 5", len(group.Matches))
	}
	if !group.HasMore {
		t.Error("HasMore = false, want true")
	}
	if res.TotalMatches != 5 {
		t.Errorf("TotalMatches = %d, want 5", res.TotalMatches)
	}
}

func TestSearchCodeLiteralEscapesRegex(t *testing.T) {
	s := newTestStore(t)
	seedProjectDir(t, s, "api", map[string]string{
		"a.go": "value := fn(x)\n",
		"b.go": "value := fnx\n",
	})
	e := newWalkerEngine(t, s)

	res, err := e.SearchCode(context.Background(), "fn(x)", Options{})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if res.TotalMatches != 1 {
		t.Fatalf("TotalMatches = %d, want 1 literal match", res.TotalMatches)
	}
	if res.Projects[0].Matches[0].File != "a.go" {
		t.Errorf("match file = %s, want a.go", res.Projects[0].Matches[0].File)
	}
}

func TestSearchCodeRegexAndCase(t *testing.T) {
	s := newTestStore(t)
	seedProjectDir(t, s, "api", map[string]string{
		"a.go": "Handler\nhandler\n",
	})
	e := newWalkerEngine(t, s)

	res, err := e.SearchCode(context.Background(), "^handler$", Options{Regex: true, CaseSensitive: true})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if res.TotalMatches != 1 || res.Projects[0].Matches[0].Line != 2 {
		t.Errorf("case-sensitive regex matches = %d (line %d), want 1 at line 2",
			res.TotalMatches, res.Projects[0].Matches[0].Line)
	}

	res, err = e.SearchCode(context.Background(), "^handler$", Options{Regex: true})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if res.TotalMatches != 2 {
		t.Errorf("case-insensitive matches = %d, want 2", res.TotalMatches)
	}

	if _, err := e.SearchCode(context.Background(), "func (", Options{Regex: true}); !types.IsValidation(err) {
		t.Errorf("invalid regex error = %v, want validation", err)
	}
}

func TestSearchCodeLanguageFilter(t *testing.T) {
	s := newTestStore(t)
	seedProjectDir(t, s, "api", map[string]string{
		"main.go":    "shared token\n",
		"src/app.ts": "shared token\n",
	})
	e := newWalkerEngine(t, s)

	res, err := e.SearchCode(context.Background(), "shared token", Options{Language: "go"})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if res.TotalMatches != 1 || res.Projects[0].Matches[0].File != "main.go" {
		t.Errorf("language-filtered results = %+v, want only main.go", res.Projects[0].Matches)
	}
}

func TestSearchCodeContextLines(t *testing.T) {
	s := newTestStore(t)
	seedProjectDir(t, s, "api", map[string]string{
		"a.txt": "one\ntwo\nneedle\nfour\nfive\n",
	})
	e := newWalkerEngine(t, s)

	res, err := e.SearchCode(context.Background(), "needle", Options{ContextLines: 1})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	m := res.Projects[0].Matches[0]
	if len(m.Context) != 2 || m.Context[0] != "two" || m.Context[1] != "four" {
		t.Errorf("context = %v, want [two four]", m.Context)
	}
}

func TestSearchCodeScopedToNamedProject(t *testing.T) {
	s := newTestStore(t)
	seedProjectDir(t, s, "api", map[string]string{"a.go": "needle\n"})
	seedProjectDir(t, s, "web", map[string]string{"b.go": "needle\n"})
	e := newWalkerEngine(t, s)

	res, err := e.SearchCode(context.Background(), "needle", Options{Projects: []string{"web"}})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if len(res.Projects) != 1 || res.Projects[0].ProjectName != "web" {
		t.Fatalf("groups = %+v, want only web", res.Projects)
	}

	if _, err := e.SearchCode(context.Background(), "needle", Options{Projects: []string{"ghost"}}); !types.IsNotFound(err) {
		t.Errorf("unknown project error = %v, want not found", err)
	}
}

func TestSearchCodeServedFromCache(t *testing.T) {
	s := newTestStore(t)
	p := seedProjectDir(t, s, "api", map[string]string{"a.go": "needle\n"})
	e := newWalkerEngine(t, s)

	first, err := e.SearchCode(context.Background(), "needle", Options{})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if first.TotalMatches != 1 {
		t.Fatalf("TotalMatches = %d, want 1", first.TotalMatches)
	}

	// New content is invisible until the entry expires or the cache is
	// cleared.
	if err := os.WriteFile(filepath.Join(p.AbsolutePath, "b.go"), []byte("needle\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	second, err := e.SearchCode(context.Background(), "needle", Options{})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if second.TotalMatches != 1 {
		t.Errorf("cached TotalMatches = %d, want 1", second.TotalMatches)
	}

	e.ClearCache()
	if n := e.cache.len(); n != 0 {
		t.Errorf("cache entries after clear = %d, want 0", n)
	}
	third, err := e.SearchCode(context.Background(), "needle", Options{})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if third.TotalMatches != 2 {
		t.Errorf("post-clear TotalMatches = %d, want 2", third.TotalMatches)
	}
	if n := e.cache.len(); n < 1 {
		t.Errorf("cache entries after fresh search = %d, want at least 1", n)
	}
}

func TestCacheExpiresEntries(t *testing.T) {
	c := newResultCache(4, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.add("k", &Results{TotalMatches: 7})
	if got, ok := c.get("k"); !ok || got.TotalMatches != 7 {
		t.Fatalf("get() = %v, %v; want cached results", got, ok)
	}

	now = now.Add(time.Minute + time.Second)
	if _, ok := c.get("k"); ok {
		t.Error("get() after TTL = hit, want miss")
	}
	if c.len() != 0 {
		t.Errorf("len after expiry sweep = %d, want 0", c.len())
	}
}

func TestCacheKeyDistinguishesOptions(t *testing.T) {
	a := cacheKey("code", "q", Options{CaseSensitive: true})
	b := cacheKey("code", "q", Options{})
	c := cacheKey("files", "q", Options{})
	if a == b || a == c || b == c {
		t.Errorf("cache keys collide: %q %q %q", a, b, c)
	}
}

func TestSearchFiles(t *testing.T) {
	s := newTestStore(t)
	seedProjectDir(t, s, "api", map[string]string{
		"handler_test.go":   "",
		"handler.go":        "",
		"docs/readme.md":    "",
		"node_modules/x.go": "",
	})
	e := newWalkerEngine(t, s)

	res, err := e.SearchFiles(context.Background(), "*_test.go", Options{})
	if err != nil {
		t.Fatalf("SearchFiles() error = %v", err)
	}
	if res.TotalMatches != 1 || res.Projects[0].Matches[0].File != "handler_test.go" {
		t.Fatalf("glob results = %+v, want handler_test.go", res.Projects[0].Matches)
	}

	res, err = e.SearchFiles(context.Background(), "handler", Options{})
	if err != nil {
		t.Fatalf("SearchFiles() error = %v", err)
	}
	if res.TotalMatches != 2 {
		t.Errorf("substring results = %d, want 2", res.TotalMatches)
	}
}

func TestSearchSymbolsClassification(t *testing.T) {
	s := newTestStore(t)
	seedProjectDir(t, s, "api", map[string]string{
		"code.txt": strings.Join([]string{
			"func Handle(w, r) {}",
			"obj.Handle(payload)",
			"const Handle = 1",
			"class Handle extends Base {",
		}, "\n"),
	})
	e := newWalkerEngine(t, s)

	res, err := e.SearchSymbols(context.Background(), "Handle", Options{})
	if err != nil {
		t.Fatalf("SearchSymbols() error = %v", err)
	}
	if res.TotalMatches != 4 {
		t.Fatalf("TotalMatches = %d, want 4", res.TotalMatches)
	}

	kinds := map[int]string{}
	for _, m := range res.Projects[0].Matches {
		kinds[m.Line] = m.SymbolType
		if m.SymbolName != "Handle" {
			t.Errorf("line %d symbol name = %q, want Handle", m.Line, m.SymbolName)
		}
	}
	want := map[int]string{1: "function", 2: "method", 3: "constant", 4: "class"}
	for line, kind := range want {
		if kinds[line] != kind {
			t.Errorf("line %d classified %q, want %q", line, kinds[line], kind)
		}
	}
}

func TestParseRGStream(t *testing.T) {
	p := &types.Project{ID: "p1", Name: "api"}
	stream := strings.Join([]string{
		`{"type":"begin","data":{"path":{"text":"src/app.ts"}}}`,
		`{"type":"context","data":{"path":{"text":"src/app.ts"},"lines":{"text":"before\n"},"line_number":1}}`,
		`{"type":"match","data":{"path":{"text":"src/app.ts"},"lines":{"text":"needle here\n"},"line_number":2,"submatches":[{"start":0,"end":6}]}}`,
		`{"type":"context","data":{"path":{"text":"src/app.ts"},"lines":{"text":"after\n"},"line_number":3}}`,
		`{"type":"end","data":{}}`,
	}, "\n")

	matches, hasMore := parseRGStream(strings.NewReader(stream), p, 10, true)
	if hasMore {
		t.Error("hasMore = true, want false")
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	m := matches[0]
	if m.File != "src/app.ts" || m.Line != 2 || m.Column != 1 || m.Text != "needle here" {
		t.Errorf("match = %+v, want src/app.ts:2:1 needle here", m)
	}
	if len(m.Context) != 2 || m.Context[0] != "before" || m.Context[1] != "after" {
		t.Errorf("context = %v, want [before after]", m.Context)
	}
}

func TestParseRGStreamHonorsLimit(t *testing.T) {
	p := &types.Project{ID: "p1", Name: "api"}
	event := `{"type":"match","data":{"path":{"text":"a.go"},"lines":{"text":"x\n"},"line_number":1,"submatches":[{"start":0,"end":1}]}}`
	stream := strings.Join([]string{event, event, event}, "\n")

	matches, hasMore := parseRGStream(strings.NewReader(stream), p, 2, false)
	if len(matches) != 2 {
		t.Errorf("matches = %d, want 2", len(matches))
	}
	if !hasMore {
		t.Error("hasMore = false, want true")
	}
}
