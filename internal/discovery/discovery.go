// Package discovery walks directory trees looking for project roots,
// identified by well-known marker files, and registers them with the
// store.
package discovery

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

// DefaultMaxDepth bounds how far below a scan root the walker descends.
const DefaultMaxDepth = 3

// marker ties a file or directory name to the tech tag it implies.
// CLAUDE.md marks a root but contributes no tag; it feeds the coding
// agent's memory instead.
type marker struct {
	name  string
	isDir bool
	tag   string
}

var markers = []marker{
	{name: ".git", isDir: true, tag: "Git"},
	{name: "package.json", tag: "Node.js"},
	{name: "Cargo.toml", tag: "Rust"},
	{name: "pyproject.toml", tag: "Python"},
	{name: "setup.py", tag: "Python"},
	{name: "requirements.txt", tag: "Python"},
	{name: "go.mod", tag: "Go"},
	{name: "Dockerfile", tag: "Docker"},
	{name: "docker-compose.yml", tag: "Docker"},
	{name: "CLAUDE.md", tag: ""},
}

// packageTags maps package.json dependency names to tech tags.
var packageTags = map[string]string{
	"react":        "React",
	"vue":          "Vue",
	"angular":      "Angular",
	"next":         "Next.js",
	"nuxt":         "Nuxt",
	"typescript":   "TypeScript",
	"tsx":          "TSX",
	"express":      "Express",
	"@nestjs/core": "NestJS",
	"prisma":       "Prisma",
	"tailwindcss":  "TailwindCSS",
}

// skipDirs are never entered during a walk.
var skipDirs = map[string]bool{
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

// Scanner discovers and registers projects.
type Scanner struct {
	store  *store.Store
	logger *log.Logger
}

func NewScanner(st *store.Store, logger *log.Logger) *Scanner {
	return &Scanner{store: st, logger: logger}
}

// Result summarizes one discovery pass.
type Result struct {
	Projects []*types.Project
	New      int
}

// Discover walks root down to maxDepth levels and registers every
// project root it finds. Known projects are returned but not
// re-created. A directory identified as a project is not descended
// into.
func (s *Scanner) Discover(root string, maxDepth int) (*Result, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, types.NewValidation("bad path %s: %v", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, types.NewNotFound("path %s does not exist", abs)
	}
	if !info.IsDir() {
		return nil, types.NewValidation("path %s is not a directory", abs)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	result := &Result{}
	if err := s.walk(abs, 1, maxDepth, result); err != nil {
		return nil, err
	}
	s.logger.Printf("[DISCOVERY] scanned %s: %d projects (%d new)", abs, len(result.Projects), result.New)
	return result, nil
}

// DiscoverAll runs Discover over each configured scan path, skipping
// paths that do not exist.
func (s *Scanner) DiscoverAll(roots []string, maxDepth int) (*Result, error) {
	combined := &Result{}
	for _, root := range roots {
		res, err := s.Discover(root, maxDepth)
		if err != nil {
			if types.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		combined.Projects = append(combined.Projects, res.Projects...)
		combined.New += res.New
	}
	return combined, nil
}

func (s *Scanner) walk(dir string, depth, maxDepth int, result *Result) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// Unreadable subtrees are skipped, not fatal.
		s.logger.Printf("[DISCOVERY] skipping %s: %v", dir, err)
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if skipDirs[name] || strings.HasPrefix(name, ".") {
			continue
		}
		sub := filepath.Join(dir, name)
		if IsProjectRoot(sub) {
			project, created, err := s.register(sub)
			if err != nil {
				return err
			}
			result.Projects = append(result.Projects, project)
			if created {
				result.New++
			}
			continue
		}
		if depth < maxDepth {
			if err := s.walk(sub, depth+1, maxDepth, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// register persists a newly found project, or returns the existing
// record when the path is already known.
func (s *Scanner) register(dir string) (*types.Project, bool, error) {
	if existing, err := s.store.GetProjectByPath(dir); err == nil {
		return existing, false, nil
	} else if !types.IsNotFound(err) {
		return nil, false, err
	}

	project := &types.Project{
		Name:         filepath.Base(dir),
		AbsolutePath: dir,
		TechStack:    DetectTechStack(dir),
	}
	if err := s.store.CreateProject(project); err != nil {
		if types.IsConflict(err) {
			// Lost a race with a concurrent scan.
			existing, gerr := s.store.GetProjectByPath(dir)
			if gerr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	if err := s.store.AppendActivity(&types.Activity{
		ProjectID: project.ID,
		Kind:      types.ActivityDiscover,
		Details: map[string]string{
			"path":      dir,
			"techStack": strings.Join(project.TechStack, ","),
		},
	}); err != nil {
		s.logger.Printf("[DISCOVERY] failed to record discover activity for %s: %v", project.Name, err)
	}
	return project, true, nil
}

// Add registers a directory as a project without walking. The
// directory itself must be a path that exists; it does not need a
// marker file.
func (s *Scanner) Add(path, name string) (*types.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, types.NewValidation("bad path %s: %v", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, types.NewNotFound("path %s does not exist", abs)
	}
	if !info.IsDir() {
		return nil, types.NewValidation("path %s is not a directory", abs)
	}
	if _, err := s.store.GetProjectByPath(abs); err == nil {
		return nil, types.NewConflict("project at %s already exists", abs)
	} else if !types.IsNotFound(err) {
		return nil, err
	}

	if name == "" {
		name = filepath.Base(abs)
	}
	project := &types.Project{
		Name:         name,
		AbsolutePath: abs,
		TechStack:    DetectTechStack(abs),
	}
	if err := s.store.CreateProject(project); err != nil {
		return nil, err
	}
	if err := s.store.AppendActivity(&types.Activity{
		ProjectID: project.ID,
		Kind:      types.ActivityAdd,
		Details:   map[string]string{"path": abs},
	}); err != nil {
		s.logger.Printf("[DISCOVERY] failed to record add activity for %s: %v", project.Name, err)
	}
	s.logger.Printf("[DISCOVERY] added project %s (%s)", project.Name, abs)
	return project, nil
}

// IsProjectRoot reports whether dir carries at least one marker.
func IsProjectRoot(dir string) bool {
	for _, m := range markers {
		info, err := os.Stat(filepath.Join(dir, m.name))
		if err != nil {
			continue
		}
		if info.IsDir() == m.isDir {
			return true
		}
	}
	return false
}

// DetectTechStack derives tech tags from marker files, augmented by
// package.json dependencies. Marker tags come first in table order;
// dependency tags follow sorted for determinism.
func DetectTechStack(dir string) []string {
	var stack []string
	seen := make(map[string]bool)
	for _, m := range markers {
		if m.tag == "" {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, m.name))
		if err != nil || info.IsDir() != m.isDir {
			continue
		}
		if !seen[m.tag] {
			seen[m.tag] = true
			stack = append(stack, m.tag)
		}
	}
	for _, tag := range packageJSONTags(filepath.Join(dir, "package.json")) {
		if !seen[tag] {
			seen[tag] = true
			stack = append(stack, tag)
		}
	}
	return stack
}

// packageJSONTags extracts framework tags from a package.json's
// dependencies and devDependencies. A missing or malformed file yields
// nothing.
func packageJSONTags(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	var tags []string
	for dep, tag := range packageTags {
		if _, ok := pkg.Dependencies[dep]; ok {
			tags = append(tags, tag)
			continue
		}
		if _, ok := pkg.DevDependencies[dep]; ok {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}
