// Package search runs text, file, and symbol queries across the registered
// project corpus. Per-project scans prefer a ripgrep binary and fall back to
// a built-in walker; results are cached for a short window.
package search

import (
	"context"
	"log"
	"os/exec"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

// DefaultWorkers bounds how many projects are scanned at once
const DefaultWorkers = 5

// DefaultLimit is the per-project match ceiling when the caller sets none
const DefaultLimit = 50

// Options scope a search
type Options struct {
	Projects      []string `json:"projects,omitempty"` // ids or names; all registered projects when empty
	Language      string   `json:"language,omitempty"`
	Limit         int      `json:"limit,omitempty"` // per project, default 50
	Regex         bool     `json:"regex,omitempty"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`
	ContextLines  int      `json:"contextLines,omitempty"`
}

func (o Options) limit() int {
	if o.Limit <= 0 {
		return DefaultLimit
	}
	return o.Limit
}

// Match is one hit inside a project
type Match struct {
	ProjectID   string   `json:"projectId"`
	ProjectName string   `json:"projectName"`
	File        string   `json:"file"` // relative to the project root
	Line        int      `json:"line,omitempty"`
	Column      int      `json:"column,omitempty"`
	Text        string   `json:"text,omitempty"`
	Context     []string `json:"context,omitempty"`
	SymbolType  string   `json:"symbolType,omitempty"`
	SymbolName  string   `json:"symbolName,omitempty"`
}

// ProjectResults groups the matches of one project. HasMore reports that the
// per-project limit cut the list short.
type ProjectResults struct {
	ProjectID   string  `json:"projectId"`
	ProjectName string  `json:"projectName"`
	Matches     []Match `json:"matches"`
	HasMore     bool    `json:"hasMore"`
}

// Results is a completed search across the selected projects
type Results struct {
	Query         string           `json:"query"`
	Projects      []ProjectResults `json:"projects"`
	TotalMatches  int              `json:"totalMatches"`
	ElapsedMillis int64            `json:"elapsedMillis"`
}

// Engine coordinates per-project scans
type Engine struct {
	store   *store.Store
	logger  *log.Logger
	workers int
	rgPath  string // empty when no ripgrep binary is on PATH
	cache   *resultCache
}

// NewEngine builds a search engine. Workers 0 takes the default ceiling.
func NewEngine(st *store.Store, workers int, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	rgPath, _ := exec.LookPath("rg")
	return &Engine{
		store:   st,
		logger:  logger,
		workers: workers,
		rgPath:  rgPath,
		cache:   newResultCache(0, 0),
	}
}

// SearchCode finds lines matching query in the selected projects
func (e *Engine) SearchCode(ctx context.Context, query string, opts Options) (*Results, error) {
	if query == "" {
		return nil, types.NewValidation("search query is empty")
	}
	key := cacheKey("code", query, opts)
	if res, ok := e.cache.get(key); ok {
		return res, nil
	}

	pattern, re, err := buildPattern(query, opts)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	groups, total, err := e.fanOut(ctx, opts, func(ctx context.Context, p *types.Project) ([]Match, bool, error) {
		return e.scanProject(ctx, p, pattern, re, opts)
	})
	if err != nil {
		return nil, err
	}

	res := &Results{
		Query:         query,
		Projects:      groups,
		TotalMatches:  total,
		ElapsedMillis: time.Since(started).Milliseconds(),
	}
	e.cache.add(key, res)
	return res, nil
}

// SearchFiles finds files whose name matches pattern. Glob metacharacters
// are honored; a bare pattern matches as a substring.
func (e *Engine) SearchFiles(ctx context.Context, pattern string, opts Options) (*Results, error) {
	if pattern == "" {
		return nil, types.NewValidation("file pattern is empty")
	}
	key := cacheKey("files", pattern, opts)
	if res, ok := e.cache.get(key); ok {
		return res, nil
	}

	matcher, err := newFileMatcher(pattern, opts.CaseSensitive)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	groups, total, err := e.fanOut(ctx, opts, func(ctx context.Context, p *types.Project) ([]Match, bool, error) {
		return e.walkFiles(ctx, p, matcher, opts)
	})
	if err != nil {
		return nil, err
	}

	res := &Results{
		Query:         pattern,
		Projects:      groups,
		TotalMatches:  total,
		ElapsedMillis: time.Since(started).Milliseconds(),
	}
	e.cache.add(key, res)
	return res, nil
}

// SearchSymbols finds declarations of symbol and classifies each hit. The
// declaration patterns are broad and also match call sites; the classifier
// tags those as references.
func (e *Engine) SearchSymbols(ctx context.Context, symbol string, opts Options) (*Results, error) {
	if symbol == "" {
		return nil, types.NewValidation("symbol is empty")
	}
	key := cacheKey("symbols", symbol, opts)
	if res, ok := e.cache.get(key); ok {
		return res, nil
	}

	symOpts := opts
	symOpts.Regex = true
	pattern, re, err := buildPattern(symbolQuery(symbol), symOpts)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	table := symbolTable(symbol)
	groups, total, err := e.fanOut(ctx, symOpts, func(ctx context.Context, p *types.Project) ([]Match, bool, error) {
		matches, hasMore, err := e.scanProject(ctx, p, pattern, re, symOpts)
		for i := range matches {
			matches[i].SymbolType, matches[i].SymbolName = classifySymbol(matches[i].Text, symbol, table)
		}
		return matches, hasMore, err
	})
	if err != nil {
		return nil, err
	}

	res := &Results{
		Query:         symbol,
		Projects:      groups,
		TotalMatches:  total,
		ElapsedMillis: time.Since(started).Milliseconds(),
	}
	e.cache.add(key, res)
	return res, nil
}

// ClearCache drops every cached result
func (e *Engine) ClearCache() {
	e.cache.clear()
}

type projectScan func(ctx context.Context, p *types.Project) ([]Match, bool, error)

// fanOut runs scan against every selected project with a bounded worker
// count and returns the groups in project order.
func (e *Engine) fanOut(ctx context.Context, opts Options, scan projectScan) ([]ProjectResults, int, error) {
	projects, err := e.selectProjects(opts)
	if err != nil {
		return nil, 0, err
	}

	groups := make([]ProjectResults, len(projects))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, project := range projects {
		i, project := i, project
		g.Go(func() error {
			matches, hasMore, err := scan(ctx, project)
			if err != nil {
				// One unreadable project must not sink the rest.
				e.logger.Printf("[SEARCH] scan %s: %v", project.Name, err)
			}
			groups[i] = ProjectResults{
				ProjectID:   project.ID,
				ProjectName: project.Name,
				Matches:     matches,
				HasMore:     hasMore,
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	total := 0
	for _, group := range groups {
		total += len(group.Matches)
	}
	return groups, total, nil
}

// selectProjects resolves the option's project ids or names, or lists every
// registered project when the option is empty.
func (e *Engine) selectProjects(opts Options) ([]*types.Project, error) {
	if len(opts.Projects) == 0 {
		return e.store.ListProjects()
	}
	out := make([]*types.Project, 0, len(opts.Projects))
	for _, idOrName := range opts.Projects {
		p, err := e.store.ResolveProject(idOrName)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// scanProject picks the ripgrep path when a binary is available and the
// walker otherwise.
func (e *Engine) scanProject(ctx context.Context, p *types.Project, pattern string, re *regexp.Regexp, opts Options) ([]Match, bool, error) {
	if e.rgPath != "" {
		return e.ripgrep(ctx, p, pattern, opts)
	}
	return e.walkContent(ctx, p, re, opts)
}

// buildPattern prepares the single pattern string shared by ripgrep and the
// walker. Literal queries are pre-escaped; the compiled form is used only by
// the walker.
func buildPattern(query string, opts Options) (string, *regexp.Regexp, error) {
	pattern := query
	if !opts.Regex {
		pattern = regexp.QuoteMeta(query)
	}
	compiled := pattern
	if !opts.CaseSensitive {
		compiled = "(?i)" + compiled
	}
	re, err := regexp.Compile(compiled)
	if err != nil {
		return "", nil, types.NewValidation("invalid search pattern %q: %v", query, err)
	}
	return pattern, re, nil
}
