package search

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/maxclaw/internal/types"
)

// errLimitReached stops a walk once the per-project ceiling is hit
var errLimitReached = errors.New("limit reached")

// maxScanLine bounds a single scanned line
const maxScanLine = 1 << 20

// walkContent is the fallback content scanner used when no ripgrep binary
// is available.
func (e *Engine) walkContent(ctx context.Context, p *types.Project, re *regexp.Regexp, opts Options) ([]Match, bool, error) {
	limit := opts.limit()
	exts := extensionsForLanguage(opts.Language)

	var matches []Match
	hasMore := false
	err := filepath.WalkDir(p.AbsolutePath, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if _, skip := ignoredDirs[d.Name()]; skip && filePath != p.AbsolutePath {
				return filepath.SkipDir
			}
			return nil
		}
		if isIgnoredFile(d.Name()) || !matchesLanguage(d.Name(), exts) {
			return nil
		}

		fileMatches, err := scanFile(filePath, re, opts.ContextLines, limit-len(matches)+1)
		if err != nil {
			return nil // binary or unreadable files are skipped
		}
		for _, fm := range fileMatches {
			if len(matches) >= limit {
				hasMore = true
				return errLimitReached
			}
			fm.ProjectID = p.ID
			fm.ProjectName = p.Name
			fm.File = relativeTo(p.AbsolutePath, filePath)
			matches = append(matches, fm)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return matches, hasMore, err
	}
	return matches, hasMore, nil
}

// scanFile collects up to max matching lines from one file. Binary files,
// detected by a NUL byte in the head, yield an error so the caller skips
// them.
func scanFile(filePath string, re *regexp.Regexp, contextLines, max int) ([]Match, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, errors.New("binary file")
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxScanLine)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var out []Match
	for i, line := range lines {
		loc := re.FindStringIndex(line)
		if loc == nil {
			continue
		}
		out = append(out, Match{
			Line:    i + 1,
			Column:  loc[0] + 1,
			Text:    line,
			Context: contextAround(lines, i, contextLines),
		})
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

// contextAround returns the n lines on each side of index i
func contextAround(lines []string, i, n int) []string {
	if n <= 0 {
		return nil
	}
	lo := i - n
	if lo < 0 {
		lo = 0
	}
	hi := i + n
	if hi > len(lines)-1 {
		hi = len(lines) - 1
	}
	var out []string
	for j := lo; j <= hi; j++ {
		if j == i {
			continue
		}
		out = append(out, lines[j])
	}
	return out
}

// fileMatcher matches file base names either as a glob or a substring
type fileMatcher struct {
	glob          string
	substring     string
	caseSensitive bool
}

func newFileMatcher(pattern string, caseSensitive bool) (*fileMatcher, error) {
	if strings.ContainsAny(pattern, "*?[") {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return nil, types.NewValidation("invalid file pattern %q: %v", pattern, err)
		}
		if !caseSensitive {
			pattern = strings.ToLower(pattern)
		}
		return &fileMatcher{glob: pattern, caseSensitive: caseSensitive}, nil
	}
	if !caseSensitive {
		pattern = strings.ToLower(pattern)
	}
	return &fileMatcher{substring: pattern, caseSensitive: caseSensitive}, nil
}

func (fm *fileMatcher) matches(name string) bool {
	if !fm.caseSensitive {
		name = strings.ToLower(name)
	}
	if fm.glob != "" {
		ok, _ := path.Match(fm.glob, name)
		return ok
	}
	return strings.Contains(name, fm.substring)
}

// walkFiles lists files whose names match. The same ignore rules as content
// scans apply.
func (e *Engine) walkFiles(ctx context.Context, p *types.Project, matcher *fileMatcher, opts Options) ([]Match, bool, error) {
	limit := opts.limit()
	exts := extensionsForLanguage(opts.Language)

	var matches []Match
	hasMore := false
	err := filepath.WalkDir(p.AbsolutePath, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if _, skip := ignoredDirs[d.Name()]; skip && filePath != p.AbsolutePath {
				return filepath.SkipDir
			}
			return nil
		}
		if isIgnoredFile(d.Name()) || !matchesLanguage(d.Name(), exts) {
			return nil
		}
		if !matcher.matches(d.Name()) {
			return nil
		}
		if len(matches) >= limit {
			hasMore = true
			return errLimitReached
		}
		matches = append(matches, Match{
			ProjectID:   p.ID,
			ProjectName: p.Name,
			File:        relativeTo(p.AbsolutePath, filePath),
		})
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return matches, hasMore, err
	}
	return matches, hasMore, nil
}

func relativeTo(root, filePath string) string {
	rel, err := filepath.Rel(root, filePath)
	if err != nil {
		return filePath
	}
	return rel
}
