package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/maxclaw/internal/types"
)

type rgEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type rgLineData struct {
	Path struct {
		Text string `json:"text"`
	} `json:"path"`
	Lines struct {
		Text string `json:"text"`
	} `json:"lines"`
	LineNumber int `json:"line_number"`
	Submatches []struct {
		Start int `json:"start"`
		End   int `json:"end"`
	} `json:"submatches"`
}

// ripgrep scans one project with the external rg binary and parses its JSON
// event stream. Relative paths come for free from running in the project
// root.
func (e *Engine) ripgrep(ctx context.Context, p *types.Project, pattern string, opts Options) ([]Match, bool, error) {
	limit := opts.limit()

	args := []string{"--json", "--line-number", "--column"}
	if opts.CaseSensitive {
		args = append(args, "--case-sensitive")
	} else {
		args = append(args, "--ignore-case")
	}
	args = append(args, "--max-count", strconv.Itoa(limit))
	if opts.ContextLines > 0 {
		args = append(args, "--context", strconv.Itoa(opts.ContextLines))
	}
	for _, ext := range extensionsForLanguage(opts.Language) {
		args = append(args, "--glob", "*"+ext)
	}
	for _, pat := range ignoredFilePatterns {
		args = append(args, "--glob", "!"+pat)
	}
	for _, dir := range ignoredDirList {
		args = append(args, "--glob", "!"+dir+"/**")
	}
	args = append(args, "--", pattern)

	cmd := exec.CommandContext(ctx, e.rgPath, args...)
	cmd.Dir = p.AbsolutePath
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, false, fmt.Errorf("ripgrep pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, false, fmt.Errorf("ripgrep start: %w", err)
	}

	matches, hasMore := parseRGStream(stdout, p, limit, opts.ContextLines > 0)
	if hasMore {
		// Enough collected; stop the stream.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return matches, true, nil
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		// Exit 1 is ripgrep's no-matches code.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return matches, false, nil
		}
		return matches, false, types.NewOperational(err, "ripgrep: %s", strings.TrimSpace(stderr.String()))
	}
	return matches, false, nil
}

// parseRGStream folds match and context events into Matches. Context lines
// after a match attach to it; lines before accumulate for the next match.
func parseRGStream(r io.Reader, p *types.Project, limit int, wantContext bool) ([]Match, bool) {
	var matches []Match
	var pending []string
	hasMore := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxScanLine)
	for scanner.Scan() {
		var ev rgEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "begin":
			pending = nil
		case "context":
			if !wantContext {
				continue
			}
			var d rgLineData
			if err := json.Unmarshal(ev.Data, &d); err != nil {
				continue
			}
			line := strings.TrimRight(d.Lines.Text, "\n")
			if n := len(matches); n > 0 && matches[n-1].File == d.Path.Text && d.LineNumber > matches[n-1].Line {
				matches[n-1].Context = append(matches[n-1].Context, line)
			} else {
				pending = append(pending, line)
			}
		case "match":
			var d rgLineData
			if err := json.Unmarshal(ev.Data, &d); err != nil {
				continue
			}
			if len(matches) >= limit {
				return matches, true
			}
			column := 0
			if len(d.Submatches) > 0 {
				column = d.Submatches[0].Start + 1
			}
			matches = append(matches, Match{
				ProjectID:   p.ID,
				ProjectName: p.Name,
				File:        d.Path.Text,
				Line:        d.LineNumber,
				Column:      column,
				Text:        strings.TrimRight(d.Lines.Text, "\n"),
				Context:     pending,
			})
			pending = nil
		}
	}
	return matches, hasMore
}
