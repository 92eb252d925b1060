package search

import (
	"path/filepath"
	"strings"
)

// languageExtensions is the fixed language filter table
var languageExtensions = map[string][]string{
	"javascript": {".js", ".jsx", ".mjs", ".cjs"},
	"typescript": {".ts", ".tsx"},
	"python":     {".py"},
	"go":         {".go"},
	"rust":       {".rs"},
	"java":       {".java"},
	"c":          {".c", ".h"},
	"cpp":        {".cpp", ".cc", ".cxx", ".hpp"},
	"csharp":     {".cs"},
	"ruby":       {".rb"},
	"php":        {".php"},
	"swift":      {".swift"},
	"kotlin":     {".kt", ".kts"},
	"shell":      {".sh", ".bash"},
	"html":       {".html", ".htm"},
	"css":        {".css", ".scss", ".less"},
	"json":       {".json"},
	"yaml":       {".yaml", ".yml"},
	"markdown":   {".md"},
	"sql":        {".sql"},
}

// ignoredDirList is never descended into by the walker and is excluded from
// ripgrep invocations. Order is the glob order on the ripgrep command line.
var ignoredDirList = []string{
	"node_modules", ".git", "dist", "build", "coverage", ".cache", ".next",
	"vendor", "__pycache__", ".venv", "venv", "target", ".idea", ".vscode",
}

var ignoredDirs = func() map[string]struct{} {
	set := make(map[string]struct{}, len(ignoredDirList))
	for _, dir := range ignoredDirList {
		set[dir] = struct{}{}
	}
	return set
}()

// ignoredFilePatterns are file names excluded from every scan
var ignoredFilePatterns = []string{
	"*.min.js",
	"*.bundle.js",
	"*.lock",
	"package-lock.json",
	"pnpm-lock.yaml",
	"yarn.lock",
}

// extensionsForLanguage maps a language tag to its extensions. Unknown tags
// apply no filter.
func extensionsForLanguage(language string) []string {
	if language == "" {
		return nil
	}
	return languageExtensions[strings.ToLower(language)]
}

func matchesLanguage(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	suffix := strings.ToLower(filepath.Ext(name))
	for _, ext := range exts {
		if suffix == ext {
			return true
		}
	}
	return false
}

func isIgnoredFile(name string) bool {
	for _, pattern := range ignoredFilePatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
