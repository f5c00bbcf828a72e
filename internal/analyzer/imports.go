package analyzer

import (
	"path"
	"regexp"
	"strings"

	"github.com/pathforge/pkg/models"
)

// Import extraction is regex-based and deliberately best-effort: unresolved
// imports simply contribute no graph edge. Languages without a pattern are
// clustered by path alone.

var importPatterns = map[string][]*regexp.Regexp{
	"go": {
		regexp.MustCompile(`(?m)^\s*import\s+(?:\w+\s+)?"([^"]+)"`),
		regexp.MustCompile(`(?m)^\s*(?:\w+\s+)?"([^"]+)"\s*$`), // inside import ( ... ) blocks
	},
	"typescript": {
		regexp.MustCompile(`(?m)import\s+(?:[\w{},*\s]+from\s+)?['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?m)require\(\s*['"]([^'"]+)['"]\s*\)`),
	},
	"python": {
		regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\b`),
		regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`),
	},
	"java": {
		regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w.]+);`),
	},
}

func init() {
	// javascript shares the typescript patterns
	importPatterns["javascript"] = importPatterns["typescript"]
}

// extractImports returns the raw import strings of one source file.
func extractImports(file models.SourceFile) []string {
	patterns, ok := importPatterns[strings.ToLower(file.Language)]
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var imports []string
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(file.Content, -1) {
			if len(m) < 2 || m[1] == "" || seen[m[1]] {
				continue
			}
			seen[m[1]] = true
			imports = append(imports, m[1])
		}
	}
	return imports
}

// resolveImport maps a raw import string to a repository file path, or ""
// when it points outside the snapshot (stdlib, external dependency).
func resolveImport(raw, fromFile string, filesByStem map[string]string) string {
	// Relative imports (TypeScript/JavaScript style)
	if strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../") {
		resolved := path.Clean(path.Join(path.Dir(fromFile), raw))
		if target, ok := filesByStem[resolved]; ok {
			return target
		}
		if target, ok := filesByStem[resolved+"/index"]; ok {
			return target
		}
		return ""
	}

	// Dotted module paths (Python/Java style)
	if dotted := strings.ReplaceAll(raw, ".", "/"); dotted != raw {
		if target, ok := filesByStem[dotted]; ok {
			return target
		}
	}

	// Path-shaped imports (Go module paths, bare TS paths): try successively
	// shorter suffixes against the snapshot.
	parts := strings.Split(raw, "/")
	for i := 0; i < len(parts); i++ {
		candidate := strings.Join(parts[i:], "/")
		if target, ok := filesByStem[candidate]; ok {
			return target
		}
	}

	return ""
}

// stemOf strips the extension so imports written without one still resolve.
func stemOf(filePath string) string {
	ext := path.Ext(filePath)
	return strings.TrimSuffix(filePath, ext)
}

// buildImportGraph resolves every file's imports against the snapshot and
// returns the adjacency map fromFile -> imported repo files.
func buildImportGraph(files []models.SourceFile) map[string][]string {
	filesByStem := make(map[string]string, len(files))
	for _, f := range files {
		filesByStem[stemOf(f.FilePath)] = f.FilePath
		// Go files resolve per package directory
		filesByStem[path.Dir(f.FilePath)] = f.FilePath
	}

	graph := make(map[string][]string)
	for _, f := range files {
		for _, raw := range extractImports(f) {
			target := resolveImport(raw, f.FilePath, filesByStem)
			if target == "" || target == f.FilePath {
				continue
			}
			graph[f.FilePath] = append(graph[f.FilePath], target)
		}
	}
	return graph
}

// entryPointNames are file stems that indicate an application entry point.
var entryPointNames = map[string]bool{
	"main": true, "index": true, "app": true, "server": true, "cli": true,
}

func isEntryPoint(filePath string) bool {
	base := stemOf(path.Base(filePath))
	return entryPointNames[strings.ToLower(base)]
}
