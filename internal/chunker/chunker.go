// Package chunker splits source files into overlapping, context-preserving
// fragments suitable for embedding and standalone retrieval.
package chunker

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zricethezav/gitleaks/v8/detect"
	"golang.org/x/crypto/blake2b"

	"github.com/pathforge/pkg/models"
)

// Config controls fragmentation geometry and secret scanning.
type Config struct {
	WindowLines  int  // lines per fragment window
	OverlapLines int  // lines shared between consecutive windows
	ScanSecrets  bool // redact detected secrets before fragments are cut
}

// DefaultConfig returns the fragmentation defaults
func DefaultConfig() Config {
	return Config{
		WindowLines:  40,
		OverlapLines: 10,
		ScanSecrets:  true,
	}
}

// Chunker cuts source files into fragments. Safe for concurrent use.
type Chunker struct {
	cfg      Config
	detector *detect.Detector
}

// New creates a Chunker. The gitleaks detector is only constructed when secret
// scanning is enabled.
func New(cfg Config) (*Chunker, error) {
	if cfg.WindowLines <= 0 {
		return nil, fmt.Errorf("window_lines must be positive, got %d", cfg.WindowLines)
	}
	if cfg.OverlapLines < 0 || cfg.OverlapLines >= cfg.WindowLines {
		return nil, fmt.Errorf("overlap_lines must be in [0, window_lines), got %d", cfg.OverlapLines)
	}

	c := &Chunker{cfg: cfg}

	if cfg.ScanSecrets {
		detector, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create secret detector: %w", err)
		}
		c.detector = detector
	}

	return c, nil
}

// Files fragments a whole snapshot.
func (c *Chunker) Files(repositoryID string, files []models.SourceFile) []models.CodeFragment {
	var fragments []models.CodeFragment
	for _, f := range files {
		fragments = append(fragments, c.File(repositoryID, f)...)
	}
	log.Debug().Str("repository", repositoryID).
		Int("files", len(files)).Int("fragments", len(fragments)).
		Msg("snapshot fragmented")
	return fragments
}

// File fragments a single source file using a sliding window with overlap. A
// concept spanning a window boundary always appears with context on both
// sides because consecutive windows share OverlapLines lines.
func (c *Chunker) File(repositoryID string, file models.SourceFile) []models.CodeFragment {
	content := file.Content
	if c.detector != nil {
		content = c.redactSecrets(file.FilePath, content)
	}

	lines := strings.Split(content, "\n")

	var fragments []models.CodeFragment
	step := c.cfg.WindowLines - c.cfg.OverlapLines

	for start := 0; start < len(lines); start += step {
		end := start + c.cfg.WindowLines
		if end > len(lines) {
			end = len(lines)
		}

		window := lines[start:end]
		if isBlank(window) {
			if end == len(lines) {
				break
			}
			continue
		}

		// 1-based inclusive line range
		startLine := start + 1
		endLine := end

		text := fragmentText(file, startLine, endLine, window)

		fragments = append(fragments, models.CodeFragment{
			ID:           FragmentID(file.FilePath, startLine, endLine, text),
			RepositoryID: repositoryID,
			FilePath:     file.FilePath,
			StartLine:    startLine,
			EndLine:      endLine,
			Language:     file.Language,
			Text:         text,
			Status:       models.FragmentPending,
			CreatedAt:    time.Now().UTC(),
		})

		if end == len(lines) {
			break
		}
	}

	return fragments
}

// fragmentText prefixes the window with a header so a fragment is
// self-explanatory when returned standalone.
func fragmentText(file models.SourceFile, startLine, endLine int, window []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) lines %d-%d\n", file.FilePath, file.Language, startLine, endLine)
	b.WriteString(strings.Join(window, "\n"))
	return b.String()
}

// FragmentID derives a stable identity from the fragment's location and
// redacted text. Unchanged content yields the same identity, which is what
// makes re-indexing idempotent per fragment.
func FragmentID(filePath string, startLine, endLine int, text string) string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00", filePath, startLine, endLine)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// redactSecrets masks any secret material gitleaks finds so it never reaches
// the embedding provider or the stored index.
func (c *Chunker) redactSecrets(filePath, content string) string {
	findings := c.detector.DetectString(content)
	if len(findings) == 0 {
		return content
	}

	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}

	log.Warn().Str("file", filePath).Int("findings", len(findings)).
		Msg("redacted detected secrets before fragmentation")

	return content
}

func isBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}
