// Package analyzer classifies a repository snapshot into domains: cohesive
// clusters of files with a complexity rating and a recommended learning order.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pathforge/pkg/models"
)

// Retriever is the slice of the retrieval engine the analyzer needs for
// representative-fragment lookup.
type Retriever interface {
	Query(ctx context.Context, repositoryID, text string, k int) ([]models.FragmentMatch, error)
}

// Config tunes clustering.
type Config struct {
	MinDomainFiles    int     // clusters below this size merge into the nearest cluster
	AffinityThreshold float64 // cross-import ratio at which two clusters merge
}

// DefaultConfig returns analyzer defaults
func DefaultConfig() Config {
	return Config{
		MinDomainFiles:    2,
		AffinityThreshold: 0.5,
	}
}

// Analyzer builds DomainAnalysis values from repository snapshots.
type Analyzer struct {
	retriever Retriever
	cfg       Config
}

// New creates an Analyzer. retriever may be nil; representative fragments are
// then skipped.
func New(retriever Retriever, cfg Config) *Analyzer {
	if cfg.MinDomainFiles <= 0 {
		cfg.MinDomainFiles = 2
	}
	if cfg.AffinityThreshold <= 0 {
		cfg.AffinityThreshold = 0.5
	}
	return &Analyzer{retriever: retriever, cfg: cfg}
}

// cluster is a working set of files under one name.
type cluster struct {
	name  string
	files map[string]bool
}

// Analyze classifies the snapshot into domains.
func (a *Analyzer) Analyze(ctx context.Context, repositoryID string, files []models.SourceFile) (*models.DomainAnalysis, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("repository %s has no files to analyze", repositoryID)
	}

	graph := buildImportGraph(files)
	clusters := a.initialClusters(files)
	clusters = a.mergeByAffinity(clusters, graph)
	clusters = a.mergeSmall(clusters, graph)

	sizes := make(map[string]int, len(files))
	for _, f := range files {
		sizes[f.FilePath] = len(f.Content)
	}

	domains := make([]models.Domain, 0, len(clusters))
	for _, c := range clusters {
		domains = append(domains, a.buildDomain(c, graph, sizes))
	}

	orderDomains(domains)

	if a.retriever != nil {
		a.attachRepresentatives(ctx, repositoryID, domains)
	}

	log.Info().Str("repository", repositoryID).
		Int("files", len(files)).Int("domains", len(domains)).
		Msg("domain analysis complete")

	return &models.DomainAnalysis{
		RepositoryID: repositoryID,
		Domains:      domains,
		TotalFiles:   len(files),
		FileSizes:    sizes,
		AnalyzedAt:   time.Now().UTC(),
	}, nil
}

// initialClusters groups files by their top-level directory; root files fall
// into a "core" cluster.
func (a *Analyzer) initialClusters(files []models.SourceFile) []*cluster {
	byName := make(map[string]*cluster)
	for _, f := range files {
		name := topLevelDir(f.FilePath)
		c, ok := byName[name]
		if !ok {
			c = &cluster{name: name, files: make(map[string]bool)}
			byName[name] = c
		}
		c.files[f.FilePath] = true
	}

	clusters := make([]*cluster, 0, len(byName))
	for _, c := range byName {
		clusters = append(clusters, c)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].name < clusters[j].name })
	return clusters
}

// mergeByAffinity merges clusters whose cross-import ratio exceeds the
// threshold: files frequently imported together belong to the same domain.
func (a *Analyzer) mergeByAffinity(clusters []*cluster, graph map[string][]string) []*cluster {
	for {
		merged := false

		for i := 0; i < len(clusters) && !merged; i++ {
			for j := i + 1; j < len(clusters) && !merged; j++ {
				small := len(clusters[i].files)
				if len(clusters[j].files) < small {
					small = len(clusters[j].files)
				}
				if small == 0 {
					continue
				}

				edges := crossEdges(clusters[i], clusters[j], graph)
				if float64(edges)/float64(small) >= a.cfg.AffinityThreshold {
					absorb(clusters[i], clusters[j])
					clusters = append(clusters[:j], clusters[j+1:]...)
					merged = true
				}
			}
		}

		if !merged {
			return clusters
		}
	}
}

// mergeSmall folds clusters below MinDomainFiles into the nearest cluster
// (the one they share the most import edges with, else the largest), so
// degenerate single-file domains are never reported.
func (a *Analyzer) mergeSmall(clusters []*cluster, graph map[string][]string) []*cluster {
	for {
		idx := -1
		for i, c := range clusters {
			if len(c.files) < a.cfg.MinDomainFiles && len(clusters) > 1 {
				idx = i
				break
			}
		}
		if idx == -1 {
			return clusters
		}

		small := clusters[idx]
		clusters = append(clusters[:idx], clusters[idx+1:]...)

		best, bestEdges := 0, -1
		for i, c := range clusters {
			edges := crossEdges(small, c, graph)
			if edges > bestEdges || (edges == bestEdges && len(c.files) > len(clusters[best].files)) {
				best, bestEdges = i, edges
			}
		}
		absorb(clusters[best], small)
	}
}

func (a *Analyzer) buildDomain(c *cluster, graph map[string][]string, sizes map[string]int) models.Domain {
	files := make([]string, 0, len(c.files))
	for f := range c.files {
		files = append(files, f)
	}
	sort.Strings(files)

	// fan-out: imports leaving the cluster; in-degree per file for key files
	fanOut := 0
	inDegree := make(map[string]int)
	for from, targets := range graph {
		for _, to := range targets {
			if c.files[from] && !c.files[to] {
				fanOut++
			}
			if c.files[to] {
				inDegree[to]++
			}
		}
	}

	totalSize := 0
	entryPoint := false
	for _, f := range files {
		totalSize += sizes[f]
		if isEntryPoint(f) {
			entryPoint = true
		}
	}
	avgSize := 0
	if len(files) > 0 {
		avgSize = totalSize / len(files)
	}

	score := complexityScore(len(files), avgSize, fanOut)

	return models.Domain{
		Name:            c.name,
		Files:           files,
		KeyFiles:        keyFiles(files, inDegree, sizes),
		Complexity:      ratingFor(score),
		ComplexityScore: score,
		ImportFanOut:    fanOut,
		HasEntryPoint:   entryPoint,
	}
}

// complexityScore blends file count, average file size, and import fan-out
// into a single comparable number.
func complexityScore(fileCount, avgSize, fanOut int) float64 {
	score := float64(fileCount) * 1.0
	score += float64(avgSize) / 1000.0
	score += float64(fanOut) * 1.5
	return score
}

func ratingFor(score float64) models.ComplexityRating {
	switch {
	case score < 8:
		return models.ComplexityBeginner
	case score < 25:
		return models.ComplexityIntermediate
	default:
		return models.ComplexityAdvanced
	}
}

// keyFiles picks the cluster's most-imported files, falling back to the
// largest, capped at five.
func keyFiles(files []string, inDegree map[string]int, sizes map[string]int) []string {
	ranked := make([]string, len(files))
	copy(ranked, files)

	sort.SliceStable(ranked, func(i, j int) bool {
		if inDegree[ranked[i]] != inDegree[ranked[j]] {
			return inDegree[ranked[i]] > inDegree[ranked[j]]
		}
		return sizes[ranked[i]] > sizes[ranked[j]]
	})

	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	return ranked
}

// orderDomains assigns the recommended learning order: simpler domains first,
// entry-point domains (application wiring) last among equals.
func orderDomains(domains []models.Domain) {
	sort.SliceStable(domains, func(i, j int) bool {
		if domains[i].HasEntryPoint != domains[j].HasEntryPoint {
			return !domains[i].HasEntryPoint
		}
		if domains[i].ComplexityScore != domains[j].ComplexityScore {
			return domains[i].ComplexityScore < domains[j].ComplexityScore
		}
		return domains[i].Name < domains[j].Name
	})
	for i := range domains {
		domains[i].Order = i
	}
}

// attachRepresentatives asks the retrieval engine for fragments that best
// summarize each domain. An empty or failing index degrades silently.
func (a *Analyzer) attachRepresentatives(ctx context.Context, repositoryID string, domains []models.Domain) {
	for i := range domains {
		query := domains[i].Name + " " + strings.Join(domains[i].KeyFiles, " ")
		matches, err := a.retriever.Query(ctx, repositoryID, query, 3)
		if err != nil {
			log.Debug().Str("domain", domains[i].Name).Err(err).
				Msg("representative fragment lookup skipped")
			continue
		}
		for _, m := range matches {
			domains[i].RepresentativeFragments = append(domains[i].RepresentativeFragments, m.Fragment.ID)
		}
	}
}

func topLevelDir(filePath string) string {
	idx := strings.IndexByte(filePath, '/')
	if idx == -1 {
		return "core"
	}
	return filePath[:idx]
}

func crossEdges(a, b *cluster, graph map[string][]string) int {
	edges := 0
	for from, targets := range graph {
		for _, to := range targets {
			if (a.files[from] && b.files[to]) || (b.files[from] && a.files[to]) {
				edges++
			}
		}
	}
	return edges
}

func absorb(dst, src *cluster) {
	for f := range src.files {
		dst.files[f] = true
	}
	// keep the larger side's name unless it was the synthetic root bucket
	if dst.name == "core" && src.name != "core" && len(src.files) > len(dst.files)/2 {
		dst.name = src.name
	}
}
