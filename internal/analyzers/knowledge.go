package analyzers

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

//go:embed data/knowledge.yaml
var defaultKnowledge []byte

const (
	minSimilarity     = 0.3
	maxSimilar        = 5
	maxRecommended    = 3
	confidenceSamples = 3
)

// HistoricalIncident is a resolved incident kept for reference.
type HistoricalIncident struct {
	ID        string   `yaml:"id"`
	Service   string   `yaml:"service"`
	Anomaly   string   `yaml:"anomaly"`
	RootCause string   `yaml:"root_cause"`
	Solution  string   `yaml:"solution"`
	Keywords  []string `yaml:"keywords"`
}

type knowledgeFile struct {
	Incidents []HistoricalIncident `yaml:"incidents"`
}

// KnowledgeBase ranks historical incidents by keyword overlap.
type KnowledgeBase struct {
	incidents []HistoricalIncident
}

// LoadKnowledgeBase reads incidents from path, or the built-in set when path
// is empty.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data := defaultKnowledge
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, utils.NewAppError("analyzers.LoadKnowledgeBase", "read knowledge base", err)
		}
		data = raw
	}
	return ParseKnowledgeBase(data)
}

// ParseKnowledgeBase decodes a YAML incident list.
func ParseKnowledgeBase(data []byte) (*KnowledgeBase, error) {
	var file knowledgeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, utils.NewAppError("analyzers.ParseKnowledgeBase", "decode knowledge base", err)
	}
	for i, inc := range file.Incidents {
		if inc.ID == "" || len(inc.Keywords) == 0 {
			return nil, utils.NewAppError("analyzers.ParseKnowledgeBase",
				fmt.Sprintf("incident %d needs an id and keywords", i), nil)
		}
		for j, kw := range inc.Keywords {
			file.Incidents[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	return &KnowledgeBase{incidents: file.Incidents}, nil
}

// Len returns the number of incidents loaded.
func (kb *KnowledgeBase) Len() int {
	return len(kb.incidents)
}

// Search ranks incidents similar to the current one. Similarity is the share
// of an incident's keywords found in the service, description and anomaly
// types.
func (kb *KnowledgeBase) Search(ctx context.Context, service, description string, anomalies []models.Anomaly) (models.KnowledgeResult, error) {
	if err := ctx.Err(); err != nil {
		return models.KnowledgeResult{}, err
	}

	terms := tokenize(description)
	terms[strings.ToLower(service)] = true
	for _, a := range anomalies {
		for term := range tokenize(strings.ReplaceAll(a.Type, "_", " ")) {
			terms[term] = true
		}
	}

	var matches []models.SimilarIncident
	for _, inc := range kb.incidents {
		var matched []string
		for _, kw := range inc.Keywords {
			if terms[kw] {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		score := round2(float64(len(matched)) / float64(len(inc.Keywords)))
		if score <= minSimilarity {
			continue
		}
		matches = append(matches, models.SimilarIncident{
			IncidentID:      inc.ID,
			Service:         inc.Service,
			SimilarityScore: score,
			RootCause:       inc.RootCause,
			Solution:        inc.Solution,
			KeywordsMatched: matched,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].SimilarityScore > matches[j].SimilarityScore
	})
	if len(matches) > maxSimilar {
		matches = matches[:maxSimilar]
	}

	result := models.KnowledgeResult{
		Matches:      matches,
		TotalMatches: len(matches),
	}
	var sum float64
	for i, m := range matches {
		if i < maxRecommended && !contains(result.RecommendedSolutions, m.Solution) {
			result.RecommendedSolutions = append(result.RecommendedSolutions, m.Solution)
		}
		if i < confidenceSamples {
			sum += m.SimilarityScore
		}
	}
	if n := min(len(matches), confidenceSamples); n > 0 {
		result.Confidence = round2(sum / float64(n))
	}
	return result, nil
}

func tokenize(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word != "" {
			terms[word] = true
		}
	}
	return terms
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
